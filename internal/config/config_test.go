package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullDocument(t *testing.T) {
	doc := `
[engine]
worker_pool_size = 8
default_query_limit = 1000
poison_check_every = 2048
`
	opts, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 8, opts.WorkerPoolSize)
	assert.Equal(t, int64(1000), opts.DefaultQueryLimit)
	assert.Equal(t, uint64(2048), opts.PoisonCheckEvery)
}

func TestParseEmptyDocumentKeepsDefaults(t *testing.T) {
	opts, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), opts)
}

func TestParsePartialDocumentKeepsUnsetDefaults(t *testing.T) {
	opts, err := Parse(strings.NewReader("[engine]\nworker_pool_size = 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, opts.WorkerPoolSize)
	assert.Equal(t, int64(-1), opts.DefaultQueryLimit)
	assert.Equal(t, uint64(4096), opts.PoisonCheckEvery)
}

func TestParseMalformedDocumentErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("not valid toml [[["))
	require.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/no/such/file.toml")
	require.Error(t, err)
}

func TestEvalOptionsCarriesCadenceAndConcurrency(t *testing.T) {
	opts := EngineOptions{WorkerPoolSize: 3, PoisonCheckEvery: 512}
	evalOpts := opts.EvalOptions()
	assert.Equal(t, 3, evalOpts.MaxConcurrency)
	require.NotNil(t, evalOpts.Poison)
	assert.Equal(t, uint64(512), evalOpts.Poison.Cadence())
}
