package relation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"strata/internal/kv"
	"strata/internal/kv/memkv"
	"strata/internal/value"
)

func newTestRelation(t *testing.T) (*StoredRelation, *memkv.Storage) {
	t.Helper()
	schema, err := NewRelationSchema(
		"friends",
		[]ColumnDef{{Name: "fr", Type: value.ColumnType{Tag: value.TInt}}},
		[]ColumnDef{{Name: "to", Type: value.ColumnType{Tag: value.TInt}}},
		Normal,
		TriggerSet{},
	)
	require.NoError(t, err)
	return New(schema, 7), memkv.New()
}

func TestPutGetRmRoundTrip(t *testing.T) {
	ctx := context.Background()
	rel, storage := newTestRelation(t)

	tx, err := storage.BeginTx(ctx, true)
	require.NoError(t, err)
	require.NoError(t, rel.Put(ctx, tx, value.Tuple{value.Int(1)}, value.Tuple{value.Int(2)}, nil))
	require.NoError(t, tx.Commit(ctx))

	ro, err := storage.BeginTx(ctx, false)
	require.NoError(t, err)
	nonKey, ok, err := rel.get(ctx, ro, value.Tuple{value.Int(1)}, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.Tuple{value.Int(2)}, nonKey)

	rw, err := storage.BeginTx(ctx, true)
	require.NoError(t, err)
	require.NoError(t, rel.Rm(ctx, rw, value.Tuple{value.Int(1)}, nil))
	require.NoError(t, rw.Commit(ctx))

	ro2, err := storage.BeginTx(ctx, false)
	require.NoError(t, err)
	exists, err := rel.Exists(ctx, ro2, value.Tuple{value.Int(1)})
	require.NoError(t, err)
	require.False(t, exists)
}

func TestScanAllOrdersByKey(t *testing.T) {
	ctx := context.Background()
	rel, storage := newTestRelation(t)

	tx, err := storage.BeginTx(ctx, true)
	require.NoError(t, err)
	for _, k := range []int64{3, 1, 2} {
		require.NoError(t, rel.Put(ctx, tx, value.Tuple{value.Int(k)}, value.Tuple{value.Int(k * 10)}, nil))
	}
	require.NoError(t, tx.Commit(ctx))

	ro, err := storage.BeginTx(ctx, false)
	require.NoError(t, err)
	it, err := rel.ScanAll(ctx, ro)
	require.NoError(t, err)
	var keys []int64
	for {
		k, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		keys = append(keys, int64(k[0].(value.Num).I))
	}
	require.Equal(t, []int64{1, 2, 3}, keys)
}

type triggerRunnerStub struct{ calls []string }

func (r *triggerRunnerStub) RunTrigger(ctx context.Context, tx kv.StoreTx, program string, newRows, oldRows []value.Tuple) error {
	r.calls = append(r.calls, program)
	return nil
}

func TestReplaceFiresOnReplaceTrigger(t *testing.T) {
	ctx := context.Background()
	schema, err := NewRelationSchema(
		"counters",
		[]ColumnDef{{Name: "k", Type: value.ColumnType{Tag: value.TInt}}},
		[]ColumnDef{{Name: "v", Type: value.ColumnType{Tag: value.TInt}}},
		Normal,
		TriggerSet{OnReplace: []string{"log_replace"}},
	)
	require.NoError(t, err)
	rel := New(schema, 9)
	storage := memkv.New()

	tx, err := storage.BeginTx(ctx, true)
	require.NoError(t, err)
	require.NoError(t, rel.Put(ctx, tx, value.Tuple{value.Int(1)}, value.Tuple{value.Int(100)}, nil))
	require.NoError(t, tx.Commit(ctx))

	runner := &triggerRunnerStub{}
	tx2, err := storage.BeginTx(ctx, true)
	require.NoError(t, err)
	require.NoError(t, rel.Replace(ctx, tx2, value.Tuple{value.Int(1)}, value.Tuple{value.Int(200)}, runner))
	require.NoError(t, tx2.Commit(ctx))

	require.Equal(t, []string{"log_replace"}, runner.calls)
}

func TestSkipScanPrefixTimeTravel(t *testing.T) {
	ctx := context.Background()
	schema, err := NewRelationSchema(
		"tt",
		[]ColumnDef{
			{Name: "k", Type: value.ColumnType{Tag: value.TInt}},
			{Name: "vld", Type: value.ColumnType{Tag: value.TValidity}},
		},
		nil,
		Normal,
		TriggerSet{},
	)
	require.NoError(t, err)
	rel := New(schema, 11)
	storage := memkv.New()

	tx, err := storage.BeginTx(ctx, true)
	require.NoError(t, err)
	require.NoError(t, rel.Put(ctx, tx, value.Tuple{value.Int(1), value.Validity{TimestampUs: 0, IsAssert: true}}, nil, nil))
	require.NoError(t, rel.Put(ctx, tx, value.Tuple{value.Int(1), value.Validity{TimestampUs: 1, IsAssert: true}}, nil, nil))
	require.NoError(t, tx.Commit(ctx))

	ro, err := storage.BeginTx(ctx, false)
	require.NoError(t, err)
	it, err := rel.SkipScanPrefix(ctx, ro, nil, 0)
	require.NoError(t, err)
	key, _, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), key[1].(value.Validity).TimestampUs)

	it2, err := rel.SkipScanPrefix(ctx, ro, nil, 1)
	require.NoError(t, err)
	key2, _, ok2, err := it2.Next()
	require.NoError(t, err)
	require.True(t, ok2)
	require.Equal(t, int64(1), key2[1].(value.Validity).TimestampUs)
}
