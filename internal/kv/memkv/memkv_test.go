package memkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"strata/internal/codec"
	"strata/internal/value"
)

func TestPutGetCommitVisibility(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx1, err := s.BeginTx(ctx, true)
	require.NoError(t, err)
	require.NoError(t, tx1.Put(ctx, []byte("k1"), []byte("v1")))
	require.NoError(t, tx1.Commit(ctx))

	tx2, err := s.BeginTx(ctx, false)
	require.NoError(t, err)
	v, ok, err := tx2.Get(ctx, []byte("k1"), false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx1, err := s.BeginTx(ctx, true)
	require.NoError(t, err)
	require.NoError(t, tx1.Put(ctx, []byte("k1"), []byte("v1")))
	require.NoError(t, tx1.Rollback(ctx))

	tx2, err := s.BeginTx(ctx, false)
	require.NoError(t, err)
	_, ok, err := tx2.Get(ctx, []byte("k1"), false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRangeScanOrdersByKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.BeginTx(ctx, true)
	require.NoError(t, err)
	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, tx.Put(ctx, []byte(k), []byte(k)))
	}
	require.NoError(t, tx.Commit(ctx))

	ro, err := s.BeginTx(ctx, false)
	require.NoError(t, err)
	it, err := ro.RangeScan(ctx, nil, nil)
	require.NoError(t, err)
	var got []string
	for {
		p, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(p.Key))
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSkipScanPicksLatestAssertAtOrBeforeValidAt(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.BeginTx(ctx, true)
	require.NoError(t, err)

	putRow := func(k int64, ts int64, assert bool, payload string) {
		key := codec.EncodeTuple(value.Tuple{value.Int(k), value.Validity{TimestampUs: ts, IsAssert: assert}})
		require.NoError(t, tx.Put(ctx, key, []byte(payload)))
	}
	putRow(1, 0, true, "100")
	putRow(1, 1, true, "200")
	require.NoError(t, tx.Commit(ctx))

	ro, err := s.BeginTx(ctx, false)
	require.NoError(t, err)

	it, err := ro.RangeSkipScanTuple(ctx, nil, nil, 0)
	require.NoError(t, err)
	_, v, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "100", string(v))

	it2, err := ro.RangeSkipScanTuple(ctx, nil, nil, 1)
	require.NoError(t, err)
	_, v2, ok, err := it2.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "200", string(v2))
}

func TestSkipScanSkipsRetractedKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.BeginTx(ctx, true)
	require.NoError(t, err)
	key := codec.EncodeTuple(value.Tuple{value.Int(2), value.Validity{TimestampUs: 0, IsAssert: false}})
	require.NoError(t, tx.Put(ctx, key, []byte("x")))
	require.NoError(t, tx.Commit(ctx))

	ro, err := s.BeginTx(ctx, false)
	require.NoError(t, err)
	it, err := ro.RangeSkipScanTuple(ctx, nil, nil, 0)
	require.NoError(t, err)
	_, _, ok, err := it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
