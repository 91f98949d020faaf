package memrel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strata/internal/aggr"
	"strata/internal/value"
)

func TestPutExistsAcrossEpochs(t *testing.T) {
	r := New()
	row := value.Tuple{value.Int(1), value.String("a")}
	require.False(t, r.Exists(row, 0))
	r.Put(row, 0)
	require.True(t, r.Exists(row, 0))
	require.False(t, r.Exists(row, 1))
}

func TestScanAllOrdersByTuple(t *testing.T) {
	r := New()
	for _, k := range []int64{3, 1, 2} {
		r.Put(value.Tuple{value.Int(k)}, 0)
	}
	it, err := r.ScanAll(0)
	require.NoError(t, err)
	var got []int64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, int64(row[0].(value.Num).I))
	}
	require.Equal(t, []int64{1, 2, 3}, got)
}

func TestPutWithSkipFilteredByScanEarlyReturned(t *testing.T) {
	r := New()
	r.Put(value.Tuple{value.Int(1)}, 0)
	r.PutWithSkip(value.Tuple{value.Int(2)}, 0)

	all, err := r.ScanAll(0)
	require.NoError(t, err)
	var allCount int
	for {
		_, ok, err := all.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		allCount++
	}
	require.Equal(t, 2, allCount)

	require.True(t, r.Exists(value.Tuple{value.Int(2)}, 0))

	early, err := r.ScanEarlyReturned(0)
	require.NoError(t, err)
	var earlyRows []value.Tuple
	for {
		row, ok, err := early.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		earlyRows = append(earlyRows, row)
	}
	require.Len(t, earlyRows, 1)
	require.Equal(t, int64(1), earlyRows[0][0].(value.Num).I)
}

func TestAggrMeetPutAccumulatesMinAndCopiesDeltaOnChange(t *testing.T) {
	r := New()
	minAggr, ok := aggr.LookupMeet("min")
	require.True(t, ok)

	changed, err := r.AggrMeetPut(value.Tuple{value.String("g1"), value.Int(5)}, []int{1}, []aggr.MeetAggr{minAggr}, 1)
	require.NoError(t, err)
	require.True(t, changed)

	minAggr2, _ := aggr.LookupMeet("min")
	changed, err = r.AggrMeetPut(value.Tuple{value.String("g1"), value.Int(9)}, []int{1}, []aggr.MeetAggr{minAggr2}, 1)
	require.NoError(t, err)
	require.False(t, changed)

	minAggr3, _ := aggr.LookupMeet("min")
	changed, err = r.AggrMeetPut(value.Tuple{value.String("g1"), value.Int(2)}, []int{1}, []aggr.MeetAggr{minAggr3}, 1)
	require.NoError(t, err)
	require.True(t, changed)

	all, err := r.ScanAll(0)
	require.NoError(t, err)
	row, ok2, err := all.Next()
	require.NoError(t, err)
	require.True(t, ok2)
	require.Equal(t, value.String("g1"), row[0])
	require.Equal(t, int64(2), row[1].(value.Num).I)

	delta, err := r.ScanAll(1)
	require.NoError(t, err)
	var deltaCount int
	for {
		_, ok, err := delta.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		deltaCount++
	}
	require.Equal(t, 2, deltaCount)
}

type unboundedLimiter struct{}

func (unboundedLimiter) Allow() bool { return true }

func TestNormalAggrScanAndPutGroupsByNonAggregatedPrefix(t *testing.T) {
	src := New()
	src.NormalAggrPut(value.Tuple{value.String("a"), value.Int(1)}, []int{1}, 0)
	src.NormalAggrPut(value.Tuple{value.String("a"), value.Int(2)}, []int{1}, 1)
	src.NormalAggrPut(value.Tuple{value.String("b"), value.Int(10)}, []int{1}, 2)

	target := New()
	countAggr, ok := aggr.LookupNormal("count")
	require.True(t, ok)

	err := src.NormalAggrScanAndPut([]int{1}, []aggr.NormalAggr{countAggr}, target, 0, unboundedLimiter{})
	require.NoError(t, err)

	it, err := target.ScanAll(0)
	require.NoError(t, err)
	var rows []value.Tuple
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	require.Equal(t, value.String("a"), rows[0][0])
	require.Equal(t, int64(2), rows[0][1].(value.Num).I)
	require.Equal(t, value.String("b"), rows[1][0])
	require.Equal(t, int64(1), rows[1][1].(value.Num).I)
}

// TestNormalAggrScanAndPutGroupsWhenAggregatedColumnLeadsKey reproduces a
// rule head that declares its aggregated column before its key column
// (e.g. `?[sum(w), k] :- edge(k, w)`, stored here as (w, k) tuples with
// w aggregated). Grouping must still cluster by k, not by the leading
// (aggregated) column's sort order.
func TestNormalAggrScanAndPutGroupsWhenAggregatedColumnLeadsKey(t *testing.T) {
	src := New()
	// aggrIdx={0} (w is aggregated, column 0); k is column 1.
	src.NormalAggrPut(value.Tuple{value.Int(5), value.String("k1")}, []int{0}, 0)
	src.NormalAggrPut(value.Tuple{value.Int(1), value.String("k2")}, []int{0}, 1)
	src.NormalAggrPut(value.Tuple{value.Int(9), value.String("k1")}, []int{0}, 2)

	target := New()
	sumAggr, ok := aggr.LookupNormal("sum")
	require.True(t, ok)

	err := src.NormalAggrScanAndPut([]int{0}, []aggr.NormalAggr{sumAggr}, target, 0, unboundedLimiter{})
	require.NoError(t, err)

	it, err := target.ScanAll(0)
	require.NoError(t, err)
	got := map[string]float64{}
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got[string(row[1].(value.String))] = row[0].(value.Num).F
	}
	require.Equal(t, map[string]float64{"k1": 14, "k2": 1}, got)
}

// TestNormalAggrPutSerialPreservesDuplicateRows ensures two rows that are
// otherwise identical (same key and same aggregated value) both still
// contribute to the fold instead of colliding into one stored entry:
// normal aggregation folds a multiset.
func TestNormalAggrPutSerialPreservesDuplicateRows(t *testing.T) {
	src := New()
	src.NormalAggrPut(value.Tuple{value.String("k"), value.Int(1)}, []int{1}, 0)
	src.NormalAggrPut(value.Tuple{value.String("k"), value.Int(1)}, []int{1}, 1)

	target := New()
	countAggr, _ := aggr.LookupNormal("count")
	err := src.NormalAggrScanAndPut([]int{1}, []aggr.NormalAggr{countAggr}, target, 0, unboundedLimiter{})
	require.NoError(t, err)

	it, err := target.ScanAll(0)
	require.NoError(t, err)
	row, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), row[1].(value.Num).I)
}

type zeroLimiter struct{}

func (zeroLimiter) Allow() bool { return false }

func TestNormalAggrScanAndPutRespectsLimiter(t *testing.T) {
	src := New()
	src.NormalAggrPut(value.Tuple{value.String("a"), value.Int(1)}, []int{1}, 0)
	target := New()
	countAggr, _ := aggr.LookupNormal("count")

	err := src.NormalAggrScanAndPut([]int{1}, []aggr.NormalAggr{countAggr}, target, 0, zeroLimiter{})
	require.NoError(t, err)

	it, err := target.ScanAll(0)
	require.NoError(t, err)
	_, ok, err := it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
