package aggr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strata/internal/value"
)

func TestMeetMinMaxIdempotentAndMonotone(t *testing.T) {
	min, _ := LookupMeet("min")
	st, err := min.Init(nil)
	require.NoError(t, err)

	st, changed, err := min.Update(st, value.Int(5))
	require.NoError(t, err)
	require.True(t, changed)

	st, changed, err = min.Update(st, value.Int(9))
	require.NoError(t, err)
	require.False(t, changed, "9 is not smaller than 5, min must not move")
	require.Equal(t, value.Int(5), st.Value())

	st, changed, err = min.Update(st, value.Int(5))
	require.NoError(t, err)
	require.False(t, changed, "updating with the same value must be idempotent")
}

func TestMeetUnionAccumulates(t *testing.T) {
	union, _ := LookupMeet("union")
	st, err := union.Init(nil)
	require.NoError(t, err)

	st, _, err = union.Update(st, value.NewSet([]value.Value{value.Int(1), value.Int(2)}))
	require.NoError(t, err)
	st, changed, err := union.Update(st, value.NewSet([]value.Value{value.Int(2), value.Int(3)}))
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, value.NewSet([]value.Value{value.Int(1), value.Int(2), value.Int(3)}), st.Value())
}

func TestMeetShortestPrefersShorterThenLexicographic(t *testing.T) {
	shortest, _ := LookupMeet("shortest")
	st, err := shortest.Init(nil)
	require.NoError(t, err)

	st, _, err = shortest.Update(st, value.List{value.Int(1), value.Int(2), value.Int(3)})
	require.NoError(t, err)
	st, changed, err := shortest.Update(st, value.List{value.Int(9), value.Int(9)})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, value.List{value.Int(9), value.Int(9)}, st.Value())

	st, changed, err = shortest.Update(st, value.List{value.Int(10), value.Int(10)})
	require.NoError(t, err)
	require.False(t, changed, "same length, lexicographically larger must not win")
	require.Equal(t, value.List{value.Int(9), value.Int(9)}, st.Value())
}

func TestMeetChoiceKeepsFirst(t *testing.T) {
	choice, _ := LookupMeet("choice")
	st, err := choice.Init(nil)
	require.NoError(t, err)

	st, changed, err := choice.Update(st, value.String("first"))
	require.NoError(t, err)
	require.True(t, changed)

	st, changed, err = choice.Update(st, value.String("second"))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, value.String("first"), st.Value())
}

func TestNormalMeanAndVariance(t *testing.T) {
	mean, _ := LookupNormal("mean")
	ms, err := mean.Init(nil)
	require.NoError(t, err)
	mst := ms.(*meanState)
	for _, v := range []int64{2, 4, 6, 8} {
		require.NoError(t, mst.Set(value.Int(v)))
	}
	got, err := mst.Get()
	require.NoError(t, err)
	require.Equal(t, value.Float(5), got)

	variance, _ := LookupNormal("variance")
	vs, _ := variance.Init(nil)
	vst := vs.(*varianceState)
	for _, v := range []int64{2, 4, 4, 4, 5, 5, 7, 9} {
		require.NoError(t, vst.Set(value.Int(v)))
	}
	got, err = vst.Get()
	require.NoError(t, err)
	require.InDelta(t, 4.0, got.(value.Num).F, 1e-9)
}

func TestNormalCountUniqueAndCollect(t *testing.T) {
	cu, _ := LookupNormal("count_unique")
	cus := cu.(*countUniqueAggr)
	_ = cus
	st, err := cu.Init(nil)
	require.NoError(t, err)
	cuSt := st.(*countUniqueState)
	for _, v := range []value.Value{value.Int(1), value.Int(2), value.Int(1), value.Int(3)} {
		require.NoError(t, cuSt.Set(v))
	}
	require.Equal(t, value.Int(3), cuSt.Value())

	collect, _ := LookupNormal("collect")
	cst := mustNormalState(t, collect)
	require.NoError(t, cst.Set(value.Int(1)))
	require.NoError(t, cst.Set(value.Int(2)))
	got, err := cst.Get()
	require.NoError(t, err)
	require.Equal(t, value.List{value.Int(1), value.Int(2)}, got)
}

func TestNormalLatestBy(t *testing.T) {
	latest, _ := LookupNormal("latest_by")
	st := mustNormalState(t, latest)
	require.NoError(t, st.Set(value.List{value.Int(1), value.String("old")}))
	require.NoError(t, st.Set(value.List{value.Int(5), value.String("new")}))
	require.NoError(t, st.Set(value.List{value.Int(3), value.String("stale")}))
	got, err := st.Get()
	require.NoError(t, err)
	require.Equal(t, value.String("new"), got)
}

func mustNormalState(t *testing.T, a NormalAggr) NormalState {
	t.Helper()
	st, err := a.Init(nil)
	require.NoError(t, err)
	ns, ok := st.(NormalState)
	require.True(t, ok, "expected a NormalState")
	return ns
}

func TestIsMeetDistinguishesCatalogs(t *testing.T) {
	require.True(t, IsMeet("min"))
	require.False(t, IsMeet("mean"))
}
