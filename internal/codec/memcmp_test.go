package codec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"strata/internal/value"
)

func roundTrip(t *testing.T, v value.Value) value.Value {
	t.Helper()
	buf := EncodeValue(nil, v)
	got, n, err := DecodeValue(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	return got
}

func TestRoundTrip(t *testing.T) {
	samples := []value.Value{
		value.Null{},
		value.Bool(true),
		value.Bool(false),
		value.Int(42),
		value.Int(-42),
		value.Float(3.14),
		value.String(""),
		value.String("hello world, this is longer than one chunk of eight bytes"),
		value.Bytes{0, 1, 2, 255},
		value.List{value.Int(1), value.String("x")},
		value.List{value.Null{}, value.Int(5)},
		value.NewSet([]value.Value{value.Int(3), value.Int(1)}),
		value.NewSet([]value.Value{value.Null{}, value.Int(1)}),
		value.Validity{TimestampUs: 12345, IsAssert: true},
		value.Validity{TimestampUs: 12345, IsAssert: false},
		value.Vec{Kind: value.VecF64, F64: []float64{1.5, -2.5}},
		value.Bot{},
	}
	for _, v := range samples {
		got := roundTrip(t, v)
		require.Equal(t, 0, value.Compare(v, got), "round trip mismatch for %v -> %v", v, got)
	}
}

func TestEncodedOrderMatchesValueOrder(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	gen := func() value.Value {
		switch rnd.Intn(6) {
		case 0:
			return value.Int(rnd.Int63n(2000) - 1000)
		case 1:
			return value.Float(rnd.Float64()*2000 - 1000)
		case 2:
			n := rnd.Intn(12)
			b := make([]byte, n)
			rnd.Read(b)
			return value.String(string(b))
		case 3:
			return value.Bool(rnd.Intn(2) == 0)
		case 4:
			return value.Null{}
		default:
			return value.Bytes([]byte{byte(rnd.Intn(256)), byte(rnd.Intn(256))})
		}
	}
	for i := 0; i < 500; i++ {
		a, b := gen(), gen()
		wantSign := sign(value.Compare(a, b))
		gotSign := sign(CompareEncoded(EncodeValue(nil, a), EncodeValue(nil, b)))
		require.Equal(t, wantSign, gotSign, "a=%v b=%v", a, b)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestPrefixScanSoundness(t *testing.T) {
	prefix := value.Tuple{value.String("a"), value.Int(1)}
	ext := value.Tuple{value.String("a"), value.Int(1), value.String("tail")}

	lo := EncodeTuple(prefix)
	hi := PrefixUpperBound(lo)
	mid := EncodeTuple(ext)

	require.True(t, CompareEncoded(lo, mid) <= 0)
	require.True(t, CompareEncoded(mid, hi) < 0)
}

func TestTupleEncodeOrdersLikeCompareTuples(t *testing.T) {
	a := value.Tuple{value.String("x"), value.Int(1)}
	b := value.Tuple{value.String("x"), value.Int(2)}
	require.Equal(t, sign(value.CompareTuples(a, b)), sign(CompareEncoded(EncodeTuple(a), EncodeTuple(b))))
}

// TestListWithLeadingNullDoesNotTruncate guards against the terminator
// byte colliding with a real Null element's own tag: a List/Set whose
// first element is Null must not be mistaken for an empty list, and the
// bytes after it in a larger tuple must still decode correctly.
func TestListWithLeadingNullDoesNotTruncate(t *testing.T) {
	list := value.List{value.Null{}, value.Int(5)}
	got := roundTrip(t, list)
	require.Equal(t, 0, value.Compare(list, got))
	gotList, ok := got.(value.List)
	require.True(t, ok)
	require.Len(t, gotList, 2)

	tup := value.Tuple{list, value.String("tail")}
	buf := EncodeTuple(tup)
	decoded, err := DecodeTuple(buf)
	require.NoError(t, err)
	require.Equal(t, 0, value.CompareTuples(tup, decoded))
}

func TestDecodeTupleRoundTrips(t *testing.T) {
	tup := value.Tuple{value.String("x"), value.Int(7), value.Bool(true)}
	buf := EncodeTuple(tup)
	got, err := DecodeTuple(buf)
	require.NoError(t, err)
	require.Equal(t, 0, value.CompareTuples(tup, got))
}
