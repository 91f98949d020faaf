// Package value implements the engine's tagged-union runtime Value and its
// total order. Every Value is immutable once constructed.
package value

import (
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"sort"

	"strata/internal/errs"
)

// Kind discriminates the Value variants. Order here mirrors the value
// order from the spec (Null < Bool < Vec < Num < String < Bytes < Uuid <
// Regex < List < Set < Validity < Json < Bot), so a bare Kind comparison
// is most of Compare's job.
type Kind uint8

const (
	KindNull Kind = iota
	KindBoolFalse
	KindBoolTrue
	KindVec
	KindNum
	KindString
	KindBytes
	KindUUID
	KindRegex
	KindList
	KindSet
	KindValidity
	KindJSON
	KindBot
	KindGuard // sentinel below any real value; reserved for aggregation key holes.
)

// Value is the sum type described in spec.md §3. All variants implement it.
type Value interface {
	Kind() Kind
	String() string
}

type Null struct{}

func (Null) Kind() Kind     { return KindNull }
func (Null) String() string { return "null" }

type Bool bool

func (b Bool) Kind() Kind {
	if b {
		return KindBoolTrue
	}
	return KindBoolFalse
}
func (b Bool) String() string { return fmt.Sprintf("%t", bool(b)) }

// Num holds either an exact int64 or a float64. Only one of the two is
// meaningful, selected by IsFloat.
type Num struct {
	IsFloat bool
	I       int64
	F       float64
}

func Int(i int64) Num   { return Num{I: i} }
func Float(f float64) Num { return Num{IsFloat: true, F: f} }

func (n Num) Kind() Kind { return KindNum }
func (n Num) String() string {
	if n.IsFloat {
		return fmt.Sprintf("%v", n.F)
	}
	return fmt.Sprintf("%d", n.I)
}
func (n Num) AsFloat() float64 {
	if n.IsFloat {
		return n.F
	}
	return float64(n.I)
}

type String string

func (String) Kind() Kind       { return KindString }
func (s String) String() string { return string(s) }

type Bytes []byte

func (Bytes) Kind() Kind       { return KindBytes }
func (b Bytes) String() string { return base64.StdEncoding.EncodeToString(b) }

type UUID [16]byte

func (UUID) Kind() Kind { return KindUUID }
func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

// Regex carries both the compiled matcher and its source text, since the
// source is what gets compared/encoded (two regexes with identical source
// are equal; the compiled form is not comparable).
type Regex struct {
	Source  string
	Pattern *regexp.Regexp
}

func (Regex) Kind() Kind       { return KindRegex }
func (r Regex) String() string { return r.Source }

func NewRegex(src string) (Regex, error) {
	p, err := regexp.Compile(src)
	if err != nil {
		return Regex{}, errs.Wrap(errs.Type, err, "invalid regex %q", src)
	}
	return Regex{Source: src, Pattern: p}, nil
}

type List []Value

func (List) Kind() Kind { return KindList }
func (l List) String() string {
	s := "["
	for i, v := range l {
		if i > 0 {
			s += ","
		}
		s += v.String()
	}
	return s + "]"
}

// Set is an ordered, deduplicated sequence of Values. NewSet sorts and
// dedupes its input; callers must not construct Set literals directly.
type Set []Value

func NewSet(vs []Value) Set {
	cp := append([]Value(nil), vs...)
	sort.Slice(cp, func(i, j int) bool { return Compare(cp[i], cp[j]) < 0 })
	out := cp[:0]
	for i, v := range cp {
		if i == 0 || Compare(out[len(out)-1], v) != 0 {
			out = append(out, v)
		}
	}
	return Set(out)
}

func (Set) Kind() Kind { return KindSet }
func (s Set) String() string {
	str := "#["
	for i, v := range s {
		if i > 0 {
			str += ","
		}
		str += v.String()
	}
	return str + "]"
}

// JSON wraps arbitrary decoded JSON data (map[string]any, []any, string,
// float64, bool, nil).
type JSON struct{ Data any }

func (JSON) Kind() Kind       { return KindJSON }
func (j JSON) String() string { return fmt.Sprintf("%v", j.Data) }

// VecKind selects the element width of a fixed-width vector.
type VecKind uint8

const (
	VecF32 VecKind = iota
	VecF64
)

// Vec is a fixed-width numeric vector (embedding-style column).
type Vec struct {
	Kind VecKind
	F32  []float32
	F64  []float64
}

func (Vec) Kind() Kind { return KindVec }
func (v Vec) Len() int {
	if v.Kind == VecF32 {
		return len(v.F32)
	}
	return len(v.F64)
}
func (v Vec) String() string { return fmt.Sprintf("vec(%d)", v.Len()) }

// Validity is a (timestamp, is_assert) pair used for time-travel tables.
// Order is reversed timestamp then reversed assertion, so more recent
// assertions sort first.
type Validity struct {
	TimestampUs int64
	IsAssert    bool
}

func (Validity) Kind() Kind { return KindValidity }
func (v Validity) String() string {
	if v.IsAssert {
		return fmt.Sprintf("assert@%d", v.TimestampUs)
	}
	return fmt.Sprintf("retract@%d", v.TimestampUs)
}

// Bot is a sentinel strictly greater than any real Value; used as an
// exclusive upper bound for prefix scans.
type Bot struct{}

func (Bot) Kind() Kind       { return KindBot }
func (Bot) String() string   { return "<bot>" }

// Guard is a sentinel strictly less than any real Value; used to leave
// holes in aggregation keys (see internal/memrel).
type Guard struct{}

func (Guard) Kind() Kind     { return KindGuard }
func (Guard) String() string { return "<guard>" }

// Compare gives the total order over Value described in spec.md §3.
// NaN compares as the smallest float (total, not IEEE, order).
func Compare(a, b Value) int {
	ka, kb := a.Kind(), b.Kind()
	// Guard sorts below everything including Null; Bot sorts above everything.
	if ka == KindGuard && kb == KindGuard {
		return 0
	}
	if ka == KindGuard {
		return -1
	}
	if kb == KindGuard {
		return 1
	}
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}
	switch ka {
	case KindNull, KindBoolFalse, KindBoolTrue, KindBot:
		return 0
	case KindNum:
		return compareNum(a.(Num), b.(Num))
	case KindString:
		return compareOrdered(string(a.(String)), string(b.(String)))
	case KindBytes:
		return compareBytes(a.(Bytes), b.(Bytes))
	case KindUUID:
		au, bu := a.(UUID), b.(UUID)
		return compareBytes(au[:], bu[:])
	case KindRegex:
		return compareOrdered(a.(Regex).Source, b.(Regex).Source)
	case KindList:
		return compareSeq(a.(List), b.(List))
	case KindSet:
		return compareSeq([]Value(a.(Set)), []Value(b.(Set)))
	case KindValidity:
		av, bv := a.(Validity), b.(Validity)
		if av.TimestampUs != bv.TimestampUs {
			// reversed: larger timestamp sorts first
			if av.TimestampUs > bv.TimestampUs {
				return -1
			}
			return 1
		}
		if av.IsAssert == bv.IsAssert {
			return 0
		}
		if av.IsAssert {
			return -1
		}
		return 1
	case KindJSON:
		return compareOrdered(fmt.Sprintf("%v", a.(JSON).Data), fmt.Sprintf("%v", b.(JSON).Data))
	case KindVec:
		return compareVec(a.(Vec), b.(Vec))
	default:
		return 0
	}
}

func Equal(a, b Value) bool { return Compare(a, b) == 0 }

func compareOrdered[T ~string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// compareNum implements the discriminator scheme from spec.md §4.1: the
// leading comparison is by float value (NaN treated as smaller than every
// other float, -Inf included, giving a total order), with an
// exact-int / approximate-int / float tiebreak when the float values tie.
func compareNum(a, b Num) int {
	af, bf := a.AsFloat(), b.AsFloat()
	if c := totalFloatCompare(af, bf); c != 0 {
		return c
	}
	ad, bd := numDiscriminator(a), numDiscriminator(b)
	switch {
	case ad < bd:
		return -1
	case ad > bd:
		return 1
	}
	if !a.IsFloat && !b.IsFloat && numIsApprox(a) {
		switch {
		case a.I < b.I:
			return -1
		case a.I > b.I:
			return 1
		}
	}
	return 0
}

const exactIntBound = int64(1) << 53

func numIsApprox(n Num) bool {
	return !n.IsFloat && (n.I <= -exactIntBound || n.I >= exactIntBound)
}

// numDiscriminator orders: exact-int(0) < approximate-int(1) < float(2).
func numDiscriminator(n Num) int {
	if n.IsFloat {
		return 2
	}
	if numIsApprox(n) {
		return 1
	}
	return 0
}

func totalFloatCompare(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareSeq(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareVec(a, b Vec) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	if a.Kind == VecF32 {
		n := len(a.F32)
		if len(b.F32) < n {
			n = len(b.F32)
		}
		for i := 0; i < n; i++ {
			if c := totalFloatCompare(float64(a.F32[i]), float64(b.F32[i])); c != 0 {
				return c
			}
		}
		return compareOrdered(len(a.F32), len(b.F32))
	}
	n := len(a.F64)
	if len(b.F64) < n {
		n = len(b.F64)
	}
	for i := 0; i < n; i++ {
		if c := totalFloatCompare(a.F64[i], b.F64[i]); c != 0 {
			return c
		}
	}
	return compareOrdered(len(a.F64), len(b.F64))
}

// Tuple is an ordered sequence of Values.
type Tuple []Value

func (t Tuple) Clone() Tuple {
	cp := make(Tuple, len(t))
	copy(cp, t)
	return cp
}

// CompareTuples gives the lexicographic tuple order used by scans.
func CompareTuples(a, b Tuple) int {
	return compareSeq([]Value(a), []Value(b))
}
