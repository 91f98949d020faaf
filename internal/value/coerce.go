package value

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"strata/internal/errs"
)

// TypeTag enumerates the column type categories from spec.md §3.
type TypeTag uint8

const (
	TAny TypeTag = iota
	TBool
	TInt
	TFloat
	TString
	TBytes
	TUUID
	TValidity
	TJSON
	TList
	TVec
	TTuple
)

// ColumnType describes the declared type of a relation column.
type ColumnType struct {
	Tag      TypeTag
	Nullable bool
	Elem     *ColumnType // for TList
	Len      *int        // for TList (fixed length) / TVec (arity)
	VecKind  VecKind      // for TVec
	Tuple    []ColumnType // for TTuple
}

// Coerce converts v to conform to t, applying every rule from spec.md §3:
// Null iff nullable; Bytes accepts base64 strings; Vec accepts a list of
// numbers or a base64-packed little-endian buffer; Validity accepts a
// [timestamp_us, is_assert] list, a "~"-prefixed RFC3339 string (flips
// assertion to retract), or the literals "ASSERT"/"RETRACT".
func Coerce(v Value, t ColumnType) (Value, error) {
	if _, isNull := v.(Null); isNull {
		if t.Nullable {
			return Null{}, nil
		}
		return nil, errs.New(errs.Type, "column is not nullable but got null")
	}
	switch t.Tag {
	case TAny:
		return v, nil
	case TBool:
		if b, ok := v.(Bool); ok {
			return b, nil
		}
		return nil, typeErr(v, "bool")
	case TInt:
		if n, ok := v.(Num); ok {
			if n.IsFloat {
				if n.F != math.Trunc(n.F) {
					return nil, typeErr(v, "int")
				}
				return Int(int64(n.F)), nil
			}
			return n, nil
		}
		return nil, typeErr(v, "int")
	case TFloat:
		if n, ok := v.(Num); ok {
			return Float(n.AsFloat()), nil
		}
		return nil, typeErr(v, "float")
	case TString:
		if s, ok := v.(String); ok {
			return s, nil
		}
		return nil, typeErr(v, "string")
	case TBytes:
		switch x := v.(type) {
		case Bytes:
			return x, nil
		case String:
			b, err := base64.StdEncoding.DecodeString(string(x))
			if err != nil {
				return nil, errs.Wrap(errs.Type, err, "invalid base64 for bytes column")
			}
			return Bytes(b), nil
		}
		return nil, typeErr(v, "bytes")
	case TUUID:
		switch x := v.(type) {
		case UUID:
			return x, nil
		case String:
			u, err := uuid.Parse(string(x))
			if err != nil {
				return nil, errs.Wrap(errs.Type, err, "invalid uuid string")
			}
			return UUID(u), nil
		}
		return nil, typeErr(v, "uuid")
	case TValidity:
		return coerceValidity(v)
	case TJSON:
		if j, ok := v.(JSON); ok {
			return j, nil
		}
		return JSON{Data: valueToPlain(v)}, nil
	case TList:
		l, ok := v.(List)
		if !ok {
			return nil, typeErr(v, "list")
		}
		if t.Len != nil && len(l) != *t.Len {
			return nil, errs.New(errs.Schema, "list length %d does not match declared length %d", len(l), *t.Len)
		}
		if t.Elem == nil {
			return l, nil
		}
		out := make(List, len(l))
		for i, el := range l {
			cv, err := Coerce(el, *t.Elem)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case TVec:
		return coerceVec(v, t)
	case TTuple:
		l, ok := v.(List)
		if !ok || len(l) != len(t.Tuple) {
			return nil, typeErr(v, "tuple")
		}
		out := make(List, len(l))
		for i, el := range l {
			cv, err := Coerce(el, t.Tuple[i])
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		return nil, errs.New(errs.Type, "unknown column type tag %d", t.Tag)
	}
}

func typeErr(v Value, want string) error {
	return errs.New(errs.Type, "expected %s, got %s", want, v.Kind())
}

func coerceValidity(v Value) (Value, error) {
	switch x := v.(type) {
	case Validity:
		return x, nil
	case List:
		if len(x) != 2 {
			return nil, errs.New(errs.Type, "validity list must be [timestamp_us, is_assert]")
		}
		ts, ok := x[0].(Num)
		if !ok {
			return nil, errs.New(errs.Type, "validity timestamp must be numeric")
		}
		b, ok := x[1].(Bool)
		if !ok {
			return nil, errs.New(errs.Type, "validity is_assert must be bool")
		}
		return Validity{TimestampUs: int64(ts.AsFloat()), IsAssert: bool(b)}, nil
	case String:
		s := string(x)
		switch s {
		case "ASSERT":
			return Validity{TimestampUs: time.Now().UnixMicro(), IsAssert: true}, nil
		case "RETRACT":
			return Validity{TimestampUs: time.Now().UnixMicro(), IsAssert: false}, nil
		}
		isAssert := true
		if strings.HasPrefix(s, "~") {
			isAssert = false
			s = s[1:]
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, errs.Wrap(errs.Type, err, "invalid validity timestamp %q", s)
		}
		return Validity{TimestampUs: t.UnixMicro(), IsAssert: isAssert}, nil
	}
	return nil, typeErr(v, "validity")
}

func coerceVec(v Value, t ColumnType) (Value, error) {
	arity := 0
	if t.Len != nil {
		arity = *t.Len
	}
	switch x := v.(type) {
	case Vec:
		if x.Kind != t.VecKind {
			return nil, errs.New(errs.Type, "vector kind mismatch")
		}
		if arity != 0 && x.Len() != arity {
			return nil, errs.New(errs.Schema, "vector arity %d does not match declared arity %d", x.Len(), arity)
		}
		return x, nil
	case List:
		if arity != 0 && len(x) != arity {
			return nil, errs.New(errs.Schema, "vector arity %d does not match declared arity %d", len(x), arity)
		}
		if t.VecKind == VecF32 {
			out := make([]float32, len(x))
			for i, el := range x {
				n, ok := el.(Num)
				if !ok {
					return nil, typeErr(el, "number")
				}
				out[i] = float32(n.AsFloat())
			}
			return Vec{Kind: VecF32, F32: out}, nil
		}
		out := make([]float64, len(x))
		for i, el := range x {
			n, ok := el.(Num)
			if !ok {
				return nil, typeErr(el, "number")
			}
			out[i] = n.AsFloat()
		}
		return Vec{Kind: VecF64, F64: out}, nil
	case String:
		raw, err := base64.StdEncoding.DecodeString(string(x))
		if err != nil {
			return nil, errs.Wrap(errs.Type, err, "invalid base64 for vector column")
		}
		if t.VecKind == VecF32 {
			n := len(raw) / 4
			out := make([]float32, n)
			for i := 0; i < n; i++ {
				bits := binary.LittleEndian.Uint32(raw[i*4:])
				out[i] = math.Float32frombits(bits)
			}
			return Vec{Kind: VecF32, F32: out}, nil
		}
		n := len(raw) / 8
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint64(raw[i*8:])
			out[i] = math.Float64frombits(bits)
		}
		return Vec{Kind: VecF64, F64: out}, nil
	}
	return nil, typeErr(v, "vector")
}

func valueToPlain(v Value) any {
	switch x := v.(type) {
	case Null:
		return nil
	case Bool:
		return bool(x)
	case Num:
		if x.IsFloat {
			return x.F
		}
		return x.I
	case String:
		return string(x)
	case List:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = valueToPlain(el)
		}
		return out
	default:
		return x.String()
	}
}

// ParseIntLiteral is a small helper that turns a textual integer into a
// Num without pulling in a parser dependency.
func ParseIntLiteral(s string) (Num, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Num{}, errs.Wrap(errs.Type, err, "invalid integer literal %q", s)
	}
	return Int(i), nil
}
