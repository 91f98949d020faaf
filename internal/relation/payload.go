package relation

import (
	"github.com/vmihailenco/msgpack/v5"

	"strata/internal/errs"
	"strata/internal/value"
)

// wireValue is the length-prefixed MessagePack-style payload format spec.md
// §4.1 calls for on non-key columns (memcmp ordering is only needed for
// keys). Each field is tagged by Kind so decoding needs no external schema
// hint, matching EncodeValue/DecodeValue's self-describing contract.
type wireValue struct {
	Kind    string      `msgpack:"k"`
	I       int64       `msgpack:"i,omitempty"`
	F       float64     `msgpack:"f,omitempty"`
	IsFloat bool        `msgpack:"if,omitempty"`
	S       string      `msgpack:"s,omitempty"`
	B       []byte      `msgpack:"b,omitempty"`
	L       []wireValue `msgpack:"l,omitempty"`
	J       any         `msgpack:"j,omitempty"`
	VecF32  []float32   `msgpack:"vf32,omitempty"`
	VecF64  []float64   `msgpack:"vf64,omitempty"`
	Assert  bool        `msgpack:"assert,omitempty"`
}

func toWire(v value.Value) wireValue {
	switch x := v.(type) {
	case value.Null:
		return wireValue{Kind: "null"}
	case value.Bool:
		return wireValue{Kind: "bool", I: boolToInt(bool(x))}
	case value.Num:
		return wireValue{Kind: "num", I: x.I, F: x.F, IsFloat: x.IsFloat}
	case value.String:
		return wireValue{Kind: "string", S: string(x)}
	case value.Bytes:
		return wireValue{Kind: "bytes", B: []byte(x)}
	case value.UUID:
		return wireValue{Kind: "uuid", B: x[:]}
	case value.Regex:
		return wireValue{Kind: "regex", S: x.Source}
	case value.List:
		l := make([]wireValue, len(x))
		for i, el := range x {
			l[i] = toWire(el)
		}
		return wireValue{Kind: "list", L: l}
	case value.Set:
		l := make([]wireValue, len(x))
		for i, el := range x {
			l[i] = toWire(el)
		}
		return wireValue{Kind: "set", L: l}
	case value.JSON:
		return wireValue{Kind: "json", J: x.Data}
	case value.Vec:
		if x.Kind == value.VecF32 {
			return wireValue{Kind: "vec32", VecF32: x.F32}
		}
		return wireValue{Kind: "vec64", VecF64: x.F64}
	case value.Validity:
		return wireValue{Kind: "validity", I: x.TimestampUs, Assert: x.IsAssert}
	case value.Bot:
		return wireValue{Kind: "bot"}
	case value.Guard:
		return wireValue{Kind: "guard"}
	default:
		return wireValue{Kind: "null"}
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func fromWire(w wireValue) (value.Value, error) {
	switch w.Kind {
	case "null":
		return value.Null{}, nil
	case "bool":
		return value.Bool(w.I != 0), nil
	case "num":
		if w.IsFloat {
			return value.Float(w.F), nil
		}
		return value.Int(w.I), nil
	case "string":
		return value.String(w.S), nil
	case "bytes":
		return value.Bytes(w.B), nil
	case "uuid":
		var u value.UUID
		copy(u[:], w.B)
		return u, nil
	case "regex":
		return value.NewRegex(w.S)
	case "list":
		out := make(value.List, len(w.L))
		for i, el := range w.L {
			v, err := fromWire(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case "set":
		out := make([]value.Value, len(w.L))
		for i, el := range w.L {
			v, err := fromWire(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return value.NewSet(out), nil
	case "json":
		return value.JSON{Data: w.J}, nil
	case "vec32":
		return value.Vec{Kind: value.VecF32, F32: w.VecF32}, nil
	case "vec64":
		return value.Vec{Kind: value.VecF64, F64: w.VecF64}, nil
	case "validity":
		return value.Validity{TimestampUs: w.I, IsAssert: w.Assert}, nil
	case "bot":
		return value.Bot{}, nil
	case "guard":
		return value.Guard{}, nil
	default:
		return nil, errs.New(errs.Corrupt, "unknown wire value kind %q", w.Kind)
	}
}

// EncodeNonKey serializes a non-key tuple as length-prefixed MessagePack,
// per spec.md §4.1's "Non-key payload is serialized by a length-prefixed
// MessagePack-style encoder, not memcmp."
func EncodeNonKey(t value.Tuple) []byte {
	wire := make([]wireValue, len(t))
	for i, v := range t {
		wire[i] = toWire(v)
	}
	buf, err := msgpack.Marshal(wire)
	if err != nil {
		// Every wireValue is built from our own closed Value set, so
		// marshalling cannot fail; a failure here is a programmer error.
		panic(err)
	}
	return buf
}

// DecodeNonKey is the inverse of EncodeNonKey. An empty buffer decodes to
// an empty tuple (used by index entries that carry no payload).
func DecodeNonKey(buf []byte) (value.Tuple, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	var wire []wireValue
	if err := msgpack.Unmarshal(buf, &wire); err != nil {
		return nil, errs.Wrap(errs.Corrupt, err, "decoding non-key payload")
	}
	out := make(value.Tuple, len(wire))
	for i, w := range wire {
		v, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
