// Package codec implements the memcmp-ordered byte encoding described in
// spec.md §4.1: encode(a) and encode(b), compared as unsigned byte
// strings, sort in the same order as a and b. Tag bytes and the chunked
// string encoding follow the original engine's own scheme (the spec only
// fixes the tag *ordering*, not the literal byte values, so we adopt the
// concrete values verbatim from the reference implementation consulted in
// original_source/).
package codec

import (
	"bytes"
	"encoding/binary"
	"math"

	"strata/internal/errs"
	"strata/internal/value"
)

const (
	tagGuard    byte = 0x00
	tagNull     byte = 0x01
	tagFalse    byte = 0x02
	tagTrue     byte = 0x03
	tagVec      byte = 0x04
	tagNum      byte = 0x05
	tagString   byte = 0x06
	tagBytes    byte = 0x07
	tagUUID     byte = 0x08
	tagRegex    byte = 0x09
	tagList     byte = 0x0A
	tagSet      byte = 0x0B
	tagValidity byte = 0x0C
	tagJSON     byte = 0x0D
	tagBot      byte = 0xFF
)

const (
	vecF32 byte = 0x01
	vecF64 byte = 0x02
)

const (
	numExact  byte = 0x00
	numApprox byte = 0x04
	numFloat  byte = 0x10
)

const chunkGroupSize = 8
const chunkMarker byte = 0xFF

// EncodeValue appends the memcmp encoding of v to buf and returns the
// extended buffer.
func EncodeValue(buf []byte, v value.Value) []byte {
	switch x := v.(type) {
	case value.Guard:
		return append(buf, tagGuard)
	case value.Null:
		return append(buf, tagNull)
	case value.Bool:
		if x {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case value.Vec:
		buf = append(buf, tagVec)
		if x.Kind == value.VecF32 {
			buf = append(buf, vecF32)
			buf = appendU64(buf, uint64(len(x.F32)))
			for _, f := range x.F32 {
				buf = appendU32(buf, math.Float32bits(f))
			}
		} else {
			buf = append(buf, vecF64)
			buf = appendU64(buf, uint64(len(x.F64)))
			for _, f := range x.F64 {
				buf = appendU64(buf, math.Float64bits(f))
			}
		}
		return buf
	case value.Num:
		buf = append(buf, tagNum)
		return encodeNum(buf, x)
	case value.String:
		buf = append(buf, tagString)
		return encodeBytes(buf, []byte(x))
	case value.Bytes:
		buf = append(buf, tagBytes)
		return encodeBytes(buf, []byte(x))
	case value.UUID:
		buf = append(buf, tagUUID)
		return append(buf, x[:]...)
	case value.Regex:
		buf = append(buf, tagRegex)
		return encodeBytes(buf, []byte(x.Source))
	case value.List:
		buf = append(buf, tagList)
		for _, el := range x {
			buf = EncodeValue(buf, el)
		}
		return append(buf, tagGuard)
	case value.Set:
		buf = append(buf, tagSet)
		for _, el := range x {
			buf = EncodeValue(buf, el)
		}
		return append(buf, tagGuard)
	case value.Validity:
		buf = append(buf, tagValidity)
		buf = appendU64(buf, ^orderEncodeI64(x.TimestampUs))
		if x.IsAssert {
			return append(buf, 0)
		}
		return append(buf, 1)
	case value.JSON:
		buf = append(buf, tagJSON)
		return encodeBytes(buf, []byte(x.String()))
	case value.Bot:
		return append(buf, tagBot)
	default:
		return append(buf, tagBot)
	}
}

// EncodeTuple encodes each element of t in order.
func EncodeTuple(t value.Tuple) []byte {
	var buf []byte
	for _, v := range t {
		buf = EncodeValue(buf, v)
	}
	return buf
}

// DecodeTuple decodes consecutive values from buf until it is exhausted.
func DecodeTuple(buf []byte) (value.Tuple, error) {
	d := &decoder{buf: buf}
	var out value.Tuple
	for d.pos < len(d.buf) {
		v, err := decodeOne(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// orderEncodeI64 maps an i64 to a u64 preserving signed order (flip the
// sign bit).
func orderEncodeI64(i int64) uint64 {
	return uint64(i) ^ (1 << 63)
}

// orderEncodeF64 maps an f64 to a u64 preserving total float order: flip
// the sign bit for positive numbers, flip every bit for negative numbers.
func orderEncodeF64(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		return bits | (1 << 63)
	}
	return ^bits
}

func orderDecodeF64(u uint64) float64 {
	if u&(1<<63) != 0 {
		return math.Float64frombits(u &^ (1 << 63))
	}
	return math.Float64frombits(^u)
}

const exactIntBound = int64(1) << 53

func encodeNum(buf []byte, n value.Num) []byte {
	f := n.AsFloat()
	buf = appendU64(buf, orderEncodeF64(f))
	if n.IsFloat {
		return append(buf, numFloat)
	}
	if n.I > -exactIntBound && n.I < exactIntBound {
		return append(buf, numExact)
	}
	buf = append(buf, numApprox)
	return appendU64(buf, orderEncodeI64(n.I))
}

// encodeBytes implements the 9-byte chunk scheme: 8 bytes of payload
// (zero-padded on the final chunk) plus one marker byte equal to
// 0xFF-pad_size, so the final chunk's marker is strictly below 0xFF and
// shorter strings compare as less than any extension.
func encodeBytes(buf []byte, key []byte) []byte {
	i := 0
	for {
		remain := len(key) - i
		if remain >= chunkGroupSize {
			buf = append(buf, key[i:i+chunkGroupSize]...)
			buf = append(buf, chunkMarker)
			i += chunkGroupSize
			continue
		}
		pad := chunkGroupSize - remain
		buf = append(buf, key[i:]...)
		for j := 0; j < pad; j++ {
			buf = append(buf, 0)
		}
		buf = append(buf, chunkMarker-byte(pad))
		return buf
	}
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// decoder reads values back out of a memcmp-encoded buffer.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, errs.New(errs.Corrupt, "unexpected end of buffer")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, errs.New(errs.Corrupt, "unexpected end of buffer")
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) bytesChunked() ([]byte, error) {
	var out []byte
	for {
		chunk, err := d.take(chunkGroupSize)
		if err != nil {
			return nil, err
		}
		marker, err := d.byte()
		if err != nil {
			return nil, err
		}
		if marker == chunkMarker {
			out = append(out, chunk...)
			continue
		}
		pad := int(chunkMarker - marker)
		if pad < 0 || pad > chunkGroupSize {
			return nil, errs.New(errs.Corrupt, "invalid chunk marker")
		}
		out = append(out, chunk[:chunkGroupSize-pad]...)
		return out, nil
	}
}

// DecodeValue decodes one Value from the start of buf, returning the
// value and the number of bytes consumed.
func DecodeValue(buf []byte) (value.Value, int, error) {
	d := &decoder{buf: buf}
	v, err := decodeOne(d)
	if err != nil {
		return nil, 0, err
	}
	return v, d.pos, nil
}

func decodeOne(d *decoder) (value.Value, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagGuard:
		return value.Guard{}, nil
	case tagNull:
		return value.Null{}, nil
	case tagFalse:
		return value.Bool(false), nil
	case tagTrue:
		return value.Bool(true), nil
	case tagVec:
		return decodeVec(d)
	case tagNum:
		return decodeNum(d)
	case tagString:
		b, err := d.bytesChunked()
		if err != nil {
			return nil, err
		}
		return value.String(b), nil
	case tagBytes:
		b, err := d.bytesChunked()
		if err != nil {
			return nil, err
		}
		return value.Bytes(b), nil
	case tagUUID:
		b, err := d.take(16)
		if err != nil {
			return nil, err
		}
		var u value.UUID
		copy(u[:], b)
		return u, nil
	case tagRegex:
		b, err := d.bytesChunked()
		if err != nil {
			return nil, err
		}
		rx, err := value.NewRegex(string(b))
		if err != nil {
			return nil, err
		}
		return rx, nil
	case tagList:
		return decodeSeq(d, false)
	case tagSet:
		return decodeSeq(d, true)
	case tagValidity:
		flipped, err := d.u64()
		if err != nil {
			return nil, err
		}
		notAssert, err := d.byte()
		if err != nil {
			return nil, err
		}
		ts := int64(^flipped ^ (1 << 63))
		return value.Validity{TimestampUs: ts, IsAssert: notAssert == 0}, nil
	case tagJSON:
		return nil, errs.New(errs.Corrupt, "json values cannot be memcmp-decoded without a schema hint")
	case tagBot:
		return value.Bot{}, nil
	default:
		return nil, errs.New(errs.Corrupt, "unknown tag byte 0x%02x", tag)
	}
}

func decodeVec(d *decoder) (value.Value, error) {
	kind, err := d.byte()
	if err != nil {
		return nil, err
	}
	n, err := d.u64()
	if err != nil {
		return nil, err
	}
	if kind == vecF32 {
		out := make([]float32, n)
		for i := range out {
			bits, err := d.u32()
			if err != nil {
				return nil, err
			}
			out[i] = math.Float32frombits(bits)
		}
		return value.Vec{Kind: value.VecF32, F32: out}, nil
	}
	out := make([]float64, n)
	for i := range out {
		bits, err := d.u64()
		if err != nil {
			return nil, err
		}
		out[i] = math.Float64frombits(bits)
	}
	return value.Vec{Kind: value.VecF64, F64: out}, nil
}

func decodeNum(d *decoder) (value.Value, error) {
	fbits, err := d.u64()
	if err != nil {
		return nil, err
	}
	disc, err := d.byte()
	if err != nil {
		return nil, err
	}
	switch disc {
	case numFloat:
		return value.Float(orderDecodeF64(fbits)), nil
	case numExact:
		f := orderDecodeF64(fbits)
		return value.Int(int64(f)), nil
	case numApprox:
		ibits, err := d.u64()
		if err != nil {
			return nil, err
		}
		return value.Int(int64(ibits ^ (1 << 63))), nil
	default:
		return nil, errs.New(errs.Corrupt, "unknown numeric discriminator 0x%02x", disc)
	}
}

func decodeSeq(d *decoder, asSet bool) (value.Value, error) {
	var out []value.Value
	for {
		if d.pos < len(d.buf) && d.buf[d.pos] == tagGuard {
			d.pos++
			break
		}
		v, err := decodeOne(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if asSet {
		return value.Set(out), nil
	}
	return value.List(out), nil
}

// CompareEncoded compares two memcmp-encoded buffers as unsigned byte
// strings. This is the property checked against value.Compare in tests.
func CompareEncoded(a, b []byte) int { return bytes.Compare(a, b) }

// PrefixUpperBound returns the exclusive upper bound for a range scan over
// all encoded tuples whose encoding starts with prefix: prefix followed by
// an encoded Bot, per spec.md §8's prefix-scan-soundness property.
func PrefixUpperBound(prefix []byte) []byte {
	return EncodeValue(append([]byte(nil), prefix...), value.Bot{})
}
