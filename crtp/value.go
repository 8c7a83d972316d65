package crtp

import (
	"encoding/binary"
	"math"

	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
)

// ValueType is the closed set of numeric primitives carried by param and
// log TOC entries.
type ValueType uint8

const (
	U8 ValueType = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F16
	F32
	F64
)

var byteLengths = [...]int{
	U8: 1, U16: 2, U32: 4, U64: 8,
	I8: 1, I16: 2, I32: 4, I64: 8,
	F16: 2, F32: 4, F64: 8,
}

var typeNames = [...]string{
	U8: "uint8", U16: "uint16", U32: "uint32", U64: "uint64",
	I8: "int8", I16: "int16", I32: "int32", I64: "int64",
	F16: "float16", F32: "float32", F64: "float64",
}

// ByteLength returns the wire width of t, 0 for an invalid type.
func (t ValueType) ByteLength() int {
	if int(t) < 0 || int(t) >= len(byteLengths) {
		return 0
	}
	return byteLengths[t]
}

func (t ValueType) String() string {
	if int(t) < 0 || int(t) >= len(typeNames) {
		return "invalid"
	}
	return typeNames[t]
}

func (t ValueType) Valid() bool { return int(t) >= 0 && int(t) < len(byteLengths) }

// Value is a tagged union over the 11 ValueTypes. The zero Value is
// U8(0). Numeric payloads that fit in 64 bits are stored bit-for-bit in
// raw; floats are stored via their IEEE bit pattern.
type Value struct {
	t   ValueType
	raw uint64
}

func NewU8(v uint8) Value   { return Value{t: U8, raw: uint64(v)} }
func NewU16(v uint16) Value { return Value{t: U16, raw: uint64(v)} }
func NewU32(v uint32) Value { return Value{t: U32, raw: uint64(v)} }
func NewU64(v uint64) Value { return Value{t: U64, raw: v} }
func NewI8(v int8) Value    { return Value{t: I8, raw: uint64(uint8(v))} }
func NewI16(v int16) Value  { return Value{t: I16, raw: uint64(uint16(v))} }
func NewI32(v int32) Value  { return Value{t: I32, raw: uint64(uint32(v))} }
func NewI64(v int64) Value  { return Value{t: I64, raw: uint64(v)} }
func NewF16(v float32) Value {
	return Value{t: F16, raw: uint64(float32ToFloat16(v))}
}
func NewF32(v float32) Value { return Value{t: F32, raw: uint64(math.Float32bits(v))} }
func NewF64(v float64) Value { return Value{t: F64, raw: math.Float64bits(v)} }

func (v Value) Type() ValueType { return v.t }

func (v Value) AsU8() (uint8, error) {
	if v.t != U8 {
		return 0, cferrors.NewConversionError("value is %s, not uint8", v.t)
	}
	return uint8(v.raw), nil
}

func (v Value) AsU16() (uint16, error) {
	if v.t != U16 {
		return 0, cferrors.NewConversionError("value is %s, not uint16", v.t)
	}
	return uint16(v.raw), nil
}

func (v Value) AsU32() (uint32, error) {
	if v.t != U32 {
		return 0, cferrors.NewConversionError("value is %s, not uint32", v.t)
	}
	return uint32(v.raw), nil
}

func (v Value) AsU64() (uint64, error) {
	if v.t != U64 {
		return 0, cferrors.NewConversionError("value is %s, not uint64", v.t)
	}
	return v.raw, nil
}

func (v Value) AsI8() (int8, error) {
	if v.t != I8 {
		return 0, cferrors.NewConversionError("value is %s, not int8", v.t)
	}
	return int8(v.raw), nil
}

func (v Value) AsI16() (int16, error) {
	if v.t != I16 {
		return 0, cferrors.NewConversionError("value is %s, not int16", v.t)
	}
	return int16(v.raw), nil
}

func (v Value) AsI32() (int32, error) {
	if v.t != I32 {
		return 0, cferrors.NewConversionError("value is %s, not int32", v.t)
	}
	return int32(v.raw), nil
}

func (v Value) AsI64() (int64, error) {
	if v.t != I64 {
		return 0, cferrors.NewConversionError("value is %s, not int64", v.t)
	}
	return int64(v.raw), nil
}

func (v Value) AsF16() (float32, error) {
	if v.t != F16 {
		return 0, cferrors.NewConversionError("value is %s, not float16", v.t)
	}
	return float16ToFloat32(uint16(v.raw)), nil
}

func (v Value) AsF32() (float32, error) {
	if v.t != F32 {
		return 0, cferrors.NewConversionError("value is %s, not float32", v.t)
	}
	return math.Float32frombits(uint32(v.raw)), nil
}

func (v Value) AsF64() (float64, error) {
	if v.t != F64 {
		return 0, cferrors.NewConversionError("value is %s, not float64", v.t)
	}
	return math.Float64frombits(v.raw), nil
}

// ToF64Lossy bridges any Value to a float64. It is exact except for
// U64/I64 magnitudes above 2^53 and for F16's reduced precision, per the
// codec-round-trip law in spec.md §8.
func (v Value) ToF64Lossy() float64 {
	switch v.t {
	case U8:
		return float64(uint8(v.raw))
	case U16:
		return float64(uint16(v.raw))
	case U32:
		return float64(uint32(v.raw))
	case U64:
		return float64(v.raw)
	case I8:
		return float64(int8(v.raw))
	case I16:
		return float64(int16(v.raw))
	case I32:
		return float64(int32(v.raw))
	case I64:
		return float64(int64(v.raw))
	case F16:
		return float64(float16ToFloat32(uint16(v.raw)))
	case F32:
		return float64(math.Float32frombits(uint32(v.raw)))
	case F64:
		return math.Float64frombits(v.raw)
	default:
		return 0
	}
}

// FromF64Lossy constructs a Value of type t from an f64, rounding to the
// target integer width. Rounding of negative floats truncates toward
// zero (Go's float->int conversion semantics) rather than rounding to
// nearest; spec.md §9 leaves this choice to the implementer, and
// truncation matches ordinary Go numeric-conversion intuition at the
// call site.
func FromF64Lossy(t ValueType, f float64) (Value, error) {
	if !t.Valid() {
		return Value{}, cferrors.NewConversionError("invalid value type %d", t)
	}
	switch t {
	case U8:
		return NewU8(uint8(f)), nil
	case U16:
		return NewU16(uint16(f)), nil
	case U32:
		return NewU32(uint32(f)), nil
	case U64:
		return NewU64(uint64(f)), nil
	case I8:
		return NewI8(int8(f)), nil
	case I16:
		return NewI16(int16(f)), nil
	case I32:
		return NewI32(int32(f)), nil
	case I64:
		return NewI64(int64(f)), nil
	case F16:
		return NewF16(float32(f)), nil
	case F32:
		return NewF32(float32(f)), nil
	case F64:
		return NewF64(f), nil
	default:
		return Value{}, cferrors.NewConversionError("invalid value type %d", t)
	}
}

// ToBytes encodes v in little-endian wire format.
func (v Value) ToBytes() []byte {
	return EncodeBytes(v)
}

// EncodeBytes is the free-function form of ToBytes; it writes
// v.Type().ByteLength() little-endian bytes.
func EncodeBytes(v Value) []byte {
	b := make([]byte, v.t.ByteLength())
	switch v.t.ByteLength() {
	case 1:
		b[0] = byte(v.raw)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v.raw))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v.raw))
	case 8:
		binary.LittleEndian.PutUint64(b, v.raw)
	}
	return b
}

// FromBytes decodes a little-endian wire value of type t from b[:t.ByteLength()].
func FromBytes(b []byte, t ValueType) (Value, error) {
	if !t.Valid() {
		return Value{}, cferrors.NewConversionError("invalid value type %d", t)
	}
	n := t.ByteLength()
	if len(b) < n {
		return Value{}, cferrors.NewConversionError("short buffer: need %d bytes for %s, got %d", n, t, len(b))
	}
	var raw uint64
	switch n {
	case 1:
		raw = uint64(b[0])
	case 2:
		raw = uint64(binary.LittleEndian.Uint16(b))
	case 4:
		raw = uint64(binary.LittleEndian.Uint32(b))
	case 8:
		raw = binary.LittleEndian.Uint64(b)
	}
	return Value{t: t, raw: raw}, nil
}

// float32ToFloat16 and float16ToFloat32 implement IEEE 754 binary16
// conversion (round to nearest, ties rounded away from zero), used for F16 TOC items and the
// localization lighthouse angle-delta wire format.
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint(14 - exp)
		half := mant >> shift
		if mant>>(shift-1)&1 != 0 {
			half++
		}
		return sign | uint16(half)
	case exp >= 0x1f:
		if (bits>>23)&0xff == 0xff && mant != 0 {
			return sign | 0x7e00 // NaN
		}
		return sign | 0x7c00 // Inf
	default:
		half := sign | uint16(exp)<<10 | uint16(mant>>13)
		if mant&0x1000 != 0 {
			half++
		}
		return half
	}
}

// Float16ToFloat32 exposes the binary16 decode used internally for F16
// values to callers outside the package that need to decode raw fp16
// fields from a non-TOC wire format (the localization subsystem's
// lighthouse angle stream, spec.md §4.7).
func Float16ToFloat32(h uint16) float32 { return float16ToFloat32(h) }

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
		return math.Float32frombits(sign | ((exp + 112) << 23) | (mant << 13))
	case exp == 0x1f:
		if mant == 0 {
			return math.Float32frombits(sign | 0x7f800000)
		}
		return math.Float32frombits(sign | 0x7fc00000)
	default:
		return math.Float32frombits(sign | ((exp + 112) << 23) | (mant << 13))
	}
}
