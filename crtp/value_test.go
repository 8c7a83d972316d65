package crtp_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
)

func TestValueTypeByteLength(t *testing.T) {
	require.Equal(t, 1, crtp.U8.ByteLength())
	require.Equal(t, 2, crtp.U16.ByteLength())
	require.Equal(t, 4, crtp.U32.ByteLength())
	require.Equal(t, 8, crtp.U64.ByteLength())
	require.Equal(t, 2, crtp.F16.ByteLength())
	require.Equal(t, 4, crtp.F32.ByteLength())
	require.Equal(t, 8, crtp.F64.ByteLength())
	require.Equal(t, 0, crtp.ValueType(255).ByteLength())
	require.False(t, crtp.ValueType(255).Valid())
}

func TestValueAsWrongTypeErrors(t *testing.T) {
	v := crtp.NewU8(7)
	_, err := v.AsU16()
	require.Error(t, err)

	got, err := v.AsU8()
	require.NoError(t, err)
	require.Equal(t, uint8(7), got)
}

func TestValueEncodeDecodeRoundTrip(t *testing.T) {
	cases := []crtp.Value{
		crtp.NewU8(0xAB),
		crtp.NewU16(0xBEEF),
		crtp.NewU32(0xDEADBEEF),
		crtp.NewU64(0x0102030405060708),
		crtp.NewI8(-5),
		crtp.NewI16(-1000),
		crtp.NewI32(-100000),
		crtp.NewI64(-1000000000),
		crtp.NewF32(3.14159),
		crtp.NewF64(2.718281828),
	}
	for _, v := range cases {
		b := v.ToBytes()
		require.Len(t, b, v.Type().ByteLength())
		decoded, err := crtp.FromBytes(b, v.Type())
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
}

func TestFromBytesShortBufferErrors(t *testing.T) {
	_, err := crtp.FromBytes([]byte{1, 2}, crtp.U32)
	require.Error(t, err)
}

func TestFromBytesInvalidTypeErrors(t *testing.T) {
	_, err := crtp.FromBytes([]byte{1, 2, 3, 4}, crtp.ValueType(255))
	require.Error(t, err)
}

func TestToF64LossyAllTypes(t *testing.T) {
	require.Equal(t, float64(5), crtp.NewU8(5).ToF64Lossy())
	require.Equal(t, float64(-5), crtp.NewI8(-5).ToF64Lossy())
	require.InDelta(t, 3.14, crtp.NewF32(3.14).ToF64Lossy(), 0.001)
	require.Equal(t, 2.5, crtp.NewF64(2.5).ToF64Lossy())
}

func TestFromF64LossyRoundTrip(t *testing.T) {
	v, err := crtp.FromF64Lossy(crtp.I32, -42.9)
	require.NoError(t, err)
	got, err := v.AsI32()
	require.NoError(t, err)
	require.Equal(t, int32(-42), got) // truncation toward zero, not rounding

	_, err = crtp.FromF64Lossy(crtp.ValueType(255), 1.0)
	require.Error(t, err)
}

func TestFloat16RoundTripCommonValues(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 0.5, -0.5, 100, -100, 3.14} {
		v := crtp.NewF16(f)
		got, err := v.AsF16()
		require.NoError(t, err)
		require.InDelta(t, float64(f), float64(got), 0.01)
	}
}

func TestFloat16ToFloat32ZeroAndSpecials(t *testing.T) {
	require.Equal(t, float32(0), crtp.Float16ToFloat32(0x0000))
	require.Equal(t, float32(math.Inf(1)), crtp.Float16ToFloat32(0x7c00))
	require.Equal(t, float32(math.Inf(-1)), crtp.Float16ToFloat32(0xfc00))
	require.True(t, math.IsNaN(float64(crtp.Float16ToFloat32(0x7e00))))
}

func TestValueTypeString(t *testing.T) {
	require.Equal(t, "uint8", crtp.U8.String())
	require.Equal(t, "float32", crtp.F32.String())
	require.Equal(t, "invalid", crtp.ValueType(255).String())
}
