package views

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
)

// Poly is a polynomial with up to 8 coefficients, the high-level
// commander's native trajectory-segment representation.
type Poly struct {
	Values [8]float32
}

// Poly4D is one uncompressed trajectory segment: independent polynomials
// for x, y, z and yaw over Duration seconds.
type Poly4D struct {
	Duration   float32
	X, Y, Z, Yaw Poly
}

func (p Poly4D) pack() []byte {
	data := make([]byte, 0, 132)
	for _, axis := range []Poly{p.X, p.Y, p.Z, p.Yaw} {
		for _, v := range axis.Values {
			data = le32f(v, data)
		}
	}
	return le32f(p.Duration, data)
}

// CompressedStart is the initial pose a compressed trajectory continues
// from.
type CompressedStart struct {
	X, Y, Z, Yaw float32
}

func encodeSpatial(meters float32) (int16, error) {
	scaled := meters * 1000.0
	if scaled < math.MinInt16 || scaled > math.MaxInt16 {
		return 0, cferrors.NewInvalidArgument("spatial coordinate %.3fm out of representable range", meters)
	}
	return int16(scaled), nil
}

func encodeYaw(rad float32) (int16, error) {
	scaled := rad * (180.0 / math.Pi) * 10.0
	if scaled < math.MinInt16 || scaled > math.MaxInt16 {
		return 0, cferrors.NewInvalidArgument("yaw angle %.3f rad out of representable range", rad)
	}
	return int16(scaled), nil
}

func (s CompressedStart) pack() ([]byte, error) {
	data := make([]byte, 0, 8)
	for _, v := range []float32{s.X, s.Y, s.Z} {
		enc, err := encodeSpatial(v)
		if err != nil {
			return nil, err
		}
		data = le16(uint16(enc), data)
	}
	yaw, err := encodeYaw(s.Yaw)
	if err != nil {
		return nil, err
	}
	return le16(uint16(yaw), data), nil
}

// elementType encodes how many coefficients an axis of a compressed
// segment carries: 0=constant, 1=linear, 3=quadratic, 7=full.
func elementType(n int) (byte, error) {
	switch n {
	case 0:
		return 0, nil
	case 1:
		return 1, nil
	case 3:
		return 2, nil
	case 7:
		return 3, nil
	default:
		return 0, cferrors.NewInvalidArgument("compressed segment element length must be 0, 1, 3 or 7, got %d", n)
	}
}

// CompressedSegment is one segment of a compressed trajectory: each axis
// independently carries 0, 1, 3 or 7 coefficients.
type CompressedSegment struct {
	Duration     float32
	X, Y, Z, Yaw []float32
}

func (s CompressedSegment) pack() ([]byte, error) {
	tx, err := elementType(len(s.X))
	if err != nil {
		return nil, err
	}
	ty, err := elementType(len(s.Y))
	if err != nil {
		return nil, err
	}
	tz, err := elementType(len(s.Z))
	if err != nil {
		return nil, err
	}
	tyaw, err := elementType(len(s.Yaw))
	if err != nil {
		return nil, err
	}
	elementTypes := tx | (ty << 2) | (tz << 4) | (tyaw << 6)
	durationMS := uint16(s.Duration * 1000.0)

	data := []byte{elementTypes}
	data = le16(durationMS, data)

	for _, axis := range [][]float32{s.X, s.Y, s.Z} {
		for _, v := range axis {
			enc, err := encodeSpatial(v)
			if err != nil {
				return nil, err
			}
			data = le16(uint16(enc), data)
		}
	}
	for _, v := range s.Yaw {
		enc, err := encodeYaw(v)
		if err != nil {
			return nil, err
		}
		data = le16(uint16(enc), data)
	}
	return data, nil
}

func le16(v uint16, dst []byte) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

// Trajectory is the typed view over the high-level commander's
// trajectory memory.
type Trajectory struct {
	backend *memory.Backend
}

func NewTrajectory(b *memory.Backend) (*Trajectory, error) {
	if b.Type != memory.TypeTrajectory {
		return nil, cferrors.NewMemoryError("wrong memory type for trajectory: %s", b.Type)
	}
	return &Trajectory{backend: b}, nil
}

func InitTrajectory(b *memory.Backend) (*Trajectory, error) {
	return NewTrajectory(b)
}

func (t *Trajectory) Close() *memory.Backend { return t.backend }

// WriteUncompressed packs and writes a sequence of Poly4D segments and
// returns the number of bytes written.
func (t *Trajectory) WriteUncompressed(ctx context.Context, segments []Poly4D, startAddr uint32) (int, error) {
	var data []byte
	for _, seg := range segments {
		data = append(data, seg.pack()...)
	}
	if err := t.backend.Write(ctx, startAddr, data, nil); err != nil {
		return 0, err
	}
	return len(data), nil
}

// WriteCompressed packs a start pose followed by a sequence of
// compressed segments and writes them starting at startAddr.
func (t *Trajectory) WriteCompressed(ctx context.Context, start CompressedStart, segments []CompressedSegment, startAddr uint32) (int, error) {
	data, err := start.pack()
	if err != nil {
		return 0, err
	}
	for _, seg := range segments {
		packed, err := seg.pack()
		if err != nil {
			return 0, err
		}
		data = append(data, packed...)
	}
	if err := t.backend.Write(ctx, startAddr, data, nil); err != nil {
		return 0, err
	}
	return len(data), nil
}

// WriteRaw writes already-encoded trajectory bytes verbatim.
func (t *Trajectory) WriteRaw(ctx context.Context, data []byte, startAddr uint32) error {
	return t.backend.Write(ctx, startAddr, data, nil)
}
