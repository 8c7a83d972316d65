package views

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
)

const (
	lighthouseGeoStartAddr   = 0x00
	lighthouseCalibStartAddr = 0x1000
	lighthousePageSize       = 0x100
	lighthouseMaxBaseStations = 16

	sizeFloat  = 4
	sizeU32    = 4
	sizeBool   = 1
	sizeVector = 3 * sizeFloat
)

// CalibrationSweep is one sweep's calibration coefficients for a
// lighthouse base station.
type CalibrationSweep struct {
	Phase, Tilt, Curve, GibMag, GibPhase, OgeeMag, OgeePhase float32
}

const calibrationSweepSize = 7 * sizeFloat

func calibrationSweepFromBytes(data []byte) (CalibrationSweep, error) {
	if len(data) < calibrationSweepSize {
		return CalibrationSweep{}, cferrors.NewMemoryError("insufficient data for calibration sweep")
	}
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(data[off:])) }
	return CalibrationSweep{
		Phase: f(0), Tilt: f(4), Curve: f(8), GibMag: f(12),
		GibPhase: f(16), OgeeMag: f(20), OgeePhase: f(24),
	}, nil
}

func (s CalibrationSweep) toBytes() []byte {
	var data []byte
	for _, v := range []float32{s.Phase, s.Tilt, s.Curve, s.GibMag, s.GibPhase, s.OgeeMag, s.OgeePhase} {
		data = le32f(v, data)
	}
	return data
}

// Calibration holds both sweeps' coefficients for one base station.
type Calibration struct {
	Sweeps [2]CalibrationSweep
	UID    uint32
	Valid  bool
}

const calibrationSize = 2*calibrationSweepSize + sizeU32 + sizeBool

func calibrationFromBytes(data []byte) (Calibration, error) {
	if len(data) < calibrationSize {
		return Calibration{}, cferrors.NewMemoryError("insufficient data for calibration")
	}
	sweep0, err := calibrationSweepFromBytes(data[0:calibrationSweepSize])
	if err != nil {
		return Calibration{}, err
	}
	sweep1, err := calibrationSweepFromBytes(data[calibrationSweepSize : 2*calibrationSweepSize])
	if err != nil {
		return Calibration{}, err
	}
	uidOffset := 2 * calibrationSweepSize
	return Calibration{
		Sweeps: [2]CalibrationSweep{sweep0, sweep1},
		UID:    binary.LittleEndian.Uint32(data[uidOffset : uidOffset+4]),
		Valid:  data[uidOffset+4] != 0,
	}, nil
}

func (c Calibration) toBytes() []byte {
	data := append(c.Sweeps[0].toBytes(), c.Sweeps[1].toBytes()...)
	data = le32(c.UID, data)
	if c.Valid {
		return append(data, 1)
	}
	return append(data, 0)
}

// Geometry is a base station's origin and orientation.
type Geometry struct {
	Origin         [3]float32
	RotationMatrix [3][3]float32
	Valid          bool
}

const geometrySize = 4*sizeVector + sizeBool

func geometryFromBytes(data []byte) (Geometry, error) {
	if len(data) < geometrySize {
		return Geometry{}, cferrors.NewMemoryError("insufficient data for geometry")
	}
	readVec := func(off int) [3]float32 {
		return [3]float32{
			math.Float32frombits(binary.LittleEndian.Uint32(data[off:])),
			math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(data[off+8:])),
		}
	}
	g := Geometry{Origin: readVec(0)}
	for i := 0; i < 3; i++ {
		g.RotationMatrix[i] = readVec(sizeVector + i*sizeVector)
	}
	g.Valid = data[4*sizeVector] != 0
	return g, nil
}

func (g Geometry) toBytes() []byte {
	var data []byte
	for _, v := range g.Origin {
		data = le32f(v, data)
	}
	for _, row := range g.RotationMatrix {
		for _, v := range row {
			data = le32f(v, data)
		}
	}
	if g.Valid {
		return append(data, 1)
	}
	return append(data, 0)
}

func le32(v uint32, dst []byte) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// Lighthouse is the typed view over the positioning system's base
// station geometry and calibration pages: up to 16 stations, one
// 256-byte page each.
type Lighthouse struct {
	backend *memory.Backend
}

func NewLighthouse(b *memory.Backend) (*Lighthouse, error) {
	if b.Type != memory.TypeLighthouse {
		return nil, cferrors.NewMemoryError("wrong memory type for lighthouse: %s", b.Type)
	}
	return &Lighthouse{backend: b}, nil
}

func InitLighthouse(b *memory.Backend) (*Lighthouse, error) { return NewLighthouse(b) }

func (l *Lighthouse) Close() *memory.Backend { return l.backend }

func validateBaseStationID(id int) error {
	if id < 0 || id >= lighthouseMaxBaseStations {
		return cferrors.NewInvalidArgument("base station id %d out of range [0,%d)", id, lighthouseMaxBaseStations)
	}
	return nil
}

func (l *Lighthouse) ReadGeometry(ctx context.Context, bsID int) (Geometry, error) {
	if err := validateBaseStationID(bsID); err != nil {
		return Geometry{}, err
	}
	data, err := l.backend.Read(ctx, lighthouseGeoStartAddr+uint32(bsID)*lighthousePageSize, geometrySize, nil)
	if err != nil {
		return Geometry{}, err
	}
	return geometryFromBytes(data)
}

func (l *Lighthouse) WriteGeometry(ctx context.Context, bsID int, g Geometry) error {
	if err := validateBaseStationID(bsID); err != nil {
		return err
	}
	return l.backend.Write(ctx, lighthouseGeoStartAddr+uint32(bsID)*lighthousePageSize, g.toBytes(), nil)
}

func (l *Lighthouse) ReadCalibration(ctx context.Context, bsID int) (Calibration, error) {
	if err := validateBaseStationID(bsID); err != nil {
		return Calibration{}, err
	}
	data, err := l.backend.Read(ctx, lighthouseCalibStartAddr+uint32(bsID)*lighthousePageSize, calibrationSize, nil)
	if err != nil {
		return Calibration{}, err
	}
	return calibrationFromBytes(data)
}

func (l *Lighthouse) WriteCalibration(ctx context.Context, bsID int, c Calibration) error {
	if err := validateBaseStationID(bsID); err != nil {
		return err
	}
	return l.backend.Write(ctx, lighthouseCalibStartAddr+uint32(bsID)*lighthousePageSize, c.toBytes(), nil)
}
