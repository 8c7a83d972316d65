package views

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
)

const eepromConfigMagic = "0xBC"

// RadioSpeed is the over-the-air data rate stored in the EEPROM config
// record.
type RadioSpeed byte

const (
	Radio250Kbps RadioSpeed = 0
	Radio1Mbps   RadioSpeed = 1
	Radio2Mbps   RadioSpeed = 2
)

func (s RadioSpeed) String() string {
	switch s {
	case Radio250Kbps:
		return "250 kbps"
	case Radio1Mbps:
		return "1 Mbps"
	case Radio2Mbps:
		return "2 Mbps"
	default:
		return "unknown"
	}
}

// EEPROMConfig is the I2C EEPROM record holding the device's radio and
// trim configuration, guarded by a whole-record checksum.
type EEPROMConfig struct {
	backend *memory.Backend

	Version      byte
	RadioChannel byte
	RadioSpeed   RadioSpeed
	PitchTrim    float32
	RollTrim     float32
	RadioAddress [5]byte
}

const eepromConfigRecordLen = 4 + 1 + 1 + 1 + 4 + 4 + 5 + 1 // magic+version+channel+speed+pitch+roll+addr+checksum

// NewEEPROMConfig reads and checksum-validates the record.
func NewEEPROMConfig(b *memory.Backend) (*EEPROMConfig, error) {
	if b.Type != memory.TypeEEPROMConfig {
		return nil, cferrors.NewMemoryError("wrong memory type for EEPROM config: %s", b.Type)
	}
	data, err := b.Read(context.Background(), 0, eepromConfigRecordLen, nil)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 || string(data[0:4]) != eepromConfigMagic {
		return nil, cferrors.NewMemoryError("malformed EEPROM config data")
	}

	var checksum byte
	for _, by := range data[:len(data)-1] {
		checksum += by
	}
	if checksum != data[len(data)-1] {
		return nil, cferrors.NewMemoryError("checksum mismatch in EEPROM config data")
	}

	var addr [5]byte
	copy(addr[:], data[15:20])

	return &EEPROMConfig{
		backend:      b,
		Version:      data[4],
		RadioChannel: data[5],
		RadioSpeed:   RadioSpeed(data[6]),
		PitchTrim:    math.Float32frombits(binary.LittleEndian.Uint32(data[7:11])),
		RollTrim:     math.Float32frombits(binary.LittleEndian.Uint32(data[11:15])),
		RadioAddress: addr,
	}, nil
}

// InitEEPROMConfig returns the firmware's documented power-on defaults
// without touching the device.
func InitEEPROMConfig(b *memory.Backend) (*EEPROMConfig, error) {
	if b.Type != memory.TypeEEPROMConfig {
		return nil, cferrors.NewMemoryError("wrong memory type for EEPROM config: %s", b.Type)
	}
	return &EEPROMConfig{
		backend:      b,
		RadioChannel: 80,
		RadioSpeed:   Radio2Mbps,
		RadioAddress: [5]byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7},
	}, nil
}

func (c *EEPROMConfig) Close() *memory.Backend { return c.backend }

// SetRadioChannel validates channel is in [0, 125] before touching the
// local record (spec.md §4.6's write-side validation policy).
func (c *EEPROMConfig) SetRadioChannel(channel byte) error {
	if channel > 125 {
		return cferrors.NewInvalidArgument("radio channel must be between 0 and 125, got %d", channel)
	}
	c.RadioChannel = channel
	return nil
}

// Commit serializes the record and writes it back to address 0.
func (c *EEPROMConfig) Commit(ctx context.Context) error {
	data := make([]byte, 0, eepromConfigRecordLen)
	data = append(data, eepromConfigMagic...)
	data = append(data, c.Version, c.RadioChannel, byte(c.RadioSpeed))
	data = le32f(c.PitchTrim, data)
	data = le32f(c.RollTrim, data)
	data = append(data, c.RadioAddress[:]...)

	var checksum byte
	for _, b := range data {
		checksum += b
	}
	data = append(data, checksum)

	return c.backend.Write(ctx, 0, data, nil)
}

func le32f(v float32, dst []byte) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return append(dst, b[:]...)
}
