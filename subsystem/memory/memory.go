// Package memory implements the memory subsystem (spec.md §4.6): a
// block device exposing N independently addressed memories behind a
// single chunked request/response protocol, with typed views loaned
// exclusively per memory_id.
package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/bitcraze/crazyflie-lib-go/cmn/nlog"
	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
)

// Internal channel layout on the memory port (spec.md §4.6).
const (
	chanInfo  = 0
	chanRead  = 1
	chanWrite = 2
)

const (
	cmdInfoNbr     = 1
	cmdInfoDetails = 2
)

const requestTimeout = 5 * time.Second

// Type identifies the wire format a memory speaks, mirroring the
// firmware's memory_type enum.
type Type uint8

const (
	TypeEEPROMConfig    Type = 0x00
	TypeOneWire         Type = 0x01
	TypeDriverLed       Type = 0x10
	TypeLoco            Type = 0x11
	TypeTrajectory      Type = 0x12
	TypeLoco2           Type = 0x13
	TypeLighthouse      Type = 0x14
	TypeMemoryTester    Type = 0x15
	TypeDriverLedTiming Type = 0x17
	TypeApp             Type = 0x18
	TypeDeckMemory      Type = 0x19
	TypeDeckCtrlDFU     Type = 0x20
	TypeDeckMultiranger Type = 0x1A
	TypeDeckPaa3905     Type = 0x1B
	TypeUnknown         Type = 0xFF
)

func typeFromByte(b byte) Type {
	switch Type(b) {
	case TypeEEPROMConfig, TypeOneWire, TypeDriverLed, TypeLoco, TypeTrajectory,
		TypeLoco2, TypeLighthouse, TypeMemoryTester, TypeDriverLedTiming, TypeApp,
		TypeDeckMemory, TypeDeckCtrlDFU, TypeDeckMultiranger, TypeDeckPaa3905:
		return Type(b)
	default:
		return TypeUnknown
	}
}

func (t Type) String() string {
	switch t {
	case TypeEEPROMConfig:
		return "EEPROM config"
	case TypeOneWire:
		return "1-Wire"
	case TypeDriverLed:
		return "Driver LED"
	case TypeLoco:
		return "Loco"
	case TypeTrajectory:
		return "Trajectory"
	case TypeLoco2:
		return "Loco2"
	case TypeLighthouse:
		return "Lighthouse"
	case TypeMemoryTester:
		return "Memory Tester"
	case TypeDriverLedTiming:
		return "Driver LED Timing"
	case TypeApp:
		return "Application"
	case TypeDeckMemory:
		return "Deck Memory"
	case TypeDeckCtrlDFU:
		return "Deck Ctrl DFU"
	case TypeDeckMultiranger:
		return "Deck Multiranger"
	case TypeDeckPaa3905:
		return "Deck PAA3905"
	default:
		return "Unknown"
	}
}

// Device is the immutable descriptor of one of the device's memories.
type Device struct {
	ID   uint8
	Type Type
	Size uint32
}

// slot holds a memory's Backend while it is not loaned out to a typed
// view; nil means a view currently owns it. Guarded by its own mutex so
// loans are strictly exclusive (spec.md's "at most one typed view per
// memory_id" invariant).
type slot struct {
	mu      sync.Mutex
	backend *Backend
}

// Memory is the handle returned by a Client's Memory field.
type Memory struct {
	engine *conn.Engine

	devices []Device
	slots   map[uint8]*slot

	infoMu sync.Mutex
	infoCh <-chan crtp.Packet

	readDispatch  *idDispatcher
	writeDispatch *idDispatcher
}

// New discovers every memory present on the device and prepares a
// Backend (parked in its slot) for each.
func New(ctx context.Context, engine *conn.Engine) (*Memory, error) {
	raw := engine.RegisterPort(crtp.PortMemory, 128)
	chans := conn.SplitChannels(ctx, raw, 64)

	m := &Memory{
		engine:        engine,
		slots:         make(map[uint8]*slot),
		infoCh:        chans[chanInfo],
		readDispatch:  newIDDispatcher(ctx, chans[chanRead]),
		writeDispatch: newIDDispatcher(ctx, chans[chanWrite]),
	}

	if err := m.discover(ctx); err != nil {
		return nil, cferrors.Wrap(err, "memory: discovery failed")
	}
	return m, nil
}

func (m *Memory) discover(ctx context.Context) error {
	countData, err := m.infoRoundtrip(ctx, []byte{cmdInfoNbr}, []byte{cmdInfoNbr})
	if err != nil {
		return err
	}
	if len(countData) < 2 {
		return cferrors.NewProtocolError("malformed CMD_INFO_NBR reply: %d bytes", len(countData))
	}
	count := countData[1]

	for i := byte(0); i < count; i++ {
		data, err := m.infoRoundtrip(ctx, []byte{cmdInfoDetails, i}, []byte{cmdInfoDetails, i})
		if err != nil {
			return err
		}
		if len(data) < 7 {
			return cferrors.NewProtocolError("malformed CMD_INFO_DETAILS reply: %d bytes", len(data))
		}
		id := data[1]
		typ := typeFromByte(data[2])
		size := binary.LittleEndian.Uint32(data[3:7])

		m.devices = append(m.devices, Device{ID: id, Type: typ, Size: size})
		m.slots[id] = &slot{backend: &Backend{
			ID:       id,
			Type:     typ,
			Size:     size,
			engine:   m.engine,
			readCh:   m.readDispatch.register(id),
			writeCh:  m.writeDispatch.register(id),
		}}
	}
	return nil
}

func (m *Memory) infoRoundtrip(ctx context.Context, payload, prefix []byte) ([]byte, error) {
	m.infoMu.Lock()
	defer m.infoMu.Unlock()

	pk, err := crtp.New(crtp.PortMemory, chanInfo, payload)
	if err != nil {
		return nil, err
	}
	if err := m.engine.Enqueue(pk); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	for {
		select {
		case <-cctx.Done():
			return nil, cferrors.NewTimeout("memory info request")
		case pk, ok := <-m.infoCh:
			if !ok {
				return nil, cferrors.Disconnected
			}
			if bytes.HasPrefix(pk.Data, prefix) {
				return pk.Data, nil
			}
		}
	}
}

// Devices lists every discovered memory, optionally filtered by type.
// A nil filter returns all devices.
func (m *Memory) Devices(filter *Type) []Device {
	if filter == nil {
		out := make([]Device, len(m.devices))
		copy(out, m.devices)
		return out
	}
	var out []Device
	for _, d := range m.devices {
		if d.Type == *filter {
			out = append(out, d)
		}
	}
	return out
}

// Open loans the backend for id to ctor and returns whatever ctor
// builds from it. If ctor fails (e.g. wrong memory type) the backend is
// returned to its slot untouched, per spec.md's failed-open cleanup
// policy.
func Open[T any](m *Memory, id uint8, ctor func(*Backend) (T, error)) (T, error) {
	var zero T
	s, ok := m.slots[id]
	if !ok {
		return zero, cferrors.NewMemoryError("unknown memory id %d", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return zero, cferrors.NewMemoryError("memory id %d already loaned to another view", id)
	}
	b := s.backend
	s.backend = nil

	v, err := ctor(b)
	if err != nil {
		s.backend = b
		return zero, err
	}
	return v, nil
}

// Close returns a view's backend to its slot. Closing a view whose slot
// already holds a backend (double close) is a no-op with a warning.
func Close(m *Memory, b *Backend) {
	s, ok := m.slots[b.ID]
	if !ok {
		nlog.Warningf("memory: closed backend for unknown id %d", b.ID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		nlog.Warningf("memory: id %d closed twice, ignoring", b.ID)
		return
	}
	s.backend = b
}
