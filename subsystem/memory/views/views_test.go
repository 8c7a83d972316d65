package views_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/link/linktest"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory/views"
)

// fakeFirmware serves reads directly out of a byte slice per memory id,
// enough to exercise the views' parsing without re-implementing the
// whole discovery handshake.
type fakeFirmware struct {
	store map[byte][]byte
	types map[byte]memory.Type
}

func (fw *fakeFirmware) handle(f *linktest.Fake, p crtp.Packet) {
	if p.Port != crtp.PortMemory {
		return
	}
	switch p.Channel {
	case 0:
		fw.handleInfo(f, p)
	case 1:
		fw.handleRead(f, p)
	case 2:
		fw.handleWrite(f, p)
	}
}

func (fw *fakeFirmware) handleInfo(f *linktest.Fake, p crtp.Packet) {
	switch p.Data[0] {
	case 1:
		f.Push(crtp.MustNew(crtp.PortMemory, 0, []byte{1, byte(len(fw.store))}))
	case 2:
		id := p.Data[1]
		reply := make([]byte, 7)
		reply[0], reply[1] = 2, id
		reply[2] = byte(fw.types[id])
		sz := len(fw.store[id])
		reply[3] = byte(sz)
		f.Push(crtp.MustNew(crtp.PortMemory, 0, reply))
	}
}

func (fw *fakeFirmware) handleRead(f *linktest.Fake, p crtp.Packet) {
	id := p.Data[0]
	addr := uint32(p.Data[1]) | uint32(p.Data[2])<<8 | uint32(p.Data[3])<<16 | uint32(p.Data[4])<<24
	length := int(p.Data[5])

	reply := append([]byte{id}, p.Data[1:5]...)
	buf := fw.store[id]
	if int(addr)+length > len(buf) {
		f.Push(crtp.MustNew(crtp.PortMemory, 1, append(reply, 1)))
		return
	}
	reply = append(reply, 0)
	reply = append(reply, buf[addr:int(addr)+length]...)
	f.Push(crtp.MustNew(crtp.PortMemory, 1, reply))
}

func (fw *fakeFirmware) handleWrite(f *linktest.Fake, p crtp.Packet) {
	id := p.Data[0]
	addr := uint32(p.Data[1]) | uint32(p.Data[2])<<8 | uint32(p.Data[3])<<16 | uint32(p.Data[4])<<24
	data := p.Data[5:]
	copy(fw.store[id][addr:], data)
	reply := append([]byte{id}, p.Data[1:5]...)
	f.Push(crtp.MustNew(crtp.PortMemory, 2, append(reply, 0)))
}

func newTestMemory(t *testing.T, store map[byte][]byte, types map[byte]memory.Type) (*memory.Memory, func()) {
	t.Helper()
	fw := &fakeFirmware{store: store, types: types}
	fake := linktest.New()
	fake.Handler = fw.handle

	engine := conn.New(fake)
	m, err := memory.New(context.Background(), engine)
	require.NoError(t, err)
	return m, func() { _ = engine.Disconnect() }
}

func TestEEPROMConfigRoundTrip(t *testing.T) {
	record := []byte{
		48, 120, 66, 67, 1, 80, 2, 0, 0, 192, 63, 0, 0, 32, 192,
		231, 231, 231, 231, 231, 226,
	}
	store := map[byte][]byte{0: append(append([]byte{}, record...), make([]byte, 40)...)}
	types := map[byte]memory.Type{0: memory.TypeEEPROMConfig}
	m, cleanup := newTestMemory(t, store, types)
	defer cleanup()

	cfg, err := memory.Open(m, 0, views.NewEEPROMConfig)
	require.NoError(t, err)
	require.Equal(t, byte(1), cfg.Version)
	require.Equal(t, byte(80), cfg.RadioChannel)
	require.Equal(t, views.Radio2Mbps, cfg.RadioSpeed)
	require.InDelta(t, 1.5, cfg.PitchTrim, 0.0001)
	require.InDelta(t, -2.5, cfg.RollTrim, 0.0001)
	require.Equal(t, [5]byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}, cfg.RadioAddress)

	require.NoError(t, cfg.SetRadioChannel(100))
	require.Error(t, cfg.SetRadioChannel(200))

	require.NoError(t, cfg.Commit(context.Background()))
}

func TestEEPROMConfigChecksumMismatch(t *testing.T) {
	record := []byte{
		48, 120, 66, 67, 1, 80, 2, 0, 0, 192, 63, 0, 0, 32, 192,
		231, 231, 231, 231, 231, 0, // wrong checksum
	}
	store := map[byte][]byte{0: append(append([]byte{}, record...), make([]byte, 40)...)}
	types := map[byte]memory.Type{0: memory.TypeEEPROMConfig}
	m, cleanup := newTestMemory(t, store, types)
	defer cleanup()

	_, err := memory.Open(m, 0, views.NewEEPROMConfig)
	require.True(t, cferrors.IsMemoryError(err))
}

func TestDeckEEPROMRoundTrip(t *testing.T) {
	data := []byte{235, 120, 86, 52, 18, 171, 205, 147, 0, 7, 1, 2, 67, 70, 2, 1, 65, 89}
	store := map[byte][]byte{0: append(append([]byte{}, data...), make([]byte, 20)...)}
	types := map[byte]memory.Type{0: memory.TypeOneWire}
	m, cleanup := newTestMemory(t, store, types)
	defer cleanup()

	d, err := memory.Open(m, 0, views.NewDeckEEPROM)
	require.NoError(t, err)
	require.Equal(t, uint32(0x12345678), d.UsedPins)
	require.Equal(t, byte(0xAB), d.VID)
	require.Equal(t, byte(0xCD), d.PID)
	require.Equal(t, "CF", d.Elements["boardName"])
	require.Equal(t, "A", d.Elements["revision"])
}

func TestDeckEEPROMBadCRC(t *testing.T) {
	data := []byte{235, 120, 86, 52, 18, 171, 205, 0 /* corrupted */, 0, 7, 1, 2, 67, 70, 2, 1, 65, 89}
	store := map[byte][]byte{0: append(append([]byte{}, data...), make([]byte, 20)...)}
	types := map[byte]memory.Type{0: memory.TypeOneWire}
	m, cleanup := newTestMemory(t, store, types)
	defer cleanup()

	_, err := memory.Open(m, 0, views.NewDeckEEPROM)
	require.True(t, cferrors.IsMemoryError(err))
}

func TestTrajectoryCompressedSegmentValidation(t *testing.T) {
	store := map[byte][]byte{0: make([]byte, 512)}
	types := map[byte]memory.Type{0: memory.TypeTrajectory}
	m, cleanup := newTestMemory(t, store, types)
	defer cleanup()

	traj, err := memory.Open(m, 0, views.NewTrajectory)
	require.NoError(t, err)

	_, err = traj.WriteCompressed(context.Background(), views.CompressedStart{}, []views.CompressedSegment{
		{Duration: 1, X: []float32{1, 2}}, // invalid length: must be 0, 1, 3 or 7
	}, 0)
	require.True(t, cferrors.IsInvalidArgument(err))
}

func TestTrajectoryWriteUncompressed(t *testing.T) {
	store := map[byte][]byte{0: make([]byte, 512)}
	types := map[byte]memory.Type{0: memory.TypeTrajectory}
	m, cleanup := newTestMemory(t, store, types)
	defer cleanup()

	traj, err := memory.Open(m, 0, views.NewTrajectory)
	require.NoError(t, err)

	seg := views.Poly4D{Duration: 1.0}
	n, err := traj.WriteUncompressed(context.Background(), []views.Poly4D{seg}, 0)
	require.NoError(t, err)
	require.Equal(t, 132, n)
}

func deckSectionRecord(canResetToFirmware, canResetToBootloader bool, name string) []byte {
	record := make([]byte, 0x20)
	record[0] = 0x01 // valid
	var bits2 byte
	if canResetToFirmware {
		bits2 |= 0x01
	}
	if canResetToBootloader {
		bits2 |= 0x02
	}
	record[1] = bits2
	copy(record[14:32], name)
	return record
}

func TestDeckSectionResetToFirmwareWritesSingleCommandByte(t *testing.T) {
	store := make([]byte, 0x1020)
	copy(store[1:], deckSectionRecord(true, true, "bigquad"))
	byteStore := map[byte][]byte{0: store}
	types := map[byte]memory.Type{0: memory.TypeDeckMemory}
	m, cleanup := newTestMemory(t, byteStore, types)
	defer cleanup()

	ds, err := memory.Open(m, 0, views.NewDeckSections)
	require.NoError(t, err)
	require.Len(t, ds.Sections, 1)
	section := &ds.Sections[0]
	require.Equal(t, uint32(0x1000), section.CommandAddress)
	require.True(t, section.CanResetToFirmware)
	require.True(t, section.CanResetToBootloader)

	require.NoError(t, section.ResetToFirmware(context.Background()))
	// Only the single command byte at CommandAddress+deckSectionCmdBits (0x1004)
	// is written; the 4 bytes ahead of it are untouched.
	require.Equal(t, byte(0x01), byteStore[0][0x1004])
	require.Equal(t, []byte{0, 0, 0, 0}, byteStore[0][0x1000:0x1004])

	require.NoError(t, section.ResetToBootloader(context.Background()))
	require.Equal(t, byte(0x02), byteStore[0][0x1004])
}

func TestDeckSectionResetRejectedWhenUnsupported(t *testing.T) {
	store := make([]byte, 0x1020)
	copy(store[1:], deckSectionRecord(false, false, "fixed"))
	byteStore := map[byte][]byte{0: store}
	types := map[byte]memory.Type{0: memory.TypeDeckMemory}
	m, cleanup := newTestMemory(t, byteStore, types)
	defer cleanup()

	ds, err := memory.Open(m, 0, views.NewDeckSections)
	require.NoError(t, err)
	section := &ds.Sections[0]

	require.True(t, cferrors.IsMemoryError(section.ResetToFirmware(context.Background())))
	require.True(t, cferrors.IsMemoryError(section.ResetToBootloader(context.Background())))
}

func TestLPSAnchorsOutOfRange(t *testing.T) {
	store := map[byte][]byte{0: make([]byte, 0x3000)}
	types := map[byte]memory.Type{0: memory.TypeLoco2}
	m, cleanup := newTestMemory(t, store, types)
	defer cleanup()

	anchors, err := memory.Open(m, 0, views.NewLPSAnchors)
	require.NoError(t, err)

	_, err = anchors.ReadAnchor(context.Background(), 16)
	require.True(t, cferrors.IsInvalidArgument(err))
}
