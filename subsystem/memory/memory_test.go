package memory_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/link/linktest"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
)

// fakeFirmware emulates the memory port wire protocol (spec.md §4.6)
// with a single in-memory backing byte array per memory id.
type fakeFirmware struct {
	store map[byte][]byte // memory_id -> contents
}

func newFakeFirmware() *fakeFirmware {
	return &fakeFirmware{store: map[byte][]byte{
		0: make([]byte, 64),
		1: make([]byte, 64),
	}}
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
	case 1: // CMD_INFO_NBR
		f.Push(crtp.MustNew(crtp.PortMemory, 0, []byte{1, byte(len(fw.store))}))
	case 2: // CMD_INFO_DETAILS
		id := p.Data[1]
		reply := make([]byte, 7)
		reply[0], reply[1] = 2, id
		reply[2] = 0x00 // EEPROMConfig for id0, else raw
		if id == 1 {
			reply[2] = 0xFF // unknown/raw
		}
		binary.LittleEndian.PutUint32(reply[3:7], uint32(len(fw.store[id])))
		f.Push(crtp.MustNew(crtp.PortMemory, 0, reply))
	}
}

func (fw *fakeFirmware) handleRead(f *linktest.Fake, p crtp.Packet) {
	id := p.Data[0]
	addr := binary.LittleEndian.Uint32(p.Data[1:5])
	length := int(p.Data[5])

	reply := append([]byte{id}, p.Data[1:5]...)
	buf := fw.store[id]
	if int(addr)+length > len(buf) {
		reply = append(reply, 1) // status error
		f.Push(crtp.MustNew(crtp.PortMemory, 1, reply))
		return
	}
	reply = append(reply, 0)
	reply = append(reply, buf[addr:addr+uint32(length)]...)
	f.Push(crtp.MustNew(crtp.PortMemory, 1, reply))
}

func (fw *fakeFirmware) handleWrite(f *linktest.Fake, p crtp.Packet) {
	id := p.Data[0]
	addr := binary.LittleEndian.Uint32(p.Data[1:5])
	data := p.Data[5:]

	buf := fw.store[id]
	if int(addr)+len(data) > len(buf) {
		reply := append([]byte{id}, p.Data[1:5]...)
		reply = append(reply, 1)
		f.Push(crtp.MustNew(crtp.PortMemory, 2, reply))
		return
	}
	copy(buf[addr:], data)
	reply := append([]byte{id}, p.Data[1:5]...)
	reply = append(reply, 0)
	f.Push(crtp.MustNew(crtp.PortMemory, 2, reply))
}

func newTestMemory(t *testing.T) (*memory.Memory, func()) {
	t.Helper()
	fw := newFakeFirmware()
	fake := linktest.New()
	fake.Handler = fw.handle

	engine := conn.New(fake)
	m, err := memory.New(context.Background(), engine)
	require.NoError(t, err)
	return m, func() { _ = engine.Disconnect() }
}

func TestMemoryDiscovery(t *testing.T) {
	m, cleanup := newTestMemory(t)
	defer cleanup()

	devices := m.Devices(nil)
	require.Len(t, devices, 2)
	require.Equal(t, uint8(0), devices[0].ID)
	require.Equal(t, memory.TypeEEPROMConfig, devices[0].Type)
	require.Equal(t, uint8(1), devices[1].ID)
	require.Equal(t, memory.TypeUnknown, devices[1].Type)
}

func TestMemoryChunkedReadWrite(t *testing.T) {
	m, cleanup := newTestMemory(t)
	defer cleanup()
	ctx := context.Background()

	payload := make([]byte, 50)
	for i := range payload {
		payload[i] = byte(i)
	}

	var progressCalls [][2]int
	_, err := memory.Open(m, 1, func(b *memory.Backend) (struct{}, error) {
		if err := b.Write(ctx, 0, payload, func(done, total int) {
			progressCalls = append(progressCalls, [2]int{done, total})
		}); err != nil {
			return struct{}{}, err
		}
		got, err := b.Read(ctx, 0, 50, nil)
		if err != nil {
			return struct{}{}, err
		}
		require.Equal(t, payload, got)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, [][2]int{{24, 50}, {48, 50}, {50, 50}}, progressCalls)
}

func TestMemoryOpenUnknownID(t *testing.T) {
	m, cleanup := newTestMemory(t)
	defer cleanup()

	_, err := memory.Open(m, 99, func(b *memory.Backend) (struct{}, error) {
		return struct{}{}, nil
	})
	require.True(t, cferrors.IsMemoryError(err))
}

func TestMemoryOpenFailedCtorReturnsBackend(t *testing.T) {
	m, cleanup := newTestMemory(t)
	defer cleanup()

	_, err := memory.Open(m, 0, func(b *memory.Backend) (struct{}, error) {
		return struct{}{}, cferrors.NewMemoryError("wrong type")
	})
	require.True(t, cferrors.IsMemoryError(err))

	// The backend must have been returned to its slot, so a second open
	// succeeds instead of reporting "already loaned".
	_, err = memory.Open(m, 0, func(b *memory.Backend) (struct{}, error) {
		return struct{}{}, nil
	})
	require.NoError(t, err)
}

func TestMemoryDoubleOpenFails(t *testing.T) {
	m, cleanup := newTestMemory(t)
	defer cleanup()

	var held *memory.Backend
	_, err := memory.Open(m, 0, func(b *memory.Backend) (struct{}, error) {
		held = b
		return struct{}{}, nil
	})
	require.NoError(t, err)

	_, err = memory.Open(m, 0, func(b *memory.Backend) (struct{}, error) {
		return struct{}{}, nil
	})
	require.True(t, cferrors.IsMemoryError(err))

	memory.Close(m, held)
	_, err = memory.Open(m, 0, func(b *memory.Backend) (struct{}, error) {
		return struct{}{}, nil
	})
	require.NoError(t, err)
}
