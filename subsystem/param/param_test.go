package param_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/link"
	"github.com/bitcraze/crazyflie-lib-go/link/linktest"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/param"
	"github.com/bitcraze/crazyflie-lib-go/toccache"
)

const (
	idU8      = uint16(0)
	idPersist = uint16(1)
)

// fakeFirmware emulates just enough of the param port's wire protocol
// (spec.md §4.3, §4.4) to drive the Go client through every operation.
type fakeFirmware struct {
	mu        sync.Mutex
	u8Value   byte
	persist   uint16
	stored    bool
	storedVal uint16
	defVal    uint16
}

func newFakeFirmware() *fakeFirmware {
	return &fakeFirmware{u8Value: 7, persist: 1000, defVal: 1000}
}

func (fw *fakeFirmware) handle(f *linktest.Fake, p crtp.Packet) {
	if p.Port != crtp.PortParam {
		return
	}
	switch p.Channel {
	case 0:
		fw.handleTOC(f, p)
	case 1:
		fw.handleRead(f, p)
	case 2:
		fw.handleWrite(f, p)
	case 3:
		fw.handleMisc(f, p)
	}
}

func (fw *fakeFirmware) handleTOC(f *linktest.Fake, p crtp.Packet) {
	if len(p.Data) == 0 {
		return
	}
	switch p.Data[0] {
	case 0x03: // INFO
		reply := make([]byte, 7)
		reply[0] = 0x03
		binary.LittleEndian.PutUint16(reply[1:3], 2)
		binary.LittleEndian.PutUint32(reply[3:7], 0xDEADBEEF)
		f.Push(crtp.MustNew(crtp.PortParam, 0, reply))
	case 0x02: // GET_ITEM
		idx := binary.LittleEndian.Uint16(p.Data[1:3])
		var reply []byte
		switch idx {
		case 0:
			reply = append([]byte{0x02, 0, 0, 0x08}, []byte("grp\x00u8\x00")...)
		case 1:
			reply = append([]byte{0x02, 1, 0, 0x19}, []byte("grp\x00persist\x00")...)
		default:
			return
		}
		f.Push(crtp.MustNew(crtp.PortParam, 0, reply))
	}
}

func (fw *fakeFirmware) handleRead(f *linktest.Fake, p crtp.Packet) {
	if len(p.Data) < 2 {
		return
	}
	id := binary.LittleEndian.Uint16(p.Data[:2])
	fw.mu.Lock()
	defer fw.mu.Unlock()
	var valBytes []byte
	switch id {
	case idU8:
		valBytes = []byte{fw.u8Value}
	case idPersist:
		valBytes = crtp.NewU16(fw.persist).ToBytes()
	default:
		return
	}
	reply := append([]byte{p.Data[0], p.Data[1], 0x00}, valBytes...)
	f.Push(crtp.MustNew(crtp.PortParam, 1, reply))
}

func (fw *fakeFirmware) handleWrite(f *linktest.Fake, p crtp.Packet) {
	if len(p.Data) < 2 {
		return
	}
	id := binary.LittleEndian.Uint16(p.Data[:2])
	value := p.Data[2:]
	fw.mu.Lock()
	switch id {
	case idU8:
		fw.u8Value = value[0]
	case idPersist:
		fw.persist = binary.LittleEndian.Uint16(value)
	default:
		fw.mu.Unlock()
		f.Push(crtp.MustNew(crtp.PortParam, 2, []byte{p.Data[0], p.Data[1], 0x02}))
		return
	}
	fw.mu.Unlock()
	reply := append([]byte{p.Data[0], p.Data[1]}, value...)
	f.Push(crtp.MustNew(crtp.PortParam, 2, reply))
}

func (fw *fakeFirmware) handleMisc(f *linktest.Fake, p crtp.Packet) {
	if len(p.Data) < 3 {
		return
	}
	cmd := p.Data[0]
	id := binary.LittleEndian.Uint16(p.Data[1:3])
	fw.mu.Lock()
	defer fw.mu.Unlock()

	switch cmd {
	case 7: // GET_EXTENDED_TYPE_V2
		if id != idPersist {
			f.Push(crtp.MustNew(crtp.PortParam, 3, []byte{cmd, p.Data[1], p.Data[2], 0x02}))
			return
		}
		f.Push(crtp.MustNew(crtp.PortParam, 3, []byte{cmd, p.Data[1], p.Data[2], 0x00, 0x01}))
	case 8: // GET_DEFAULT_VALUE_V2
		if id != idPersist {
			f.Push(crtp.MustNew(crtp.PortParam, 3, []byte{cmd, p.Data[1], p.Data[2], 0x02}))
			return
		}
		reply := append([]byte{cmd, p.Data[1], p.Data[2], 0x00}, crtp.NewU16(fw.defVal).ToBytes()...)
		f.Push(crtp.MustNew(crtp.PortParam, 3, reply))
	case 4: // PERSISTENT_GET_STATE
		var reply []byte
		if fw.stored {
			reply = append([]byte{cmd, p.Data[1], p.Data[2], 0x01}, crtp.NewU16(fw.defVal).ToBytes()...)
			reply = append(reply, crtp.NewU16(fw.storedVal).ToBytes()...)
		} else {
			reply = append([]byte{cmd, p.Data[1], p.Data[2], 0x00}, crtp.NewU16(fw.defVal).ToBytes()...)
		}
		f.Push(crtp.MustNew(crtp.PortParam, 3, reply))
	case 3: // PERSISTENT_STORE
		fw.stored = true
		fw.storedVal = fw.persist
		f.Push(crtp.MustNew(crtp.PortParam, 3, []byte{cmd, p.Data[1], p.Data[2], 0x00}))
	case 5: // PERSISTENT_CLEAR
		fw.stored = false
		f.Push(crtp.MustNew(crtp.PortParam, 3, []byte{cmd, p.Data[1], p.Data[2], 0x00}))
	}
}

func newTestParam(t *testing.T) (*param.Param, *fakeFirmware, func()) {
	t.Helper()
	fw := newFakeFirmware()
	fake := linktest.New()
	fake.Handler = fw.handle

	engine := conn.New(fake)
	ctx := context.Background()
	p, err := param.New(ctx, engine, toccache.NoCache{}, 0)
	require.NoError(t, err)

	return p, fw, func() { _ = engine.Disconnect() }
}

func TestParamNamesAndTypes(t *testing.T) {
	p, _, cleanup := newTestParam(t)
	defer cleanup()

	require.ElementsMatch(t, []string{"grp.u8", "grp.persist"}, p.Names())

	typ, err := p.TypeOf("grp.u8")
	require.NoError(t, err)
	require.Equal(t, crtp.U8, typ)

	writable, err := p.IsWritable("grp.u8")
	require.NoError(t, err)
	require.True(t, writable)

	_, err = p.TypeOf("grp.nonexistent")
	require.True(t, cferrors.IsVariableNotFound(err))
}

func TestParamGetSet(t *testing.T) {
	p, _, cleanup := newTestParam(t)
	defer cleanup()
	ctx := context.Background()

	v, err := p.Get(ctx, "grp.u8")
	require.NoError(t, err)
	got, err := v.AsU8()
	require.NoError(t, err)
	require.Equal(t, byte(7), got)

	require.NoError(t, p.Set(ctx, "grp.u8", crtp.NewU8(42)))

	v, err = p.Get(ctx, "grp.u8")
	require.NoError(t, err)
	got, err = v.AsU8()
	require.NoError(t, err)
	require.Equal(t, byte(42), got)

	err = p.Set(ctx, "grp.u8", crtp.NewU16(1))
	require.True(t, cferrors.IsParamError(err))
}

func TestParamGetLossySetLossy(t *testing.T) {
	p, _, cleanup := newTestParam(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, p.SetLossy(ctx, "grp.u8", 257)) // truncates to 1
	f, err := p.GetLossy(ctx, "grp.u8")
	require.NoError(t, err)
	require.Equal(t, float64(1), f)
}

func TestParamPersistence(t *testing.T) {
	p, _, cleanup := newTestParam(t)
	defer cleanup()
	ctx := context.Background()

	persistent, err := p.IsPersistent(ctx, "grp.persist")
	require.NoError(t, err)
	require.True(t, persistent)

	persistent, err = p.IsPersistent(ctx, "grp.u8")
	require.NoError(t, err)
	require.False(t, persistent)

	def, err := p.GetDefaultValue(ctx, "grp.persist")
	require.NoError(t, err)
	dv, err := def.AsU16()
	require.NoError(t, err)
	require.Equal(t, uint16(1000), dv)

	state, err := p.PersistentGetState(ctx, "grp.persist")
	require.NoError(t, err)
	require.False(t, state.Stored)

	require.NoError(t, p.Set(ctx, "grp.persist", crtp.NewU16(55)))
	require.NoError(t, p.PersistentStore(ctx, "grp.persist"))

	state, err = p.PersistentGetState(ctx, "grp.persist")
	require.NoError(t, err)
	require.True(t, state.Stored)
	sv, err := state.StoredValue.AsU16()
	require.NoError(t, err)
	require.Equal(t, uint16(55), sv)

	require.NoError(t, p.PersistentClear(ctx, "grp.persist"))
	state, err = p.PersistentGetState(ctx, "grp.persist")
	require.NoError(t, err)
	require.False(t, state.Stored)

	_, err = p.PersistentGetState(ctx, "grp.u8")
	require.True(t, cferrors.IsParamError(err))
}

func TestParamWatchChange(t *testing.T) {
	p, _, cleanup := newTestParam(t)
	defer cleanup()
	ctx := context.Background()

	w := p.WatchChange()
	defer w.Unsubscribe()

	require.NoError(t, p.Set(ctx, "grp.u8", crtp.NewU8(9)))

	select {
	case u := <-w.Updates():
		require.Equal(t, "grp.u8", u.Name)
		v, err := u.Value.AsU8()
		require.NoError(t, err)
		require.Equal(t, byte(9), v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watcher update")
	}
}

var _ link.Link = (*linktest.Fake)(nil)
