package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/link/linktest"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/supervisor"
)

type fakeFirmware struct{ bitfield uint16 }

func (fw *fakeFirmware) handle(f *linktest.Fake, p crtp.Packet) {
	if p.Port != crtp.PortSupervisor || p.Channel != 0 {
		return
	}
	if p.Data[0] != 0x0C {
		return
	}
	f.Push(crtp.MustNew(crtp.PortSupervisor, 0, []byte{0x0C, byte(fw.bitfield), byte(fw.bitfield >> 8)}))
}

func newTestSupervisor(t *testing.T, bitfield uint16) (*supervisor.Supervisor, func()) {
	t.Helper()
	fw := &fakeFirmware{bitfield: bitfield}
	fake := linktest.New()
	fake.Handler = fw.handle
	engine := conn.New(fake)
	ctx, cancel := context.WithCancel(context.Background())
	s := supervisor.New(ctx, engine)
	return s, func() { cancel(); _ = engine.Disconnect() }
}

func TestSupervisorDecode(t *testing.T) {
	s, cleanup := newTestSupervisor(t, 0x001B)
	defer cleanup()

	info, err := s.ReadBitfield(context.Background())
	require.NoError(t, err)
	require.True(t, info.CanBeArmed())
	require.True(t, info.IsArmed())
	require.True(t, info.CanFly())
	require.True(t, info.IsFlying())
	require.False(t, info.IsTumbled())
	require.False(t, info.IsCrashed())
}

func TestSupervisorCaching(t *testing.T) {
	s, cleanup := newTestSupervisor(t, 0x0001)
	defer cleanup()

	_, err := s.ReadBitfield(context.Background())
	require.NoError(t, err)

	// second read falls within the TTL and is served from the cache
	info, err := s.ReadBitfield(context.Background())
	require.NoError(t, err)
	require.True(t, info.CanBeArmed())

	time.Sleep(150 * time.Millisecond)
	info2, err := s.ReadBitfield(context.Background())
	require.NoError(t, err)
	require.True(t, info2.CanBeArmed())
}

func TestArmingAndRecovery(t *testing.T) {
	s, cleanup := newTestSupervisor(t, 0)
	defer cleanup()

	require.NoError(t, s.SendArmingRequest(true))
	require.NoError(t, s.SendCrashRecoveryRequest())
}
