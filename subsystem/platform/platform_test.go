package platform_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/link/linktest"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/platform"
)

type fakeFirmware struct{}

func (fakeFirmware) handle(f *linktest.Fake, p crtp.Packet) {
	if p.Port != crtp.PortPlatform || p.Channel != 1 {
		return
	}
	switch p.Data[0] {
	case 0:
		f.Push(crtp.MustNew(crtp.PortPlatform, 1, []byte{0, 5}))
	case 1:
		f.Push(crtp.MustNew(crtp.PortPlatform, 1, append([]byte{1}, []byte("2024.01")...)))
	case 2:
		f.Push(crtp.MustNew(crtp.PortPlatform, 1, append([]byte{2}, []byte("Crazyflie 2.1")...)))
	}
}

func newTestPlatform(t *testing.T) (*platform.Platform, *linktest.Fake, func()) {
	t.Helper()
	fw := fakeFirmware{}
	fake := linktest.New()
	fake.Handler = fw.handle
	engine := conn.New(fake)
	ctx, cancel := context.WithCancel(context.Background())
	p := platform.New(ctx, engine)
	return p, fake, func() { cancel(); _ = engine.Disconnect() }
}

func TestVersionQueries(t *testing.T) {
	p, _, cleanup := newTestPlatform(t)
	defer cleanup()
	ctx := context.Background()

	v, err := p.ProtocolVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, v)

	fw, err := p.FirmwareVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, "2024.01", fw)

	dt, err := p.DeviceTypeName(ctx)
	require.NoError(t, err)
	require.Equal(t, "Crazyflie 2.1", dt)
}

func TestAppChannelMTUEnforcedAtConstruction(t *testing.T) {
	_, err := platform.NewAppChannelPacket(make([]byte, 32))
	require.Error(t, err)

	pkt, err := platform.NewAppChannelPacket(make([]byte, 31))
	require.NoError(t, err)
	require.Len(t, pkt.Bytes(), 31)
}

func TestAppChannelSingleUse(t *testing.T) {
	p, fake, cleanup := newTestPlatform(t)
	defer cleanup()

	ch1, ok := p.AppChannel()
	require.True(t, ok)
	_, ok = p.AppChannel()
	require.False(t, ok)

	pkt, err := platform.NewAppChannelPacket([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, ch1.Send(context.Background(), pkt))
	require.Eventually(t, func() bool { return len(fake.Sent()) == 1 }, time.Second, time.Millisecond)
}
