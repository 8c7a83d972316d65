package hlcommander_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/link/linktest"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/hlcommander"
)

func newTestHL(t *testing.T) (*hlcommander.HLCommander, *linktest.Fake, func()) {
	t.Helper()
	fake := linktest.New()
	engine := conn.New(fake)
	return hlcommander.New(engine), fake, func() { _ = engine.Disconnect() }
}

func TestTakeOffDefaultYaw(t *testing.T) {
	h, fake, cleanup := newTestHL(t)
	defer cleanup()

	require.NoError(t, h.TakeOff(context.Background(), 0.5, nil, 2.0, nil))
	require.Eventually(t, func() bool { return len(fake.Sent()) == 1 }, time.Second, time.Millisecond)

	data := fake.Sent()[0].Data
	require.Equal(t, byte(7), data[0])  // cmdTakeOff
	require.Equal(t, byte(0), data[1])  // ALLGroups
	require.Equal(t, byte(1), data[10]) // use_current_yaw
}

func TestSpiralValidation(t *testing.T) {
	h, _, cleanup := newTestHL(t)
	defer cleanup()

	err := h.Spiral(context.Background(), 7.0, 0, 1, 0, 1, false, true, nil)
	require.True(t, cferrors.IsInvalidArgument(err))

	err = h.Spiral(context.Background(), 1.0, -1, 1, 0, 1, false, true, nil)
	require.True(t, cferrors.IsInvalidArgument(err))
}

func TestDefineAndStartTrajectory(t *testing.T) {
	h, fake, cleanup := newTestHL(t)
	defer cleanup()

	require.NoError(t, h.DefineTrajectory(context.Background(), 1, 0, 4, nil))
	require.NoError(t, h.StartTrajectory(context.Background(), 1, 1.0, false, false, false, nil))
	require.Eventually(t, func() bool { return len(fake.Sent()) == 2 }, time.Second, time.Millisecond)

	define := fake.Sent()[0].Data
	require.Equal(t, byte(6), define[0])
	require.Equal(t, byte(1), define[1])  // trajectory id
	require.Equal(t, byte(1), define[2])  // location: mem
	require.Equal(t, byte(0), define[3])  // type: poly4d
}
