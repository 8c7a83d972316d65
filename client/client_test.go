package client_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitcraze/crazyflie-lib-go/client"
	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/link/linktest"
)

// fakeFirmware answers just enough of the platform/param/log/memory
// wire protocols (spec.md §6) to let a Client fully bring up: a fixed
// protocol version and empty param/log/memory tables of contents.
type fakeFirmware struct {
	protocolVersion byte
}

func (fw *fakeFirmware) handle(f *linktest.Fake, p crtp.Packet) {
	switch p.Port {
	case crtp.PortPlatform:
		fw.handlePlatform(f, p)
	case crtp.PortParam:
		fw.handleEmptyTOC(f, crtp.PortParam, p)
	case crtp.PortLog:
		fw.handleEmptyTOC(f, crtp.PortLog, p)
	case crtp.PortMemory:
		fw.handleMemory(f, p)
	}
}

func (fw *fakeFirmware) handlePlatform(f *linktest.Fake, p crtp.Packet) {
	if p.Channel != 1 || len(p.Data) == 0 {
		return
	}
	switch p.Data[0] {
	case 0: // protocol version
		f.Push(crtp.MustNew(crtp.PortPlatform, 1, []byte{0, fw.protocolVersion}))
	case 1: // firmware version
		f.Push(crtp.MustNew(crtp.PortPlatform, 1, append([]byte{1}, "2024.01\x00"...)))
	case 2: // device type
		f.Push(crtp.MustNew(crtp.PortPlatform, 1, append([]byte{2}, "Crazyflie 2.1\x00"...)))
	}
}

func (fw *fakeFirmware) handleEmptyTOC(f *linktest.Fake, port uint8, p crtp.Packet) {
	if p.Channel != 0 || len(p.Data) == 0 || p.Data[0] != 0x03 {
		return
	}
	reply := make([]byte, 7)
	reply[0] = 0x03
	binary.LittleEndian.PutUint16(reply[1:3], 0)
	binary.LittleEndian.PutUint32(reply[3:7], 0x11223344)
	f.Push(crtp.MustNew(port, 0, reply))
}

func (fw *fakeFirmware) handleMemory(f *linktest.Fake, p crtp.Packet) {
	if p.Channel != 0 || len(p.Data) == 0 || p.Data[0] != 1 {
		return
	}
	f.Push(crtp.MustNew(crtp.PortMemory, 0, []byte{1, 0}))
}

func newTestClient(t *testing.T, protocolVersion byte) (*client.Client, *linktest.Fake) {
	t.Helper()
	fw := &fakeFirmware{protocolVersion: protocolVersion}
	fake := linktest.New()
	fake.Handler = fw.handle

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.New(ctx, fake, client.Options{})
	require.NoError(t, err)
	return c, fake
}

func TestNewBringsUpEverySubsystem(t *testing.T) {
	c, _ := newTestClient(t, client.SupportedProtocolVersion)
	defer func() { _ = c.Disconnect() }()

	require.Equal(t, client.SupportedProtocolVersion, c.ProtocolVersion)
	require.NotNil(t, c.Param)
	require.NotNil(t, c.Log)
	require.NotNil(t, c.Memory)
	require.NotNil(t, c.Commander)
	require.NotNil(t, c.HLCommander)
	require.NotNil(t, c.Console)
	require.NotNil(t, c.Localization)
	require.NotNil(t, c.Platform)
	require.NotNil(t, c.Supervisor)
	require.NotNil(t, c.LinkDiag)
	require.NotEmpty(t, c.SessionID())
}

func TestNewAcceptsOneVersionAboveSupported(t *testing.T) {
	c, _ := newTestClient(t, client.SupportedProtocolVersion+1)
	defer func() { _ = c.Disconnect() }()
	require.Equal(t, client.SupportedProtocolVersion+1, c.ProtocolVersion)
}

func TestNewRejectsUnsupportedProtocolVersion(t *testing.T) {
	fw := &fakeFirmware{protocolVersion: client.SupportedProtocolVersion + 5}
	fake := linktest.New()
	fake.Handler = fw.handle

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.New(ctx, fake, client.Options{})
	require.Error(t, err)
	require.True(t, cferrors.IsProtocolVersionNotSupported(err))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t, client.SupportedProtocolVersion)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	require.True(t, c.Disconnected())
}
