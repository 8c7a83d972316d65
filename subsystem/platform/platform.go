// Package platform implements the platform services subsystem (spec.md
// §4.7, §6): protocol/firmware/device-type version queries, a
// fire-and-forget arming command, and the app-channel sub-API. This
// package sends no crash-recovery command.
// It is grounded on original_source/src/subsystems/platform.rs, adapted
// from a futures Sink/Stream pair over the app channel to a typed
// AppChannel struct holding *conn.Engine plus the channel-1 receiver,
// and from a bare version_comm mutex to the param/memory subsystems'
// request-in-flight mutex + awaitEcho pattern.
package platform

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
)

const (
	chanCommand = 0
	chanVersion = 1
	chanApp     = 2
)

const (
	versionGetProtocol   = 0
	versionGetFirmware   = 1
	versionGetDeviceType = 2
)

const (
	commandArmSystem = 1
	commandSetContWave = 0
)

// AppchannelMTU is the largest payload an app-channel packet may carry
// (spec.md §4.7).
const AppchannelMTU = 31

const requestTimeout = 5 * time.Second

// Platform exposes version queries, the arming command, and
// the app channel.
type Platform struct {
	engine *conn.Engine

	versionMu sync.Mutex // serializes version channel request/response
	versionCh <-chan crtp.Packet

	appOnce sync.Once
	appCh   <-chan crtp.Packet
}

func New(ctx context.Context, engine *conn.Engine) *Platform {
	raw := engine.RegisterPort(crtp.PortPlatform, 64)
	chans := conn.SplitChannels(ctx, raw, 32)
	return &Platform{
		engine:    engine,
		versionCh: chans[chanVersion],
		appCh:     chans[chanApp],
	}
}

func (p *Platform) versionRequest(ctx context.Context, query byte) (crtp.Packet, error) {
	p.versionMu.Lock()
	defer p.versionMu.Unlock()

	pk, err := crtp.New(crtp.PortPlatform, chanVersion, []byte{query})
	if err != nil {
		return crtp.Packet{}, err
	}
	if err := p.engine.Enqueue(pk); err != nil {
		return crtp.Packet{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	for {
		select {
		case <-cctx.Done():
			return crtp.Packet{}, cferrors.NewTimeout("platform version request")
		case reply, ok := <-p.versionCh:
			if !ok {
				return crtp.Packet{}, cferrors.Disconnected
			}
			if len(reply.Data) < 1 || reply.Data[0] != query {
				continue // stale/unrelated reply
			}
			return reply, nil
		}
	}
}

// ProtocolVersion fetches the device's negotiated CRTP protocol version.
func (p *Platform) ProtocolVersion(ctx context.Context) (int, error) {
	reply, err := p.versionRequest(ctx, versionGetProtocol)
	if err != nil {
		return 0, err
	}
	if len(reply.Data) < 2 {
		return 0, cferrors.NewProtocolError("malformed protocol version reply")
	}
	return int(reply.Data[1]), nil
}

// FirmwareVersion fetches the human-readable firmware version string.
func (p *Platform) FirmwareVersion(ctx context.Context) (string, error) {
	reply, err := p.versionRequest(ctx, versionGetFirmware)
	if err != nil {
		return "", err
	}
	if len(reply.Data) < 1 {
		return "", cferrors.NewProtocolError("malformed firmware version reply")
	}
	return string(reply.Data[1:]), nil
}

// DeviceTypeName fetches the name of the physical device running the
// firmware (e.g. "Crazyflie 2.1").
func (p *Platform) DeviceTypeName(ctx context.Context) (string, error) {
	reply, err := p.versionRequest(ctx, versionGetDeviceType)
	if err != nil {
		return "", err
	}
	if len(reply.Data) < 1 {
		return "", cferrors.NewProtocolError("malformed device type reply")
	}
	return string(reply.Data[1:]), nil
}

// ArmingRequest arms or disarms the system.
func (p *Platform) ArmingRequest(ctx context.Context, doArm bool) error {
	var arm byte
	if doArm {
		arm = 1
	}
	pk, err := crtp.New(crtp.PortPlatform, chanCommand, []byte{commandArmSystem, arm})
	if err != nil {
		return err
	}
	return p.engine.Enqueue(pk)
}

// AppChannel hands out the typed sink+stream over the app channel. It
// may be obtained only once per connection; later calls return false.
func (p *Platform) AppChannel() (*AppChannel, bool) {
	var ch *AppChannel
	taken := true
	p.appOnce.Do(func() {
		ch = &AppChannel{engine: p.engine, in: p.appCh}
		taken = false
	})
	if taken {
		return nil, false
	}
	return ch, true
}

// AppChannelPacket wraps a byte payload guaranteed to respect
// AppchannelMTU.
type AppChannelPacket struct{ data []byte }

// NewAppChannelPacket validates data against AppchannelMTU.
func NewAppChannelPacket(data []byte) (AppChannelPacket, error) {
	if len(data) > AppchannelMTU {
		return AppChannelPacket{}, cferrors.NewAppchannelPacketTooLarge(len(data), AppchannelMTU)
	}
	return AppChannelPacket{data: bytes.Clone(data)}, nil
}

// Bytes returns the packet's payload.
func (p AppChannelPacket) Bytes() []byte { return p.data }

// AppChannel is a typed sink+stream over port 13 channel 2, enforcing
// the 31-byte MTU at the type boundary rather than at send time.
type AppChannel struct {
	engine *conn.Engine
	in     <-chan crtp.Packet
}

// Send transmits an app-channel packet.
func (a *AppChannel) Send(ctx context.Context, pkt AppChannelPacket) error {
	pk, err := crtp.New(crtp.PortPlatform, chanApp, pkt.data)
	if err != nil {
		return err
	}
	return a.engine.Enqueue(pk)
}

// Receive blocks until the next app-channel packet arrives or ctx is
// done.
func (a *AppChannel) Receive(ctx context.Context) (AppChannelPacket, error) {
	select {
	case pk, ok := <-a.in:
		if !ok {
			return AppChannelPacket{}, cferrors.Disconnected
		}
		return AppChannelPacket{data: pk.Data}, nil
	case <-ctx.Done():
		return AppChannelPacket{}, ctx.Err()
	}
}
