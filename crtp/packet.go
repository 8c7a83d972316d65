// Package crtp implements the binary unit of transport used by every
// subsystem: a CRTP (Crazy RealTime Protocol) packet addressed by a
// 4-bit port and a 2-bit channel, carrying at most 30 bytes of payload.
//
// It also defines Value/ValueType, the sum type over the 11 numeric
// primitives the device's TOC-driven subsystems (param, log) speak.
package crtp

import "github.com/bitcraze/crazyflie-lib-go/internal/cferrors"

const (
	// MaxPort is the highest valid port number (4 bits).
	MaxPort = 15
	// MaxChannel is the highest valid channel number (2 bits).
	MaxChannel = 3
	// MaxPayload is the largest payload a single CRTP packet can carry.
	MaxPayload = 30
)

// Well-known port assignments (spec.md §6).
const (
	PortConsole         = 0
	PortParam           = 2
	PortCommanderLegacy = 3
	PortMemory          = 4
	PortLog             = 5
	PortLocalization    = 6
	PortCommander       = 7
	PortHLCommander     = 8
	PortPlatform        = 13
	PortSupervisor      = 14
	PortLinkService     = 15
)

// Packet is the binary unit of transport: two identifying fields plus a
// raw payload. Packets are consumed once; equality and ordering are
// never needed.
type Packet struct {
	Port    uint8
	Channel uint8
	Data    []byte
}

// New validates port/channel/payload bounds at construction time, never
// at send time, matching §7's "before any I/O" policy for invalid
// arguments.
func New(port, channel uint8, data []byte) (Packet, error) {
	if port > MaxPort {
		return Packet{}, cferrors.NewInvalidArgument("port %d out of range [0,%d]", port, MaxPort)
	}
	if channel > MaxChannel {
		return Packet{}, cferrors.NewInvalidArgument("channel %d out of range [0,%d]", channel, MaxChannel)
	}
	if len(data) > MaxPayload {
		return Packet{}, cferrors.NewInvalidArgument("payload length %d exceeds %d bytes", len(data), MaxPayload)
	}
	return Packet{Port: port, Channel: channel, Data: data}, nil
}

// MustNew is New but panics on an invalid argument; reserved for
// call sites constructing packets from already-validated constants
// (e.g. fixed protocol command bytes).
func MustNew(port, channel uint8, data []byte) Packet {
	p, err := New(port, channel, data)
	if err != nil {
		panic(err)
	}
	return p
}
