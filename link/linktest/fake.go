// Package linktest provides an in-memory Link used by every subsystem's
// tests, playing the role the teacher's ais/test/target_mock.go plays
// for a mocked cluster target: a deterministic stand-in for the real
// transport that lets tests drive request/response exchanges without a
// radio.
package linktest

import (
	"context"
	"sync"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/link"
)

// Fake is a loopback Link: packets sent via Send land in Sent for the
// test to inspect, and packets queued via Push are what Receive
// eventually returns. A Handler, if set, is invoked synchronously for
// every sent packet and may Push a reply before Send returns — modeling
// a device that answers immediately.
type Fake struct {
	mu     sync.Mutex
	sent   []crtp.Packet
	inbox  chan crtp.Packet
	closed bool

	Handler func(f *Fake, p crtp.Packet)
	stats   link.Stats
	hasStat bool
}

func New() *Fake {
	return &Fake{inbox: make(chan crtp.Packet, 4096)}
}

func (f *Fake) Send(_ context.Context, p crtp.Packet) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return context.Canceled
	}
	f.sent = append(f.sent, p)
	h := f.Handler
	f.mu.Unlock()
	if h != nil {
		h(f, p)
	}
	return nil
}

func (f *Fake) Receive(ctx context.Context) (crtp.Packet, error) {
	select {
	case p, ok := <-f.inbox:
		if !ok {
			return crtp.Packet{}, context.Canceled
		}
		return p, nil
	case <-ctx.Done():
		return crtp.Packet{}, ctx.Err()
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

// Push enqueues p as if the device had sent it downlink.
func (f *Fake) Push(p crtp.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.inbox <- p
}

// Sent returns a snapshot of every packet handed to Send so far.
func (f *Fake) Sent() []crtp.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]crtp.Packet, len(f.sent))
	copy(out, f.sent)
	return out
}

// SetStats configures the value LinkStats returns, and makes *Fake
// satisfy link.StatsProvider.
func (f *Fake) SetStats(s link.Stats) {
	f.mu.Lock()
	f.stats, f.hasStat = s, true
	f.mu.Unlock()
}

func (f *Fake) LinkStats() (link.Stats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.hasStat
}

var _ link.Link = (*Fake)(nil)
var _ link.StatsProvider = (*Fake)(nil)
