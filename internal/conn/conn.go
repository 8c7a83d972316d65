// Package conn implements the always-on halves of the connection
// lifecycle: the uplink pump (C3) and the downlink dispatcher (C4),
// plus the per-port and per-channel fan-out every subsystem is built
// on. It is grounded on the teacher's transport package (a single
// goroutine draining a work channel into the wire, per
// transport/sendmsg.go's MsgStream.Read select loop) adapted from HTTP
// streaming to CRTP framing, and on transport/collect.go's
// done-channel-driven goroutine lifecycle.
package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bitcraze/crazyflie-lib-go/cmn/nlog"
	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/link"
)

// dispatchPollInterval bounds how often the downlink dispatcher re-polls
// Receive; spec.md §4.1 calls for ~200ms. The uplink pump does not need
// an equivalent constant: its queue is a Go channel-backed structure
// woken immediately by Push/Close, so disconnect is observed without
// polling (see Engine.runUplink).
const dispatchPollInterval = 200 * time.Millisecond

// Engine owns the link handle and the two always-on goroutines. One
// Engine exists per Client (spec.md's "Connection state").
type Engine struct {
	l link.Link

	ctx    context.Context
	cancel context.CancelFunc

	disconnectFlag atomic.Bool
	disconnectOnce sync.Once

	uplink  *UnboundedQueue[crtp.Packet]
	limiter *rate.Limiter // nil: uplink is unthrottled

	mu    sync.Mutex
	ports map[uint8]chan crtp.Packet

	wg sync.WaitGroup
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithUplinkRateLimit throttles the uplink pump to r packets/second with
// the given burst, for a ground station sharing radio airtime with other
// drones. Unset, the uplink pump sends as fast as the link accepts.
func WithUplinkRateLimit(r rate.Limit, burst int) Option {
	return func(e *Engine) { e.limiter = rate.NewLimiter(r, burst) }
}

// New starts the uplink pump and downlink dispatcher immediately. Ports
// must be registered with RegisterPort before any packet for that port
// can be observed; packets for unregistered ports are dropped silently
// per spec.md §4.1.
func New(l link.Link, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		l:      l,
		ctx:    ctx,
		cancel: cancel,
		uplink: NewUnboundedQueue[crtp.Packet](),
		ports:  make(map[uint8]chan crtp.Packet),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.wg.Add(2)
	go e.runUplink()
	go e.runDownlink()
	return e
}

// RegisterPort creates the inbound channel a subsystem reads from for
// packets addressed to port. Each port may be registered at most once.
func (e *Engine) RegisterPort(port uint8, bufSize int) <-chan crtp.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	debugAssertPortFree(e.ports, port)
	ch := make(chan crtp.Packet, bufSize)
	e.ports[port] = ch
	return ch
}

func debugAssertPortFree(ports map[uint8]chan crtp.Packet, port uint8) {
	if _, exists := ports[port]; exists {
		panic("conn: port already registered")
	}
}

// Enqueue places p on the shared uplink queue. It never blocks.
func (e *Engine) Enqueue(p crtp.Packet) error {
	if e.disconnectFlag.Load() {
		return cferrors.Disconnected
	}
	e.uplink.Push(p)
	return nil
}

// Disconnected reports whether Disconnect has completed or is in
// progress.
func (e *Engine) Disconnected() bool { return e.disconnectFlag.Load() }

// Done is closed once the disconnect flag has been raised, letting
// subsystem goroutines select on disconnection without polling.
func (e *Engine) Done() <-chan struct{} { return e.ctx.Done() }

// Disconnect raises the flag, waits for both goroutines to exit, and
// closes the link exactly once. Calling it more than once is a no-op
// after the first call's effects land (spec.md §4.8 idempotence).
func (e *Engine) Disconnect() error {
	var closeErr error
	e.disconnectOnce.Do(func() {
		e.disconnectFlag.Store(true)
		e.cancel()
		e.uplink.Close()
		e.wg.Wait()
		closeErr = e.l.Close()
	})
	return closeErr
}

// WaitDisconnect blocks until the link's own Receive side reports
// closure (i.e. the downlink dispatcher has exited because the
// transport failed) and then runs Disconnect.
func (e *Engine) WaitDisconnect() error {
	<-e.ctx.Done()
	return e.Disconnect()
}

func (e *Engine) runUplink() {
	defer e.wg.Done()
	for {
		p, ok := e.uplink.Pop()
		if !ok {
			return // queue closed: disconnect in progress
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(e.ctx); err != nil {
				return // ctx canceled: disconnect in progress
			}
		}
		if err := e.l.Send(e.ctx, p); err != nil {
			nlog.Warningf("conn: uplink send failed, disconnecting: %v", err)
			e.disconnectFlag.Store(true)
			e.cancel()
			return
		}
	}
}

func (e *Engine) runDownlink() {
	defer e.wg.Done()
	for {
		if e.ctx.Err() != nil {
			return
		}
		rctx, cancel := context.WithTimeout(e.ctx, dispatchPollInterval)
		p, err := e.l.Receive(rctx)
		cancel()
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			if rctx.Err() != nil {
				continue // benign poll timeout, recheck disconnect flag
			}
			nlog.Warningf("conn: downlink receive failed, disconnecting: %v", err)
			e.disconnectFlag.Store(true)
			e.cancel()
			return
		}
		e.route(p)
	}
}

func (e *Engine) route(p crtp.Packet) {
	if p.Port > crtp.MaxPort {
		return
	}
	e.mu.Lock()
	ch, ok := e.ports[p.Port]
	e.mu.Unlock()
	if !ok {
		return // unregistered port: dropped silently per spec.md §4.1
	}
	select {
	case ch <- p:
	default:
		nlog.Warningf("conn: port %d inbound buffer full, dropping packet", p.Port)
	}
}

// SplitChannels fans a port's inbound stream out into exactly 4
// per-channel receivers (spec.md §4.1's "secondary channel dispatcher").
// Packets with channel >= 4 are dropped. The returned channels close
// when in closes or ctx is done.
func SplitChannels(ctx context.Context, in <-chan crtp.Packet, bufSize int) [4]chan crtp.Packet {
	var out [4]chan crtp.Packet
	for i := range out {
		out[i] = make(chan crtp.Packet, bufSize)
	}
	go func() {
		defer func() {
			for i := range out {
				close(out[i])
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-in:
				if !ok {
					return
				}
				if p.Channel > crtp.MaxChannel {
					continue
				}
				select {
				case out[p.Channel] <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
