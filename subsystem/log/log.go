// Package log implements the log subsystem (spec.md §4.5): dynamically
// composed blocks of named firmware variables sampled at a fixed period
// and streamed back as fixed-layout packets.
package log

import (
	"bytes"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitcraze/crazyflie-lib-go/cmn/nlog"
	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/toc"
	"github.com/bitcraze/crazyflie-lib-go/toccache"
)

// Internal channel layout on the log port (spec.md §4.5).
const (
	chanTOC     = 0
	chanControl = 1
	chanData    = 2
)

// Control command bytes.
const (
	cmdDeleteBlock    = 2
	cmdStartBlock     = 3
	cmdStopBlock      = 4
	cmdReset          = 5
	cmdCreateBlockV2  = 6
	cmdAppendBlockV2  = 7
)

const requestTimeout = 5 * time.Second

// liveness is the Go stand-in for the original's Weak<()> + Arc<()>
// ownership token: a Block holds one strong reference, the subsystem
// holds the token itself (not a weak pointer — Go has none pre-1.24)
// and relies on an explicit Close or, failing that, a finalizer to mark
// it dead before the next CreateBlock sweeps it.
type liveness struct {
	alive atomic.Bool
}

// Log is the handle returned by a Client's Log field. All methods are
// safe for concurrent use.
type Log struct {
	engine *conn.Engine
	table  *toc.Table[itemInfo]

	controlMu sync.Mutex
	controlCh <-chan crtp.Packet

	idMu      sync.Mutex
	nextID    uint16 // wide enough to detect the uint8 wraparound as exhaustion
	exhausted bool

	blocksMu sync.Mutex
	blocks   map[uint8]*liveness

	dataMu    sync.Mutex
	dataSinks map[uint8]chan crtp.Packet
}

// RegisterPort claims the log port and starts routing its three
// channels. Call this immediately after the engine is constructed
// (spec.md §4.8 step 2), before protocol version negotiation, so no
// unsolicited log data is dropped while negotiation is in flight. Pass
// the result to Continue once the negotiated version tag is known.
func RegisterPort(ctx context.Context, engine *conn.Engine) [4]chan crtp.Packet {
	raw := engine.RegisterPort(crtp.PortLog, 64)
	return conn.SplitChannels(ctx, raw, 32)
}

// Continue finishes log subsystem construction: it fetches the TOC,
// which needs the protocol version tag only known after negotiation
// (spec.md §4.8 step 4), resets any blocks left over from a prior
// session, and starts the data-routing goroutine. chans must be the
// result of a prior RegisterPort call on the same engine.
func Continue(ctx context.Context, engine *conn.Engine, chans [4]chan crtp.Packet, cache toccache.Cache, versionTag byte) (*Log, error) {
	tocEnqueue := func(payload []byte) error {
		pk, err := crtp.New(crtp.PortLog, chanTOC, payload)
		if err != nil {
			return err
		}
		return engine.Enqueue(pk)
	}
	table, err := toc.Fetch[itemInfo](ctx, tocEnqueue, chans[chanTOC], versionTag, cache, itemCodec{})
	if err != nil {
		return nil, cferrors.Wrap(err, "log: TOC discovery failed")
	}

	l := &Log{
		engine:    engine,
		table:     table,
		controlCh: chans[chanControl],
		blocks:    make(map[uint8]*liveness),
		dataSinks: make(map[uint8]chan crtp.Packet),
	}

	if err := l.reset(ctx); err != nil {
		return nil, cferrors.Wrap(err, "log: reset failed")
	}
	go l.dataDispatcher(ctx, chans[chanData])

	return l, nil
}

// New registers the log port and fetches its TOC in one call.
// versionTag identifies the negotiated protocol version for TOC cache
// keying (spec.md §4.3); cache may be toccache.NoCache{}. Callers that
// must register the port before protocol negotiation completes (as
// client.New does) should call RegisterPort and Continue separately.
func New(ctx context.Context, engine *conn.Engine, cache toccache.Cache, versionTag byte) (*Log, error) {
	return Continue(ctx, engine, RegisterPort(ctx, engine), cache, versionTag)
}

func (l *Log) reset(ctx context.Context) error {
	data, err := l.controlRoundtrip(ctx, []byte{cmdReset}, []byte{cmdReset})
	if err != nil {
		return err
	}
	if len(data) < 3 || data[2] != 0 {
		return cferrors.NewProtocolError("unexpected RESET reply: % x", data)
	}
	return nil
}

// dataDispatcher reads channel-2 samples and routes each to the sender
// registered for its block id (spec.md §4.5 "Data routing"). Samples for
// an unknown or already-removed block are dropped.
func (l *Log) dataDispatcher(ctx context.Context, in <-chan crtp.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pk, ok := <-in:
			if !ok {
				return
			}
			if len(pk.Data) <= 1 {
				continue
			}
			id := pk.Data[0]
			l.dataMu.Lock()
			sink, ok := l.dataSinks[id]
			l.dataMu.Unlock()
			if !ok {
				continue
			}
			select {
			case sink <- pk:
			default:
				nlog.Warningf("log: block %d data sink full, dropping sample", id)
			}
		}
	}
}

// Names lists every "group.variable" log variable name.
func (l *Log) Names() []string { return l.table.Names() }

// TypeOf returns the wire type of a log variable.
func (l *Log) TypeOf(name string) (crtp.ValueType, error) {
	e, ok := l.table.Lookup(name)
	if !ok {
		return 0, cferrors.NewVariableNotFound(name)
	}
	return e.Info.ItemType, nil
}

func (l *Log) nextBlockID() (uint8, error) {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	if l.exhausted {
		return 0, cferrors.NewLogError("no more block ids available")
	}
	id := uint8(l.nextID)
	if l.nextID == 255 {
		l.exhausted = true
	} else {
		l.nextID++
	}
	return id, nil
}

// cleanupBlocks sweeps blocks whose liveness token has gone dead
// (explicit Close or GC finalizer) and deletes their server-side
// resource, per spec.md §9's intrusive-liveness-token design note.
func (l *Log) cleanupBlocks(ctx context.Context) error {
	l.blocksMu.Lock()
	var dead []uint8
	for id, tok := range l.blocks {
		if !tok.alive.Load() {
			dead = append(dead, id)
		}
	}
	l.blocksMu.Unlock()

	for _, id := range dead {
		if err := l.deleteBlock(ctx, id); err != nil {
			return err
		}
		l.blocksMu.Lock()
		delete(l.blocks, id)
		l.blocksMu.Unlock()
		l.dataMu.Lock()
		delete(l.dataSinks, id)
		l.dataMu.Unlock()
	}
	return nil
}

func (l *Log) deleteBlock(ctx context.Context, id uint8) error {
	payload := []byte{cmdDeleteBlock, id}
	data, err := l.controlRoundtrip(ctx, payload, payload)
	if err != nil {
		return err
	}
	if len(data) < 3 {
		return cferrors.NewProtocolError("malformed DELETE_BLOCK reply: %d bytes", len(data))
	}
	if code := data[2]; code != 0 {
		return cferrors.NewLogError("delete block %d: code %d", id, code)
	}
	return nil
}

// CreateBlock garbage-collects dropped blocks, allocates the next block
// id, and registers an empty block in the Created state.
func (l *Log) CreateBlock(ctx context.Context) (*Block, error) {
	if err := l.cleanupBlocks(ctx); err != nil {
		return nil, err
	}
	id, err := l.nextBlockID()
	if err != nil {
		return nil, err
	}

	payload := []byte{cmdCreateBlockV2, id}
	data, err := l.controlRoundtrip(ctx, payload, payload)
	if err != nil {
		return nil, err
	}
	if len(data) < 3 {
		return nil, cferrors.NewProtocolError("malformed CREATE_BLOCK_V2 reply: %d bytes", len(data))
	}
	if code := data[2]; code != 0 {
		return nil, cferrors.NewLogError("create block %d: code %d", id, code)
	}

	sink := make(chan crtp.Packet, 64)
	l.dataMu.Lock()
	l.dataSinks[id] = sink
	l.dataMu.Unlock()

	tok := &liveness{}
	tok.alive.Store(true)
	l.blocksMu.Lock()
	l.blocks[id] = tok
	l.blocksMu.Unlock()

	b := &Block{log: l, id: id, liveness: tok, data: sink, state: stateCreated}
	runtime.SetFinalizer(b, finalizeBlock)
	return b, nil
}

func finalizeBlock(b *Block) { b.liveness.alive.Store(false) }

// controlRoundtrip sends a channel-1 control request and waits for the
// reply whose payload starts with prefix, serialized by controlMu so
// overlapping calls never mis-correlate echoes (spec.md §4.5).
func (l *Log) controlRoundtrip(ctx context.Context, payload, prefix []byte) ([]byte, error) {
	l.controlMu.Lock()
	defer l.controlMu.Unlock()

	pk, err := crtp.New(crtp.PortLog, chanControl, payload)
	if err != nil {
		return nil, err
	}
	if err := l.engine.Enqueue(pk); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	for {
		select {
		case <-cctx.Done():
			return nil, cferrors.NewTimeout("log control request")
		case pk, ok := <-l.controlCh:
			if !ok {
				return nil, cferrors.Disconnected
			}
			if bytes.HasPrefix(pk.Data, prefix) {
				return pk.Data, nil
			}
		}
	}
}
