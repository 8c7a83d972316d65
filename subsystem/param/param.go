// Package param implements the parameter subsystem (spec.md §4.4): a
// table-of-contents of named, typed firmware variables that can be read,
// written, watched for change, and — for a subset flagged PERSISTENT —
// stored to or cleared from EEPROM.
package param

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/bitcraze/crazyflie-lib-go/cmn/nlog"
	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/toc"
	"github.com/bitcraze/crazyflie-lib-go/toccache"
)

// Internal channel layout on the param port (spec.md §4.4).
const (
	chanTOC   = 0
	chanRead  = 1
	chanWrite = 2
	chanMisc  = 3
)

// MISC channel command bytes.
const (
	miscUpdate             = 1
	miscPersistentStore    = 3
	miscPersistentGetState = 4
	miscPersistentClear    = 5
	miscGetExtendedTypeV2  = 7
	miscGetDefaultValueV2  = 8
)

const requestTimeout = 5 * time.Second

// extendedPersistentBit is the only extended-type flag currently defined
// by firmware (spec.md §4.4): bit 0 of the byte returned by
// GetExtendedType marks a parameter as eligible for persistence.
const extendedPersistentBit = 0

// PersistentState is the result of PersistentGetState: whether a value
// is currently stored in EEPROM, the firmware's compiled-in default, and
// the stored value when one exists.
type PersistentState struct {
	Stored       bool
	DefaultValue crtp.Value
	StoredValue  crtp.Value // zero Value when !Stored
}

// Update is delivered to a Watcher whenever a parameter's value changes,
// whether from a local Set or an unsolicited firmware notification.
type Update struct {
	Name  string
	Value crtp.Value
}

// Watcher receives every parameter change until Unsubscribe is called.
// An update is dropped, never blocked on, if the watcher falls behind.
type Watcher struct {
	p  *Param
	ch chan Update
}

func (w *Watcher) Updates() <-chan Update { return w.ch }

func (w *Watcher) Unsubscribe() {
	w.p.watchMu.Lock()
	delete(w.p.watchers, w)
	w.p.watchMu.Unlock()
	close(w.ch)
}

// Param is the handle returned by a Client's Param field. All methods are
// safe for concurrent use.
type Param struct {
	engine *conn.Engine
	table  *toc.Table[itemInfo]

	readMu sync.Mutex // serializes channel-1 request/response: one in flight
	readCh <-chan crtp.Packet

	writeMu sync.Mutex // serializes channel-2 request/response: one in flight
	writeCh <-chan crtp.Packet

	miscMu   sync.Mutex // serializes MISC request/response correlation
	miscResp chan crtp.Packet

	valuesMu sync.Mutex
	values   map[string]crtp.Value
	haveVal  map[string]bool

	defaultsMu sync.Mutex
	defaults   map[string]defaultEntry

	watchMu  sync.Mutex
	watchers map[*Watcher]struct{}
}

type defaultEntry struct {
	value       crtp.Value
	unsupported bool
}

// RegisterPort claims the param port and starts routing its four
// channels. Call this immediately after the engine is constructed
// (spec.md §4.8 step 2), before protocol version negotiation, so no
// unsolicited param traffic is dropped while negotiation is in flight.
// Pass the result to Continue once the negotiated version tag is known.
func RegisterPort(ctx context.Context, engine *conn.Engine) [4]chan crtp.Packet {
	raw := engine.RegisterPort(crtp.PortParam, 64)
	return conn.SplitChannels(ctx, raw, 32)
}

// Continue finishes param subsystem construction: it fetches the TOC,
// which needs the protocol version tag only known after negotiation
// (spec.md §4.8 step 4), and starts the MISC listener goroutine. chans
// must be the result of a prior RegisterPort call on the same engine.
func Continue(ctx context.Context, engine *conn.Engine, chans [4]chan crtp.Packet, cache toccache.Cache, versionTag byte) (*Param, error) {
	tocEnqueue := func(payload []byte) error {
		pk, err := crtp.New(crtp.PortParam, chanTOC, payload)
		if err != nil {
			return err
		}
		return engine.Enqueue(pk)
	}
	table, err := toc.Fetch[itemInfo](ctx, tocEnqueue, chans[chanTOC], versionTag, cache, itemCodec{})
	if err != nil {
		return nil, cferrors.Wrap(err, "param: TOC discovery failed")
	}

	p := &Param{
		engine:   engine,
		table:    table,
		readCh:   chans[chanRead],
		writeCh:  chans[chanWrite],
		miscResp: make(chan crtp.Packet, 1),
		values:   make(map[string]crtp.Value, len(table.Entries)),
		haveVal:  make(map[string]bool, len(table.Entries)),
		defaults: make(map[string]defaultEntry),
		watchers: make(map[*Watcher]struct{}),
	}

	go p.miscLoop(ctx, chans[chanMisc])

	return p, nil
}

// New registers the param port and fetches its TOC in one call,
// versionTag identifies the negotiated protocol version for TOC cache
// keying (spec.md §4.3); cache may be toccache.NoCache{}. Callers that
// must register the port before protocol negotiation completes (as
// client.New does) should call RegisterPort and Continue separately.
func New(ctx context.Context, engine *conn.Engine, cache toccache.Cache, versionTag byte) (*Param, error) {
	return Continue(ctx, engine, RegisterPort(ctx, engine), cache, versionTag)
}

// miscLoop demultiplexes MISC channel traffic: frames whose first byte
// is miscUpdate are unsolicited value changes applied to the cache and
// fanned out to watchers; everything else is a response to an
// in-flight persistence request and is forwarded to miscResp, which
// request() consumes under miscMu.
func (p *Param) miscLoop(ctx context.Context, in <-chan crtp.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pk, ok := <-in:
			if !ok {
				return
			}
			if len(pk.Data) > 0 && pk.Data[0] == miscUpdate {
				p.handleUpdate(pk)
				continue
			}
			select {
			case p.miscResp <- pk:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleUpdate applies an unsolicited value-change frame: [1, id_lo, id_hi, value_bytes...].
func (p *Param) handleUpdate(pk crtp.Packet) {
	if len(pk.Data) < 3 {
		nlog.Warningf("param: malformed update frame, %d bytes", len(pk.Data))
		return
	}
	id := uint16(pk.Data[1]) | uint16(pk.Data[2])<<8
	entry, ok := p.table.LookupID(id)
	if !ok {
		nlog.Warningf("param: update for unknown id %d", id)
		return
	}
	v, err := crtp.FromBytes(pk.Data[3:], entry.Info.ItemType)
	if err != nil {
		nlog.Warningf("param: malformed update value for %q: %v", entry.Name, err)
		return
	}
	p.setCached(entry.Name, v)
	p.notify(entry.Name, v)
}

func (p *Param) setCached(name string, v crtp.Value) {
	p.valuesMu.Lock()
	p.values[name] = v
	p.haveVal[name] = true
	p.valuesMu.Unlock()
}

func (p *Param) notify(name string, v crtp.Value) {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	for w := range p.watchers {
		select {
		case w.ch <- Update{Name: name, Value: v}:
		default:
			nlog.Warningf("param: watcher for %q is backed up, dropping update", name)
		}
	}
}

// Names lists every "group.variable" parameter name, in TOC discovery order.
func (p *Param) Names() []string { return p.table.Names() }

// TypeOf returns the wire type of a parameter.
func (p *Param) TypeOf(name string) (crtp.ValueType, error) {
	e, ok := p.table.Lookup(name)
	if !ok {
		return 0, cferrors.NewVariableNotFound(name)
	}
	return e.Info.ItemType, nil
}

// IsWritable reports whether the firmware exposes name as writable.
func (p *Param) IsWritable(name string) (bool, error) {
	e, ok := p.table.Lookup(name)
	if !ok {
		return false, cferrors.NewVariableNotFound(name)
	}
	return e.Info.Writable, nil
}

// Get returns the current value of name, reading it from the device on
// first access and serving the cache thereafter.
func (p *Param) Get(ctx context.Context, name string) (crtp.Value, error) {
	p.valuesMu.Lock()
	if v, ok := p.values[name]; ok && p.haveVal[name] {
		p.valuesMu.Unlock()
		return v, nil
	}
	p.valuesMu.Unlock()

	e, ok := p.table.Lookup(name)
	if !ok {
		return crtp.Value{}, cferrors.NewVariableNotFound(name)
	}
	v, err := p.readValue(ctx, e.ID, e.Info.ItemType)
	if err != nil {
		return crtp.Value{}, err
	}
	p.setCached(name, v)
	return v, nil
}

// GetLossy is Get bridged through a float64 (spec.md §4.4's forgiving accessor).
func (p *Param) GetLossy(ctx context.Context, name string) (float64, error) {
	v, err := p.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	return v.ToF64Lossy(), nil
}

// readValue drives the channel-1 READ request/echo. Only one read may be
// in flight at a time, enforced by readMu (spec.md §4.4 concurrency policy).
func (p *Param) readValue(ctx context.Context, id uint16, t crtp.ValueType) (crtp.Value, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	prefix := []byte{byte(id), byte(id >> 8)}
	pk, err := crtp.New(crtp.PortParam, chanRead, prefix)
	if err != nil {
		return crtp.Value{}, err
	}
	if err := p.engine.Enqueue(pk); err != nil {
		return crtp.Value{}, err
	}

	resp, err := awaitEcho(ctx, p.readCh, prefix)
	if err != nil {
		return crtp.Value{}, err
	}
	// [id_lo, id_hi, status, value_bytes...]
	if len(resp.Data) < 3 {
		return crtp.Value{}, cferrors.NewProtocolError("param read reply too short: %d bytes", len(resp.Data))
	}
	return crtp.FromBytes(resp.Data[3:], t)
}

// Set writes value to name, blocking until the firmware echoes
// confirmation. value's type must match the parameter's declared type.
func (p *Param) Set(ctx context.Context, name string, value crtp.Value) error {
	e, ok := p.table.Lookup(name)
	if !ok {
		return cferrors.NewVariableNotFound(name)
	}
	if value.Type() != e.Info.ItemType {
		return cferrors.NewParamError("%s is type %s, cannot set with value of type %s", name, e.Info.ItemType, value.Type())
	}

	prefix := []byte{byte(e.ID), byte(e.ID >> 8)}
	payload := append(append([]byte{}, prefix...), value.ToBytes()...)
	pk, err := crtp.New(crtp.PortParam, chanWrite, payload)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.engine.Enqueue(pk); err != nil {
		return err
	}

	resp, err := awaitEcho(ctx, p.writeCh, prefix)
	if err != nil {
		return err
	}
	if len(resp.Data) < 2 {
		return cferrors.NewProtocolError("param write reply too short: %d bytes", len(resp.Data))
	}
	echoed := resp.Data[2:]
	if bytes.Equal(echoed, value.ToBytes()) {
		p.setCached(name, value)
		p.notify(name, value)
		return nil
	}
	if len(echoed) == 0 {
		return cferrors.NewProtocolError("param write reply carries neither echo nor error code")
	}
	return cferrors.NewParamError("error setting %s: code %d", name, echoed[0])
}

// SetLossy is Set bridged from a float64, truncating/rounding per
// crtp.FromF64Lossy (spec.md §4.4's forgiving mutator).
func (p *Param) SetLossy(ctx context.Context, name string, f float64) error {
	e, ok := p.table.Lookup(name)
	if !ok {
		return cferrors.NewVariableNotFound(name)
	}
	v, err := crtp.FromF64Lossy(e.Info.ItemType, f)
	if err != nil {
		return err
	}
	return p.Set(ctx, name, v)
}

// WatchChange registers a new watcher; call Unsubscribe when done.
func (p *Param) WatchChange() *Watcher {
	w := &Watcher{p: p, ch: make(chan Update, 32)}
	p.watchMu.Lock()
	p.watchers[w] = struct{}{}
	p.watchMu.Unlock()
	return w
}

// awaitEcho waits on ch for a packet whose payload starts with prefix,
// discarding stale echoes from a previous request. Shared by read and
// write since both correlate by an id_le prefix.
func awaitEcho(ctx context.Context, ch <-chan crtp.Packet, prefix []byte) (crtp.Packet, error) {
	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	for {
		select {
		case <-cctx.Done():
			return crtp.Packet{}, cferrors.NewTimeout("param request")
		case pk, ok := <-ch:
			if !ok {
				return crtp.Packet{}, cferrors.Disconnected
			}
			if bytes.HasPrefix(pk.Data, prefix) {
				return pk, nil
			}
			// stale/unrelated echo, keep waiting
		}
	}
}

// extendedTypeFlags decodes the single-byte bitfield returned by
// GetExtendedType into a bitset (SPEC_FULL.md domain-stack wiring of
// bits-and-blooms/bitset). Only bit 0 (PERSISTENT) is defined today; the
// bitset representation leaves room for firmware to define more without
// this package's call sites changing shape.
func extendedTypeFlags(b byte) *bitset.BitSet {
	return bitset.From([]uint64{uint64(b)})
}
