package log

import (
	"context"
	"runtime"
	"sync"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
)

type blockState int

const (
	stateCreated blockState = iota
	stateStreaming
)

type variable struct {
	Name string
	Type crtp.ValueType
}

// Block is a server-side container for a fixed list of variables,
// identified by a monotonically-assigned u8 id (spec.md §2's "Log
// block"). Its variable list is append-only and may only be extended
// while in the Created state.
type Block struct {
	log      *Log
	id       uint8
	liveness *liveness
	data     chan crtp.Packet

	mu        sync.Mutex
	state     blockState
	variables []variable
}

// ID returns the block's server-side identifier.
func (b *Block) ID() uint8 { return b.id }

// AddVariable appends name to the block. Only legal while the block is
// in the Created state.
func (b *Block) AddVariable(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateCreated {
		return cferrors.NewLogError("block %d: cannot add variable once streaming", b.id)
	}

	e, ok := b.log.table.Lookup(name)
	if !ok {
		return cferrors.NewVariableNotFound(name)
	}
	storageByte, err := logStorageByte(e.Info.ItemType)
	if err != nil {
		return err
	}

	payload := []byte{cmdAppendBlockV2, b.id, storageByte, byte(e.ID), byte(e.ID >> 8)}
	data, err := b.log.controlRoundtrip(ctx, payload, []byte{cmdAppendBlockV2, b.id})
	if err != nil {
		return err
	}
	if len(data) != 3 {
		return cferrors.NewProtocolError("malformed APPEND_BLOCK_V2 reply: %d bytes", len(data))
	}
	if code := data[2]; code != 0 {
		return cferrors.NewLogError("append %q to block %d: code %d (commonly block full)", name, b.id, code)
	}

	b.variables = append(b.variables, variable{Name: name, Type: e.Info.ItemType})
	return nil
}

// Start transitions the block to Streaming at the given period and
// returns a Stream to read samples from.
func (b *Block) Start(ctx context.Context, period Period) (*Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateCreated {
		return nil, cferrors.NewLogError("block %d: already streaming", b.id)
	}

	payload := []byte{cmdStartBlock, b.id, period.tenMillis}
	data, err := b.log.controlRoundtrip(ctx, payload, []byte{cmdStartBlock, b.id})
	if err != nil {
		return nil, err
	}
	if len(data) != 3 {
		return nil, cferrors.NewProtocolError("malformed START_BLOCK reply: %d bytes", len(data))
	}
	if code := data[2]; code != 0 {
		return nil, cferrors.NewLogError("start block %d: code %d", b.id, code)
	}

	b.state = stateStreaming
	return &Stream{block: b}, nil
}

// Close releases the block's server-side resource eagerly. Calling it is
// optional: an unreferenced Block is swept by the next CreateBlock call
// via its GC finalizer, but an explicit Close reclaims the id sooner.
func (b *Block) Close() {
	b.liveness.alive.Store(false)
	runtime.SetFinalizer(b, nil)
}

func (b *Block) decodeSample(data []byte) (Sample, error) {
	if len(data) < 3 {
		return Sample{}, cferrors.NewProtocolError("log sample too short: %d bytes", len(data))
	}
	ts := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	values := make(map[string]crtp.Value, len(b.variables))
	idx := 3
	for _, v := range b.variables {
		n := v.Type.ByteLength()
		if idx+n > len(data) {
			return Sample{}, cferrors.NewProtocolError("log sample truncated at %q", v.Name)
		}
		val, err := crtp.FromBytes(data[idx:idx+n], v.Type)
		if err != nil {
			return Sample{}, err
		}
		values[v.Name] = val
		idx += n
	}
	return Sample{Timestamp: ts, Data: values}, nil
}
