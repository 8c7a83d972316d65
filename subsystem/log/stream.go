package log

import (
	"context"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
)

// Sample is one decoded frame from a streaming block: a 24-bit firmware
// timestamp (zero-extended into a u32) plus the block's variables keyed
// by name.
type Sample struct {
	Timestamp uint32
	Data      map[string]crtp.Value
}

// Stream is returned by Block.Start and yields samples until Stop.
type Stream struct {
	block *Block
}

// Next blocks until a sample arrives, ctx is done, or the connection
// drops.
func (s *Stream) Next(ctx context.Context) (Sample, error) {
	select {
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case pk, ok := <-s.block.data:
		if !ok {
			return Sample{}, cferrors.Disconnected
		}
		if len(pk.Data) < 1 {
			return Sample{}, cferrors.NewProtocolError("empty log data packet")
		}
		return s.block.decodeSample(pk.Data[1:])
	}
}

// Stop transitions the block back to Created and returns it so it can be
// reconfigured and started again.
func (s *Stream) Stop(ctx context.Context) (*Block, error) {
	b := s.block
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateStreaming {
		return nil, cferrors.NewLogError("block %d: not streaming", b.id)
	}

	payload := []byte{cmdStopBlock, b.id}
	data, err := b.log.controlRoundtrip(ctx, payload, payload)
	if err != nil {
		return nil, err
	}
	if len(data) != 3 {
		return nil, cferrors.NewProtocolError("malformed STOP_BLOCK reply: %d bytes", len(data))
	}
	if code := data[2]; code != 0 {
		return nil, cferrors.NewLogError("stop block %d: code %d", b.id, code)
	}

	b.state = stateCreated
	return b, nil
}
