package memory

import (
	"context"
	"sync"

	"github.com/bitcraze/crazyflie-lib-go/cmn/nlog"
	"github.com/bitcraze/crazyflie-lib-go/crtp"
)

// idDispatcher fans a single channel's packets out by the memory_id
// carried in data[0] (spec.md §4.6's "id-keyed dispatcher"), the memory
// analogue of conn.SplitChannels' per-channel fan-out.
type idDispatcher struct {
	mu   sync.Mutex
	subs map[uint8]chan crtp.Packet
}

func newIDDispatcher(ctx context.Context, in <-chan crtp.Packet) *idDispatcher {
	d := &idDispatcher{subs: make(map[uint8]chan crtp.Packet)}
	go d.run(ctx, in)
	return d
}

// register must be called once per memory_id before any packet for it
// arrives; all ids are known up front from the discovery pass.
func (d *idDispatcher) register(id uint8) chan crtp.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan crtp.Packet, 32)
	d.subs[id] = ch
	return ch
}

func (d *idDispatcher) run(ctx context.Context, in <-chan crtp.Packet) {
	defer func() {
		d.mu.Lock()
		for _, ch := range d.subs {
			close(ch)
		}
		d.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case pk, ok := <-in:
			if !ok {
				return
			}
			if len(pk.Data) == 0 {
				continue
			}
			id := pk.Data[0]
			d.mu.Lock()
			ch, ok := d.subs[id]
			d.mu.Unlock()
			if !ok {
				nlog.Warningf("memory: packet for unknown memory id %d", id)
				continue
			}
			select {
			case ch <- pk:
			case <-ctx.Done():
				return
			}
		}
	}
}
