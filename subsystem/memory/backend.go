package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
)

// maxChunk is the largest payload a single read or write request may
// carry (spec.md §4.6).
const maxChunk = 24

// Progress reports bytes transferred so far against the total requested.
type Progress func(done, total int)

// Backend is the transport handle for a single memory_id, loaned
// exclusively to one typed view at a time via Open/Close.
type Backend struct {
	ID   uint8
	Type Type
	Size uint32

	engine *conn.Engine

	readMu  sync.Mutex
	readCh  <-chan crtp.Packet
	writeMu sync.Mutex
	writeCh <-chan crtp.Packet
}

// Read fetches length bytes starting at addr, issuing sequential
// chunked requests of at most 24 bytes each so response reassembly by
// address is unambiguous (spec.md §4.6). progress may be nil.
func (b *Backend) Read(ctx context.Context, addr uint32, length int, progress Progress) ([]byte, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	out := make([]byte, length)
	done := 0
	for done < length {
		n := length - done
		if n > maxChunk {
			n = maxChunk
		}
		chunkAddr := addr + uint32(done)

		req := make([]byte, 0, 6)
		req = append(req, b.ID)
		req = append(req, le32(chunkAddr)...)
		req = append(req, byte(n))

		pk, err := crtp.New(crtp.PortMemory, chanRead, req)
		if err != nil {
			return nil, err
		}
		if err := b.engine.Enqueue(pk); err != nil {
			return nil, err
		}

		resp, err := awaitEcho(ctx, b.readCh, req[:5])
		if err != nil {
			return nil, err
		}
		if len(resp.Data) < 6 {
			return nil, cferrors.NewMemoryError("malformed read response: %d bytes", len(resp.Data))
		}
		if status := resp.Data[5]; status != 0 {
			return nil, cferrors.NewMemoryError("read returned status %d @ 0x%x", status, chunkAddr)
		}
		got := resp.Data[6:]
		if len(got) != n {
			return nil, cferrors.NewMemoryError("read returned %d bytes, wanted %d", len(got), n)
		}
		copy(out[done:done+n], got)
		done += n
		if progress != nil {
			progress(done, length)
		}
	}
	return out, nil
}

// Write pushes data to addr, chunked the same way as Read. A failing
// chunk aborts the whole write; bytes already written are not rewound
// (spec.md §7's partial-success policy).
func (b *Backend) Write(ctx context.Context, addr uint32, data []byte, progress Progress) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	length := len(data)
	done := 0
	for done < length {
		n := length - done
		if n > maxChunk {
			n = maxChunk
		}
		chunkAddr := addr + uint32(done)

		req := make([]byte, 0, 5+n)
		req = append(req, b.ID)
		req = append(req, le32(chunkAddr)...)
		req = append(req, data[done:done+n]...)

		pk, err := crtp.New(crtp.PortMemory, chanWrite, req)
		if err != nil {
			return err
		}
		if err := b.engine.Enqueue(pk); err != nil {
			return err
		}

		resp, err := awaitEcho(ctx, b.writeCh, req[:5])
		if err != nil {
			return err
		}
		if len(resp.Data) < 6 {
			return cferrors.NewMemoryError("malformed write response: %d bytes", len(resp.Data))
		}
		if status := resp.Data[5]; status != 0 {
			return cferrors.NewMemoryError("write returned status %d @ 0x%x", status, chunkAddr)
		}

		done += n
		if progress != nil {
			progress(done, length)
		}
	}
	return nil
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

const requestWaitTimeout = 5 * time.Second

func awaitEcho(ctx context.Context, ch <-chan crtp.Packet, prefix []byte) (crtp.Packet, error) {
	cctx, cancel := context.WithTimeout(ctx, requestWaitTimeout)
	defer cancel()
	for {
		select {
		case <-cctx.Done():
			return crtp.Packet{}, cferrors.NewTimeout("memory request")
		case pk, ok := <-ch:
			if !ok {
				return crtp.Packet{}, cferrors.Disconnected
			}
			if bytes.HasPrefix(pk.Data, prefix) {
				return pk, nil
			}
		}
	}
}
