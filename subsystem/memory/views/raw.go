// Package views implements the typed façades loaned out over a
// memory.Backend (spec.md §4.6): raw access plus six named
// formats the device's firmware actually stores.
package views

import (
	"context"

	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
)

// Raw gives unstructured chunked access to any memory, regardless of
// its declared type.
type Raw struct {
	backend *memory.Backend
}

// NewRaw and InitRaw are identical: raw access never validates content.
func NewRaw(b *memory.Backend) (*Raw, error)  { return &Raw{backend: b}, nil }
func InitRaw(b *memory.Backend) (*Raw, error) { return &Raw{backend: b}, nil }

func (r *Raw) Close() *memory.Backend { return r.backend }

func (r *Raw) Read(ctx context.Context, addr uint32, length int) ([]byte, error) {
	return r.backend.Read(ctx, addr, length, nil)
}

func (r *Raw) ReadWithProgress(ctx context.Context, addr uint32, length int, progress memory.Progress) ([]byte, error) {
	return r.backend.Read(ctx, addr, length, progress)
}

func (r *Raw) Write(ctx context.Context, addr uint32, data []byte) error {
	return r.backend.Write(ctx, addr, data, nil)
}

func (r *Raw) WriteWithProgress(ctx context.Context, addr uint32, data []byte, progress memory.Progress) error {
	return r.backend.Write(ctx, addr, data, progress)
}
