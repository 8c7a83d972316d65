// Package link defines the boundary to the radio transport. The actual
// link (CRTP radio dongle, USB, simulator, ...) is an external
// collaborator per spec.md §1 — this package only names the contract
// the rest of the library depends on.
package link

import (
	"context"
	"time"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
)

// Link is an already-opened, ordered, best-effort transport of framed
// CRTP packets. Implementations must be safe for concurrent Send and
// Receive from independent goroutines (the uplink pump only ever calls
// Send; the downlink dispatcher only ever calls Receive).
type Link interface {
	// Send enqueues a packet for transmission. It may return before the
	// packet reaches the radio; back-pressure is the caller's problem
	// (see internal/conn's unbounded uplink queue).
	Send(ctx context.Context, p crtp.Packet) error

	// Receive blocks until a packet arrives or ctx is done. A
	// deadline-exceeded ctx is not an error the dispatcher logs; it is
	// the polling mechanism by which it rechecks the disconnect flag.
	Receive(ctx context.Context) (crtp.Packet, error)

	// Close releases the underlying transport. Close is called exactly
	// once by the connection lifecycle (spec.md §4.8).
	Close() error
}

// StatsProvider is implemented by links that can report radio-level
// metrics. Its absence is part of the type, not an error (spec.md §9):
// callers type-assert for it and treat a miss as "no statistics".
type StatsProvider interface {
	LinkStats() (Stats, bool)
}

// Stats is a snapshot of radio-level diagnostics. All fields are
// best-effort. Whether statistics are supported at all is reported by
// the bool LinkStats returns alongside it, not by the field values.
type Stats struct {
	LinkQuality   float64
	PacketsSent   uint64
	PacketsRecv   uint64
	Retries       uint64
	RSSI          int
	LastUpdatedAt time.Time
}
