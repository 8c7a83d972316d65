// Package linkdiag implements the link diagnostics subsystem (spec.md
// §4.7, §6): echo-based ping and bandwidth measurement, plus a
// best-effort radio statistics snapshot. Grounded on
// original_source/src/subsystems/link_service.rs, adapted from a
// crazyflie_link::Connection held directly to the link.StatsProvider
// type-assertion SPEC_FULL.md establishes for the transport boundary
// (spec.md §9 "link statistics are optional... part of the type").
package linkdiag

import (
	"context"
	"sync"
	"time"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/link"
)

const (
	chanEcho   = 0
	chanSource = 1
	chanSink   = 2
)

// maxDataSize is the largest CRTP payload usable for bandwidth framing.
const maxDataSize = crtp.MaxPayload

// fillPattern fills bandwidth-test payloads.
const fillPattern = 0xAA

const (
	pingTimeout     = time.Second
	echoTestTimeout = 10 * time.Second
	sourceTimeout   = time.Second
)

// Statistics is a snapshot of radio-level link quality metrics. Fields
// are nil when the underlying link does not expose them (e.g. over
// USB); that absence is part of the type, not an error.
type Statistics struct {
	LinkQuality *float64
	PacketsSent *uint64
	PacketsRecv *uint64
	Retries     *uint64
	RSSI        *int
	UpdatedAt   time.Time
	Supported   bool
}

// BandwidthResult is the outcome of a round-trip bandwidth test.
type BandwidthResult struct {
	UplinkBytesPerSec   float64
	DownlinkBytesPerSec float64
	PacketsPerSec       float64
}

// LinkDiag provides ping, bandwidth, and statistics access over port
// 15.
type LinkDiag struct {
	engine *conn.Engine
	l      link.Link

	echoMu   sync.Mutex // serializes channel-0 request/response
	echoCh   <-chan crtp.Packet
	sourceMu sync.Mutex // serializes channel-1 request/response
	sourceCh <-chan crtp.Packet
}

func New(ctx context.Context, engine *conn.Engine, l link.Link) *LinkDiag {
	raw := engine.RegisterPort(crtp.PortLinkService, 64)
	chans := conn.SplitChannels(ctx, raw, 32)
	return &LinkDiag{
		engine:   engine,
		l:        l,
		echoCh:   chans[chanEcho],
		sourceCh: chans[chanSource],
	}
}

func (ld *LinkDiag) send(channel uint8, data []byte) error {
	pk, err := crtp.New(crtp.PortLinkService, channel, data)
	if err != nil {
		return err
	}
	return ld.engine.Enqueue(pk)
}

func awaitEcho(ctx context.Context, ch <-chan crtp.Packet, timeout time.Duration, op string) (crtp.Packet, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-cctx.Done():
		return crtp.Packet{}, cferrors.NewTimeout(op)
	case pk, ok := <-ch:
		if !ok {
			return crtp.Packet{}, cferrors.Disconnected
		}
		return pk, nil
	}
}

// Ping sends a single echo frame and returns the measured round-trip
// time.
func (ld *LinkDiag) Ping(ctx context.Context) (time.Duration, error) {
	ld.echoMu.Lock()
	defer ld.echoMu.Unlock()

	payload := []byte{0x01}
	start := time.Now()
	if err := ld.send(chanEcho, payload); err != nil {
		return 0, err
	}
	reply, err := awaitEcho(ctx, ld.echoCh, pingTimeout, "link ping")
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	if len(reply.Data) != 1 || reply.Data[0] != payload[0] {
		return 0, cferrors.NewProtocolError("ping echo mismatch")
	}
	return elapsed, nil
}

// TestUplinkBandwidth sends nPackets max-size frames to the sink
// channel (which the firmware drops) and measures the time to send
// them all plus one confirming echo round trip. Returns bytes/second.
func (ld *LinkDiag) TestUplinkBandwidth(ctx context.Context, nPackets int) (float64, error) {
	data := make([]byte, maxDataSize)
	for i := range data {
		data[i] = fillPattern
	}
	start := time.Now()
	var totalBytes int64

	for i := 0; i < nPackets; i++ {
		if err := ld.send(chanSink, data); err != nil {
			return 0, err
		}
		totalBytes += int64(maxDataSize)
	}

	ld.echoMu.Lock()
	defer ld.echoMu.Unlock()
	echoPayload := []byte{0x00}
	if err := ld.send(chanEcho, echoPayload); err != nil {
		return 0, err
	}
	reply, err := awaitEcho(ctx, ld.echoCh, echoTestTimeout, "link uplink bandwidth end echo")
	if err != nil {
		return 0, err
	}
	if len(reply.Data) != 1 || reply.Data[0] != echoPayload[0] {
		return 0, cferrors.NewProtocolError("bandwidth end echo mismatch")
	}

	elapsed := time.Since(start).Seconds()
	return float64(totalBytes) / elapsed, nil
}

// TestDownlinkBandwidth sends nPackets requests to the source channel
// and measures the rate at which the firmware's fixed-size responses
// arrive. Returns bytes/second.
func (ld *LinkDiag) TestDownlinkBandwidth(ctx context.Context, nPackets int) (float64, error) {
	ld.sourceMu.Lock()
	defer ld.sourceMu.Unlock()

	start := time.Now()
	for i := 0; i < nPackets; i++ {
		if err := ld.send(chanSource, []byte{0x00}); err != nil {
			return 0, err
		}
	}

	var totalBytes int64
	for i := 0; i < nPackets; i++ {
		reply, err := awaitEcho(ctx, ld.sourceCh, sourceTimeout, "link downlink bandwidth")
		if err != nil {
			return 0, err
		}
		totalBytes += int64(len(reply.Data))
	}

	elapsed := time.Since(start).Seconds()
	return float64(totalBytes) / elapsed, nil
}

// TestEchoBandwidth sends nPackets max-size frames to the echo channel
// and waits for each to come back, measuring round-trip throughput.
func (ld *LinkDiag) TestEchoBandwidth(ctx context.Context, nPackets int) (BandwidthResult, error) {
	ld.echoMu.Lock()
	defer ld.echoMu.Unlock()

	data := make([]byte, maxDataSize)
	for i := range data {
		data[i] = fillPattern
	}

	start := time.Now()
	for i := 0; i < nPackets; i++ {
		if err := ld.send(chanEcho, data); err != nil {
			return BandwidthResult{}, err
		}
	}

	var packets int64
	for i := 0; i < nPackets; i++ {
		reply, err := awaitEcho(ctx, ld.echoCh, pingTimeout, "link echo bandwidth")
		if err != nil {
			return BandwidthResult{}, err
		}
		if len(reply.Data) != len(data) {
			return BandwidthResult{}, cferrors.NewProtocolError("echo bandwidth payload length mismatch")
		}
		packets++
	}

	elapsed := time.Since(start).Seconds()
	bytes := float64(packets) * float64(maxDataSize)
	return BandwidthResult{
		UplinkBytesPerSec:   bytes / elapsed,
		DownlinkBytesPerSec: bytes / elapsed,
		PacketsPerSec:       float64(packets) / elapsed,
	}, nil
}

// Statistics returns a snapshot of radio-level link quality metrics.
// When the underlying link does not implement link.StatsProvider, or
// reports it has no data, Supported is false and every metric is nil.
func (ld *LinkDiag) Statistics() Statistics {
	provider, ok := ld.l.(link.StatsProvider)
	if !ok {
		return Statistics{}
	}
	s, ok := provider.LinkStats()
	if !ok {
		return Statistics{}
	}
	quality := s.LinkQuality
	sent := s.PacketsSent
	recv := s.PacketsRecv
	retries := s.Retries
	rssi := s.RSSI
	return Statistics{
		LinkQuality: &quality,
		PacketsSent: &sent,
		PacketsRecv: &recv,
		Retries:     &retries,
		RSSI:        &rssi,
		UpdatedAt:   s.LastUpdatedAt,
		Supported:   true,
	}
}
