// Package console implements the passive console subsystem (spec.md
// §4.7, §9): a consumer-only broadcaster of text chunks streamed by the
// firmware on port 0. It is grounded on
// original_source/src/subsystems/console.rs's buffer-plus-fanout design
// (one background task appends every chunk to a running buffer and
// pushes it to every live subscriber, pruning a subscriber on failed
// send) adapted from Rust's "swap_remove the last failing index" lazy
// prune to a Go drop-oldest ring buffer per subscriber, since §4.7
// requires "drop oldest" over the "drop the subscriber" policy the
// original implements.
package console

import (
	"context"
	"strings"
	"sync"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
)

// rawHistoryLimit and lineHistoryLimit bound how much raw text and how many completed lines a
// new subscriber replays before following the live stream.
const (
	rawHistoryLimit  = 4096
	lineHistoryLimit = 256

	// streamBacklog is each subscriber's buffered channel depth; beyond
	// this, the oldest queued item is dropped to make room (spec.md
	// §4.7 "drop oldest when a broadcast is full").
	streamBacklog = 64
)

// Console fans out raw console text and completed lines to any number
// of subscribers, replaying a bounded history to late joiners.
type Console struct {
	mu        sync.Mutex
	rawHist   []byte
	lineHist  []string
	lineBuf   strings.Builder
	rawSubs   map[*RawStream]struct{}
	lineSubs  map[*LineStream]struct{}
}

// New starts consuming port 0 and returns the running Console.
// ctx governs the background consumer's lifetime; it should match the
// connection's lifetime.
func New(ctx context.Context, engine *conn.Engine) *Console {
	in := engine.RegisterPort(crtp.PortConsole, 64)
	c := &Console{
		rawSubs:  make(map[*RawStream]struct{}),
		lineSubs: make(map[*LineStream]struct{}),
	}
	go c.run(ctx, in)
	return c
}

func (c *Console) run(ctx context.Context, in <-chan crtp.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pk, ok := <-in:
			if !ok {
				return
			}
			c.ingest(pk.Data)
		}
	}
}

func (c *Console) ingest(data []byte) {
	text := string(data)

	c.mu.Lock()
	c.rawHist = appendBounded(c.rawHist, data, rawHistoryLimit)
	for sub := range c.rawSubs {
		sub.push(text)
	}

	c.lineBuf.WriteString(text)
	buffered := c.lineBuf.String()
	lastNL := strings.LastIndexByte(buffered, '\n')
	if lastNL >= 0 {
		complete := buffered[:lastNL]
		c.lineBuf.Reset()
		c.lineBuf.WriteString(buffered[lastNL+1:])
		for _, line := range strings.Split(complete, "\n") {
			c.lineHist = appendLineBounded(c.lineHist, line, lineHistoryLimit)
			for sub := range c.lineSubs {
				sub.push(line)
			}
		}
	}
	c.mu.Unlock()
}

func appendBounded(buf, add []byte, limit int) []byte {
	buf = append(buf, add...)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}

func appendLineBounded(lines []string, line string, limit int) []string {
	lines = append(lines, line)
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

// RawStream receives every console chunk, in order, starting with the
// buffered history at the time of subscription.
type RawStream struct {
	c  *Console
	ch chan string
}

func (s *RawStream) push(text string) {
	select {
	case s.ch <- text:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- text:
		default:
		}
	}
}

// Next blocks until the next chunk arrives or ctx is done.
func (s *RawStream) Next(ctx context.Context) (string, error) {
	select {
	case text, ok := <-s.ch:
		if !ok {
			return "", ctx.Err()
		}
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close unsubscribes the stream.
func (s *RawStream) Close() {
	s.c.mu.Lock()
	delete(s.c.rawSubs, s)
	s.c.mu.Unlock()
}

// Subscribe returns a RawStream pre-loaded with the buffered raw
// history, followed by every future chunk.
func (c *Console) Subscribe() *RawStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &RawStream{c: c, ch: make(chan string, streamBacklog)}
	if len(c.rawHist) > 0 {
		s.ch <- string(c.rawHist)
	}
	c.rawSubs[s] = struct{}{}
	return s
}

// LineStream receives completed console lines, in order, starting with
// the buffered line history at the time of subscription.
type LineStream struct {
	c  *Console
	ch chan string
}

func (s *LineStream) push(line string) {
	select {
	case s.ch <- line:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- line:
		default:
		}
	}
}

// NextLine blocks until the next completed line arrives or ctx is done.
func (s *LineStream) NextLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-s.ch:
		if !ok {
			return "", ctx.Err()
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close unsubscribes the stream.
func (s *LineStream) Close() {
	s.c.mu.Lock()
	delete(s.c.lineSubs, s)
	s.c.mu.Unlock()
}

// SubscribeLines returns a LineStream pre-loaded with the buffered line
// history, followed by every future completed line.
func (c *Console) SubscribeLines() *LineStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &LineStream{c: c, ch: make(chan string, streamBacklog)}
	for _, line := range c.lineHist {
		s.push(line)
	}
	c.lineSubs[s] = struct{}{}
	return s
}
