// Package toccache implements the content-addressed cache interface
// used by TOC discovery (spec.md §4.3): a cache keyed by
// (protocol-version-tag, crc32) mapping to an opaque serialized TOC.
//
// Content-addressing means a firmware change (which changes the CRC32)
// can never serve a stale cache entry — callers don't need to version
// the cache themselves.
package toccache

import "sync"

// Cache is cloneable (copying a Cache value, where the implementation
// wraps a shared pointer/handle, is safe) and usable from multiple
// goroutines concurrently.
type Cache interface {
	Get(key []byte) (value string, ok bool)
	Store(key []byte, value string)
}

// NoCache always misses. It is the default when a caller has no
// persistence story for TOC data.
type NoCache struct{}

func (NoCache) Get([]byte) (string, bool) { return "", false }
func (NoCache) Store([]byte, string)      {}

// MemCache is a process-lifetime, map-backed cache. Useful for tests and
// for short-lived ground stations that reconnect to the same drone
// within one process run.
type MemCache struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemCache() *MemCache {
	return &MemCache{m: make(map[string]string)}
}

func (c *MemCache) Get(key []byte) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[string(key)]
	return v, ok
}

func (c *MemCache) Store(key []byte, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[string(key)] = value
}

var _ Cache = NoCache{}
var _ Cache = (*MemCache)(nil)
