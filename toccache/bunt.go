package toccache

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/tidwall/buntdb"
)

// BuntCache persists TOC entries across process restarts in an embedded
// buntdb database, the same small-footprint KV engine the teacher uses
// for cluster metadata (tidwall/buntdb). Cache keys ((version_tag,
// crc32) pairs, 5 raw bytes) are first collapsed through xxhash into a
// fixed-width bucket key — the teacher's hashing dependency
// (OneOfOne/xxhash) repurposed here to keep buntdb's on-disk index flat
// regardless of how many firmware CRCs a ground station has ever seen.
type BuntCache struct {
	db *buntdb.DB
}

// OpenBuntCache opens (creating if absent) a buntdb file at path. Pass
// ":memory:" for a process-lifetime cache backed by the same code path
// as the persistent one (handy for tests that want to exercise the real
// buntdb adapter without touching disk).
func OpenBuntCache(path string) (*BuntCache, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntCache{db: db}, nil
}

func (c *BuntCache) Close() error { return c.db.Close() }

func bucketKey(key []byte) string {
	return "toc:" + strconv.FormatUint(xxhash.Checksum64(key), 16)
}

// record prefixes the stored value with the exact key it was stored
// under (hex-encoded), so an xxhash bucket collision between two
// distinct (version_tag, crc32) pairs degrades to a cache miss instead
// of silently returning the wrong TOC.
const keySep = "|"

func (c *BuntCache) Get(key []byte) (value string, ok bool) {
	bk := bucketKey(key)
	wantKey := hex.EncodeToString(key)
	_ = c.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(bk)
		if err != nil {
			return nil
		}
		storedKey, payload, found := strings.Cut(v, keySep)
		if !found || storedKey != wantKey {
			return nil // collision or corrupt record: treat as miss
		}
		value, ok = payload, true
		return nil
	})
	return value, ok
}

func (c *BuntCache) Store(key []byte, value string) {
	bk := bucketKey(key)
	record := hex.EncodeToString(key) + keySep + value
	_ = c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(bk, record, nil)
		return err
	})
}

var _ Cache = (*BuntCache)(nil)
