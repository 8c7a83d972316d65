package toc

import (
	"context"
	"encoding/binary"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/bitcraze/crazyflie-lib-go/cmn/nlog"
	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/toccache"
)

// Wire command bytes on channel 0 of {param, log} (spec.md §4.3/§6).
const (
	cmdInfo    = 0x03
	cmdGetItem = 0x02
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTimeout bounds how long Fetch waits for any single INFO or
// GET_ITEM echo before giving up.
const DefaultTimeout = 5 * time.Second

// Enqueue sends a channel-0 payload (the caller already knows its own
// port; TOC fetch never needs to know it).
type Enqueue func(payload []byte) error

// Fetch drives the INFO / GET_ITEM(index) discovery protocol described
// in spec.md §4.3, using cache as a content-addressed shortcut keyed by
// (versionTag, crc32). responses must already be split to channel 0 of
// the owning subsystem's port.
func Fetch[T any](
	ctx context.Context,
	enqueue Enqueue,
	responses <-chan crtp.Packet,
	versionTag byte,
	cache toccache.Cache,
	codec ItemCodec[T],
) (*Table[T], error) {
	if cache == nil {
		cache = toccache.NoCache{}
	}

	if err := enqueue([]byte{cmdInfo}); err != nil {
		return nil, err
	}
	infoResp, err := awaitCmd(ctx, responses, cmdInfo)
	if err != nil {
		return nil, err
	}
	if len(infoResp.Data) < 7 {
		return nil, cferrors.NewProtocolError("short INFO reply: %d bytes", len(infoResp.Data))
	}
	itemCount := binary.LittleEndian.Uint16(infoResp.Data[1:3])
	crc32 := binary.LittleEndian.Uint32(infoResp.Data[3:7])

	key := cacheKey(versionTag, crc32)
	if raw, ok := cache.Get(key); ok {
		if t, err := decodeTable[T](raw); err == nil {
			return t, nil
		}
		nlog.Warningf("toc: cache hit failed to decode, refetching: key=%x", key)
	}

	entries := make([]Entry[T], 0, itemCount)
	for i := uint16(0); i < itemCount; i++ {
		payload := []byte{cmdGetItem, byte(i), byte(i >> 8)}
		if err := enqueue(payload); err != nil {
			return nil, err
		}
		resp, err := awaitCmd(ctx, responses, cmdGetItem)
		if err != nil {
			return nil, err
		}
		entry, err := parseItem(resp.Data, codec)
		if err != nil {
			return nil, cferrors.Wrapf(err, "toc: item %d malformed", i)
		}
		entries = append(entries, entry)
	}

	table := newTable(crc32, entries)
	if raw, err := encodeTable(table); err == nil {
		cache.Store(key, raw)
	} else {
		nlog.Warningf("toc: failed to serialize table for caching: %v", err)
	}
	return table, nil
}

func awaitCmd(ctx context.Context, responses <-chan crtp.Packet, cmd byte) (crtp.Packet, error) {
	cctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	for {
		select {
		case <-cctx.Done():
			return crtp.Packet{}, cferrors.NewTimeout("toc fetch")
		case p, ok := <-responses:
			if !ok {
				return crtp.Packet{}, cferrors.Disconnected
			}
			if len(p.Data) == 0 || p.Data[0] != cmd {
				continue // stale/unrelated echo, keep waiting
			}
			return p, nil
		}
	}
}

func parseItem[T any](data []byte, codec ItemCodec[T]) (Entry[T], error) {
	// [0x02, id_lo, id_hi, type_byte, group\0, name\0]
	if len(data) < 5 {
		return Entry[T]{}, cferrors.NewProtocolError("short GET_ITEM reply: %d bytes", len(data))
	}
	id := binary.LittleEndian.Uint16(data[1:3])
	typeByte := data[3]
	rest := string(data[4:])
	group, rem, ok := strings.Cut(rest, "\x00")
	if !ok {
		return Entry[T]{}, cferrors.NewProtocolError("GET_ITEM reply missing group terminator")
	}
	name, _, ok := strings.Cut(rem, "\x00")
	if !ok {
		return Entry[T]{}, cferrors.NewProtocolError("GET_ITEM reply missing name terminator")
	}
	info, err := codec.ParseInfo(typeByte)
	if err != nil {
		return Entry[T]{}, err
	}
	return Entry[T]{Name: group + "." + name, ID: id, Info: info}, nil
}

func cacheKey(versionTag byte, crc32 uint32) []byte {
	key := make([]byte, 5)
	key[0] = versionTag
	binary.LittleEndian.PutUint32(key[1:], crc32)
	return key
}

func encodeTable[T any](t *Table[T]) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTable[T any](raw string) (*Table[T], error) {
	var t Table[T]
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, err
	}
	t.index()
	return &t, nil
}
