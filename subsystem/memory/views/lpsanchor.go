package views

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
)

const (
	lpsMaxAnchors   = 16
	lpsIDListLen    = 1 + lpsMaxAnchors
	lpsAddrIDList   = 0x0000
	lpsAddrActiveID = 0x1000
	lpsAddrAnchors  = 0x2000
	lpsAnchorPage   = 0x0100
	lpsAnchorLen    = 3*sizeFloat + 1
)

// AnchorData is a single Loco Positioning anchor's position and
// validity flag.
type AnchorData struct {
	Position [3]float32
	Valid    bool
}

func anchorDataFromBytes(data []byte) (AnchorData, error) {
	if len(data) < lpsAnchorLen {
		return AnchorData{}, cferrors.NewMemoryError("insufficient data for anchor")
	}
	return AnchorData{
		Position: [3]float32{
			math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])),
			math.Float32frombits(binary.LittleEndian.Uint32(data[4:8])),
			math.Float32frombits(binary.LittleEndian.Uint32(data[8:12])),
		},
		Valid: data[12] != 0,
	}, nil
}

// LPSAnchors is the typed view over the Loco Positioning System's
// anchor table: a configured-id list, an active-id list, and one
// 256-byte position/valid page per anchor (0-15).
type LPSAnchors struct {
	backend *memory.Backend
}

func NewLPSAnchors(b *memory.Backend) (*LPSAnchors, error) {
	if b.Type != memory.TypeLoco2 {
		return nil, cferrors.NewMemoryError("wrong memory type for LPS anchors: %s", b.Type)
	}
	return &LPSAnchors{backend: b}, nil
}

func InitLPSAnchors(b *memory.Backend) (*LPSAnchors, error) { return NewLPSAnchors(b) }

func (l *LPSAnchors) Close() *memory.Backend { return l.backend }

func (l *LPSAnchors) readIDList(ctx context.Context, addr uint32) ([]byte, error) {
	data, err := l.backend.Read(ctx, addr, lpsIDListLen, nil)
	if err != nil {
		return nil, err
	}
	count := int(data[0])
	if count > lpsMaxAnchors {
		return nil, cferrors.NewMemoryError("anchor count %d exceeds maximum %d", count, lpsMaxAnchors)
	}
	return data[1 : 1+count], nil
}

// ReadIDList returns the configured anchor ids.
func (l *LPSAnchors) ReadIDList(ctx context.Context) ([]byte, error) {
	return l.readIDList(ctx, lpsAddrIDList)
}

// ReadActiveIDList returns the currently active anchor ids.
func (l *LPSAnchors) ReadActiveIDList(ctx context.Context) ([]byte, error) {
	return l.readIDList(ctx, lpsAddrActiveID)
}

// ReadAnchor returns position data for a single anchor id (0-15).
func (l *LPSAnchors) ReadAnchor(ctx context.Context, anchorID byte) (AnchorData, error) {
	if int(anchorID) >= lpsMaxAnchors {
		return AnchorData{}, cferrors.NewInvalidArgument("anchor id %d out of range [0,%d)", anchorID, lpsMaxAnchors)
	}
	addr := uint32(lpsAddrAnchors) + uint32(anchorID)*lpsAnchorPage
	data, err := l.backend.Read(ctx, addr, lpsAnchorLen, nil)
	if err != nil {
		return AnchorData{}, err
	}
	return anchorDataFromBytes(data)
}

// SystemSnapshot is a complete read of the anchor table: both id lists
// plus position data for every configured anchor.
type SystemSnapshot struct {
	AnchorIDs       []byte
	ActiveAnchorIDs []byte
	Anchors         map[byte]AnchorData
}

// ReadAll reads the id lists and then every configured anchor's
// position data.
func (l *LPSAnchors) ReadAll(ctx context.Context) (SystemSnapshot, error) {
	ids, err := l.ReadIDList(ctx)
	if err != nil {
		return SystemSnapshot{}, err
	}
	active, err := l.ReadActiveIDList(ctx)
	if err != nil {
		return SystemSnapshot{}, err
	}
	anchors := make(map[byte]AnchorData, len(ids))
	for _, id := range ids {
		data, err := l.ReadAnchor(ctx, id)
		if err != nil {
			return SystemSnapshot{}, err
		}
		anchors[id] = data
	}
	return SystemSnapshot{AnchorIDs: ids, ActiveAnchorIDs: active, Anchors: anchors}, nil
}
