package views

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"

	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
)

const deckEEPROMHeaderByte = 0xEB

// element ids within the deck identification EEPROM's TLV block.
const (
	elementBoardName  = 1
	elementRevision   = 2
	elementCustomData = 3
)

// DeckEEPROM describes a deck's 1-wire identification EEPROM: a fixed
// header (used GPIO pins, vendor/product id, CRC) followed by a
// CRC-validated TLV block of free-form elements.
type DeckEEPROM struct {
	backend *memory.Backend

	UsedPins uint32
	VID, PID byte
	Elements map[string]string
}

// NewDeckEEPROM reads and validates the header and TLV block.
func NewDeckEEPROM(b *memory.Backend) (*DeckEEPROM, error) {
	if b.Type != memory.TypeOneWire {
		return nil, cferrors.NewMemoryError("wrong memory type for deck EEPROM: %s", b.Type)
	}
	ctx := context.Background()

	header, err := b.Read(ctx, 0, 8, nil)
	if err != nil {
		return nil, err
	}
	if header[0] != deckEEPROMHeaderByte {
		return nil, cferrors.NewMemoryError("invalid 1-wire header")
	}
	usedPins := binary.LittleEndian.Uint32(header[1:5])
	vid, pid, crcByte := header[5], header[6], header[7]

	if got := byte(crc32.ChecksumIEEE(header[:7])); got != crcByte {
		return nil, cferrors.NewMemoryError("1-wire header CRC validation failed")
	}

	elemHeader, err := b.Read(ctx, 8, 2, nil)
	if err != nil {
		return nil, err
	}
	version, elemLen := elemHeader[0], elemHeader[1]
	if version != 0 {
		return nil, cferrors.NewMemoryError("unsupported 1-wire version %d", version)
	}

	elements, err := b.Read(ctx, 10, int(elemLen), nil)
	if err != nil {
		return nil, err
	}
	elemCRC, err := b.Read(ctx, 10+uint32(elemLen), 1, nil)
	if err != nil {
		return nil, err
	}
	crcInput := append(append([]byte{}, elemHeader...), elements...)
	if got := byte(crc32.ChecksumIEEE(crcInput)); got != elemCRC[0] {
		return nil, cferrors.NewMemoryError("1-wire data CRC validation failed")
	}

	return &DeckEEPROM{
		backend:  b,
		UsedPins: usedPins,
		VID:      vid,
		PID:      pid,
		Elements: parseElements(elements),
	}, nil
}

// InitDeckEEPROM returns a blank, uncommitted descriptor without
// touching the device.
func InitDeckEEPROM(b *memory.Backend) (*DeckEEPROM, error) {
	if b.Type != memory.TypeOneWire {
		return nil, cferrors.NewMemoryError("wrong memory type for deck EEPROM: %s", b.Type)
	}
	return &DeckEEPROM{backend: b, Elements: make(map[string]string)}, nil
}

func (d *DeckEEPROM) Close() *memory.Backend { return d.backend }

func parseElements(data []byte) map[string]string {
	elements := make(map[string]string)
	offset := 0
	for offset+1 < len(data) {
		id := data[offset]
		length := int(data[offset+1])
		offset += 2
		if offset+length > len(data) {
			break
		}
		value := data[offset : offset+length]
		offset += length
		switch id {
		case elementBoardName:
			elements["boardName"] = string(value)
		case elementRevision:
			elements["revision"] = string(value)
		case elementCustomData:
			elements["customData"] = hex.EncodeToString(value)
		}
	}
	return elements
}
