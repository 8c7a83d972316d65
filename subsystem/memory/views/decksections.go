package views

import (
	"context"
	"encoding/binary"

	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
)

const (
	deckSectionMaxCount   = 8
	deckSectionInfoOffset = 1
	deckSectionInfoSize   = 0x20
	deckSectionCmdOffset  = 0x1000
	deckSectionCmdSize    = 0x20
	deckSectionCmdBits    = 0x4

	deckCmdResetToFirmware  = 0x01
	deckCmdResetToBootloader = 0x02
)

// Bitfield 1 of a deck section's info record.
const (
	deckFlagValid            = 0x01
	deckFlagStarted          = 0x02
	deckFlagSupportsRead     = 0x04
	deckFlagSupportsWrite    = 0x08
	deckFlagSupportsUpgrade  = 0x10
	deckFlagUpgradeRequired  = 0x20
	deckFlagBootloaderActive = 0x40
)

// Bitfield 2.
const (
	deckFlagCanResetToFirmware   = 0x01
	deckFlagCanResetToBootloader = 0x02
)

// DeckSection describes one of up to 8 primary/secondary deck memories
// addressable through the firmware/bootloader table.
type DeckSection struct {
	backend *memory.Backend
	index   int

	SupportsRead          bool
	SupportsWrite         bool
	SupportsUpgrade       bool
	CanResetToFirmware    bool
	CanResetToBootloader  bool
	BootloaderActive      bool
	UpgradeRequired       bool
	RequiredHash          uint32
	RequiredLength        uint32
	BaseAddress           uint32
	CommandAddress        uint32
	Name                  string
}

// DeckSections is the typed view over a deck memory's section table.
type DeckSections struct {
	backend  *memory.Backend
	Sections []DeckSection
}

// NewDeckSections reads and parses every populated section slot.
func NewDeckSections(b *memory.Backend) (*DeckSections, error) {
	if b.Type != memory.TypeDeckMemory {
		return nil, cferrors.NewMemoryError("wrong memory type for deck sections: %s", b.Type)
	}
	ctx := context.Background()
	v := &DeckSections{backend: b}

	for i := 0; i < deckSectionMaxCount; i++ {
		infoAddr := uint32(deckSectionInfoOffset + i*deckSectionInfoSize)
		cmdAddr := uint32(deckSectionCmdOffset + i*deckSectionCmdSize)

		data, err := b.Read(ctx, infoAddr, deckSectionInfoSize, nil)
		if err != nil {
			return nil, err
		}
		if len(data) < 9 || data[0]&deckFlagValid == 0 {
			continue
		}

		nameBytes := data[14:32]
		nameEnd := len(nameBytes)
		for j, by := range nameBytes {
			if by == 0 {
				nameEnd = j
				break
			}
		}

		v.Sections = append(v.Sections, DeckSection{
			backend:              b,
			index:                i,
			SupportsRead:         data[0]&deckFlagSupportsRead != 0,
			SupportsWrite:        data[0]&deckFlagSupportsWrite != 0,
			SupportsUpgrade:      data[0]&deckFlagSupportsUpgrade != 0,
			UpgradeRequired:      data[0]&deckFlagUpgradeRequired != 0,
			BootloaderActive:     data[0]&deckFlagBootloaderActive != 0,
			CanResetToFirmware:   data[1]&deckFlagCanResetToFirmware != 0,
			CanResetToBootloader: data[1]&deckFlagCanResetToBootloader != 0,
			RequiredHash:         binary.LittleEndian.Uint32(data[2:6]),
			RequiredLength:       binary.LittleEndian.Uint32(data[6:10]),
			BaseAddress:          binary.LittleEndian.Uint32(data[10:14]),
			CommandAddress:       cmdAddr,
			Name:                 string(nameBytes[:nameEnd]),
		})
	}
	return v, nil
}

// InitDeckSections is unsupported: the section table is firmware-owned
// and has no meaningful blank initial state.
func InitDeckSections(b *memory.Backend) (*DeckSections, error) {
	return nil, cferrors.NewMemoryError("deck section table does not support initializing")
}

func (v *DeckSections) Close() *memory.Backend { return v.backend }

// ResetToFirmware writes the reset-to-firmware command to the section's
// command region.
func (s *DeckSection) ResetToFirmware(ctx context.Context) error {
	if !s.CanResetToFirmware {
		return cferrors.NewMemoryError("deck section %q cannot reset to firmware", s.Name)
	}
	return s.writeCommand(ctx, deckCmdResetToFirmware)
}

// ResetToBootloader writes the reset-to-bootloader command.
func (s *DeckSection) ResetToBootloader(ctx context.Context) error {
	if !s.CanResetToBootloader {
		return cferrors.NewMemoryError("deck section %q cannot reset to bootloader", s.Name)
	}
	return s.writeCommand(ctx, deckCmdResetToBootloader)
}

func (s *DeckSection) writeCommand(ctx context.Context, cmd byte) error {
	return s.backend.Write(ctx, s.CommandAddress+deckSectionCmdBits, []byte{cmd}, nil)
}
