package param

import (
	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
)

// itemInfo is the per-parameter payload carried by toc.Entry[itemInfo]:
// the type byte decoded into a ValueType plus the two flag bits the
// firmware packs alongside it (spec.md §4.4, §6).
type itemInfo struct {
	ItemType        crtp.ValueType
	Writable        bool
	HasExtendedType bool
}

// itemCodec implements toc.ItemCodec[itemInfo], decoding a param TOC item
// type byte: low 4 bits select the value type, bit 6 marks read-only, bit
// 4 marks that the item has extended type flags available via
// GetExtendedType.
type itemCodec struct{}

func (itemCodec) ParseInfo(typeByte byte) (itemInfo, error) {
	var vt crtp.ValueType
	switch typeByte & 0x0f {
	case 0x08:
		vt = crtp.U8
	case 0x09:
		vt = crtp.U16
	case 0x0A:
		vt = crtp.U32
	case 0x0B:
		vt = crtp.U64
	case 0x00:
		vt = crtp.I8
	case 0x01:
		vt = crtp.I16
	case 0x02:
		vt = crtp.I32
	case 0x03:
		vt = crtp.I64
	case 0x05:
		vt = crtp.F16
	case 0x06:
		vt = crtp.F32
	case 0x07:
		vt = crtp.F64
	default:
		return itemInfo{}, cferrors.NewParamError("type byte 0x%02x: unknown value type %d", typeByte, typeByte&0x0f)
	}
	return itemInfo{
		ItemType:        vt,
		Writable:        typeByte&(1<<6) == 0,
		HasExtendedType: typeByte&(1<<4) != 0,
	}, nil
}
