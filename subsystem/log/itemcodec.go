package log

import (
	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
)

// itemInfo is the per-variable payload carried by toc.Entry[itemInfo].
// Unlike param, log TOC items carry no flag bits — only a storage type.
type itemInfo struct {
	ItemType crtp.ValueType
}

type itemCodec struct{}

func (itemCodec) ParseInfo(typeByte byte) (itemInfo, error) {
	vt, err := logValueType(typeByte)
	if err != nil {
		return itemInfo{}, err
	}
	return itemInfo{ItemType: vt}, nil
}

// logValueType maps the log subsystem's own storage-type byte (distinct
// from param's bit-packed type byte) to a ValueType. Only these 8 types
// are representable in a log block; U64/I64/F64 are not (spec.md §4.5).
func logValueType(b byte) (crtp.ValueType, error) {
	switch b {
	case 1:
		return crtp.U8, nil
	case 2:
		return crtp.U16, nil
	case 3:
		return crtp.U32, nil
	case 4:
		return crtp.I8, nil
	case 5:
		return crtp.I16, nil
	case 6:
		return crtp.I32, nil
	case 7:
		return crtp.F32, nil
	case 8:
		return crtp.F16, nil
	default:
		return 0, cferrors.NewProtocolError("invalid log item type %d", b)
	}
}

// logStorageByte is the inverse mapping, used when appending a variable
// to a block.
func logStorageByte(t crtp.ValueType) (byte, error) {
	switch t {
	case crtp.U8:
		return 1, nil
	case crtp.U16:
		return 2, nil
	case crtp.U32:
		return 3, nil
	case crtp.I8:
		return 4, nil
	case crtp.I16:
		return 5, nil
	case crtp.I32:
		return 6, nil
	case crtp.F32:
		return 7, nil
	case crtp.F16:
		return 8, nil
	default:
		return 0, cferrors.NewLogError("value type %s not supported by the log subsystem", t)
	}
}
