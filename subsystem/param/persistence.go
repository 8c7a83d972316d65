package param

import (
	"context"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
)

// GetExtendedType queries the firmware for a parameter's extended-type
// flag byte (spec.md §4.4). Returns an error if the parameter has no
// extended type info, i.e. its TOC item type byte did not set bit 4.
func (p *Param) GetExtendedType(ctx context.Context, name string) (byte, error) {
	e, ok := p.table.Lookup(name)
	if !ok {
		return 0, cferrors.NewVariableNotFound(name)
	}

	resp, err := p.miscRequest(ctx, miscGetExtendedTypeV2, e.ID)
	if err != nil {
		return 0, err
	}

	// Error response: [cmd, id_lo, id_hi, code] (exactly 4 bytes).
	if len(resp) == 4 {
		code := resp[3]
		if code == 0x02 {
			return 0, cferrors.NewParamError("%s has no extended type info (not marked PARAM_EXTENDED in firmware)", name)
		}
		return 0, cferrors.NewParamError("get extended type for %s: error code %d", name, code)
	}
	// Success: [cmd, id_lo, id_hi, 0x00, extended_type].
	if len(resp) < 5 {
		return 0, cferrors.NewProtocolError("short GET_EXTENDED_TYPE_V2 reply: %d bytes", len(resp))
	}
	if resp[3] != 0x00 {
		return 0, cferrors.NewProtocolError("unexpected status 0x%02x in GET_EXTENDED_TYPE_V2 reply", resp[3])
	}
	return resp[4], nil
}

// IsPersistent reports whether name can be stored to EEPROM. It first
// consults the TOC's HasExtendedType bit to avoid a round trip for
// parameters that plainly don't support it.
func (p *Param) IsPersistent(ctx context.Context, name string) (bool, error) {
	e, ok := p.table.Lookup(name)
	if !ok {
		return false, cferrors.NewVariableNotFound(name)
	}
	if !e.Info.HasExtendedType {
		return false, nil
	}
	flags, err := p.GetExtendedType(ctx, name)
	if err != nil {
		return false, err
	}
	return extendedTypeFlags(flags).Test(extendedPersistentBit), nil
}

// GetDefaultValue returns the firmware's compiled-in default for name,
// regardless of any value currently stored in EEPROM. The result is
// cached, including the negative "unsupported" result for read-only or
// otherwise ineligible parameters.
func (p *Param) GetDefaultValue(ctx context.Context, name string) (crtp.Value, error) {
	p.defaultsMu.Lock()
	if d, ok := p.defaults[name]; ok {
		p.defaultsMu.Unlock()
		if d.unsupported {
			return crtp.Value{}, cferrors.NewParamError("%s does not support get_default_value (read-only or invalid)", name)
		}
		return d.value, nil
	}
	p.defaultsMu.Unlock()

	e, ok := p.table.Lookup(name)
	if !ok {
		return crtp.Value{}, cferrors.NewVariableNotFound(name)
	}

	resp, err := p.miscRequest(ctx, miscGetDefaultValueV2, e.ID)
	if err != nil {
		return crtp.Value{}, err
	}

	if len(resp) == 4 {
		code := resp[3]
		if code == 0x02 {
			p.cacheDefaultUnsupported(name)
			return crtp.Value{}, cferrors.NewParamError("%s does not support get_default_value (read-only or invalid)", name)
		}
		return crtp.Value{}, cferrors.NewParamError("get default value for %s: error code %d", name, code)
	}
	if len(resp) < 4 {
		return crtp.Value{}, cferrors.NewProtocolError("short GET_DEFAULT_VALUE_V2 reply: %d bytes", len(resp))
	}
	if resp[3] != 0x00 {
		return crtp.Value{}, cferrors.NewProtocolError("unexpected status 0x%02x in GET_DEFAULT_VALUE_V2 reply", resp[3])
	}
	v, err := crtp.FromBytes(resp[4:], e.Info.ItemType)
	if err != nil {
		return crtp.Value{}, err
	}

	p.defaultsMu.Lock()
	p.defaults[name] = defaultEntry{value: v}
	p.defaultsMu.Unlock()
	return v, nil
}

func (p *Param) cacheDefaultUnsupported(name string) {
	p.defaultsMu.Lock()
	p.defaults[name] = defaultEntry{unsupported: true}
	p.defaultsMu.Unlock()
}

// PersistentGetState reports whether name currently has a value stored
// in EEPROM, the firmware default, and the stored value if any.
func (p *Param) PersistentGetState(ctx context.Context, name string) (PersistentState, error) {
	e, ok := p.table.Lookup(name)
	if !ok {
		return PersistentState{}, cferrors.NewVariableNotFound(name)
	}
	persistent, err := p.IsPersistent(ctx, name)
	if err != nil {
		return PersistentState{}, err
	}
	if !persistent {
		return PersistentState{}, cferrors.NewParamError("%s is not persistent", name)
	}

	resp, err := p.miscRequest(ctx, miscPersistentGetState, e.ID)
	if err != nil {
		return PersistentState{}, err
	}
	if len(resp) < 4 {
		return PersistentState{}, cferrors.NewProtocolError("short PERSISTENT_GET_STATE reply: %d bytes", len(resp))
	}

	status := resp[3]
	width := e.Info.ItemType.ByteLength()
	switch status {
	case 0x00: // not stored: [cmd, id_lo, id_hi, 0x00, default_value]
		if len(resp) < 4+width {
			return PersistentState{}, cferrors.NewProtocolError("short PERSISTENT_GET_STATE reply for default value: %d bytes", len(resp))
		}
		def, err := crtp.FromBytes(resp[4:4+width], e.Info.ItemType)
		if err != nil {
			return PersistentState{}, err
		}
		return PersistentState{Stored: false, DefaultValue: def}, nil
	case 0x01: // stored: [cmd, id_lo, id_hi, 0x01, default_value, stored_value]
		if len(resp) < 4+2*width {
			return PersistentState{}, cferrors.NewProtocolError("short PERSISTENT_GET_STATE reply for stored value: %d bytes", len(resp))
		}
		def, err := crtp.FromBytes(resp[4:4+width], e.Info.ItemType)
		if err != nil {
			return PersistentState{}, err
		}
		stored, err := crtp.FromBytes(resp[4+width:4+2*width], e.Info.ItemType)
		if err != nil {
			return PersistentState{}, err
		}
		return PersistentState{Stored: true, DefaultValue: def, StoredValue: stored}, nil
	case 0x02:
		return PersistentState{}, cferrors.NewParamError("parameter id for %s is invalid or doesn't exist in firmware", name)
	default:
		return PersistentState{}, cferrors.NewProtocolError("unexpected status %d in PERSISTENT_GET_STATE reply for %s", status, name)
	}
}

// PersistentStore writes name's current value to EEPROM.
func (p *Param) PersistentStore(ctx context.Context, name string) error {
	return p.persistentCommand(ctx, name, miscPersistentStore)
}

// PersistentClear removes name's stored value from EEPROM, reverting it
// to the firmware default on next boot.
func (p *Param) PersistentClear(ctx context.Context, name string) error {
	return p.persistentCommand(ctx, name, miscPersistentClear)
}

func (p *Param) persistentCommand(ctx context.Context, name string, cmd byte) error {
	e, ok := p.table.Lookup(name)
	if !ok {
		return cferrors.NewVariableNotFound(name)
	}
	persistent, err := p.IsPersistent(ctx, name)
	if err != nil {
		return err
	}
	if !persistent {
		return cferrors.NewParamError("%s is not persistent", name)
	}

	resp, err := p.miscRequest(ctx, cmd, e.ID)
	if err != nil {
		return err
	}
	if len(resp) < 4 {
		return cferrors.NewProtocolError("short persistence reply: %d bytes", len(resp))
	}
	switch resp[3] {
	case 0x00:
		return nil
	case 0x02:
		return cferrors.NewParamError("persistence operation failed for %s (EEPROM write failed or invalid id)", name)
	default:
		return cferrors.NewProtocolError("unexpected status %d in persistence reply for %s", resp[3], name)
	}
}

// miscRequest sends cmd∥id_le on the MISC channel and returns the
// matching response payload. A single mutex serializes MISC
// request/response pairs so that echoes from overlapping calls are
// never mis-correlated (spec.md §4.4 concurrency policy).
func (p *Param) miscRequest(ctx context.Context, cmd byte, id uint16) ([]byte, error) {
	p.miscMu.Lock()
	defer p.miscMu.Unlock()

	payload := []byte{cmd, byte(id), byte(id >> 8)}
	pk, err := crtp.New(crtp.PortParam, chanMisc, payload)
	if err != nil {
		return nil, err
	}
	if err := p.engine.Enqueue(pk); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	for {
		select {
		case <-cctx.Done():
			return nil, cferrors.NewTimeout("param misc request")
		case resp, ok := <-p.miscResp:
			if !ok {
				return nil, cferrors.Disconnected
			}
			if len(resp.Data) == 0 || resp.Data[0] != cmd {
				continue // stale response to a previous call
			}
			return resp.Data, nil
		}
	}
}
