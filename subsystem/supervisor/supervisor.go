// Package supervisor implements the supervisor subsystem (spec.md
// §4.7, §6): a request/response state bitfield, TTL-cached, decoded
// into named flight-readiness predicates, plus arming and crash
// recovery commands. Grounded on
// original_source/src/subsystems/supervisor.rs, adapted from a
// std::sync::Mutex-guarded last-fetch-time/cached-bitfield pair to a
// single plain sync.Mutex guarding both (spec.md §5 "plain mutex,
// short critical section").
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
)

const (
	chanInfo    = 0
	chanCommand = 1
)

const (
	cmdGetStateBitfield = 0x0C
	cmdArmSystem        = 0x01
	cmdRecoverSystem    = 0x02
)

// Bit positions within the state bitfield.
const (
	bitCanBeArmed = iota
	bitIsArmed
	bitIsAutoArmed
	bitCanFly
	bitIsFlying
	bitIsTumbled
	bitIsLocked
	bitIsCrashed
	bitHLControlActive
	bitHLTrajFinished
	bitHLControlDisabled
)

const cacheTTL = 100 * time.Millisecond
const requestTimeout = time.Second

// Info is the decoded supervisor state bitfield.
type Info struct {
	raw uint16
}

func InfoFromBits(bits uint16) Info { return Info{raw: bits} }

func (i Info) bit(n uint) bool { return (i.raw>>n)&1 != 0 }

func (i Info) CanBeArmed() bool        { return i.bit(bitCanBeArmed) }
func (i Info) IsArmed() bool           { return i.bit(bitIsArmed) }
func (i Info) IsAutoArmed() bool       { return i.bit(bitIsAutoArmed) }
func (i Info) CanFly() bool            { return i.bit(bitCanFly) }
func (i Info) IsFlying() bool          { return i.bit(bitIsFlying) }
func (i Info) IsTumbled() bool         { return i.bit(bitIsTumbled) }
func (i Info) IsLocked() bool          { return i.bit(bitIsLocked) }
func (i Info) IsCrashed() bool         { return i.bit(bitIsCrashed) }
func (i Info) HLControlActive() bool   { return i.bit(bitHLControlActive) }
func (i Info) HLTrajFinished() bool    { return i.bit(bitHLTrajFinished) }
func (i Info) HLControlDisabled() bool { return i.bit(bitHLControlDisabled) }

// Supervisor reads and caches the system state bitfield and sends
// arming/crash-recovery commands.
type Supervisor struct {
	engine  *conn.Engine
	infoCh  <-chan crtp.Packet
	reqMu   sync.Mutex // serializes channel-0 request/response

	cacheMu    sync.Mutex
	lastFetch  time.Time
	cached     uint16
	haveCached bool
}

func New(ctx context.Context, engine *conn.Engine) *Supervisor {
	raw := engine.RegisterPort(crtp.PortSupervisor, 64)
	chans := conn.SplitChannels(ctx, raw, 32)
	return &Supervisor{engine: engine, infoCh: chans[chanInfo]}
}

// ReadBitfield returns the current supervisor state, using a cached
// value when it is less than 100ms old.
func (s *Supervisor) ReadBitfield(ctx context.Context) (Info, error) {
	now := time.Now()

	s.cacheMu.Lock()
	if s.haveCached && now.Sub(s.lastFetch) < cacheTTL {
		bits := s.cached
		s.cacheMu.Unlock()
		return InfoFromBits(bits), nil
	}
	s.cacheMu.Unlock()

	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	pk, err := crtp.New(crtp.PortSupervisor, chanInfo, []byte{cmdGetStateBitfield})
	if err != nil {
		return Info{}, err
	}
	if err := s.engine.Enqueue(pk); err != nil {
		return Info{}, err
	}

	bits, err := s.waitForBitfield(ctx)
	if err != nil {
		return Info{}, err
	}

	s.cacheMu.Lock()
	s.lastFetch = time.Now()
	s.cached = bits
	s.haveCached = true
	s.cacheMu.Unlock()

	return InfoFromBits(bits), nil
}

func (s *Supervisor) waitForBitfield(ctx context.Context) (uint16, error) {
	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	for {
		select {
		case <-cctx.Done():
			return 0, cferrors.NewTimeout("supervisor bitfield request")
		case pk, ok := <-s.infoCh:
			if !ok {
				return 0, cferrors.Disconnected
			}
			if len(pk.Data) < 3 {
				continue
			}
			if pk.Data[0] != cmdGetStateBitfield {
				continue
			}
			return uint16(pk.Data[1]) | uint16(pk.Data[2])<<8, nil
		}
	}
}

// SendArmingRequest arms or disarms the system.
func (s *Supervisor) SendArmingRequest(doArm bool) error {
	var arm byte
	if doArm {
		arm = 1
	}
	pk, err := crtp.New(crtp.PortSupervisor, chanCommand, []byte{cmdArmSystem, arm})
	if err != nil {
		return err
	}
	return s.engine.Enqueue(pk)
}

// SendCrashRecoveryRequest requests recovery from a detected crash.
func (s *Supervisor) SendCrashRecoveryRequest() error {
	pk, err := crtp.New(crtp.PortSupervisor, chanCommand, []byte{cmdRecoverSystem})
	if err != nil {
		return err
	}
	return s.engine.Enqueue(pk)
}
