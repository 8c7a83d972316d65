// Package localization implements the localization subsystem (spec.md
// §4.7, §6): emergency stop/watchdog, external position/pose input,
// LPS short LPP forwarding, and the lighthouse angle stream and persist
// handshake on port 6. Grounded on
// original_source/src/subsystems/localization.rs for the emergency
// control surface (fire-and-forget over a bare uplink Sender, adapted
// here to *conn.Engine) and on spec.md §4.7's supplement of the
// remaining channel-1 tags and the channel-0 position frame, which the
// distilled Rust reference file names but does not implement.
package localization

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
)

const (
	chanPosition = 0
	chanGeneric  = 1
)

// Generic-channel message type tags (spec.md §6; tags not named here
// are out of scope).
const (
	tagLPSShortLPP           = 2
	tagEmergencyStop         = 3
	tagEmergencyStopWatchdog = 4
	tagExtPose               = 8
	tagLHAngleStream         = 10
	tagLHPersistData         = 11
)

const persistTimeout = 5 * time.Second

// Axis identifies which lighthouse sweep a LighthouseAngleSample
// carries.
type Axis byte

const (
	AxisHorizontal Axis = 0
	AxisVertical   Axis = 1
)

// LighthouseAngleSample is one base station's 4 sensor angles for one
// sweep axis, decoded from an f32 anchor plus three fp16 deltas.
type LighthouseAngleSample struct {
	BaseStationID byte
	Axis          Axis
	Angles        [4]float32
}

// Localization sends positioning input to the firmware and receives
// lighthouse geometry-estimation telemetry.
type Localization struct {
	engine *conn.Engine

	lhMu   sync.Mutex
	lhSubs map[*LighthouseAngleStream]struct{}

	persistMu     sync.Mutex // serializes persist-request/confirmation round trips
	persistResult chan crtp.Packet
}

func New(ctx context.Context, engine *conn.Engine) *Localization {
	raw := engine.RegisterPort(crtp.PortLocalization, 64)
	chans := conn.SplitChannels(ctx, raw, 32)
	l := &Localization{
		engine:        engine,
		lhSubs:        make(map[*LighthouseAngleStream]struct{}),
		persistResult: make(chan crtp.Packet, 1),
	}
	go l.runGeneric(ctx, chans[chanGeneric])
	return l
}

func le32f(v float32, dst []byte) []byte {
	bits := math.Float32bits(v)
	return append(dst, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

func (l *Localization) send(channel uint8, payload []byte) error {
	pk, err := crtp.New(crtp.PortLocalization, channel, payload)
	if err != nil {
		return err
	}
	return l.engine.Enqueue(pk)
}

// SendEmergencyStop immediately stops all motors; the device requires a
// reboot before it can fly again.
func (l *Localization) SendEmergencyStop() error {
	return l.send(chanGeneric, []byte{tagEmergencyStop})
}

// SendEmergencyStopWatchdog arms or resets a 1000ms failsafe: if this is
// not called again within that window, the device automatically
// emergency-stops. Call periodically, not once.
func (l *Localization) SendEmergencyStopWatchdog() error {
	return l.send(chanGeneric, []byte{tagEmergencyStopWatchdog})
}

// SendExternalPosition reports an externally measured x/y/z position
// (meters, world frame) to the onboard estimator.
func (l *Localization) SendExternalPosition(x, y, z float32) error {
	var payload []byte
	payload = le32f(x, payload)
	payload = le32f(y, payload)
	payload = le32f(z, payload)
	return l.send(chanPosition, payload)
}

// SendExternalPose reports an externally measured position and
// quaternion orientation to the onboard estimator.
func (l *Localization) SendExternalPose(x, y, z, qx, qy, qz, qw float32) error {
	payload := []byte{tagExtPose}
	payload = le32f(x, payload)
	payload = le32f(y, payload)
	payload = le32f(z, payload)
	payload = le32f(qx, payload)
	payload = le32f(qy, payload)
	payload = le32f(qz, payload)
	payload = le32f(qw, payload)
	return l.send(chanGeneric, payload)
}

// SendLPSShortLPP forwards a Loco Positioning System short LPP frame
// addressed to destID, verbatim.
func (l *Localization) SendLPSShortLPP(destID byte, data []byte) error {
	payload := []byte{tagLPSShortLPP, destID}
	payload = append(payload, data...)
	return l.send(chanGeneric, payload)
}

// PersistLighthouseGeometry requests the firmware persist its current
// lighthouse geometry/calibration to flash and waits for confirmation.
func (l *Localization) PersistLighthouseGeometry(ctx context.Context) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	if err := l.send(chanGeneric, []byte{tagLHPersistData}); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	select {
	case <-cctx.Done():
		return cferrors.NewTimeout("lighthouse persist confirmation")
	case _, ok := <-l.persistResult:
		if !ok {
			return cferrors.Disconnected
		}
		return nil
	}
}

func (l *Localization) runGeneric(ctx context.Context, in <-chan crtp.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pk, ok := <-in:
			if !ok {
				return
			}
			if len(pk.Data) == 0 {
				continue
			}
			switch pk.Data[0] {
			case tagLHAngleStream:
				l.dispatchLighthouseAngle(pk.Data[1:])
			case tagLHPersistData:
				select {
				case l.persistResult <- pk:
				default:
				}
			}
		}
	}
}

func decodeLighthouseAngle(data []byte) (LighthouseAngleSample, error) {
	if len(data) < 12 {
		return LighthouseAngleSample{}, cferrors.NewProtocolError("lighthouse angle frame too short: %d bytes", len(data))
	}
	bsID := data[0]
	axis := Axis(data[1])
	anchor := math.Float32frombits(binary.LittleEndian.Uint32(data[2:6]))
	d0 := crtp.Float16ToFloat32(binary.LittleEndian.Uint16(data[6:8]))
	d1 := crtp.Float16ToFloat32(binary.LittleEndian.Uint16(data[8:10]))
	d2 := crtp.Float16ToFloat32(binary.LittleEndian.Uint16(data[10:12]))
	return LighthouseAngleSample{
		BaseStationID: bsID,
		Axis:          axis,
		Angles:        [4]float32{anchor, anchor + d0, anchor + d1, anchor + d2},
	}, nil
}

func (l *Localization) dispatchLighthouseAngle(data []byte) {
	sample, err := decodeLighthouseAngle(data)
	if err != nil {
		return
	}
	l.lhMu.Lock()
	defer l.lhMu.Unlock()
	for sub := range l.lhSubs {
		sub.push(sample)
	}
}

// LighthouseAngleStream receives decoded lighthouse angle samples as
// they arrive. A slow consumer loses the oldest queued sample.
type LighthouseAngleStream struct {
	l  *Localization
	ch chan LighthouseAngleSample
}

func (s *LighthouseAngleStream) push(sample LighthouseAngleSample) {
	select {
	case s.ch <- sample:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- sample:
		default:
		}
	}
}

// Next blocks until the next sample arrives or ctx is done.
func (s *LighthouseAngleStream) Next(ctx context.Context) (LighthouseAngleSample, error) {
	select {
	case sample, ok := <-s.ch:
		if !ok {
			return LighthouseAngleSample{}, ctx.Err()
		}
		return sample, nil
	case <-ctx.Done():
		return LighthouseAngleSample{}, ctx.Err()
	}
}

// Close unsubscribes the stream.
func (s *LighthouseAngleStream) Close() {
	s.l.lhMu.Lock()
	delete(s.l.lhSubs, s)
	s.l.lhMu.Unlock()
}

// SubscribeLighthouseAngles returns a stream of decoded lighthouse
// angle samples.
func (l *Localization) SubscribeLighthouseAngles() *LighthouseAngleStream {
	l.lhMu.Lock()
	defer l.lhMu.Unlock()
	s := &LighthouseAngleStream{l: l, ch: make(chan LighthouseAngleSample, 32)}
	l.lhSubs[s] = struct{}{}
	return s
}
