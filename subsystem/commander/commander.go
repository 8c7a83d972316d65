// Package commander implements the low-level setpoint subsystem
// (spec.md §4.7, §6): fire-and-forget frames that drive the Crazyflie's
// instant target state. It is grounded on the teacher's fire-and-forget
// uplink pattern (a bare Enqueue with no reply wait; commander never
// waits for an acknowledgement) and on original_source/src/subsystems/commander.rs,
// adapted from a bare packet-building struct around a channel Sender to
// one around *conn.Engine.
package commander

import (
	"context"
	"math"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
)

// Channels on the legacy commander port (3).
const chanRPYT = 0

// Channels on the generic commander port (7).
const (
	chanSetpoint = 0
	chanMeta     = 1
)

// Generic setpoint type discriminators (spec.md §6).
const (
	typeStop           = 0
	typePosition       = 7
	typeVelocityWorld  = 8
	typeZDistance      = 9
	typeHover          = 10
	typeManual         = 11
	metaNotifySetpointStop = 0
)

// Commander sends real-time setpoints. It holds no state beyond the
// connection; every call is a single enqueue.
//
// Safety contract (docs-level, not enforced in code): the Crazyflie
// locks thrust until one SetpointRPYT(0, 0, 0, 0) frame has been sent.
type Commander struct {
	engine *conn.Engine
}

func New(engine *conn.Engine) *Commander {
	return &Commander{engine: engine}
}

func le32f(v float32, dst []byte) []byte {
	var b [4]byte
	bits := math.Float32bits(v)
	b[0], b[1], b[2], b[3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
	return append(dst, b[:]...)
}

func le16(v uint16, dst []byte) []byte {
	return append(dst, byte(v), byte(v>>8))
}

func le32(v uint32, dst []byte) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (c *Commander) send(port, channel uint8, payload []byte) error {
	pk, err := crtp.New(port, channel, payload)
	if err != nil {
		return err
	}
	return c.engine.Enqueue(pk)
}

// SetpointRPYT sends a Roll, Pitch, Yawrate, Thrust setpoint on the
// legacy commander port. Pitch is negated on the wire, matching
// crazyflie-lib-python's convention (original_source carries the same
// TODO unresolved; kept here as a documented deviation rather than a
// silent behavior change).
func (c *Commander) SetpointRPYT(ctx context.Context, roll, pitch, yawrate float32, thrust uint16) error {
	var payload []byte
	payload = le32f(roll, payload)
	payload = le32f(-pitch, payload)
	payload = le32f(yawrate, payload)
	payload = le16(thrust, payload)
	return c.send(crtp.PortCommanderLegacy, chanRPYT, payload)
}

// SetpointPosition sends an absolute world-frame position and yaw.
func (c *Commander) SetpointPosition(ctx context.Context, x, y, z, yaw float32) error {
	payload := []byte{typePosition}
	payload = le32f(x, payload)
	payload = le32f(y, payload)
	payload = le32f(z, payload)
	payload = le32f(yaw, payload)
	return c.send(crtp.PortCommander, chanSetpoint, payload)
}

// SetpointVelocityWorld sends a world-frame velocity and yaw rate.
func (c *Commander) SetpointVelocityWorld(ctx context.Context, vx, vy, vz, yawrate float32) error {
	payload := []byte{typeVelocityWorld}
	payload = le32f(vx, payload)
	payload = le32f(vy, payload)
	payload = le32f(vz, payload)
	payload = le32f(yawrate, payload)
	return c.send(crtp.PortCommander, chanSetpoint, payload)
}

// SetpointZDistance sends roll/pitch/yawrate plus absolute height above
// the surface below.
func (c *Commander) SetpointZDistance(ctx context.Context, roll, pitch, yawrate, zdistance float32) error {
	payload := []byte{typeZDistance}
	payload = le32f(roll, payload)
	payload = le32f(pitch, payload)
	payload = le32f(yawrate, payload)
	payload = le32f(zdistance, payload)
	return c.send(crtp.PortCommander, chanSetpoint, payload)
}

// SetpointHover sends body-frame x/y velocity, yaw rate, and absolute
// height above the surface below.
func (c *Commander) SetpointHover(ctx context.Context, vx, vy, yawrate, zdistance float32) error {
	payload := []byte{typeHover}
	payload = le32f(vx, payload)
	payload = le32f(vy, payload)
	payload = le32f(yawrate, payload)
	payload = le32f(zdistance, payload)
	return c.send(crtp.PortCommander, chanSetpoint, payload)
}

// SetpointManual sends a manual roll/pitch/yawrate/thrust-percentage
// setpoint. If rate is false, roll and pitch are angles (degrees); if
// true, they are rates (degrees/second). thrustPercentage maps linearly
// onto the firmware's [10001, 60000] thrust range.
func (c *Commander) SetpointManual(ctx context.Context, roll, pitch, yawrate, thrustPercentage float32, rate bool) error {
	thrust := uint16(10001.0 + 0.01*thrustPercentage*(60000.0-10001.0))
	payload := []byte{typeManual}
	payload = le32f(roll, payload)
	payload = le32f(pitch, payload)
	payload = le32f(yawrate, payload)
	payload = le16(thrust, payload)
	if rate {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	return c.send(crtp.PortCommander, chanSetpoint, payload)
}

// SetpointStop immediately cuts the generic-setpoint source; motors
// will lose lift.
func (c *Commander) SetpointStop(ctx context.Context) error {
	return c.send(crtp.PortCommander, chanSetpoint, []byte{typeStop})
}

// NotifySetpointStop lowers the priority of the current setpoint source
// so any other source (including the high-level commander) can take
// over. remainValidMS is the duration, in milliseconds, the current
// setpoint stays valid; 0 hands over immediately.
func (c *Commander) NotifySetpointStop(ctx context.Context, remainValidMS uint32) error {
	payload := []byte{metaNotifySetpointStop}
	payload = le32(remainValidMS, payload)
	return c.send(crtp.PortCommander, chanMeta, payload)
}
