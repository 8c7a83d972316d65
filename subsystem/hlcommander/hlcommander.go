// Package hlcommander implements the high-level commander subsystem
// (spec.md §4.7, §6): structured, fire-and-forget commands (take off,
// land, go-to, spiral, stop, trajectory control, group mask) on port 8.
// Grounded on original_source/src/subsystems/high_level_commander.rs,
// adapted from a bare uplink Sender to *conn.Engine the way
// subsystem/commander does.
package hlcommander

import (
	"context"
	"math"

	"github.com/bitcraze/crazyflie-lib-go/crtp"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
)

const chanCommand = 0

// Command type identifiers (spec.md §4.7; values per the Crazyflie
// high-level commander firmware protocol).
const (
	cmdSetGroupMask      = 0
	cmdStop              = 3
	cmdDefineTrajectory  = 6
	cmdTakeOff           = 7
	cmdLand              = 8
	cmdSpiral            = 11
	cmdGoTo              = 12
	cmdStartTrajectory   = 13
)

// ALLGroups addresses every Crazyflie regardless of its group mask.
const ALLGroups uint8 = 0

const trajectoryLocationMem = 1

// Trajectory data formats for DefineTrajectory.
const (
	TrajectoryTypePoly4D           = 0
	TrajectoryTypePoly4DCompressed = 1
)

// HLCommander sends structured flight commands. Commands do not wait
// for a reply: duration is an input describing how the firmware should
// shape the trajectory, not an observed outcome.
type HLCommander struct {
	engine *conn.Engine
}

func New(engine *conn.Engine) *HLCommander {
	return &HLCommander{engine: engine}
}

func le32f(v float32, dst []byte) []byte {
	bits := math.Float32bits(v)
	return append(dst, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

func le32(v uint32, dst []byte) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (h *HLCommander) send(payload []byte) error {
	pk, err := crtp.New(crtp.PortHLCommander, chanCommand, payload)
	if err != nil {
		return err
	}
	return h.engine.Enqueue(pk)
}

// SetGroupMask sets which group mask this Crazyflie responds to. Use
// ALLGroups to address every Crazyflie.
func (h *HLCommander) SetGroupMask(ctx context.Context, groupMask uint8) error {
	return h.send([]byte{cmdSetGroupMask, groupMask})
}

// groupMaskOr returns groupMask if it was supplied (ok), else ALLGroups.
func groupMaskOr(groupMask *uint8) uint8 {
	if groupMask != nil {
		return *groupMask
	}
	return ALLGroups
}

// TakeOff climbs vertically from the current x-y position to height
// over duration seconds. yaw is the target yaw in radians; pass nil to
// keep the current yaw. groupMask selects which Crazyflies respond;
// pass nil for ALLGroups.
func (h *HLCommander) TakeOff(ctx context.Context, height float32, yaw *float32, duration float32, groupMask *uint8) error {
	useCurrentYaw := yaw == nil
	targetYaw := float32(0)
	if yaw != nil {
		targetYaw = *yaw
	}
	payload := []byte{cmdTakeOff, groupMaskOr(groupMask)}
	payload = le32f(height, payload)
	payload = le32f(targetYaw, payload)
	payload = append(payload, boolByte(useCurrentYaw))
	payload = le32f(duration, payload)
	return h.send(payload)
}

// Land descends vertically from the current x-y position to height over
// duration seconds, with the same yaw/groupMask semantics as TakeOff.
func (h *HLCommander) Land(ctx context.Context, height float32, yaw *float32, duration float32, groupMask *uint8) error {
	useCurrentYaw := yaw == nil
	targetYaw := float32(0)
	if yaw != nil {
		targetYaw = *yaw
	}
	payload := []byte{cmdLand, groupMaskOr(groupMask)}
	payload = le32f(height, payload)
	payload = le32f(targetYaw, payload)
	payload = append(payload, boolByte(useCurrentYaw))
	payload = le32f(duration, payload)
	return h.send(payload)
}

// Stop halts the current high-level command and disables motors.
func (h *HLCommander) Stop(ctx context.Context, groupMask *uint8) error {
	return h.send([]byte{cmdStop, groupMaskOr(groupMask)})
}

// GoTo moves to a position with smooth path planning. relative
// reinterprets x/y/z/yaw as offsets from the current state; linear
// selects straight-line interpolation over polynomial blending.
func (h *HLCommander) GoTo(ctx context.Context, x, y, z, yaw, duration float32, relative, linear bool, groupMask *uint8) error {
	payload := []byte{cmdGoTo, groupMaskOr(groupMask), boolByte(relative), boolByte(linear)}
	payload = le32f(x, payload)
	payload = le32f(y, payload)
	payload = le32f(z, payload)
	payload = le32f(yaw, payload)
	payload = le32f(duration, payload)
	return h.send(payload)
}

// Spiral flies an arc of angle radians (|angle| <= 2*pi) around a
// computed center, with radius changing linearly from initialRadius to
// finalRadius (both >= 0) and altitude changing by altitudeGain over
// duration seconds.
func (h *HLCommander) Spiral(ctx context.Context, angle, initialRadius, finalRadius, altitudeGain, duration float32, sideways, clockwise bool, groupMask *uint8) error {
	if math.Abs(float64(angle)) > 2*math.Pi {
		return cferrors.NewInvalidArgument("spiral angle %.3f rad exceeds +/-2*pi", angle)
	}
	if initialRadius < 0 {
		return cferrors.NewInvalidArgument("spiral initial_radius %.3f must be >= 0", initialRadius)
	}
	if finalRadius < 0 {
		return cferrors.NewInvalidArgument("spiral final_radius %.3f must be >= 0", finalRadius)
	}
	payload := []byte{cmdSpiral, groupMaskOr(groupMask), boolByte(sideways), boolByte(clockwise)}
	payload = le32f(angle, payload)
	payload = le32f(initialRadius, payload)
	payload = le32f(finalRadius, payload)
	payload = le32f(altitudeGain, payload)
	payload = le32f(duration, payload)
	return h.send(payload)
}

// DefineTrajectory registers a trajectory previously written to
// trajectory memory (subsystem/memory/views.Trajectory) at memoryOffset,
// with numPieces segments. trajectoryType defaults to
// TrajectoryTypePoly4D; pass nil to use the default.
func (h *HLCommander) DefineTrajectory(ctx context.Context, trajectoryID uint8, memoryOffset uint32, numPieces uint8, trajectoryType *uint8) error {
	tType := byte(TrajectoryTypePoly4D)
	if trajectoryType != nil {
		tType = *trajectoryType
	}
	payload := []byte{cmdDefineTrajectory, trajectoryID, trajectoryLocationMem, tType}
	payload = le32(memoryOffset, payload)
	payload = append(payload, numPieces)
	return h.send(payload)
}

// StartTrajectory begins executing a previously defined trajectory.
// timeScale 1.0 is original speed; >1.0 slows down, <1.0 speeds up.
func (h *HLCommander) StartTrajectory(ctx context.Context, trajectoryID uint8, timeScale float32, relativePosition, relativeYaw, reversed bool, groupMask *uint8) error {
	payload := []byte{cmdStartTrajectory, groupMaskOr(groupMask), boolByte(relativePosition), boolByte(relativeYaw), boolByte(reversed), trajectoryID}
	payload = le32f(timeScale, payload)
	return h.send(payload)
}
