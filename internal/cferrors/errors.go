// Package cferrors defines the flat set of error kinds surfaced across
// crazyflie-lib-go's public API, modeled on the teacher's cmn/cos typed
// errors (a concrete struct plus an Is* predicate per kind) rather than
// stdlib sentinel values, since several kinds carry a reason string or a
// wrapped cause that callers want to inspect.
package cferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolVersionNotSupportedError is returned when the device's
// negotiated protocol version falls outside [Supported, Supported+1].
type ProtocolVersionNotSupportedError struct {
	Got, Supported int
}

func (e *ProtocolVersionNotSupportedError) Error() string {
	return fmt.Sprintf("protocol version %d not supported (want %d or %d)", e.Got, e.Supported, e.Supported+1)
}

func NewProtocolVersionNotSupported(got, supported int) error {
	return &ProtocolVersionNotSupportedError{Got: got, Supported: supported}
}

func IsProtocolVersionNotSupported(err error) bool {
	_, ok := errors.Cause(err).(*ProtocolVersionNotSupportedError)
	return ok
}

// ProtocolError covers malformed packets, unexpected responses, and
// size mismatches surfaced while decoding a wire frame.
type ProtocolError struct{ Why string }

func (e *ProtocolError) Error() string { return "protocol error: " + e.Why }

func NewProtocolError(format string, a ...any) error {
	return &ProtocolError{Why: fmt.Sprintf(format, a...)}
}

func IsProtocolError(err error) bool {
	_, ok := errors.Cause(err).(*ProtocolError)
	return ok
}

// ParamError covers unknown names, type mismatches, non-zero write
// codes, and unsupported default-value queries in the param subsystem.
type ParamError struct{ Why string }

func (e *ParamError) Error() string { return "param error: " + e.Why }

func NewParamError(format string, a ...any) error {
	return &ParamError{Why: fmt.Sprintf(format, a...)}
}

func IsParamError(err error) bool {
	_, ok := errors.Cause(err).(*ParamError)
	return ok
}

// LogError covers block create/append/start/stop failures, unsupported
// types, and block-id exhaustion in the log subsystem.
type LogError struct{ Why string }

func (e *LogError) Error() string { return "log error: " + e.Why }

func NewLogError(format string, a ...any) error {
	return &LogError{Why: fmt.Sprintf(format, a...)}
}

func IsLogError(err error) bool {
	_, ok := errors.Cause(err).(*LogError)
	return ok
}

// MemoryError covers wrong memory type, bad status, CRC/checksum
// failure, and unknown memory ids in the memory subsystem.
type MemoryError struct{ Why string }

func (e *MemoryError) Error() string { return "memory error: " + e.Why }

func NewMemoryError(format string, a ...any) error {
	return &MemoryError{Why: fmt.Sprintf(format, a...)}
}

func IsMemoryError(err error) bool {
	_, ok := errors.Cause(err).(*MemoryError)
	return ok
}

// InvalidArgumentError is raised before any I/O when a caller-supplied
// value is out of range (radio channel, MTU, spiral radius, ...).
type InvalidArgumentError struct{ Why string }

func (e *InvalidArgumentError) Error() string { return "invalid argument: " + e.Why }

func NewInvalidArgument(format string, a ...any) error {
	return &InvalidArgumentError{Why: fmt.Sprintf(format, a...)}
}

func IsInvalidArgument(err error) bool {
	_, ok := errors.Cause(err).(*InvalidArgumentError)
	return ok
}

// ConversionError covers Value<->primitive mismatches and wrong-length
// byte slices passed to the codec.
type ConversionError struct{ Why string }

func (e *ConversionError) Error() string { return "conversion error: " + e.Why }

func NewConversionError(format string, a ...any) error {
	return &ConversionError{Why: fmt.Sprintf(format, a...)}
}

func IsConversionError(err error) bool {
	_, ok := errors.Cause(err).(*ConversionError)
	return ok
}

// LinkError wraps a transport-level failure reported by the Link.
type LinkError struct{ Inner error }

func (e *LinkError) Error() string { return "link error: " + e.Inner.Error() }
func (e *LinkError) Unwrap() error { return e.Inner }

func NewLinkError(inner error) error {
	if inner == nil {
		return nil
	}
	return &LinkError{Inner: inner}
}

func IsLinkError(err error) bool {
	_, ok := errors.Cause(err).(*LinkError)
	return ok
}

// Disconnected is returned by every subsystem operation attempted after
// the client has disconnected (or the link closed out from under it).
var Disconnected = &disconnectedError{}

type disconnectedError struct{}

func (*disconnectedError) Error() string { return "disconnected" }

func IsDisconnected(err error) bool {
	return errors.Cause(err) == Disconnected
}

// VariableNotFoundError is a TOC lookup miss, used by both param and log.
type VariableNotFoundError struct{ Name string }

func (e *VariableNotFoundError) Error() string { return "variable not found: " + e.Name }

func NewVariableNotFound(name string) error {
	return &VariableNotFoundError{Name: name}
}

func IsVariableNotFound(err error) bool {
	_, ok := errors.Cause(err).(*VariableNotFoundError)
	return ok
}

// TimeoutError is returned when an explicit per-operation deadline
// expires while waiting for a matching echo.
type TimeoutError struct{ Op string }

func (e *TimeoutError) Error() string { return "timeout: " + e.Op }

func NewTimeout(op string) error {
	return &TimeoutError{Op: op}
}

func IsTimeout(err error) bool {
	_, ok := errors.Cause(err).(*TimeoutError)
	return ok
}

// AppchannelPacketTooLargeError is raised constructing an app-channel
// packet whose payload exceeds the 31-byte MTU.
type AppchannelPacketTooLargeError struct{ Len, MTU int }

func (e *AppchannelPacketTooLargeError) Error() string {
	return fmt.Sprintf("appchannel packet too large: %d bytes (mtu %d)", e.Len, e.MTU)
}

func NewAppchannelPacketTooLarge(n, mtu int) error {
	return &AppchannelPacketTooLargeError{Len: n, MTU: mtu}
}

func IsAppchannelPacketTooLarge(err error) bool {
	_, ok := errors.Cause(err).(*AppchannelPacketTooLargeError)
	return ok
}

// Wrap attaches a stack trace the first time an error crosses a
// goroutine boundary (dispatcher -> subsystem), mirroring how the
// teacher leans on github.com/pkg/errors at package edges.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

func Wrapf(err error, format string, a ...any) error {
	return errors.Wrapf(err, format, a...)
}
