package log

import (
	"time"

	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
)

// Period is a log block's sample interval, wire-encoded as a count of
// 10ms ticks in one byte (spec.md §4.5), so it ranges over [10ms, 2550ms].
type Period struct {
	tenMillis byte
}

// PeriodFromDuration converts d to a Period, truncating to the nearest
// 10ms tick the same way the original implementation does (integer
// division, not rounding).
func PeriodFromDuration(d time.Duration) (Period, error) {
	return PeriodFromMillis(int(d.Milliseconds()))
}

// PeriodFromMillis is PeriodFromDuration taking a millisecond count directly.
func PeriodFromMillis(ms int) (Period, error) {
	arg := ms / 10
	if arg <= 0 || arg > 255 {
		return Period{}, cferrors.NewInvalidArgument("log period %dms out of range, should be between 10ms and 2550ms", ms)
	}
	return Period{tenMillis: byte(arg)}, nil
}
