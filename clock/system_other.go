//go:build !linux

package clock

import (
	"fmt"
	"runtime"
	"time"
)

// SystemProvider reads the wall clock. Without clock_nanosleep the sleep is
// relative and may drift; only Linux hosts are supported for production use.
type SystemProvider struct{}

// Now returns the current wall clock reading.
func (SystemProvider) Now() Time {
	return FromStd(time.Now())
}

// SleepUntil blocks until t.
func (SystemProvider) SleepUntil(t Time) {
	if d := time.Until(t.Std()); d > 0 {
		time.Sleep(d)
	}
}

func readTAIOffset() (int64, error) {
	return 0, fmt.Errorf("%w: not supported on %s", ErrNoTAIOffset, runtime.GOOS)
}

// SetRealtimePriority is not supported on this platform.
func SetRealtimePriority(priority int) error {
	return fmt.Errorf("%w: %s", ErrRealtimeUnsupported, runtime.GOOS)
}
