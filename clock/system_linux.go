//go:build linux

package clock

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// SystemProvider reads CLOCK_REALTIME and sleeps with absolute
// clock_nanosleep so that repeated sleeps do not accumulate drift.
type SystemProvider struct{}

// Now returns the current CLOCK_REALTIME reading.
func (SystemProvider) Now() Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return FromStd(time.Now())
	}
	sec, nsec := ts.Unix()
	return Time{sec: sec, nsec: nsec}
}

// SleepUntil blocks until t using TIMER_ABSTIME. Signal interruptions are
// retried against the same absolute deadline.
func (SystemProvider) SleepUntil(t Time) {
	ts := unix.NsecToTimespec(t.UnixNano())
	for {
		err := unix.ClockNanosleep(unix.CLOCK_REALTIME, unix.TIMER_ABSTIME, &ts, nil)
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

// readTAIOffset queries adjtimex(2) for the kernel's TAI-UTC offset.
func readTAIOffset() (int64, error) {
	var tx unix.Timex
	if _, err := unix.Adjtimex(&tx); err != nil {
		return 0, fmt.Errorf("%w: adjtimex: %v", ErrNoTAIOffset, err)
	}
	if tx.Tai <= 0 || tx.Tai > maxTAIOffset {
		return 0, fmt.Errorf("%w: kernel reports %d", ErrNoTAIOffset, tx.Tai)
	}
	return int64(tx.Tai), nil
}

// SetRealtimePriority switches the calling OS thread to SCHED_FIFO at the
// given priority. The caller must hold runtime.LockOSThread.
func SetRealtimePriority(priority int) error {
	if priority < 1 || priority > 99 {
		return fmt.Errorf("%w: priority %d out of range", ErrRealtimeUnsupported, priority)
	}
	attr := &unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return fmt.Errorf("sched_setattr: %w", err)
	}
	return nil
}
