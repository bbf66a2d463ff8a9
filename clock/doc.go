// Package clock implements the TAI-aware time base used by the AoIP engines.
//
// The realtime clock of the host is assumed to be disciplined by PTP (for
// example by ptp4l + phc2sys), so CLOCK_REALTIME tracks UTC and the kernel's
// TAI offset tracks the current leap-second count. RTP timestamps in AES67
// and ST2110 are derived from TAI, not UTC:
//
//	rtp = uint32((utc + taiOffset) * sampleRate)
//
// # Time Points
//
// Time is a (seconds, nanoseconds) pair so that long-running streams never
// accumulate rounding error. Durations use time.Duration, which is an exact
// nanosecond count:
//
//	now := base.Now()
//	next := now.Add(time.Millisecond)
//	base.SleepUntil(next)
//
// # RTP Conversion
//
//	ts := base.ToRTP48k(now)
//	back := base.FromRTP48k(ts, now) // within one sample period of now
//
// FromRTP resolves the 32-bit wraparound by choosing the candidate epoch
// nearest to the reference time.
//
// # Deterministic Testing
//
// Base reads the clock through a TimeProvider. Tests inject a provider that
// advances manually:
//
//	base, err := clock.New(clock.WithTimeProvider(fake), clock.WithTAIOffset(37))
//
// # Startup Check
//
// New fails with ErrNoTAIOffset when the kernel reports no TAI offset and the
// caller did not pin one with WithTAIOffset. Timestamps would otherwise be
// wrong by whole seconds.
package clock
