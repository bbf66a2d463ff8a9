package clock

import "time"

const nsPerSecond = int64(time.Second)

// Time is an absolute point on the realtime (UTC) clock, stored as seconds
// and nanoseconds since the Unix epoch. The nanosecond part is always in
// [0, 1e9).
type Time struct {
	sec  int64
	nsec int64
}

// Unix returns the Time corresponding to the given Unix seconds and nanoseconds.
// nsec may be outside [0, 1e9); the result is normalized.
func Unix(sec, nsec int64) Time {
	return normalize(sec, nsec)
}

// FromStd converts a time.Time.
func FromStd(t time.Time) Time {
	return Time{sec: t.Unix(), nsec: int64(t.Nanosecond())}
}

func normalize(sec, nsec int64) Time {
	if nsec >= nsPerSecond || nsec <= -nsPerSecond {
		sec += nsec / nsPerSecond
		nsec %= nsPerSecond
	}
	if nsec < 0 {
		sec--
		nsec += nsPerSecond
	}
	return Time{sec: sec, nsec: nsec}
}

// Unix returns the seconds and nanoseconds since the Unix epoch.
func (t Time) Unix() (sec, nsec int64) {
	return t.sec, t.nsec
}

// UnixNano returns t as nanoseconds since the Unix epoch.
func (t Time) UnixNano() int64 {
	return t.sec*nsPerSecond + t.nsec
}

// Std converts t to a time.Time in UTC.
func (t Time) Std() time.Time {
	return time.Unix(t.sec, t.nsec).UTC()
}

// IsZero reports whether t is the zero Time.
func (t Time) IsZero() bool {
	return t.sec == 0 && t.nsec == 0
}

// Add returns t+d.
func (t Time) Add(d time.Duration) Time {
	n := int64(d)
	return normalize(t.sec+n/nsPerSecond, t.nsec+n%nsPerSecond)
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration {
	return time.Duration((t.sec-u.sec)*nsPerSecond + (t.nsec - u.nsec))
}

// Compare returns -1 if t is before u, +1 if after, and 0 if equal.
func (t Time) Compare(u Time) int {
	switch {
	case t.sec < u.sec:
		return -1
	case t.sec > u.sec:
		return 1
	case t.nsec < u.nsec:
		return -1
	case t.nsec > u.nsec:
		return 1
	}
	return 0
}

// Before reports whether t is before u.
func (t Time) Before(u Time) bool { return t.Compare(u) < 0 }

// After reports whether t is after u.
func (t Time) After(u Time) bool { return t.Compare(u) > 0 }

// Equal reports whether t and u are the same instant.
func (t Time) Equal(u Time) bool { return t.Compare(u) == 0 }

func (t Time) String() string {
	return t.Std().Format(time.RFC3339Nano)
}

// Scale returns d multiplied by n.
func Scale(d time.Duration, n int64) time.Duration {
	return d * time.Duration(n)
}

// PacketPeriod returns the duration of the given number of samples at rate Hz,
// truncated to whole nanoseconds.
func PacketPeriod(samples, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(int64(samples) * nsPerSecond / int64(rate))
}
