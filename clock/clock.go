package clock

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// RTPClockRate48k is the media clock rate used by AES67 streams at 48 kHz.
const RTPClockRate48k = 48000

// maxTAIOffset bounds a plausible TAI-UTC offset in seconds.
const maxTAIOffset = 100

// TimeProvider abstracts the realtime clock and absolute sleeps.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	// Now returns the current realtime (UTC) clock reading.
	Now() Time
	// SleepUntil blocks the calling goroutine until the absolute time t.
	SleepUntil(t Time)
}

// Base converts between realtime clock readings and TAI-derived RTP timestamps.
type Base struct {
	provider  TimeProvider
	taiOffset int64
}

type options struct {
	provider  TimeProvider
	taiOffset *int64
}

// Option configures a Base.
type Option func(*options)

// WithTimeProvider overrides the system clock.
func WithTimeProvider(tp TimeProvider) Option {
	return func(o *options) {
		o.provider = tp
	}
}

// WithTAIOffset pins the TAI-UTC offset instead of reading it from the kernel.
func WithTAIOffset(seconds int) Option {
	return func(o *options) {
		v := int64(seconds)
		o.taiOffset = &v
	}
}

// New creates a Base. Unless WithTAIOffset is given, the TAI offset is read
// from the kernel and construction fails with ErrNoTAIOffset if it is not set.
func New(opts ...Option) (*Base, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.provider == nil {
		o.provider = SystemProvider{}
	}

	var offset int64
	if o.taiOffset != nil {
		offset = *o.taiOffset
		if offset < 0 || offset > maxTAIOffset {
			return nil, fmt.Errorf("%w: %d", ErrInvalidTAIOffset, offset)
		}
	} else {
		kernelOffset, err := readTAIOffset()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "clock.New",
				"error":    err.Error(),
			}).Error("Kernel TAI offset unavailable")
			return nil, err
		}
		offset = kernelOffset
	}

	logrus.WithFields(logrus.Fields{
		"function":   "clock.New",
		"tai_offset": offset,
	}).Info("Time base initialized")

	return &Base{provider: o.provider, taiOffset: offset}, nil
}

// Now returns the current realtime clock reading.
func (b *Base) Now() Time {
	return b.provider.Now()
}

// SleepUntil blocks until the absolute time t.
func (b *Base) SleepUntil(t Time) {
	b.provider.SleepUntil(t)
}

// TAIOffset returns the TAI-UTC offset in seconds.
func (b *Base) TAIOffset() int64 {
	return b.taiOffset
}

// Provider returns the underlying TimeProvider.
func (b *Base) Provider() TimeProvider {
	return b.provider
}

// samples returns the TAI sample count of t at rate Hz.
func (b *Base) samples(t Time, rate uint32) int64 {
	r := int64(rate)
	return (t.sec+b.taiOffset)*r + t.nsec*r/nsPerSecond
}

// ToRTP converts t to a 32-bit RTP timestamp at the given media clock rate.
func (b *Base) ToRTP(t Time, rate uint32) uint32 {
	return uint32(b.samples(t, rate))
}

// ToRTP48k converts t to a 32-bit RTP timestamp at 48 kHz.
func (b *Base) ToRTP48k(t Time) uint32 {
	return b.ToRTP(t, RTPClockRate48k)
}

// FromRTP returns the realtime clock instant nearest to ref whose RTP
// timestamp at rate Hz equals ts.
func (b *Base) FromRTP(ts uint32, rate uint32, ref Time) Time {
	if rate == 0 {
		return ref
	}
	refSamples := b.samples(ref, rate)
	diff := int32(ts - uint32(refSamples))
	s := refSamples + int64(diff)

	r := int64(rate)
	sec := floorDiv(s, r)
	rem := s - sec*r
	return Time{sec: sec - b.taiOffset, nsec: rem * nsPerSecond / r}
}

// FromRTP48k returns the instant nearest to ref with the 48 kHz RTP timestamp ts.
func (b *Base) FromRTP48k(ts uint32, ref Time) Time {
	return b.FromRTP(ts, RTPClockRate48k, ref)
}

// RTPAt returns the RTP timestamp for the instant d after t.
func (b *Base) RTPAt(t Time, d time.Duration, rate uint32) uint32 {
	return b.ToRTP(t.Add(d), rate)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
