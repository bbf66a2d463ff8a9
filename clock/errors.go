package clock

import "errors"

var (
	// ErrNoTAIOffset indicates the kernel did not report a usable TAI-UTC offset.
	ErrNoTAIOffset = errors.New("tai offset unavailable")

	// ErrInvalidTAIOffset indicates a configured TAI offset outside the plausible range.
	ErrInvalidTAIOffset = errors.New("invalid tai offset")

	// ErrRealtimeUnsupported indicates realtime scheduling is not available on this platform.
	ErrRealtimeUnsupported = errors.New("realtime scheduling unsupported")
)
