package audio

import "errors"

// Configuration errors
var (
	// ErrUnsupportedFormat indicates a codec or sample width the package cannot convert.
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	// ErrInvalidChannels indicates a channel count outside 1..64.
	ErrInvalidChannels = errors.New("invalid channel count")
	// ErrInvalidGain indicates a negative or non-finite gain.
	ErrInvalidGain = errors.New("invalid gain")
	// ErrInvalidRate indicates a zero sample rate.
	ErrInvalidRate = errors.New("invalid sample rate")
)

// Conversion errors
var (
	// ErrShortBuffer indicates the destination cannot hold the converted samples.
	ErrShortBuffer = errors.New("destination buffer too small")
	// ErrPartialFrame indicates an input that is not a whole number of frames.
	ErrPartialFrame = errors.New("input is not a whole number of frames")
)
