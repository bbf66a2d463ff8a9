package stream

import "errors"

// Validation errors.
var (
	// ErrInvalidStream indicates a stream record with missing or out of range fields.
	ErrInvalidStream = errors.New("invalid stream")

	// ErrVariantMismatch indicates the populated payload variant does not match the stream kind.
	ErrVariantMismatch = errors.New("stream parameters do not match stream kind")

	// ErrUnsupportedFormat indicates a sample format the stream kind cannot carry.
	ErrUnsupportedFormat = errors.New("unsupported sample format")
)
