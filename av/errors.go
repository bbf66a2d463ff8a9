package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Configuration errors.
var (
	// ErrInvalidStream indicates stream parameters the engine cannot run.
	ErrInvalidStream = errors.New("invalid stream parameters")

	// ErrLatencyOutOfRange indicates a latency outside [MinLatency, MaxLatency].
	ErrLatencyOutOfRange = errors.New("latency out of range")

	// ErrUnsupportedFormat indicates a sample format the engine cannot convert.
	ErrUnsupportedFormat = errors.New("unsupported sample format")

	// ErrInvalidConfig indicates a missing clock, provider or option out of range.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrNoSource indicates a transmitter without exactly one sample source.
	ErrNoSource = errors.New("no sample source")

	// ErrNoSink indicates a receiver without a sample sink.
	ErrNoSink = errors.New("no sample sink")

	// ErrSourceMismatch indicates a ring whose geometry does not match the stream.
	ErrSourceMismatch = errors.New("ring geometry does not match stream")

	// ErrMetadataReceiveUnsupported indicates a receiver for a metadata stream.
	ErrMetadataReceiveUnsupported = errors.New("metadata receive not supported")
)

// Lifecycle errors.
var (
	// ErrInvalidState indicates an operation not allowed in the current state.
	ErrInvalidState = errors.New("invalid engine state")

	// ErrEngineClosed indicates an operation on a closed engine.
	ErrEngineClosed = errors.New("engine closed")
)

// Runtime errors.
var (
	// ErrOffload wraps failures reported by the offload layer.
	ErrOffload = errors.New("offload failure")

	// ErrFragmentMismatch indicates a metadata payload left over after its
	// planned fragment count. The stream stops.
	ErrFragmentMismatch = errors.New("metadata fragment count mismatch")
)
