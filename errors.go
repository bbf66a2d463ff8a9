package aoip

import "errors"

var (
	// ErrInvalidConfig indicates a missing configuration, time base or provider.
	ErrInvalidConfig = errors.New("invalid node configuration")

	// ErrStreamExists indicates a stream name already in use on the node.
	ErrStreamExists = errors.New("stream already exists")

	// ErrStreamNotFound indicates an unknown stream name.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrNotTransmitter indicates an operation that applies to transmitters only.
	ErrNotTransmitter = errors.New("stream is not a transmitter")
)

var (
	// ErrNodeClosed indicates an operation on a closed node.
	ErrNodeClosed = errors.New("node is closed")
)
