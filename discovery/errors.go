package discovery

import "errors"

// Publication errors.
var (
	// ErrInvalidSDP indicates an announced SDP document that does not decode.
	ErrInvalidSDP = errors.New("invalid service sdp")

	// ErrServiceExists indicates an add for a name that is already announced.
	ErrServiceExists = errors.New("service already announced")

	// ErrServiceNotFound indicates an update or removal for an unknown name.
	ErrServiceNotFound = errors.New("service not announced")

	// ErrNameMismatch indicates the SDP session name differs from the stream name.
	ErrNameMismatch = errors.New("sdp session name does not match stream name")
)

// Construction errors.
var (
	// ErrUnknownBackend indicates a configured backend name with no implementation.
	ErrUnknownBackend = errors.New("unknown discovery backend")
)
