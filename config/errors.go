package config

import "errors"

var (
	// ErrInvalidConfig indicates a configuration value outside its accepted range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidStreamConfig indicates a stream entry that does not describe a valid stream.
	ErrInvalidStreamConfig = errors.New("invalid stream configuration")

	// ErrDuplicateStream indicates two stream entries with the same name.
	ErrDuplicateStream = errors.New("duplicate stream name")
)
