package discovery

import "errors"

var (
	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("discovery: invalid config")

	// ErrInvalidAction is returned when an action was not built by the registry.
	ErrInvalidAction = errors.New("discovery: invalid action")
)
