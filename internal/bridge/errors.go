package bridge

import "errors"

var (
	// ErrConnectionFailed is returned by Run when the broker could not be
	// reached within the startup attempts.
	ErrConnectionFailed = errors.New("bridge: connection failed")

	// ErrInvalidOptions is returned by New when a required collaborator is missing.
	ErrInvalidOptions = errors.New("bridge: invalid options")
)
