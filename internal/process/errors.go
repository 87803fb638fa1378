package process

import "errors"

// Execution errors, carried in Outcome.Err.
var (
	// ErrEmptyCommand is returned when a command line has no words.
	ErrEmptyCommand = errors.New("process: empty command")

	// ErrTokenizeFailed is returned when a command line has unbalanced quoting.
	ErrTokenizeFailed = errors.New("process: tokenize failed")

	// ErrSpawnFailed is returned when the binary cannot be found or started.
	ErrSpawnFailed = errors.New("process: spawn failed")

	// ErrNonZeroExit is returned when the command exits with a non-zero status.
	ErrNonZeroExit = errors.New("process: non-zero exit")
)
