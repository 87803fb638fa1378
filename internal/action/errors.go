package action

import (
	"errors"
	"fmt"
)

// Configuration errors for the action package.
//
// Build wraps them in *ConfigError, so both forms work:
//
//	if errors.Is(err, action.ErrDuplicateSlug) { ... }
//	var cerr *action.ConfigError
//	if errors.As(err, &cerr) { ... }
var (
	// ErrEmptyName is returned when an entry has a blank name.
	ErrEmptyName = errors.New("action: empty name")

	// ErrInvalidName is returned when a name has no characters usable in a slug.
	ErrInvalidName = errors.New("action: name yields no usable slug")

	// ErrEmptyCommand is returned when an entry has a blank command.
	ErrEmptyCommand = errors.New("action: empty command")

	// ErrInvalidCommand is returned when a command cannot be tokenized.
	ErrInvalidCommand = errors.New("action: invalid command")

	// ErrDuplicateSlug is returned when two entries normalize to the same slug.
	ErrDuplicateSlug = errors.New("action: duplicate slug")

	// ErrInvalidInstance is returned when the instance name is blank.
	ErrInvalidInstance = errors.New("action: invalid instance name")
)

// ConfigError describes one rejected configuration entry.
type ConfigError struct {
	Index int    // position in the configured list
	Name  string // configured display name
	Slug  string // derived slug, empty if not computed
	Err   error  // one of the sentinel errors above, possibly wrapped
}

func (e *ConfigError) Error() string {
	if e.Slug != "" {
		return fmt.Sprintf("actions[%d] %q (slug %q): %v", e.Index, e.Name, e.Slug, e.Err)
	}
	return fmt.Sprintf("actions[%d] %q: %v", e.Index, e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
