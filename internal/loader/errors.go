package loader

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is matched by every caller error returned from this package.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrCancelled is reported by a Registration that was cancelled before it was
// picked up for loading.
var ErrCancelled = errors.New("module registration cancelled")

// ArgumentError describes a rejected call argument.
type ArgumentError struct {
	Op      string
	Field   string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("loader: %s: invalid %s: %s", e.Op, e.Field, e.Message)
}

// Is reports whether target is ErrInvalidArgument.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// LoadError wraps a failure returned (or panicked) by the load capability.
type LoadError struct {
	Specifier string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading module %q: %v", e.Specifier, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
