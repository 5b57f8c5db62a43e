package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by engines and the engine array.
var (
	// ErrConfig marks invalid engine arguments. Fatal at construction.
	ErrConfig = errors.New("invalid engine configuration")

	// ErrNotRunning rejects operations against an engine that has not been
	// started or has been stopped.
	ErrNotRunning = errors.New("engine is not running")

	// ErrAlreadyStarted rejects a second Start.
	ErrAlreadyStarted = errors.New("engine is already started")
)

// ModelNotFoundError reports a lookup miss in the engine array, carrying
// the requested name and the names that would have resolved.
type ModelNotFoundError struct {
	Requested string
	Available []string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("engine for model %q not found, available models: [%s]",
		e.Requested, strings.Join(e.Available, ", "))
}
