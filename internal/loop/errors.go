package loop

import (
	"errors"
	"fmt"

	"github.com/san-kum/momentservo/internal/geometry"
)

var (
	// ErrMissingCapability indicates a capability the loop cannot run without.
	ErrMissingCapability = errors.New("loop: missing capability")

	// ErrState indicates an operation called in the wrong lifecycle state.
	ErrState = errors.New("loop: invalid state for operation")

	// ErrUnknownFeature indicates a task entry naming no known feature.
	ErrUnknownFeature = errors.New("loop: unknown feature")
)

// TickError wraps a fatal error with the iteration and pose it happened at.
type TickError struct {
	Iteration int
	Pose      geometry.Pose
	Wrapped   error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("iteration %d at %v: %v", e.Iteration, e.Pose, e.Wrapped)
}

func (e *TickError) Unwrap() error {
	return e.Wrapped
}
