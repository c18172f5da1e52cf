package scanner

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is matched by every command rejected for the current
	// state. Such commands change nothing.
	ErrInvalidState = errors.New("command not valid in current state")

	ErrNoReconstruction = errors.New("no active reconstruction engine")
	ErrNoScene          = errors.New("reconstruction engine produced no scene")
	ErrNoPointCloud     = errors.New("no point cloud captured")
	ErrNoEngine         = errors.New("engine factory not configured")
	ErrUnknownCommand   = errors.New("unknown command")
)

// StateError reports a command issued from a state that does not accept it.
type StateError struct {
	Command Command
	State   State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not valid while %s", e.Command, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
