package call

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTerminal is returned when the last reference to a channel is
	// released while the channel has not gone through teardown.
	ErrNotTerminal = errors.New("channel released while not terminal")

	// ErrNoSession is returned when an operation requires a live endpoint
	// session and none of the candidate devices has one.
	ErrNoSession = errors.New("no live session")

	// ErrLineBusy is returned when a line has reached its concurrent
	// inbound limit.
	ErrLineBusy = errors.New("line at inbound limit")

	// ErrShutdown is returned for operations attempted after Close.
	ErrShutdown = errors.New("core is shut down")
)

// NotFoundError reports a lookup miss in one of the entity registries.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// StateError reports an operation attempted in an incompatible channel state.
type StateError struct {
	CallID uint32
	State  string
	Op     string
	Cause  error
}

func (e *StateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("call %d: %s in state %s: %v", e.CallID, e.Op, e.State, e.Cause)
	}
	return fmt.Sprintf("call %d: %s not allowed in state %s", e.CallID, e.Op, e.State)
}

func (e *StateError) Unwrap() error { return e.Cause }

// DialError reports a failed dial-start for an outbound or forward channel.
type DialError struct {
	CallID uint32
	Number string
	Result string
	Cause  error
}

func (e *DialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("call %d: dial %q failed (%s): %v", e.CallID, e.Number, e.Result, e.Cause)
	}
	return fmt.Sprintf("call %d: dial %q failed (%s)", e.CallID, e.Number, e.Result)
}

func (e *DialError) Unwrap() error { return e.Cause }
