package match

import (
	"errors"
	"fmt"
)

var (
	// ErrMatchTimeout marks a match whose clients did not all disconnect in time
	ErrMatchTimeout = errors.New("match timed out")

	// ErrServerExited marks a server that exited before the match completed
	ErrServerExited = errors.New("server exited before match completed")
)

// Error is a failed match. Player is set when a client was at fault.
type Error struct {
	Index  int
	Player string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Player != "" {
		return fmt.Sprintf("match %d: %s %s: %v", e.Index, e.Op, e.Player, e.Err)
	}
	return fmt.Sprintf("match %d: %s: %v", e.Index, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
