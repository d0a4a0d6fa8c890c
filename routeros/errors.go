package routeros

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect is returned when the router cannot be reached or rejects the
	// credentials.
	ErrConnect = errors.New("router connection failed")

	// ErrCommand is returned when a router command reports a failure.
	ErrCommand = errors.New("router command failed")
)

// CommandError carries the command line and whatever the router printed.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %q", ErrCommand, e.Command)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCommand}
	}
	return []error{ErrCommand, e.Err}
}
