// SPDX-License-Identifier: MIT

package console

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnreachable = errors.New("console: host unreachable or transport failure")
	ErrRejected    = errors.New("console: remote rejected the command")
	ErrTimeout     = errors.New("console: request timed out")
)

// ConsoleError wraps the sentinel errors with request context.
type ConsoleError struct {
	Sentinel error
	ServerID string
	Status   int
	Body     string
	Err      error // nested lower-level error (e.g. net.Error)
}

func (e *ConsoleError) Error() string {
	msg := fmt.Sprintf("console: server %s: %v", e.ServerID, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConsoleError) Unwrap() error {
	return e.Sentinel
}
