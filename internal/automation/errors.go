// SPDX-License-Identifier: MIT

package automation

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBinding means the caller has no usable game-identity binding.
	ErrNoBinding = errors.New("automation: no binding found")
	// ErrServerNotFound means the target server id does not resolve.
	ErrServerNotFound = errors.New("automation: server not found")
	// ErrMissingIdentifier means the binding carries neither a realname nor
	// a username.
	ErrMissingIdentifier = errors.New("automation: binding has no usable identifier")
	// ErrFeatureDisabled means the permissions integration is switched off.
	ErrFeatureDisabled = errors.New("automation: permissions integration is disabled")
	// ErrAutomationUnavailable means the target server does not accept
	// console automation.
	ErrAutomationUnavailable = errors.New("automation: server does not accept automation")
)

// VerificationTimeoutError means the command was dispatched but its effect
// could not be confirmed within the attempt budget. It is distinct from a
// dispatch failure: the remote system likely received the command.
type VerificationTimeoutError struct {
	Kind     string
	Attempts int
}

func (e *VerificationTimeoutError) Error() string {
	return fmt.Sprintf("automation: %s command was sent but not confirmed after %d verification attempts", e.Kind, e.Attempts)
}
