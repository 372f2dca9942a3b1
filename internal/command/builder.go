// SPDX-License-Identifier: MIT

// Package command builds console command lines for account automations.
//
// The remote console parses commands as whitespace-separated tokens and has
// no quoting mechanism, so any whitespace inside an argument would change
// the command's meaning. Rejecting such input is the only defense: the
// builder never escapes or re-orders arguments.
package command

import (
	"fmt"
	"strings"
	"unicode"
)

// Kind identifies an automation kind. Each kind maps to one fixed console
// command shape.
type Kind string

const (
	KindPasswordReset    Kind = "password-reset"
	KindForceLogin       Kind = "force-login"
	KindPermissionAdjust Kind = "permission-adjust"
)

// Valid reports whether k is a known automation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPasswordReset, KindForceLogin, KindPermissionAdjust:
		return true
	}
	return false
}

// HasVerification reports whether the kind has an independently checkable
// post-condition. Force-login has none: the remote acknowledgement is the
// only signal.
func (k Kind) HasVerification() bool {
	return k == KindPasswordReset || k == KindPermissionAdjust
}

// ValidationError describes a rejected command argument.
type ValidationError struct {
	Argument string // which argument was rejected ("identifier", "password", "target group")
	Reason   string // "missing" or "contains whitespace"
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("command: %s %s", e.Argument, e.Reason)
}

// Build returns the console command line for the given kind. The parameter
// is the new password for password resets and the target group for
// permission adjustments; force-login takes no parameter.
//
// Build is pure and deterministic: identical inputs always produce the same
// command text, and invalid input never produces a command at all.
func Build(kind Kind, identifier, parameter string) (string, error) {
	if err := checkArgument("identifier", identifier); err != nil {
		return "", err
	}

	switch kind {
	case KindPasswordReset:
		if err := checkArgument("password", parameter); err != nil {
			return "", err
		}
		return fmt.Sprintf("authme changepassword %s %s", identifier, parameter), nil
	case KindForceLogin:
		return fmt.Sprintf("authme forcelogin %s", identifier), nil
	case KindPermissionAdjust:
		if err := checkArgument("target group", parameter); err != nil {
			return "", err
		}
		return fmt.Sprintf("lp user %s parent set %s", identifier, parameter), nil
	default:
		return "", fmt.Errorf("command: unknown automation kind %q", kind)
	}
}

func checkArgument(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Argument: name, Reason: "missing"}
	}
	if strings.ContainsFunc(value, unicode.IsSpace) {
		return &ValidationError{Argument: name, Reason: "contains whitespace"}
	}
	return nil
}
