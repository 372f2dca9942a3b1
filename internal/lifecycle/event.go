// SPDX-License-Identifier: MIT

// Package lifecycle holds the durable audit trail of account automations.
// Each automation attempt is one Event whose metadata is patched forward as
// the attempt progresses; events are never deleted.
package lifecycle

import "time"

// EventTypeOther marks automation-originated events, distinguishing them
// from system-emitted lifecycle events sharing the same table.
const EventTypeOther = "OTHER"

// Automation status values. Status only ever moves forward through
// PENDING → EXECUTING → VERIFYING → SUCCESS | FAILED; SUCCESS and FAILED
// are terminal.
const (
	StatusPending   = "PENDING"
	StatusExecuting = "EXECUTING"
	StatusVerifying = "VERIFYING"
	StatusSuccess   = "SUCCESS"
	StatusFailed    = "FAILED"
)

// Well-known metadata keys.
const (
	MetaAction               = "action"
	MetaStatus               = "status"
	MetaBindingID            = "bindingId"
	MetaIdentifier           = "identifier"
	MetaServer               = "server"
	MetaTargetGroup          = "targetGroup"
	MetaPreviousGroup        = "previousGroup"
	MetaRequestedAt          = "requestedAt"
	MetaStartedAt            = "startedAt"
	MetaCompletedAt          = "completedAt"
	MetaVerificationAttempts = "verificationAttempts"
	MetaError                = "error"
	MetaResultMessage        = "resultMessage"
)

// TerminalStatus reports whether the given status value is final.
func TerminalStatus(status string) bool {
	return status == StatusSuccess || status == StatusFailed
}

// Event is one durable automation attempt. ID, UserID, Source, EventType,
// Notes and the timestamps are immutable after creation; only Metadata is
// patched over the event's life.
type Event struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Source     string         `json:"source"`
	EventType  string         `json:"eventType"`
	OccurredAt time.Time      `json:"occurredAt"`
	CreatedAt  time.Time      `json:"createdAt"`
	Notes      string         `json:"notes,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

// Status returns the current state-machine value from metadata, or "" if
// the event carries none.
func (e *Event) Status() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	if s, ok := e.Metadata[MetaStatus].(string); ok {
		return s
	}
	return ""
}
