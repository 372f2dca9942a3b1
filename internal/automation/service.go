// SPDX-License-Identifier: MIT

// Package automation orchestrates player-account automations: portal
// actions that must take effect on an external game server the portal
// cannot transact with. Every attempt is tracked as a durable lifecycle
// event; callers observe progress by re-reading the event, never by
// blocking on the remote system.
package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novarealms/portal/internal/accounts"
	"github.com/novarealms/portal/internal/command"
	"github.com/novarealms/portal/internal/lifecycle"
	"github.com/novarealms/portal/internal/log"
	"github.com/novarealms/portal/internal/luckperms"
	"github.com/novarealms/portal/internal/metrics"
)

// List bounds for ListEvents.
const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

// Service coordinates command building, dispatch, verification and
// lifecycle bookkeeping for all automation kinds.
type Service struct {
	deps  Deps
	poll  PollPolicy
	clock func() time.Time

	wg sync.WaitGroup
}

// NewService creates the orchestrator from its collaborators.
func NewService(deps Deps) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		deps:  deps,
		poll:  deps.Poll.withDefaults(),
		clock: clock,
	}
}

// Drain blocks until all in-flight background automations have reached a
// terminal state. Used on shutdown and in tests.
func (s *Service) Drain() {
	s.wg.Wait()
}

// SubmitPasswordReset dispatches an in-game password change and verifies it
// by authenticating with the new password.
func (s *Service) SubmitPasswordReset(ctx context.Context, userID string, req PasswordResetRequest) (*Receipt, error) {
	return s.submit(ctx, userID, command.KindPasswordReset, submission{
		bindingID: req.BindingID,
		serverID:  req.ServerID,
		parameter: req.Password,
		reason:    req.Reason,
	})
}

// SubmitForceLogin dispatches a forced session login. There is no
// independently checkable post-condition, so the panel acknowledgement is
// treated as success.
func (s *Service) SubmitForceLogin(ctx context.Context, userID string, req ForceLoginRequest) (*Receipt, error) {
	return s.submit(ctx, userID, command.KindForceLogin, submission{
		bindingID: req.BindingID,
		serverID:  req.ServerID,
		reason:    req.Reason,
	})
}

// SubmitPermissionAdjustment dispatches a primary-group change and verifies
// it by reading the group back from the permissions backend.
func (s *Service) SubmitPermissionAdjustment(ctx context.Context, userID string, req PermissionAdjustmentRequest) (*Receipt, error) {
	if !s.deps.PermissionsEnabled {
		return nil, ErrFeatureDisabled
	}
	return s.submit(ctx, userID, command.KindPermissionAdjust, submission{
		bindingID: req.BindingID,
		serverID:  req.ServerID,
		parameter: req.TargetGroup,
		reason:    req.Reason,
	})
}

// ListEvents returns the user's most recent automation events, newest
// first. The limit defaults to DefaultListLimit and is capped at
// MaxListLimit.
func (s *Service) ListEvents(ctx context.Context, userID string, sources []string, limit int) ([]*lifecycle.Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.deps.Events.FindRecent(ctx, userID, sources, limit)
}

// GetEvent returns a single event owned by the user. Events belonging to
// other users are reported as not found.
func (s *Service) GetEvent(ctx context.Context, userID, eventID string) (*lifecycle.Event, error) {
	ev, err := s.deps.Events.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.UserID != userID {
		return nil, lifecycle.ErrNotFound
	}
	return ev, nil
}

// submission carries the resolved-per-kind inputs through the shared
// template.
type submission struct {
	bindingID string
	serverID  string
	parameter string
	reason    string
}

// submit is the synchronous half of every automation: resolve, validate,
// persist the PENDING event, then detach execution. Any failure here
// surfaces to the caller before an event exists.
func (s *Service) submit(ctx context.Context, userID string, kind command.Kind, sub submission) (*Receipt, error) {
	binding, err := s.resolveBinding(ctx, userID, sub.bindingID)
	if err != nil {
		return nil, err
	}
	server, err := s.resolveServer(ctx, sub.serverID)
	if err != nil {
		return nil, err
	}
	identifier, err := resolveIdentifier(binding)
	if err != nil {
		return nil, err
	}

	// The builder is pure, so building here keeps validation synchronous
	// while the resulting line is carried into the background task as-is.
	line, err := command.Build(kind, identifier, sub.parameter)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	meta := map[string]any{
		lifecycle.MetaAction:     string(kind),
		lifecycle.MetaStatus:     lifecycle.StatusPending,
		lifecycle.MetaBindingID:  binding.ID,
		lifecycle.MetaIdentifier: identifier,
		lifecycle.MetaServer: map[string]any{
			"id":   server.ID,
			"name": server.DisplayName,
		},
		lifecycle.MetaRequestedAt: now.Format(time.RFC3339),
	}
	if kind == command.KindPermissionAdjust {
		meta[lifecycle.MetaTargetGroup] = sub.parameter
	}

	ev := &lifecycle.Event{
		ID:         uuid.New().String(),
		UserID:     userID,
		Source:     string(kind),
		EventType:  lifecycle.EventTypeOther,
		OccurredAt: now,
		CreatedAt:  now,
		Notes:      sub.reason,
		Metadata:   meta,
	}
	if err := s.deps.Events.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("automation: create lifecycle event: %w", err)
	}
	metrics.IncSubmitted(string(kind))

	t := task{
		kind:          kind,
		eventID:       ev.ID,
		panelServerID: server.PanelServerID,
		commandLine:   line,
		identifier:    identifier,
		parameter:     sub.parameter,
		binding:       binding,
		serverName:    server.DisplayName,
	}

	// Detached execution: the request context may die the moment the
	// response is written, so only its values survive.
	bg := context.WithoutCancel(log.ContextWithEventID(ctx, ev.ID))
	s.wg.Add(1)
	metrics.AutomationStarted()
	go func() {
		defer s.wg.Done()
		defer metrics.AutomationFinished()
		defer s.recoverPanic(bg, ev.ID)
		s.run(bg, t)
	}()

	return &Receipt{Success: true, RequestID: ev.ID}, nil
}

// run drives one automation through EXECUTING → [VERIFYING →] terminal.
// It is the only writer for its event id; failures end the event, never the
// process.
func (s *Service) run(ctx context.Context, t task) {
	logger := log.WithComponentFromContext(ctx, "automation")

	s.patch(ctx, t.eventID, map[string]any{
		lifecycle.MetaStatus:    lifecycle.StatusExecuting,
		lifecycle.MetaStartedAt: s.clock().UTC().Format(time.RFC3339),
	})

	if err := s.deps.Console.SendCommand(ctx, t.panelServerID, t.commandLine); err != nil {
		// The command never reached the remote system; verification would
		// only confirm the absence of an effect.
		metrics.IncDispatchFailure(string(t.kind))
		logger.Error().
			Err(err).
			Str("event", "automation.dispatch_failed").
			Str("kind", string(t.kind)).
			Str("server", t.serverName).
			Msg("console dispatch failed")
		s.finalize(ctx, t, lifecycle.StatusFailed, map[string]any{
			lifecycle.MetaError: err.Error(),
		})
		return
	}

	if !t.kind.HasVerification() {
		s.finalize(ctx, t, lifecycle.StatusSuccess, map[string]any{
			lifecycle.MetaResultMessage: fmt.Sprintf("%s acknowledged by %s", t.kind, t.serverName),
		})
		return
	}

	s.patch(ctx, t.eventID, map[string]any{
		lifecycle.MetaStatus: lifecycle.StatusVerifying,
	})

	check, observed := s.verification(t)
	attempts := 0
	err := poll(ctx, string(t.kind), s.poll, check, func(attempt int) {
		attempts = attempt
		progress := map[string]any{lifecycle.MetaVerificationAttempts: attempt}
		if group := observed(); group != "" {
			progress[lifecycle.MetaPreviousGroup] = group
		}
		s.patch(ctx, t.eventID, progress)
	})
	metrics.ObserveVerificationAttempts(string(t.kind), attempts)

	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "automation.verification_failed").
			Str("kind", string(t.kind)).
			Int("attempts", attempts).
			Msg("automation could not be confirmed")
		s.finalize(ctx, t, lifecycle.StatusFailed, map[string]any{
			lifecycle.MetaError: err.Error(),
		})
		return
	}

	s.finalize(ctx, t, lifecycle.StatusSuccess, map[string]any{
		lifecycle.MetaResultMessage: fmt.Sprintf("%s confirmed for %s", t.kind, t.identifier),
	})
}

// verification returns the kind-specific convergence check plus an accessor
// for the last intermediate value it observed (the player's current group
// for permission adjustments, empty otherwise).
func (s *Service) verification(t task) (check func(ctx context.Context) (bool, error), observed func() string) {
	switch t.kind {
	case command.KindPasswordReset:
		return func(ctx context.Context) (bool, error) {
			return s.deps.Credentials.VerifyPassword(ctx, t.identifier, t.parameter)
		}, func() string { return "" }

	case command.KindPermissionAdjust:
		var lastGroup string
		return func(ctx context.Context) (bool, error) {
			player, err := s.lookupPlayer(ctx, t.binding, t.identifier)
			if err != nil {
				return false, err
			}
			if player == nil {
				return false, fmt.Errorf("automation: player %s not known to permissions backend", t.identifier)
			}
			lastGroup = player.PrimaryGroup
			return strings.EqualFold(player.PrimaryGroup, t.parameter), nil
		}, func() string { return lastGroup }

	default:
		// Unreachable: kinds without verification never get here.
		return func(context.Context) (bool, error) { return true, nil }, func() string { return "" }
	}
}

func (s *Service) lookupPlayer(ctx context.Context, binding *accounts.Binding, identifier string) (*luckperms.Player, error) {
	if binding.UUID != "" {
		return s.deps.Permissions.PlayerByUUID(ctx, binding.UUID)
	}
	return s.deps.Permissions.PlayerByUsername(ctx, identifier)
}

// finalize moves the event into a terminal state and records the outcome
// metric. Completion time is always stamped.
func (s *Service) finalize(ctx context.Context, t task, status string, extra map[string]any) {
	patch := map[string]any{
		lifecycle.MetaStatus:      status,
		lifecycle.MetaCompletedAt: s.clock().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		patch[k] = v
	}
	s.patch(ctx, t.eventID, patch)

	outcome := "success"
	if status == lifecycle.StatusFailed {
		outcome = "failed"
	}
	metrics.IncCompleted(string(t.kind), outcome)
}

// patch applies a metadata patch, logging instead of failing: a lost patch
// degrades observability but must not abort the automation.
func (s *Service) patch(ctx context.Context, eventID string, patch map[string]any) {
	if _, err := s.deps.Events.Patch(ctx, eventID, patch); err != nil {
		logger := log.WithComponentFromContext(ctx, "automation")
		logger.Error().
			Err(err).
			Str("event", "automation.patch_failed").
			Str("lifecycle_event_id", eventID).
			Msg("failed to persist lifecycle patch")
	}
}

func (s *Service) recoverPanic(ctx context.Context, eventID string) {
	if rec := recover(); rec != nil {
		logger := log.WithComponentFromContext(ctx, "automation")
		logger.Error().
			Str("event", "automation.panic").
			Str("lifecycle_event_id", eventID).
			Interface("panic_value", rec).
			Msg("panic in background automation")
		s.patch(ctx, eventID, map[string]any{
			lifecycle.MetaStatus:      lifecycle.StatusFailed,
			lifecycle.MetaCompletedAt: s.clock().UTC().Format(time.RFC3339),
			lifecycle.MetaError:       fmt.Sprintf("internal error: %v", rec),
		})
	}
}

func (s *Service) resolveBinding(ctx context.Context, userID, bindingID string) (*accounts.Binding, error) {
	if bindingID != "" {
		b, err := s.deps.Bindings.BindingByID(ctx, bindingID)
		if err != nil {
			return nil, ErrNoBinding
		}
		if b.UserID != userID {
			return nil, ErrNoBinding
		}
		return b, nil
	}
	b, err := s.deps.Bindings.LatestBindingByUser(ctx, userID)
	if err != nil {
		return nil, ErrNoBinding
	}
	return b, nil
}

func (s *Service) resolveServer(ctx context.Context, serverID string) (*accounts.Server, error) {
	srv, err := s.deps.Servers.ServerByID(ctx, serverID)
	if err != nil {
		return nil, ErrServerNotFound
	}
	if !srv.AutomationEnabled || srv.PanelServerID == "" {
		return nil, ErrAutomationUnavailable
	}
	return srv, nil
}

// resolveIdentifier prefers the realname (the casing the game knows) and
// falls back to the username.
func resolveIdentifier(b *accounts.Binding) (string, error) {
	if v := strings.TrimSpace(b.AuthmeRealname); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(b.AuthmeUsername); v != "" {
		return v, nil
	}
	return "", ErrMissingIdentifier
}

// task carries one automation's immutable execution inputs.
type task struct {
	kind          command.Kind
	eventID       string
	panelServerID string
	commandLine   string
	identifier    string
	parameter     string
	binding       *accounts.Binding
	serverName    string
}
