// SPDX-License-Identifier: MIT

package automation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novarealms/portal/internal/accounts"
	"github.com/novarealms/portal/internal/command"
	"github.com/novarealms/portal/internal/lifecycle"
)

type fixture struct {
	svc      *Service
	events   *memEventStore
	console  *fakeConsole
	verifier *fakeVerifier
	perms    *fakePermissions
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		events:   newMemEventStore(),
		console:  &fakeConsole{},
		verifier: &fakeVerifier{answers: []bool{true}},
		perms:    &fakePermissions{groups: []string{"default"}},
	}
	deps := Deps{
		Bindings: &fakeBindings{
			byID:   map[string]*accounts.Binding{"b-1": testBinding()},
			latest: map[string]*accounts.Binding{"user-1": testBinding()},
		},
		Servers:            &fakeServers{byID: map[string]*accounts.Server{"sv-1": testServer()}},
		Events:             f.events,
		Console:            f.console,
		Credentials:        f.verifier,
		Permissions:        f.perms,
		PermissionsEnabled: true,
		Poll:               PollPolicy{Attempts: 6, Interval: time.Millisecond},
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.svc = NewService(deps)
	return f
}

func (f *fixture) event(t *testing.T, id string) *lifecycle.Event {
	t.Helper()
	ev, err := f.events.FindByID(context.Background(), id)
	require.NoError(t, err)
	return ev
}

func TestSubmitPasswordReset_Success(t *testing.T) {
	f := newFixture(t, nil)

	receipt, err := f.svc.SubmitPasswordReset(context.Background(), "user-1", PasswordResetRequest{
		ServerID: "sv-1",
		Password: "n3wpass",
		Reason:   "lost it",
	})
	require.NoError(t, err)
	require.True(t, receipt.Success)
	require.NotEmpty(t, receipt.RequestID)

	f.svc.Drain()

	ev := f.event(t, receipt.RequestID)
	assert.Equal(t, lifecycle.StatusSuccess, ev.Status())
	assert.Equal(t, "password-reset", ev.Source)
	assert.Equal(t, lifecycle.EventTypeOther, ev.EventType)
	assert.Equal(t, "lost it", ev.Notes)
	assert.Equal(t, "Steve", ev.Metadata[lifecycle.MetaIdentifier])
	assert.Equal(t, "b-1", ev.Metadata[lifecycle.MetaBindingID])
	assert.NotEmpty(t, ev.Metadata[lifecycle.MetaStartedAt])
	assert.NotEmpty(t, ev.Metadata[lifecycle.MetaCompletedAt])
	assert.NotEmpty(t, ev.Metadata[lifecycle.MetaResultMessage])
	assert.Equal(t, 1, ev.Metadata[lifecycle.MetaVerificationAttempts])

	require.Len(t, f.console.sent(), 1)
	assert.Equal(t, "authme changepassword Steve n3wpass", f.console.sent()[0])
}

func TestSubmit_EventIsPendingBeforeExecution(t *testing.T) {
	gated := newGatedEventStore()
	f := newFixture(t, func(d *Deps) { d.Events = gated })

	receipt, err := f.svc.SubmitForceLogin(context.Background(), "user-1", ForceLoginRequest{ServerID: "sv-1"})
	require.NoError(t, err)

	// The background task is blocked on its first patch: the stored event
	// must already exist and still be PENDING, and nothing may have been
	// dispatched yet.
	ev, err := gated.memEventStore.FindByID(context.Background(), receipt.RequestID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusPending, ev.Status())
	assert.Empty(t, f.console.sent())

	gated.Release()
	f.svc.Drain()

	ev, err = gated.memEventStore.FindByID(context.Background(), receipt.RequestID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusSuccess, ev.Status())
}

func TestSubmitForceLogin_SkipsVerification(t *testing.T) {
	f := newFixture(t, nil)

	receipt, err := f.svc.SubmitForceLogin(context.Background(), "user-1", ForceLoginRequest{ServerID: "sv-1"})
	require.NoError(t, err)
	f.svc.Drain()

	ev := f.event(t, receipt.RequestID)
	assert.Equal(t, lifecycle.StatusSuccess, ev.Status())
	assert.NotContains(t, ev.Metadata, lifecycle.MetaVerificationAttempts)
	assert.Equal(t, 0, f.verifier.calls, "force-login has no verification step")
	require.Len(t, f.console.sent(), 1)
	assert.Equal(t, "authme forcelogin Steve", f.console.sent()[0])
}

func TestSubmitPasswordReset_DispatchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.console.err = errors.New("connection refused")

	receipt, err := f.svc.SubmitPasswordReset(context.Background(), "user-1", PasswordResetRequest{
		ServerID: "sv-1",
		Password: "n3wpass",
	})
	require.NoError(t, err)
	f.svc.Drain()

	ev := f.event(t, receipt.RequestID)
	assert.Equal(t, lifecycle.StatusFailed, ev.Status())
	assert.Contains(t, ev.Metadata[lifecycle.MetaError], "connection refused")
	assert.NotContains(t, ev.Metadata, lifecycle.MetaVerificationAttempts,
		"verification never starts for a command that never reached the remote system")
	assert.Equal(t, 0, f.verifier.calls)
	assert.NotEmpty(t, ev.Metadata[lifecycle.MetaCompletedAt])
}

func TestSubmitPasswordReset_VerificationNeverConfirms(t *testing.T) {
	f := newFixture(t, nil)
	f.verifier.answers = []bool{false}

	receipt, err := f.svc.SubmitPasswordReset(context.Background(), "user-1", PasswordResetRequest{
		ServerID: "sv-1",
		Password: "n3wpass",
	})
	require.NoError(t, err)
	f.svc.Drain()

	ev := f.event(t, receipt.RequestID)
	assert.Equal(t, lifecycle.StatusFailed, ev.Status())
	assert.Equal(t, 6, ev.Metadata[lifecycle.MetaVerificationAttempts])
	assert.Contains(t, ev.Metadata[lifecycle.MetaError], "not confirmed",
		"timeout error must read as sent-but-unconfirmed, not as dispatch failure")
	assert.Equal(t, 6, f.verifier.calls)
}

func TestSubmitPasswordReset_TransientVerifierErrorsAbsorbed(t *testing.T) {
	f := newFixture(t, nil)
	f.verifier.errs = []error{errors.New("authme briefly down"), errors.New("still down")}
	f.verifier.answers = []bool{false, false, true}

	receipt, err := f.svc.SubmitPasswordReset(context.Background(), "user-1", PasswordResetRequest{
		ServerID: "sv-1",
		Password: "n3wpass",
	})
	require.NoError(t, err)
	f.svc.Drain()

	ev := f.event(t, receipt.RequestID)
	assert.Equal(t, lifecycle.StatusSuccess, ev.Status())
	assert.Equal(t, 3, ev.Metadata[lifecycle.MetaVerificationAttempts])
}

func TestSubmitPasswordReset_ValidationIsSynchronous(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.SubmitPasswordReset(context.Background(), "user-1", PasswordResetRequest{
		ServerID: "sv-1",
		Password: "hunter2 ", // trailing space
	})

	var verr *command.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Argument)
	assert.Equal(t, "contains whitespace", verr.Reason)

	f.svc.Drain()
	assert.Empty(t, f.console.sent(), "no network call for rejected input")
	events, err := f.events.FindRecent(context.Background(), "user-1", nil, 50)
	require.NoError(t, err)
	assert.Empty(t, events, "no lifecycle event for rejected input")
}

func TestSubmitPermissionAdjustment_Success(t *testing.T) {
	f := newFixture(t, nil)
	// group flips on the third read
	f.perms.groups = []string{"default", "default", "vip"}

	receipt, err := f.svc.SubmitPermissionAdjustment(context.Background(), "user-1", PermissionAdjustmentRequest{
		ServerID:    "sv-1",
		TargetGroup: "VIP", // compared case-insensitively
	})
	require.NoError(t, err)
	f.svc.Drain()

	ev := f.event(t, receipt.RequestID)
	assert.Equal(t, lifecycle.StatusSuccess, ev.Status())
	assert.Equal(t, "VIP", ev.Metadata[lifecycle.MetaTargetGroup])
	assert.Equal(t, "vip", ev.Metadata[lifecycle.MetaPreviousGroup],
		"previousGroup tracks the group observed at each poll attempt")
	assert.Equal(t, 3, ev.Metadata[lifecycle.MetaVerificationAttempts])
	require.Len(t, f.console.sent(), 1)
	assert.Equal(t, "lp user Steve parent set VIP", f.console.sent()[0])
}

func TestSubmitPermissionAdjustment_FeatureDisabled(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.PermissionsEnabled = false })

	_, err := f.svc.SubmitPermissionAdjustment(context.Background(), "user-1", PermissionAdjustmentRequest{
		ServerID:    "sv-1",
		TargetGroup: "vip",
	})
	require.ErrorIs(t, err, ErrFeatureDisabled)

	events, ferr := f.events.FindRecent(context.Background(), "user-1", nil, 50)
	require.NoError(t, ferr)
	assert.Empty(t, events, "feature gate rejects before any event is created")
}

func TestSubmit_BindingResolution(t *testing.T) {
	t.Run("no binding at all", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Bindings = &fakeBindings{byID: map[string]*accounts.Binding{}, latest: map[string]*accounts.Binding{}}
		})
		_, err := f.svc.SubmitForceLogin(context.Background(), "user-1", ForceLoginRequest{ServerID: "sv-1"})
		assert.ErrorIs(t, err, ErrNoBinding)
	})

	t.Run("explicit binding owned by someone else", func(t *testing.T) {
		other := testBinding()
		other.ID = "b-2"
		other.UserID = "user-2"
		f := newFixture(t, func(d *Deps) {
			d.Bindings = &fakeBindings{byID: map[string]*accounts.Binding{"b-2": other}, latest: map[string]*accounts.Binding{}}
		})
		_, err := f.svc.SubmitForceLogin(context.Background(), "user-1", ForceLoginRequest{ServerID: "sv-1", BindingID: "b-2"})
		assert.ErrorIs(t, err, ErrNoBinding)
	})

	t.Run("identifier falls back to username", func(t *testing.T) {
		b := testBinding()
		b.AuthmeRealname = ""
		f := newFixture(t, func(d *Deps) {
			d.Bindings = &fakeBindings{byID: map[string]*accounts.Binding{}, latest: map[string]*accounts.Binding{"user-1": b}}
		})
		receipt, err := f.svc.SubmitForceLogin(context.Background(), "user-1", ForceLoginRequest{ServerID: "sv-1"})
		require.NoError(t, err)
		f.svc.Drain()
		assert.Equal(t, "steve", f.event(t, receipt.RequestID).Metadata[lifecycle.MetaIdentifier])
	})

	t.Run("binding without any identifier", func(t *testing.T) {
		b := testBinding()
		b.AuthmeRealname = ""
		b.AuthmeUsername = "  "
		f := newFixture(t, func(d *Deps) {
			d.Bindings = &fakeBindings{byID: map[string]*accounts.Binding{}, latest: map[string]*accounts.Binding{"user-1": b}}
		})
		_, err := f.svc.SubmitForceLogin(context.Background(), "user-1", ForceLoginRequest{ServerID: "sv-1"})
		assert.ErrorIs(t, err, ErrMissingIdentifier)
	})
}

func TestSubmit_ServerResolution(t *testing.T) {
	t.Run("unknown server", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.SubmitForceLogin(context.Background(), "user-1", ForceLoginRequest{ServerID: "sv-missing"})
		assert.ErrorIs(t, err, ErrServerNotFound)
	})

	t.Run("automation disabled on server", func(t *testing.T) {
		disabled := testServer()
		disabled.AutomationEnabled = false
		f := newFixture(t, func(d *Deps) {
			d.Servers = &fakeServers{byID: map[string]*accounts.Server{"sv-1": disabled}}
		})
		_, err := f.svc.SubmitForceLogin(context.Background(), "user-1", ForceLoginRequest{ServerID: "sv-1"})
		assert.ErrorIs(t, err, ErrAutomationUnavailable)
	})
}

func TestStateTransitions_ForwardOnly(t *testing.T) {
	// Record every status the store ever sees and check the sequence.
	f := newFixture(t, nil)
	f.verifier.answers = []bool{false, true}

	receipt, err := f.svc.SubmitPasswordReset(context.Background(), "user-1", PasswordResetRequest{
		ServerID: "sv-1",
		Password: "n3wpass",
	})
	require.NoError(t, err)
	f.svc.Drain()

	// replay from the persisted event: terminal state reached, and a patch
	// after finalization is refused by the store
	ev := f.event(t, receipt.RequestID)
	require.Equal(t, lifecycle.StatusSuccess, ev.Status())

	_, err = f.events.Patch(context.Background(), receipt.RequestID, map[string]any{
		lifecycle.MetaStatus: lifecycle.StatusExecuting,
	})
	assert.ErrorIs(t, err, lifecycle.ErrFinalized)
}

func TestListEvents_Clamping(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		ev := &lifecycle.Event{
			ID:         fmt.Sprintf("ev-%02d", i),
			UserID:     "user-1",
			Source:     "force-login",
			EventType:  lifecycle.EventTypeOther,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			Metadata:   map[string]any{lifecycle.MetaStatus: lifecycle.StatusSuccess},
		}
		require.NoError(t, f.events.Create(context.Background(), ev))
	}

	tests := []struct {
		name      string
		requested int
		wantLen   int
	}{
		{"zero defaults to 20", 0, 20},
		{"negative defaults to 20", -5, 20},
		{"within bounds", 7, 7},
		{"capped at 50", 100, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := f.svc.ListEvents(context.Background(), "user-1", nil, tt.requested)
			require.NoError(t, err)
			assert.Len(t, events, tt.wantLen)
		})
	}

	t.Run("newest first", func(t *testing.T) {
		events, err := f.svc.ListEvents(context.Background(), "user-1", nil, 5)
		require.NoError(t, err)
		require.Len(t, events, 5)
		assert.Equal(t, "ev-59", events[0].ID)
		assert.Equal(t, "ev-55", events[4].ID)
	})
}

func TestGetEvent_OwnershipEnforced(t *testing.T) {
	f := newFixture(t, nil)
	receipt, err := f.svc.SubmitForceLogin(context.Background(), "user-1", ForceLoginRequest{ServerID: "sv-1"})
	require.NoError(t, err)
	f.svc.Drain()

	ev, err := f.svc.GetEvent(context.Background(), "user-1", receipt.RequestID)
	require.NoError(t, err)
	assert.Equal(t, receipt.RequestID, ev.ID)

	_, err = f.svc.GetEvent(context.Background(), "user-2", receipt.RequestID)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}
