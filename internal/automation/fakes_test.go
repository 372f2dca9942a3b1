// SPDX-License-Identifier: MIT

package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/novarealms/portal/internal/accounts"
	"github.com/novarealms/portal/internal/lifecycle"
	"github.com/novarealms/portal/internal/luckperms"
)

// memEventStore is an in-memory EventStore with the same merge and
// terminal-state semantics as the sqlite store.
type memEventStore struct {
	mu     sync.Mutex
	events map[string]*lifecycle.Event
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[string]*lifecycle.Event)}
}

func (m *memEventStore) Create(_ context.Context, ev *lifecycle.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *ev
	clone.Metadata = cloneMeta(ev.Metadata)
	m.events[ev.ID] = &clone
	return nil
}

func (m *memEventStore) Patch(_ context.Context, id string, patch map[string]any) (*lifecycle.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	if lifecycle.TerminalStatus(ev.Status()) {
		return nil, fmt.Errorf("%w: %s", lifecycle.ErrFinalized, id)
	}
	for k, v := range patch {
		ev.Metadata[k] = v
	}
	clone := *ev
	clone.Metadata = cloneMeta(ev.Metadata)
	return &clone, nil
}

func (m *memEventStore) FindByID(_ context.Context, id string) (*lifecycle.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	clone := *ev
	clone.Metadata = cloneMeta(ev.Metadata)
	return &clone, nil
}

func (m *memEventStore) FindRecent(_ context.Context, userID string, sources []string, limit int) ([]*lifecycle.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*lifecycle.Event
	for _, ev := range m.events {
		if ev.UserID != userID {
			continue
		}
		if len(sources) > 0 && !contains(sources, ev.Source) {
			continue
		}
		clone := *ev
		clone.Metadata = cloneMeta(ev.Metadata)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// gatedEventStore delays the first Patch until released, letting tests
// observe the PENDING state before the background task makes progress.
type gatedEventStore struct {
	*memEventStore
	release chan struct{}
	once    sync.Once
}

func newGatedEventStore() *gatedEventStore {
	return &gatedEventStore{memEventStore: newMemEventStore(), release: make(chan struct{})}
}

func (g *gatedEventStore) Patch(ctx context.Context, id string, patch map[string]any) (*lifecycle.Event, error) {
	<-g.release
	return g.memEventStore.Patch(ctx, id, patch)
}

func (g *gatedEventStore) Release() {
	g.once.Do(func() { close(g.release) })
}

type fakeBindings struct {
	byID   map[string]*accounts.Binding
	latest map[string]*accounts.Binding
}

func (f *fakeBindings) BindingByID(_ context.Context, id string) (*accounts.Binding, error) {
	if b, ok := f.byID[id]; ok {
		return b, nil
	}
	return nil, accounts.ErrBindingNotFound
}

func (f *fakeBindings) LatestBindingByUser(_ context.Context, userID string) (*accounts.Binding, error) {
	if b, ok := f.latest[userID]; ok {
		return b, nil
	}
	return nil, accounts.ErrBindingNotFound
}

type fakeServers struct {
	byID map[string]*accounts.Server
}

func (f *fakeServers) ServerByID(_ context.Context, id string) (*accounts.Server, error) {
	if s, ok := f.byID[id]; ok {
		return s, nil
	}
	return nil, accounts.ErrServerNotFound
}

// fakeConsole records dispatched commands and fails when err is set.
type fakeConsole struct {
	mu       sync.Mutex
	err      error
	commands []string
	servers  []string
}

func (f *fakeConsole) SendCommand(_ context.Context, panelServerID, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.servers = append(f.servers, panelServerID)
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeConsole) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// fakeVerifier returns the scripted answers in order, repeating the last.
type fakeVerifier struct {
	mu      sync.Mutex
	answers []bool
	errs    []error
	calls   int
}

func (f *fakeVerifier) VerifyPassword(_ context.Context, identifier, password string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return false, f.errs[i]
	}
	if len(f.answers) == 0 {
		return false, nil
	}
	if i >= len(f.answers) {
		i = len(f.answers) - 1
	}
	return f.answers[i], nil
}

// fakePermissions serves a scripted sequence of primary groups.
type fakePermissions struct {
	mu     sync.Mutex
	groups []string // group returned per call, repeating the last
	calls  int
	player luckperms.Player
}

func (f *fakePermissions) playerAt(i int) *luckperms.Player {
	p := f.player
	if len(f.groups) > 0 {
		if i >= len(f.groups) {
			i = len(f.groups) - 1
		}
		p.PrimaryGroup = f.groups[i]
	}
	return &p
}

func (f *fakePermissions) PlayerByUUID(_ context.Context, uuid string) (*luckperms.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	return f.playerAt(i), nil
}

func (f *fakePermissions) PlayerByUsername(_ context.Context, username string) (*luckperms.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	return f.playerAt(i), nil
}

func testBinding() *accounts.Binding {
	return &accounts.Binding{
		ID:             "b-1",
		UserID:         "user-1",
		AuthmeUsername: "steve",
		AuthmeRealname: "Steve",
		UUID:           "uuid-steve",
		BoundAt:        time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func testServer() *accounts.Server {
	return &accounts.Server{
		ID:                "sv-1",
		DisplayName:       "Survival",
		PanelServerID:     "panel-1",
		AutomationEnabled: true,
	}
}
