package chat_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	appchat "campusfound/internal/app/chat"
	domainchat "campusfound/internal/domain/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nextEvent(t *testing.T, events <-chan appchat.Event) appchat.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return appchat.Event{}
	}
}

// waitForKind drains events until one of the wanted kind arrives.
func waitForKind(t *testing.T, events <-chan appchat.Event, kind appchat.EventKind) appchat.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", kind)
			return appchat.Event{}
		}
	}
}

func assertNoEvent(t *testing.T, events <-chan appchat.Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected %q event for %s", ev.Kind, ev.ConversationID)
	case <-time.After(150 * time.Millisecond):
	}
}

// countingProfiles wraps a ProfileReader and records batch lookups.
type countingProfiles struct {
	inner   appchat.ProfileReader
	calls   atomic.Int32
	mu      sync.Mutex
	lastIDs []string
}

func (c *countingProfiles) ProfilesByIDs(ctx context.Context, ids []string) (map[string]domainchat.Profile, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.lastIDs = append([]string(nil), ids...)
	c.mu.Unlock()
	return c.inner.ProfilesByIDs(ctx, ids)
}

// countingListings wraps a ListingReader and records batch lookups.
type countingListings struct {
	inner   appchat.ListingReader
	calls   atomic.Int32
	mu      sync.Mutex
	lastIDs []string
}

func (c *countingListings) ListingsByIDs(ctx context.Context, ids []string) (map[string]domainchat.Listing, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.lastIDs = append([]string(nil), ids...)
	c.mu.Unlock()
	return c.inner.ListingsByIDs(ctx, ids)
}

// countingStore counts GetConversation calls on top of a real store.
type countingStore struct {
	appchat.Store
	gets atomic.Int32
}

func (c *countingStore) GetConversation(ctx context.Context, id string) (domainchat.Conversation, error) {
	c.gets.Add(1)
	return c.Store.GetConversation(ctx, id)
}

// missOnceStore reports ErrNotFound for the first GetConversation on each
// registered id, then delegates.
type missOnceStore struct {
	appchat.Store
	mu     sync.Mutex
	missed map[string]bool
}

func (m *missOnceStore) GetConversation(ctx context.Context, id string) (domainchat.Conversation, error) {
	m.mu.Lock()
	pending, registered := m.missed[id]
	if registered && pending {
		m.missed[id] = false
		m.mu.Unlock()
		return domainchat.Conversation{}, appchat.ErrNotFound
	}
	m.mu.Unlock()
	return m.Store.GetConversation(ctx, id)
}

// gatedStore blocks ListMessages on registered conversation ids until the
// gate closes or the caller's context ends.
type gatedStore struct {
	appchat.Store
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func (g *gatedStore) gateFor(id string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gates == nil {
		g.gates = make(map[string]chan struct{})
	}
	gate, ok := g.gates[id]
	if !ok {
		gate = make(chan struct{})
		g.gates[id] = gate
	}
	return gate
}

func (g *gatedStore) ListMessages(ctx context.Context, conversationID string) ([]domainchat.Message, error) {
	g.mu.Lock()
	gate := g.gates[conversationID]
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Store.ListMessages(ctx, conversationID)
}

// failingStore fails conversation listing to simulate a transient outage.
type failingStore struct {
	appchat.Store
	listErr error
}

func (f *failingStore) ListConversationsFor(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	return nil, f.listErr
}

// failingProfiles fails every batch lookup.
type failingProfiles struct {
	err error
}

func (f *failingProfiles) ProfilesByIDs(ctx context.Context, ids []string) (map[string]domainchat.Profile, error) {
	return nil, f.err
}

// capturingPublisher records lifecycle events in order.
type capturingPublisher struct {
	mu     sync.Mutex
	events []appchat.LifecycleEvent
}

func (p *capturingPublisher) PublishLifecycle(ctx context.Context, ev appchat.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturingPublisher) Events() []appchat.LifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]appchat.LifecycleEvent(nil), p.events...)
}
