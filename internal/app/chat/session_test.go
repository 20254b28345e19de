package chat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appchat "campusfound/internal/app/chat"
	domainchat "campusfound/internal/domain/chat"
	"campusfound/internal/infra/storage/memory"
)

type sessionEnv struct {
	store     *memory.Store
	directory *appchat.Directory
	session   *appchat.Session
	conv      domainchat.Conversation
}

func newSessionEnv(t *testing.T, userID string, wrap func(appchat.Store) appchat.Store) sessionEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	conv, err := store.CreateConversation(ctx, "l1", []string{"u1", "u2"})
	require.NoError(t, err)

	var backing appchat.Store = store
	if wrap != nil {
		backing = wrap(store)
	}
	profiles := memory.NewProfileRepository()
	listings := memory.NewListingRepository()
	directory := appchat.NewDirectory(backing, profiles, listings, testLogger())
	_, err = directory.Refresh(ctx, userID)
	require.NoError(t, err)

	closer := appchat.NewCloser(backing, profiles, directory, nil, testLogger())
	session := appchat.NewSession(backing, directory, closer, userID, testLogger())
	return sessionEnv{store: store, directory: directory, session: session, conv: conv}
}

func TestSessionSelectLoadsHistory(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t, "u1", nil)
	_, err := env.store.InsertMessage(ctx, env.conv.ID, "u2", "is this still available?", false)
	require.NoError(t, err)

	env.session.Select(ctx, env.conv.ID)
	defer env.session.Deselect()

	ev := nextEvent(t, env.session.Events())
	assert.Equal(t, appchat.EventHistory, ev.Kind)
	assert.Equal(t, env.conv.ID, ev.ConversationID)
	require.Len(t, ev.Messages, 1)
	assert.Equal(t, "is this still available?", ev.Messages[0].Content)
	assert.Equal(t, appchat.StateActive, env.session.State())
	assert.Equal(t, env.conv.ID, env.session.Selected())
}

func TestSessionSendHasNoLocalEcho(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t, "u1", nil)
	env.session.Select(ctx, env.conv.ID)
	defer env.session.Deselect()
	waitForKind(t, env.session.Events(), appchat.EventHistory)

	require.NoError(t, env.session.SendMessage(ctx, "  found it near the library  "))

	// The message surfaces only through the confirmed insert event.
	ev := waitForKind(t, env.session.Events(), appchat.EventMessage)
	assert.Equal(t, "found it near the library", ev.Message.Content)
	assert.Equal(t, "u1", ev.Message.SenderID)
	history := env.session.History()
	require.Len(t, history, 1)
	assert.Equal(t, ev.Message.ID, history[0].ID)
	assertNoEvent(t, env.session.Events())
}

func TestSessionSendGuards(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t, "u1", nil)

	// Idle session rejects input.
	assert.ErrorIs(t, env.session.SendMessage(ctx, "hello"), appchat.ErrNoSelection)

	env.session.Select(ctx, env.conv.ID)
	defer env.session.Deselect()
	waitForKind(t, env.session.Events(), appchat.EventHistory)

	assert.ErrorIs(t, env.session.SendMessage(ctx, "   \n\t "), appchat.ErrEmptyMessage)
	messages, err := env.store.ListMessages(ctx, env.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSessionLoadsClosedConversation(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t, "u1", nil)
	_, err := env.store.InsertMessage(ctx, env.conv.ID, "u2", "hello", false)
	require.NoError(t, err)
	// The peer closed before this selection; the marker is still visible.
	require.NoError(t, env.store.InsertClosureMarker(ctx, "u2", env.conv.ID))

	env.session.Select(ctx, env.conv.ID)
	defer env.session.Deselect()

	history := waitForKind(t, env.session.Events(), appchat.EventHistory)
	require.Len(t, history.Messages, 1)
	closed := waitForKind(t, env.session.Events(), appchat.EventClosed)
	assert.Equal(t, env.conv.ID, closed.ConversationID)
	assert.Equal(t, appchat.StateClosed, env.session.State())

	assert.ErrorIs(t, env.session.SendMessage(ctx, "too late"), appchat.ErrConversationClosed)
	messages, err := env.store.ListMessages(ctx, env.conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestSessionPeerDeletionClosesSelection(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t, "u1", nil)
	env.session.Select(ctx, env.conv.ID)
	defer env.session.Deselect()
	waitForKind(t, env.session.Events(), appchat.EventHistory)

	require.NoError(t, env.store.DeleteConversation(ctx, env.conv.ID))

	closed := waitForKind(t, env.session.Events(), appchat.EventClosed)
	assert.Equal(t, env.conv.ID, closed.ConversationID)
	assert.Equal(t, appchat.StateClosed, env.session.State())
	_, visible := env.directory.Get(env.conv.ID)
	assert.False(t, visible)
}

func TestSessionStaleSelectionIsDiscarded(t *testing.T) {
	ctx := context.Background()
	var gated *gatedStore
	env := newSessionEnv(t, "u1", func(s appchat.Store) appchat.Store {
		gated = &gatedStore{Store: s}
		return gated
	})
	other, err := env.store.CreateConversation(ctx, "l2", []string{"u1", "u3"})
	require.NoError(t, err)

	gate := gated.gateFor(env.conv.ID)
	env.session.Select(ctx, env.conv.ID)
	env.session.Select(ctx, other.ID)
	defer env.session.Deselect()

	// Only the second selection may surface; the first load is stale.
	ev := nextEvent(t, env.session.Events())
	assert.Equal(t, appchat.EventHistory, ev.Kind)
	assert.Equal(t, other.ID, ev.ConversationID)
	assert.Equal(t, other.ID, env.session.Selected())
	assert.Equal(t, appchat.StateActive, env.session.State())

	close(gate)
	assertNoEvent(t, env.session.Events())
}

func TestSessionCloseRunsProtocol(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t, "u1", nil)
	env.session.Select(ctx, env.conv.ID)
	defer env.session.Deselect()
	waitForKind(t, env.session.Events(), appchat.EventHistory)

	require.NoError(t, env.session.Close(ctx))
	assert.Equal(t, appchat.StateClosed, env.session.State())

	_, err := env.store.GetConversation(ctx, env.conv.ID)
	assert.ErrorIs(t, err, appchat.ErrNotFound)
	_, visible := env.directory.Get(env.conv.ID)
	assert.False(t, visible)

	// Closing again is a no-op.
	require.NoError(t, env.session.Close(ctx))
}

func TestSessionCloseAfterPeerDeleted(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t, "u1", nil)
	env.session.Select(ctx, env.conv.ID)
	defer env.session.Deselect()
	waitForKind(t, env.session.Events(), appchat.EventHistory)

	// The peer deletes first; the local close finds nothing and still lands
	// on the terminal state.
	require.NoError(t, env.store.DeleteConversation(ctx, env.conv.ID))
	waitForKind(t, env.session.Events(), appchat.EventClosed)
	require.NoError(t, env.session.Close(ctx))
	assert.Equal(t, appchat.StateClosed, env.session.State())
}

func TestSessionDeselect(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t, "u1", nil)
	env.session.Select(ctx, env.conv.ID)
	waitForKind(t, env.session.Events(), appchat.EventHistory)

	env.session.Deselect()
	assert.Equal(t, appchat.StateIdle, env.session.State())
	assert.Equal(t, "", env.session.Selected())
	assert.Empty(t, env.session.History())

	// Events from the released subscriptions no longer surface.
	_, err := env.store.InsertMessage(ctx, env.conv.ID, "u2", "anyone there?", false)
	require.NoError(t, err)
	assertNoEvent(t, env.session.Events())
}
