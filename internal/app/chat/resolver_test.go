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

type resolverEnv struct {
	store     *memory.Store
	counting  *countingStore
	directory *appchat.Directory
	session   *appchat.Session
	resolver  *appchat.Resolver
}

func newResolverEnv(t *testing.T, userID string) resolverEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	counting := &countingStore{Store: store}
	profiles := memory.NewProfileRepository()
	profiles.Save(domainchat.Profile{ID: "u2", FirstName: "Bob", LastName: "Smith"})
	listings := memory.NewListingRepository()
	listings.Save(domainchat.Listing{ID: "l1", Title: "Lost keys", PosterID: "u2"})

	directory := appchat.NewDirectory(counting, profiles, listings, testLogger())
	_, err := directory.Refresh(ctx, userID)
	require.NoError(t, err)
	closer := appchat.NewCloser(counting, profiles, directory, nil, testLogger())
	session := appchat.NewSession(counting, directory, closer, userID, testLogger())
	resolver := appchat.NewResolver(counting, profiles, listings, directory, session, testLogger())
	return resolverEnv{store: store, counting: counting, directory: directory, session: session, resolver: resolver}
}

func TestResolverDeepLinkFetchesOnce(t *testing.T) {
	ctx := context.Background()
	env := newResolverEnv(t, "u1")
	// The conversation appeared after the directory refresh, so the deep
	// link has to fetch it.
	conv, err := env.store.CreateConversation(ctx, "l1", []string{"u1", "u2"})
	require.NoError(t, err)

	require.NoError(t, env.resolver.Resolve(ctx, conv.ID))
	defer env.session.Deselect()

	assert.Equal(t, conv.ID, env.session.Selected())
	_, visible := env.directory.Get(conv.ID)
	assert.True(t, visible)
	assert.Equal(t, "Bob Smith", env.directory.PeerName("u2"))
	assert.Equal(t, "Lost keys", env.directory.ListingTitle("l1"))
	assert.Equal(t, int32(1), env.counting.gets.Load())

	// A handled link never re-fetches or re-splices.
	require.NoError(t, env.resolver.Resolve(ctx, conv.ID))
	assert.Equal(t, int32(1), env.counting.gets.Load())
	assert.Len(t, env.directory.Conversations(), 1)
}

func TestResolverVisibleIDSelectsWithoutFetch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	conv, err := store.CreateConversation(ctx, "l1", []string{"u1", "u2"})
	require.NoError(t, err)

	counting := &countingStore{Store: store}
	profiles := memory.NewProfileRepository()
	listings := memory.NewListingRepository()
	directory := appchat.NewDirectory(counting, profiles, listings, testLogger())
	_, err = directory.Refresh(ctx, "u1")
	require.NoError(t, err)
	closer := appchat.NewCloser(counting, profiles, directory, nil, testLogger())
	session := appchat.NewSession(counting, directory, closer, "u1", testLogger())
	resolver := appchat.NewResolver(counting, profiles, listings, directory, session, testLogger())

	require.NoError(t, resolver.Resolve(ctx, conv.ID))
	defer session.Deselect()

	assert.Equal(t, conv.ID, session.Selected())
	assert.Equal(t, int32(0), counting.gets.Load())
}

func TestResolverDeletedLinkStaysUnhandled(t *testing.T) {
	ctx := context.Background()
	env := newResolverEnv(t, "u1")
	conv, err := env.store.CreateConversation(ctx, "l1", []string{"u1", "u2"})
	require.NoError(t, err)

	missing := &missOnceStore{Store: env.counting, missed: map[string]bool{conv.ID: true}}
	resolver := appchat.NewResolver(missing, memory.NewProfileRepository(), memory.NewListingRepository(), env.directory, env.session, testLogger())

	// The first attempt races a deletion: silent no-op, nothing selected.
	require.NoError(t, resolver.Resolve(ctx, conv.ID))
	assert.Equal(t, "", env.session.Selected())
	assert.Empty(t, env.directory.Conversations())

	// The id was not marked handled, so a later attempt still resolves.
	require.NoError(t, resolver.Resolve(ctx, conv.ID))
	defer env.session.Deselect()
	assert.Equal(t, conv.ID, env.session.Selected())
}

func TestResolverRejectsForeignConversation(t *testing.T) {
	ctx := context.Background()
	env := newResolverEnv(t, "u1")
	foreign, err := env.store.CreateConversation(ctx, "l1", []string{"u2", "u3"})
	require.NoError(t, err)

	require.NoError(t, env.resolver.Resolve(ctx, foreign.ID))
	assert.Equal(t, "", env.session.Selected())
	_, visible := env.directory.Get(foreign.ID)
	assert.False(t, visible)
}

func TestResolverBlankIDIsNoOp(t *testing.T) {
	env := newResolverEnv(t, "u1")
	require.NoError(t, env.resolver.Resolve(context.Background(), "   "))
	assert.Equal(t, "", env.session.Selected())
	assert.Equal(t, int32(0), env.counting.gets.Load())
}
