package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	appchat "campusfound/internal/app/chat"
	domainchat "campusfound/internal/domain/chat"
)

// ErrUnknownToken is returned when a bearer token resolves to no user.
var ErrUnknownToken = errors.New("memory: unknown token")

// ProfileRepository is an in-memory profile projection.
type ProfileRepository struct {
	mu    sync.RWMutex
	items map[string]domainchat.Profile
}

// NewProfileRepository builds an empty repository.
func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{items: make(map[string]domainchat.Profile)}
}

// Save stores/updates a profile entry.
func (r *ProfileRepository) Save(p domainchat.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ID] = p
}

// ProfilesByIDs returns the profiles matching ids; unknown ids are omitted.
func (r *ProfileRepository) ProfilesByIDs(ctx context.Context, ids []string) (map[string]domainchat.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domainchat.Profile, len(ids))
	for _, id := range ids {
		if p, ok := r.items[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// ListingRepository is an in-memory listing projection.
type ListingRepository struct {
	mu    sync.RWMutex
	items map[string]domainchat.Listing
}

// NewListingRepository builds an empty repository.
func NewListingRepository() *ListingRepository {
	return &ListingRepository{items: make(map[string]domainchat.Listing)}
}

// Save stores/updates a listing entry.
func (r *ListingRepository) Save(l domainchat.Listing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[l.ID] = l
}

// ListingsByIDs returns the listings matching ids; unknown ids are omitted.
func (r *ListingRepository) ListingsByIDs(ctx context.Context, ids []string) (map[string]domainchat.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domainchat.Listing, len(ids))
	for _, id := range ids {
		if l, ok := r.items[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

// IdentityResolver maps static bearer tokens to user ids, resolving display
// data through a profile projection. It stands in for the external identity
// provider in dev mode and in tests.
type IdentityResolver struct {
	mu       sync.RWMutex
	tokens   map[string]string
	profiles appchat.ProfileReader
}

// NewIdentityResolver builds an empty resolver.
func NewIdentityResolver(profiles appchat.ProfileReader) *IdentityResolver {
	return &IdentityResolver{tokens: make(map[string]string), profiles: profiles}
}

// Grant binds a token to a user id.
func (r *IdentityResolver) Grant(token, userID string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = userID
}

// Resolve returns the profile behind a token or ErrUnknownToken.
func (r *IdentityResolver) Resolve(ctx context.Context, token string) (domainchat.Profile, error) {
	r.mu.RLock()
	userID, ok := r.tokens[token]
	r.mu.RUnlock()
	if !ok {
		return domainchat.Profile{}, ErrUnknownToken
	}
	profiles, err := r.profiles.ProfilesByIDs(ctx, []string{userID})
	if err != nil {
		return domainchat.Profile{}, err
	}
	if p, ok := profiles[userID]; ok {
		return p, nil
	}
	return domainchat.Profile{ID: userID}, nil
}
