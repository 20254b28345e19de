package chat

import (
	"context"
	"log/slog"
	"sync"

	domainchat "campusfound/internal/domain/chat"
)

// Directory holds the conversations visible to one user, excluding any the
// user has closed, together with display metadata caches for peers and
// listings. Metadata is resolved with at most two batched lookups per
// refresh: one over distinct peer ids, one over distinct listing ids.
type Directory struct {
	store    Store
	profiles ProfileReader
	listings ListingReader
	logger   *slog.Logger

	mu            sync.RWMutex
	userID        string
	conversations []domainchat.Conversation
	profileCache  map[string]domainchat.Profile
	titleCache    map[string]string
}

// NewDirectory builds an empty directory backed by the given store and readers.
func NewDirectory(store Store, profiles ProfileReader, listings ListingReader, logger *slog.Logger) *Directory {
	return &Directory{
		store:        store,
		profiles:     profiles,
		listings:     listings,
		logger:       logger,
		profileCache: make(map[string]domainchat.Profile),
		titleCache:   make(map[string]string),
	}
}

// Refresh reloads the visible conversation set for userID. A failed fetch
// leaves the directory empty and returns the error; callers treat it as
// transient and retry on the next natural trigger.
func (d *Directory) Refresh(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	markers, err := d.store.ListClosureMarkersFor(ctx, userID)
	if err != nil {
		d.reset(userID)
		return nil, err
	}
	hidden := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		hidden[m.ConversationID] = struct{}{}
	}

	all, err := d.store.ListConversationsFor(ctx, userID)
	if err != nil {
		d.reset(userID)
		return nil, err
	}
	visible := make([]domainchat.Conversation, 0, len(all))
	for _, conv := range all {
		if _, closed := hidden[conv.ID]; closed {
			continue
		}
		visible = append(visible, conv)
	}

	peerIDs := make([]string, 0, len(visible))
	listingIDs := make([]string, 0, len(visible))
	seenPeers := make(map[string]struct{})
	seenListings := make(map[string]struct{})
	for _, conv := range visible {
		if peer := conv.PeerOf(userID); peer != "" {
			if _, ok := seenPeers[peer]; !ok {
				seenPeers[peer] = struct{}{}
				peerIDs = append(peerIDs, peer)
			}
		}
		if conv.ListingID != "" {
			if _, ok := seenListings[conv.ListingID]; !ok {
				seenListings[conv.ListingID] = struct{}{}
				listingIDs = append(listingIDs, conv.ListingID)
			}
		}
	}

	profiles := map[string]domainchat.Profile{}
	if len(peerIDs) > 0 {
		profiles, err = d.profiles.ProfilesByIDs(ctx, peerIDs)
		if err != nil {
			d.logWarn("profile batch lookup failed", "error", err, "user_id", userID)
			profiles = map[string]domainchat.Profile{}
		}
	}
	listings := map[string]domainchat.Listing{}
	if len(listingIDs) > 0 {
		listings, err = d.listings.ListingsByIDs(ctx, listingIDs)
		if err != nil {
			d.logWarn("listing batch lookup failed", "error", err, "user_id", userID)
			listings = map[string]domainchat.Listing{}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.userID = userID
	d.conversations = visible
	for id, p := range profiles {
		d.profileCache[id] = p
	}
	for id, l := range listings {
		d.titleCache[id] = l.Title
	}
	return append([]domainchat.Conversation(nil), visible...), nil
}

// Conversations returns a copy of the visible set.
func (d *Directory) Conversations() []domainchat.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]domainchat.Conversation(nil), d.conversations...)
}

// Get returns a visible conversation by id.
func (d *Directory) Get(id string) (domainchat.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, conv := range d.conversations {
		if conv.ID == id {
			return conv, true
		}
	}
	return domainchat.Conversation{}, false
}

// Remove drops a conversation from the visible set. Removing an unknown id
// is a no-op.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, conv := range d.conversations {
		if conv.ID == id {
			d.conversations = append(d.conversations[:i], d.conversations[i+1:]...)
			return
		}
	}
}

// Splice adds a conversation fetched outside a refresh (deep link) and
// primes the metadata caches for it. Already-visible ids are left untouched.
func (d *Directory) Splice(conv domainchat.Conversation, peer domainchat.Profile, listingTitle string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if peer.ID != "" {
		d.profileCache[peer.ID] = peer
	}
	if conv.ListingID != "" && listingTitle != "" {
		d.titleCache[conv.ListingID] = listingTitle
	}
	for _, existing := range d.conversations {
		if existing.ID == conv.ID {
			return
		}
	}
	d.conversations = append(d.conversations, conv)
}

// UserID returns the user the directory was last refreshed for.
func (d *Directory) UserID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.userID
}

// PeerName resolves a cached display name, falling back to the id.
func (d *Directory) PeerName(userID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.profileCache[userID]; ok {
		return p.DisplayName()
	}
	return userID
}

// PeerProfile returns the cached profile for a user, if any.
func (d *Directory) PeerProfile(userID string) (domainchat.Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profileCache[userID]
	return p, ok
}

// ListingTitle resolves a cached listing title, or "" when unknown.
func (d *Directory) ListingTitle(listingID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.titleCache[listingID]
}

func (d *Directory) reset(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userID = userID
	d.conversations = nil
}

func (d *Directory) logWarn(msg string, attrs ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, attrs...)
	}
}
