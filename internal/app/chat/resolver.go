package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	domainchat "campusfound/internal/domain/chat"
)

// Resolver handles externally supplied conversation ids (deep links). Each id
// is handled at most once per resolver lifetime: once a link has been
// selected, later directory changes cannot re-fetch and re-add a conversation
// that was closed in the meantime.
type Resolver struct {
	store     Store
	profiles  ProfileReader
	listings  ListingReader
	directory *Directory
	session   *Session
	logger    *slog.Logger

	mu      sync.Mutex
	handled map[string]struct{}
}

// NewResolver builds a resolver bound to one directory and session.
func NewResolver(store Store, profiles ProfileReader, listings ListingReader, directory *Directory, session *Session, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		profiles:  profiles,
		listings:  listings,
		directory: directory,
		session:   session,
		logger:    logger,
		handled:   make(map[string]struct{}),
	}
}

// Resolve selects conversationID, fetching and splicing it into the
// directory when it is not already visible. An id that resolves to nothing
// (deleted moments earlier) is a silent no-op and stays unhandled so a later
// re-creation under the same id can still resolve.
func (r *Resolver) Resolve(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil
	}
	r.mu.Lock()
	if _, done := r.handled[conversationID]; done {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if _, ok := r.directory.Get(conversationID); ok {
		r.session.Select(ctx, conversationID)
		r.markHandled(conversationID)
		return nil
	}

	conv, err := r.store.GetConversation(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	userID := r.directory.UserID()
	if !conv.HasParticipant(userID) {
		return nil
	}

	peer := r.peerProfile(ctx, conv, userID)
	title := r.listingTitle(ctx, conv)
	r.directory.Splice(conv, peer, title)
	r.session.Select(ctx, conversationID)
	r.markHandled(conversationID)
	return nil
}

func (r *Resolver) markHandled(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled[conversationID] = struct{}{}
}

func (r *Resolver) peerProfile(ctx context.Context, conv domainchat.Conversation, userID string) domainchat.Profile {
	peerID := conv.PeerOf(userID)
	if peerID == "" {
		return domainchat.Profile{}
	}
	profiles, err := r.profiles.ProfilesByIDs(ctx, []string{peerID})
	if err != nil {
		r.logWarn("peer profile lookup failed", "error", err, "conversation_id", conv.ID)
		return domainchat.Profile{}
	}
	p := profiles[peerID]
	if p.ID == "" {
		p.ID = peerID
	}
	return p
}

func (r *Resolver) listingTitle(ctx context.Context, conv domainchat.Conversation) string {
	if conv.ListingID == "" {
		return ""
	}
	listings, err := r.listings.ListingsByIDs(ctx, []string{conv.ListingID})
	if err != nil {
		r.logWarn("listing lookup failed", "error", err, "conversation_id", conv.ID)
		return ""
	}
	return listings[conv.ListingID].Title
}

func (r *Resolver) logWarn(msg string, attrs ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, attrs...)
	}
}
