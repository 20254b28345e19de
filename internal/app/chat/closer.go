package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	domainchat "campusfound/internal/domain/chat"
)

// Closer runs the closure protocol: a system message announcing the closure,
// the closure marker, then the hard delete of all messages and the
// conversation row. Closure is terminal; there is no reopen.
type Closer struct {
	store     Store
	profiles  ProfileReader
	directory *Directory
	publisher EventPublisher
	logger    *slog.Logger
}

// NewCloser builds a Closer. directory and publisher may be nil.
func NewCloser(store Store, profiles ProfileReader, directory *Directory, publisher EventPublisher, logger *slog.Logger) *Closer {
	return &Closer{
		store:     store,
		profiles:  profiles,
		directory: directory,
		publisher: publisher,
		logger:    logger,
	}
}

// Close ends conv on behalf of actingUserID. Closing a conversation that was
// already deleted by the peer is swallowed: the terminal state is already the
// desired outcome.
func (c *Closer) Close(ctx context.Context, conv domainchat.Conversation, actingUserID string) error {
	notice := domainchat.ClosureNotice(c.actorName(ctx, actingUserID))
	if _, err := c.store.InsertMessage(ctx, conv.ID, actingUserID, notice, true); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.finish(ctx, conv, actingUserID)
			return nil
		}
		return err
	}

	// Written before the hard delete so observers have a chance to see an
	// intermediate closing signal; the deletion event below stays
	// authoritative either way.
	if err := c.store.InsertClosureMarker(ctx, actingUserID, conv.ID); err != nil {
		c.logWarn("closure marker insert failed", "error", err, "conversation_id", conv.ID)
	}

	if err := c.store.DeleteMessages(ctx, conv.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := c.store.DeleteConversation(ctx, conv.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	c.finish(ctx, conv, actingUserID)
	return nil
}

func (c *Closer) finish(ctx context.Context, conv domainchat.Conversation, actingUserID string) {
	if c.directory != nil {
		c.directory.Remove(conv.ID)
	}
	if c.publisher != nil {
		ev := LifecycleEvent{
			Kind:           LifecycleClosed,
			ConversationID: conv.ID,
			ListingID:      conv.ListingID,
			ActorID:        actingUserID,
			At:             time.Now().UTC(),
		}
		if err := c.publisher.PublishLifecycle(ctx, ev); err != nil {
			c.logWarn("lifecycle publish failed", "error", err, "conversation_id", conv.ID)
		}
	}
}

func (c *Closer) actorName(ctx context.Context, actingUserID string) string {
	if c.directory != nil {
		if p, ok := c.directory.PeerProfile(actingUserID); ok {
			return p.DisplayName()
		}
	}
	if c.profiles == nil {
		return ""
	}
	profiles, err := c.profiles.ProfilesByIDs(ctx, []string{actingUserID})
	if err != nil {
		c.logWarn("actor profile lookup failed", "error", err, "user_id", actingUserID)
		return ""
	}
	return profiles[actingUserID].DisplayName()
}

func (c *Closer) logWarn(msg string, attrs ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, attrs...)
	}
}
