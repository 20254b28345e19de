package chat

import (
	"context"
	"errors"
	"time"

	domainchat "campusfound/internal/domain/chat"
)

var (
	// ErrNotFound is returned when a conversation no longer exists.
	ErrNotFound = errors.New("chat: conversation not found")
	// ErrConversationClosed is returned when input is attempted on a closed selection.
	ErrConversationClosed = errors.New("chat: conversation closed")
	// ErrEmptyMessage is returned for empty or whitespace-only content.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrNoSelection is returned when no conversation is selected.
	ErrNoSelection = errors.New("chat: no conversation selected")
)

// CancelFunc releases a change-event subscription.
type CancelFunc func()

// Store is the durable conversation store. Watch channels deliver confirmed
// store events; they are the single source of truth for visible state.
type Store interface {
	CreateConversation(ctx context.Context, listingID string, participants []string) (domainchat.Conversation, error)
	GetConversation(ctx context.Context, id string) (domainchat.Conversation, error)
	FindConversationByListing(ctx context.Context, listingID string, participants []string) (domainchat.Conversation, error)
	ListConversationsFor(ctx context.Context, userID string) ([]domainchat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	InsertMessage(ctx context.Context, conversationID, senderID, content string, isSystem bool) (domainchat.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]domainchat.Message, error)
	DeleteMessages(ctx context.Context, conversationID string) error

	InsertClosureMarker(ctx context.Context, userID, conversationID string) error
	HasClosureMarker(ctx context.Context, conversationID string) (bool, error)
	ListClosureMarkersFor(ctx context.Context, userID string) ([]domainchat.ClosureMarker, error)

	WatchMessages(ctx context.Context, conversationID string) (<-chan domainchat.Message, CancelFunc, error)
	WatchConversationDelete(ctx context.Context, conversationID string) (<-chan string, CancelFunc, error)
}

// ProfileReader resolves user display data in batch.
type ProfileReader interface {
	ProfilesByIDs(ctx context.Context, ids []string) (map[string]domainchat.Profile, error)
}

// ListingReader resolves listing display data in batch.
type ListingReader interface {
	ListingsByIDs(ctx context.Context, ids []string) (map[string]domainchat.Listing, error)
}

// LifecycleEvent describes a conversation lifecycle change published for
// downstream consumers (notifications, analytics).
type LifecycleEvent struct {
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id,omitempty"`
	ActorID        string    `json:"actor_id"`
	At             time.Time `json:"at"`
}

// Lifecycle event kinds.
const (
	LifecycleCreated = "conversation.created"
	LifecycleClosed  = "conversation.closed"
)

// EventPublisher emits lifecycle events. Publishing is best effort and must
// never fail the user-facing operation.
type EventPublisher interface {
	PublishLifecycle(ctx context.Context, ev LifecycleEvent) error
}
