package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appchat "campusfound/internal/app/chat"
	domainchat "campusfound/internal/domain/chat"
)

// Store is an in-memory conversation store used in dev mode and by tests.
// Change events are delivered to registered watchers the same way the Mongo
// adapter delivers change-stream events.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]domainchat.Conversation
	messages      map[string][]domainchat.Message
	markers       map[string]map[string]struct{}
	msgWatchers   map[string]map[int]chan domainchat.Message
	delWatchers   map[string]map[int]chan string
	nextWatcher   int
	clock         func() time.Time
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]domainchat.Conversation),
		messages:      make(map[string][]domainchat.Message),
		markers:       make(map[string]map[string]struct{}),
		msgWatchers:   make(map[string]map[int]chan domainchat.Message),
		delWatchers:   make(map[string]map[int]chan string),
		clock:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation inserts a conversation, converging on the existing row
// when one already exists for the same (listing, pair).
func (s *Store) CreateConversation(ctx context.Context, listingID string, participants []string) (domainchat.Conversation, error) {
	normalized := domainchat.NormalizeParticipants(participants)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.ListingID == listingID && domainchat.SameParticipants(conv.Participants, normalized) {
			return conv, nil
		}
	}
	conv := domainchat.Conversation{
		ID:           uuid.NewString(),
		ListingID:    listingID,
		Participants: normalized,
		CreatedAt:    s.clock(),
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

// GetConversation returns a conversation or chat.ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return domainchat.Conversation{}, appchat.ErrNotFound
	}
	return conv, nil
}

// FindConversationByListing locates an existing (listing, pair) thread.
func (s *Store) FindConversationByListing(ctx context.Context, listingID string, participants []string) (domainchat.Conversation, error) {
	normalized := domainchat.NormalizeParticipants(participants)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conv := range s.conversations {
		if conv.ListingID == listingID && domainchat.SameParticipants(conv.Participants, normalized) {
			return conv, nil
		}
	}
	return domainchat.Conversation{}, appchat.ErrNotFound
}

// ListConversationsFor returns every conversation userID participates in,
// newest first.
func (s *Store) ListConversationsFor(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domainchat.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteConversation removes the row, cascades its closure markers and
// notifies deletion watchers.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return appchat.ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.markers, id)
	// Notified under the lock so a concurrent cancel cannot close a channel
	// mid-send; sends are non-blocking against buffered channels.
	for _, ch := range s.delWatchers[id] {
		select {
		case ch <- id:
		default:
		}
	}
	return nil
}

// InsertMessage appends a message and notifies message watchers.
func (s *Store) InsertMessage(ctx context.Context, conversationID, senderID, content string, isSystem bool) (domainchat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return domainchat.Message{}, appchat.ErrNotFound
	}
	msg := domainchat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		IsSystem:       isSystem,
		CreatedAt:      s.clock(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	for _, ch := range s.msgWatchers[conversationID] {
		select {
		case ch <- msg:
		default:
		}
	}
	return msg, nil
}

// ListMessages returns the transcript sorted by creation time ascending.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domainchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domainchat.Message(nil), s.messages[conversationID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteMessages removes every message owned by the conversation.
func (s *Store) DeleteMessages(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, conversationID)
	return nil
}

// InsertClosureMarker records that userID closed the conversation.
func (s *Store) InsertClosureMarker(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markers[conversationID] == nil {
		s.markers[conversationID] = make(map[string]struct{})
	}
	s.markers[conversationID][userID] = struct{}{}
	return nil
}

// HasClosureMarker reports whether any participant closed the conversation.
func (s *Store) HasClosureMarker(ctx context.Context, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers[conversationID]) > 0, nil
}

// ListClosureMarkersFor returns the markers written by userID.
func (s *Store) ListClosureMarkersFor(ctx context.Context, userID string) ([]domainchat.ClosureMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domainchat.ClosureMarker, 0)
	for convID, users := range s.markers {
		if _, ok := users[userID]; ok {
			out = append(out, domainchat.ClosureMarker{UserID: userID, ConversationID: convID})
		}
	}
	return out, nil
}

// WatchMessages registers a watcher for message inserts in one conversation.
func (s *Store) WatchMessages(ctx context.Context, conversationID string) (<-chan domainchat.Message, appchat.CancelFunc, error) {
	ch := make(chan domainchat.Message, 64)
	s.mu.Lock()
	s.nextWatcher++
	id := s.nextWatcher
	if s.msgWatchers[conversationID] == nil {
		s.msgWatchers[conversationID] = make(map[int]chan domainchat.Message)
	}
	s.msgWatchers[conversationID][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if watchers, ok := s.msgWatchers[conversationID]; ok {
			if _, registered := watchers[id]; registered {
				delete(watchers, id)
				close(ch)
			}
		}
	}
	return ch, cancel, nil
}

// WatchConversationDelete registers a watcher for the conversation row deletion.
func (s *Store) WatchConversationDelete(ctx context.Context, conversationID string) (<-chan string, appchat.CancelFunc, error) {
	ch := make(chan string, 4)
	s.mu.Lock()
	s.nextWatcher++
	id := s.nextWatcher
	if s.delWatchers[conversationID] == nil {
		s.delWatchers[conversationID] = make(map[int]chan string)
	}
	s.delWatchers[conversationID][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if watchers, ok := s.delWatchers[conversationID]; ok {
			if _, registered := watchers[id]; registered {
				delete(watchers, id)
				close(ch)
			}
		}
	}
	return ch, cancel, nil
}
