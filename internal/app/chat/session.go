package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	domainchat "campusfound/internal/domain/chat"
)

// State of the session with respect to the selected conversation.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateActive  State = "active"
	StateClosed  State = "closed"
)

// EventKind discriminates session events.
type EventKind string

const (
	// EventHistory carries the full transcript after a load completes.
	EventHistory EventKind = "history"
	// EventMessage carries a single newly stored message.
	EventMessage EventKind = "message"
	// EventClosed signals that the selection became terminal.
	EventClosed EventKind = "closed"
)

// Event is a confirmed state change surfaced to the session's consumer.
type Event struct {
	Kind           EventKind
	ConversationID string
	Messages       []domainchat.Message
	Message        domainchat.Message
}

// Session drives one user's active conversation: it loads history, runs the
// message-insert and conversation-delete subscriptions, and guards input.
// Every visible change is a reaction to a confirmed store event; sending a
// message never appends locally. A generation counter invalidates in-flight
// loads and subscription callbacks for a conversation that is no longer
// selected.
type Session struct {
	store     Store
	directory *Directory
	closer    *Closer
	userID    string
	logger    *slog.Logger

	events chan Event

	mu       sync.Mutex
	gen      uint64
	selected string
	state    State
	cancel   context.CancelFunc
	history  []domainchat.Message
}

// NewSession builds an idle session for userID.
func NewSession(store Store, directory *Directory, closer *Closer, userID string, logger *slog.Logger) *Session {
	return &Session{
		store:     store,
		directory: directory,
		closer:    closer,
		userID:    userID,
		logger:    logger,
		events:    make(chan Event, 64),
		state:     StateIdle,
	}
}

// Events returns the stream of confirmed session events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Selected returns the selected conversation id, or "".
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// History returns a copy of the loaded transcript.
func (s *Session) History() []domainchat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domainchat.Message(nil), s.history...)
}

// Select switches the session to conversationID. Any in-flight load for a
// previous selection is cancelled and its late results are discarded.
// Selecting the already selected conversation is a no-op.
func (s *Session) Select(ctx context.Context, conversationID string) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	if conversationID == s.selected && s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	loadCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.selected = conversationID
	s.state = StateLoading
	s.history = nil
	s.mu.Unlock()

	go s.load(loadCtx, gen, conversationID)
}

// Deselect returns the session to idle and releases both subscriptions.
func (s *Session) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.selected = ""
	s.state = StateIdle
	s.history = nil
}

// SendMessage stores a message in the selected conversation. Empty content,
// a missing selection or a closed conversation result in no store insert.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	s.mu.Lock()
	selected, state := s.selected, s.state
	s.mu.Unlock()
	if selected == "" || state == StateIdle {
		return ErrNoSelection
	}
	if state == StateClosed {
		return ErrConversationClosed
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if state != StateActive {
		return ErrNoSelection
	}
	// No local append: the message comes back through the same subscription
	// path as the peer's messages, keeping a single ordering source.
	_, err := s.store.InsertMessage(ctx, selected, s.userID, trimmed, false)
	return err
}

// Close runs the closure protocol on the selected conversation. Closing a
// conversation the peer already deleted is a silent no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	selected, state, gen := s.selected, s.state, s.gen
	s.mu.Unlock()
	if selected == "" || state == StateIdle {
		return ErrNoSelection
	}
	if state == StateClosed {
		return nil
	}
	conv, ok := s.directory.Get(selected)
	if !ok {
		loaded, err := s.store.GetConversation(ctx, selected)
		if errors.Is(err, ErrNotFound) {
			s.markClosed(gen, selected)
			return nil
		}
		if err != nil {
			return err
		}
		conv = loaded
	}
	if err := s.closer.Close(ctx, conv, s.userID); err != nil {
		return err
	}
	s.markClosed(gen, selected)
	return nil
}

func (s *Session) load(ctx context.Context, gen uint64, conversationID string) {
	history, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		s.logWarn("history load failed", "error", err, "conversation_id", conversationID)
		s.failLoad(gen)
		return
	}
	// The peer may have closed the conversation before this load started.
	closed, err := s.store.HasClosureMarker(ctx, conversationID)
	if err != nil {
		s.logWarn("closure check failed", "error", err, "conversation_id", conversationID)
		s.failLoad(gen)
		return
	}
	if closed {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.history = history
		s.state = StateClosed
		s.mu.Unlock()
		s.emit(Event{Kind: EventHistory, ConversationID: conversationID, Messages: history})
		s.emit(Event{Kind: EventClosed, ConversationID: conversationID})
		return
	}

	msgCh, cancelMessages, err := s.store.WatchMessages(ctx, conversationID)
	if err != nil {
		s.logWarn("message subscription failed", "error", err, "conversation_id", conversationID)
		s.failLoad(gen)
		return
	}
	delCh, cancelDeletes, err := s.store.WatchConversationDelete(ctx, conversationID)
	if err != nil {
		cancelMessages()
		s.logWarn("delete subscription failed", "error", err, "conversation_id", conversationID)
		s.failLoad(gen)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		cancelMessages()
		cancelDeletes()
		return
	}
	s.history = history
	s.state = StateActive
	s.mu.Unlock()
	s.emit(Event{Kind: EventHistory, ConversationID: conversationID, Messages: history})

	go s.watch(ctx, gen, conversationID, msgCh, delCh, cancelMessages, cancelDeletes)
}

func (s *Session) watch(ctx context.Context, gen uint64, conversationID string, msgCh <-chan domainchat.Message, delCh <-chan string, cancels ...CancelFunc) {
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			s.appendMessage(gen, msg)
		case _, ok := <-delCh:
			if !ok {
				return
			}
			// The row deletion is the authoritative closure signal; the
			// marker insert can vanish by cascade before it is observed.
			s.conversationDeleted(gen, conversationID)
			return
		}
	}
}

func (s *Session) appendMessage(gen uint64, msg domainchat.Message) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.history = append(s.history, msg)
	conversationID := s.selected
	s.mu.Unlock()
	s.emit(Event{Kind: EventMessage, ConversationID: conversationID, Message: msg})
}

func (s *Session) conversationDeleted(gen uint64, conversationID string) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()
	s.directory.Remove(conversationID)
	s.emit(Event{Kind: EventClosed, ConversationID: conversationID})
}

func (s *Session) markClosed(gen uint64, conversationID string) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()
	s.emit(Event{Kind: EventClosed, ConversationID: conversationID})
}

func (s *Session) failLoad(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.state = StateIdle
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logWarn("session event dropped", "kind", string(ev.Kind), "conversation_id", ev.ConversationID)
	}
}

func (s *Session) logWarn(msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, attrs...)
	}
}
