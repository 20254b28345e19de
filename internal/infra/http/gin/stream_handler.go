package ginserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	appchat "campusfound/internal/app/chat"
	"campusfound/internal/app/dto"
)

const (
	streamWriteWait = 10 * time.Second
	streamPing      = 30 * time.Second
)

// StreamHTTP exposes the realtime conversation stream.
type StreamHTTP interface {
	Stream(c *gin.Context)
}

// StreamHandler upgrades a client to a websocket and gives it a live
// conversation session: one Directory, Session and deep-link Resolver per
// connection, mirroring one page lifetime. Session events are forwarded as
// JSON frames; client frames drive selection, sending and closure.
type StreamHandler struct {
	Store     appchat.Store
	Profiles  appchat.ProfileReader
	Listings  appchat.ListingReader
	Publisher appchat.EventPublisher
	Logger    *slog.Logger

	Upgrader websocket.Upgrader
}

// NewStreamHandler builds a handler with a permissive origin check, matching
// the CORS policy of the REST surface.
func NewStreamHandler(store appchat.Store, profiles appchat.ProfileReader, listings appchat.ListingReader, publisher appchat.EventPublisher, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		Store:     store,
		Profiles:  profiles,
		Listings:  listings,
		Publisher: publisher,
		Logger:    logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Stream handles GET /conversations/stream?conversation=<id>.
func (h *StreamHandler) Stream(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logWarn("websocket upgrade failed", "error", err, "user_id", p.ID)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	directory := appchat.NewDirectory(h.Store, h.Profiles, h.Listings, h.Logger)
	closer := appchat.NewCloser(h.Store, h.Profiles, directory, h.Publisher, h.Logger)
	session := appchat.NewSession(h.Store, directory, closer, p.ID, h.Logger)
	resolver := appchat.NewResolver(h.Store, h.Profiles, h.Listings, directory, session, h.Logger)
	defer session.Deselect()

	if _, err := directory.Refresh(ctx, p.ID); err != nil {
		h.logWarn("directory refresh failed", "error", err, "user_id", p.ID)
	}
	if deepLink := c.Query("conversation"); deepLink != "" {
		if err := resolver.Resolve(ctx, deepLink); err != nil {
			h.logWarn("deep link resolution failed", "error", err, "conversation_id", deepLink)
		}
	}

	go h.readLoop(ctx, cancel, conn, directory, session, resolver)
	h.writeLoop(ctx, conn, session)
}

func (h *StreamHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, directory *appchat.Directory, session *appchat.Session, resolver *appchat.Resolver) {
	defer cancel()
	for {
		var cmd dto.StreamCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Action {
		case "select":
			// A visible conversation is selected directly; the resolver's
			// once-per-id guard is only for unknown (deep-linked) ids, and
			// would otherwise swallow a re-selection.
			id := strings.TrimSpace(cmd.ConversationID)
			if _, visible := directory.Get(id); visible {
				session.Select(ctx, id)
				continue
			}
			if err := resolver.Resolve(ctx, id); err != nil {
				h.logWarn("select failed", "error", err, "conversation_id", id)
			}
		case "send":
			if err := session.SendMessage(ctx, cmd.Content); err != nil {
				// Input guards (empty content, closed conversation) are
				// silent no-ops on the stream, per the page behavior.
				h.logWarn("send rejected", "error", err, "conversation_id", session.Selected())
			}
		case "close":
			if err := session.Close(ctx); err != nil {
				h.logWarn("close failed", "error", err, "conversation_id", session.Selected())
			}
		case "deselect":
			session.Deselect()
		}
	}
}

func (h *StreamHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *appchat.Session) {
	ticker := time.NewTicker(streamPing)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-session.Events():
			if err := h.writeFrame(conn, toStreamFrame(ev)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) writeFrame(conn *websocket.Conn, frame dto.StreamFrame) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(frame)
}

func (h *StreamHandler) logWarn(msg string, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Warn(msg, attrs...)
	}
}

func toStreamFrame(ev appchat.Event) dto.StreamFrame {
	frame := dto.StreamFrame{
		Type:           string(ev.Kind),
		ConversationID: ev.ConversationID,
	}
	switch ev.Kind {
	case appchat.EventHistory:
		frame.Messages = make([]dto.ChatMessage, 0, len(ev.Messages))
		for _, msg := range ev.Messages {
			frame.Messages = append(frame.Messages, toChatMessage(msg))
		}
	case appchat.EventMessage:
		msg := toChatMessage(ev.Message)
		frame.Message = &msg
	}
	return frame
}

var _ StreamHTTP = (*StreamHandler)(nil)
