package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	appchat "campusfound/internal/app/chat"
	"campusfound/internal/app/dto"
	domainchat "campusfound/internal/domain/chat"
)

// ChatHTTP exposes the conversation REST endpoints.
type ChatHTTP interface {
	ListConversations(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	CloseConversation(c *gin.Context)
	ContactPoster(c *gin.Context)
}

// ChatHandler bridges HTTP with the conversation core.
type ChatHandler struct {
	Store     appchat.Store
	Profiles  appchat.ProfileReader
	Listings  appchat.ListingReader
	Publisher appchat.EventPublisher
	Logger    *slog.Logger
}

// ListConversations returns the caller's directory with display metadata.
// A failed fetch degrades to an empty list; it is never fatal to the page.
func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	directory := appchat.NewDirectory(h.Store, h.Profiles, h.Listings, h.Logger)
	conversations, err := directory.Refresh(c.Request.Context(), p.ID)
	if err != nil {
		h.logError("directory refresh failed", err, "user_id", p.ID)
		c.JSON(http.StatusOK, dto.ConversationList{Items: []dto.Conversation{}})
		return
	}
	collection := dto.ConversationList{Items: make([]dto.Conversation, 0, len(conversations))}
	for _, conv := range conversations {
		peerID := conv.PeerOf(p.ID)
		collection.Items = append(collection.Items, dto.Conversation{
			ID:           conv.ID,
			ListingID:    conv.ListingID,
			ListingTitle: directory.ListingTitle(conv.ListingID),
			PeerID:       peerID,
			PeerName:     directory.PeerName(peerID),
			CreatedAt:    conv.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, collection)
}

// ListMessages returns a conversation transcript, oldest first.
func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conv, ok := h.loadParticipantConversation(c, p)
	if !ok {
		return
	}
	messages, err := h.Store.ListMessages(c.Request.Context(), conv.ID)
	if err != nil {
		h.logError("list messages failed", err, "conversation_id", conv.ID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messages unavailable"})
		return
	}
	items := make([]dto.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		items = append(items, toChatMessage(msg))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// SendMessage stores a message in a conversation the caller participates in.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conv, ok := h.loadParticipantConversation(c, p)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	msg, err := h.Store.InsertMessage(c.Request.Context(), conv.ID, p.ID, req.Content, false)
	if err != nil {
		if errors.Is(err, appchat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.logError("send message failed", err, "conversation_id", conv.ID, "user_id", p.ID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	c.JSON(http.StatusCreated, toChatMessage(msg))
}

// CloseConversation runs the closure protocol. Closing a conversation that is
// already gone succeeds: the terminal state is the desired outcome.
func (h ChatHandler) CloseConversation(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	conv, err := h.Store.GetConversation(c.Request.Context(), conversationID)
	if errors.Is(err, appchat.ErrNotFound) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		h.logError("load conversation failed", err, "conversation_id", conversationID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	if !conv.HasParticipant(p.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
		return
	}
	closer := appchat.NewCloser(h.Store, h.Profiles, nil, h.Publisher, h.Logger)
	if err := closer.Close(c.Request.Context(), conv, p.ID); err != nil {
		h.logError("close conversation failed", err, "conversation_id", conversationID, "user_id", p.ID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ContactPoster is the "message the poster" action: it returns the existing
// (listing, pair) conversation or creates a new one, whose id then drives the
// deep link.
func (h ChatHandler) ContactPoster(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	listingID := strings.TrimSpace(c.Param("id"))
	if listingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing id is required"})
		return
	}
	listings, err := h.Listings.ListingsByIDs(c.Request.Context(), []string{listingID})
	if err != nil {
		h.logError("listing lookup failed", err, "listing_id", listingID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "listings unavailable"})
		return
	}
	listing, found := listings[listingID]
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	if listing.PosterID == p.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}

	participants := []string{p.ID, listing.PosterID}
	conv, err := h.Store.FindConversationByListing(c.Request.Context(), listingID, participants)
	created := false
	if errors.Is(err, appchat.ErrNotFound) {
		conv, err = h.Store.CreateConversation(c.Request.Context(), listingID, participants)
		created = err == nil
	}
	if err != nil {
		h.logError("contact poster failed", err, "listing_id", listingID, "user_id", p.ID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	if created && h.Publisher != nil {
		ev := appchat.LifecycleEvent{
			Kind:           appchat.LifecycleCreated,
			ConversationID: conv.ID,
			ListingID:      conv.ListingID,
			ActorID:        p.ID,
			At:             time.Now().UTC(),
		}
		if perr := h.Publisher.PublishLifecycle(c.Request.Context(), ev); perr != nil {
			h.logError("lifecycle publish failed", perr, "conversation_id", conv.ID)
		}
	}
	c.JSON(http.StatusOK, dto.Conversation{
		ID:           conv.ID,
		ListingID:    conv.ListingID,
		ListingTitle: listing.Title,
		PeerID:       listing.PosterID,
		PeerName:     h.peerName(c, listing.PosterID),
		CreatedAt:    conv.CreatedAt,
	})
}

func (h ChatHandler) loadParticipantConversation(c *gin.Context, p principal) (domainchat.Conversation, bool) {
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return domainchat.Conversation{}, false
	}
	conv, err := h.Store.GetConversation(c.Request.Context(), conversationID)
	if errors.Is(err, appchat.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return domainchat.Conversation{}, false
	}
	if err != nil {
		h.logError("load conversation failed", err, "conversation_id", conversationID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return domainchat.Conversation{}, false
	}
	if !conv.HasParticipant(p.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
		return domainchat.Conversation{}, false
	}
	return conv, true
}

func (h ChatHandler) peerName(c *gin.Context, userID string) string {
	profiles, err := h.Profiles.ProfilesByIDs(c.Request.Context(), []string{userID})
	if err != nil {
		h.logError("profile lookup failed", err, "user_id", userID)
		return userID
	}
	if p, ok := profiles[userID]; ok {
		return p.DisplayName()
	}
	return userID
}

func (h ChatHandler) logError(msg string, err error, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Error(msg, append([]any{"error", err}, attrs...)...)
	}
}

func toChatMessage(msg domainchat.Message) dto.ChatMessage {
	return dto.ChatMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		IsSystem:       msg.IsSystem,
		CreatedAt:      msg.CreatedAt,
	}
}

var _ ChatHTTP = (*ChatHandler)(nil)
