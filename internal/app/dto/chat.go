package dto

import "time"

// Conversation describes a visible thread with its display metadata.
type Conversation struct {
	ID           string    `json:"id"`
	ListingID    string    `json:"listing_id,omitempty"`
	ListingTitle string    `json:"listing_title,omitempty"`
	PeerID       string    `json:"peer_id"`
	PeerName     string    `json:"peer_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConversationList is the directory payload.
type ConversationList struct {
	Items []Conversation `json:"items"`
}

// ChatMessage contains a single transcript entry.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	IsSystem       bool      `json:"is_system,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamFrame is one websocket frame sent to a conversation stream client.
type StreamFrame struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Messages       []ChatMessage `json:"messages,omitempty"`
	Message        *ChatMessage  `json:"message,omitempty"`
}

// StreamCommand is one websocket frame received from a stream client.
type StreamCommand struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
}
