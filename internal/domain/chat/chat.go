package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Conversation is a two-party message thread about a single listing.
// Participants are stored normalized: trimmed, deduplicated, sorted.
type Conversation struct {
	ID           string
	ListingID    string
	Participants []string
	CreatedAt    time.Time
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// PeerOf returns the other participant, or "" when userID is not one of them.
func (c Conversation) PeerOf(userID string) string {
	if !c.HasParticipant(userID) {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// Message is a single transcript entry. System messages narrate lifecycle
// events (such as closure) and are never part of the dialogue proper.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	IsSystem       bool
	CreatedAt      time.Time
}

// ClosureMarker records that a user closed a conversation. It is written
// immediately before the hard delete so the peer has an observable signal,
// and disappears with the conversation row.
type ClosureMarker struct {
	UserID         string
	ConversationID string
}

// Profile is a read-only projection of a user for display purposes.
type Profile struct {
	ID        string
	FirstName string
	LastName  string
}

// DisplayName joins the name parts, falling back to the id when both are empty.
func (p Profile) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name == "" {
		return p.ID
	}
	return name
}

// Listing is a read-only projection of a lost-and-found post.
type Listing struct {
	ID       string
	Title    string
	PosterID string
}

// ClosedFallbackName labels a closure when the actor's profile is unavailable.
const ClosedFallbackName = "A participant"

// ClosureNotice builds the system message announcing that displayName
// ended the conversation.
func ClosureNotice(displayName string) string {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = ClosedFallbackName
	}
	return fmt.Sprintf("%s has closed this conversation", displayName)
}

// NormalizeParticipants trims, deduplicates and sorts participant ids.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SameParticipants compares two participant sets ignoring order and duplicates.
func SameParticipants(a, b []string) bool {
	aNorm := NormalizeParticipants(a)
	bNorm := NormalizeParticipants(b)
	if len(aNorm) != len(bNorm) {
		return false
	}
	for i := range aNorm {
		if aNorm[i] != bNorm[i] {
			return false
		}
	}
	return true
}

// PairKey derives a stable identity for a participant set, used to keep a
// single conversation per (listing, pair).
func PairKey(ids []string) string {
	return strings.Join(NormalizeParticipants(ids), "|")
}
