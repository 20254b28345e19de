package mongo

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appchat "campusfound/internal/app/chat"
	domainchat "campusfound/internal/domain/chat"
)

// ChatStore persists conversations, messages and closure markers in Mongo.
// Change streams on the collections back the watch primitives.
type ChatStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
	hidden        *mongo.Collection
	logger        *slog.Logger
}

// NewChatStore builds a ChatStore over the given database.
func NewChatStore(db *mongo.Database, logger *slog.Logger) *ChatStore {
	return &ChatStore{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
		hidden:        db.Collection("hidden_conversations"),
		logger:        logger,
	}
}

// EnsureIndexes creates the uniqueness and lookup indexes. The unique
// (listing_id, pair_key) index keeps concurrent contact actions from
// creating duplicate conversations for the same listing and pair.
func (s *ChatStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "listing_id", Value: 1}, {Key: "pair_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = s.hidden.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.hidden.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}},
	})
	return err
}

// CreateConversation inserts a conversation. A duplicate-key collision from a
// concurrent contact action converges on the existing row.
func (s *ChatStore) CreateConversation(ctx context.Context, listingID string, participants []string) (domainchat.Conversation, error) {
	normalized := domainchat.NormalizeParticipants(participants)
	doc := conversationDocument{
		ID:           uuid.NewString(),
		ListingID:    listingID,
		Participants: normalized,
		PairKey:      domainchat.PairKey(normalized),
		CreatedAt:    time.Now().UTC().UnixMilli(),
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return s.FindConversationByListing(ctx, listingID, normalized)
		}
		return domainchat.Conversation{}, err
	}
	return doc.toDomain(), nil
}

// GetConversation returns a conversation or chat.ErrNotFound.
func (s *ChatStore) GetConversation(ctx context.Context, id string) (domainchat.Conversation, error) {
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return domainchat.Conversation{}, appchat.ErrNotFound
		}
		return domainchat.Conversation{}, err
	}
	return doc.toDomain(), nil
}

// FindConversationByListing locates an existing (listing, pair) thread.
func (s *ChatStore) FindConversationByListing(ctx context.Context, listingID string, participants []string) (domainchat.Conversation, error) {
	filter := bson.M{"listing_id": listingID, "pair_key": domainchat.PairKey(participants)}
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, filter).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return domainchat.Conversation{}, appchat.ErrNotFound
		}
		return domainchat.Conversation{}, err
	}
	return doc.toDomain(), nil
}

// ListConversationsFor returns every conversation userID participates in,
// newest first.
func (s *ChatStore) ListConversationsFor(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.conversations.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := make([]domainchat.Conversation, 0)
	for cursor.Next(ctx) {
		var doc conversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	return out, cursor.Err()
}

// DeleteConversation removes the row and cascades its closure markers.
func (s *ChatStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.conversations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return appchat.ErrNotFound
	}
	if _, err := s.hidden.DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil && s.logger != nil {
		s.logger.Warn("closure marker cascade failed", "error", err, "conversation_id", id)
	}
	return nil
}

// InsertMessage appends a message to an existing conversation.
func (s *ChatStore) InsertMessage(ctx context.Context, conversationID, senderID, content string, isSystem bool) (domainchat.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return domainchat.Message{}, err
	}
	doc := messageDocument{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		IsSystem:       isSystem,
		CreatedAt:      time.Now().UTC().UnixMilli(),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return domainchat.Message{}, err
	}
	return doc.toDomain(), nil
}

// ListMessages returns the transcript sorted by creation time ascending.
func (s *ChatStore) ListMessages(ctx context.Context, conversationID string) ([]domainchat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := make([]domainchat.Message, 0)
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	return out, cursor.Err()
}

// DeleteMessages purges every message owned by the conversation.
func (s *ChatStore) DeleteMessages(ctx context.Context, conversationID string) error {
	_, err := s.messages.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	return err
}

// InsertClosureMarker records the closure; re-inserting is a no-op.
func (s *ChatStore) InsertClosureMarker(ctx context.Context, userID, conversationID string) error {
	doc := hiddenDocument{UserID: userID, ConversationID: conversationID}
	if _, err := s.hidden.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return err
	}
	return nil
}

// HasClosureMarker reports whether any participant closed the conversation.
func (s *ChatStore) HasClosureMarker(ctx context.Context, conversationID string) (bool, error) {
	opts := options.Count().SetLimit(1)
	n, err := s.hidden.CountDocuments(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListClosureMarkersFor returns the markers written by userID.
func (s *ChatStore) ListClosureMarkersFor(ctx context.Context, userID string) ([]domainchat.ClosureMarker, error) {
	cursor, err := s.hidden.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := make([]domainchat.ClosureMarker, 0)
	for cursor.Next(ctx) {
		var doc hiddenDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, domainchat.ClosureMarker{UserID: doc.UserID, ConversationID: doc.ConversationID})
	}
	return out, cursor.Err()
}

// WatchMessages streams message inserts for one conversation.
func (s *ChatStore) WatchMessages(ctx context.Context, conversationID string) (<-chan domainchat.Message, appchat.CancelFunc, error) {
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{
		{Key: "operationType", Value: "insert"},
		{Key: "fullDocument.conversation_id", Value: conversationID},
	}}}}
	stream, err := s.messages.Watch(ctx, pipeline)
	if err != nil {
		return nil, nil, err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	ch := make(chan domainchat.Message, 64)
	go func() {
		defer close(ch)
		defer stream.Close(context.Background())
		for stream.Next(watchCtx) {
			var ev struct {
				FullDocument messageDocument `bson:"fullDocument"`
			}
			if err := stream.Decode(&ev); err != nil {
				if s.logger != nil {
					s.logger.Warn("message change decode failed", "error", err, "conversation_id", conversationID)
				}
				continue
			}
			select {
			case ch <- ev.FullDocument.toDomain():
			case <-watchCtx.Done():
				return
			}
		}
	}()
	return ch, appchat.CancelFunc(cancel), nil
}

// WatchConversationDelete streams the deletion of one conversation row.
func (s *ChatStore) WatchConversationDelete(ctx context.Context, conversationID string) (<-chan string, appchat.CancelFunc, error) {
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{
		{Key: "operationType", Value: "delete"},
		{Key: "documentKey._id", Value: conversationID},
	}}}}
	stream, err := s.conversations.Watch(ctx, pipeline)
	if err != nil {
		return nil, nil, err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	ch := make(chan string, 4)
	go func() {
		defer close(ch)
		defer stream.Close(context.Background())
		for stream.Next(watchCtx) {
			select {
			case ch <- conversationID:
			case <-watchCtx.Done():
				return
			}
		}
	}()
	return ch, appchat.CancelFunc(cancel), nil
}

type conversationDocument struct {
	ID           string   `bson:"_id"`
	ListingID    string   `bson:"listing_id,omitempty"`
	Participants []string `bson:"participants"`
	PairKey      string   `bson:"pair_key"`
	CreatedAt    int64    `bson:"created_at"`
}

func (d conversationDocument) toDomain() domainchat.Conversation {
	return domainchat.Conversation{
		ID:           d.ID,
		ListingID:    d.ListingID,
		Participants: append([]string(nil), d.Participants...),
		CreatedAt:    time.UnixMilli(d.CreatedAt).UTC(),
	}
}

type messageDocument struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	SenderID       string `bson:"sender_id"`
	Content        string `bson:"content"`
	IsSystem       bool   `bson:"is_system"`
	CreatedAt      int64  `bson:"created_at"`
}

func (d messageDocument) toDomain() domainchat.Message {
	return domainchat.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		IsSystem:       d.IsSystem,
		CreatedAt:      time.UnixMilli(d.CreatedAt).UTC(),
	}
}

type hiddenDocument struct {
	UserID         string `bson:"user_id"`
	ConversationID string `bson:"conversation_id"`
}
