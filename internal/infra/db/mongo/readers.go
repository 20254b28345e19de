package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	domainchat "campusfound/internal/domain/chat"
)

// ProfileReader resolves user display data from the profiles projection.
type ProfileReader struct {
	col *mongo.Collection
}

// NewProfileReader builds a reader over the profiles collection.
func NewProfileReader(db *mongo.Database) *ProfileReader {
	return &ProfileReader{col: db.Collection("profiles")}
}

// ProfilesByIDs fetches all requested profiles in one query.
func (r *ProfileReader) ProfilesByIDs(ctx context.Context, ids []string) (map[string]domainchat.Profile, error) {
	out := make(map[string]domainchat.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc profileDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out[doc.ID] = domainchat.Profile{ID: doc.ID, FirstName: doc.FirstName, LastName: doc.LastName}
	}
	return out, cursor.Err()
}

// ListingReader resolves listing display data from the listings projection.
type ListingReader struct {
	col *mongo.Collection
}

// NewListingReader builds a reader over the listings collection.
func NewListingReader(db *mongo.Database) *ListingReader {
	return &ListingReader{col: db.Collection("listings")}
}

// ListingsByIDs fetches all requested listings in one query.
func (r *ListingReader) ListingsByIDs(ctx context.Context, ids []string) (map[string]domainchat.Listing, error) {
	out := make(map[string]domainchat.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc listingDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out[doc.ID] = domainchat.Listing{ID: doc.ID, Title: doc.Title, PosterID: doc.PosterID}
	}
	return out, cursor.Err()
}

type profileDocument struct {
	ID        string `bson:"_id"`
	FirstName string `bson:"first_name"`
	LastName  string `bson:"last_name"`
}

type listingDocument struct {
	ID       string `bson:"_id"`
	Title    string `bson:"title"`
	PosterID string `bson:"poster_id"`
}
