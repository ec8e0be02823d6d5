package data

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// RoomsStore provides room database operations.
type RoomsStore struct {
	// coll is reference to "rooms" collection in MongoDB
	coll    *mongo.Collection
	timeout time.Duration
}

// NewRoomsStore returns a RoomsStore using the given collection. Every call is
// bounded by timeout.
func NewRoomsStore(coll *mongo.Collection, timeout time.Duration) *RoomsStore {
	return &RoomsStore{coll: coll, timeout: timeout}
}

// Insert stores a new room. It returns ErrDuplicate when a room with the same
// id already exists, which callers creating direct rooms treat as success.
func (s *RoomsStore) Insert(ctx context.Context, room *Room) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	if room.CreatedAt.IsZero() {
		room.CreatedAt = now()
	}
	if room.UpdatedAt.IsZero() {
		room.UpdatedAt = room.CreatedAt
	}

	_, err := s.coll.InsertOne(ctx, room)
	return storeErr("insert room", err)
}

// GetByID finds a room by id.
func (s *RoomsStore) GetByID(ctx context.Context, id string) (*Room, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	var room Room
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&room); err != nil {
		return nil, storeErr(fmt.Sprintf("get room %s", id), err)
	}
	return &room, nil
}

// ListForUser returns a page of the user's rooms, most recently active first.
func (s *RoomsStore) ListForUser(ctx context.Context, userID string, page, limit int) ([]*Room, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	skip, size := pageBounds(page, limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(skip).
		SetLimit(size)

	cursor, err := s.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, storeErr("list rooms", err)
	}
	defer cursor.Close(ctx)

	var rooms []*Room
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, storeErr("decode rooms", err)
	}
	return rooms, nil
}

// ListIDsForUser returns up to limit room ids the user participates in,
// starting at offset. The order is stable so callers can page through.
func (s *RoomsStore) ListIDsForUser(ctx context.Context, userID string, offset, limit int64) ([]string, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.M{"_id": 1}).
		SetSkip(offset).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, storeErr("list room ids", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storeErr("decode room ids", err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// UpdateLastMessage replaces the room's preview and bumps updated_at, unless
// the room already shows a newer message. Ties on sent_at are broken by
// message id, so concurrent senders converge on the same preview.
func (s *RoomsStore) UpdateLastMessage(ctx context.Context, roomID string, summary LastMessageSummary) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	filter := bson.M{
		"_id": roomID,
		"$or": bson.A{
			bson.M{"last_message": nil},
			bson.M{"last_message.sent_at": bson.M{"$lt": summary.SentAt}},
			bson.M{
				"last_message.sent_at":    summary.SentAt,
				"last_message.message_id": bson.M{"$lt": summary.MessageID},
			},
		},
	}
	res, err := s.coll.UpdateOne(ctx, filter,
		bson.M{"$set": bson.M{"last_message": summary, "updated_at": summary.SentAt}},
	)
	if err != nil {
		return storeErr("update last message", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": roomID})
	if err != nil {
		return storeErr("update last message", err)
	}
	if n == 0 {
		return fmt.Errorf("room %s: %w", roomID, apperrors.ErrNotFound)
	}
	return nil
}

// Delete removes the room record and reports whether it existed.
func (s *RoomsStore) Delete(ctx context.Context, roomID string) (bool, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": roomID})
	if err != nil {
		return false, storeErr("delete room", err)
	}
	return res.DeletedCount > 0, nil
}
