package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UnreadStore holds the durable unread counters, one document per
// (room, user). It is the authority the cache is checked against.
type UnreadStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewUnreadStore returns an UnreadStore using the given collection.
func NewUnreadStore(coll *mongo.Collection, timeout time.Duration) *UnreadStore {
	return &UnreadStore{coll: coll, timeout: timeout}
}

type unreadDoc struct {
	ID     string `bson:"_id"`
	RoomID string `bson:"room_id"`
	UserID string `bson:"user_id"`
	Count  int64  `bson:"count"`
}

func unreadKey(roomID, userID string) string {
	return roomID + ":" + userID
}

// Increment atomically adds one to the counter and returns the new value.
func (s *UnreadStore) Increment(ctx context.Context, roomID, userID string) (int64, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc unreadDoc
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": unreadKey(roomID, userID)},
		bson.M{
			"$inc":         bson.M{"count": 1},
			"$setOnInsert": bson.M{"room_id": roomID, "user_id": userID},
		},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, storeErr("increment unread", err)
	}
	return doc.Count, nil
}

// Clear sets the counter to zero.
func (s *UnreadStore) Clear(ctx context.Context, roomID, userID string) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": unreadKey(roomID, userID)},
		bson.M{
			"$set":         bson.M{"count": 0},
			"$setOnInsert": bson.M{"room_id": roomID, "user_id": userID},
		},
		options.UpdateOne().SetUpsert(true),
	)
	return storeErr("clear unread", err)
}

// Get returns the counter value; a missing document counts as zero.
func (s *UnreadStore) Get(ctx context.Context, roomID, userID string) (int64, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	var doc unreadDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": unreadKey(roomID, userID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("get unread", err)
	}
	return doc.Count, nil
}

// DeleteRoom drops every counter of a deleted room.
func (s *UnreadStore) DeleteRoom(ctx context.Context, roomID string) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	_, err := s.coll.DeleteMany(ctx, bson.M{"room_id": roomID})
	return storeErr("delete room counters", err)
}
