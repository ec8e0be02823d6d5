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

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is reference to "messages" collection in MongoDB
	coll    *mongo.Collection
	timeout time.Duration
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection, timeout time.Duration) *MessagesStore {
	return &MessagesStore{coll: coll, timeout: timeout}
}

// NewMessage is the caller-supplied part of a message.
type NewMessage struct {
	RoomID    string
	Sender    string
	Receiver  string
	Body      string
	MediaRef  string
	MediaKind MediaKind
}

// timeline sorts newest first; _id breaks ties between same-millisecond inserts.
var timeline = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

// Append inserts a message and returns the stored record including the
// generated id and created_at. Nothing is broadcast before this succeeds.
func (m *MessagesStore) Append(ctx context.Context, in NewMessage) (*Message, error) {
	ctx, cancel := bounded(ctx, m.timeout)
	defer cancel()

	msg := &Message{
		RoomID:    in.RoomID,
		Sender:    in.Sender,
		Receiver:  in.Receiver,
		Body:      in.Body,
		MediaRef:  in.MediaRef,
		MediaKind: in.MediaKind,
		CreatedAt: now(),
		Read:      false,
		Deleted:   false,
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, storeErr("append message", err)
	}

	// The driver generates the ObjectID; read it back so callers see it.
	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// GetByID returns a message regardless of its deleted flag.
func (m *MessagesStore) GetByID(ctx context.Context, id string) (*Message, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("message %q: %w", id, apperrors.ErrNotFound)
	}

	ctx, cancel := bounded(ctx, m.timeout)
	defer cancel()

	var msg Message
	if err := m.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&msg); err != nil {
		return nil, storeErr(fmt.Sprintf("get message %s", id), err)
	}
	return &msg, nil
}

// List returns one page of non-deleted messages in ascending display order.
// Page 1 holds the newest limit messages, page 2 the ones before them, etc.
func (m *MessagesStore) List(ctx context.Context, roomID string, page, limit int) (*MessagePage, error) {
	ctx, cancel := bounded(ctx, m.timeout)
	defer cancel()

	filter := bson.M{"room_id": roomID, "deleted": false}

	total, err := m.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, storeErr("count messages", err)
	}

	skip, size := pageBounds(page, limit)
	opts := options.Find().
		SetSort(timeline).
		SetSkip(skip).
		SetLimit(size)

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, storeErr("decode messages", err)
	}

	// Reverse the slice because MongoDB returned newest first,
	// but clients expect chronological order: oldest message first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &MessagePage{
		Messages: messages,
		HasMore:  skip+int64(len(messages)) < total,
		Total:    total,
	}, nil
}

// MarkRead marks the given messages of roomID read for reader. Only messages
// of that room addressed to reader that are still unread change; the ids
// that changed are returned.
func (m *MessagesStore) MarkRead(ctx context.Context, roomID string, ids []string, reader string) ([]string, error) {
	oids := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := bson.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return nil, nil
	}
	return m.markRead(ctx, bson.M{"_id": bson.M{"$in": oids}, "room_id": roomID, "receiver": reader, "read": false})
}

// MarkRoomRead marks every unread message addressed to reader in the room.
func (m *MessagesStore) MarkRoomRead(ctx context.Context, roomID, reader string) ([]string, error) {
	return m.markRead(ctx, bson.M{"room_id": roomID, "receiver": reader, "read": false})
}

func (m *MessagesStore) markRead(ctx context.Context, filter bson.M) ([]string, error) {
	ctx, cancel := bounded(ctx, m.timeout)
	defer cancel()

	cursor, err := m.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, storeErr("find unread", err)
	}
	var docs []struct {
		ID bson.ObjectID `bson:"_id"`
	}
	err = cursor.All(ctx, &docs)
	cursor.Close(ctx)
	if err != nil {
		return nil, storeErr("decode unread", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	oids := make([]bson.ObjectID, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		oids[i] = d.ID
		ids[i] = d.ID.Hex()
	}

	// Keep the read=false guard so concurrent readers never overwrite read_at.
	// read_op tags the documents this call flipped.
	op := bson.NewObjectID()
	update := bson.M{"$set": bson.M{"read": true, "read_at": now(), "read_op": op}}
	res, err := m.coll.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": oids}, "read": false}, update)
	if err != nil {
		return nil, storeErr("mark read", err)
	}
	if res.ModifiedCount == int64(len(oids)) {
		return ids, nil
	}
	if res.ModifiedCount == 0 {
		return nil, nil
	}

	cursor, err = m.coll.Find(ctx, bson.M{"_id": bson.M{"$in": oids}, "read_op": op},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, storeErr("find marked", err)
	}
	docs = docs[:0]
	err = cursor.All(ctx, &docs)
	cursor.Close(ctx)
	if err != nil {
		return nil, storeErr("decode marked", err)
	}
	ids = ids[:0]
	for _, d := range docs {
		ids = append(ids, d.ID.Hex())
	}
	return ids, nil
}

// MarkDelivered sets delivered_at if it is unset and reports whether it changed.
func (m *MessagesStore) MarkDelivered(ctx context.Context, id string) (bool, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	ctx, cancel := bounded(ctx, m.timeout)
	defer cancel()

	res, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "delivered_at": nil},
		bson.M{"$set": bson.M{"delivered_at": now()}},
	)
	if err != nil {
		return false, storeErr("mark delivered", err)
	}
	return res.ModifiedCount > 0, nil
}

// SoftDelete flags the message deleted when requester is its sender. It
// reports false when the message is missing, not owned or already deleted.
func (m *MessagesStore) SoftDelete(ctx context.Context, id, requester string) (bool, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	ctx, cancel := bounded(ctx, m.timeout)
	defer cancel()

	res, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "sender": requester, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true}},
	)
	if err != nil {
		return false, storeErr("soft delete", err)
	}
	return res.ModifiedCount > 0, nil
}

// CountInRoom counts the room's visible messages.
func (m *MessagesStore) CountInRoom(ctx context.Context, roomID string) (int64, error) {
	return m.count(ctx, "count in room", bson.M{"room_id": roomID, "deleted": false})
}

// CountUnreadForUser counts unread direct messages addressed to the user.
func (m *MessagesStore) CountUnreadForUser(ctx context.Context, userID string) (int64, error) {
	return m.count(ctx, "count unread", bson.M{"receiver": userID, "read": false, "deleted": false})
}

// CountBySender counts the visible messages a user has sent.
func (m *MessagesStore) CountBySender(ctx context.Context, userID string) (int64, error) {
	return m.count(ctx, "count by sender", bson.M{"sender": userID, "deleted": false})
}

func (m *MessagesStore) count(ctx context.Context, op string, filter bson.M) (int64, error) {
	ctx, cancel := bounded(ctx, m.timeout)
	defer cancel()

	n, err := m.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

// DeleteAllInRoom hard-deletes every message of a room. It is only used as
// the cascade of a room deletion.
func (m *MessagesStore) DeleteAllInRoom(ctx context.Context, roomID string) (int64, error) {
	ctx, cancel := bounded(ctx, m.timeout)
	defer cancel()

	res, err := m.coll.DeleteMany(ctx, bson.M{"room_id": roomID})
	if err != nil {
		return 0, storeErr("delete room messages", err)
	}
	return res.DeletedCount, nil
}
