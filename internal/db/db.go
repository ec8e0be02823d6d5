// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db holds the rooms, messages, unread_counters and users collections
	db *mongo.Database
}

// New connects to MongoDB and returns a Client bound to the named database.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	// SetConnectTimeout: fail fast if MongoDB is unreachable
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if database == "" {
		database = "chat_db"
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// RoomsCollection returns the rooms collection.
func (c *Client) RoomsCollection() *mongo.Collection {
	return c.db.Collection("rooms")
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// UnreadCollection returns the unread_counters collection. Each document is
// the durable counter for one (room, user) pair.
func (c *Client) UnreadCollection() *mongo.Collection {
	return c.db.Collection("unread_counters")
}

// UsersCollection returns the users collection. It is owned by the account
// service; this module only reads display names from it.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores rely on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== ROOMS =====
	// participants + updated_at backs ListForUser (newest activity first)
	_, err := c.RoomsCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create rooms index: %w", err)
	}

	// ===== MESSAGES =====
	messageIndexes := []mongo.IndexModel{
		{
			// room timeline, newest first with _id as tie-breaker
			Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
		},
		{
			// unread queries by receiver
			Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "read", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "sender", Value: 1}},
		},
	}
	if _, err := c.MessagesCollection().Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	// ===== UNREAD COUNTERS =====
	// _id is "room:user"; user_id lets operators inspect a user's counters
	_, err = c.UnreadCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create unread index: %w", err)
	}

	return nil
}
