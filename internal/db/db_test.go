package db

import (
	"context"
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func connectTestDB(t *testing.T) *Client {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := New(ctx, uri, "chat_db_index_test")
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	t.Cleanup(func() {
		_ = c.db.Drop(context.Background())
		_ = c.Close(context.Background())
	})
	return c
}

func indexNames(t *testing.T, coll *mongo.Collection) map[string]bool {
	t.Helper()
	cur, err := coll.Indexes().List(context.Background())
	if err != nil {
		t.Fatalf("list indexes of %s: %v", coll.Name(), err)
	}
	var specs []bson.M
	if err := cur.All(context.Background(), &specs); err != nil {
		t.Fatalf("decode indexes of %s: %v", coll.Name(), err)
	}
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		if n, ok := s["name"].(string); ok {
			names[n] = true
		}
	}
	return names
}

func TestCreateIndexesIsIdempotent(t *testing.T) {
	c := connectTestDB(t)
	ctx := context.Background()

	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("second CreateIndexes failed: %v", err)
	}

	want := map[*mongo.Collection][]string{
		c.RoomsCollection():    {"participants_1_updated_at_-1"},
		c.MessagesCollection(): {"room_id_1_created_at_-1__id_-1", "receiver_1_read_1", "sender_1"},
		c.UnreadCollection():   {"user_id_1"},
	}
	for coll, names := range want {
		got := indexNames(t, coll)
		for _, n := range names {
			if !got[n] {
				t.Errorf("%s: missing index %s (have %v)", coll.Name(), n, got)
			}
		}
	}
}
