package data

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/db"
)

// setupDB connects to the integration database and drops its collections.
// Tests using it are skipped unless MONGODB_URI is set.
func setupDB(t *testing.T) *db.Client {
	t.Helper()

	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "chat_db_test")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}

	// ensure clean collections in case previous runs left data
	_ = c.RoomsCollection().Drop(ctx)
	_ = c.MessagesCollection().Drop(ctx)
	_ = c.UnreadCollection().Drop(ctx)
	_ = c.UsersCollection().Drop(ctx)

	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}

	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

const testTimeout = 5 * time.Second
