package data

import (
	"context"
	"fmt"
	"sync"
	"testing"

	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
)

func TestMessagesPagination(t *testing.T) {
	c := setupDB(t)
	msgs := NewMessagesStore(c.MessagesCollection(), testTimeout)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if _, err := msgs.Append(ctx, NewMessage{RoomID: "r1", Sender: "alice", Receiver: "bob", Body: fmt.Sprintf("m%02d", i)}); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	first, err := msgs.List(ctx, "r1", 1, 20)
	if err != nil {
		t.Fatalf("List page 1 failed: %v", err)
	}
	if !first.HasMore || first.Total != 50 || len(first.Messages) != 20 {
		t.Fatalf("page 1: hasMore=%v total=%d len=%d", first.HasMore, first.Total, len(first.Messages))
	}
	// ascending display order: last element is the newest message
	if first.Messages[19].Body != "m49" || first.Messages[0].Body != "m30" {
		t.Fatalf("page 1 order wrong: first=%s last=%s", first.Messages[0].Body, first.Messages[19].Body)
	}

	second, err := msgs.List(ctx, "r1", 2, 20)
	if err != nil {
		t.Fatalf("List page 2 failed: %v", err)
	}
	seen := map[string]bool{}
	for _, m := range first.Messages {
		seen[m.ID.Hex()] = true
	}
	for _, m := range second.Messages {
		if seen[m.ID.Hex()] {
			t.Fatalf("message %s appears on both pages", m.ID.Hex())
		}
	}

	third, err := msgs.List(ctx, "r1", 3, 20)
	if err != nil {
		t.Fatalf("List page 3 failed: %v", err)
	}
	if third.HasMore || len(third.Messages) != 10 {
		t.Fatalf("page 3: hasMore=%v len=%d", third.HasMore, len(third.Messages))
	}
}

func TestMessagesMarkReadIdempotent(t *testing.T) {
	c := setupDB(t)
	msgs := NewMessagesStore(c.MessagesCollection(), testTimeout)
	ctx := context.Background()

	m1, _ := msgs.Append(ctx, NewMessage{RoomID: "r1", Sender: "alice", Receiver: "bob", Body: "hi"})
	m2, _ := msgs.Append(ctx, NewMessage{RoomID: "r1", Sender: "bob", Receiver: "alice", Body: "hey"})

	ids := []string{m1.ID.Hex(), m2.ID.Hex()}
	changed, err := msgs.MarkRead(ctx, "r1", ids, "bob")
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	// only the message addressed to bob changes
	if len(changed) != 1 || changed[0] != m1.ID.Hex() {
		t.Fatalf("expected only m1 to change, got %v", changed)
	}

	again, err := msgs.MarkRead(ctx, "r1", ids, "bob")
	if err != nil {
		t.Fatalf("second MarkRead failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second MarkRead changed %v", again)
	}

	got, _ := msgs.GetByID(ctx, m1.ID.Hex())
	if !got.Read || got.ReadAt == nil {
		t.Fatalf("m1 not marked read: %+v", got)
	}
}

func TestMessagesMarkReadScopedToRoom(t *testing.T) {
	c := setupDB(t)
	msgs := NewMessagesStore(c.MessagesCollection(), testTimeout)
	ctx := context.Background()

	elsewhere, _ := msgs.Append(ctx, NewMessage{RoomID: "r2", Sender: "carol", Receiver: "bob", Body: "psst"})

	changed, err := msgs.MarkRead(ctx, "r1", []string{elsewhere.ID.Hex()}, "bob")
	if err != nil || len(changed) != 0 {
		t.Fatalf("MarkRead across rooms = %v, %v", changed, err)
	}
	if got, _ := msgs.GetByID(ctx, elsewhere.ID.Hex()); got.Read {
		t.Fatal("message of another room was marked read")
	}
}

func TestMessagesConcurrentReadersReportEachIDOnce(t *testing.T) {
	c := setupDB(t)
	msgs := NewMessagesStore(c.MessagesCollection(), testTimeout)
	ctx := context.Background()

	const n = 40
	for i := 0; i < n; i++ {
		if _, err := msgs.Append(ctx, NewMessage{RoomID: "r1", Sender: "alice", Receiver: "bob", Body: "hi"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := msgs.MarkRoomRead(ctx, "r1", "bob")
			if err != nil {
				t.Errorf("MarkRoomRead failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				seen[id]++
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d distinct ids across readers, got %d", n, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("id %s reported by %d readers", id, count)
		}
	}
}

func TestMessagesSoftDelete(t *testing.T) {
	c := setupDB(t)
	msgs := NewMessagesStore(c.MessagesCollection(), testTimeout)
	ctx := context.Background()

	m, _ := msgs.Append(ctx, NewMessage{RoomID: "r1", Sender: "alice", Receiver: "bob", Body: "secret"})

	ok, err := msgs.SoftDelete(ctx, m.ID.Hex(), "bob")
	if err != nil || ok {
		t.Fatalf("delete by non-sender: ok=%v err=%v", ok, err)
	}
	page, _ := msgs.List(ctx, "r1", 1, 20)
	if len(page.Messages) != 1 {
		t.Fatalf("message should remain visible, got %d", len(page.Messages))
	}

	ok, err = msgs.SoftDelete(ctx, m.ID.Hex(), "alice")
	if err != nil || !ok {
		t.Fatalf("delete by sender: ok=%v err=%v", ok, err)
	}
	page, _ = msgs.List(ctx, "r1", 1, 20)
	if len(page.Messages) != 0 || page.Total != 0 {
		t.Fatalf("deleted message still listed: %+v", page)
	}
}

func TestMessagesMarkDeliveredAndCounts(t *testing.T) {
	c := setupDB(t)
	msgs := NewMessagesStore(c.MessagesCollection(), testTimeout)
	ctx := context.Background()

	m, _ := msgs.Append(ctx, NewMessage{RoomID: "r1", Sender: "alice", Receiver: "bob", Body: "hi"})

	changed, err := msgs.MarkDelivered(ctx, m.ID.Hex())
	if err != nil || !changed {
		t.Fatalf("first MarkDelivered: changed=%v err=%v", changed, err)
	}
	changed, err = msgs.MarkDelivered(ctx, m.ID.Hex())
	if err != nil || changed {
		t.Fatalf("second MarkDelivered should be a no-op: changed=%v err=%v", changed, err)
	}

	if n, _ := msgs.CountUnreadForUser(ctx, "bob"); n != 1 {
		t.Fatalf("expected 1 unread for bob, got %d", n)
	}
	if n, _ := msgs.CountBySender(ctx, "alice"); n != 1 {
		t.Fatalf("expected 1 sent by alice, got %d", n)
	}
	if n, _ := msgs.DeleteAllInRoom(ctx, "r1"); n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	if n, _ := msgs.CountInRoom(ctx, "r1"); n != 0 {
		t.Fatalf("expected empty room, got %d", n)
	}

	if _, err := msgs.GetByID(ctx, m.ID.Hex()); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after cascade, got %v", err)
	}
}
