package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/presence"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func newTestFanout(t *testing.T) (*Fanout, *Hub) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hub := NewHub()
	return NewFanout(hub, nil, presence.NewTracker(rdb, time.Hour, 100*time.Millisecond), nil), hub
}

func TestFanout_OnlineOfflineOnFirstAndLastConnection(t *testing.T) {
	f, _ := newTestFanout(t)
	ctx := context.Background()

	watcher := &fakeSender{}
	_, _ = f.Connect(ctx, "carol", watcher)

	c1, _ := f.Connect(ctx, "alice", &fakeSender{})
	c2, _ := f.Connect(ctx, "alice", &fakeSender{})
	if n := watcher.count(EventUserOnline); n != 1 {
		t.Fatalf("expected one user_online, got %d", n)
	}

	f.Disconnect(ctx, c1)
	if watcher.count(EventUserOffline) != 0 {
		t.Fatal("alice still has a connection")
	}
	f.Disconnect(ctx, c2)
	f.Disconnect(ctx, c2)
	if n := watcher.count(EventUserOffline); n != 1 {
		t.Fatalf("expected exactly one user_offline, got %d", n)
	}
}

func TestFanout_JoinLeaveCounts(t *testing.T) {
	f, _ := newTestFanout(t)
	ctx := context.Background()

	a := &fakeSender{}
	b := &fakeSender{}
	ca, _ := f.Connect(ctx, "alice", a)
	cb, _ := f.Connect(ctx, "bob", b)

	if err := f.JoinRoom(ctx, ca, "r1"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if err := f.JoinRoom(ctx, cb, "r1"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if a.count(EventUserJoinedRoom) != 1 {
		t.Fatalf("alice should see bob join: %v", a.types())
	}
	if b.count(EventUserJoinedRoom) != 0 {
		t.Fatal("joining connection should not see its own join")
	}
	if b.count(EventRoomActiveCount) != 1 {
		t.Fatal("joining connection should receive the active count")
	}
	active := int64(-1)
	for _, ev := range b.events {
		if p, ok := ev.Payload.(CountPayload); ok && ev.Type == EventRoomActiveCount {
			active = p.Active
		}
	}
	if active != 2 {
		t.Fatalf("expected 2 active users, got %d", active)
	}

	f.Disconnect(ctx, cb)
	if a.count(EventUserLeftRoom) != 1 {
		t.Fatalf("disconnect should emit user_left_room, got %v", a.types())
	}
}

func TestFanout_MessageReachesParticipantsOnce(t *testing.T) {
	f, _ := newTestFanout(t)
	ctx := context.Background()

	viewer := &fakeSender{}
	away := &fakeSender{}
	stranger := &fakeSender{}
	cv, _ := f.Connect(ctx, "alice", viewer)
	_, _ = f.Connect(ctx, "bob", away)
	_, _ = f.Connect(ctx, "mallory", stranger)
	_ = f.JoinRoom(ctx, cv, "r1")

	room := &data.Room{ID: "r1", Participants: []string{"alice", "bob"}}
	msg := &data.Message{ID: bson.NewObjectID(), RoomID: "r1", Sender: "alice", Receiver: "bob", Body: "hi", CreatedAt: time.Now()}
	f.MessageCreated(ctx, room, msg)

	if viewer.count(EventNewMessage) != 1 {
		t.Fatalf("viewer subscribed twice should receive once, got %v", viewer.types())
	}
	if away.count(EventNewMessage) != 1 {
		t.Fatal("participant not viewing the room should receive on the personal channel")
	}
	if stranger.count(EventNewMessage) != 0 {
		t.Fatal("non-participant must not receive the message")
	}

	f.MessagesRead(ctx, room, "bob", nil, true)
	if viewer.count(EventRoomRead) != 1 {
		t.Fatalf("sender should see room_read, got %v", viewer.types())
	}
}

func TestFanout_DeliveryNamesDeliverer(t *testing.T) {
	f, _ := newTestFanout(t)
	ctx := context.Background()

	sender := &fakeSender{}
	_, _ = f.Connect(ctx, "alice", sender)

	room := &data.Room{ID: "grp_1", Kind: data.RoomGroup, Participants: []string{"alice", "bob", "carol"}}
	msg := &data.Message{ID: bson.NewObjectID(), RoomID: room.ID, Sender: "alice", Body: "hi", CreatedAt: time.Now()}
	f.MessageDelivered(ctx, room, msg, "carol")

	var got []Event
	for _, ev := range sender.events {
		if ev.Type == EventMessageDelivered {
			got = append(got, ev)
		}
	}
	if len(got) != 1 || got[0].UserID != "carol" {
		t.Fatalf("expected one delivery by carol, got %+v", got)
	}
}

func TestFanout_TypingSkipsSender(t *testing.T) {
	f, _ := newTestFanout(t)
	ctx := context.Background()

	a, b := &fakeSender{}, &fakeSender{}
	ca, _ := f.Connect(ctx, "alice", a)
	cb, _ := f.Connect(ctx, "bob", b)
	_ = f.JoinRoom(ctx, ca, "r1")
	_ = f.JoinRoom(ctx, cb, "r1")

	f.Typing(ctx, ca, "r1", true)
	f.Typing(ctx, ca, "r1", false)
	if a.count(EventTyping) != 0 || b.count(EventTyping) != 1 || b.count(EventStopTyping) != 1 {
		t.Fatalf("unexpected typing delivery: alice=%v bob=%v", a.types(), b.types())
	}

	if !f.InRoom(cb, "r1") {
		t.Fatal("bob joined r1")
	}
	f.LeaveRoom(ctx, cb, "r1")
	if f.InRoom(cb, "r1") {
		t.Fatal("bob left r1")
	}
	f.Typing(ctx, ca, "r1", true)
	if b.count(EventTyping) != 1 {
		t.Fatal("bob left the room and should not see typing")
	}
}

type downPresence struct{}

var errDown = errors.New("redis down")

func (downPresence) MarkOnline(context.Context, string, string) (bool, error) { return false, errDown }
func (downPresence) JoinRoom(context.Context, string, string, string) (int64, error) {
	return 0, errDown
}
func (downPresence) LeaveRoom(context.Context, string, string, string) (int64, error) {
	return 0, errDown
}
func (downPresence) CleanupConnection(context.Context, string, string) (presence.Cleanup, error) {
	return presence.Cleanup{}, errDown
}

func TestFanout_PresenceFailureDoesNotBlockDelivery(t *testing.T) {
	hub := NewHub()
	f := NewFanout(hub, nil, downPresence{}, nil)
	ctx := context.Background()

	a, b := &fakeSender{}, &fakeSender{}
	ca, err := f.Connect(ctx, "alice", a)
	if err != nil {
		t.Fatalf("connect should succeed without presence: %v", err)
	}
	cb, _ := f.Connect(ctx, "bob", b)
	if err := f.JoinRoom(ctx, ca, "r1"); err != nil {
		t.Fatalf("join should succeed without presence: %v", err)
	}
	_ = f.JoinRoom(ctx, cb, "r1")

	room := &data.Room{ID: "r1", Participants: []string{"alice", "bob"}}
	f.MessageDeleted(ctx, room, "m1", "alice")
	if a.count(EventMessageDeleted) != 1 || b.count(EventMessageDeleted) != 1 {
		t.Fatal("message_deleted should reach both participants")
	}

	f.Disconnect(ctx, ca)
	if hub.Connections() != 1 {
		t.Fatalf("disconnect must unregister even when presence fails, got %d", hub.Connections())
	}
}
