package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/presence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PresenceTracker is the subset of presence.Tracker the fanout drives.
type PresenceTracker interface {
	MarkOnline(ctx context.Context, userID, connID string) (bool, error)
	JoinRoom(ctx context.Context, userID, connID, roomID string) (int64, error)
	LeaveRoom(ctx context.Context, userID, connID, roomID string) (int64, error)
	CleanupConnection(ctx context.Context, userID, connID string) (presence.Cleanup, error)
}

// Conn is one authenticated client connection.
type Conn struct {
	ID     string
	UserID string

	once sync.Once
}

// Fanout ties connection lifecycle to presence and routes domain events to
// the right channels. Presence failures are logged and never block delivery.
type Fanout struct {
	hub      *Hub
	bus      Bus
	presence PresenceTracker
	logger   *slog.Logger
	events   metric.Int64Counter
}

// NewFanout returns a Fanout publishing through bus. If bus is nil events are
// delivered to hub directly.
func NewFanout(hub *Hub, bus Bus, tracker PresenceTracker, logger *slog.Logger) *Fanout {
	if bus == nil {
		bus = NewLocalBus(hub)
	}
	if logger == nil {
		logger = slog.Default()
	}
	events, _ := otel.Meter("roomchat/realtime").Int64Counter("realtime_events_total",
		metric.WithDescription("Events published to connected clients"))
	return &Fanout{hub: hub, bus: bus, presence: tracker, logger: logger, events: events}
}

func (f *Fanout) publish(ctx context.Context, channels []string, ev Event, except string) {
	f.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", ev.Type)))
	if err := f.bus.Publish(ctx, channels, ev, except); err != nil {
		f.logger.WarnContext(ctx, "event delivery incomplete", "type", ev.Type, "room", ev.RoomID, "error", err)
	}
}

// Connect registers a connection for userID, subscribes it to the user's
// personal channel and announces the user if this is their first connection.
func (f *Fanout) Connect(ctx context.Context, userID string, s Sender) (*Conn, error) {
	c := &Conn{ID: f.hub.Register(userID, s), UserID: userID}
	if err := f.hub.Subscribe(c.ID, UserChannel(userID)); err != nil {
		return nil, err
	}
	if err := f.hub.Subscribe(c.ID, presenceChannel); err != nil {
		return nil, err
	}

	_ = f.hub.SendTo(c.ID, newEvent(EventConnected, "", userID, map[string]string{"connectionId": c.ID}))

	first, err := f.presence.MarkOnline(ctx, userID, c.ID)
	if err != nil {
		f.logger.WarnContext(ctx, "presence unavailable on connect", "user", userID, "error", err)
		return c, nil
	}
	if first {
		f.publish(ctx, []string{presenceChannel}, newEvent(EventUserOnline, "", userID, nil), c.ID)
	}
	return c, nil
}

// Disconnect releases everything the connection held. It runs at most once
// per connection and completes even if ctx is already cancelled.
func (f *Fanout) Disconnect(ctx context.Context, c *Conn) {
	c.once.Do(func() {
		ctx := context.WithoutCancel(ctx)
		f.hub.Unregister(c.ID)

		res, err := f.presence.CleanupConnection(ctx, c.UserID, c.ID)
		if err != nil {
			f.logger.WarnContext(ctx, "presence cleanup failed", "user", c.UserID, "conn", c.ID, "error", err)
		}
		for _, r := range res.Rooms {
			f.publish(ctx, []string{RoomChannel(r.RoomID)},
				newEvent(EventUserLeftRoom, r.RoomID, c.UserID, CountPayload{Active: r.Active}), "")
		}
		if res.WentOffline {
			f.publish(ctx, []string{presenceChannel}, newEvent(EventUserOffline, "", c.UserID, nil), "")
		}
	})
}

// JoinRoom subscribes the connection to the room channel, records presence,
// tells the connection the room's active count and notifies the room.
// Callers check room membership first.
func (f *Fanout) JoinRoom(ctx context.Context, c *Conn, roomID string) error {
	if err := f.hub.Subscribe(c.ID, RoomChannel(roomID)); err != nil {
		return err
	}

	n, err := f.presence.JoinRoom(ctx, c.UserID, c.ID, roomID)
	if err != nil {
		f.logger.WarnContext(ctx, "presence unavailable on join", "user", c.UserID, "room", roomID, "error", err)
		f.publish(ctx, []string{RoomChannel(roomID)}, newEvent(EventUserJoinedRoom, roomID, c.UserID, nil), c.ID)
		return nil
	}

	_ = f.hub.SendTo(c.ID, newEvent(EventRoomActiveCount, roomID, "", CountPayload{Active: n}))
	f.publish(ctx, []string{RoomChannel(roomID)},
		newEvent(EventUserJoinedRoom, roomID, c.UserID, CountPayload{Active: n}), c.ID)
	return nil
}

// LeaveRoom unsubscribes the connection from the room channel and notifies
// the room.
func (f *Fanout) LeaveRoom(ctx context.Context, c *Conn, roomID string) {
	f.hub.Unsubscribe(c.ID, RoomChannel(roomID))

	var payload any
	n, err := f.presence.LeaveRoom(ctx, c.UserID, c.ID, roomID)
	if err != nil {
		f.logger.WarnContext(ctx, "presence unavailable on leave", "user", c.UserID, "room", roomID, "error", err)
	} else {
		payload = CountPayload{Active: n}
	}
	f.publish(ctx, []string{RoomChannel(roomID)}, newEvent(EventUserLeftRoom, roomID, c.UserID, payload), "")
}

// InRoom reports whether the connection has joined the room.
func (f *Fanout) InRoom(c *Conn, roomID string) bool {
	return f.hub.Subscribed(c.ID, RoomChannel(roomID))
}

// Typing relays a typing indicator to everyone else viewing the room.
func (f *Fanout) Typing(ctx context.Context, c *Conn, roomID string, typing bool) {
	typ := EventStopTyping
	if typing {
		typ = EventTyping
	}
	f.publish(ctx, []string{RoomChannel(roomID)}, newEvent(typ, roomID, c.UserID, nil), c.ID)
}

// Reply sends an event to a single connection.
func (f *Fanout) Reply(c *Conn, ev Event) error {
	if ev.At == 0 {
		ev = newEvent(ev.Type, ev.RoomID, ev.UserID, ev.Payload)
	}
	return f.hub.SendTo(c.ID, ev)
}

// ErrorPayload describes a rejected client request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

// ReplyError sends an error event to a single connection.
func (f *Fanout) ReplyError(c *Conn, request, code, msg string) error {
	return f.hub.SendTo(c.ID, newEvent(EventError, "", "", ErrorPayload{Code: code, Message: msg, Request: request}))
}

// roomTargets is the room channel plus each participant's personal channel,
// so participants not viewing the room still receive the event.
func roomTargets(room *data.Room) []string {
	out := make([]string, 0, len(room.Participants)+1)
	out = append(out, RoomChannel(room.ID))
	for _, p := range room.Participants {
		out = append(out, UserChannel(p))
	}
	return out
}

// MessageCreated announces a stored message.
func (f *Fanout) MessageCreated(ctx context.Context, room *data.Room, msg *data.Message) {
	f.publish(ctx, roomTargets(room), newEvent(EventNewMessage, room.ID, msg.Sender, NewMessageView(msg)), "")
}

// MessagesRead announces read receipts. wholeRoom selects room_read over
// messages_read.
func (f *Fanout) MessagesRead(ctx context.Context, room *data.Room, reader string, ids []string, wholeRoom bool) {
	typ := EventMessagesRead
	if wholeRoom {
		typ = EventRoomRead
	}
	if ids == nil {
		ids = []string{}
	}
	f.publish(ctx, roomTargets(room), newEvent(typ, room.ID, reader, ReadPayload{Reader: reader, MessageIDs: ids}), "")
}

// MessageDelivered announces that by received msg.
func (f *Fanout) MessageDelivered(ctx context.Context, room *data.Room, msg *data.Message, by string) {
	f.publish(ctx, roomTargets(room), newEvent(EventMessageDelivered, room.ID, by, NewMessageView(msg)), "")
}

// MessageDeleted announces a soft delete.
func (f *Fanout) MessageDeleted(ctx context.Context, room *data.Room, messageID, by string) {
	f.publish(ctx, roomTargets(room), newEvent(EventMessageDeleted, room.ID, by, map[string]string{"messageId": messageID}), "")
}
