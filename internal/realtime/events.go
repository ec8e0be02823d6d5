package realtime

import (
	"time"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/data"
)

// Outbound event names.
const (
	EventConnected        = "connected"
	EventUserOnline       = "user_online"
	EventUserOffline      = "user_offline"
	EventRoomActiveCount  = "room_active_count"
	EventUserJoinedRoom   = "user_joined_room"
	EventUserLeftRoom     = "user_left_room"
	EventNewMessage       = "new_message"
	EventTyping           = "typing"
	EventStopTyping       = "stop_typing"
	EventMessagesRead     = "messages_read"
	EventRoomRead         = "room_read"
	EventMessageDelivered = "message_delivered"
	EventMessageDeleted   = "message_deleted"
	EventError            = "error"
	EventPong             = "pong"
)

// Event is one message pushed to connected clients.
type Event struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Payload any    `json:"payload,omitempty"`
	At      int64  `json:"at"`
}

func newEvent(typ, roomID, userID string, payload any) Event {
	return Event{Type: typ, RoomID: roomID, UserID: userID, Payload: payload, At: time.Now().UnixMilli()}
}

// Channel names.
func UserChannel(userID string) string { return "user:" + userID }
func RoomChannel(roomID string) string { return "room:" + roomID }

// presenceChannel is joined by every connection and carries online/offline events.
const presenceChannel = "presence"

// MessageView is the wire form of a stored message.
type MessageView struct {
	ID          string `json:"id"`
	RoomID      string `json:"roomId"`
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver,omitempty"`
	Body        string `json:"body,omitempty"`
	MediaRef    string `json:"mediaRef,omitempty"`
	MediaKind   string `json:"mediaKind,omitempty"`
	CreatedAt   string `json:"createdAt"`
	DeliveredAt string `json:"deliveredAt,omitempty"`
	ReadAt      string `json:"readAt,omitempty"`
	Read        bool   `json:"read"`
}

// NewMessageView converts a stored message for clients.
func NewMessageView(m *data.Message) MessageView {
	v := MessageView{
		ID:        m.ID.Hex(),
		RoomID:    m.RoomID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Body:      m.Body,
		MediaRef:  m.MediaRef,
		MediaKind: string(m.MediaKind),
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		Read:      m.Read,
	}
	if m.DeliveredAt != nil {
		v.DeliveredAt = m.DeliveredAt.UTC().Format(time.RFC3339Nano)
	}
	if m.ReadAt != nil {
		v.ReadAt = m.ReadAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// ReadPayload lists the messages a reader has just read.
type ReadPayload struct {
	Reader     string   `json:"reader"`
	MessageIDs []string `json:"messageIds"`
}

// CountPayload carries a room's active user count.
type CountPayload struct {
	Active int64 `json:"active"`
}
