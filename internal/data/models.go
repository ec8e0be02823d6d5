package data

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/normalize"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// RoomKind distinguishes two-party rooms from multi-party rooms.
type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

// MediaKind is the kind of attachment a message carries.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	return k == MediaImage || k == MediaVideo
}

// LastMessageSummary is the denormalized preview kept on a room.
type LastMessageSummary struct {
	MessageID bson.ObjectID `bson:"message_id"`
	Sender    string        `bson:"sender"`
	Text      string        `bson:"text"`
	SentAt    time.Time     `bson:"sent_at"`
}

// Room maps to the rooms collection.
type Room struct {
	ID           string              `bson:"_id"`
	Kind         RoomKind            `bson:"kind"`
	Participants []string            `bson:"participants"`
	LastMessage  *LastMessageSummary `bson:"last_message,omitempty"`
	// UnreadCounts is filled from the unread counter service on read and is
	// never written to the rooms collection.
	UnreadCounts map[string]int64 `bson:"-"`
	CreatedAt    time.Time        `bson:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at"`
}

// HasParticipant reports whether userID belongs to the room.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant of a direct room, or "" for groups.
func (r *Room) Peer(userID string) string {
	if r.Kind != RoomDirect {
		return ""
	}
	for _, p := range r.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// Message maps to the messages collection.
type Message struct {
	ID     bson.ObjectID `bson:"_id,omitempty"`
	RoomID string        `bson:"room_id"`
	Sender string        `bson:"sender"`
	// Receiver is only set for direct rooms; unread queries still filter on it.
	Receiver    string     `bson:"receiver,omitempty"`
	Body        string     `bson:"body,omitempty"`
	MediaRef    string     `bson:"media_ref,omitempty"`
	MediaKind   MediaKind  `bson:"media_kind,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	DeliveredAt *time.Time `bson:"delivered_at"`
	ReadAt      *time.Time `bson:"read_at"`
	Read        bool       `bson:"read"`
	Deleted     bool       `bson:"deleted"`
}

// Preview returns the text shown in a room's last message summary.
func (m *Message) Preview() string {
	if m.Body != "" {
		return m.Body
	}
	switch m.MediaKind {
	case MediaImage:
		return "[image]"
	case MediaVideo:
		return "[video]"
	}
	return ""
}

// MessagePage is one page of a room timeline in ascending display order.
type MessagePage struct {
	Messages []*Message
	HasMore  bool
	Total    int64
}

// User is the subset of the users collection this module reads.
type User struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	Email       string        `bson:"email"`
	DisplayName string        `bson:"display_name"`
	AvatarURL   string        `bson:"avatar_url"`
}

// ParticipantRef names a participant either by id or by an already loaded
// user record. It is resolved to a plain id at the room directory boundary.
type ParticipantRef struct {
	ID   string
	User *User
}

// Resolve returns the participant's user id.
func (p ParticipantRef) Resolve() string {
	if p.User != nil && !p.User.ID.IsZero() {
		return p.User.ID.Hex()
	}
	return normalize.ID(p.ID)
}

// RefsFromIDs wraps plain ids as participant refs.
func RefsFromIDs(ids []string) []ParticipantRef {
	refs := make([]ParticipantRef, len(ids))
	for i, id := range ids {
		refs[i] = ParticipantRef{ID: id}
	}
	return refs
}

// DirectRoomID derives the id of the direct room between two users. The pair
// is sorted first so both sides compute the same id.
func DirectRoomID(a, b string) string {
	pair := normalize.Pair(a, b)
	sum := sha256.Sum256([]byte(pair[0] + ":" + pair[1]))
	return "dm_" + hex.EncodeToString(sum[:16])
}

// now returns the current time at the precision MongoDB stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
