// Package rooms resolves and creates chat rooms and owns their participant
// lists and last-message summaries.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/data"
	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/normalize"
	"github.com/google/uuid"
)

// Store persists room records.
type Store interface {
	Insert(ctx context.Context, room *data.Room) error
	GetByID(ctx context.Context, id string) (*data.Room, error)
	ListForUser(ctx context.Context, userID string, page, limit int) ([]*data.Room, error)
	UpdateLastMessage(ctx context.Context, roomID string, summary data.LastMessageSummary) error
	Delete(ctx context.Context, roomID string) (bool, error)
}

// MessageRemover hard-deletes a room's messages on room deletion.
type MessageRemover interface {
	DeleteAllInRoom(ctx context.Context, roomID string) (int64, error)
}

// Counters is the unread counter service.
type Counters interface {
	Increment(ctx context.Context, roomID, userID string) error
	Clear(ctx context.Context, roomID, userID string) error
	Get(ctx context.Context, roomID, userID string) (int64, error)
	Counts(ctx context.Context, roomID string, userIDs []string) (map[string]int64, error)
	DeleteRoom(ctx context.Context, roomID string, participants []string) error
}

// Directory is the room directory.
type Directory struct {
	store    Store
	messages MessageRemover
	unread   Counters
	logger   *slog.Logger
}

// NewDirectory wires a Directory.
func NewDirectory(store Store, messages MessageRemover, unread Counters, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: store, messages: messages, unread: unread, logger: logger}
}

// GetOrCreateDirect returns the direct room between a and b, creating it on
// first contact. Both argument orders resolve to the same room, and a
// concurrent creation by the other side is returned rather than reported.
func (d *Directory) GetOrCreateDirect(ctx context.Context, a, b data.ParticipantRef) (*data.Room, error) {
	userA, userB := a.Resolve(), b.Resolve()
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("direct room needs two user ids: %w", apperrors.ErrInvalidArgument)
	}
	if userA == userB {
		return nil, fmt.Errorf("direct room with yourself: %w", apperrors.ErrInvalidArgument)
	}

	id := data.DirectRoomID(userA, userB)
	room, err := d.store.GetByID(ctx, id)
	switch {
	case err == nil:
		return d.withCounts(ctx, room), nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	pair := normalize.Pair(userA, userB)
	room = &data.Room{
		ID:           id,
		Kind:         data.RoomDirect,
		Participants: []string{pair[0], pair[1]},
	}
	if err := d.store.Insert(ctx, room); err != nil {
		if !errors.Is(err, data.ErrDuplicate) {
			return nil, err
		}
		d.logger.DebugContext(ctx, "direct room created concurrently", "room", id)
		if room, err = d.store.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}
	return d.withCounts(ctx, room), nil
}

// CreateGroup creates a new group room. At least two distinct participants
// are required; every call produces a new room.
func (d *Directory) CreateGroup(ctx context.Context, participants []data.ParticipantRef) (*data.Room, error) {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.Resolve())
	}
	ids = normalize.IDs(ids)
	if len(ids) < 2 {
		return nil, fmt.Errorf("group room needs at least 2 participants, got %d: %w", len(ids), apperrors.ErrInvalidArgument)
	}

	room := &data.Room{
		ID:           "grp_" + uuid.NewString(),
		Kind:         data.RoomGroup,
		Participants: ids,
	}
	if err := d.store.Insert(ctx, room); err != nil {
		return nil, err
	}
	return d.withCounts(ctx, room), nil
}

// GetByID returns a room with its unread counts.
func (d *Directory) GetByID(ctx context.Context, roomID string) (*data.Room, error) {
	room, err := d.store.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return d.withCounts(ctx, room), nil
}

// ListForUser returns a page of the user's rooms, most recently active first.
func (d *Directory) ListForUser(ctx context.Context, userID string, page, limit int) ([]*data.Room, error) {
	rooms, err := d.store.ListForUser(ctx, userID, page, limit)
	if err != nil {
		return nil, err
	}
	for _, r := range rooms {
		d.withCounts(ctx, r)
	}
	return rooms, nil
}

// withCounts fills the derived unread view. Counter failures leave the view
// empty rather than failing the read.
func (d *Directory) withCounts(ctx context.Context, room *data.Room) *data.Room {
	counts, err := d.unread.Counts(ctx, room.ID, room.Participants)
	if err != nil {
		d.logger.WarnContext(ctx, "unread counts unavailable", "room", room.ID, "error", err)
		counts = map[string]int64{}
	}
	room.UnreadCounts = counts
	return room
}

// UpdateLastMessage records msg as the room's latest message.
func (d *Directory) UpdateLastMessage(ctx context.Context, roomID string, msg *data.Message) error {
	return d.store.UpdateLastMessage(ctx, roomID, data.LastMessageSummary{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Text:      msg.Preview(),
		SentAt:    msg.CreatedAt,
	})
}

func (d *Directory) IncrementUnread(ctx context.Context, roomID, userID string) error {
	return d.unread.Increment(ctx, roomID, userID)
}

func (d *Directory) ClearUnread(ctx context.Context, roomID, userID string) error {
	return d.unread.Clear(ctx, roomID, userID)
}

func (d *Directory) GetUnread(ctx context.Context, roomID, userID string) (int64, error) {
	return d.unread.Get(ctx, roomID, userID)
}

// DeleteRoom removes a room along with its messages and counters.
func (d *Directory) DeleteRoom(ctx context.Context, roomID string) error {
	room, err := d.store.GetByID(ctx, roomID)
	if err != nil {
		return err
	}

	n, err := d.messages.DeleteAllInRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := d.unread.DeleteRoom(ctx, roomID, room.Participants); err != nil {
		return err
	}
	deleted, err := d.store.Delete(ctx, roomID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("room %s: %w", roomID, apperrors.ErrNotFound)
	}

	d.logger.InfoContext(ctx, "room deleted", "room", roomID, "messages", n)
	return nil
}
