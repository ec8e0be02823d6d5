// Package chat exposes the room, message and counter operations consumed by
// the transport layer. It orders every write durable store first and only
// then fans out.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/data"
	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/normalize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MaxBodyLength is the longest accepted message body, in characters.
const MaxBodyLength = 4000

// Rooms is the room directory.
type Rooms interface {
	GetOrCreateDirect(ctx context.Context, a, b data.ParticipantRef) (*data.Room, error)
	CreateGroup(ctx context.Context, participants []data.ParticipantRef) (*data.Room, error)
	GetByID(ctx context.Context, roomID string) (*data.Room, error)
	ListForUser(ctx context.Context, userID string, page, limit int) ([]*data.Room, error)
	UpdateLastMessage(ctx context.Context, roomID string, msg *data.Message) error
	IncrementUnread(ctx context.Context, roomID, userID string) error
	ClearUnread(ctx context.Context, roomID, userID string) error
	GetUnread(ctx context.Context, roomID, userID string) (int64, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// Messages is the durable message log.
type Messages interface {
	Append(ctx context.Context, in data.NewMessage) (*data.Message, error)
	GetByID(ctx context.Context, id string) (*data.Message, error)
	List(ctx context.Context, roomID string, page, limit int) (*data.MessagePage, error)
	MarkRead(ctx context.Context, roomID string, ids []string, reader string) ([]string, error)
	MarkRoomRead(ctx context.Context, roomID, reader string) ([]string, error)
	MarkDelivered(ctx context.Context, id string) (bool, error)
	SoftDelete(ctx context.Context, id, requester string) (bool, error)
	CountInRoom(ctx context.Context, roomID string) (int64, error)
	CountUnreadForUser(ctx context.Context, userID string) (int64, error)
	CountBySender(ctx context.Context, userID string) (int64, error)
}

// Limiter throttles sends per user.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Totals sums a user's unread counters across rooms.
type Totals interface {
	GetTotalForUser(ctx context.Context, userID string) (int64, error)
}

// UserDirectory looks up user records owned by the account system.
type UserDirectory interface {
	GetUsersByIDs(ctx context.Context, ids []string) ([]*data.User, error)
	UserExists(ctx context.Context, id string) (bool, error)
}

// Broadcaster delivers events for durable changes to connected clients.
type Broadcaster interface {
	MessageCreated(ctx context.Context, room *data.Room, msg *data.Message)
	MessagesRead(ctx context.Context, room *data.Room, reader string, ids []string, wholeRoom bool)
	MessageDelivered(ctx context.Context, room *data.Room, msg *data.Message, by string)
	MessageDeleted(ctx context.Context, room *data.Room, messageID, by string)
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Rooms     Rooms
	Messages  Messages
	Limiter   Limiter
	Totals    Totals
	Users     UserDirectory
	Broadcast Broadcaster
	Logger    *slog.Logger
}

// Service implements the chat operations.
type Service struct {
	rooms     Rooms
	messages  Messages
	limiter   Limiter
	totals    Totals
	users     UserDirectory
	broadcast Broadcaster
	logger    *slog.Logger

	tracer trace.Tracer
	sent   metric.Int64Counter
}

// NewService wires a Service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	sent, _ := otel.Meter("roomchat/chat").Int64Counter("messages_sent_total",
		metric.WithDescription("Messages durably appended"))
	return &Service{
		rooms:     d.Rooms,
		messages:  d.Messages,
		limiter:   d.Limiter,
		totals:    d.Totals,
		users:     d.Users,
		broadcast: d.Broadcast,
		logger:    d.Logger,
		tracer:    otel.Tracer("roomchat/chat"),
		sent:      sent,
	}
}

// memberRoom loads a room and checks that userID participates in it.
func (s *Service) memberRoom(ctx context.Context, userID, roomID string) (*data.Room, error) {
	room, err := s.rooms.GetByID(ctx, normalize.ID(roomID))
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, fmt.Errorf("user %s not in room %s: %w", userID, roomID, apperrors.ErrForbidden)
	}
	return room, nil
}

// GetOrCreateDirectRoom returns the direct room between userID and peerID.
func (s *Service) GetOrCreateDirectRoom(ctx context.Context, userID, peerID string) (*data.Room, error) {
	peerID = normalize.ID(peerID)
	if peerID == "" {
		return nil, fmt.Errorf("peer id required: %w", apperrors.ErrInvalidArgument)
	}
	if s.users != nil && peerID != userID {
		ok, err := s.users.UserExists(ctx, peerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("user %s: %w", peerID, apperrors.ErrNotFound)
		}
	}
	return s.rooms.GetOrCreateDirect(ctx, data.ParticipantRef{ID: userID}, data.ParticipantRef{ID: peerID})
}

// CreateGroupRoom creates a group containing the creator and members.
func (s *Service) CreateGroupRoom(ctx context.Context, creatorID string, memberIDs []string) (*data.Room, error) {
	refs := append([]data.ParticipantRef{{ID: creatorID}}, data.RefsFromIDs(memberIDs)...)
	room, err := s.rooms.CreateGroup(ctx, refs)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "group room created", "room", room.ID, "creator", creatorID, "participants", len(room.Participants))
	return room, nil
}

// GetRoom returns a room the user participates in.
func (s *Service) GetRoom(ctx context.Context, userID, roomID string) (*data.Room, error) {
	return s.memberRoom(ctx, userID, roomID)
}

// RoomView is a room with the public profiles of its participants.
type RoomView struct {
	*data.Room
	Members map[string]*data.User
}

// ListRooms returns a page of the user's rooms with participant profiles.
// Profile lookup failures leave Members empty.
func (s *Service) ListRooms(ctx context.Context, userID string, page, limit int) ([]RoomView, error) {
	rooms, err := s.rooms.ListForUser(ctx, userID, page, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, r := range rooms {
		for _, p := range r.Participants {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				ids = append(ids, p)
			}
		}
	}

	profiles := make(map[string]*data.User, len(ids))
	if s.users != nil && len(ids) > 0 {
		users, err := s.users.GetUsersByIDs(ctx, ids)
		if err != nil {
			s.logger.WarnContext(ctx, "user lookup failed, listing rooms without profiles", "user", userID, "error", err)
		}
		for _, u := range users {
			profiles[u.ID.Hex()] = u
		}
	}

	out := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		members := make(map[string]*data.User, len(r.Participants))
		for _, p := range r.Participants {
			if u, ok := profiles[p]; ok {
				members[p] = u
			}
		}
		out = append(out, RoomView{Room: r, Members: members})
	}
	return out, nil
}

// DeleteRoom deletes a room the user participates in, with its messages.
func (s *Service) DeleteRoom(ctx context.Context, userID, roomID string) error {
	room, err := s.memberRoom(ctx, userID, roomID)
	if err != nil {
		return err
	}
	return s.rooms.DeleteRoom(ctx, room.ID)
}

// SendInput is a message send request.
type SendInput struct {
	Sender    string
	RoomID    string
	Body      string
	MediaRef  string
	MediaKind data.MediaKind
}

func (in SendInput) validate() error {
	if strings.TrimSpace(in.Body) == "" && in.MediaRef == "" {
		return fmt.Errorf("message needs a body or media: %w", apperrors.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(in.Body) > MaxBodyLength {
		return fmt.Errorf("message body longer than %d characters: %w", MaxBodyLength, apperrors.ErrInvalidArgument)
	}
	if in.MediaRef != "" && !in.MediaKind.Valid() {
		return fmt.Errorf("unknown media kind %q: %w", in.MediaKind, apperrors.ErrInvalidArgument)
	}
	return nil
}

// SendMessage appends a message and fans it out. The broadcast happens only
// after the append, the room summary and every unread increment succeeded.
// Once appended the send is finished even if ctx is cancelled.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (msg *data.Message, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.SendMessage", trace.WithAttributes(
		attribute.String("chat.room", in.RoomID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ctx, in.Sender); err != nil {
		return nil, err
	}

	room, err := s.memberRoom(ctx, in.Sender, in.RoomID)
	if err != nil {
		return nil, err
	}

	msg, err = s.messages.Append(ctx, data.NewMessage{
		RoomID:    room.ID,
		Sender:    in.Sender,
		Receiver:  room.Peer(in.Sender),
		Body:      in.Body,
		MediaRef:  in.MediaRef,
		MediaKind: in.MediaKind,
	})
	if err != nil {
		return nil, err
	}
	s.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(room.Kind))))

	ctx = context.WithoutCancel(ctx)
	if err := s.rooms.UpdateLastMessage(ctx, room.ID, msg); err != nil {
		return nil, err
	}
	for _, p := range room.Participants {
		if p == in.Sender {
			continue
		}
		if err := s.rooms.IncrementUnread(ctx, room.ID, p); err != nil {
			return nil, err
		}
	}

	s.broadcast.MessageCreated(ctx, room, msg)
	return msg, nil
}

// ListMessages returns a page of a room's timeline.
func (s *Service) ListMessages(ctx context.Context, userID, roomID string, page, limit int) (*data.MessagePage, error) {
	room, err := s.memberRoom(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	return s.messages.List(ctx, room.ID, page, limit)
}

// MarkMessagesRead marks messages addressed to reader as read and returns
// the ids that changed. The room's unread counter is left to MarkRoomRead.
func (s *Service) MarkMessagesRead(ctx context.Context, reader, roomID string, ids []string) ([]string, error) {
	room, err := s.memberRoom(ctx, reader, roomID)
	if err != nil {
		return nil, err
	}
	changed, err := s.messages.MarkRead(ctx, room.ID, ids, reader)
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.broadcast.MessagesRead(ctx, room, reader, changed, false)
	}
	return changed, nil
}

// MarkRoomRead marks everything addressed to reader in the room as read and
// clears the reader's unread counter.
func (s *Service) MarkRoomRead(ctx context.Context, reader, roomID string) ([]string, error) {
	room, err := s.memberRoom(ctx, reader, roomID)
	if err != nil {
		return nil, err
	}
	changed, err := s.messages.MarkRoomRead(ctx, room.ID, reader)
	if err != nil {
		return nil, err
	}
	if err := s.rooms.ClearUnread(ctx, room.ID, reader); err != nil {
		return nil, err
	}
	s.broadcast.MessagesRead(ctx, room, reader, changed, true)
	return changed, nil
}

// MarkDelivered records delivery of a message to a participant other than
// its sender. It reports whether the message changed.
func (s *Service) MarkDelivered(ctx context.Context, userID, messageID string) (bool, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return false, err
	}
	room, err := s.memberRoom(ctx, userID, msg.RoomID)
	if err != nil {
		return false, err
	}
	if msg.Sender == userID {
		return false, nil
	}

	changed, err := s.messages.MarkDelivered(ctx, messageID)
	if err != nil || !changed {
		return false, err
	}
	if msg, err = s.messages.GetByID(ctx, messageID); err != nil {
		s.logger.WarnContext(ctx, "reload after delivery failed", "message", messageID, "error", err)
		return true, nil
	}
	s.broadcast.MessageDelivered(ctx, room, msg, userID)
	return true, nil
}

// DeleteMessage soft-deletes a message owned by userID. Missing messages are
// NotFound and messages owned by someone else are Forbidden.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Sender != userID {
		return fmt.Errorf("message %s: %w", messageID, apperrors.ErrForbidden)
	}

	changed, err := s.messages.SoftDelete(ctx, messageID, userID)
	if err != nil || !changed {
		return err
	}

	room, err := s.rooms.GetByID(ctx, msg.RoomID)
	if err != nil {
		s.logger.WarnContext(ctx, "deleted message without room", "message", messageID, "room", msg.RoomID, "error", err)
		return nil
	}
	s.broadcast.MessageDeleted(ctx, room, messageID, userID)
	return nil
}

// RoomUnread returns the user's unread count for one room.
func (s *Service) RoomUnread(ctx context.Context, userID, roomID string) (int64, error) {
	room, err := s.memberRoom(ctx, userID, roomID)
	if err != nil {
		return 0, err
	}
	return s.rooms.GetUnread(ctx, room.ID, userID)
}

// TotalUnread returns the user's unread count across all rooms.
func (s *Service) TotalUnread(ctx context.Context, userID string) (int64, error) {
	return s.totals.GetTotalForUser(ctx, userID)
}

// RoomMessageCount returns the number of visible messages in a room the user
// participates in.
func (s *Service) RoomMessageCount(ctx context.Context, userID, roomID string) (int64, error) {
	room, err := s.memberRoom(ctx, userID, roomID)
	if err != nil {
		return 0, err
	}
	return s.messages.CountInRoom(ctx, room.ID)
}

// UserStats summarizes a user's message activity.
type UserStats struct {
	Sent         int64
	UnreadDirect int64
}

// UserStats counts the visible messages the user sent and the unread direct
// messages addressed to them.
func (s *Service) UserStats(ctx context.Context, userID string) (UserStats, error) {
	sent, err := s.messages.CountBySender(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	unread, err := s.messages.CountUnreadForUser(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	return UserStats{Sent: sent, UnreadDirect: unread}, nil
}
