package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/data"
	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/realtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// caller returns the authenticated user attached by the auth interceptor.
func caller(ctx context.Context) (string, error) {
	userID, ok := userFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("missing session: %w", apperrors.ErrUnauthenticated)
	}
	return userID, nil
}

// GetOrCreateDirectRoom returns the caller's direct room with peerId.
func (s *Server) GetOrCreateDirectRoom(ctx context.Context, req *directRoomRequest) (roomView, error) {
	userID, err := caller(ctx)
	if err != nil {
		return roomView{}, err
	}
	room, err := s.chat.GetOrCreateDirectRoom(ctx, userID, req.PeerID)
	if err != nil {
		return roomView{}, err
	}
	return newRoomView(room), nil
}

// CreateGroupRoom creates a group of the caller and memberIds.
func (s *Server) CreateGroupRoom(ctx context.Context, req *groupRoomRequest) (roomView, error) {
	userID, err := caller(ctx)
	if err != nil {
		return roomView{}, err
	}
	room, err := s.chat.CreateGroupRoom(ctx, userID, req.MemberIDs)
	if err != nil {
		return roomView{}, err
	}
	return newRoomView(room), nil
}

func (s *Server) GetRoom(ctx context.Context, req *roomRequest) (roomView, error) {
	userID, err := caller(ctx)
	if err != nil {
		return roomView{}, err
	}
	room, err := s.chat.GetRoom(ctx, userID, req.RoomID)
	if err != nil {
		return roomView{}, err
	}
	return newRoomView(room), nil
}

// ListRooms returns a page of the caller's rooms, most recent activity first.
func (s *Server) ListRooms(ctx context.Context, req *pageRequest) (roomList, error) {
	userID, err := caller(ctx)
	if err != nil {
		return roomList{}, err
	}
	rooms, err := s.chat.ListRooms(ctx, userID, req.Page, req.Limit)
	if err != nil {
		return roomList{}, err
	}
	out := roomList{Rooms: make([]roomView, 0, len(rooms))}
	for _, r := range rooms {
		out.Rooms = append(out.Rooms, newListedRoomView(r))
	}
	return out, nil
}

func (s *Server) DeleteRoom(ctx context.Context, req *roomRequest) (empty, error) {
	userID, err := caller(ctx)
	if err != nil {
		return empty{}, err
	}
	return empty{}, s.chat.DeleteRoom(ctx, userID, req.RoomID)
}

// SendMessage stores a message and returns it once it has been fanned out.
func (s *Server) SendMessage(ctx context.Context, req *sendRequest) (realtime.MessageView, error) {
	userID, err := caller(ctx)
	if err != nil {
		return realtime.MessageView{}, err
	}
	msg, err := s.chat.SendMessage(ctx, chat.SendInput{
		Sender:    userID,
		RoomID:    req.RoomID,
		Body:      req.Body,
		MediaRef:  req.MediaRef,
		MediaKind: data.MediaKind(req.MediaKind),
	})
	if err != nil {
		return realtime.MessageView{}, err
	}
	return realtime.NewMessageView(msg), nil
}

// ListMessages returns one page of a room timeline, oldest first.
func (s *Server) ListMessages(ctx context.Context, req *pageRequest) (messageList, error) {
	userID, err := caller(ctx)
	if err != nil {
		return messageList{}, err
	}
	page, err := s.chat.ListMessages(ctx, userID, req.RoomID, req.Page, req.Limit)
	if err != nil {
		return messageList{}, err
	}
	out := messageList{
		Messages: make([]realtime.MessageView, 0, len(page.Messages)),
		HasMore:  page.HasMore,
		Total:    page.Total,
	}
	for _, m := range page.Messages {
		out.Messages = append(out.Messages, realtime.NewMessageView(m))
	}
	return out, nil
}

func (s *Server) MarkMessagesRead(ctx context.Context, req *markReadRequest) (readResult, error) {
	userID, err := caller(ctx)
	if err != nil {
		return readResult{}, err
	}
	ids, err := s.chat.MarkMessagesRead(ctx, userID, req.RoomID, req.MessageIDs)
	return readResult{MessageIDs: nonNil(ids)}, err
}

func (s *Server) MarkRoomRead(ctx context.Context, req *roomRequest) (readResult, error) {
	userID, err := caller(ctx)
	if err != nil {
		return readResult{}, err
	}
	ids, err := s.chat.MarkRoomRead(ctx, userID, req.RoomID)
	return readResult{MessageIDs: nonNil(ids)}, err
}

func (s *Server) MarkDelivered(ctx context.Context, req *messageRequest) (deliveredResult, error) {
	userID, err := caller(ctx)
	if err != nil {
		return deliveredResult{}, err
	}
	ok, err := s.chat.MarkDelivered(ctx, userID, req.MessageID)
	return deliveredResult{Delivered: ok}, err
}

func (s *Server) DeleteMessage(ctx context.Context, req *messageRequest) (empty, error) {
	userID, err := caller(ctx)
	if err != nil {
		return empty{}, err
	}
	return empty{}, s.chat.DeleteMessage(ctx, userID, req.MessageID)
}

func (s *Server) GetRoomUnread(ctx context.Context, req *roomRequest) (countResult, error) {
	userID, err := caller(ctx)
	if err != nil {
		return countResult{}, err
	}
	n, err := s.chat.RoomUnread(ctx, userID, req.RoomID)
	return countResult{Count: n}, err
}

func (s *Server) GetTotalUnread(ctx context.Context, _ *empty) (countResult, error) {
	userID, err := caller(ctx)
	if err != nil {
		return countResult{}, err
	}
	n, err := s.chat.TotalUnread(ctx, userID)
	return countResult{Count: n}, err
}

// GetRoomMessageCount returns how many visible messages a room holds.
func (s *Server) GetRoomMessageCount(ctx context.Context, req *roomRequest) (countResult, error) {
	userID, err := caller(ctx)
	if err != nil {
		return countResult{}, err
	}
	n, err := s.chat.RoomMessageCount(ctx, userID, req.RoomID)
	return countResult{Count: n}, err
}

func (s *Server) GetUserStats(ctx context.Context, _ *empty) (userStatsResult, error) {
	userID, err := caller(ctx)
	if err != nil {
		return userStatsResult{}, err
	}
	st, err := s.chat.UserStats(ctx, userID)
	return userStatsResult{Sent: st.Sent, UnreadDirect: st.UnreadDirect}, err
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// clientEvent is one inbound frame on the realtime stream.
type clientEvent struct {
	Type       string   `json:"type"`
	RequestID  string   `json:"requestId,omitempty"`
	RoomID     string   `json:"roomId,omitempty"`
	MessageID  string   `json:"messageId,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
	Body       string   `json:"body,omitempty"`
	MediaRef   string   `json:"mediaRef,omitempty"`
	MediaKind  string   `json:"mediaKind,omitempty"`
}

// eventStream is the subset of the bidirectional stream used by Connect.
type eventStream interface {
	Context() context.Context
	Recv() (*clientEvent, error)
	Send(realtime.Event) error
}

// received is one result of stream.Recv.
type received struct {
	req *clientEvent
	err error
}

// Connect serves one realtime connection. Outbound events are written by a
// single goroutine through the connection's outbox; a rejected request is
// answered with an error event and the stream stays open. A connection that
// cannot keep up with its events is closed with ResourceExhausted.
func (s *Server) Connect(stream eventStream) error {
	ctx := stream.Context()
	userID, err := caller(ctx)
	if err != nil {
		return apperrors.GRPCStatus(err)
	}

	out := realtime.NewOutbox(stream.Send, realtime.DefaultOutboxSize)
	writerCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := out.Run(writerCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("stream writer stopped", "user", userID, "error", err)
		}
	}()
	defer func() {
		cancel()
		// An evicted writer may be stuck in a send that only ends with the
		// stream itself.
		select {
		case <-out.Done():
		case <-out.Evicted():
		}
	}()

	conn, err := s.fanout.Connect(ctx, userID, out)
	if err != nil {
		return apperrors.GRPCStatus(err)
	}
	defer s.fanout.Disconnect(ctx, conn)
	s.logger.Info("realtime connection opened", "user", userID, "conn", conn.ID)

	reqs := make(chan received)
	go func() {
		for {
			req, err := stream.Recv()
			select {
			case reqs <- received{req: req, err: err}:
			case <-out.Done():
				return
			case <-out.Evicted():
				return
			}
			if err != nil && !apperrors.Is(err, apperrors.ErrInvalidArgument) {
				return
			}
		}
	}()

	for {
		var r received
		select {
		case <-out.Evicted():
			s.logger.Warn("closing slow realtime connection", "user", userID, "conn", conn.ID)
			return status.Error(codes.ResourceExhausted, "connection fell behind its events, reconnect")
		case <-out.Done():
			if ctx.Err() != nil {
				return nil
			}
			return status.Error(codes.Unavailable, "event stream closed")
		case r = <-reqs:
		}

		if errors.Is(r.err, io.EOF) {
			return nil
		}
		if r.err != nil {
			if apperrors.Is(r.err, apperrors.ErrInvalidArgument) {
				s.replyError(conn, "", r.err)
				continue
			}
			if status.Code(r.err) == codes.Canceled || errors.Is(r.err, context.Canceled) {
				return nil
			}
			return r.err
		}
		if err := s.dispatch(ctx, conn, r.req); err != nil {
			s.replyError(conn, r.req.RequestID, err)
		}
	}
}

func (s *Server) replyError(conn *realtime.Conn, requestID string, err error) {
	st := status.Convert(apperrors.GRPCStatus(err))
	if sendErr := s.fanout.ReplyError(conn, requestID, st.Code().String(), st.Message()); sendErr != nil {
		s.logger.Debug("error reply dropped", "conn", conn.ID, "error", sendErr)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *realtime.Conn, req *clientEvent) error {
	switch req.Type {
	case "join_room":
		if _, err := s.chat.GetRoom(ctx, conn.UserID, req.RoomID); err != nil {
			return err
		}
		return s.fanout.JoinRoom(ctx, conn, req.RoomID)
	case "leave_room":
		s.fanout.LeaveRoom(ctx, conn, req.RoomID)
	case "typing", "stop_typing":
		if !s.fanout.InRoom(conn, req.RoomID) {
			return fmt.Errorf("join room %q before typing: %w", req.RoomID, apperrors.ErrForbidden)
		}
		s.fanout.Typing(ctx, conn, req.RoomID, req.Type == "typing")
	case "send_message":
		_, err := s.chat.SendMessage(ctx, chat.SendInput{
			Sender:    conn.UserID,
			RoomID:    req.RoomID,
			Body:      req.Body,
			MediaRef:  req.MediaRef,
			MediaKind: data.MediaKind(req.MediaKind),
		})
		return err
	case "mark_read":
		_, err := s.chat.MarkMessagesRead(ctx, conn.UserID, req.RoomID, req.MessageIDs)
		return err
	case "mark_room_read":
		_, err := s.chat.MarkRoomRead(ctx, conn.UserID, req.RoomID)
		return err
	case "mark_delivered":
		_, err := s.chat.MarkDelivered(ctx, conn.UserID, req.MessageID)
		return err
	case "ping":
		return s.fanout.Reply(conn, realtime.Event{
			Type:    realtime.EventPong,
			Payload: map[string]string{"requestId": req.RequestID},
		})
	default:
		return fmt.Errorf("unknown event type %q: %w", req.Type, apperrors.ErrInvalidArgument)
	}
	return nil
}
