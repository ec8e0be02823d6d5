package main

import (
	"context"
	"log/slog"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/realtime"
)

// chatAPI is the subset of chat.Service the handlers call.
type chatAPI interface {
	GetOrCreateDirectRoom(ctx context.Context, userID, peerID string) (*data.Room, error)
	CreateGroupRoom(ctx context.Context, creatorID string, memberIDs []string) (*data.Room, error)
	GetRoom(ctx context.Context, userID, roomID string) (*data.Room, error)
	ListRooms(ctx context.Context, userID string, page, limit int) ([]chat.RoomView, error)
	DeleteRoom(ctx context.Context, userID, roomID string) error
	SendMessage(ctx context.Context, in chat.SendInput) (*data.Message, error)
	ListMessages(ctx context.Context, userID, roomID string, page, limit int) (*data.MessagePage, error)
	MarkMessagesRead(ctx context.Context, reader, roomID string, ids []string) ([]string, error)
	MarkRoomRead(ctx context.Context, reader, roomID string) ([]string, error)
	MarkDelivered(ctx context.Context, userID, messageID string) (bool, error)
	DeleteMessage(ctx context.Context, userID, messageID string) error
	RoomUnread(ctx context.Context, userID, roomID string) (int64, error)
	TotalUnread(ctx context.Context, userID string) (int64, error)
	RoomMessageCount(ctx context.Context, userID, roomID string) (int64, error)
	UserStats(ctx context.Context, userID string) (chat.UserStats, error)
}

// Server implements the chat services on top of the chat core and the
// realtime fanout.
type Server struct {
	chat   chatAPI
	fanout *realtime.Fanout
	logger *slog.Logger
}

// newServer returns a ready-to-use Server.
func newServer(svc chatAPI, fanout *realtime.Fanout, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{chat: svc, fanout: fanout, logger: logger}
}
