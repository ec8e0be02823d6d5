package main

import (
	"time"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/realtime"
)

type directRoomRequest struct {
	PeerID string `json:"peerId"`
}

type groupRoomRequest struct {
	MemberIDs []string `json:"memberIds"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type pageRequest struct {
	RoomID string `json:"roomId,omitempty"`
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
}

type sendRequest struct {
	RoomID    string `json:"roomId"`
	Body      string `json:"body"`
	MediaRef  string `json:"mediaRef"`
	MediaKind string `json:"mediaKind"`
}

type markReadRequest struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

type messageRequest struct {
	MessageID string `json:"messageId"`
}

type empty struct{}

type summaryView struct {
	MessageID string `json:"messageId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	SentAt    string `json:"sentAt"`
}

type memberView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type roomView struct {
	ID           string           `json:"id"`
	Kind         string           `json:"kind"`
	Participants []string         `json:"participants"`
	LastMessage  *summaryView     `json:"lastMessage,omitempty"`
	UnreadCounts map[string]int64 `json:"unreadCounts"`
	Members      []memberView     `json:"members,omitempty"`
	CreatedAt    string           `json:"createdAt"`
	UpdatedAt    string           `json:"updatedAt"`
}

func newRoomView(r *data.Room) roomView {
	v := roomView{
		ID:           r.ID,
		Kind:         string(r.Kind),
		Participants: r.Participants,
		UnreadCounts: r.UnreadCounts,
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if v.UnreadCounts == nil {
		v.UnreadCounts = map[string]int64{}
	}
	if lm := r.LastMessage; lm != nil {
		v.LastMessage = &summaryView{
			MessageID: lm.MessageID.Hex(),
			Sender:    lm.Sender,
			Text:      lm.Text,
			SentAt:    lm.SentAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return v
}

func newListedRoomView(rv chat.RoomView) roomView {
	v := newRoomView(rv.Room)
	for _, p := range rv.Participants {
		m := memberView{ID: p}
		if u, ok := rv.Members[p]; ok {
			m.DisplayName = u.DisplayName
			m.AvatarURL = u.AvatarURL
		}
		v.Members = append(v.Members, m)
	}
	return v
}

type roomList struct {
	Rooms []roomView `json:"rooms"`
}

type messageList struct {
	Messages []realtime.MessageView `json:"messages"`
	HasMore  bool                   `json:"hasMore"`
	Total    int64                  `json:"total"`
}

type readResult struct {
	MessageIDs []string `json:"messageIds"`
}

type deliveredResult struct {
	Delivered bool `json:"delivered"`
}

type countResult struct {
	Count int64 `json:"count"`
}

type userStatsResult struct {
	Sent         int64 `json:"sent"`
	UnreadDirect int64 `json:"unreadDirect"`
}
