// Package unread maintains per-(room, user) unread counters. The durable
// store is the authority; Redis only accelerates reads.
package unread

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/cache"
)

// DurableCounters is the authoritative counter store. Increment must be an
// atomic primitive of the store, never a read-modify-write.
type DurableCounters interface {
	Increment(ctx context.Context, roomID, userID string) (int64, error)
	Clear(ctx context.Context, roomID, userID string) error
	Get(ctx context.Context, roomID, userID string) (int64, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// RoomLister pages through the ids of the rooms a user participates in.
type RoomLister interface {
	ListIDsForUser(ctx context.Context, userID string, offset, limit int64) ([]string, error)
}

// totalPageSize is how many room ids GetTotalForUser fetches per round trip.
const totalPageSize = 100

// Service is the unread counter service.
type Service struct {
	durable DurableCounters
	cache   *cache.Accelerator
	rooms   RoomLister
	logger  *slog.Logger
}

// NewService wires the counter service. rooms may be nil if GetTotalForUser
// is not needed.
func NewService(durable DurableCounters, accel *cache.Accelerator, rooms RoomLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{durable: durable, cache: accel, rooms: rooms, logger: logger}
}

// Key returns the cache key of a counter.
func Key(roomID, userID string) string {
	return "unread:" + roomID + ":" + userID
}

// Increment adds one unread message for userID in roomID.
func (s *Service) Increment(ctx context.Context, roomID, userID string) error {
	if _, err := s.durable.Increment(ctx, roomID, userID); err != nil {
		return fmt.Errorf("increment unread %s/%s: %w", roomID, userID, err)
	}
	s.cache.IncrIfPresent(ctx, Key(roomID, userID))
	return nil
}

// Clear resets the counter to zero.
func (s *Service) Clear(ctx context.Context, roomID, userID string) error {
	if err := s.durable.Clear(ctx, roomID, userID); err != nil {
		return fmt.Errorf("clear unread %s/%s: %w", roomID, userID, err)
	}
	s.cache.Invalidate(ctx, Key(roomID, userID))
	return nil
}

// Get returns the counter, from cache when possible.
func (s *Service) Get(ctx context.Context, roomID, userID string) (int64, error) {
	n, err := s.cache.GetInt(ctx, Key(roomID, userID), func(ctx context.Context) (int64, error) {
		return s.durable.Get(ctx, roomID, userID)
	})
	if err != nil {
		return 0, fmt.Errorf("get unread %s/%s: %w", roomID, userID, err)
	}
	return n, nil
}

// GetTotalForUser sums the user's counters over every room they are in.
func (s *Service) GetTotalForUser(ctx context.Context, userID string) (int64, error) {
	if s.rooms == nil {
		return 0, fmt.Errorf("total unread: no room lister configured")
	}

	var total int64
	for offset := int64(0); ; offset += totalPageSize {
		ids, err := s.rooms.ListIDsForUser(ctx, userID, offset, totalPageSize)
		if err != nil {
			return 0, fmt.Errorf("total unread for %s: %w", userID, err)
		}
		for _, roomID := range ids {
			n, err := s.Get(ctx, roomID, userID)
			if err != nil {
				return 0, err
			}
			total += n
		}
		if len(ids) < totalPageSize {
			return total, nil
		}
	}
}

// Counts returns the counter of every user in userIDs for one room.
func (s *Service) Counts(ctx context.Context, roomID string, userIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(userIDs))
	for _, uid := range userIDs {
		n, err := s.Get(ctx, roomID, uid)
		if err != nil {
			return nil, err
		}
		counts[uid] = n
	}
	return counts, nil
}

// DeleteRoom drops every counter of a deleted room. participants names the
// cache keys to invalidate.
func (s *Service) DeleteRoom(ctx context.Context, roomID string, participants []string) error {
	if err := s.durable.DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("delete unread for room %s: %w", roomID, err)
	}
	keys := make([]string, 0, len(participants))
	for _, uid := range participants {
		keys = append(keys, Key(roomID, uid))
	}
	s.cache.Invalidate(ctx, keys...)
	return nil
}
