// Package presence tracks which users are online and which rooms they are
// actively viewing. State lives only in Redis and may be lost on restart.
//
// Membership is counted per connection: a user with two connections in the
// same room stays active until both have left or disconnected.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a room membership survives without a refresh.
const DefaultTTL = time.Hour

const onlineKey = "presence:online"

func roomKey(roomID string) string      { return "presence:room:" + roomID }
func connRoomsKey(connID string) string { return "presence:conn:" + connID + ":rooms" }
func connOnlineKey(connID string) string {
	return "presence:conn:" + connID + ":online"
}

// markOnline registers a connection once and returns the user's live
// connection count, or 0 if this connection was already registered.
var markOnline = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
	return redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
end
return 0
`)

// markOffline unregisters a connection once and returns the user's remaining
// connection count, or -1 if the connection was not registered.
var markOffline = redis.NewScript(`
if redis.call('DEL', KEYS[1]) == 1 then
	local n = redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
	if n <= 0 then
		redis.call('HDEL', KEYS[2], ARGV[1])
		return 0
	end
	return n
end
return -1
`)

// activeUsers drops expired members of a room and counts the distinct users
// left. Members are "user|conn" scored by their expiry in unix milliseconds.
const activeUsers = `
local function active(key, now)
	redis.call('ZREMRANGEBYSCORE', key, '-inf', now)
	local seen, n = {}, 0
	for _, m in ipairs(redis.call('ZRANGE', key, 0, -1)) do
		local u = string.match(m, '^(.*)|[^|]*$')
		if not seen[u] then
			seen[u] = true
			n = n + 1
		end
	end
	return n
end
`

// joinRoom records the connection in the room and refreshes the expiry of
// this membership only. Returns the number of distinct active users.
var joinRoom = redis.NewScript(activeUsers + `
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return active(KEYS[2], ARGV[4])
`)

// leaveRoom removes the connection from the room if it had joined.
// Returns the number of distinct active users left in the room.
var leaveRoom = redis.NewScript(activeUsers + `
redis.call('SREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return active(KEYS[2], ARGV[3])
`)

var activeCount = redis.NewScript(activeUsers + `
return active(KEYS[1], ARGV[1])
`)

func member(userID, connID string) string { return userID + "|" + connID }

// Tracker is the presence tracker.
type Tracker struct {
	rdb     redis.Cmdable
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewTracker returns a Tracker whose room memberships expire after ttl
// without a refresh. Each Redis call is bounded by timeout.
func NewTracker(rdb redis.Cmdable, ttl, timeout time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if timeout <= 0 {
		timeout = 150 * time.Millisecond
	}
	return &Tracker{rdb: rdb, ttl: ttl, timeout: timeout, now: time.Now}
}

// MarkOnline registers a connection and reports whether it is the user's
// first live connection.
func (t *Tracker) MarkOnline(ctx context.Context, userID, connID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	n, err := markOnline.Run(ctx, t.rdb, []string{connOnlineKey(connID), onlineKey}, userID).Int64()
	if err != nil {
		return false, fmt.Errorf("mark online %s: %w", userID, err)
	}
	return n == 1, nil
}

// MarkOffline unregisters a connection and reports whether it was the
// user's last live connection.
func (t *Tracker) MarkOffline(ctx context.Context, userID, connID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	n, err := markOffline.Run(ctx, t.rdb, []string{connOnlineKey(connID), onlineKey}, userID).Int64()
	if err != nil {
		return false, fmt.Errorf("mark offline %s: %w", userID, err)
	}
	return n == 0, nil
}

// IsOnline reports whether the user has at least one live connection.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ok, err := t.rdb.HExists(ctx, onlineKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("is online %s: %w", userID, err)
	}
	return ok, nil
}

// JoinRoom marks the connection active in the room, refreshing its TTL, and
// returns the room's active user count. A membership that is not refreshed
// within the TTL expires on its own, whatever other members do.
func (t *Tracker) JoinRoom(ctx context.Context, userID, connID, roomID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	now := t.now()
	n, err := joinRoom.Run(ctx, t.rdb,
		[]string{connRoomsKey(connID), roomKey(roomID)},
		roomID, member(userID, connID), t.ttl.Milliseconds(), now.UnixMilli(), now.Add(t.ttl).UnixMilli(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("join room %s: %w", roomID, err)
	}
	return n, nil
}

// LeaveRoom removes the connection from the room and returns the room's
// active user count.
func (t *Tracker) LeaveRoom(ctx context.Context, userID, connID, roomID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	n, err := leaveRoom.Run(ctx, t.rdb,
		[]string{connRoomsKey(connID), roomKey(roomID)},
		roomID, member(userID, connID), t.now().UnixMilli(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("leave room %s: %w", roomID, err)
	}
	return n, nil
}

// ActiveCount returns the number of distinct users active in the room.
func (t *Tracker) ActiveCount(ctx context.Context, roomID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	n, err := activeCount.Run(ctx, t.rdb, []string{roomKey(roomID)}, t.now().UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("active count %s: %w", roomID, err)
	}
	return n, nil
}

// RoomCount is a room the connection left during cleanup and the number of
// users still active there.
type RoomCount struct {
	RoomID string
	Active int64
}

// Cleanup is the result of CleanupConnection.
type Cleanup struct {
	Rooms       []RoomCount
	WentOffline bool
}

// CleanupConnection removes the connection from every room it joined and
// from the online set. Calling it again for the same connection is a no-op.
func (t *Tracker) CleanupConnection(ctx context.Context, userID, connID string) (Cleanup, error) {
	var out Cleanup

	lctx, cancel := context.WithTimeout(ctx, t.timeout)
	rooms, err := t.rdb.SMembers(lctx, connRoomsKey(connID)).Result()
	cancel()
	if err != nil {
		return out, fmt.Errorf("cleanup %s: %w", connID, err)
	}

	for _, roomID := range rooms {
		n, err := t.LeaveRoom(ctx, userID, connID, roomID)
		if err != nil {
			return out, err
		}
		out.Rooms = append(out.Rooms, RoomCount{RoomID: roomID, Active: n})
	}

	dctx, cancel := context.WithTimeout(ctx, t.timeout)
	err = t.rdb.Del(dctx, connRoomsKey(connID)).Err()
	cancel()
	if err != nil {
		return out, fmt.Errorf("cleanup %s: %w", connID, err)
	}

	out.WentOffline, err = t.MarkOffline(ctx, userID, connID)
	return out, err
}
