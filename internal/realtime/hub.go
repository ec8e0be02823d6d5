// Package realtime routes events to connected clients: connection lifecycle,
// channel membership and broadcast.
package realtime

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sender defines the minimal interface the hub needs from a connection: the
// ability to push an event to the connected client.
type Sender interface {
	Send(Event) error
}

type hubConn struct {
	userID   string
	sender   Sender
	channels map[string]struct{}
}

// Hub manages the connections of this process and the channels they are
// subscribed to. A connection may be subscribed to many channels; an event
// published to several channels reaches each connection at most once.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*hubConn
	channels map[string]map[string]struct{}
}

// NewHub creates a new hub instance.
func NewHub() *Hub {
	return &Hub{
		conns:    make(map[string]*hubConn),
		channels: make(map[string]map[string]struct{}),
	}
}

// Register adds a connection for userID and returns its connection id. The
// connection is not subscribed to any channel yet.
func (h *Hub) Register(userID string, s Sender) string {
	id := uuid.NewString()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = &hubConn{userID: userID, sender: s, channels: make(map[string]struct{})}
	return id
}

// Subscribe adds the connection to a channel.
func (h *Hub) Subscribe(connID, channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return fmt.Errorf("connection %s not registered", connID)
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]struct{})
	}
	h.channels[channel][connID] = struct{}{}
	c.channels[channel] = struct{}{}
	return nil
}

// Unsubscribe removes the connection from a channel.
func (h *Hub) Unsubscribe(connID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[connID]; ok {
		delete(c.channels, channel)
	}
	h.removeFromChannel(connID, channel)
}

// Unregister removes a connection and all of its subscriptions. It reports
// whether the connection was registered.
func (h *Hub) Unregister(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	for ch := range c.channels {
		h.removeFromChannel(connID, ch)
	}
	delete(h.conns, connID)
	return true
}

func (h *Hub) removeFromChannel(connID, channel string) {
	if members, ok := h.channels[channel]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Deliver sends ev to every local connection subscribed to any of channels,
// once per connection, skipping the connection named by except. It returns
// the number of connections reached and the first send error. Connections
// that fail to receive are unregistered so stale streams do not linger.
func (h *Hub) Deliver(channels []string, ev Event, except string) (int, error) {
	h.mu.RLock()
	targets := make(map[string]Sender)
	for _, ch := range channels {
		for id := range h.channels[ch] {
			if id == except {
				continue
			}
			if c, ok := h.conns[id]; ok {
				targets[id] = c.sender
			}
		}
	}
	h.mu.RUnlock()

	var firstErr error
	var failedIDs []string
	delivered := 0

	for id, s := range targets {
		if err := s.Send(ev); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
			continue
		}
		delivered++
	}

	for _, id := range failedIDs {
		h.Unregister(id)
	}
	return delivered, firstErr
}

// SendTo delivers ev to one connection.
func (h *Hub) SendTo(connID string, ev Event) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s not registered", connID)
	}
	if err := c.sender.Send(ev); err != nil {
		h.Unregister(connID)
		return err
	}
	return nil
}

// Subscribed reports whether the connection is on channel.
func (h *Hub) Subscribed(connID, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channel][connID]
	return ok
}

// Subscribers returns the number of local connections on a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
