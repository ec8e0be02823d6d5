package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Bus carries events to every process holding connections.
type Bus interface {
	Publish(ctx context.Context, channels []string, ev Event, except string) error
}

// LocalBus delivers straight to the in-process hub. Use it when only one
// instance serves clients.
type LocalBus struct {
	hub *Hub
}

// NewLocalBus returns a bus that delivers to hub.
func NewLocalBus(hub *Hub) *LocalBus {
	return &LocalBus{hub: hub}
}

func (b *LocalBus) Publish(_ context.Context, channels []string, ev Event, except string) error {
	_, err := b.hub.Deliver(channels, ev, except)
	return err
}

const subjectPrefix = "chat.fanout."

type envelope struct {
	Channels []string `json:"channels"`
	Except   string   `json:"except,omitempty"`
	Event    Event    `json:"event"`
}

// NATSBus publishes events on NATS. Every instance subscribes without a queue
// group so each one delivers to its own connections.
type NATSBus struct {
	nc     *nats.Conn
	hub    *Hub
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSBus subscribes to the fanout subjects and delivers what arrives to hub.
func NewNATSBus(nc *nats.Conn, hub *Hub, logger *slog.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &NATSBus{nc: nc, hub: hub, logger: logger}

	sub, err := nc.Subscribe(subjectPrefix+">", b.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s>: %w", subjectPrefix, err)
	}
	b.sub = sub
	return b, nil
}

func (b *NATSBus) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("invalid fanout envelope", "subject", msg.Subject, "error", err)
		return
	}
	if _, err := b.hub.Deliver(env.Channels, env.Event, env.Except); err != nil {
		b.logger.Debug("fanout delivery failed", "subject", msg.Subject, "error", err)
	}
}

func (b *NATSBus) Publish(_ context.Context, channels []string, ev Event, except string) error {
	data, err := json.Marshal(envelope{Channels: channels, Except: except, Event: ev})
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	if err := b.nc.Publish(subjectPrefix+ev.Type, data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close removes the subscription.
func (b *NATSBus) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}
