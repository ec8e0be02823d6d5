package realtime

import (
	"context"
	"errors"
	"sync"
)

// ErrSlowConsumer is returned when a connection's outbox is full.
var ErrSlowConsumer = errors.New("realtime: connection outbox full")

// ErrClosed is returned when sending to a closed outbox.
var ErrClosed = errors.New("realtime: connection closed")

// DefaultOutboxSize is the number of events buffered per connection.
const DefaultOutboxSize = 64

// Outbox serializes writes to one client stream. Send never blocks; Run
// drains the queue with write until ctx is done or write fails.
//
// A Send that finds the queue full evicts the connection: Evicted is closed
// and the owner is expected to end the stream.
type Outbox struct {
	queue  chan Event
	write  func(Event) error
	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	evictOnce sync.Once
	evicted   chan struct{}
}

// NewOutbox returns an outbox writing through write.
func NewOutbox(write func(Event) error, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		queue: make(chan Event, size),
		write:   write,
		done:    make(chan struct{}),
		evicted: make(chan struct{}),
	}
}

// Send queues ev for the writer.
func (o *Outbox) Send(ev Event) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.queue <- ev:
		return nil
	default:
		o.evictOnce.Do(func() { close(o.evicted) })
		return ErrSlowConsumer
	}
}

// Run writes queued events until ctx is cancelled or a write fails. The
// outbox is closed when Run returns.
func (o *Outbox) Run(ctx context.Context) error {
	defer o.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.evicted:
			return ErrSlowConsumer
		case ev := <-o.queue:
			if err := o.write(ev); err != nil {
				return err
			}
		}
	}
}

func (o *Outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.done)
	}
}

// Done is closed once the writer has stopped.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Evicted is closed once the outbox has overflowed. The writer may still be
// blocked in a write at that point.
func (o *Outbox) Evicted() <-chan struct{} { return o.evicted }
