// Package events implements the engine's broadcast event bus: a bounded,
// per-subscriber channel with drop-oldest-on-lag semantics, so a slow
// subscriber never blocks a publisher and loses the oldest event it missed
// rather than the newest.
package events

import (
	"sync"
	"time"

	"lanxfer/internal/models"
)

// Kind tags the variant of an EngineEvent.
type Kind string

const (
	KindTransferRequest Kind = "TransferRequest"
	KindProgress        Kind = "Progress"
	KindTransferComplete Kind = "TransferComplete"
	KindTransferFailed  Kind = "TransferFailed"
	KindTransferRetry   Kind = "TransferRetry"
	KindServerStarted   Kind = "ServerStarted"
	KindServerStopped   Kind = "ServerStopped"
	KindPortChanged     Kind = "PortChanged"
)

// Event is a tagged union of everything the engine can publish. Only the
// fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind `json:"type"`
	Time time.Time `json:"time"`

	Transfer   *models.PendingTransfer  `json:"transfer,omitempty"`
	Progress   *models.TransferProgress `json:"progress,omitempty"`
	TransferID string                   `json:"transfer_id,omitempty"`
	Error      string                   `json:"error,omitempty"`

	Attempt     int `json:"attempt,omitempty"`
	MaxAttempts int `json:"max_attempts,omitempty"`

	Port    int `json:"port,omitempty"`
	OldPort int `json:"old_port,omitempty"`
	NewPort int `json:"new_port,omitempty"`
}

const (
	// DefaultCapacity is the default per-subscriber channel buffer.
	DefaultCapacity = 128
)

// Bus is a multi-producer, multi-subscriber broadcast channel. Publish never
// blocks: a subscriber that falls behind has its oldest buffered event
// evicted to make room for the new one.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	capacity    int
	closed      bool
}

// NewBus creates a bus with the given per-subscriber buffer capacity. A
// non-positive capacity falls back to DefaultCapacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subscribers: make(map[int]chan Event),
		capacity:    capacity,
	}
}

// Subscription is a handle returned by Subscribe; call Close to unsubscribe.
type Subscription struct {
	id     int
	ch     chan Event
	bus    *Bus
}

// Events returns the receive-only channel of events for this subscription.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes and releases the underlying channel.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a new receiver. Subscribers hold only the receive end
// of the channel; the bus owns the send end.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.capacity)
	if !b.closed {
		b.subscribers[id] = ch
	} else {
		close(ch)
	}
	return &Subscription{id: id, ch: ch, bus: b}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish fans an event out to every subscriber without blocking. If a
// subscriber's buffer is full, its oldest queued event is dropped to make
// room — the bus never blocks the publisher and never applies backpressure
// upstream.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Full: drop the oldest buffered event, then push the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
