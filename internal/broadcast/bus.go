// Package broadcast is the local event bus that tells open admin and public
// pages a section changed, so they can refresh without polling.
//
// Delivery is best effort. Events are not stored: a subscriber only sees
// events published after it subscribed, and a subscriber that falls behind
// loses events instead of slowing down publishers.
package broadcast

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shuklalaw/sitecms/internal/clock"
	"github.com/shuklalaw/sitecms/internal/content"
)

// TypeContentUpdated is the only event type published today.
const TypeContentUpdated = "content-updated"

const defaultBuffer = 16

// Event announces that a section was saved.
type Event struct {
	Type      string           `json:"type"`
	Section   string           `json:"section"`
	Data      content.Document `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

// Bus fans events out to subscribers. The zero value is not usable; use New.
type Bus struct {
	clock  clock.Clock
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

// New creates a bus. Each subscriber gets a private queue of buffer events.
func New(clk clock.Clock, logger *zap.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		clock:  clk,
		logger: logger,
		buffer: buffer,
		subs:   make(map[uint64]*subscriber),
	}
}

// Publish delivers a content-updated event for section to every current
// subscriber without blocking. The document is copied.
func (b *Bus) Publish(section string, doc content.Document) {
	ev := Event{
		Type:      TypeContentUpdated,
		Section:   section,
		Data:      doc.Clone(),
		Timestamp: b.clock.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.subs) == 0 {
		b.logger.Debug("broadcast dropped, no subscribers", zap.String("section", section))
		return
	}
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("broadcast subscriber is behind, event dropped",
				zap.Uint64("subscriber", id), zap.String("section", section))
		}
	}
}

// Subscribe calls handler for every event published from now on, in order,
// on a dedicated goroutine. The returned function unsubscribes; it is safe to
// call more than once and from inside handler.
func (b *Bus) Subscribe(handler func(Event)) (cancel func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			handler(ev)
		}
	}()

	return func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Publishing afterwards is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}
