// Package events provides the progress broadcaster for refresh cycles.
//
// The orchestrator publishes a progress event at every phase transition;
// observers (SSE and WebSocket handlers) subscribe and relay them. Publishing
// never blocks: each subscriber has a bounded channel and events are dropped
// for subscribers that fall behind.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/domain"
)

// Phase identifies where in a refresh cycle a progress event was emitted.
type Phase string

const (
	PhaseStarted    Phase = "started"
	PhaseFetching   Phase = "fetching"
	PhaseStoring    Phase = "storing"
	PhaseDatasetEnd Phase = "dataset_done"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether the phase ends the cycle. Streams close after
// relaying a terminal event.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Event is a single progress update for a refresh cycle.
type Event struct {
	CycleID   string         `json:"cycle_id"`
	Phase     Phase          `json:"phase"`
	Dataset   domain.Dataset `json:"dataset,omitempty"`
	Percent   int            `json:"percent"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

const subscriberBuffer = 100 // Buffer to prevent blocking

// Broadcaster fans progress events out to subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	log    zerolog.Logger
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan Event),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a new observer. The returned channel receives every
// event published after the call (subject to the drop policy). The cancel
// function removes the subscription and closes the channel; it is safe to
// call more than once.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers. Subscribers whose
// buffers are full miss the event; the publisher is never blocked.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn().
				Str("cycle_id", ev.CycleID).
				Str("phase", string(ev.Phase)).
				Msg("Subscriber channel full, dropping event")
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
