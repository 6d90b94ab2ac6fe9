// Package monitor exposes the running receiver over HTTP: a health probe, a
// snapshot of active sessions and a websocket feed of finished sessions.
package monitor

import (
	"sync"
	"time"

	"github.com/sheerbytes/fragd/internal/transfer"
)

const EventSessionFinished = "session_finished"

// Event is one message on the /events feed.
type Event struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	Client     string    `json:"client"`
	Filename   string    `json:"filename,omitempty"`
	Path       string    `json:"path,omitempty"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Accepted   int64     `json:"accepted"`
	Total      int64     `json:"total"`
	Bytes      int64     `json:"bytes"`
	RateBps    float64   `json:"rate_bps"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// EventFromOutcome converts a session outcome for the feed.
func EventFromOutcome(o transfer.Outcome) Event {
	ev := Event{
		Type:       EventSessionFinished,
		SessionID:  o.SessionID,
		Client:     o.Client,
		Filename:   o.Filename,
		Path:       o.Path,
		Success:    o.Success,
		Reason:     string(o.Reason),
		Accepted:   o.Accepted,
		Total:      o.Total,
		Bytes:      o.Bytes,
		RateBps:    o.RateBps,
		StartedAt:  o.StartedAt,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	return ev
}

type subscriber struct {
	send chan Event
	done chan struct{}
}

// Hub fans events out to websocket subscribers. Slow subscribers miss
// events rather than block the sessions producing them.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]*subscriber)}
}

// Add registers a subscriber. send is called from a dedicated goroutine, one
// event at a time; the first error stops delivery. The returned function
// unregisters the subscriber and waits briefly for its writer to exit.
func (h *Hub) Add(id string, send func(Event) error) (remove func()) {
	sub := &subscriber{
		send: make(chan Event, 64),
		done: make(chan struct{}),
	}
	go func() {
		defer close(sub.done)
		for ev := range sub.send {
			if err := send(ev); err != nil {
				return
			}
		}
	}()

	h.mu.Lock()
	if old, ok := h.subs[id]; ok {
		close(old.send)
	}
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if h.subs[id] != sub {
				h.mu.Unlock()
				return
			}
			delete(h.subs, id)
			close(sub.send)
			h.mu.Unlock()

			select {
			case <-sub.done:
			case <-time.After(time.Second):
			}
		})
	}
}

// Broadcast queues ev for every subscriber without blocking.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
		}
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Report implements transfer.Reporter.
func (h *Hub) Report(o transfer.Outcome) {
	h.Broadcast(EventFromOutcome(o))
}
