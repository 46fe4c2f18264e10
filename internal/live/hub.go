// Package live fans out review events to websocket subscribers so the UI
// can swap a "syncing" badge or a pending-reply placeholder without polling.
package live

import (
	"log/slog"
	"sync"
)

const (
	EventSyncStatus = "sync_status"
	EventMessage    = "message"
)

// Event is one notification about a review. SyncStatus is set for
// sync-status events; Sender/Content/Order for message events.
type Event struct {
	Type       string `json:"type"`
	ReviewID   int64  `json:"review_id"`
	SyncStatus string `json:"sync_status,omitempty"`
	Sender     string `json:"sender,omitempty"`
	Content    string `json:"content,omitempty"`
	Order      int    `json:"order,omitempty"`
}

const subscriberBuffer = 8

// Hub is an in-process publish/subscribe switchboard keyed by review id.
// Delivery is best effort: a subscriber that cannot keep up loses events
// rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[int64]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[chan Event]struct{})}
}

// Subscribe registers for a review's events. The returned cancel func must
// be called to release the subscription.
func (h *Hub) Subscribe(reviewID int64) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[reviewID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[reviewID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[reviewID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, reviewID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the review. It never
// blocks and never fails; slow subscribers are skipped.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[e.ReviewID] {
		select {
		case ch <- e:
		default:
			slog.Debug("dropping live event for slow subscriber", "review_id", e.ReviewID, "type", e.Type)
		}
	}
}
