// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/danielhkuo/bookclub-vote/metrics"
	"github.com/danielhkuo/bookclub-vote/models"
)

// SendBuffer is how many undelivered events a subscriber may hold before
// it is dropped as too slow.
const SendBuffer = 16

// ErrHubStopped is returned once Run has returned.
var ErrHubStopped = errors.New("realtime hub stopped")

// Publisher delivers poll events to everyone watching a meeting.
type Publisher interface {
	Publish(ctx context.Context, event models.PollEvent) error
}

// Subscription receives the encoded events of one meeting. C is closed
// when the subscription is removed from the hub.
type Subscription struct {
	MeetingID string
	C         <-chan []byte

	send chan []byte
}

// Hub fans events out to the subscribers of each meeting. All map
// mutation happens on the Run goroutine.
type Hub struct {
	meetings   map[string]map[*Subscription]bool
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan models.PollEvent
	done       chan struct{}
	metrics    *metrics.Metrics

	mu sync.RWMutex
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		meetings:   make(map[string]map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan models.PollEvent, 256),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// Run processes registrations and broadcasts until ctx is done, then
// closes every remaining subscription. Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case sub := <-h.register:
			h.add(sub)
		case sub := <-h.unregister:
			h.remove(sub)
		case event := <-h.broadcast:
			h.fanOut(event)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Publish queues event for local delivery. It satisfies Publisher for
// single-instance deployments.
func (h *Hub) Publish(ctx context.Context, event models.PollEvent) error {
	// broadcast is buffered, so check done first
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.broadcast <- event:
		h.metrics.EventPublished(event.Type)
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a new subscription for meetingID.
func (h *Hub) Subscribe(ctx context.Context, meetingID string) (*Subscription, error) {
	send := make(chan []byte, SendBuffer)
	sub := &Subscription{MeetingID: meetingID, C: send, send: send}

	select {
	case h.register <- sub:
		return sub, nil
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes sub. It is a no-op for subscriptions already dropped.
func (h *Hub) Unsubscribe(ctx context.Context, sub *Subscription) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	case <-ctx.Done():
	}
}

// Subscribers returns the number of live subscriptions for meetingID.
func (h *Hub) Subscribers(meetingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.meetings[meetingID])
}

func (h *Hub) add(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.meetings[sub.MeetingID] == nil {
		h.meetings[sub.MeetingID] = make(map[*Subscription]bool)
	}
	h.meetings[sub.MeetingID][sub] = true
	h.metrics.ConnectionOpened()

	slog.Debug("realtime subscriber added",
		"meeting_id", sub.MeetingID,
		"subscribers", len(h.meetings[sub.MeetingID]),
	)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs, ok := h.meetings[sub.MeetingID]
	if !ok || !subs[sub] {
		return
	}

	delete(subs, sub)
	close(sub.send)
	h.metrics.ConnectionClosed()

	if len(subs) == 0 {
		delete(h.meetings, sub.MeetingID)
	}
}

func (h *Hub) fanOut(event models.PollEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode poll event", "error", err, "type", event.Type)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.meetings[event.MeetingID] {
		select {
		case sub.send <- data:
		default:
			slog.Warn("dropping slow realtime subscriber", "meeting_id", sub.MeetingID)
			h.removeLocked(sub)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.meetings {
		for sub := range subs {
			h.removeLocked(sub)
		}
	}
}
