// Package events delivers import progress and board change notifications.
//
// Hub is the in-process topic fan-out used by the SSE and WebSocket
// handlers. Redis mirrors the same messages to other instances, and Multi
// combines publishers so the service only sees one board.Publisher.
package events

import (
	"context"
	"strings"
	"sync"
)

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 16

// Message is one published payload.
type Message struct {
	Topic   string
	Payload any
}

// Subscription receives messages for a topic until Close is called.
type Subscription struct {
	topic string
	ch    chan Message
	hub   *Hub
	once  sync.Once
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Message { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is a topic-keyed fan-out. Publishing never blocks: when a subscriber's
// buffer is full its oldest message is dropped so the newest is always
// delivered. Progress payloads are full snapshots, so losing intermediate
// ones is harmless.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// NewHub creates a hub with the given subscriber buffer size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers interest in topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan Message, h.buffer),
		hub:   h,
	}

	h.mu.Lock()
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[topic] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish implements board.Publisher.
func (h *Hub) Publish(_ context.Context, topic string, payload any) error {
	msg := Message{Topic: topic, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[topic] {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		// Full: drop the oldest, then retry once.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of subscriptions on topics with prefix.
func (h *Hub) Subscribers(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for topic, set := range h.subs {
		if strings.HasPrefix(topic, prefix) {
			n += len(set)
		}
	}
	return n
}

// Close ends every subscription. Used on shutdown so streaming handlers return.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*Subscription, 0)
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.topic)
		}
	}
	close(sub.ch)
}
