// Package events provides in-process edge-triggered wakeups between the
// ingestion pipeline and streaming consumers. A notification carries no
// payload; woken consumers read the durable queue for actual events, so
// coalesced wakeups lose nothing.
package events

import (
	"context"
	"sync"
)

// Hub fans out wakeups per event kind.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Sub]struct{}
}

// Sub is one consumer's gate. The channel holds at most one pending
// wakeup; further notifications coalesce into it.
type Sub struct {
	hub  *Hub
	kind string
	ch   chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Sub]struct{})}
}

// Subscribe registers a gate for a kind. The gate starts signalled so a
// fresh consumer drains the backlog before its first sleep.
func (h *Hub) Subscribe(kind string) *Sub {
	s := &Sub{hub: h, kind: kind, ch: make(chan struct{}, 1)}
	s.ch <- struct{}{}

	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[kind]
	if set == nil {
		set = make(map[*Sub]struct{})
		h.subs[kind] = set
	}
	set[s] = struct{}{}
	return s
}

// Notify wakes every gate subscribed to the kind. Never blocks; a gate
// that is already signalled absorbs the edge.
func (h *Hub) Notify(kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[kind] {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

// Close removes the gate from the hub.
func (s *Sub) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[s.kind], s)
	if len(h.subs[s.kind]) == 0 {
		delete(h.subs, s.kind)
	}
}

// Wait blocks until the gate is signalled or the context ends.
func (s *Sub) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
