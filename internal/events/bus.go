/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	// Per-collection mutations
	EventCollectionPinned   EventType = "collection.pinned"
	EventCollectionUnpinned EventType = "collection.unpinned"
	EventPinFailed          EventType = "collection.pin_failed"
)

// AllTypes lists every event type, for bridges that forward everything.
var AllTypes = []EventType{
	EventRunStarted,
	EventRunCompleted,
	EventRunFailed,
	EventCollectionPinned,
	EventCollectionUnpinned,
	EventPinFailed,
}

// Payload keys used by pinning events.
const (
	KeyRunID      = "run_id"
	KeyLibrary    = "library"
	KeyTitle      = "title"
	KeyItemCount  = "item_count"
	KeyCountKnown = "count_known"
	KeyTier       = "tier"
	KeyCategory   = "category"
	KeyError      = "error"
	KeyPinned     = "pinned"
	KeyUnpinned   = "unpinned"
	KeyFailed     = "failed"
	KeyLibraries  = "libraries"
	KeyDuration   = "duration_ms"
	KeyDryRun     = "dry_run"
)

// Payload generic event payload.
type Payload map[string]any

// String returns the string stored under key, or "".
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the number stored under key. Payloads that crossed a JSON
// boundary carry float64.
func (p Payload) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Bool returns the bool stored under key, or false.
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Strings returns the string list stored under key.
func (p Payload) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type. Payloads are dropped when
// the subscriber's buffer is full.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeBuffered(eventType, 8)
}

// SubscribeBuffered is Subscribe with a caller-chosen buffer size.
func (b *Bus) SubscribeBuffered(eventType EventType, size int) Subscriber {
	if size < 1 {
		size = 1
	}
	ch := make(Subscriber, size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
