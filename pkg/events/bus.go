// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package events provides the event bus the controller components use to
// coordinate.
//
// The bus supports two communication patterns:
//  1. Async pub/sub: fire-and-forget publishing for notifications and
//     loose coupling between pipeline stages
//  2. Sync request-response: scatter-gather, e.g. readiness queries
//
// Delivery never blocks the publisher. An event that does not fit into a
// subscriber's buffer is dropped for that subscriber and counted.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is the base interface for all events in the system.
type Event interface {
	// EventType returns a unique identifier for this event type.
	// Convention: dot-notation like "resource.changed" or "reload.completed".
	EventType() string

	// Timestamp returns when this event occurred.
	Timestamp() time.Time
}

// EventBus provides centralized pub/sub coordination for all controller components.
//
// EventBus is thread-safe and can be used concurrently from multiple goroutines.
//
// Startup Coordination:
// Events published before Start() is called are buffered and replayed after Start().
// This prevents race conditions during component initialization.
type EventBus struct {
	subscribers []chan Event
	mu          sync.RWMutex

	dropped atomic.Uint64

	// Startup coordination
	started        bool
	startMu        sync.Mutex
	preStartBuffer []Event
}

// NewEventBus creates a new EventBus.
//
// The capacity parameter sets the initial buffer size for pre-start events.
func NewEventBus(capacity int) *EventBus {
	return &EventBus{
		subscribers:    make([]chan Event, 0),
		preStartBuffer: make([]Event, 0, capacity),
	}
}

// Publish sends an event to all subscribers.
//
// Before Start() the event is buffered and replayed when Start() is invoked.
// After Start() this is a non-blocking operation: if a subscriber's channel
// is full, the event is dropped for that subscriber and the drop is counted.
//
// Returns the number of subscribers that received the event, 0 if the
// event was buffered.
func (b *EventBus) Publish(event Event) int {
	b.startMu.Lock()
	if !b.started {
		b.preStartBuffer = append(b.preStartBuffer, event)
		b.startMu.Unlock()
		return 0
	}
	b.startMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.deliver(b.subscribers, event)
}

func (b *EventBus) deliver(subscribers []chan Event, event Event) int {
	sent := 0
	for _, ch := range subscribers {
		select {
		case ch <- event:
			sent++
		default:
			b.dropped.Add(1)
		}
	}
	return sent
}

// Dropped returns the number of deliveries dropped because a subscriber's
// buffer was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe creates a new subscription to the event bus.
//
// The returned channel receives all events published to the bus. Subscribers
// must keep reading from it; a full buffer drops events. Long-lived
// components subscribe in their constructor, before Start().
func (b *EventBus) Subscribe(bufferSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, bufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription created by Subscribe. The channel is
// not closed. Unknown channels are ignored.
func (b *EventBus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, ch := range b.subscribers {
		if (<-chan Event)(ch) == sub {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Start releases all buffered events and switches the bus to normal operation mode.
//
// Call it after all components have subscribed. Start is idempotent and
// safe to call concurrently with Publish() and Subscribe().
//
// Example:
//
//	bus := NewEventBus(100)
//
//	watcher := resourcewatcher.New(opts, client, store, bus, logger)
//	executor := executor.New(bus, store, builder, rend, logger)
//	// ... more subscribers ...
//
//	bus.Start()
func (b *EventBus) Start() {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.started {
		return
	}
	// Mark as started before replaying so that replay does not recurse
	b.started = true

	if len(b.preStartBuffer) > 0 {
		b.mu.RLock()
		subscribers := b.subscribers
		b.mu.RUnlock()

		for _, event := range b.preStartBuffer {
			b.deliver(subscribers, event)
		}
		b.preStartBuffer = nil
	}
}

// Request sends a request event and waits for responses using the
// scatter-gather pattern.
//
// It publishes the request, collects the responses carrying the request ID
// and returns once all expected responders replied, MinResponses were
// reached or the timeout expired.
//
// Example:
//
//	result, err := bus.Request(ctx, events.NewReadinessRequest(id), busevents.RequestOptions{
//	    Timeout:            2 * time.Second,
//	    ExpectedResponders: []string{"resourcewatcher", "executor", "reloader"},
//	})
func (b *EventBus) Request(ctx context.Context, request Request, opts RequestOptions) (*RequestResult, error) {
	return gather(ctx, b, request, opts)
}
