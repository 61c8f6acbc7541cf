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

package debug

import (
	"context"
	"fmt"
	"time"

	"nginx-reconciler/pkg/controller/events"
	busevents "nginx-reconciler/pkg/events"
	"nginx-reconciler/pkg/events/ringbuffer"
)

// Event is the debug view of a bus event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Summary   string    `json:"summary"`
}

// subscriberBuffer is the bus subscription size. It does not depend on the
// ring size.
const subscriberBuffer = 100

// EventBuffer keeps the most recent bus events for the events variable.
type EventBuffer struct {
	buffer    *ringbuffer.RingBuffer[Event]
	eventChan <-chan busevents.Event
}

// NewEventBuffer creates a buffer of the last size events and subscribes
// it to bus. Call it before bus.Start().
func NewEventBuffer(size int, bus *busevents.EventBus) *EventBuffer {
	return &EventBuffer{
		buffer:    ringbuffer.New[Event](size),
		eventChan: bus.Subscribe(subscriberBuffer),
	}
}

// Start records events until ctx is cancelled.
func (eb *EventBuffer) Start(ctx context.Context) error {
	for {
		select {
		case ev := <-eb.eventChan:
			eb.buffer.Add(Event{
				Timestamp: ev.Timestamp(),
				Type:      ev.EventType(),
				Summary:   summarize(ev),
			})
		case <-ctx.Done():
			return nil
		}
	}
}

// GetLast returns the last n events, oldest first.
func (eb *EventBuffer) GetLast(n int) []Event {
	return eb.buffer.GetLast(n)
}

// Len returns the number of buffered events.
func (eb *EventBuffer) Len() int {
	return eb.buffer.Len()
}

func summarize(ev busevents.Event) string {
	switch e := ev.(type) {
	case *events.ResourceChangedEvent:
		return fmt.Sprintf("%s %s", e.Op, e.ID)
	case *events.IndexSynchronizedEvent:
		total := 0
		for _, n := range e.Counts {
			total += n
		}
		return fmt.Sprintf("%d resources listed", total)
	case *events.WatchFailedEvent:
		return fmt.Sprintf("%s watch failed %d times: %s", e.Kind, e.Failures, e.Error)
	case *events.ReconciliationTriggeredEvent:
		return fmt.Sprintf("%s after %d changes", e.Reason, e.Changes)
	case *events.ReconciliationCompletedEvent:
		return fmt.Sprintf("pass %s rendered %s in %dms", e.ReconcileID, short(e.Checksum), e.DurationMs)
	case *events.ReconciliationFailedEvent:
		return fmt.Sprintf("pass %s failed in %s: %s", e.ReconcileID, e.Phase, e.Error)
	case *events.ReloadCompletedEvent:
		return fmt.Sprintf("reloaded %s in %dms", short(e.Checksum), e.DurationMs)
	case *events.ReloadFailedEvent:
		return fmt.Sprintf("%s failed for %s: %s", e.Phase, short(e.Checksum), e.Error)
	case *events.DynamicUpdateAppliedEvent:
		return fmt.Sprintf("%d %s updated without reload", e.Count, e.Type)
	case *events.StatusPublishedEvent:
		return fmt.Sprintf("%s %s: %s", e.ID, e.State, e.Reason)
	case *events.StatusPublishFailedEvent:
		return fmt.Sprintf("%s: %s", e.ID, e.Error)
	case *events.BecameLeaderEvent:
		return e.Identity
	case *events.LostLeadershipEvent:
		return fmt.Sprintf("%s: %s", e.Identity, e.Reason)
	case *events.ConfigInvalidEvent:
		return e.Error
	}
	return ev.EventType()
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
