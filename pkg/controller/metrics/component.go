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

package metrics

import (
	"context"
	"time"

	"nginx-reconciler/pkg/controller/events"
	pkgevents "nginx-reconciler/pkg/events"
)

const (
	// ComponentName is the unique identifier for this component.
	ComponentName = "metrics"

	// EventBufferSize is large because the component sees every event.
	EventBufferSize = 500

	dropSyncInterval = 5 * time.Second
)

// Component is an event-driven metrics collector. It bridges bus events to
// the Prometheus metrics of a Metrics instance.
type Component struct {
	metrics   *Metrics
	eventBus  *pkgevents.EventBus
	eventChan <-chan pkgevents.Event

	counts      map[string]int
	synced      bool
	lastDropped uint64
}

// NewComponent creates the component and subscribes it to eventBus. Call it
// before eventBus.Start().
func NewComponent(metrics *Metrics, eventBus *pkgevents.EventBus) *Component {
	return &Component{
		metrics:   metrics,
		eventBus:  eventBus,
		eventChan: eventBus.Subscribe(EventBufferSize),
		counts:    make(map[string]int),
	}
}

// Start processes events until ctx is cancelled.
func (c *Component) Start(ctx context.Context) error {
	ticker := time.NewTicker(dropSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.eventChan:
			c.handleEvent(event)
			c.syncDropped()
		case <-ticker.C:
			c.syncDropped()
		case <-ctx.Done():
			return nil
		}
	}
}

// Metrics returns the underlying Metrics instance.
func (c *Component) Metrics() *Metrics {
	return c.metrics
}

// syncDropped carries the bus drop counter over to events_dropped_total.
func (c *Component) syncDropped() {
	dropped := c.eventBus.Dropped()
	if dropped > c.lastDropped {
		c.metrics.EventsDropped.Add(float64(dropped - c.lastDropped))
		c.lastDropped = dropped
	}
}

func (c *Component) handleEvent(event pkgevents.Event) {
	switch e := event.(type) {
	case *events.IndexSynchronizedEvent:
		for kind, n := range e.Counts {
			c.counts[kind] = n
			c.metrics.SetResourceCount(kind, n)
		}
		c.synced = true

	case *events.ResourceChangedEvent:
		// Totals before the index is synchronized come from IndexSynchronizedEvent.
		if !c.synced || e.InitialSync {
			return
		}
		kind := e.ID.Kind
		switch e.Op {
		case events.OpAdd:
			c.counts[kind]++
		case events.OpDelete:
			if c.counts[kind] > 0 {
				c.counts[kind]--
			}
		default:
			return
		}
		c.metrics.SetResourceCount(kind, c.counts[kind])

	case *events.WatchFailedEvent:
		c.metrics.WatchFailures.WithLabelValues(e.Kind).Inc()

	case *events.ValidationCompletedEvent:
		states := make(map[string]map[string]int)
		for _, o := range e.Outcomes {
			if states[o.ID.Kind] == nil {
				states[o.ID.Kind] = make(map[string]int)
			}
			states[o.ID.Kind][string(o.State)]++
		}
		c.metrics.SetResourceStates(states)

	case *events.ReconciliationCompletedEvent:
		c.metrics.RecordReconciliation(float64(e.DurationMs)/1000.0, true)

	case *events.ReconciliationFailedEvent:
		c.metrics.RecordReconciliation(0, false)

	case *events.ReloadCompletedEvent:
		c.metrics.RecordReload(float64(e.DurationMs)/1000.0, true)

	case *events.ReloadFailedEvent:
		if e.Phase == "dynamic" {
			c.metrics.DynamicUpdates.WithLabelValues("failed").Inc()
			return
		}
		c.metrics.RecordReload(float64(e.DurationMs)/1000.0, false)

	case *events.DynamicUpdateAppliedEvent:
		c.metrics.DynamicUpdates.WithLabelValues(e.Type).Inc()

	case *events.StatusPublishedEvent:
		c.metrics.StatusUpdates.WithLabelValues("success").Inc()

	case *events.StatusPublishFailedEvent:
		c.metrics.StatusUpdates.WithLabelValues("error").Inc()
	}
}
