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

// Package reconciler implements the Reconciler component that batches
// resource changes and triggers reconciliation passes.
//
// Changes are collected until no new change arrived for the batch interval,
// or until the oldest pending change has waited for the maximum batch wait,
// whichever comes first. Nothing is triggered before the store has
// synchronized every kind; the IndexSynchronizedEvent then triggers the
// first pass.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"nginx-reconciler/pkg/controller/events"
	busevents "nginx-reconciler/pkg/events"
)

const (
	// ComponentName is the unique identifier for this component.
	ComponentName = "reconciler"

	// DefaultBatchInterval is the default quiet period after the last
	// resource change before reconciliation is triggered.
	DefaultBatchInterval = 1 * time.Second

	// DefaultMaxWait is the default upper bound of a batching window.
	DefaultMaxWait = 3 * time.Second

	// EventBufferSize is the size of the event subscription buffer.
	EventBufferSize = 1024
)

// Trigger reasons.
const (
	ReasonInitialSync = "initial_sync"
	ReasonQuiet       = "debounce_timer"
	ReasonMaxWait     = "max_wait"
)

// Config configures the Reconciler component.
type Config struct {
	// BatchInterval is the quiet period after the last change.
	// If not set, DefaultBatchInterval is used.
	BatchInterval time.Duration

	// MaxWait caps the batching window under a continuous stream of
	// changes. If not set, DefaultMaxWait is used.
	MaxWait time.Duration
}

// Reconciler implements the batching component.
type Reconciler struct {
	eventBus  *busevents.EventBus
	eventChan <-chan busevents.Event // Subscribed in constructor for proper startup synchronization
	logger    *slog.Logger

	batchInterval time.Duration
	maxWait       time.Duration

	quietTimer *time.Timer
	maxTimer   *time.Timer

	synced  bool
	pending int
}

// New creates a new Reconciler component. config may be nil.
func New(eventBus *busevents.EventBus, logger *slog.Logger, config *Config) *Reconciler {
	batchInterval := DefaultBatchInterval
	maxWait := DefaultMaxWait
	if config != nil {
		if config.BatchInterval > 0 {
			batchInterval = config.BatchInterval
		}
		if config.MaxWait > 0 {
			maxWait = config.MaxWait
		}
	}
	if maxWait < batchInterval {
		maxWait = batchInterval
	}

	// Subscribe to EventBus during construction (before EventBus.Start())
	// This ensures proper startup synchronization without timing-based sleeps
	eventChan := eventBus.Subscribe(EventBufferSize)

	return &Reconciler{
		eventBus:      eventBus,
		eventChan:     eventChan,
		logger:        logger.With("component", ComponentName),
		batchInterval: batchInterval,
		maxWait:       maxWait,
	}
}

// Start begins the reconciler's event loop and blocks until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("reconciler starting",
		"batch_interval", r.batchInterval,
		"max_wait", r.maxWait)

	for {
		select {
		case event := <-r.eventChan:
			r.handleEvent(event)

		case <-timerChan(r.quietTimer):
			r.trigger(ReasonQuiet)

		case <-timerChan(r.maxTimer):
			r.trigger(ReasonMaxWait)

		case <-ctx.Done():
			r.logger.Info("reconciler shutting down", "reason", ctx.Err(), "pending_changes", r.pending)
			r.stopTimers()
			return nil
		}
	}
}

// handleEvent processes events from the EventBus.
func (r *Reconciler) handleEvent(event busevents.Event) {
	switch e := event.(type) {
	case *events.ResourceChangedEvent:
		r.handleResourceChange(e)

	case *events.IndexSynchronizedEvent:
		if r.synced {
			return
		}
		r.synced = true
		r.logger.Info("index synchronized, triggering initial reconciliation", "counts", e.Counts)
		r.trigger(ReasonInitialSync)

	case *events.ReadinessRequest:
		detail := "waiting for index synchronization"
		if r.synced {
			detail = "index synchronized"
		}
		r.eventBus.Publish(events.NewReadinessResponse(e.RequestID(), ComponentName, r.synced, detail))
	}
}

func (r *Reconciler) handleResourceChange(event *events.ResourceChangedEvent) {
	if !r.synced {
		// The initial pass after synchronization covers these.
		if !event.InitialSync {
			r.pending++
		}
		r.logger.Debug("skipping change before index synchronization",
			"resource", event.ID.String(),
			"initial_sync", event.InitialSync)
		return
	}

	r.pending++
	r.logger.Debug("resource change detected, resetting batch timer",
		"resource", event.ID.String(),
		"op", event.Op,
		"pending_changes", r.pending)

	resetTimer(&r.quietTimer, r.batchInterval)
	if r.maxTimer == nil {
		r.maxTimer = time.NewTimer(r.maxWait)
	}
}

// trigger publishes a ReconciliationTriggeredEvent covering every pending
// change.
func (r *Reconciler) trigger(reason string) {
	r.stopTimers()

	r.logger.Info("triggering reconciliation", "reason", reason, "changes", r.pending)
	r.eventBus.Publish(events.NewReconciliationTriggeredEvent(reason, r.pending))
	r.pending = 0
}

func (r *Reconciler) stopTimers() {
	stopTimer(&r.quietTimer)
	stopTimer(&r.maxTimer)
}

// timerChan returns the timer's channel or a nil channel if there is no
// active timer. A nil channel blocks forever in a select.
func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func resetTimer(t **time.Timer, d time.Duration) {
	if *t == nil {
		*t = time.NewTimer(d)
		return
	}
	// Stop and drain existing timer before resetting
	if !(*t).Stop() {
		select {
		case <-(*t).C:
		default:
		}
	}
	(*t).Reset(d)
}

func stopTimer(t **time.Timer) {
	if *t == nil {
		return
	}
	if !(*t).Stop() {
		select {
		case <-(*t).C:
		default:
		}
	}
	*t = nil
}
