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

// Package executor implements the Executor component that runs
// reconciliation passes.
//
// A pass takes an immutable snapshot of the resource store, validates and
// merges it into a configuration model, renders the model and publishes
// the results. Passes never overlap: the event loop runs one at a time and
// the claim tables and last-known-good secrets of the Builder carry over
// from one pass to the next.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/renderer"
	"nginx-reconciler/pkg/controller/resourcestore"
	busevents "nginx-reconciler/pkg/events"
)

const (
	// ComponentName is the unique identifier for this component.
	ComponentName = "executor"

	// EventBufferSize is the size of the event subscription buffer.
	EventBufferSize = 50

	// TracerName names the tracer of reconciliation spans.
	TracerName = "nginx-reconciler/pipeline"
)

// tracer is replaced in tests.
var tracer = otel.Tracer(TracerName)

// Pass is the record of one reconciliation pass.
type Pass struct {
	ReconcileID string
	Trigger     string
	Started     time.Time
	Duration    time.Duration

	// Resources is the number of resources in the snapshot.
	Resources int
	Result    *configuration.Result

	// Config is nil when rendering failed.
	Config *renderer.Config
	Err    error
}

// Executor implements the reconciliation pass component.
type Executor struct {
	eventBus  *busevents.EventBus
	eventChan <-chan busevents.Event // Subscribed in constructor for proper startup synchronization
	logger    *slog.Logger

	store    *resourcestore.Store
	builder  *configuration.Builder
	renderer *renderer.Renderer

	mu   sync.RWMutex
	last *Pass
}

// New creates a new Executor component.
func New(
	eventBus *busevents.EventBus,
	store *resourcestore.Store,
	builder *configuration.Builder,
	rend *renderer.Renderer,
	logger *slog.Logger,
) *Executor {
	// Subscribe to EventBus during construction (before EventBus.Start())
	// This ensures proper startup synchronization without timing-based sleeps
	eventChan := eventBus.Subscribe(EventBufferSize)

	return &Executor{
		eventBus:  eventBus,
		eventChan: eventChan,
		logger:    logger.With("component", ComponentName),
		store:     store,
		builder:   builder,
		renderer:  rend,
	}
}

// Start begins the executor's event loop and blocks until ctx is cancelled.
func (e *Executor) Start(ctx context.Context) error {
	e.logger.Info("executor starting")

	for {
		select {
		case event := <-e.eventChan:
			e.handleEvent(ctx, event)

		case <-ctx.Done():
			e.logger.Info("executor shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// LastPass returns the most recent pass, or nil.
func (e *Executor) LastPass() *Pass {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// handleEvent processes events from the EventBus.
func (e *Executor) handleEvent(ctx context.Context, event busevents.Event) {
	switch ev := event.(type) {
	case *events.ReconciliationTriggeredEvent:
		e.Reconcile(ctx, ev.Reason)

	case *events.ReadinessRequest:
		last := e.LastPass()
		ready := last != nil && last.Config != nil
		detail := "no configuration rendered yet"
		switch {
		case ready:
			detail = fmt.Sprintf("last pass %s rendered %s", last.ReconcileID, shortChecksum(last.Config.Checksum()))
		case last != nil:
			detail = fmt.Sprintf("last pass %s failed: %v", last.ReconcileID, last.Err)
		}
		e.eventBus.Publish(events.NewReadinessResponse(ev.RequestID(), ComponentName, ready, detail))
	}
}

// Reconcile runs one pass and publishes its results:
//   - ReconciliationStartedEvent
//   - ValidationCompletedEvent with the outcome of every resource
//   - ConfigRenderedEvent, or TemplateRenderFailedEvent and
//     ReconciliationFailedEvent
//   - ReconciliationCompletedEvent on success
//
// The validation states of the store are updated before
// ValidationCompletedEvent is published.
func (e *Executor) Reconcile(ctx context.Context, trigger string) *Pass {
	pass := &Pass{
		ReconcileID: uuid.NewString(),
		Trigger:     trigger,
		Started:     time.Now(),
	}
	logger := e.logger.With("reconcile_id", pass.ReconcileID)

	ctx, span := tracer.Start(ctx, "reconcile", trace.WithAttributes(
		attribute.String("reconcile.id", pass.ReconcileID),
		attribute.String("reconcile.trigger", trigger),
	))
	defer span.End()

	logger.Info("reconciliation started", "trigger", trigger)
	e.eventBus.Publish(events.NewReconciliationStartedEvent(pass.ReconcileID, trigger))

	pass.Result = e.validate(ctx, pass)
	e.eventBus.Publish(events.NewValidationCompletedEvent(pass.ReconcileID, pass.Result.Outcomes, pass.Result.Promoted))

	cfg, err := e.render(ctx, pass.Result.Model)
	pass.Duration = time.Since(pass.Started)
	if err != nil {
		pass.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")

		details := e.renderer.FormatError(err)
		logger.Error("rendering failed, keeping the running configuration\n"+details,
			"duration_ms", pass.Duration.Milliseconds())

		e.eventBus.Publish(events.NewTemplateRenderFailedEvent(pass.ReconcileID, err, details))
		e.eventBus.Publish(events.NewReconciliationFailedEvent(pass.ReconcileID, "render", err))
		e.record(pass)
		return pass
	}

	pass.Config = cfg
	checksum := cfg.Checksum()
	span.SetAttributes(attribute.String("config.checksum", checksum))

	e.record(pass)
	e.eventBus.Publish(events.NewConfigRenderedEvent(pass.ReconcileID, cfg, pass.Duration.Milliseconds()))
	e.eventBus.Publish(events.NewReconciliationCompletedEvent(pass.ReconcileID, checksum, pass.Duration.Milliseconds()))

	logger.Info("reconciliation completed",
		"checksum", shortChecksum(checksum),
		"resources", pass.Resources,
		"duration_ms", pass.Duration.Milliseconds())

	return pass
}

func (e *Executor) validate(ctx context.Context, pass *Pass) *configuration.Result {
	_, span := tracer.Start(ctx, "validate")
	defer span.End()

	snap := e.store.Snapshot()
	pass.Resources = snap.Len()

	result := e.builder.Build(snap)

	var invalid, warning int
	for _, o := range result.Outcomes {
		e.store.SetState(o.ID, o.ResourceVersion, o.State)
		switch o.State {
		case resourcestore.StateInvalid:
			invalid++
		case resourcestore.StateWarning:
			warning++
		}
	}

	span.SetAttributes(
		attribute.Int("resources", pass.Resources),
		attribute.Int("outcomes", len(result.Outcomes)),
		attribute.Int("outcomes.invalid", invalid),
		attribute.Int("outcomes.warning", warning),
		attribute.Int("promoted", len(result.Promoted)),
	)

	if invalid > 0 || warning > 0 {
		e.logger.Debug("validation finished with findings",
			"reconcile_id", pass.ReconcileID,
			"invalid", invalid,
			"warning", warning)
	}

	return result
}

func (e *Executor) render(ctx context.Context, model *configuration.Model) (*renderer.Config, error) {
	_, span := tracer.Start(ctx, "render")
	defer span.End()

	cfg, err := e.renderer.Render(model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("config.bytes", len(cfg.Main)),
		attribute.Int("config.files", len(cfg.Files)),
		attribute.Int("config.certificates", len(cfg.Certificates)),
	)
	return cfg, nil
}

func (e *Executor) record(pass *Pass) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = pass
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
