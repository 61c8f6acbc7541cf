// Package commentator logs bus events with context.
//
// Components log what they do. The commentator logs what it means: it keeps
// the recent events in a ring buffer and relates new events to earlier ones,
// e.g. how long a reload took from trigger to completion.
package commentator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/resourcestore"
	busevents "nginx-reconciler/pkg/events"
	"nginx-reconciler/pkg/events/ringbuffer"
)

const (
	// DefaultBufferSize is the number of recent events kept for correlation.
	DefaultBufferSize = 1000

	maxErrorPreviewLength = 120
)

// EventCommentator subscribes to every event and logs it.
type EventCommentator struct {
	bus       *busevents.EventBus
	eventChan <-chan busevents.Event
	logger    *slog.Logger
	recent    *ringbuffer.RingBuffer[busevents.Event]
}

// NewEventCommentator creates a commentator. Like the pipeline components it
// subscribes on construction, so it sees the events buffered before the bus
// starts.
func NewEventCommentator(bus *busevents.EventBus, logger *slog.Logger, bufferSize int) *EventCommentator {
	return &EventCommentator{
		bus:       bus,
		eventChan: bus.Subscribe(200),
		logger:    logger.With("component", "commentator"),
		recent:    ringbuffer.New[busevents.Event](bufferSize),
	}
}

// Start logs events until ctx is cancelled.
func (ec *EventCommentator) Start(ctx context.Context) error {
	for {
		select {
		case event := <-ec.eventChan:
			ec.processEvent(ctx, event)
		case <-ctx.Done():
			return nil
		}
	}
}

func (ec *EventCommentator) processEvent(ctx context.Context, event busevents.Event) {
	// readiness probes arrive every few seconds
	switch event.(type) {
	case *events.ReadinessRequest, *events.ReadinessResponse:
		return
	}

	message, attrs := ec.generateInsight(event)
	ec.recent.Add(event)
	ec.logger.Log(ctx, determineLogLevel(event), message, attrs...)
}

func determineLogLevel(event busevents.Event) slog.Level {
	switch e := event.(type) {
	case *events.ReconciliationFailedEvent, *events.ReloadFailedEvent, *events.TemplateRenderFailedEvent:
		return slog.LevelError
	case *events.ConfigInvalidEvent, *events.WatchFailedEvent, *events.StatusPublishFailedEvent, *events.LostLeadershipEvent:
		return slog.LevelWarn
	case *events.ResourceChangedEvent:
		if e.InitialSync {
			return slog.LevelDebug
		}
		return slog.LevelInfo
	case *events.ControllerStartedEvent, *events.ControllerShutdownEvent, *events.ConfigChangedEvent,
		*events.IndexSynchronizedEvent, *events.ReloadCompletedEvent, *events.DynamicUpdateAppliedEvent,
		*events.BecameLeaderEvent, *events.ValidationCompletedEvent:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// lastOfType returns the newest buffered event of eventType seen within
// window before now.
func (ec *EventCommentator) lastOfType(eventType string, now time.Time, window time.Duration) busevents.Event {
	all := ec.recent.GetAll()
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if now.Sub(e.Timestamp()) > window {
			return nil
		}
		if e.EventType() == eventType {
			return e
		}
	}
	return nil
}

//nolint:gocyclo // one case per event type
func (ec *EventCommentator) generateInsight(event busevents.Event) (string, []any) {
	now := event.Timestamp()
	attrs := []any{"event_type", event.EventType()}

	switch e := event.(type) {
	case *events.ControllerStartedEvent:
		return fmt.Sprintf("Controller started with configuration %s", e.ConfigVersion),
			append(attrs, "config_version", e.ConfigVersion)

	case *events.ControllerShutdownEvent:
		return "Controller shutting down: " + e.Reason, append(attrs, "reason", e.Reason)

	case *events.ConfigChangedEvent:
		return fmt.Sprintf("Configuration file %s changed, reinitializing", e.Path),
			append(attrs, "path", e.Path, "version", e.Version)

	case *events.ConfigInvalidEvent:
		return fmt.Sprintf("Configuration file %s is invalid, keeping the current one: %s", e.Path, preview(e.Error)),
			append(attrs, "path", e.Path, "error", e.Error)

	case *events.ResourceChangedEvent:
		return fmt.Sprintf("%s %s %s", e.ID.Kind, e.ID.Key(), pastTense(e.Op)),
			append(attrs, "resource", e.ID.String(), "resource_version", e.ResourceVersion, "initial_sync", e.InitialSync)

	case *events.ResourceSyncCompleteEvent:
		return fmt.Sprintf("Initial list of %s complete (%d resources)", e.Kind, e.Count),
			append(attrs, "kind", e.Kind, "count", e.Count)

	case *events.IndexSynchronizedEvent:
		total := 0
		for _, n := range e.Counts {
			total += n
		}
		return fmt.Sprintf("All watched kinds synchronized (%d resources across %d kinds)", total, len(e.Counts)),
			append(attrs, "total_resources", total, "kinds", len(e.Counts))

	case *events.WatchFailedEvent:
		return fmt.Sprintf("Watch of %s failed %d times in a row: %s", e.Kind, e.Failures, preview(e.Error)),
			append(attrs, "kind", e.Kind, "failures", e.Failures, "error", e.Error)

	case *events.ReconciliationTriggeredEvent:
		msg := fmt.Sprintf("Reconciliation triggered by %s after %d changes", e.Reason, e.Changes)
		if prev := ec.lastOfType(events.EventTypeReconciliationCompleted, now, 10*time.Minute); prev != nil {
			msg += fmt.Sprintf(" (previous pass %v ago)", now.Sub(prev.Timestamp()).Round(time.Second))
		}
		return msg, append(attrs, "reason", e.Reason, "changes", e.Changes)

	case *events.ReconciliationStartedEvent:
		return "Reconciliation started: " + e.Trigger,
			append(attrs, "reconcile_id", e.ReconcileID, "trigger", e.Trigger)

	case *events.ValidationCompletedEvent:
		counts := make(map[resourcestore.ValidationState]int)
		for _, o := range e.Outcomes {
			counts[o.State]++
		}
		msg := fmt.Sprintf("Validated %d resources: %d valid, %d with warnings, %d invalid",
			len(e.Outcomes), counts[resourcestore.StateValid], counts[resourcestore.StateWarning], counts[resourcestore.StateInvalid])
		if len(e.Promoted) > 0 {
			msg += fmt.Sprintf(", %d promoted", len(e.Promoted))
		}
		return msg, append(attrs, "reconcile_id", e.ReconcileID, "resources", len(e.Outcomes), "promoted", len(e.Promoted))

	case *events.ConfigRenderedEvent:
		return fmt.Sprintf("Rendered configuration %s in %dms", short(e.Checksum), e.DurationMs),
			append(attrs, "reconcile_id", e.ReconcileID, "checksum", e.Checksum, "duration_ms", e.DurationMs)

	case *events.TemplateRenderFailedEvent:
		return "Rendering failed:\n" + e.Details, append(attrs, "reconcile_id", e.ReconcileID)

	case *events.ReconciliationCompletedEvent:
		return fmt.Sprintf("Reconciliation completed in %dms", e.DurationMs),
			append(attrs, "reconcile_id", e.ReconcileID, "checksum", e.Checksum, "duration_ms", e.DurationMs)

	case *events.ReconciliationFailedEvent:
		return fmt.Sprintf("Reconciliation failed in %s phase: %s", e.Phase, preview(e.Error)),
			append(attrs, "reconcile_id", e.ReconcileID, "phase", e.Phase, "error", e.Error)

	case *events.ReloadSkippedEvent:
		return fmt.Sprintf("Configuration %s unchanged, no reload", short(e.Checksum)), append(attrs, "checksum", e.Checksum)

	case *events.ReloadStartedEvent:
		return fmt.Sprintf("Reloading NGINX with %s: %s", short(e.Checksum), strings.Join(e.Reasons, ", ")),
			append(attrs, "checksum", e.Checksum, "reasons", e.Reasons)

	case *events.ReloadCompletedEvent:
		msg := fmt.Sprintf("NGINX reloaded with %s in %dms", short(e.Checksum), e.DurationMs)
		if trigger := ec.lastOfType(events.EventTypeReconciliationTriggered, now, 5*time.Minute); trigger != nil {
			msg += fmt.Sprintf(" (%v after the triggering change batch)", now.Sub(trigger.Timestamp()).Round(time.Millisecond))
		}
		return msg, append(attrs, "checksum", e.Checksum, "duration_ms", e.DurationMs)

	case *events.ReloadFailedEvent:
		return fmt.Sprintf("NGINX %s failed for %s, previous configuration kept: %s", e.Phase, short(e.Checksum), preview(e.Error)),
			append(attrs, "checksum", e.Checksum, "phase", e.Phase, "error", e.Error, "duration_ms", e.DurationMs)

	case *events.DynamicUpdateAppliedEvent:
		return fmt.Sprintf("Applied %d %s updates without reload", e.Count, e.Type),
			append(attrs, "type", e.Type, "count", e.Count, "checksum", e.Checksum)

	case *events.StatusPublishedEvent:
		return fmt.Sprintf("Published status %s (%s) for %s", e.State, e.Reason, e.ID),
			append(attrs, "resource", e.ID.String(), "state", e.State, "reason", e.Reason)

	case *events.StatusPublishFailedEvent:
		return fmt.Sprintf("Publishing status for %s failed: %s", e.ID, preview(e.Error)),
			append(attrs, "resource", e.ID.String(), "error", e.Error)

	case *events.LeaderElectionStartedEvent:
		return fmt.Sprintf("Joining leader election for lease %s/%s as %s", e.LeaseNamespace, e.LeaseName, e.Identity),
			append(attrs, "identity", e.Identity)

	case *events.BecameLeaderEvent:
		return "Became leader, writing resource status", append(attrs, "identity", e.Identity)

	case *events.LostLeadershipEvent:
		return "Lost leadership, status writes stopped: " + e.Reason, append(attrs, "identity", e.Identity, "reason", e.Reason)

	case *events.NewLeaderObservedEvent:
		return "Leader is " + e.NewLeaderIdentity, append(attrs, "leader", e.NewLeaderIdentity, "is_self", e.IsSelf)

	default:
		return "Event: " + event.EventType(), attrs
	}
}

func pastTense(op events.ResourceOp) string {
	switch op {
	case events.OpAdd:
		return "added"
	case events.OpDelete:
		return "deleted"
	default:
		return "updated"
	}
}

func short(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}

func preview(s string) string {
	if len(s) > maxErrorPreviewLength {
		return s[:maxErrorPreviewLength-3] + "..."
	}
	return s
}
