package events

import (
	"time"

	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/renderer"
	"nginx-reconciler/pkg/controller/resourcestore"
)

// This file contains the event types exchanged between the controller
// components.
//
// Events are immutable once published. Fields are exported for logging and
// debugging; consumers must not modify them. Slices and maps handed to a
// constructor are owned by the event afterwards.
//
// Categories:
//   - Lifecycle: startup and shutdown
//   - Configuration: changes of the controller configuration file
//   - Resource: watch, store and sync progress
//   - Reconciliation: the validate, merge and render pass
//   - Reload: applying rendered configuration to NGINX
//   - Status: resource status and Kubernetes Event publication
//   - Leader election: leadership transitions
//   - Readiness: scatter-gather health queries

const (
	EventTypeControllerStarted  = "controller.started"
	EventTypeControllerShutdown = "controller.shutdown"

	EventTypeConfigChanged = "config.changed"
	EventTypeConfigInvalid = "config.invalid"

	EventTypeResourceChanged      = "resource.changed"
	EventTypeResourceSyncComplete = "resource.sync.complete"
	EventTypeIndexSynchronized    = "index.synchronized"
	EventTypeWatchFailed          = "watch.failed"

	EventTypeReconciliationTriggered = "reconciliation.triggered"
	EventTypeReconciliationStarted   = "reconciliation.started"
	EventTypeReconciliationCompleted = "reconciliation.completed"
	EventTypeReconciliationFailed    = "reconciliation.failed"
	EventTypeValidationCompleted     = "validation.completed"
	EventTypeConfigRendered          = "config.rendered"
	EventTypeTemplateRenderFailed    = "template.render.failed"

	EventTypeReloadSkipped        = "reload.skipped"
	EventTypeReloadStarted        = "reload.started"
	EventTypeReloadCompleted      = "reload.completed"
	EventTypeReloadFailed         = "reload.failed"
	EventTypeDynamicUpdateApplied = "dynamic.update.applied"

	EventTypeStatusPublished     = "status.published"
	EventTypeStatusPublishFailed = "status.publish.failed"

	EventTypeLeaderElectionStarted = "leader.election.started"
	EventTypeBecameLeader          = "leader.became"
	EventTypeLostLeadership        = "leader.lost"
	EventTypeNewLeaderObserved     = "leader.observed"

	EventTypeReadinessRequest  = "readiness.request"
	EventTypeReadinessResponse = "readiness.response"
)

// -----------------------------------------------------------------------------
// Lifecycle Events
// -----------------------------------------------------------------------------

// ControllerStartedEvent is published once every component is subscribed
// and the event bus has been started.
type ControllerStartedEvent struct {
	ConfigVersion string
	timestamp     time.Time
}

func NewControllerStartedEvent(configVersion string) *ControllerStartedEvent {
	return &ControllerStartedEvent{ConfigVersion: configVersion, timestamp: time.Now()}
}

func (e *ControllerStartedEvent) EventType() string    { return EventTypeControllerStarted }
func (e *ControllerStartedEvent) Timestamp() time.Time { return e.timestamp }

// ControllerShutdownEvent is published when an iteration of the controller
// ends, either for shutdown or for reinitialization.
type ControllerShutdownEvent struct {
	Reason    string
	timestamp time.Time
}

func NewControllerShutdownEvent(reason string) *ControllerShutdownEvent {
	return &ControllerShutdownEvent{Reason: reason, timestamp: time.Now()}
}

func (e *ControllerShutdownEvent) EventType() string    { return EventTypeControllerShutdown }
func (e *ControllerShutdownEvent) Timestamp() time.Time { return e.timestamp }

// -----------------------------------------------------------------------------
// Configuration Events
// -----------------------------------------------------------------------------

// ConfigChangedEvent is published when a valid new controller configuration
// was read. The controller reinitializes in response.
type ConfigChangedEvent struct {
	Path      string
	Version   string
	timestamp time.Time
}

func NewConfigChangedEvent(path, version string) *ConfigChangedEvent {
	return &ConfigChangedEvent{Path: path, Version: version, timestamp: time.Now()}
}

func (e *ConfigChangedEvent) EventType() string    { return EventTypeConfigChanged }
func (e *ConfigChangedEvent) Timestamp() time.Time { return e.timestamp }

// ConfigInvalidEvent is published when a changed configuration file fails
// to load. The running configuration stays in effect.
type ConfigInvalidEvent struct {
	Path      string
	Error     string
	timestamp time.Time
}

func NewConfigInvalidEvent(path string, err error) *ConfigInvalidEvent {
	return &ConfigInvalidEvent{Path: path, Error: err.Error(), timestamp: time.Now()}
}

func (e *ConfigInvalidEvent) EventType() string    { return EventTypeConfigInvalid }
func (e *ConfigInvalidEvent) Timestamp() time.Time { return e.timestamp }

// -----------------------------------------------------------------------------
// Resource Events
// -----------------------------------------------------------------------------

// ResourceOp is the kind of change observed for a resource.
type ResourceOp string

const (
	OpAdd    ResourceOp = "add"
	OpUpdate ResourceOp = "update"
	OpDelete ResourceOp = "delete"
)

// ResourceChangedEvent is published after the store has been updated for a
// watched resource.
type ResourceChangedEvent struct {
	ID              resourcestore.Identity
	ResourceVersion string
	Op              ResourceOp

	// InitialSync is true for changes observed while the informer of the
	// kind was still listing.
	InitialSync bool
	timestamp   time.Time
}

func NewResourceChangedEvent(id resourcestore.Identity, resourceVersion string, op ResourceOp, initialSync bool) *ResourceChangedEvent {
	return &ResourceChangedEvent{
		ID:              id,
		ResourceVersion: resourceVersion,
		Op:              op,
		InitialSync:     initialSync,
		timestamp:       time.Now(),
	}
}

func (e *ResourceChangedEvent) EventType() string    { return EventTypeResourceChanged }
func (e *ResourceChangedEvent) Timestamp() time.Time { return e.timestamp }

// ResourceSyncCompleteEvent is published when the initial list of one kind
// is in the store.
type ResourceSyncCompleteEvent struct {
	Kind      string
	Count     int
	timestamp time.Time
}

func NewResourceSyncCompleteEvent(kind string, count int) *ResourceSyncCompleteEvent {
	return &ResourceSyncCompleteEvent{Kind: kind, Count: count, timestamp: time.Now()}
}

func (e *ResourceSyncCompleteEvent) EventType() string    { return EventTypeResourceSyncComplete }
func (e *ResourceSyncCompleteEvent) Timestamp() time.Time { return e.timestamp }

// IndexSynchronizedEvent is published once every watched kind has synced.
// It triggers the first reconciliation.
type IndexSynchronizedEvent struct {
	Counts    map[string]int
	timestamp time.Time
}

func NewIndexSynchronizedEvent(counts map[string]int) *IndexSynchronizedEvent {
	return &IndexSynchronizedEvent{Counts: counts, timestamp: time.Now()}
}

func (e *IndexSynchronizedEvent) EventType() string    { return EventTypeIndexSynchronized }
func (e *IndexSynchronizedEvent) Timestamp() time.Time { return e.timestamp }

// WatchFailedEvent is published for every failed list or watch call.
type WatchFailedEvent struct {
	Kind      string
	Failures  int
	Error     string
	timestamp time.Time
}

func NewWatchFailedEvent(kind string, failures int, err error) *WatchFailedEvent {
	return &WatchFailedEvent{Kind: kind, Failures: failures, Error: err.Error(), timestamp: time.Now()}
}

func (e *WatchFailedEvent) EventType() string    { return EventTypeWatchFailed }
func (e *WatchFailedEvent) Timestamp() time.Time { return e.timestamp }

// -----------------------------------------------------------------------------
// Reconciliation Events
// -----------------------------------------------------------------------------

// ReconciliationTriggeredEvent asks the executor for a new pass.
type ReconciliationTriggeredEvent struct {
	Reason string
	// Changes is the number of resource changes batched into the trigger.
	Changes   int
	timestamp time.Time
}

func NewReconciliationTriggeredEvent(reason string, changes int) *ReconciliationTriggeredEvent {
	return &ReconciliationTriggeredEvent{Reason: reason, Changes: changes, timestamp: time.Now()}
}

func (e *ReconciliationTriggeredEvent) EventType() string    { return EventTypeReconciliationTriggered }
func (e *ReconciliationTriggeredEvent) Timestamp() time.Time { return e.timestamp }

type ReconciliationStartedEvent struct {
	ReconcileID string
	Trigger     string
	timestamp   time.Time
}

func NewReconciliationStartedEvent(reconcileID, trigger string) *ReconciliationStartedEvent {
	return &ReconciliationStartedEvent{ReconcileID: reconcileID, Trigger: trigger, timestamp: time.Now()}
}

func (e *ReconciliationStartedEvent) EventType() string    { return EventTypeReconciliationStarted }
func (e *ReconciliationStartedEvent) Timestamp() time.Time { return e.timestamp }

type ReconciliationCompletedEvent struct {
	ReconcileID string
	Checksum    string
	DurationMs  int64
	timestamp   time.Time
}

func NewReconciliationCompletedEvent(reconcileID, checksum string, durationMs int64) *ReconciliationCompletedEvent {
	return &ReconciliationCompletedEvent{
		ReconcileID: reconcileID,
		Checksum:    checksum,
		DurationMs:  durationMs,
		timestamp:   time.Now(),
	}
}

func (e *ReconciliationCompletedEvent) EventType() string    { return EventTypeReconciliationCompleted }
func (e *ReconciliationCompletedEvent) Timestamp() time.Time { return e.timestamp }

// ReconciliationFailedEvent reports a pass that produced no configuration.
// Phase is the step that failed ("render").
type ReconciliationFailedEvent struct {
	ReconcileID string
	Phase       string
	Error       string
	timestamp   time.Time
}

func NewReconciliationFailedEvent(reconcileID, phase string, err error) *ReconciliationFailedEvent {
	return &ReconciliationFailedEvent{
		ReconcileID: reconcileID,
		Phase:       phase,
		Error:       err.Error(),
		timestamp:   time.Now(),
	}
}

func (e *ReconciliationFailedEvent) EventType() string    { return EventTypeReconciliationFailed }
func (e *ReconciliationFailedEvent) Timestamp() time.Time { return e.timestamp }

// ValidationCompletedEvent carries the validation outcome of every resource
// the pass looked at, sorted by identity.
type ValidationCompletedEvent struct {
	ReconcileID string
	Outcomes    []configuration.Outcome
	// Promoted lists resources that took over a released host or listener.
	Promoted  []resourcestore.Identity
	timestamp time.Time
}

func NewValidationCompletedEvent(reconcileID string, outcomes []configuration.Outcome, promoted []resourcestore.Identity) *ValidationCompletedEvent {
	return &ValidationCompletedEvent{
		ReconcileID: reconcileID,
		Outcomes:    outcomes,
		Promoted:    promoted,
		timestamp:   time.Now(),
	}
}

func (e *ValidationCompletedEvent) EventType() string    { return EventTypeValidationCompleted }
func (e *ValidationCompletedEvent) Timestamp() time.Time { return e.timestamp }

// ConfigRenderedEvent carries a rendered configuration to the reloader.
type ConfigRenderedEvent struct {
	ReconcileID string
	Config      *renderer.Config
	Checksum    string
	DurationMs  int64
	timestamp   time.Time
}

func NewConfigRenderedEvent(reconcileID string, cfg *renderer.Config, durationMs int64) *ConfigRenderedEvent {
	return &ConfigRenderedEvent{
		ReconcileID: reconcileID,
		Config:      cfg,
		Checksum:    cfg.Checksum(),
		DurationMs:  durationMs,
		timestamp:   time.Now(),
	}
}

func (e *ConfigRenderedEvent) EventType() string    { return EventTypeConfigRendered }
func (e *ConfigRenderedEvent) Timestamp() time.Time { return e.timestamp }

type TemplateRenderFailedEvent struct {
	ReconcileID string
	Error       string
	// Details is the formatted, multi-line description of the error.
	Details   string
	timestamp time.Time
}

func NewTemplateRenderFailedEvent(reconcileID string, err error, details string) *TemplateRenderFailedEvent {
	return &TemplateRenderFailedEvent{
		ReconcileID: reconcileID,
		Error:       err.Error(),
		Details:     details,
		timestamp:   time.Now(),
	}
}

func (e *TemplateRenderFailedEvent) EventType() string    { return EventTypeTemplateRenderFailed }
func (e *TemplateRenderFailedEvent) Timestamp() time.Time { return e.timestamp }

// -----------------------------------------------------------------------------
// Reload Events
// -----------------------------------------------------------------------------

// ReloadSkippedEvent is published when a rendered configuration needs no
// change on the data plane.
type ReloadSkippedEvent struct {
	Checksum  string
	timestamp time.Time
}

func NewReloadSkippedEvent(checksum string) *ReloadSkippedEvent {
	return &ReloadSkippedEvent{Checksum: checksum, timestamp: time.Now()}
}

func (e *ReloadSkippedEvent) EventType() string    { return EventTypeReloadSkipped }
func (e *ReloadSkippedEvent) Timestamp() time.Time { return e.timestamp }

type ReloadStartedEvent struct {
	Checksum  string
	Reasons   []string
	timestamp time.Time
}

func NewReloadStartedEvent(checksum string, reasons []string) *ReloadStartedEvent {
	r := make([]string, len(reasons))
	copy(r, reasons)
	return &ReloadStartedEvent{Checksum: checksum, Reasons: r, timestamp: time.Now()}
}

func (e *ReloadStartedEvent) EventType() string    { return EventTypeReloadStarted }
func (e *ReloadStartedEvent) Timestamp() time.Time { return e.timestamp }

type ReloadCompletedEvent struct {
	Checksum   string
	DurationMs int64
	timestamp  time.Time
}

func NewReloadCompletedEvent(checksum string, durationMs int64) *ReloadCompletedEvent {
	return &ReloadCompletedEvent{Checksum: checksum, DurationMs: durationMs, timestamp: time.Now()}
}

func (e *ReloadCompletedEvent) EventType() string    { return EventTypeReloadCompleted }
func (e *ReloadCompletedEvent) Timestamp() time.Time { return e.timestamp }

// ReloadFailedEvent reports a failed full reload or dynamic update. The
// previous configuration stays active.
type ReloadFailedEvent struct {
	Checksum string
	// Phase is "write", "test", "reload" or "dynamic".
	Phase      string
	Error      string
	DurationMs int64
	timestamp  time.Time
}

func NewReloadFailedEvent(checksum, phase string, err error, durationMs int64) *ReloadFailedEvent {
	return &ReloadFailedEvent{
		Checksum:   checksum,
		Phase:      phase,
		Error:      err.Error(),
		DurationMs: durationMs,
		timestamp:  time.Now(),
	}
}

func (e *ReloadFailedEvent) EventType() string    { return EventTypeReloadFailed }
func (e *ReloadFailedEvent) Timestamp() time.Time { return e.timestamp }

// DynamicUpdateAppliedEvent is published when certificates or split weights
// were changed without a reload. Type is "certificates" or "weights".
type DynamicUpdateAppliedEvent struct {
	Type      string
	Count     int
	Checksum  string
	timestamp time.Time
}

func NewDynamicUpdateAppliedEvent(updateType string, count int, checksum string) *DynamicUpdateAppliedEvent {
	return &DynamicUpdateAppliedEvent{Type: updateType, Count: count, Checksum: checksum, timestamp: time.Now()}
}

func (e *DynamicUpdateAppliedEvent) EventType() string    { return EventTypeDynamicUpdateApplied }
func (e *DynamicUpdateAppliedEvent) Timestamp() time.Time { return e.timestamp }

// -----------------------------------------------------------------------------
// Status Events
// -----------------------------------------------------------------------------

type StatusPublishedEvent struct {
	ID        resourcestore.Identity
	State     string
	Reason    string
	timestamp time.Time
}

func NewStatusPublishedEvent(id resourcestore.Identity, state, reason string) *StatusPublishedEvent {
	return &StatusPublishedEvent{ID: id, State: state, Reason: reason, timestamp: time.Now()}
}

func (e *StatusPublishedEvent) EventType() string    { return EventTypeStatusPublished }
func (e *StatusPublishedEvent) Timestamp() time.Time { return e.timestamp }

type StatusPublishFailedEvent struct {
	ID        resourcestore.Identity
	Error     string
	timestamp time.Time
}

func NewStatusPublishFailedEvent(id resourcestore.Identity, err error) *StatusPublishFailedEvent {
	return &StatusPublishFailedEvent{ID: id, Error: err.Error(), timestamp: time.Now()}
}

func (e *StatusPublishFailedEvent) EventType() string    { return EventTypeStatusPublishFailed }
func (e *StatusPublishFailedEvent) Timestamp() time.Time { return e.timestamp }

// -----------------------------------------------------------------------------
// Leader Election Events
// -----------------------------------------------------------------------------

type LeaderElectionStartedEvent struct {
	Identity       string
	LeaseName      string
	LeaseNamespace string
	timestamp      time.Time
}

func NewLeaderElectionStartedEvent(identity, leaseName, leaseNamespace string) *LeaderElectionStartedEvent {
	return &LeaderElectionStartedEvent{
		Identity:       identity,
		LeaseName:      leaseName,
		LeaseNamespace: leaseNamespace,
		timestamp:      time.Now(),
	}
}

func (e *LeaderElectionStartedEvent) EventType() string    { return EventTypeLeaderElectionStarted }
func (e *LeaderElectionStartedEvent) Timestamp() time.Time { return e.timestamp }

// BecameLeaderEvent is published when this replica acquired the lease. Only
// the leader writes resource status.
type BecameLeaderEvent struct {
	Identity  string
	timestamp time.Time
}

func NewBecameLeaderEvent(identity string) *BecameLeaderEvent {
	return &BecameLeaderEvent{Identity: identity, timestamp: time.Now()}
}

func (e *BecameLeaderEvent) EventType() string    { return EventTypeBecameLeader }
func (e *BecameLeaderEvent) Timestamp() time.Time { return e.timestamp }

type LostLeadershipEvent struct {
	Identity  string
	Reason    string
	timestamp time.Time
}

func NewLostLeadershipEvent(identity, reason string) *LostLeadershipEvent {
	return &LostLeadershipEvent{Identity: identity, Reason: reason, timestamp: time.Now()}
}

func (e *LostLeadershipEvent) EventType() string    { return EventTypeLostLeadership }
func (e *LostLeadershipEvent) Timestamp() time.Time { return e.timestamp }

type NewLeaderObservedEvent struct {
	NewLeaderIdentity string
	IsSelf            bool
	timestamp         time.Time
}

func NewNewLeaderObservedEvent(identity string, isSelf bool) *NewLeaderObservedEvent {
	return &NewLeaderObservedEvent{NewLeaderIdentity: identity, IsSelf: isSelf, timestamp: time.Now()}
}

func (e *NewLeaderObservedEvent) EventType() string    { return EventTypeNewLeaderObserved }
func (e *NewLeaderObservedEvent) Timestamp() time.Time { return e.timestamp }

// -----------------------------------------------------------------------------
// Readiness Events
// -----------------------------------------------------------------------------

// ReadinessRequest asks every component whether it is ready. It is sent
// with EventBus.Request.
type ReadinessRequest struct {
	ID        string
	timestamp time.Time
}

func NewReadinessRequest(id string) *ReadinessRequest {
	return &ReadinessRequest{ID: id, timestamp: time.Now()}
}

func (e *ReadinessRequest) EventType() string    { return EventTypeReadinessRequest }
func (e *ReadinessRequest) Timestamp() time.Time { return e.timestamp }
func (e *ReadinessRequest) RequestID() string    { return e.ID }

type ReadinessResponse struct {
	ReqID     string
	Component string
	Ready     bool
	Detail    string
	timestamp time.Time
}

func NewReadinessResponse(requestID, component string, ready bool, detail string) *ReadinessResponse {
	return &ReadinessResponse{
		ReqID:     requestID,
		Component: component,
		Ready:     ready,
		Detail:    detail,
		timestamp: time.Now(),
	}
}

func (e *ReadinessResponse) EventType() string    { return EventTypeReadinessResponse }
func (e *ReadinessResponse) Timestamp() time.Time { return e.timestamp }
func (e *ReadinessResponse) RequestID() string    { return e.ReqID }
func (e *ReadinessResponse) Responder() string    { return e.Component }
