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

// Package status implements the component that reports validation outcomes
// as resource status and Kubernetes Events.
package status

import (
	"context"
	"log/slog"
	"sync"

	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/resourcestore"
	busevents "nginx-reconciler/pkg/events"
	k8sstatus "nginx-reconciler/pkg/k8s/status"
)

const (
	// ComponentName identifies the status reporter in readiness responses.
	ComponentName = "status"

	// EventBufferSize is the size of the event subscription buffer.
	EventBufferSize = 200
)

// Writer persists one status update.
type Writer interface {
	Write(ctx context.Context, u k8sstatus.Update) error
}

// entry is what was, or should be, published for a resource.
type entry struct {
	state        string
	reason       string
	message      string
	referencedBy string
	generation   int64
}

// Component publishes the outcome of every validated resource exactly once
// per distinct (state, reason, message).
//
// Only the leader writes. Outcomes observed while not leading are kept and
// written when leadership is acquired.
//
// Event subscriptions:
//   - ValidationCompletedEvent: publish outcomes
//   - ResourceChangedEvent: forget deleted resources
//   - BecameLeaderEvent / LostLeadershipEvent: start and stop writing
type Component struct {
	eventBus  *busevents.EventBus
	eventChan <-chan busevents.Event
	writer    Writer
	logger    *slog.Logger

	mu        sync.Mutex
	leader    bool
	desired   map[resourcestore.Identity]entry
	published map[resourcestore.Identity]entry
}

// New creates a status component. leader is the initial leadership state;
// pass true when leader election is disabled.
func New(eventBus *busevents.EventBus, writer Writer, leader bool, logger *slog.Logger) *Component {
	return &Component{
		eventBus:  eventBus,
		eventChan: eventBus.Subscribe(EventBufferSize),
		writer:    writer,
		logger:    logger.With("component", ComponentName),
		leader:    leader,
		desired:   make(map[resourcestore.Identity]entry),
		published: make(map[resourcestore.Identity]entry),
	}
}

// Start runs the event loop until ctx is cancelled.
func (c *Component) Start(ctx context.Context) error {
	c.logger.Info("status reporter starting", "leader", c.isLeader())

	for {
		select {
		case event := <-c.eventChan:
			c.handleEvent(ctx, event)
		case <-ctx.Done():
			c.logger.Info("status reporter shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func (c *Component) handleEvent(ctx context.Context, event busevents.Event) {
	switch e := event.(type) {
	case *events.ValidationCompletedEvent:
		for _, o := range e.Outcomes {
			c.Publish(ctx, o)
		}

	case *events.ResourceChangedEvent:
		if e.Op == events.OpDelete {
			c.Forget(e.ID)
		}

	case *events.BecameLeaderEvent:
		c.setLeader(true)
		c.replay(ctx)

	case *events.LostLeadershipEvent:
		c.setLeader(false)

	case *events.ReadinessRequest:
		c.eventBus.Publish(events.NewReadinessResponse(e.RequestID(), ComponentName, true, ""))
	}
}

// Publish writes the outcome of a resource unless the same state, reason
// and message were already published for it.
func (c *Component) Publish(ctx context.Context, o configuration.Outcome) {
	e := entry{
		state:        string(o.State),
		reason:       o.Reason,
		message:      o.Message,
		referencedBy: o.ReferencedBy,
		generation:   o.Generation,
	}

	c.mu.Lock()
	c.desired[o.ID] = e
	leader := c.leader
	c.mu.Unlock()

	if leader {
		c.write(ctx, o.ID, e)
	}
}

// Forget drops everything known about id, so a recreated resource is
// published again.
func (c *Component) Forget(id resourcestore.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.desired, id)
	delete(c.published, id)
}

func (c *Component) write(ctx context.Context, id resourcestore.Identity, e entry) {
	c.mu.Lock()
	prev, ok := c.published[id]
	c.mu.Unlock()
	if ok && sameOutcome(prev, e) {
		return
	}

	err := c.writer.Write(ctx, k8sstatus.Update{
		Kind:               id.Kind,
		Namespace:          id.Namespace,
		Name:               id.Name,
		State:              e.state,
		Reason:             e.reason,
		Message:            e.message,
		ReferencedBy:       e.referencedBy,
		ObservedGeneration: e.generation,
	})
	if err != nil {
		c.logger.Warn("failed to publish status",
			"resource", id.String(),
			"error", err)
		c.eventBus.Publish(events.NewStatusPublishFailedEvent(id, err))
		return
	}

	c.mu.Lock()
	// A delete may have raced with the write.
	if _, stillWanted := c.desired[id]; stillWanted {
		c.published[id] = e
	}
	c.mu.Unlock()

	c.logger.Debug("status published",
		"resource", id.String(),
		"state", e.state,
		"reason", e.reason)
	c.eventBus.Publish(events.NewStatusPublishedEvent(id, e.state, e.reason))
}

// replay writes every outcome that differs from what was last published.
func (c *Component) replay(ctx context.Context) {
	c.mu.Lock()
	pending := make(map[resourcestore.Identity]entry, len(c.desired))
	for id, e := range c.desired {
		pending[id] = e
	}
	c.mu.Unlock()

	c.logger.Info("became leader, publishing pending status", "resources", len(pending))
	for id, e := range pending {
		c.write(ctx, id, e)
	}
}

func (c *Component) setLeader(leader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leader = leader
	if !leader {
		// Another replica may write in the meantime.
		c.published = make(map[resourcestore.Identity]entry)
	}
}

func (c *Component) isLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

// sameOutcome ignores the generation: a new generation with the same
// outcome produces no new Event.
func sameOutcome(a, b entry) bool {
	return a.state == b.state && a.reason == b.reason && a.message == b.message && a.referencedBy == b.referencedBy
}
