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

// Package resourcewatcher connects the Kubernetes watch layer to the
// resource store and the event bus.
//
// The component:
//   - Watches every kind the controller handles, honouring the namespace
//     scope of the configuration
//   - Upserts and deletes resources in the store before publishing
//     ResourceChangedEvent, so that consumers always find the change in
//     the store
//   - Publishes ResourceSyncCompleteEvent per kind and one
//     IndexSynchronizedEvent once every kind has delivered its initial list
//   - Publishes WatchFailedEvent for failed list and watch calls
package resourcewatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/dynamic"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/resourcestore"
	busevents "nginx-reconciler/pkg/events"
	"nginx-reconciler/pkg/k8s/watcher"
)

const (
	// ComponentName is the unique identifier for this component.
	ComponentName = "resourcewatcher"

	// EventBufferSize is the size of the event subscription buffer.
	EventBufferSize = 10
)

// Options select what is watched.
type Options struct {
	// CustomResources enables the custom resource kinds.
	CustomResources bool

	Namespaces        []string
	NamespaceSelector string

	// RetryBudget is the number of consecutive watch failures tolerated
	// per kind before Start returns an error.
	RetryBudget int
}

// Kinds returns the kinds watched with the given custom resource setting,
// in dependency order.
func Kinds(customResources bool) []v1.ResourceKind {
	var out []v1.ResourceKind
	for _, rk := range v1.WatchedKinds {
		if rk.Custom && !customResources {
			continue
		}
		out = append(out, rk)
	}
	return out
}

// Component feeds the resource store from the watch layer.
type Component struct {
	watcher   *watcher.Watcher
	store     *resourcestore.Store
	eventBus  *busevents.EventBus
	eventChan <-chan busevents.Event
	kinds     []v1.ResourceKind
	logger    *slog.Logger

	synced atomic.Bool
}

// New creates the component. Watching starts with Start.
func New(
	opts Options,
	client dynamic.Interface,
	store *resourcestore.Store,
	eventBus *busevents.EventBus,
	logger *slog.Logger,
) (*Component, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("event bus is nil")
	}

	c := &Component{
		store:     store,
		eventBus:  eventBus,
		eventChan: eventBus.Subscribe(EventBufferSize),
		kinds:     Kinds(opts.CustomResources),
		logger:    logger.With("component", ComponentName),
	}

	w, err := watcher.New(watcher.Config{
		Kinds:             c.kinds,
		Namespaces:        opts.Namespaces,
		NamespaceSelector: opts.NamespaceSelector,
		RetryBudget:       opts.RetryBudget,
		OnWatchError: func(kind string, failures int, err error) {
			eventBus.Publish(events.NewWatchFailedEvent(kind, failures, err))
		},
	}, client, c.handle, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	c.watcher = w

	return c, nil
}

// Start watches until ctx is cancelled. It returns an error when a kind
// exhausts its retry budget; the caller is expected to exit so that a
// restart re-lists everything.
func (c *Component) Start(ctx context.Context) error {
	kindNames := make([]string, 0, len(c.kinds))
	for _, rk := range c.kinds {
		kindNames = append(kindNames, rk.Kind)
	}
	c.logger.Info("resource watcher starting", "kinds", kindNames)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.watcher.Run(gCtx)
	})

	g.Go(func() error {
		if err := c.watcher.WaitForSync(gCtx); err != nil {
			if gCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("initial sync failed: %w", err)
		}
		c.publishSynced()
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case event := <-c.eventChan:
				c.handleEvent(event)
			case <-gCtx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	c.logger.Info("resource watcher stopped")
	return err
}

// Synced reports whether every kind has delivered its initial list.
func (c *Component) Synced() bool {
	return c.synced.Load()
}

func (c *Component) publishSynced() {
	counts := c.store.Counts()
	for _, rk := range c.kinds {
		c.eventBus.Publish(events.NewResourceSyncCompleteEvent(rk.Kind, counts[rk.Kind]))
	}

	c.synced.Store(true)
	c.logger.Info("all resources synced", "counts", counts)
	c.eventBus.Publish(events.NewIndexSynchronizedEvent(counts))
}

// handle applies a watch event to the store and announces it.
func (c *Component) handle(ev watcher.Event) {
	id := resourcestore.Identity{Kind: ev.Kind, Namespace: ev.Namespace, Name: ev.Name}

	switch ev.Op {
	case watcher.OpDelete:
		if !c.store.Delete(id) {
			return
		}
	default:
		if ev.Object == nil {
			return
		}
		// Resyncs deliver unchanged resource versions.
		if !c.store.Upsert(resourcestore.NewWatchedResource(ev.Kind, ev.Object)) {
			return
		}
	}

	c.logger.Debug("resource changed",
		"resource", id.String(),
		"op", ev.Op,
		"resource_version", ev.ResourceVersion,
		"initial_sync", ev.InitialSync)

	c.eventBus.Publish(events.NewResourceChangedEvent(id, ev.ResourceVersion, events.ResourceOp(ev.Op), ev.InitialSync))
}

func (c *Component) handleEvent(event busevents.Event) {
	if req, ok := event.(*events.ReadinessRequest); ok {
		detail := "waiting for initial sync"
		if c.synced.Load() {
			detail = "all resources synced"
		}
		c.eventBus.Publish(events.NewReadinessResponse(req.RequestID(), ComponentName, c.synced.Load(), detail))
	}
}
