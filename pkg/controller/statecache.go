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

package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"nginx-reconciler/pkg/controller/debug"
	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/renderer"
	"nginx-reconciler/pkg/controller/resourcestore"
	coreconfig "nginx-reconciler/pkg/core/config"
	busevents "nginx-reconciler/pkg/events"
)

// AppliedSource returns the configuration NGINX currently runs, or nil.
// The reloader component satisfies it.
type AppliedSource interface {
	Applied() *renderer.Config
}

// StateCache implements debug.StateProvider. The configuration and the
// store are read directly; apply times and errors are taken from reload
// events.
type StateCache struct {
	config  *coreconfig.Config
	version string
	store   *resourcestore.Store
	applied AppliedSource

	eventChan <-chan busevents.Event

	mu          sync.RWMutex
	appliedAt   time.Time
	lastFailure error
}

var _ debug.StateProvider = (*StateCache)(nil)

// NewStateCache subscribes to bus. Create it before bus.Start so that the
// first reload is not missed.
func NewStateCache(bus *busevents.EventBus, cfg *coreconfig.Config, version string, store *resourcestore.Store, applied AppliedSource) *StateCache {
	return &StateCache{
		config:    cfg,
		version:   version,
		store:     store,
		applied:   applied,
		eventChan: bus.Subscribe(100),
	}
}

// Start tracks reload events until ctx is cancelled.
func (sc *StateCache) Start(ctx context.Context) error {
	for {
		select {
		case event := <-sc.eventChan:
			sc.handleEvent(event)
		case <-ctx.Done():
			return nil
		}
	}
}

func (sc *StateCache) handleEvent(event busevents.Event) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	switch e := event.(type) {
	case *events.ReloadCompletedEvent:
		sc.appliedAt = e.Timestamp()
		sc.lastFailure = nil
	case *events.DynamicUpdateAppliedEvent:
		sc.appliedAt = e.Timestamp()
	case *events.ReloadFailedEvent:
		sc.lastFailure = errors.New(e.Phase + ": " + e.Error)
	}
}

// Config implements debug.StateProvider.
func (sc *StateCache) Config() (*coreconfig.Config, string) {
	return sc.config, sc.version
}

// AppliedConfig implements debug.StateProvider.
func (sc *StateCache) AppliedConfig() (*renderer.Config, time.Time, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.applied.Applied(), sc.appliedAt, sc.lastFailure
}

// Resources implements debug.StateProvider.
func (sc *StateCache) Resources() *resourcestore.Snapshot {
	return sc.store.Snapshot()
}
