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
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/resourcestore"
	pkgevents "nginx-reconciler/pkg/events"
)

// startComponent runs a component on a started bus and returns a function
// that blocks until every event published so far has been handled.
func startComponent(t *testing.T) (*Metrics, *pkgevents.EventBus, func()) {
	t.Helper()

	m := New(prometheus.NewRegistry())
	bus := pkgevents.NewEventBus(100)
	c := NewComponent(m, bus)
	bus.Start()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	drain := func() {
		require.Eventually(t, func() bool { return len(c.eventChan) == 0 }, time.Second, 5*time.Millisecond)
		// the last event may still be in handleEvent
		time.Sleep(20 * time.Millisecond)
	}
	return m, bus, drain
}

func resourceCount(t *testing.T, m *Metrics, kind string) float64 {
	t.Helper()
	g, err := m.Resources.GetMetricWithLabelValues(kind)
	require.NoError(t, err)
	return testutil.ToFloat64(g)
}

func TestComponent_ResourceCounts(t *testing.T) {
	m, bus, drain := startComponent(t)

	vs := func(name string) resourcestore.Identity {
		return resourcestore.Identity{Kind: "VirtualServer", Namespace: "default", Name: name}
	}

	// initial sync changes are ignored, the totals come with IndexSynchronizedEvent
	bus.Publish(events.NewResourceChangedEvent(vs("a"), "1", events.OpAdd, true))
	bus.Publish(events.NewIndexSynchronizedEvent(map[string]int{"VirtualServer": 2, "Secret": 0}))
	drain()
	assert.Equal(t, 2.0, resourceCount(t, m, "VirtualServer"))
	assert.Equal(t, 0.0, resourceCount(t, m, "Secret"))

	bus.Publish(events.NewResourceChangedEvent(vs("c"), "5", events.OpAdd, false))
	bus.Publish(events.NewResourceChangedEvent(vs("c"), "6", events.OpUpdate, false))
	bus.Publish(events.NewResourceChangedEvent(vs("a"), "7", events.OpDelete, false))
	bus.Publish(events.NewResourceChangedEvent(vs("b"), "8", events.OpDelete, false))
	bus.Publish(events.NewResourceChangedEvent(vs("c"), "9", events.OpDelete, false))
	bus.Publish(events.NewResourceChangedEvent(vs("c"), "9", events.OpDelete, false))
	drain()
	assert.Equal(t, 0.0, resourceCount(t, m, "VirtualServer"), "never negative")
}

func TestComponent_ResourceStates(t *testing.T) {
	m, bus, drain := startComponent(t)

	outcome := func(kind, name string, state resourcestore.ValidationState) configuration.Outcome {
		return configuration.Outcome{
			ID:    resourcestore.Identity{Kind: kind, Namespace: "default", Name: name},
			State: state,
		}
	}
	bus.Publish(events.NewValidationCompletedEvent("r1", []configuration.Outcome{
		outcome("VirtualServer", "a", resourcestore.StateValid),
		outcome("VirtualServer", "b", resourcestore.StateValid),
		outcome("VirtualServer", "c", resourcestore.StateInvalid),
		outcome("Ingress", "d", resourcestore.StateWarning),
	}, nil))
	drain()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResourcesState.WithLabelValues("VirtualServer", "Valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResourcesState.WithLabelValues("VirtualServer", "Invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResourcesState.WithLabelValues("Ingress", "Warning")))

	bus.Publish(events.NewValidationCompletedEvent("r2", []configuration.Outcome{
		outcome("VirtualServer", "a", resourcestore.StateValid),
	}, nil))
	drain()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResourcesState.WithLabelValues("VirtualServer", "Valid")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ResourcesState), "stale series are removed")
}

func TestComponent_Reconciliation(t *testing.T) {
	m, bus, drain := startComponent(t)

	bus.Publish(events.NewReconciliationCompletedEvent("r1", "abc", 1500))
	bus.Publish(events.NewReconciliationFailedEvent("r2", "render", errors.New("template error")))
	drain()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconciliationTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconciliationErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ReconciliationDuration))
}

func TestComponent_Reloads(t *testing.T) {
	m, bus, drain := startComponent(t)

	bus.Publish(events.NewReloadCompletedEvent("abc", 120))
	drain()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reloads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastReloadStatus))

	bus.Publish(events.NewReloadFailedEvent("def", "test", errors.New("nginx -t failed"), 40))
	drain()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reloads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReloadErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastReloadStatus))

	bus.Publish(events.NewDynamicUpdateAppliedEvent("certificates", 2, "ghi"))
	bus.Publish(events.NewDynamicUpdateAppliedEvent("weights", 1, "ghi"))
	bus.Publish(events.NewReloadFailedEvent("jkl", "dynamic", errors.New("plus api down"), 0))
	drain()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DynamicUpdates.WithLabelValues("certificates")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DynamicUpdates.WithLabelValues("weights")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DynamicUpdates.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReloadErrors), "dynamic failures are not reload errors")
}

func TestComponent_StatusAndWatch(t *testing.T) {
	m, bus, drain := startComponent(t)

	id := resourcestore.Identity{Kind: "VirtualServer", Namespace: "default", Name: "cafe"}
	bus.Publish(events.NewStatusPublishedEvent(id, "Valid", "AddedOrUpdated"))
	bus.Publish(events.NewStatusPublishFailedEvent(id, errors.New("conflict")))
	bus.Publish(events.NewWatchFailedEvent("Secret", 3, errors.New("forbidden")))
	drain()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusUpdates.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusUpdates.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WatchFailures.WithLabelValues("Secret")))
}

func TestComponent_EventsDropped(t *testing.T) {
	m, bus, drain := startComponent(t)

	// a subscriber that never reads
	bus.Subscribe(1)
	for i := 0; i < 4; i++ {
		bus.Publish(events.NewReloadSkippedEvent("abc"))
	}
	drain()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsDropped))
}
