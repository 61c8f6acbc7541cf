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

package resourcewatcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/resourcestore"
	busevents "nginx-reconciler/pkg/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func object(apiVersion, kind, ns, name, rv string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion(apiVersion)
	u.SetKind(kind)
	u.SetNamespace(ns)
	u.SetName(name)
	u.SetResourceVersion(rv)
	return u
}

func newFakeClient(objs ...runtime.Object) *dynamicfake.FakeDynamicClient {
	listKinds := make(map[schema.GroupVersionResource]string)
	for _, rk := range v1.WatchedKinds {
		listKinds[rk.GVR] = rk.Kind + "List"
	}
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds, objs...)
}

type harness struct {
	bus       *busevents.EventBus
	events    <-chan busevents.Event
	store     *resourcestore.Store
	client    *dynamicfake.FakeDynamicClient
	component *Component
}

func start(t *testing.T, opts Options, objs ...runtime.Object) *harness {
	t.Helper()

	bus := busevents.NewEventBus(100)
	h := &harness{
		bus:    bus,
		events: bus.Subscribe(200),
		store:  resourcestore.New(),
		client: newFakeClient(objs...),
	}

	c, err := New(opts, h.client, h.store, bus, testLogger())
	require.NoError(t, err)
	h.component = c
	bus.Start()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return h
}

// waitFor returns the first event of type T matching match.
func waitFor[T busevents.Event](t *testing.T, h *harness, match func(T) bool) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if e, ok := ev.(T); ok && (match == nil || match(e)) {
				return e
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestKinds(t *testing.T) {
	all := Kinds(true)
	assert.Len(t, all, len(v1.WatchedKinds))

	core := Kinds(false)
	var names []string
	for _, rk := range core {
		assert.False(t, rk.Custom)
		names = append(names, rk.Kind)
	}
	assert.Equal(t, []string{v1.KindSecret, v1.KindConfigMap, v1.KindEndpoints, v1.KindIngress}, names)
}

func TestNew_Errors(t *testing.T) {
	bus := busevents.NewEventBus(10)

	_, err := New(Options{}, newFakeClient(), nil, bus, testLogger())
	assert.ErrorContains(t, err, "store is nil")

	_, err = New(Options{}, newFakeClient(), resourcestore.New(), nil, testLogger())
	assert.ErrorContains(t, err, "event bus is nil")

	_, err = New(Options{}, nil, resourcestore.New(), bus, testLogger())
	assert.ErrorContains(t, err, "dynamic client is nil")
}

func TestComponent_InitialSync(t *testing.T) {
	h := start(t, Options{CustomResources: true},
		object("v1", v1.KindSecret, "default", "cafe-secret", "10"),
		object("networking.k8s.io/v1", v1.KindIngress, "default", "cafe", "11"),
		object(v1.SchemeGroupVersion.String(), v1.KindVirtualServer, "default", "tea", "12"),
	)

	changed := waitFor[*events.ResourceChangedEvent](t, h, nil)
	assert.True(t, changed.InitialSync)
	assert.Equal(t, events.OpAdd, changed.Op)

	synced := waitFor[*events.IndexSynchronizedEvent](t, h, nil)
	assert.Equal(t, 1, synced.Counts[v1.KindSecret])
	assert.Equal(t, 1, synced.Counts[v1.KindIngress])
	assert.Equal(t, 1, synced.Counts[v1.KindVirtualServer])
	assert.True(t, h.component.Synced())

	res, err := h.store.Get(resourcestore.Identity{Kind: v1.KindVirtualServer, Namespace: "default", Name: "tea"})
	require.NoError(t, err)
	assert.Equal(t, "12", res.ResourceVersion)
	assert.Equal(t, resourcestore.StateUnvalidated, res.State)
}

func TestComponent_ChangesAfterSync(t *testing.T) {
	h := start(t, Options{})
	waitFor[*events.IndexSynchronizedEvent](t, h, nil)

	cmGVR := schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}
	cm := object("v1", v1.KindConfigMap, "nginx-ingress", "nginx-config", "20")
	_, err := h.client.Resource(cmGVR).Namespace("nginx-ingress").Create(context.Background(), cm, metav1.CreateOptions{})
	require.NoError(t, err)

	id := resourcestore.Identity{Kind: v1.KindConfigMap, Namespace: "nginx-ingress", Name: "nginx-config"}
	added := waitFor(t, h, func(e *events.ResourceChangedEvent) bool { return e.ID == id })
	assert.Equal(t, events.OpAdd, added.Op)
	assert.False(t, added.InitialSync)

	_, err = h.store.Get(id)
	require.NoError(t, err, "store is updated before the event is published")

	require.NoError(t, h.client.Resource(cmGVR).Namespace("nginx-ingress").Delete(context.Background(), "nginx-config", metav1.DeleteOptions{}))

	deleted := waitFor(t, h, func(e *events.ResourceChangedEvent) bool { return e.ID == id && e.Op == events.OpDelete })
	assert.False(t, deleted.InitialSync)
	_, err = h.store.Get(id)
	assert.ErrorIs(t, err, resourcestore.ErrNotFound)
}

func TestComponent_CustomResourcesDisabled(t *testing.T) {
	h := start(t, Options{},
		object(v1.SchemeGroupVersion.String(), v1.KindVirtualServer, "default", "tea", "12"),
	)

	synced := waitFor[*events.IndexSynchronizedEvent](t, h, nil)
	assert.Zero(t, synced.Counts[v1.KindVirtualServer])
	assert.Empty(t, h.store.List(v1.KindVirtualServer))
}

func TestComponent_Readiness(t *testing.T) {
	h := start(t, Options{})
	waitFor[*events.IndexSynchronizedEvent](t, h, nil)

	h.bus.Publish(events.NewReadinessRequest("req-1"))

	resp := waitFor(t, h, func(e *events.ReadinessResponse) bool { return e.Component == ComponentName })
	assert.Equal(t, "req-1", resp.RequestID())
	assert.True(t, resp.Ready)
}
