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

package status

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/resourcestore"
	busevents "nginx-reconciler/pkg/events"
	k8sstatus "nginx-reconciler/pkg/k8s/status"
)

type recordingWriter struct {
	mu      sync.Mutex
	updates []k8sstatus.Update
	err     error
}

func (w *recordingWriter) Write(_ context.Context, u k8sstatus.Update) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.updates = append(w.updates, u)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.updates)
}

func (w *recordingWriter) last() k8sstatus.Update {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updates[len(w.updates)-1]
}

var cafe = resourcestore.Identity{Kind: v1.KindVirtualServer, Namespace: "default", Name: "cafe"}

func validOutcome() configuration.Outcome {
	return configuration.Outcome{
		ID:         cafe,
		State:      resourcestore.StateValid,
		Reason:     v1.ReasonAddedOrUpdated,
		Message:    "Configuration for default/cafe was added or updated",
		Generation: 1,
	}
}

func newComponent(leader bool) (*Component, *recordingWriter) {
	w := &recordingWriter{}
	bus := busevents.NewEventBus(100)
	c := New(bus, w, leader, slog.New(slog.NewTextHandler(io.Discard, nil)))
	bus.Start()
	return c, w
}

func TestPublish_Idempotent(t *testing.T) {
	c, w := newComponent(true)
	ctx := context.Background()

	c.Publish(ctx, validOutcome())
	c.Publish(ctx, validOutcome())

	next := validOutcome()
	next.Generation = 2
	c.Publish(ctx, next)

	assert.Equal(t, 1, w.count())
	assert.Equal(t, k8sstatus.Update{
		Kind:               v1.KindVirtualServer,
		Namespace:          "default",
		Name:               "cafe",
		State:              "Valid",
		Reason:             v1.ReasonAddedOrUpdated,
		Message:            "Configuration for default/cafe was added or updated",
		ObservedGeneration: 1,
	}, w.last())

	rejected := validOutcome()
	rejected.State = resourcestore.StateInvalid
	rejected.Reason = v1.ReasonRejected
	rejected.Message = "VirtualServer default/cafe was rejected with error: spec.host: Required value"
	c.Publish(ctx, rejected)
	c.Publish(ctx, rejected)

	assert.Equal(t, 2, w.count())
	assert.Equal(t, "Invalid", w.last().State)
}

func TestPublish_FailedWriteIsRetried(t *testing.T) {
	c, w := newComponent(true)
	ctx := context.Background()

	w.err = errors.New("connection refused")
	c.Publish(ctx, validOutcome())
	assert.Equal(t, 0, w.count())

	w.err = nil
	c.Publish(ctx, validOutcome())
	assert.Equal(t, 1, w.count())
}

func TestForget_RecreatedResourceIsPublishedAgain(t *testing.T) {
	c, w := newComponent(true)
	ctx := context.Background()

	c.Publish(ctx, validOutcome())
	c.Forget(cafe)
	c.Publish(ctx, validOutcome())

	assert.Equal(t, 2, w.count())
}

func TestLeadership(t *testing.T) {
	c, w := newComponent(false)
	ctx := context.Background()

	c.Publish(ctx, validOutcome())
	assert.Equal(t, 0, w.count(), "followers must not write status")

	c.handleEvent(ctx, events.NewBecameLeaderEvent("pod-a"))
	assert.Equal(t, 1, w.count())

	c.Publish(ctx, validOutcome())
	assert.Equal(t, 1, w.count())

	c.handleEvent(ctx, events.NewLostLeadershipEvent("pod-a", "lease_lost"))
	c.Publish(ctx, validOutcome())
	assert.Equal(t, 1, w.count())

	c.handleEvent(ctx, events.NewBecameLeaderEvent("pod-a"))
	assert.Equal(t, 2, w.count(), "new leader republishes")
}

func TestComponent_EventLoop(t *testing.T) {
	w := &recordingWriter{}
	bus := busevents.NewEventBus(100)
	c := New(bus, w, true, slog.New(slog.NewTextHandler(io.Discard, nil)))
	published := bus.Subscribe(100)
	bus.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Start(ctx) }()

	bus.Publish(events.NewValidationCompletedEvent("r1", []configuration.Outcome{validOutcome()}, nil))
	bus.Publish(events.NewResourceChangedEvent(cafe, "12", events.OpDelete, false))
	bus.Publish(events.NewValidationCompletedEvent("r2", []configuration.Outcome{validOutcome()}, nil))

	require.Eventually(t, func() bool { return w.count() == 2 }, time.Second, 10*time.Millisecond)

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-published:
			if e, ok := ev.(*events.StatusPublishedEvent); ok {
				assert.Equal(t, cafe, e.ID)
				assert.Equal(t, "Valid", e.State)
				return
			}
		case <-timeout:
			t.Fatal("no StatusPublishedEvent")
		}
	}
}
