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

package commentator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/resourcestore"
	busevents "nginx-reconciler/pkg/events"
)

func newTestCommentator(t *testing.T) (*EventCommentator, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewEventCommentator(busevents.NewEventBus(100), logger, 100), &buf
}

// records decodes the JSON log lines written so far.
func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestDetermineLogLevel(t *testing.T) {
	id := resourcestore.Identity{Kind: "VirtualServer", Namespace: "default", Name: "cafe"}

	tests := []struct {
		name  string
		event busevents.Event
		want  slog.Level
	}{
		{"reload failed", events.NewReloadFailedEvent("abc", "test", errors.New("bad"), 3), slog.LevelError},
		{"reconciliation failed", events.NewReconciliationFailedEvent("r1", "render", errors.New("bad")), slog.LevelError},
		{"config invalid", events.NewConfigInvalidEvent("/etc/config.yaml", errors.New("bad")), slog.LevelWarn},
		{"watch failed", events.NewWatchFailedEvent("Secret", 3, errors.New("forbidden")), slog.LevelWarn},
		{"reload completed", events.NewReloadCompletedEvent("abc", 12), slog.LevelInfo},
		{"live change", events.NewResourceChangedEvent(id, "5", events.OpUpdate, false), slog.LevelInfo},
		{"initial list", events.NewResourceChangedEvent(id, "5", events.OpAdd, true), slog.LevelDebug},
		{"reload skipped", events.NewReloadSkippedEvent("abc"), slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineLogLevel(tt.event))
		})
	}
}

func TestGenerateInsight(t *testing.T) {
	ec, _ := newTestCommentator(t)
	id := resourcestore.Identity{Kind: "VirtualServer", Namespace: "default", Name: "cafe"}

	tests := []struct {
		name  string
		event busevents.Event
		want  string
	}{
		{
			name:  "resource deleted",
			event: events.NewResourceChangedEvent(id, "7", events.OpDelete, false),
			want:  "VirtualServer default/cafe deleted",
		},
		{
			name:  "index synchronized",
			event: events.NewIndexSynchronizedEvent(map[string]int{"Ingress": 2, "Secret": 3}),
			want:  "All watched kinds synchronized (5 resources across 2 kinds)",
		},
		{
			name: "validation",
			event: events.NewValidationCompletedEvent("r1", []configuration.Outcome{
				{ID: id, State: resourcestore.StateValid},
				{ID: id, State: resourcestore.StateWarning},
				{ID: id, State: resourcestore.StateInvalid},
			}, []resourcestore.Identity{id}),
			want: "Validated 3 resources: 1 valid, 1 with warnings, 1 invalid, 1 promoted",
		},
		{
			name:  "reload failed",
			event: events.NewReloadFailedEvent("0123456789abcdef", "test", errors.New("unknown directive"), 8),
			want:  "NGINX test failed for 0123456789ab, previous configuration kept: unknown directive",
		},
		{
			name:  "dynamic update",
			event: events.NewDynamicUpdateAppliedEvent("certificates", 2, "abc"),
			want:  "Applied 2 certificates updates without reload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, attrs := ec.generateInsight(tt.event)
			assert.Equal(t, tt.want, msg)
			assert.Equal(t, "event_type", attrs[0])
			assert.Equal(t, tt.event.EventType(), attrs[1])
		})
	}
}

func TestReloadCorrelatesWithTrigger(t *testing.T) {
	ec, buf := newTestCommentator(t)
	ctx := context.Background()

	ec.processEvent(ctx, events.NewReconciliationTriggeredEvent("debounce_timer", 4))
	ec.processEvent(ctx, events.NewReloadCompletedEvent("0123456789abcdef", 40))

	recs := records(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "DEBUG", recs[0]["level"])
	assert.Contains(t, recs[1]["msg"], "NGINX reloaded with 0123456789ab in 40ms (")
	assert.Contains(t, recs[1]["msg"], "after the triggering change batch")
	assert.Equal(t, "commentator", recs[1]["component"])
}

func TestReadinessTrafficIsNotLogged(t *testing.T) {
	ec, buf := newTestCommentator(t)

	ec.processEvent(context.Background(), events.NewReadinessRequest("q1"))
	ec.processEvent(context.Background(), events.NewReadinessResponse("q1", "executor", true, ""))

	assert.Empty(t, buf.String())
	assert.Equal(t, 0, ec.recent.Len())
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := preview(long)
	assert.Len(t, got, maxErrorPreviewLength)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", preview("short"))
}

func TestStart_StopsOnCancel(t *testing.T) {
	ec, _ := newTestCommentator(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ec.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("commentator did not stop")
	}
}
