package leaderelection

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"nginx-reconciler/pkg/controller/events"
	busevents "nginx-reconciler/pkg/events"
	k8sleaderelection "nginx-reconciler/pkg/k8s/leaderelection"
)

func electionConfig() k8sleaderelection.Config {
	return k8sleaderelection.Config{
		Identity:        "pod-a",
		LeaseName:       "nginx-reconciler-leader",
		LeaseNamespace:  "nginx-ingress",
		LeaseDuration:   time.Second,
		RenewDeadline:   500 * time.Millisecond,
		RetryPeriod:     100 * time.Millisecond,
		ReleaseOnCancel: true,
	}
}

func TestNew_NilBus(t *testing.T) {
	_, err := New(electionConfig(), fake.NewSimpleClientset(), nil, nil)
	assert.EqualError(t, err, "event bus cannot be nil")
}

func TestComponent_PublishesLeadershipEvents(t *testing.T) {
	bus := busevents.NewEventBus(100)
	sub := bus.Subscribe(100)
	bus.Start()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(electionConfig(), fake.NewSimpleClientset(), bus, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var started, became, observed bool
	timeout := time.After(5 * time.Second)
	for !(started && became && observed) {
		select {
		case ev := <-sub:
			switch e := ev.(type) {
			case *events.LeaderElectionStartedEvent:
				started = true
				assert.Equal(t, "nginx-reconciler-leader", e.LeaseName)
			case *events.BecameLeaderEvent:
				became = true
				assert.Equal(t, "pod-a", e.Identity)
			case *events.NewLeaderObservedEvent:
				observed = true
				assert.True(t, e.IsSelf)
			}
		case <-timeout:
			t.Fatalf("missing events: started=%v became=%v observed=%v", started, became, observed)
		}
	}
	assert.True(t, c.IsLeader())
	assert.Equal(t, "pod-a", c.GetLeader())

	cancel()
	require.NoError(t, <-done)

	for {
		select {
		case ev := <-sub:
			if lost, ok := ev.(*events.LostLeadershipEvent); ok {
				assert.Equal(t, "lease_lost", lost.Reason)
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no LostLeadershipEvent after shutdown")
		}
	}
}
