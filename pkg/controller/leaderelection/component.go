// Package leaderelection connects the Lease based elector to the event bus.
//
// Leadership changes become BecameLeaderEvent, LostLeadershipEvent and
// NewLeaderObservedEvent. The status component listens for them and only
// writes resource status while this replica leads.
package leaderelection

import (
	"context"
	"errors"
	"log/slog"

	"k8s.io/client-go/kubernetes"

	"nginx-reconciler/pkg/controller/events"
	busevents "nginx-reconciler/pkg/events"
	k8sleaderelection "nginx-reconciler/pkg/k8s/leaderelection"
)

// ComponentName identifies the component in logs.
const ComponentName = "leaderelection"

// Component publishes the leadership changes of an elector.
type Component struct {
	elector  *k8sleaderelection.Elector
	eventBus *busevents.EventBus
	config   k8sleaderelection.Config
	logger   *slog.Logger
}

// New creates the component and its elector.
func New(config k8sleaderelection.Config, clientset kubernetes.Interface, eventBus *busevents.EventBus, logger *slog.Logger) (*Component, error) {
	if eventBus == nil {
		return nil, errors.New("event bus cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Component{
		eventBus: eventBus,
		config:   config,
		logger:   logger.With("component", ComponentName),
	}

	elector, err := k8sleaderelection.New(config, clientset, k8sleaderelection.Callbacks{
		OnStartedLeading: func(context.Context) {
			c.eventBus.Publish(events.NewBecameLeaderEvent(config.Identity))
		},
		OnStoppedLeading: func() {
			c.eventBus.Publish(events.NewLostLeadershipEvent(config.Identity, "lease_lost"))
		},
		OnNewLeader: func(identity string) {
			c.eventBus.Publish(events.NewNewLeaderObservedEvent(identity, identity == config.Identity))
		},
	}, c.logger)
	if err != nil {
		return nil, err
	}
	c.elector = elector
	return c, nil
}

// Run takes part in the election until ctx is cancelled.
func (c *Component) Run(ctx context.Context) error {
	c.eventBus.Publish(events.NewLeaderElectionStartedEvent(c.config.Identity, c.config.LeaseName, c.config.LeaseNamespace))
	return c.elector.Run(ctx)
}

// IsLeader reports whether this replica holds the lease.
func (c *Component) IsLeader() bool {
	return c.elector.IsLeader()
}

// GetLeader returns the identity of the last observed leader.
func (c *Component) GetLeader() string {
	return c.elector.GetLeader()
}
