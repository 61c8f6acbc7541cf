// Package leaderelection elects one controller replica to write resource
// status, using a coordination.k8s.io Lease.
//
// The package has no knowledge of the event bus. The controller wraps it
// and turns leadership changes into events.
package leaderelection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Config configures the Lease lock and its timing.
type Config struct {
	// Identity is the unique identifier of this replica, usually the pod name.
	Identity string

	LeaseName      string
	LeaseNamespace string

	// LeaseDuration is how long non-leaders wait before taking over an
	// unrenewed lease.
	LeaseDuration time.Duration
	// RenewDeadline is how long the leader keeps retrying a renewal before
	// giving up leadership.
	RenewDeadline time.Duration
	RetryPeriod   time.Duration

	// ReleaseOnCancel clears the lease holder on shutdown so that another
	// replica takes over without waiting for LeaseDuration.
	ReleaseOnCancel bool
}

func (c Config) validate() error {
	var errs []error
	if c.Identity == "" {
		errs = append(errs, errors.New("identity cannot be empty"))
	}
	if c.LeaseName == "" {
		errs = append(errs, errors.New("lease name cannot be empty"))
	}
	if c.LeaseNamespace == "" {
		errs = append(errs, errors.New("lease namespace cannot be empty"))
	}
	if c.RenewDeadline >= c.LeaseDuration {
		errs = append(errs, fmt.Errorf("renew deadline (%s) must be less than lease duration (%s)", c.RenewDeadline, c.LeaseDuration))
	}
	return errors.Join(errs...)
}

// Callbacks are invoked on leadership changes. All are optional.
type Callbacks struct {
	OnStartedLeading func(ctx context.Context)
	OnStoppedLeading func()
	// OnNewLeader is called for every observed leader, including this replica.
	OnNewLeader func(identity string)
}

// Elector runs leader election for one replica.
type Elector struct {
	config    Config
	clientset kubernetes.Interface
	callbacks Callbacks
	logger    *slog.Logger

	mu       sync.RWMutex
	isLeader bool
	leader   string
}

// New creates an elector. It does nothing until Run is called.
func New(config Config, clientset kubernetes.Interface, callbacks Callbacks, logger *slog.Logger) (*Elector, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid leader election config: %w", err)
	}
	if clientset == nil {
		return nil, errors.New("clientset cannot be nil")
	}
	return &Elector{
		config:    config,
		clientset: clientset,
		callbacks: callbacks,
		logger:    logger.With("lease", config.LeaseNamespace+"/"+config.LeaseName, "identity", config.Identity),
	}, nil
}

// Run takes part in the election until ctx is cancelled. When this replica
// loses the lease it rejoins the election as a candidate.
func (e *Elector) Run(ctx context.Context) error {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      e.config.LeaseName,
			Namespace: e.config.LeaseNamespace,
		},
		Client:     e.clientset.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: e.config.Identity},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		Name:            e.config.LeaseName,
		LeaseDuration:   e.config.LeaseDuration,
		RenewDeadline:   e.config.RenewDeadline,
		RetryPeriod:     e.config.RetryPeriod,
		ReleaseOnCancel: e.config.ReleaseOnCancel,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: e.startedLeading,
			OnStoppedLeading: e.stoppedLeading,
			OnNewLeader:      e.newLeader,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create leader elector: %w", err)
	}

	e.logger.Info("joining leader election")
	for ctx.Err() == nil {
		// Run returns when leadership is lost or ctx is done
		elector.Run(ctx)
	}
	e.logger.Info("left leader election")
	return nil
}

func (e *Elector) startedLeading(ctx context.Context) {
	e.mu.Lock()
	e.isLeader = true
	e.leader = e.config.Identity
	e.mu.Unlock()

	e.logger.Info("started leading")
	if e.callbacks.OnStartedLeading != nil {
		e.callbacks.OnStartedLeading(ctx)
	}
}

func (e *Elector) stoppedLeading() {
	e.mu.Lock()
	e.isLeader = false
	e.mu.Unlock()

	e.logger.Warn("stopped leading")
	if e.callbacks.OnStoppedLeading != nil {
		e.callbacks.OnStoppedLeading()
	}
}

func (e *Elector) newLeader(identity string) {
	e.mu.Lock()
	e.leader = identity
	e.mu.Unlock()

	e.logger.Info("new leader observed", "leader", identity, "is_self", identity == e.config.Identity)
	if e.callbacks.OnNewLeader != nil {
		e.callbacks.OnNewLeader(identity)
	}
}

// IsLeader reports whether this replica holds the lease.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// GetLeader returns the identity of the last observed leader, or "".
func (e *Elector) GetLeader() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leader
}

// Identity returns the identity of this replica: POD_NAME, falling back to
// the host name.
func Identity() (string, error) {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name, nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("POD_NAME not set and host name unavailable: %w", err)
	}
	return host, nil
}
