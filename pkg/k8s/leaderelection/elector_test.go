package leaderelection

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(identity string) Config {
	return Config{
		Identity:        identity,
		LeaseName:       "nginx-reconciler-leader",
		LeaseNamespace:  "nginx-ingress",
		LeaseDuration:   time.Second,
		RenewDeadline:   500 * time.Millisecond,
		RetryPeriod:     100 * time.Millisecond,
		ReleaseOnCancel: true,
	}
}

func TestNew_Validation(t *testing.T) {
	client := fake.NewSimpleClientset()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no identity", mutate: func(c *Config) { c.Identity = "" }, wantErr: "identity cannot be empty"},
		{name: "no lease name", mutate: func(c *Config) { c.LeaseName = "" }, wantErr: "lease name cannot be empty"},
		{name: "no namespace", mutate: func(c *Config) { c.LeaseNamespace = "" }, wantErr: "lease namespace cannot be empty"},
		{
			name:    "renew deadline too long",
			mutate:  func(c *Config) { c.RenewDeadline = 2 * time.Second },
			wantErr: "must be less than lease duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("pod-a")
			tt.mutate(&cfg)
			_, err := New(cfg, client, Callbacks{}, testLogger())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := New(testConfig("pod-a"), nil, Callbacks{}, testLogger())
	assert.EqualError(t, err, "clientset cannot be nil")
}

func TestElector_AcquiresAndReleases(t *testing.T) {
	client := fake.NewSimpleClientset()

	var started, stopped atomic.Int32
	var observed atomic.Value
	e, err := New(testConfig("pod-a"), client, Callbacks{
		OnStartedLeading: func(context.Context) { started.Add(1) },
		OnStoppedLeading: func() { stopped.Add(1) },
		OnNewLeader:      func(id string) { observed.Store(id) },
	}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, e.IsLeader, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "pod-a", e.GetLeader())
	assert.Equal(t, int32(1), started.Load())
	require.Eventually(t, func() bool { return observed.Load() == "pod-a" }, time.Second, 10*time.Millisecond)

	lease, err := client.CoordinationV1().Leases("nginx-ingress").Get(context.Background(), "nginx-reconciler-leader", metav1.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, lease.Spec.HolderIdentity)
	assert.Equal(t, "pod-a", *lease.Spec.HolderIdentity)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("elector did not stop")
	}
	assert.False(t, e.IsLeader())
	assert.Equal(t, int32(1), stopped.Load())
}

func TestElector_SecondCandidateWaits(t *testing.T) {
	client := fake.NewSimpleClientset()

	first, err := New(testConfig("pod-a"), client, Callbacks{}, testLogger())
	require.NoError(t, err)
	second, err := New(testConfig("pod-b"), client, Callbacks{}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = first.Run(ctx) }()
	require.Eventually(t, first.IsLeader, 5*time.Second, 20*time.Millisecond)

	go func() { _ = second.Run(ctx) }()
	require.Eventually(t, func() bool { return second.GetLeader() == "pod-a" }, 5*time.Second, 20*time.Millisecond)
	assert.False(t, second.IsLeader())
}

func TestIdentity(t *testing.T) {
	t.Setenv("POD_NAME", "nginx-ingress-7d9f")
	id, err := Identity()
	require.NoError(t, err)
	assert.Equal(t, "nginx-ingress-7d9f", id)

	t.Setenv("POD_NAME", "")
	id, err = Identity()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
