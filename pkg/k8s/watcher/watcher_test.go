package watcher

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
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

var (
	secretGVR = schema.GroupVersionResource{Version: "v1", Resource: "secrets"}
	vsGVR     = v1.SchemeGroupVersion.WithResource("virtualservers")
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) find(op Op, name string) (Event, bool) {
	for _, e := range c.snapshot() {
		if e.Op == op && e.Name == name {
			return e, true
		}
	}
	return Event{}, false
}

func object(apiVersion, kind, ns, name string, lbls map[string]string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion(apiVersion)
	u.SetKind(kind)
	u.SetNamespace(ns)
	u.SetName(name)
	u.SetLabels(lbls)
	u.SetResourceVersion("1")
	return u
}

func secret(ns, name string) *unstructured.Unstructured {
	return object("v1", "Secret", ns, name, nil)
}

func newFakeClient(objs ...runtime.Object) *dynamicfake.FakeDynamicClient {
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), map[schema.GroupVersionResource]string{
		secretGVR:     "SecretList",
		vsGVR:         "VirtualServerList",
		namespacesGVR: "NamespaceList",
	}, objs...)
}

func kinds(t *testing.T, names ...string) []v1.ResourceKind {
	t.Helper()
	var out []v1.ResourceKind
	for _, n := range names {
		rk, ok := v1.LookupKind(n)
		require.True(t, ok)
		out = append(out, rk)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, cfg Config, client *dynamicfake.FakeDynamicClient) (*Watcher, *collector) {
	t.Helper()
	c := &collector{}
	w, err := New(cfg, client, c.handle, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	syncCtx, syncCancel := context.WithTimeout(ctx, 5*time.Second)
	defer syncCancel()
	require.NoError(t, w.WaitForSync(syncCtx))
	return w, c
}

func TestWatcher_InitialSyncAndChanges(t *testing.T) {
	client := newFakeClient(
		secret("default", "cafe-secret"),
		object(v1.SchemeGroupVersion.String(), v1.KindVirtualServer, "default", "cafe", nil),
	)
	w, c := startWatcher(t, Config{Kinds: kinds(t, v1.KindSecret, v1.KindVirtualServer)}, client)

	initial := c.snapshot()
	require.Len(t, initial, 2)
	for _, e := range initial {
		assert.Equal(t, OpAdd, e.Op)
		assert.True(t, e.InitialSync, "%s/%s", e.Kind, e.Name)
	}
	assert.Equal(t, map[string]int{v1.KindSecret: 1, v1.KindVirtualServer: 1}, w.Counts())

	ctx := context.Background()
	_, err := client.Resource(secretGVR).Namespace("default").Create(ctx, secret("default", "tea-secret"), metav1.CreateOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := c.find(OpAdd, "tea-secret")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	added, _ := c.find(OpAdd, "tea-secret")
	assert.False(t, added.InitialSync)
	assert.Equal(t, v1.KindSecret, added.Kind)
	assert.Equal(t, "default", added.Namespace)

	updated := secret("default", "tea-secret")
	updated.SetResourceVersion("2")
	updated.SetLabels(map[string]string{"rotated": "true"})
	_, err = client.Resource(secretGVR).Namespace("default").Update(ctx, updated, metav1.UpdateOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := c.find(OpUpdate, "tea-secret")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Resource(secretGVR).Namespace("default").Delete(ctx, "tea-secret", metav1.DeleteOptions{}))
	require.Eventually(t, func() bool {
		e, ok := c.find(OpDelete, "tea-secret")
		return ok && e.Object != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_Namespaces(t *testing.T) {
	client := newFakeClient(
		secret("team-a", "a"),
		secret("team-b", "b"),
	)
	_, c := startWatcher(t, Config{
		Kinds:      kinds(t, v1.KindSecret),
		Namespaces: []string{"team-a"},
	}, client)

	events := c.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Name)
}

func TestWatcher_NamespaceSelector(t *testing.T) {
	client := newFakeClient(
		object("v1", "Namespace", "", "team-a", map[string]string{"ingress": "enabled"}),
		object("v1", "Namespace", "", "team-b", nil),
		secret("team-a", "a"),
		secret("team-b", "b"),
	)
	w, c := startWatcher(t, Config{
		Kinds:             kinds(t, v1.KindSecret),
		NamespaceSelector: "ingress=enabled",
	}, client)

	events := c.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Name)
	assert.Equal(t, map[string]int{v1.KindSecret: 1}, w.Counts())
}

func TestNew_Errors(t *testing.T) {
	client := newFakeClient()

	_, err := New(Config{}, client, func(Event) {}, testLogger())
	assert.Error(t, err)

	_, err = New(Config{Kinds: kinds(t, v1.KindSecret)}, nil, func(Event) {}, testLogger())
	assert.Error(t, err)

	_, err = New(Config{Kinds: kinds(t, v1.KindSecret), NamespaceSelector: "a in (b"}, client, func(Event) {}, testLogger())
	assert.ErrorContains(t, err, "invalid namespace selector")
}

func TestWatcher_RetryBudget(t *testing.T) {
	var reported []int
	w, err := New(Config{
		Kinds:       kinds(t, v1.KindSecret),
		RetryBudget: 3,
		OnWatchError: func(kind string, failures int, err error) {
			reported = append(reported, failures)
		},
	}, newFakeClient(), func(Event) {}, testLogger())
	require.NoError(t, err)
	kw := w.kinds[0]

	expired := apierrors.NewResourceExpired("too old resource version")
	w.watchError(kw, expired)
	w.watchError(kw, io.EOF)
	assert.Empty(t, reported, "expired versions and closed watches are not failures")

	refused := errors.New("connection refused")
	for i := 0; i < 3; i++ {
		w.watchError(kw, refused)
	}
	assert.Equal(t, []int{1, 2, 3}, reported)

	// Events reset the count.
	w.emit(kw, OpAdd, secret("default", "x"))
	w.watchError(kw, refused)
	assert.Equal(t, 1, reported[len(reported)-1])

	for i := 0; i < 3; i++ {
		w.watchError(kw, refused)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = w.Run(ctx)
	require.ErrorIs(t, err, ErrRetryBudgetExceeded)
	assert.Contains(t, err.Error(), "Secret failed 4 times in a row")
}

func TestStripFields(t *testing.T) {
	u := secret("default", "s")
	u.SetManagedFields([]metav1.ManagedFieldsEntry{{Manager: "kubectl"}})
	u.SetAnnotations(map[string]string{
		"kubectl.kubernetes.io/last-applied-configuration": "{}",
		"nginx.org/mergeable-ingress-type":                 "master",
	})

	out, err := stripFields(u)
	require.NoError(t, err)
	stripped := out.(*unstructured.Unstructured)
	assert.Nil(t, stripped.GetManagedFields())
	assert.Equal(t, map[string]string{"nginx.org/mergeable-ingress-type": "master"}, stripped.GetAnnotations())

	tombstone := "not an object"
	same, err := stripFields(tombstone)
	require.NoError(t, err)
	assert.Equal(t, tombstone, same)
}
