// Package watcher keeps dynamic informers for every watched kind and turns
// their notifications into Events.
//
// Informers resume from the last seen resourceVersion and re-list when the
// API server answers 410 Gone. Consecutive watch failures are counted per
// kind; once a kind exceeds the retry budget Run returns
// ErrRetryBudgetExceeded and the process is expected to exit.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/tools/cache"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

// ErrRetryBudgetExceeded is returned by Run when the watch of a kind failed
// more often in a row than the retry budget allows.
var ErrRetryBudgetExceeded = errors.New("watch retry budget exceeded")

const (
	// DefaultRetryBudget is the number of consecutive watch failures
	// tolerated per kind.
	DefaultRetryBudget = 10

	// failureResetWindow resets the failure count of a kind that has not
	// failed for this long.
	failureResetWindow = 2 * time.Minute
)

var namespacesGVR = schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}

// Op is the kind of change an Event reports.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is a change of one watched resource.
type Event struct {
	Kind            string
	Namespace       string
	Name            string
	ResourceVersion string
	Op              Op

	// InitialSync is set for events delivered by the initial list.
	InitialSync bool

	// Object is the resource after the change, or the last known state
	// for deletions.
	Object *unstructured.Unstructured
}

// Handler receives events. Calls for the same kind are serialized; calls
// for different kinds may run concurrently.
type Handler func(Event)

// Config configures a Watcher.
type Config struct {
	Kinds []v1.ResourceKind

	// Namespaces restricts the watch. Empty watches all namespaces.
	Namespaces []string

	// NamespaceSelector is a label selector. When set, only resources in
	// namespaces matching it are reported.
	NamespaceSelector string

	// RetryBudget is the number of consecutive watch failures tolerated per
	// kind. Zero means DefaultRetryBudget.
	RetryBudget int

	// OnWatchError is called for every counted watch failure.
	OnWatchError func(kind string, failures int, err error)
}

type kindWatch struct {
	kind      v1.ResourceKind
	informers []cache.SharedIndexInformer
	regs      []cache.ResourceEventHandlerRegistration

	failures    int
	lastFailure time.Time
}

func (k *kindWatch) hasSynced() bool {
	for _, r := range k.regs {
		if !r.HasSynced() {
			return false
		}
	}
	return len(k.regs) > 0
}

// Watcher watches the configured kinds.
type Watcher struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	factories  []dynamicinformer.DynamicSharedInformerFactory
	nsFactory  dynamicinformer.DynamicSharedInformerFactory
	nsInformer cache.SharedIndexInformer
	nsSynced   atomic.Bool

	kinds []*kindWatch

	mu    sync.Mutex
	errCh chan error
}

// New creates a Watcher. Informers start with Run.
func New(cfg Config, client dynamic.Interface, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamic client is nil")
	}
	if len(cfg.Kinds) == 0 {
		return nil, fmt.Errorf("no kinds to watch")
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}

	w := &Watcher{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "watcher"),
		errCh:   make(chan error, 1),
	}

	if cfg.NamespaceSelector != "" {
		if _, err := labels.Parse(cfg.NamespaceSelector); err != nil {
			return nil, fmt.Errorf("invalid namespace selector %q: %w", cfg.NamespaceSelector, err)
		}
		if err := w.createNamespaceInformer(client); err != nil {
			return nil, err
		}
	}

	namespaces := cfg.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{metav1.NamespaceAll}
	}
	for _, ns := range namespaces {
		w.factories = append(w.factories, dynamicinformer.NewFilteredDynamicSharedInformerFactory(client, 0, ns, nil))
	}

	for _, rk := range cfg.Kinds {
		kw := &kindWatch{kind: rk}
		for _, f := range w.factories {
			informer := f.ForResource(rk.GVR).Informer()
			if err := informer.SetTransform(stripFields); err != nil {
				return nil, fmt.Errorf("failed to set transform for %s: %w", rk.Kind, err)
			}
			if err := informer.SetWatchErrorHandler(func(_ *cache.Reflector, err error) {
				w.watchError(kw, err)
			}); err != nil {
				return nil, fmt.Errorf("failed to set watch error handler for %s: %w", rk.Kind, err)
			}
			reg, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
				AddFunc: func(obj interface{}) {
					w.emit(kw, OpAdd, obj)
				},
				UpdateFunc: func(_, obj interface{}) {
					w.emit(kw, OpUpdate, obj)
				},
				DeleteFunc: func(obj interface{}) {
					w.emit(kw, OpDelete, obj)
				},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to add event handler for %s: %w", rk.Kind, err)
			}
			kw.informers = append(kw.informers, informer)
			kw.regs = append(kw.regs, reg)
		}
		w.kinds = append(w.kinds, kw)
	}

	return w, nil
}

func (w *Watcher) createNamespaceInformer(client dynamic.Interface) error {
	selector := w.cfg.NamespaceSelector
	w.nsFactory = dynamicinformer.NewFilteredDynamicSharedInformerFactory(client, 0, metav1.NamespaceAll,
		func(options *metav1.ListOptions) {
			options.LabelSelector = selector
		})
	w.nsInformer = w.nsFactory.ForResource(namespacesGVR).Informer()

	_, err := w.nsInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if u := toUnstructured(obj); u != nil && w.nsSynced.Load() {
				w.replayNamespace(u.GetName(), OpAdd)
			}
		},
		DeleteFunc: func(obj interface{}) {
			if u := toUnstructured(obj); u != nil {
				w.replayNamespace(u.GetName(), OpDelete)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add namespace event handler: %w", err)
	}
	return nil
}

// Run starts the informers and blocks until ctx is cancelled or a kind
// exhausts its retry budget.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		for _, f := range w.factories {
			f.Shutdown()
		}
		if w.nsFactory != nil {
			w.nsFactory.Shutdown()
		}
	}()

	if w.nsFactory != nil {
		w.nsFactory.Start(ctx.Done())
		if !cache.WaitForCacheSync(ctx.Done(), w.nsInformer.HasSynced) {
			return ctx.Err()
		}
		w.nsSynced.Store(true)
		w.logger.Info("namespace selector synced",
			"selector", w.cfg.NamespaceSelector,
			"namespaces", len(w.nsInformer.GetStore().ListKeys()))
	}

	for _, f := range w.factories {
		f.Start(ctx.Done())
	}
	w.logger.Info("watching resources", "kinds", len(w.kinds), "namespaces", w.cfg.Namespaces)

	select {
	case <-ctx.Done():
		return nil
	case err := <-w.errCh:
		return err
	}
}

// WaitForSync blocks until every kind has delivered its initial list.
func (w *Watcher) WaitForSync(ctx context.Context) error {
	if !cache.WaitForCacheSync(ctx.Done(), w.Synced) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to sync informers")
	}
	return nil
}

// Synced reports whether every kind has delivered its initial list.
func (w *Watcher) Synced() bool {
	for _, kw := range w.kinds {
		if !kw.hasSynced() {
			return false
		}
	}
	return true
}

// Counts returns the number of cached resources per kind.
func (w *Watcher) Counts() map[string]int {
	counts := make(map[string]int, len(w.kinds))
	for _, kw := range w.kinds {
		for _, informer := range kw.informers {
			for _, obj := range informer.GetStore().List() {
				if u := toUnstructured(obj); u != nil && w.allowed(u.GetNamespace()) {
					counts[kw.kind.Kind]++
				}
			}
		}
	}
	return counts
}

func (w *Watcher) emit(kw *kindWatch, op Op, obj interface{}) {
	u := toUnstructured(obj)
	if u == nil {
		w.logger.Warn("ignoring unexpected object", "kind", kw.kind.Kind, "type", fmt.Sprintf("%T", obj))
		return
	}
	if !w.allowed(u.GetNamespace()) {
		return
	}

	w.mu.Lock()
	kw.failures = 0
	w.mu.Unlock()

	w.handler(Event{
		Kind:            kw.kind.Kind,
		Namespace:       u.GetNamespace(),
		Name:            u.GetName(),
		ResourceVersion: u.GetResourceVersion(),
		Op:              op,
		InitialSync:     !kw.hasSynced(),
		Object:          u,
	})
}

// allowed reports whether resources of ns are reported.
func (w *Watcher) allowed(ns string) bool {
	if w.nsInformer == nil {
		return true
	}
	_, exists, err := w.nsInformer.GetStore().GetByKey(ns)
	return err == nil && exists
}

// replayNamespace reports every cached resource of ns, after the namespace
// started or stopped matching the selector.
func (w *Watcher) replayNamespace(ns string, op Op) {
	count := 0
	for _, kw := range w.kinds {
		for _, informer := range kw.informers {
			objs, err := informer.GetIndexer().ByIndex(cache.NamespaceIndex, ns)
			if err != nil {
				continue
			}
			for _, obj := range objs {
				u := toUnstructured(obj)
				if u == nil {
					continue
				}
				count++
				w.handler(Event{
					Kind:            kw.kind.Kind,
					Namespace:       ns,
					Name:            u.GetName(),
					ResourceVersion: u.GetResourceVersion(),
					Op:              op,
					Object:          u,
				})
			}
		}
	}
	w.logger.Info("namespace selection changed", "namespace", ns, "op", op, "resources", count)
}

// watchError counts a watch failure of kw. Expired resource versions and
// closed connections are part of normal operation and not counted.
func (w *Watcher) watchError(kw *kindWatch, err error) {
	if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		w.logger.Debug("watch restarted", "kind", kw.kind.Kind, "reason", err)
		return
	}

	w.mu.Lock()
	now := time.Now()
	if !kw.lastFailure.IsZero() && now.Sub(kw.lastFailure) > failureResetWindow {
		kw.failures = 0
	}
	kw.failures++
	kw.lastFailure = now
	failures := kw.failures
	w.mu.Unlock()

	w.logger.Warn("watch failed",
		"kind", kw.kind.Kind,
		"failures", failures,
		"budget", w.cfg.RetryBudget,
		"error", err)
	if w.cfg.OnWatchError != nil {
		w.cfg.OnWatchError(kw.kind.Kind, failures, err)
	}

	if failures > w.cfg.RetryBudget {
		select {
		case w.errCh <- fmt.Errorf("%w: %s failed %d times in a row: %v", ErrRetryBudgetExceeded, kw.kind.Kind, failures, err):
		default:
		}
	}
}

func toUnstructured(obj interface{}) *unstructured.Unstructured {
	switch v := obj.(type) {
	case *unstructured.Unstructured:
		return v
	case cache.DeletedFinalStateUnknown:
		return toUnstructured(v.Obj)
	}
	return nil
}

// stripFields drops fields no consumer reads before objects enter the
// informer cache.
func stripFields(obj interface{}) (interface{}, error) {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		return obj, nil
	}
	unstructured.RemoveNestedField(u.Object, "metadata", "managedFields")
	annotations := u.GetAnnotations()
	if _, ok := annotations["kubectl.kubernetes.io/last-applied-configuration"]; ok {
		delete(annotations, "kubectl.kubernetes.io/last-applied-configuration")
		u.SetAnnotations(annotations)
	}
	return u, nil
}
