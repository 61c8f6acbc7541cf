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

// Package status writes resource status sub-resources and Kubernetes Events.
package status

import (
	"context"
	"fmt"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/retry"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

// Update is the status of one resource.
type Update struct {
	Kind      string
	Namespace string
	Name      string
	UID       types.UID

	State   string
	Reason  string
	Message string

	// ReferencedBy is the VirtualServer delegating to a VirtualServerRoute.
	ReferencedBy string

	ObservedGeneration int64
}

func (u Update) key() string {
	return u.Namespace + "/" + u.Name
}

// Writer writes status and emits Events. It keeps no state; deduplication
// is up to the caller.
type Writer struct {
	client   dynamic.Interface
	recorder record.EventRecorder
	logger   *slog.Logger
}

// NewWriter creates a Writer. A nil client only emits Events.
func NewWriter(client dynamic.Interface, recorder record.EventRecorder, logger *slog.Logger) *Writer {
	return &Writer{
		client:   client,
		recorder: recorder,
		logger:   logger.With("component", "status-writer"),
	}
}

// Write emits an Event for u and, for kinds with a status sub-resource,
// writes state, reason, message and observedGeneration. A resource deleted in
// the meantime is not an error.
func (w *Writer) Write(ctx context.Context, u Update) error {
	rk, ok := v1.LookupKind(u.Kind)
	if !ok {
		return fmt.Errorf("unknown kind %q", u.Kind)
	}

	w.recordEvent(rk, u)

	if !rk.HasStatus || w.client == nil {
		return nil
	}

	resource := w.client.Resource(rk.GVR).Namespace(u.Namespace)
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		obj, err := resource.Get(ctx, u.Name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if u.UID != "" && obj.GetUID() != u.UID {
			return apierrors.NewNotFound(rk.GVR.GroupResource(), u.Name)
		}
		if !statusChanged(obj, u) {
			return nil
		}
		if err := setStatus(obj, u); err != nil {
			return err
		}
		_, err = resource.UpdateStatus(ctx, obj, metav1.UpdateOptions{})
		return err
	})
	if apierrors.IsNotFound(err) {
		w.logger.Debug("resource gone, status not written",
			"kind", u.Kind,
			"resource", u.key())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update status of %s %s: %w", u.Kind, u.key(), err)
	}
	return nil
}

func (w *Writer) recordEvent(rk v1.ResourceKind, u Update) {
	if w.recorder == nil {
		return
	}
	eventType := corev1.EventTypeWarning
	if u.State == v1.StateValid {
		eventType = corev1.EventTypeNormal
	}
	ref := &corev1.ObjectReference{
		Kind:       rk.Kind,
		APIVersion: rk.GVR.GroupVersion().String(),
		Namespace:  u.Namespace,
		Name:       u.Name,
		UID:        u.UID,
	}
	w.recorder.Event(ref, eventType, u.Reason, u.Message)
}

func statusChanged(obj *unstructured.Unstructured, u Update) bool {
	state, _, _ := unstructured.NestedString(obj.Object, "status", "state")
	reason, _, _ := unstructured.NestedString(obj.Object, "status", "reason")
	message, _, _ := unstructured.NestedString(obj.Object, "status", "message")
	referencedBy, _, _ := unstructured.NestedString(obj.Object, "status", "referencedBy")
	generation, _, _ := unstructured.NestedInt64(obj.Object, "status", "observedGeneration")
	return state != u.State || reason != u.Reason || message != u.Message ||
		referencedBy != u.ReferencedBy || generation != u.ObservedGeneration
}

func setStatus(obj *unstructured.Unstructured, u Update) error {
	status := map[string]interface{}{
		"state":              u.State,
		"reason":             u.Reason,
		"message":            u.Message,
		"observedGeneration": u.ObservedGeneration,
	}
	if u.ReferencedBy != "" {
		status["referencedBy"] = u.ReferencedBy
	}
	return unstructured.SetNestedMap(obj.Object, status, "status")
}

// NewEventRecorder creates a recorder that sends Events to the API server.
// The returned function stops the broadcaster.
func NewEventRecorder(clientset kubernetes.Interface, component string) (record.EventRecorder, func()) {
	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{
		Interface: clientset.CoreV1().Events(""),
	})
	recorder := broadcaster.NewRecorder(scheme.Scheme, corev1.EventSource{Component: component})
	return recorder, broadcaster.Shutdown
}
