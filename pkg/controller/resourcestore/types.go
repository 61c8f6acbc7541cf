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

// Package resourcestore holds the last observed state of every watched resource.
//
// The store is pure storage: it keeps resources indexed by identity and
// maintains a reverse index of references (which VirtualServers use a given
// Secret, which VirtualServer delegates to a given VirtualServerRoute, ...).
// It performs no cross-resource validation.
//
// Readers that run concurrently with the reconciliation loop take a Snapshot,
// an immutable view that never changes after it is returned.
package resourcestore

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
)

// ErrNotFound is returned by Get when no resource with the identity exists.
var ErrNotFound = errors.New("resource not found")

// Identity identifies a watched resource.
type Identity struct {
	Kind      string
	Namespace string
	Name      string
}

// NewIdentity builds an identity from an unstructured object.
func NewIdentity(obj *unstructured.Unstructured) Identity {
	return Identity{Kind: obj.GetKind(), Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

// Key returns the namespace/name part of the identity.
func (id Identity) Key() string {
	if id.Namespace == "" {
		return id.Name
	}
	return id.Namespace + "/" + id.Name
}

func (id Identity) String() string {
	return id.Kind + " " + id.Key()
}

// Less orders identities by kind, namespace and name.
func (id Identity) Less(other Identity) bool {
	if id.Kind != other.Kind {
		return id.Kind < other.Kind
	}
	if id.Namespace != other.Namespace {
		return id.Namespace < other.Namespace
	}
	return id.Name < other.Name
}

// ValidationState is the outcome of the last validation of a resource.
type ValidationState string

const (
	StateUnvalidated ValidationState = "Unvalidated"
	StateValid       ValidationState = "Valid"
	StateInvalid     ValidationState = "Invalid"
	StateWarning     ValidationState = "Warning"
)

// WatchedResource is the last observed version of a resource.
type WatchedResource struct {
	Identity
	ResourceVersion   string
	UID               types.UID
	Generation        int64
	CreationTimestamp time.Time

	// Object is the raw payload. It must not be modified once stored.
	Object *unstructured.Unstructured

	State ValidationState
}

// NewWatchedResource builds an unvalidated WatchedResource from obj.
func NewWatchedResource(kind string, obj *unstructured.Unstructured) WatchedResource {
	return WatchedResource{
		Identity:          Identity{Kind: kind, Namespace: obj.GetNamespace(), Name: obj.GetName()},
		ResourceVersion:   obj.GetResourceVersion(),
		UID:               obj.GetUID(),
		Generation:        obj.GetGeneration(),
		CreationTimestamp: obj.GetCreationTimestamp().Time,
		Object:            obj,
		State:             StateUnvalidated,
	}
}

// OlderThan orders resources by creation time. Ties are broken by
// namespace/name so that the order is total.
func (r WatchedResource) OlderThan(other WatchedResource) bool {
	if !r.CreationTimestamp.Equal(other.CreationTimestamp) {
		return r.CreationTimestamp.Before(other.CreationTimestamp)
	}
	return r.Identity.Less(other.Identity)
}

// StoreError describes a failed store operation.
type StoreError struct {
	Operation string
	Identity  Identity
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s for %s: %v", e.Operation, e.Identity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
