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

// Package testutil builds watched resources for package tests.
package testutil

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/controller/resourcestore"
)

// Epoch is the creation time of the first object built by this package.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var counter atomic.Int64

// Object converts a typed object into an unstructured one with kind,
// namespace and name set. Each call gets a later creation timestamp and a
// fresh resource version so that build order equals age order.
func Object(kind, namespace, name string, typed interface{}) *unstructured.Unstructured {
	n := counter.Add(1)

	var obj *unstructured.Unstructured
	if typed == nil {
		obj = &unstructured.Unstructured{Object: map[string]interface{}{}}
	} else {
		var err error
		obj, err = v1.ToUnstructured(typed)
		if err != nil {
			panic(fmt.Sprintf("testutil: %v", err))
		}
	}

	rk, ok := v1.LookupKind(kind)
	if !ok {
		panic("testutil: unknown kind " + kind)
	}
	obj.SetAPIVersion(rk.GVR.GroupVersion().String())
	obj.SetKind(kind)
	obj.SetNamespace(namespace)
	obj.SetName(name)
	obj.SetUID(types.UID(fmt.Sprintf("uid-%d", n)))
	obj.SetResourceVersion(strconv.FormatInt(n, 10))
	obj.SetGeneration(1)
	obj.SetCreationTimestamp(metav1.NewTime(Epoch.Add(time.Duration(n) * time.Second)))
	return obj
}

// Resource wraps Object into a WatchedResource.
func Resource(kind, namespace, name string, typed interface{}) resourcestore.WatchedResource {
	return resourcestore.NewWatchedResource(kind, Object(kind, namespace, name, typed))
}

// Updated returns a copy of res with a new resource version and payload,
// keeping identity and creation time.
func Updated(res resourcestore.WatchedResource, typed interface{}) resourcestore.WatchedResource {
	obj := Object(res.Kind, res.Namespace, res.Name, typed)
	obj.SetCreationTimestamp(metav1.NewTime(res.CreationTimestamp))
	obj.SetUID(res.UID)
	return resourcestore.NewWatchedResource(res.Kind, obj)
}
