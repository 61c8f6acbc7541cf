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

package v1

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	utiljson "k8s.io/apimachinery/pkg/util/json"
)

// GroupName is the API group of the custom resources.
const GroupName = "k8s.nginx.org"

// SchemeGroupVersion is the group version used by all custom resources.
var SchemeGroupVersion = schema.GroupVersion{Group: GroupName, Version: "v1"}

// Kind names of every watched resource.
const (
	KindIngress             = "Ingress"
	KindVirtualServer       = "VirtualServer"
	KindVirtualServerRoute  = "VirtualServerRoute"
	KindTransportServer     = "TransportServer"
	KindPolicy              = "Policy"
	KindGlobalConfiguration = "GlobalConfiguration"
	KindSecret              = "Secret"
	KindConfigMap           = "ConfigMap"
	KindEndpoints           = "Endpoints"
)

// ResourceKind describes how a watched kind is reached through the API server.
type ResourceKind struct {
	Kind string
	GVR  schema.GroupVersionResource

	// Custom is true for kinds defined by this API group. They are only
	// watched when custom resources are enabled.
	Custom bool

	// HasStatus is true when the kind carries the state/reason/message
	// status sub-resource written by the controller.
	HasStatus bool
}

// WatchedKinds lists every kind in dependency order: referenced kinds come
// before the kinds that reference them.
var WatchedKinds = []ResourceKind{
	{Kind: KindSecret, GVR: schema.GroupVersionResource{Version: "v1", Resource: "secrets"}},
	{Kind: KindConfigMap, GVR: schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}},
	{Kind: KindEndpoints, GVR: schema.GroupVersionResource{Version: "v1", Resource: "endpoints"}},
	{Kind: KindGlobalConfiguration, GVR: SchemeGroupVersion.WithResource("globalconfigurations"), Custom: true, HasStatus: true},
	{Kind: KindPolicy, GVR: SchemeGroupVersion.WithResource("policies"), Custom: true, HasStatus: true},
	{Kind: KindVirtualServerRoute, GVR: SchemeGroupVersion.WithResource("virtualserverroutes"), Custom: true, HasStatus: true},
	{Kind: KindVirtualServer, GVR: SchemeGroupVersion.WithResource("virtualservers"), Custom: true, HasStatus: true},
	{Kind: KindTransportServer, GVR: SchemeGroupVersion.WithResource("transportservers"), Custom: true, HasStatus: true},
	{Kind: KindIngress, GVR: schema.GroupVersionResource{Group: "networking.k8s.io", Version: "v1", Resource: "ingresses"}},
}

// LookupKind returns the ResourceKind entry for kind.
func LookupKind(kind string) (ResourceKind, bool) {
	for _, rk := range WatchedKinds {
		if rk.Kind == kind {
			return rk, true
		}
	}
	return ResourceKind{}, false
}

// FromUnstructured converts obj into the typed struct pointed to by out.
func FromUnstructured(obj *unstructured.Unstructured, out interface{}) error {
	if obj == nil {
		return fmt.Errorf("nil object")
	}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, out); err != nil {
		return fmt.Errorf("failed to convert %s %s/%s: %w", obj.GetKind(), obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}

// ToUnstructured converts a typed object into an unstructured one. The
// result only holds JSON value types (integers become int64), the same shape
// an informer delivers, so it can be deep-copied and schema-validated.
func ToUnstructured(in interface{}) (*unstructured.Unstructured, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", in, err)
	}
	m := map[string]interface{}{}
	if err := utiljson.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", in, err)
	}
	return &unstructured.Unstructured{Object: m}, nil
}
