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

// Package v1 contains API Schema definitions for the k8s.nginx.org v1 API group.
//
// # Overview
//
// The controller watches four custom resource kinds next to the core kinds
// (Ingress, Secret, ConfigMap, Endpoints):
//
//   - VirtualServer: a routable host with upstreams, routes and policy references
//   - VirtualServerRoute: routes delegated from a VirtualServer
//   - TransportServer: a TCP/UDP or TLS passthrough listener with its upstreams
//   - Policy: access control, rate limiting, authentication and mTLS settings
//   - GlobalConfiguration: the cluster-wide set of custom listeners
//
// The structs mirror the JSON layout of the resources so that they can be
// filled from unstructured objects with runtime.DefaultUnstructuredConverter.
//
// # API Group
//
// Group: k8s.nginx.org
// Version: v1
//
// +groupName=k8s.nginx.org
package v1
