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

// Package client builds the Kubernetes clients the controller works with.
//
// The controller needs two: a typed clientset for Leases and Events, and a
// dynamic client for the watched resources and their status subresources.
package client

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// DefaultNamespaceFile holds the namespace of the pod's service account.
const DefaultNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// UserAgent is sent with every API request.
const UserAgent = "nginx-reconciler"

// Config selects how to reach the API server.
type Config struct {
	// Kubeconfig is the path to a kubeconfig file. Empty selects the
	// in-cluster configuration.
	Kubeconfig string

	// Namespace of the controller itself, used for its Lease. Empty means
	// the service account namespace.
	Namespace string

	// QPS and Burst limit client side request rates. Zero keeps the
	// client-go defaults.
	QPS   float32
	Burst int
}

// Client bundles the clientsets of one API server.
type Client struct {
	clientset  kubernetes.Interface
	dynamic    dynamic.Interface
	restConfig *rest.Config
	namespace  string
}

// New connects to the API server described by cfg.
func New(cfg Config) (*Client, error) {
	restConfig, err := restConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	restConfig.UserAgent = UserAgent
	if cfg.QPS > 0 {
		restConfig.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		restConfig.Burst = cfg.Burst
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, &ClientError{Operation: "create clientset", Err: err}
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, &ClientError{Operation: "create dynamic client", Err: err}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		// out of cluster there is no service account; callers that need a
		// namespace check Namespace() themselves
		namespace, _ = DiscoverNamespace()
	}

	return &Client{clientset: clientset, dynamic: dyn, restConfig: restConfig, namespace: namespace}, nil
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		c, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, &ClientError{Operation: "load kubeconfig " + kubeconfig, Err: err}
		}
		return c, nil
	}
	c, err := rest.InClusterConfig()
	if err != nil {
		return nil, &ClientError{Operation: "load in-cluster config", Err: err}
	}
	return c, nil
}

// NewFromClientset wraps existing clients, typically fakes in tests.
func NewFromClientset(clientset kubernetes.Interface, dyn dynamic.Interface, namespace string) *Client {
	return &Client{clientset: clientset, dynamic: dyn, namespace: namespace}
}

func (c *Client) Clientset() kubernetes.Interface { return c.clientset }
func (c *Client) Dynamic() dynamic.Interface       { return c.dynamic }

// RestConfig is nil for clients created with NewFromClientset.
func (c *Client) RestConfig() *rest.Config { return c.restConfig }

// Namespace is the namespace the controller runs in, or "".
func (c *Client) Namespace() string { return c.namespace }

// DiscoverNamespace reads the service account namespace of the pod.
func DiscoverNamespace() (string, error) {
	return DiscoverNamespaceFromFile(DefaultNamespaceFile)
}

// DiscoverNamespaceFromFile reads a namespace from path.
func DiscoverNamespaceFromFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", &NamespaceDiscoveryError{Path: path, Err: err}
	}
	namespace := strings.TrimSpace(string(data))
	if namespace == "" {
		return "", &NamespaceDiscoveryError{Path: path, Err: errors.New("file is empty")}
	}
	return namespace, nil
}
