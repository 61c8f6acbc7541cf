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

package client

import "fmt"

// ClientError is returned when a client cannot be configured.
type ClientError struct {
	Operation string
	Err       error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("kubernetes client: %s: %v", e.Operation, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// NamespaceDiscoveryError is returned when the service account namespace
// cannot be read.
type NamespaceDiscoveryError struct {
	Path string
	Err  error
}

func (e *NamespaceDiscoveryError) Error() string {
	return fmt.Sprintf("failed to discover namespace from %s: %v", e.Path, e.Err)
}

func (e *NamespaceDiscoveryError) Unwrap() error { return e.Err }
