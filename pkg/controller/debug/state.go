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

// Package debug publishes the controller's internal state as introspection
// variables and answers readiness probes from the pipeline components.
package debug

import (
	"time"

	"nginx-reconciler/pkg/controller/renderer"
	"nginx-reconciler/pkg/controller/resourcestore"
	"nginx-reconciler/pkg/core/config"
)

// StateProvider gives debug variables read access to controller state.
// All methods must be safe for concurrent use.
type StateProvider interface {
	// Config returns the active controller configuration and its version.
	Config() (*config.Config, string)

	// AppliedConfig returns the configuration NGINX is running, when it was
	// applied and the error of the last apply attempt. cfg is nil until the
	// first successful apply.
	AppliedConfig() (cfg *renderer.Config, applied time.Time, lastErr error)

	// Resources returns an immutable view of the resource store.
	Resources() *resourcestore.Snapshot
}
