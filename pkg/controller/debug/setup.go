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

package debug

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nginx-reconciler/pkg/controller/events"
	busevents "nginx-reconciler/pkg/events"
	"nginx-reconciler/pkg/introspection"
)

// DefaultEventLimit is the number of events the events variable returns.
const DefaultEventLimit = 100

// RegisterVariables publishes the controller variables:
//   - config: controller configuration and version
//   - rendered: configuration NGINX is running
//   - resources: counts and validation states per kind
//   - events: recent bus events
//   - uptime: time since registration
func RegisterVariables(registry *introspection.Registry, provider StateProvider, eventBuffer *EventBuffer) {
	registry.Publish("config", &ConfigVar{provider: provider})
	registry.Publish("rendered", &RenderedVar{provider: provider})
	registry.Publish("resources", &ResourcesVar{provider: provider})
	registry.Publish("events", &EventsVar{buffer: eventBuffer, limit: DefaultEventLimit})
	registry.Publish("uptime", introspection.Func(uptimeVar(time.Now())))
}

// Readiness returns a check that asks components over bus whether they are
// ready. The process is ready when every component answers ready within
// timeout.
func Readiness(bus *busevents.EventBus, components []string, timeout time.Duration) introspection.ReadinessCheck {
	return func(ctx context.Context) (bool, map[string]string) {
		details := make(map[string]string, len(components))
		for _, name := range components {
			details[name] = "no response"
		}

		result, err := bus.Request(ctx, events.NewReadinessRequest(uuid.NewString()), busevents.RequestOptions{
			Timeout:            timeout,
			ExpectedResponders: components,
		})
		ready := err == nil
		if result == nil {
			return false, details
		}

		for _, r := range result.Responses {
			resp, ok := r.(*events.ReadinessResponse)
			if !ok {
				continue
			}
			detail := resp.Detail
			switch {
			case detail != "":
			case resp.Ready:
				detail = "ready"
			default:
				detail = "not ready"
			}
			details[resp.Component] = detail
			if !resp.Ready {
				ready = false
			}
		}
		return ready, details
	}
}
