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
	"sort"
	"time"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/controller/resourcestore"
)

// ConfigVar exposes the controller configuration.
type ConfigVar struct {
	provider StateProvider
}

// Get implements introspection.Var.
func (v *ConfigVar) Get() (interface{}, error) {
	cfg, version := v.provider.Config()
	return map[string]interface{}{
		"config":  cfg,
		"version": version,
	}, nil
}

// RenderedVar exposes the configuration NGINX is running.
//
//	{
//	  "checksum": "4f2a...",
//	  "applied": "2025-01-15T10:30:45Z",
//	  "size": 4567,
//	  "config": "worker_processes auto;\n...",
//	  "certificates": ["default-cafe-secret"],
//	  "files": ["default-jwk-secret.jwk"],
//	  "last_error": ""
//	}
type RenderedVar struct {
	provider StateProvider
}

// Get implements introspection.Var.
func (v *RenderedVar) Get() (interface{}, error) {
	cfg, applied, lastErr := v.provider.AppliedConfig()

	errText := ""
	if lastErr != nil {
		errText = lastErr.Error()
	}
	if cfg == nil {
		return map[string]interface{}{
			"applied":    nil,
			"last_error": errText,
		}, nil
	}

	certs := make([]string, 0, len(cfg.Certificates))
	for _, c := range cfg.Certificates {
		certs = append(certs, c.Name)
	}
	files := make([]string, 0, len(cfg.Files))
	for _, f := range cfg.Files {
		files = append(files, f.Name)
	}

	return map[string]interface{}{
		"checksum":     cfg.Checksum(),
		"applied":      applied,
		"size":         len(cfg.Main),
		"config":       cfg.Main,
		"certificates": certs,
		"files":        files,
		"last_error":   errText,
	}, nil
}

// ResourceSummary is the state of the resources of one kind.
type ResourceSummary struct {
	Count  int            `json:"count"`
	States map[string]int `json:"states"`
	// Invalid names the rejected resources as namespace/name.
	Invalid []string `json:"invalid,omitempty"`
}

// ResourcesVar exposes resource counts and validation states per kind.
type ResourcesVar struct {
	provider StateProvider
}

// Get implements introspection.Var.
func (v *ResourcesVar) Get() (interface{}, error) {
	snap := v.provider.Resources()

	out := make(map[string]ResourceSummary, len(v1.WatchedKinds))
	for _, rk := range v1.WatchedKinds {
		summary := ResourceSummary{States: make(map[string]int)}
		for _, res := range snap.List(rk.Kind) {
			summary.Count++
			summary.States[string(res.State)]++
			if res.State == resourcestore.StateInvalid {
				summary.Invalid = append(summary.Invalid, res.Identity.Key())
			}
		}
		sort.Strings(summary.Invalid)
		out[rk.Kind] = summary
	}
	return out, nil
}

// EventsVar exposes the most recent bus events, oldest first.
type EventsVar struct {
	buffer *EventBuffer
	limit  int
}

// Get implements introspection.Var.
func (v *EventsVar) Get() (interface{}, error) {
	return v.buffer.GetLast(v.limit), nil
}

func uptimeVar(started time.Time) func() (interface{}, error) {
	return func() (interface{}, error) {
		uptime := time.Since(started)
		return map[string]interface{}{
			"started":        started,
			"uptime_seconds": uptime.Seconds(),
			"uptime":         uptime.Round(time.Second).String(),
		}, nil
	}
}
