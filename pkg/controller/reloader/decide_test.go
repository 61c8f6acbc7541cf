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

package reloader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nginx-reconciler/pkg/controller/renderer"
)

func cert(name, content string, dynamic bool) renderer.Certificate {
	return renderer.Certificate{
		File:    renderer.File{Name: name, Content: []byte(content)},
		Secret:  "default/" + name,
		Dynamic: dynamic,
	}
}

func splitConfig(value string) *renderer.Config {
	return &renderer.Config{
		Main: "map $zone_var $split {\n    default $" + value + ";\n}\n",
		Weights: []renderer.SplitWeights{
			{Zone: "zone_0", Key: "key_0", Value: value},
		},
	}
}

func TestDecide(t *testing.T) {
	base := &renderer.Config{
		Main:         "events {}\n",
		Files:        []renderer.File{{Name: "htpasswd", Content: []byte("a:b")}},
		Certificates: []renderer.Certificate{cert("default_cafe.pem", "v1", true)},
	}
	with := func(mutate func(c *renderer.Config)) *renderer.Config {
		c := *base
		c.Certificates = append([]renderer.Certificate(nil), base.Certificates...)
		c.Files = append([]renderer.File(nil), base.Files...)
		mutate(&c)
		return &c
	}

	tests := []struct {
		name       string
		prev       *renderer.Config
		next       *renderer.Config
		flags      Flags
		wantAction Action
		wantCerts  []string
		wantWeight int
	}{
		{
			name:       "initial configuration",
			prev:       nil,
			next:       base,
			wantAction: FullReload,
		},
		{
			name:       "identical configuration",
			prev:       base,
			next:       with(func(*renderer.Config) {}),
			flags:      Flags{DynamicSSL: true},
			wantAction: SkipNoop,
		},
		{
			name:       "main configuration changed",
			prev:       base,
			next:       with(func(c *renderer.Config) { c.Main = "events { worker_connections 1; }\n" }),
			flags:      Flags{DynamicSSL: true},
			wantAction: FullReload,
		},
		{
			name:       "auxiliary file changed",
			prev:       base,
			next:       with(func(c *renderer.Config) { c.Files[0].Content = []byte("a:c") }),
			flags:      Flags{DynamicSSL: true},
			wantAction: FullReload,
		},
		{
			name:       "certificate content changed with dynamic ssl",
			prev:       base,
			next:       with(func(c *renderer.Config) { c.Certificates[0] = cert("default_cafe.pem", "v2", true) }),
			flags:      Flags{DynamicSSL: true},
			wantAction: DynamicUpdate,
			wantCerts:  []string{"default_cafe.pem"},
		},
		{
			name:       "certificate content changed without dynamic ssl",
			prev:       base,
			next:       with(func(c *renderer.Config) { c.Certificates[0] = cert("default_cafe.pem", "v2", true) }),
			wantAction: FullReload,
		},
		{
			name:       "certificate used by a passthrough server",
			prev:       base,
			next:       with(func(c *renderer.Config) { c.Certificates[0] = cert("default_cafe.pem", "v2", false) }),
			flags:      Flags{DynamicSSL: true},
			wantAction: FullReload,
		},
		{
			name: "certificate added",
			prev: base,
			next: with(func(c *renderer.Config) {
				c.Certificates = append(c.Certificates, cert("default_tea.pem", "v1", true))
			}),
			flags:      Flags{DynamicSSL: true},
			wantAction: FullReload,
		},
		{
			name:       "split weights changed",
			prev:       splitConfig("splits_0_50_50"),
			next:       splitConfig("splits_0_20_80"),
			flags:      Flags{DynamicWeights: true},
			wantAction: DynamicUpdate,
			wantWeight: 1,
		},
		{
			name:       "split weights changed without dynamic weights",
			prev:       splitConfig("splits_0_50_50"),
			next:       splitConfig("splits_0_20_80"),
			wantAction: FullReload,
			wantWeight: 1,
		},
		{
			name:       "stale weights are pushed again",
			prev:       splitConfig("splits_0_50_50").StaleWeights(),
			next:       splitConfig("splits_0_50_50"),
			flags:      Flags{DynamicWeights: true},
			wantAction: DynamicUpdate,
			wantWeight: 1,
		},
		{
			name:       "initial configuration with splits pushes weights",
			prev:       nil,
			next:       splitConfig("splits_0_20_80"),
			flags:      Flags{DynamicWeights: true},
			wantAction: FullReload,
			wantWeight: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.prev, tt.next, tt.flags)
			assert.Equal(t, tt.wantAction, d.Action, "reasons: %v", d.Reasons)
			if d.Action != SkipNoop {
				assert.NotEmpty(t, d.Reasons)
			}

			var certs []string
			for _, c := range d.Certificates {
				certs = append(certs, c.Name)
			}
			assert.Equal(t, tt.wantCerts, certs)
			assert.Len(t, d.Weights, tt.wantWeight)
		})
	}
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "skip", SkipNoop.String())
	assert.Equal(t, "dynamic-update", DynamicUpdate.String())
	assert.Equal(t, "full-reload", FullReload.String())
	assert.Equal(t, "Action(7)", Action(7).String())
}
