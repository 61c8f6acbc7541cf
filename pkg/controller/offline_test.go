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

package controller

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/resourcestore"
	coreconfig "nginx-reconciler/pkg/core/config"
)

const cafeManifests = `
apiVersion: k8s.nginx.org/v1
kind: VirtualServer
metadata:
  name: cafe
spec:
  host: cafe.example.com
  upstreams:
  - name: tea
    service: tea-svc
    port: 80
  routes:
  - path: /
    action:
      pass: tea
---
apiVersion: v1
kind: Endpoints
metadata:
  name: tea-svc
  namespace: default
subsets:
- addresses:
  - ip: 10.0.0.1
  ports:
  - port: 8080
---
# comment only
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: tea
  namespace: default
`

func outcomeFor(t *testing.T, outcomes []configuration.Outcome, kind, name string) configuration.Outcome {
	t.Helper()
	for _, o := range outcomes {
		if o.ID.Kind == kind && o.ID.Name == name {
			return o
		}
	}
	t.Fatalf("no outcome for %s %s", kind, name)
	return configuration.Outcome{}
}

func TestDecodeManifests(t *testing.T) {
	objs, err := DecodeManifests([]byte(cafeManifests))
	require.NoError(t, err)
	require.Len(t, objs, 3)
	assert.Equal(t, "VirtualServer", objs[0].GetKind())
	assert.Equal(t, "Endpoints", objs[1].GetKind())
	assert.Equal(t, "Deployment", objs[2].GetKind())

	list := `{"apiVersion":"v1","kind":"List","items":[{"apiVersion":"v1","kind":"Secret","metadata":{"name":"a"}}]}`
	objs, err = DecodeManifests([]byte(list))
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "Secret", objs[0].GetKind())

	_, err = DecodeManifests([]byte("metadata:\n  name: nokind\n"))
	assert.ErrorContains(t, err, "kind is missing")
}

func TestRenderOffline(t *testing.T) {
	objs, err := DecodeManifests([]byte(cafeManifests))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res, err := RenderOffline(coreconfig.Default(), objs, logger)
	require.NoError(t, err)

	require.NotNil(t, res.Config, res.RenderErr)
	assert.Contains(t, res.Config.Main, "server_name cafe.example.com;")
	assert.Equal(t, []string{"Deployment default/tea"}, res.Skipped)
	assert.Equal(t, resourcestore.StateValid, outcomeFor(t, res.Outcomes, "VirtualServer", "cafe").State)
}

func TestRenderOffline_CustomResourcesDisabled(t *testing.T) {
	objs, err := DecodeManifests([]byte(cafeManifests))
	require.NoError(t, err)

	cfg := coreconfig.Default()
	disabled := false
	cfg.Features.EnableCustomResources = &disabled

	res, err := RenderOffline(cfg, objs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Contains(t, res.Skipped, "VirtualServer default/cafe")
	assert.NotContains(t, res.Config.Main, "cafe.example.com")
}
