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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/renderer"
	"nginx-reconciler/pkg/controller/resourcestore"
	coreconfig "nginx-reconciler/pkg/core/config"
)

// OfflineResult is the outcome of RenderOffline.
type OfflineResult struct {
	// Config is nil when rendering failed; RenderErr then holds the
	// formatted error.
	Config    *renderer.Config
	RenderErr string

	Outcomes []configuration.Outcome
	// Skipped lists objects of kinds that are not watched.
	Skipped []string
}

// RenderOffline runs one validation and rendering pass over objs without a
// cluster, the way the controller would after its initial sync.
func RenderOffline(cfg *coreconfig.Config, objs []*unstructured.Unstructured, logger *slog.Logger) (*OfflineResult, error) {
	rend, err := renderer.New(rendererOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	store := resourcestore.New()
	res := &OfflineResult{}
	custom := cfg.Features.CustomResources()
	for _, obj := range objs {
		if obj.GetNamespace() == "" {
			obj.SetNamespace("default")
		}
		rk, ok := v1.LookupKind(obj.GetKind())
		if !ok || (rk.Custom && !custom) {
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s %s/%s", obj.GetKind(), obj.GetNamespace(), obj.GetName()))
			continue
		}
		store.Upsert(resourcestore.NewWatchedResource(rk.Kind, obj))
	}
	sort.Strings(res.Skipped)

	result := configuration.NewBuilder(builderOptions(cfg), logger).Build(store.Snapshot())
	res.Outcomes = result.Outcomes

	rendered, err := rend.Render(result.Model)
	if err != nil {
		res.RenderErr = rend.FormatError(err)
		return res, nil
	}
	res.Config = rendered
	return res, nil
}

// DecodeManifests splits a multi-document YAML or JSON stream into objects.
// Empty documents are skipped; List objects are flattened.
func DecodeManifests(data []byte) ([]*unstructured.Unstructured, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))

	var out []*unstructured.Unstructured
	for i := 0; ; i++ {
		doc, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}

		var m map[string]interface{}
		if err := yaml.Unmarshal(doc, &m); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if len(m) == 0 {
			continue
		}
		obj := &unstructured.Unstructured{Object: m}
		if obj.GetKind() == "" {
			return nil, fmt.Errorf("document %d: kind is missing", i)
		}

		if obj.IsList() {
			err := obj.EachListItem(func(item runtime.Object) error {
				u, ok := item.(*unstructured.Unstructured)
				if ok {
					out = append(out, u)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
			continue
		}
		out = append(out, obj)
	}
}
