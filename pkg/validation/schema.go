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

package validation

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

//go:embed schemas.yaml
var schemasYAML []byte

var (
	schemaOnce sync.Once
	schemaDoc  *openapi3.T
	schemaErr  error
)

func loadSchemas() (*openapi3.T, error) {
	schemaOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(schemasYAML)
		if err != nil {
			schemaErr = fmt.Errorf("failed to load resource schemas: %w", err)
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			schemaErr = fmt.Errorf("invalid resource schemas: %w", err)
			return
		}
		schemaDoc = doc
	})
	return schemaDoc, schemaErr
}

// ValidateSchema checks the spec of a custom resource against its OpenAPI
// schema. Kinds without a schema are accepted.
//
// Running the schema check before decoding catches type mismatches (a string
// where an integer is expected) that would otherwise surface as conversion
// errors without a field path.
func ValidateSchema(obj *unstructured.Unstructured) error {
	doc, err := loadSchemas()
	if err != nil {
		return err
	}

	ref, ok := doc.Components.Schemas[obj.GetKind()+"Spec"]
	if !ok || ref.Value == nil {
		return nil
	}

	spec, found, err := unstructured.NestedMap(obj.Object, "spec")
	if err != nil {
		return fmt.Errorf("spec: %w", err)
	}
	if !found {
		return fmt.Errorf("spec: Required value")
	}

	// Round-trip through JSON so numbers reach the schema as float64.
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("spec: %w", err)
	}
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("spec: %w", err)
	}

	if err := ref.Value.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		return fmt.Errorf("spec: schema validation failed: %w", err)
	}
	return nil
}
