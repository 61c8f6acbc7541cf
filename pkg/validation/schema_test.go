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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/testutil"
)

func TestValidateSchema(t *testing.T) {
	t.Run("typed object passes", func(t *testing.T) {
		res := testutil.Resource(v1.KindVirtualServer, "default", "cafe", validVirtualServer())
		require.NoError(t, ValidateSchema(res.Object))
	})

	t.Run("wrong type is rejected", func(t *testing.T) {
		obj := &unstructured.Unstructured{Object: map[string]interface{}{
			"apiVersion": "k8s.nginx.org/v1",
			"kind":       v1.KindTransportServer,
			"spec": map[string]interface{}{
				"listener": map[string]interface{}{"name": "dns", "protocol": "SCTP"},
				"upstreams": []interface{}{
					map[string]interface{}{"name": "dns", "service": "coredns", "port": "fifty-three"},
				},
			},
		}}
		err := ValidateSchema(obj)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema validation failed")
	})

	t.Run("missing spec", func(t *testing.T) {
		obj := &unstructured.Unstructured{Object: map[string]interface{}{"kind": v1.KindPolicy}}
		assert.Error(t, ValidateSchema(obj))
	})

	t.Run("kinds without schema are accepted", func(t *testing.T) {
		obj := &unstructured.Unstructured{Object: map[string]interface{}{"kind": v1.KindSecret}}
		assert.NoError(t, ValidateSchema(obj))
	})
}
