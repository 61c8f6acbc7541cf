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

package introspection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractField(t *testing.T) {
	type rendered struct {
		Checksum string         `json:"checksum"`
		Size     int            `json:"size"`
		Kinds    map[string]int `json:"kinds"`
		Files    []string       `json:"files"`
	}
	data := rendered{
		Checksum: "abc123",
		Size:     4096,
		Kinds:    map[string]int{"VirtualServer": 3},
		Files:    []string{"nginx.conf", "default-cafe-secret"},
	}

	tests := []struct {
		name    string
		expr    string
		want    interface{}
		wantErr string
	}{
		{name: "string field", expr: "{.checksum}", want: "abc123"},
		{name: "number field", expr: "{.size}", want: 4096.0},
		{name: "map entry", expr: "{.kinds.VirtualServer}", want: 3.0},
		{name: "array index", expr: "{.files[1]}", want: "default-cafe-secret"},
		{name: "missing key", expr: "{.nonexistent}", want: nil},
		{name: "invalid expression", expr: "{.files[", wantErr: "invalid jsonpath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractField(data, tt.expr)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractField_EmptyExpression(t *testing.T) {
	data := map[string]int{"a": 1}

	got, err := ExtractField(data, "")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
