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

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
)

func TestDiscoverNamespaceFromFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content *string
		want    string
		wantErr bool
	}{
		{name: "plain", content: ptr("nginx-ingress"), want: "nginx-ingress"},
		{name: "trailing newline", content: ptr("nginx-ingress\n"), want: "nginx-ingress"},
		{name: "empty", content: ptr("  \n"), wantErr: true},
		{name: "missing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0o600))
			}

			got, err := DiscoverNamespaceFromFile(path)
			if tt.wantErr {
				var nsErr *NamespaceDiscoveryError
				require.ErrorAs(t, err, &nsErr)
				assert.Equal(t, path, nsErr.Path)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscoverNamespaceFromFile_MissingUnwraps(t *testing.T) {
	_, err := DiscoverNamespaceFromFile(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestNew_BadKubeconfig(t *testing.T) {
	_, err := New(Config{Kubeconfig: filepath.Join(t.TempDir(), "missing.yaml")})
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Contains(t, err.Error(), "load kubeconfig")
}

func TestNewFromClientset(t *testing.T) {
	cs := fake.NewSimpleClientset()
	dyn := dynamicfake.NewSimpleDynamicClient(runtime.NewScheme())

	c := NewFromClientset(cs, dyn, "nginx-ingress")
	assert.Same(t, cs, c.Clientset())
	assert.Equal(t, dyn, c.Dynamic())
	assert.Equal(t, "nginx-ingress", c.Namespace())
	assert.Nil(t, c.RestConfig())
}

func ptr(s string) *string { return &s }
