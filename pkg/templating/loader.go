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

package templating

import (
	"fmt"
	"io"
	"strings"

	"github.com/nikolalohinski/gonja/v2/loaders"
)

// SimpleLoader serves templates from memory so that they can include each
// other by name.
type SimpleLoader struct {
	templates map[string]string
}

// NewSimpleLoader creates a loader over templates keyed by name.
func NewSimpleLoader(templates map[string]string) loaders.Loader {
	return &SimpleLoader{templates: templates}
}

// Read returns the content of the named template.
func (l *SimpleLoader) Read(path string) (io.Reader, error) {
	content, exists := l.templates[path]
	if !exists {
		return nil, fmt.Errorf("template not found: %s", path)
	}
	return strings.NewReader(content), nil
}

// Resolve returns path unchanged if the template exists.
func (l *SimpleLoader) Resolve(path string) (string, error) {
	if _, exists := l.templates[path]; !exists {
		return "", fmt.Errorf("template not found: %s", path)
	}
	return path, nil
}

// Inherit returns the loader itself; names are not relative to a directory.
func (l *SimpleLoader) Inherit(from string) (loaders.Loader, error) {
	return l, nil
}
