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

// Package validation checks single resources in isolation.
//
// Every function in this package is pure: it looks only at the object it is
// given (plus explicit options) and never at other resources. Cross-resource
// checks such as reference resolution and claim arbitration live in the
// configuration package.
//
// Two outcomes are distinguished:
//   - Error: the resource is malformed and is marked Invalid. It contributes
//     nothing to the generated configuration.
//   - Warning: the resource is usable but degraded. It is marked Warning and
//     the affected parts render as error responses.
package validation

import (
	"strings"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Error is returned when a resource fails validation.
type Error struct {
	Errs field.ErrorList
}

func (e *Error) Error() string {
	return e.Errs.ToAggregate().Error()
}

// newError returns nil for an empty list so callers can return it directly.
func newError(errs field.ErrorList) error {
	if len(errs) == 0 {
		return nil
	}
	return &Error{Errs: errs}
}

// Warning describes a non-fatal problem of an otherwise valid resource.
type Warning struct {
	Message string
}

func (w *Warning) Error() string {
	return w.Message
}

// Warnings collects warning messages in the order they were found.
type Warnings []string

// Add appends a message unless it is already present.
func (w *Warnings) Add(msg string) {
	for _, existing := range *w {
		if existing == msg {
			return
		}
	}
	*w = append(*w, msg)
}

// String joins the messages the way they appear in status messages.
func (w Warnings) String() string {
	return strings.Join(w, "; ")
}
