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

// Package introspection serves debug variables and health endpoints over
// HTTP.
//
// It works like expvar with an instance registry instead of a global one,
// so a reinitialized controller publishes fresh variables, and it adds
// kubectl-style JSONPath field selection:
//
//	GET /debug/vars                          list variable paths
//	GET /debug/vars/all                      all variables
//	GET /debug/vars/rendered?field={.checksum}
//	GET /healthz, /readyz
//	GET /debug/pprof/
package introspection

// Var is a debug variable. Get must be safe for concurrent use and return
// a JSON-serializable value.
type Var interface {
	Get() (interface{}, error)
}

// Func is a Var computed on every query.
type Func func() (interface{}, error)

// Get implements Var.
func (f Func) Get() (interface{}, error) {
	return f()
}
