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

// Package fake provides an in-memory dataplane.Manager for tests.
package fake

import (
	"context"
	"sync"

	"nginx-reconciler/pkg/dataplane"
)

// Manager records the calls made to it. Errors set on the fields are
// returned by the matching method.
type Manager struct {
	mu sync.Mutex

	ApplyErr   error
	CertsErr   error
	WeightsErr error

	applied []*dataplane.Config
	certs   [][]dataplane.File
	weights [][]dataplane.KeyVal

	// notify receives a value after every call.
	notify chan struct{}
}

var _ dataplane.Manager = (*Manager)(nil)

// NewManager creates a Manager.
func NewManager() *Manager {
	return &Manager{notify: make(chan struct{}, 1024)}
}

func (m *Manager) Apply(_ context.Context, cfg *dataplane.Config) error {
	m.mu.Lock()
	defer m.signal()
	defer m.mu.Unlock()
	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	m.applied = append(m.applied, cfg)
	return nil
}

func (m *Manager) UpdateCertificates(_ context.Context, certs []dataplane.File) error {
	m.mu.Lock()
	defer m.signal()
	defer m.mu.Unlock()
	if m.CertsErr != nil {
		return m.CertsErr
	}
	m.certs = append(m.certs, certs)
	return nil
}

func (m *Manager) UpdateWeights(_ context.Context, weights []dataplane.KeyVal) error {
	m.mu.Lock()
	defer m.signal()
	defer m.mu.Unlock()
	if m.WeightsErr != nil {
		return m.WeightsErr
	}
	m.weights = append(m.weights, weights)
	return nil
}

// SetApplyErr changes the error returned by Apply.
func (m *Manager) SetApplyErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApplyErr = err
}

// SetWeightsErr changes the error returned by UpdateWeights.
func (m *Manager) SetWeightsErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WeightsErr = err
}

// Applied returns the configurations applied successfully.
func (m *Manager) Applied() []*dataplane.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dataplane.Config(nil), m.applied...)
}

// CertificateUpdates returns the successful certificate updates.
func (m *Manager) CertificateUpdates() [][]dataplane.File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]dataplane.File(nil), m.certs...)
}

// WeightUpdates returns the successful weight updates.
func (m *Manager) WeightUpdates() [][]dataplane.KeyVal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]dataplane.KeyVal(nil), m.weights...)
}

// Calls is signalled after every call, successful or not.
func (m *Manager) Calls() <-chan struct{} {
	return m.notify
}

func (m *Manager) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
