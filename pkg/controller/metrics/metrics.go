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

// Package metrics exposes the controller's Prometheus metrics and the
// component that keeps them current from bus events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	pkgmetrics "nginx-reconciler/pkg/metrics"
)

// Namespace prefixes every metric name.
const Namespace = "nginx_ingress_controller"

// Metrics holds all controller metrics.
//
// Create one instance per controller iteration, registered on an instance
// registry, so a configuration change starts with fresh series.
type Metrics struct {
	Reloads            prometheus.Counter
	ReloadErrors       prometheus.Counter
	LastReloadStatus   prometheus.Gauge
	LastReloadDuration prometheus.Histogram
	DynamicUpdates     *prometheus.CounterVec

	Resources      *prometheus.GaugeVec
	ResourcesState *prometheus.GaugeVec

	ReconciliationTotal    prometheus.Counter
	ReconciliationErrors   prometheus.Counter
	ReconciliationDuration prometheus.Histogram

	StatusUpdates *prometheus.CounterVec
	WatchFailures *prometheus.CounterVec
	EventsDropped prometheus.Counter
}

func name(suffix string) string {
	return Namespace + "_" + suffix
}

// New creates all controller metrics and registers them with registry.
func New(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		Reloads: pkgmetrics.NewCounter(registry,
			name("nginx_reloads_total"),
			"Number of successful NGINX reloads"),
		ReloadErrors: pkgmetrics.NewCounter(registry,
			name("nginx_reload_errors_total"),
			"Number of unsuccessful NGINX reloads"),
		LastReloadStatus: pkgmetrics.NewGauge(registry,
			name("nginx_last_reload_status"),
			"Status of the last NGINX reload: 1 ok, 0 failed"),
		LastReloadDuration: pkgmetrics.NewHistogramWithBuckets(registry,
			name("nginx_last_reload_duration_seconds"),
			"Duration of NGINX reloads",
			pkgmetrics.DurationBuckets()),
		DynamicUpdates: pkgmetrics.NewCounterVec(registry,
			name("dynamic_updates_total"),
			"Number of changes applied without a reload",
			[]string{"type"}),

		Resources: pkgmetrics.NewGaugeVec(registry,
			name("resources"),
			"Number of watched resources by kind",
			[]string{"kind"}),
		ResourcesState: pkgmetrics.NewGaugeVec(registry,
			name("resources_state"),
			"Number of validated resources by kind and validation state",
			[]string{"kind", "state"}),

		ReconciliationTotal: pkgmetrics.NewCounter(registry,
			name("reconciliation_total"),
			"Number of reconciliation passes"),
		ReconciliationErrors: pkgmetrics.NewCounter(registry,
			name("reconciliation_errors_total"),
			"Number of reconciliation passes that produced no configuration"),
		ReconciliationDuration: pkgmetrics.NewHistogramWithBuckets(registry,
			name("reconciliation_duration_seconds"),
			"Duration of successful reconciliation passes",
			pkgmetrics.DurationBuckets()),

		StatusUpdates: pkgmetrics.NewCounterVec(registry,
			name("status_updates_total"),
			"Number of resource status writes by result",
			[]string{"result"}),
		WatchFailures: pkgmetrics.NewCounterVec(registry,
			name("watch_failures_total"),
			"Number of failed list or watch calls by kind",
			[]string{"kind"}),
		EventsDropped: pkgmetrics.NewCounter(registry,
			name("events_dropped_total"),
			"Number of bus events dropped because a subscriber was full"),
	}
}

// RecordReload records a finished full reload.
func (m *Metrics) RecordReload(durationSeconds float64, success bool) {
	m.LastReloadDuration.Observe(durationSeconds)
	if success {
		m.Reloads.Inc()
		m.LastReloadStatus.Set(1)
		return
	}
	m.ReloadErrors.Inc()
	m.LastReloadStatus.Set(0)
}

// RecordReconciliation records a finished pass. Failed passes are not
// added to the duration histogram.
func (m *Metrics) RecordReconciliation(durationSeconds float64, success bool) {
	m.ReconciliationTotal.Inc()
	if !success {
		m.ReconciliationErrors.Inc()
		return
	}
	m.ReconciliationDuration.Observe(durationSeconds)
}

// SetResourceCount sets the number of resources of kind.
func (m *Metrics) SetResourceCount(kind string, count int) {
	m.Resources.WithLabelValues(kind).Set(float64(count))
}

// SetResourceStates replaces all resources_state series with counts,
// keyed by kind and then state.
func (m *Metrics) SetResourceStates(counts map[string]map[string]int) {
	m.ResourcesState.Reset()
	for kind, states := range counts {
		for state, n := range states {
			m.ResourcesState.WithLabelValues(kind, state).Set(float64(n))
		}
	}
}
