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

// Package metrics holds constructors for Prometheus metrics and the HTTP
// server exposing them.
//
// Every constructor takes the registry to register with. Pass an instance
// registry from prometheus.NewRegistry(), never prometheus.DefaultRegisterer,
// so a reinitialized controller starts with fresh series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewCounter creates and registers a counter.
func NewCounter(registry prometheus.Registerer, name, help string) prometheus.Counter {
	return promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: help,
	})
}

// NewCounterVec creates and registers a counter vector with labels.
//
//	updates := metrics.NewCounterVec(registry, "dynamic_updates_total", "...", []string{"type"})
//	updates.WithLabelValues("certificates").Inc()
func NewCounterVec(registry prometheus.Registerer, name, help string, labels []string) *prometheus.CounterVec {
	return promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, labels)
}

// NewGauge creates and registers a gauge.
func NewGauge(registry prometheus.Registerer, name, help string) prometheus.Gauge {
	return promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	})
}

// NewGaugeVec creates and registers a gauge vector with labels.
func NewGaugeVec(registry prometheus.Registerer, name, help string, labels []string) *prometheus.GaugeVec {
	return promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, labels)
}

// NewHistogram creates and registers a histogram with prometheus.DefBuckets.
func NewHistogram(registry prometheus.Registerer, name, help string) prometheus.Histogram {
	return NewHistogramWithBuckets(registry, name, help, prometheus.DefBuckets)
}

// NewHistogramWithBuckets creates and registers a histogram with custom buckets.
func NewHistogramWithBuckets(registry prometheus.Registerer, name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: buckets,
	})
}

// DurationBuckets returns buckets in seconds from 10ms to 60s. NGINX
// reloads with many servers can take tens of seconds.
func DurationBuckets() []float64 {
	return []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
}
