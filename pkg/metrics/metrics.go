/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the Prometheus instrumentation on a service-owned
// registry, so tests observe exactly the metrics this service registers and
// nothing from the global default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the service exports on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	IngestionRuns     *prometheus.CounterVec   // source_type, outcome
	RecordsProcessed  *prometheus.CounterVec   // action: inserted|updated|skipped|failed
	IngestionDuration *prometheus.HistogramVec // source_type
	AlertsTriggered   *prometheus.CounterVec   // action_type
	HTTPRequests      *prometheus.CounterVec   // method, route, status
	HTTPDuration      *prometheus.HistogramVec // method, route
	RateLimited       prometheus.Counter
}

// New builds the instrument set on a fresh registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		IngestionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_runs_total",
			Help:      "Completed ingestion runs by source type and outcome.",
		}, []string{"source_type", "outcome"}),
		RecordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Records walked by the ingestion engine, by action taken.",
		}, []string{"action"}),
		IngestionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"source_type"}),
		AlertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Alert log rows appended by fan-out, by action type.",
		}, []string{"action_type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status class.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	registry.MustRegister(
		m.IngestionRuns,
		m.RecordsProcessed,
		m.IngestionDuration,
		m.AlertsTriggered,
		m.HTTPRequests,
		m.HTTPDuration,
		m.RateLimited,
	)
	return m
}

// Gatherer exposes the registry for promhttp.HandlerFor.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
