// Copyright 2025 Tom Barlow
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

// Package metrics exposes gateway counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workbench_http_requests_total",
			Help: "Total HTTP requests by route and status code",
		},
		[]string{"route", "status"},
	)

	rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workbench_rejections_total",
			Help: "Total rejected requests by error code and reason",
		},
		[]string{"code", "reason"},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workbench_upstream_request_duration_seconds",
			Help:    "Upstream provider call latency by provider, kind and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"provider", "kind", "outcome"},
	)

	upstreamInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workbench_upstream_in_flight",
			Help: "Upstream calls currently in progress",
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workbench_sessions_active",
			Help: "Sessions held by the session store, including not yet swept expired ones",
		},
	)

	authFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workbench_auth_failures_total",
			Help: "Total requests that failed authentication",
		},
	)
)

// RecordRequest counts one completed request.
func RecordRequest(route string, status int) {
	requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// RecordRejection counts one request rejected with an API error.
func RecordRejection(code, reason string) {
	rejections.WithLabelValues(code, reason).Inc()
}

// ObserveUpstream records one upstream call. outcome is "ok" or an upstream
// error reason.
func ObserveUpstream(provider, kind, outcome string, d time.Duration) {
	upstreamDuration.WithLabelValues(provider, kind, outcome).Observe(d.Seconds())
}

// UpstreamStarted marks an upstream call in progress. Call the returned func
// when it ends.
func UpstreamStarted() func() {
	upstreamInFlight.Inc()
	return upstreamInFlight.Dec
}

// SetActiveSessions reports the session store size.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordAuthFailure counts one failed authentication.
func RecordAuthFailure() {
	authFailures.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
