// SPDX-License-Identifier: MIT

package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portalgate_request_duration_seconds",
		Help:    "End-to-end request duration per endpoint",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 12), // 50ms .. ~100s, browser work is slow
	}, []string{"endpoint"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portalgate_requests_total",
		Help: "Requests per endpoint and status code",
	}, []string{"endpoint", "status"})

	fileRequestsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portalgate_file_requests_denied_total",
		Help: "Artifact requests denied for security reasons",
	}, []string{"reason"})

	fileRequestsAllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_file_requests_allowed_total",
		Help: "Artifact requests served",
	})

	debugBundlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_debug_bundles_total",
		Help: "Debug bundles created on request",
	})
)

func recordRequest(endpoint string, status int, elapsed time.Duration) {
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func recordFileRequestDenied(reason string) {
	fileRequestsDeniedTotal.WithLabelValues(reason).Inc()
}

func recordFileRequestAllowed() {
	fileRequestsAllowedTotal.Inc()
}

func recordDebugBundle() {
	debugBundlesTotal.Inc()
}
