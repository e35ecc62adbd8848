// SPDX-License-Identifier: MIT

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portalgate_sessions_active",
		Help: "Number of live browser sessions in the pool",
	})

	acquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portalgate_session_acquisitions_total",
		Help: "Session acquisitions by outcome (hit: existing session, miss: fresh login)",
	}, []string{"outcome"})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_session_evictions_total",
		Help: "Sessions evicted by the LRU capacity policy",
	})

	refreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_session_refreshes_total",
		Help: "Successful keep-alive refresh passes",
	})

	refreshFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_session_refresh_failures_total",
		Help: "Sessions removed after a failed keep-alive refresh",
	})
)
