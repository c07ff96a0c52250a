/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinning run metrics.
var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_runs_total",
		Help: "Pinning runs by outcome (success, dry_run, failed, locked).",
	}, []string{"outcome"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collexions_run_duration_seconds",
		Help:    "Wall time of a full pinning run.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collexions_last_run_timestamp_seconds",
		Help: "Unix time the last pinning run finished.",
	})

	PicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_picks_total",
		Help: "Collections selected, by library and tier.",
	}, []string{"library", "tier"})

	PinnedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_pins_total",
		Help: "Pin, unpin and label mutations by library, action and result.",
	}, []string{"library", "action", "result"})

	EligiblePool = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collexions_eligible_pool_size",
		Help: "Working pool size after the eligibility pass in the last run.",
	}, []string{"library"})

	DiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_discarded_candidates_total",
		Help: "Candidates dropped by the eligibility pass, by library and reason.",
	}, []string{"library", "reason"})

	CategoryLotterySkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_category_lottery_skips_total",
		Help: "Runs where the category lottery skipped the category tier.",
	}, []string{"library"})

	LedgerEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collexions_ledger_entries",
		Help: "Entries left in the recency ledger after pruning.",
	})

	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collexions_scheduler_ticks_total",
		Help: "Scheduler cycles started.",
	})

	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_scheduler_errors_total",
		Help: "Scheduler cycles that failed, by stage.",
	}, []string{"stage"})
)

// Catalog client metrics.
var (
	CatalogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collexions_catalog_request_duration_seconds",
		Help:    "Latency of Plex API requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collexions_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})

	CircuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions.",
	}, []string{"name", "from", "to"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_notifications_total",
		Help: "Webhook notifications by result.",
	}, []string{"result"})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collexions_database_query_duration_seconds",
		Help:    "Ledger database query latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_database_errors_total",
		Help: "Ledger database errors.",
	}, []string{"operation", "error_type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collexions_database_connections_active",
		Help: "Open ledger database connections.",
	})
)

// Process metrics.
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collexions_leader_election_status",
		Help: "1 when this instance is the leader.",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_leader_election_changes_total",
		Help: "Leadership acquisitions and losses.",
	}, []string{"instance_id", "change"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collexions_api_request_duration_seconds",
		Help:    "HTTP API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collexions_api_requests_total",
		Help: "HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collexions_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
