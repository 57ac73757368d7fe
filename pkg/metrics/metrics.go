package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure|locked|error).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "santaserver_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// AccountLockouts counts Unlocked -> Locked transitions.
	AccountLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "santaserver_account_lockouts_total",
			Help: "Total number of account lockouts",
		},
	)

	// TokenOperations counts session token operations (issue|refresh|revoke|reject).
	TokenOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "santaserver_token_operations_total",
			Help: "Total number of token operations",
		},
		[]string{"operation"},
	)

	// PermissionChecks counts permission evaluations and their outcome (allowed|denied|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "santaserver_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result"},
	)

	// RateLimited counts requests rejected by rate limiting, by limiter scope.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "santaserver_rate_limited_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"scope"},
	)

	// AuditWriteFailures counts audit events that could not be persisted.
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "santaserver_audit_write_failures_total",
			Help: "Total number of failed audit writes",
		},
	)

	// ActiveSessions tracks sessions issued minus sessions revoked or purged by this process.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "santaserver_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "santaserver_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
