package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeLocked  = "locked"
	OutcomeRevoked = "revoked"
	OutcomeInvalid = "invalid"
)

var (
	// MFA metrics
	MFAVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_mfa_verifications_total",
			Help: "Total number of MFA code verifications",
		},
		[]string{"method", "outcome"},
	)

	MFALockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authcore_mfa_lockouts_total",
			Help: "Total number of accounts locked after repeated MFA failures",
		},
	)

	// Token metrics
	TokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_tokens_issued_total",
			Help: "Total number of JWTs issued",
		},
		[]string{"type"}, // access/refresh
	)

	TokensRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authcore_tokens_revoked_total",
			Help: "Total number of tokens added to the blacklist",
		},
	)

	TokenValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_token_validations_total",
			Help: "Total number of bearer token validations",
		},
		[]string{"outcome"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authcore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	HTTPPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_http_panics_total",
			Help: "Total number of handler panics recovered",
		},
		[]string{"method"},
	)
)
