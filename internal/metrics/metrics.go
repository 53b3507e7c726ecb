package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MintsTotal counts coupon NFTs minted by outcome
	MintsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_mints_total",
			Help: "Total number of coupon NFT mint attempts",
		},
		[]string{"status"},
	)

	// ClaimsTotal counts coupon claims by outcome
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_claims_total",
			Help: "Total number of coupon claim attempts",
		},
		[]string{"status"},
	)

	// RedemptionsTotal counts redemptions by campaign type and outcome
	RedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_redemptions_total",
			Help: "Total number of coupon redemption attempts",
		},
		[]string{"campaign_type", "status"},
	)

	// TokensIssued counts redemption tokens issued
	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_redemption_tokens_issued_total",
			Help: "Total number of redemption tokens issued",
		},
	)

	// LedgerCallDuration tracks consensus node call latency per operation
	LedgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coupon_ledger_call_duration_seconds",
			Help:    "Ledger node call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// MirrorCallDuration tracks mirror node query latency
	MirrorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coupon_mirror_call_duration_seconds",
			Help:    "Mirror node query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// CouponsBurned counts expired coupons burned by sweep runs
	CouponsBurned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_expired_burned_total",
			Help: "Total number of expired coupons burned",
		},
	)

	// ReconcilerRepairs counts local rows corrected by the reconciler
	ReconcilerRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_reconciler_repairs_total",
			Help: "Total number of coupon rows repaired against ledger state",
		},
		[]string{"repair"},
	)

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
