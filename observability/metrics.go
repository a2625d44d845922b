package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReferralMetrics tracks the referral daemon's request and pipeline activity.
type ReferralMetrics struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	throttles     *prometheus.CounterVec
	registrations *prometheus.CounterVec
	distributions *prometheus.CounterVec
	chainLength   prometheus.Histogram
	transfers     *prometheus.CounterVec
}

var (
	referralOnce     sync.Once
	referralRegistry *ReferralMetrics
)

// Referral returns the lazily-initialised referral metrics registry.
func Referral() *ReferralMetrics {
	referralOnce.Do(func() {
		referralRegistry = &ReferralMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "refchain",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "refchain",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "refchain",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
			registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "refchain",
				Subsystem: "referral",
				Name:      "registrations_total",
				Help:      "Edge registration attempts segmented by outcome.",
			}, []string{"outcome"}),
			distributions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "refchain",
				Subsystem: "referral",
				Name:      "distributions_total",
				Help:      "Reward distributions segmented by outcome.",
			}, []string{"outcome"}),
			chainLength: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "refchain",
				Subsystem: "referral",
				Name:      "chain_length",
				Help:      "Chain length (triggering participant included) of accepted distributions.",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 65},
			}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "refchain",
				Subsystem: "referral",
				Name:      "payout_transfers_total",
				Help:      "Payout transfers performed, segmented by value type.",
			}, []string{"value_type"}),
		}
		prometheus.MustRegister(
			referralRegistry.requests,
			referralRegistry.latency,
			referralRegistry.throttles,
			referralRegistry.registrations,
			referralRegistry.distributions,
			referralRegistry.chainLength,
			referralRegistry.transfers,
		)
	})
	return referralRegistry
}

// ObserveRequest records a finished HTTP request.
func (m *ReferralMetrics) ObserveRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rate-limited request.
func (m *ReferralMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// RecordRegistration counts an edge registration attempt. outcome should be a
// stable string such as "success" or "cycle_detected".
func (m *ReferralMetrics) RecordRegistration(outcome string, edges int) {
	if m == nil {
		return
	}
	if edges <= 0 {
		edges = 1
	}
	m.registrations.WithLabelValues(normaliseOutcome(outcome)).Add(float64(edges))
}

// RecordDistribution counts a distribution attempt. chainLength and transfers
// are only recorded for successful distributions.
func (m *ReferralMetrics) RecordDistribution(outcome, valueType string, chainLength, transfers int) {
	if m == nil {
		return
	}
	outcome = normaliseOutcome(outcome)
	m.distributions.WithLabelValues(outcome).Inc()
	if outcome != "success" {
		return
	}
	m.chainLength.Observe(float64(chainLength))
	valueType = strings.ToUpper(strings.TrimSpace(valueType))
	if valueType == "" {
		valueType = "UNKNOWN"
	}
	m.transfers.WithLabelValues(valueType).Add(float64(transfers))
}

func normaliseOutcome(outcome string) string {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if outcome == "" {
		return "unspecified"
	}
	return outcome
}
