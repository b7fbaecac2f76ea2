// Package metrics holds the prometheus collectors of the swap service.
package metrics

import (
	"errors"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hydradx"

var (
	quotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quotes_total",
		Help:      "Quotes by direction and outcome.",
	}, []string{"direction", "outcome"})

	quoteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "quote_duration_seconds",
		Help:      "Time to sync pool state and price every route candidate.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"direction"})

	routeCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "route_candidates",
		Help:      "Number of routes resolved per quote.",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
	})

	feeEstimations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fee_estimations_total",
		Help:      "Fee estimations by fee asset kind and outcome.",
	}, []string{"asset", "outcome"})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Submitted extrinsics by stage and outcome.",
	}, []string{"stage", "outcome"})

	syncResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_resets_total",
		Help:      "Storage subscriptions that had to be re-established.",
	}, []string{"service"})

	activeFlows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_flows",
		Help:      "Per account flows currently alive.",
	})
)

// Outcome buckets an error into a low cardinality label
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrCancelled):
		return "cancelled"
	case errors.Is(err, models.ErrInvalidArgs):
		return "invalid"
	case models.IsQuoteInfeasible(err):
		return "infeasible"
	case errors.Is(err, models.ErrConnectionUnavailable), errors.Is(err, models.ErrRuntimeUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func ObserveQuote(direction models.Direction, started time.Time, candidates int, err error) {
	quotes.WithLabelValues(string(direction), Outcome(err)).Inc()
	quoteDuration.WithLabelValues(string(direction)).Observe(time.Since(started).Seconds())
	if candidates > 0 {
		routeCandidates.Observe(float64(candidates))
	}
}

// ObserveFee counts a fee estimation, native is true when no conversion was needed
func ObserveFee(native bool, err error) {
	asset := "converted"
	if native {
		asset = "native"
	}
	feeEstimations.WithLabelValues(asset, Outcome(err)).Inc()
}

func ObserveSubmission(stage models.SubmissionStage, err error) {
	submissions.WithLabelValues(string(stage), Outcome(err)).Inc()
}

// SyncReset counts a subscription reset of a service kind ("omnipool", "stableswap", "account")
func SyncReset(service string) {
	syncResets.WithLabelValues(service).Inc()
}

func FlowOpened() {
	activeFlows.Inc()
}

func FlowClosed() {
	activeFlows.Dec()
}
