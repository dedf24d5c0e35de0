package service

import (
	"errors"
	"time"

	"bankledger/internal/ledger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 账本指标，注册到调用方传入的 Registerer，测试中每个用例使用独立的 Registry
type Metrics struct {
	ApplyTotal           *prometheus.CounterVec
	ApplyDuration        prometheus.Histogram
	ExtractTotal         *prometheus.CounterVec
	CacheTotal           *prometheus.CounterVec
	InvariantViolation   prometheus.Counter
	ConservationMismatch prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ApplyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "apply_total",
			Help:      "Ledger apply calls by outcome.",
		}, []string{"kind", "outcome"}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "apply_duration_seconds",
			Help:      "Latency of ledger apply calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		ExtractTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "extract_total",
			Help:      "Extract requests by outcome.",
		}, []string{"outcome"}),
		CacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "extract_cache_total",
			Help:      "Extract cache operations by result.",
		}, []string{"result"}),
		InvariantViolation: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "invariant_violations_total",
			Help:      "Observed balance < -limit states.",
		}),
		ConservationMismatch: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "conservation_mismatches_total",
			Help:      "Accounts whose balance differs from opening balance plus logged deltas.",
		}),
	}
}

// outcome 把错误映射成指标标签
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ledger.ErrInvalidCommand):
		return "invalid"
	case errors.Is(err, ledger.ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "storage_unavailable"
	}
}

func (m *Metrics) observeApply(kind ledger.Kind, err error, start time.Time) {
	m.ApplyTotal.WithLabelValues(string(kind), outcome(err)).Inc()
	m.ApplyDuration.Observe(time.Since(start).Seconds())
}
