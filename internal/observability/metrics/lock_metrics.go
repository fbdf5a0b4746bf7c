package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	LockResourceInvoice = "invoice"
	LockResourcePayment = "payment"
)

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

const (
	LockFailureTimeout  = "timeout"
	LockFailureCanceled = "canceled"
	LockFailureBackend  = "backend"
)

// LockMetrics captures contention on the per-invoice serialization lock.
type LockMetrics struct {
	wait     *prometheus.HistogramVec
	failures *prometheus.CounterVec
	held     *prometheus.HistogramVec
}

var (
	lockMetricsOnce sync.Once
	lockMetrics     *LockMetrics
)

// Locks returns the singleton lock metrics registered on the default registerer.
func Locks() *LockMetrics {
	return LocksWithConfig(Config{})
}

// LocksWithConfig returns the singleton lock metrics using config labels.
func LocksWithConfig(cfg Config) *LockMetrics {
	lockMetricsOnce.Do(func() {
		lockMetrics = NewLockMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return lockMetrics
}

// NewLockMetrics registers lock instruments on registerer.
func NewLockMetrics(registerer prometheus.Registerer, cfg Config) *LockMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "invoicepay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	wait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "invoicepay_lock_wait_seconds",
		Help:        "Time spent waiting for the invoice serialization lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"resource", "backend"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicepay_lock_failures_total",
		Help:        "Lock acquisitions that did not succeed, by reason.",
		ConstLabels: constLabels,
	}, []string{"resource", "backend", "reason"})
	held := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "invoicepay_lock_held_seconds",
		Help:        "Time the invoice serialization lock was held.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30},
		ConstLabels: constLabels,
	}, []string{"resource", "backend"})

	registerer.MustRegister(wait, failures, held)

	return &LockMetrics{wait: wait, failures: failures, held: held}
}

// ObserveWait records how long a caller waited for the lock.
func (m *LockMetrics) ObserveWait(resource, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.wait.WithLabelValues(resource, backend).Observe(nonNegative(duration).Seconds())
}

func (m *LockMetrics) ObserveHeld(resource, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.held.WithLabelValues(resource, backend).Observe(nonNegative(duration).Seconds())
}

// IncFailure classifies and counts a failed acquisition.
func (m *LockMetrics) IncFailure(resource, backend string, err error) {
	if m == nil || err == nil {
		return
	}
	m.failures.WithLabelValues(resource, backend, ClassifyLockFailure(err)).Inc()
}

func ClassifyLockFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return LockFailureTimeout
	case errors.Is(err, context.Canceled):
		return LockFailureCanceled
	default:
		return LockFailureBackend
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
