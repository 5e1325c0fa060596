package upsrs

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the request engine's Prometheus collectors
type Metrics struct {
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg. Collectors already
// registered by another client on the same registry are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ups_client",
		Name:      "requests_total",
		Help:      "UPS-RS operations by action and outcome.",
	}, []string{"action", "method", "outcome"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ups_client",
		Name:      "retries_total",
		Help:      "Retried UPS-RS request attempts by action.",
	}, []string{"action"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ups_client",
		Name:      "request_duration_seconds",
		Help:      "Wall time of UPS-RS operations including retries and backoff.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})

	return &Metrics{
		requests: register(reg, requests),
		retries:  register(reg, retries),
		duration: register(reg, duration),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observe(action, method string, res Result, seconds float64) {
	outcome := "success"
	if res.Err != nil {
		outcome = res.Err.Kind.String()
	}
	m.requests.WithLabelValues(action, method, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(seconds)
}

func (m *Metrics) retry(action string) {
	m.retries.WithLabelValues(action).Inc()
}
