package notify

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type channelMetrics struct {
	reconnects prometheus.Counter
	events     *prometheus.CounterVec
	state      prometheus.Gauge
}

func newChannelMetrics(reg prometheus.Registerer) *channelMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ups_client",
		Subsystem: "channel",
		Name:      "reconnects_total",
		Help:      "Notification channel reconnect attempts.",
	})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ups_client",
		Subsystem: "channel",
		Name:      "messages_total",
		Help:      "Notification channel messages by outcome.",
	}, []string{"outcome"})
	state := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ups_client",
		Subsystem: "channel",
		Name:      "state",
		Help:      "Notification channel state (0 idle, 1 connecting, 2 connected, 3 reconnecting, 4 closed).",
	})

	return &channelMetrics{
		reconnects: register(reg, reconnects),
		events:     register(reg, events),
		state:      register(reg, state),
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
