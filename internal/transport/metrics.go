package transport

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeventeLantos/cart-recovery/internal/model"
)

// MetricsSender records send counts and latency per transport type and outcome.
type MetricsSender struct {
	next     Sender
	sends    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func WithMetrics(next Sender, reg prometheus.Registerer) *MetricsSender {
	sends := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_send_total",
			Help: "WhatsApp send attempts by transport and outcome.",
		},
		[]string{"transport", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transport_send_duration_seconds",
			Help:    "WhatsApp send latency by transport and outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport", "outcome"},
	)
	reg.MustRegister(sends, duration)

	return &MetricsSender{next: next, sends: sends, duration: duration}
}

func (m *MetricsSender) Send(ctx context.Context, inst model.Instance, phone, content string) (Result, error) {
	start := time.Now()
	res, err := m.next.Send(ctx, inst, phone, content)

	labels := []string{string(inst.Connection.Type), outcome(err)}
	m.sends.WithLabelValues(labels...).Inc()
	m.duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

	return res, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidPhoneNumber):
		return "invalid_phone"
	case errors.Is(err, ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, ErrUnsupportedTransport):
		return "unsupported"
	case errors.Is(err, ErrTransportUnavailable):
		return "unavailable"
	default:
		return "provider_error"
	}
}
