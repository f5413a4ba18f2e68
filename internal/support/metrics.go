package support

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome attribute values.
const (
	outcomeOK        = "ok"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
	outcomeFallback  = "fallback"
)

// metrics holds the assistant's domain instruments.
type metrics struct {
	classifications metric.Int64Counter
	answers         metric.Int64Counter
	escalations     metric.Int64Counter
	tickets         metric.Int64Counter
	callLatency     metric.Float64Histogram
}

var (
	globalMetrics     *metrics
	globalMetricsOnce sync.Once
)

// defaultMetrics returns instruments on the global meter provider, or nil
// if they can't be created. A nil *metrics records nothing.
func defaultMetrics() *metrics {
	globalMetricsOnce.Do(func() {
		m, err := newMetrics(otel.Meter("triage"))
		if err != nil {
			slog.Warn("support metrics disabled", slog.String("error", err.Error()))
			return
		}
		globalMetrics = m
	})
	return globalMetrics
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err == nil {
			*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		}
	}

	counter(&m.classifications, "triage.classifications", "Classification attempts by unit and outcome")
	counter(&m.answers, "triage.answers", "Answer stage runs by outcome")
	counter(&m.escalations, "triage.escalations", "Answers the judge flagged for a ticket offer")
	counter(&m.tickets, "triage.tickets", "Ticket creation attempts by outcome")
	if err == nil {
		m.callLatency, err = meter.Float64Histogram("triage.capability.latency_ms",
			metric.WithDescription("External capability call latency in milliseconds"),
			metric.WithUnit("ms"),
		)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) classification(ctx context.Context, unit, outcome string) {
	if m == nil {
		return
	}
	m.classifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("unit", unit),
		attribute.String("outcome", outcome),
	))
}

func (m *metrics) answer(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.answers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) escalation(ctx context.Context) {
	if m == nil {
		return
	}
	m.escalations.Add(ctx, 1)
}

func (m *metrics) ticket(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.tickets.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// call records how long a capability call took.
func (m *metrics) call(ctx context.Context, capability string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.callLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.Bool("success", err == nil),
	))
}
