package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/BaSui01/flowstream"

// MessageMetrics reports terminated root messages as OTel instruments. It
// satisfies pipeline.MessageRecorder and exports through whatever
// MeterProvider is installed, so it is a noop while telemetry is disabled.
type MessageMetrics struct {
	messages metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMessageMetrics creates the instruments on mp, or on the global
// MeterProvider when mp is nil.
func NewMessageMetrics(mp metric.MeterProvider) (*MessageMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	messages, err := meter.Int64Counter("flowstream.messages",
		metric.WithDescription("Root messages terminated, by flow and outcome"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("flowstream.message.duration",
		metric.WithDescription("Time from root creation to termination"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &MessageMetrics{messages: messages, duration: duration}, nil
}

// RecordMessage records one terminated message.
func (m *MessageMetrics) RecordMessage(flow, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
	)
	ctx := context.Background()
	m.messages.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}
