package service

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "duo-chat/backend/internal/service"

type routerMetrics struct {
	submitted     metric.Int64Counter
	rejected      metric.Int64Counter
	delivered     metric.Int64Counter
	deliveryMiss  metric.Int64Counter
	appendLatency metric.Float64Histogram
}

func newRouterMetrics(meter metric.Meter) *routerMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	latency, err := meter.Float64Histogram("chat.store.append.duration",
		metric.WithDescription("Time spent persisting a message, retries included"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		latency, _ = fallback.Float64Histogram("chat.store.append.duration")
	}

	return &routerMetrics{
		submitted:     counter("chat.messages.submitted", "Messages persisted"),
		rejected:      counter("chat.messages.rejected", "Submissions rejected, by error code"),
		delivered:     counter("chat.messages.delivered", "Messages handed to an online receiver"),
		deliveryMiss:  counter("chat.messages.delivery_missed", "Messages whose receiver was offline or saturated"),
		appendLatency: latency,
	}
}
