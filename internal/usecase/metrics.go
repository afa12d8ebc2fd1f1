package usecase

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics are no-ops until the process installs a MeterProvider.
type metrics struct {
	messages metric.Int64Counter
	actions  metric.Int64Counter
	errors   metric.Int64Counter
	deferred metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("todo-assistant/usecase")
	var (
		m   metrics
		err error
	)
	if m.messages, err = meter.Int64Counter("todo_assistant.messages.total",
		metric.WithDescription("Chat messages processed, by outcome")); err != nil {
		return nil, err
	}
	if m.actions, err = meter.Int64Counter("todo_assistant.actions.total",
		metric.WithDescription("Task actions executed, by kind")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("todo_assistant.errors.total",
		metric.WithDescription("Requests that ended in an error, by code")); err != nil {
		return nil, err
	}
	if m.deferred, err = meter.Int64Counter("todo_assistant.events.deferred.total",
		metric.WithDescription("Events handed to background publish retry")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) message(ctx context.Context, outcome string) {
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) action(ctx context.Context, kind string) {
	m.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *metrics) failure(ctx context.Context, code ErrorCode) {
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(code))))
}

func (m *metrics) deferredEvent(ctx context.Context, eventType string) {
	m.deferred.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}
