package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "todo-assistant"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestResource_CarriesServiceName(t *testing.T) {
	res, err := Resource(context.Background(), Config{ServiceName: "todo-assistant", Component: "chat", Environment: "test"})
	require.NoError(t, err)

	v, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	require.Equal(t, "todo-assistant", v.AsString())
	v, ok = res.Set().Value("todo_assistant.component")
	require.True(t, ok)
	require.Equal(t, "chat", v.AsString())
}

func TestNewMeterProvider_CollectsCounters(t *testing.T) {
	res, err := Resource(context.Background(), Config{ServiceName: "todo-assistant"})
	require.NoError(t, err)
	reader := sdkmetric.NewManualReader()
	mp := NewMeterProvider(res, reader)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	counter, err := mp.Meter("test").Int64Counter("todo_assistant.messages")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Equal(t, "todo_assistant.messages", rm.ScopeMetrics[0].Metrics[0].Name)
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Equal(t, int64(2), sum.DataPoints[0].Value)
}
