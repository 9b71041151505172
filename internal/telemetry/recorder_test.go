package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utrack/hypelens/internal/hub"
	"github.com/utrack/hypelens/internal/model"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "expected int64 sum for %s", name)
			for _, dp := range sum.DataPoints {
				out[dp.Attributes.Encoded(attribute.DefaultEncoder())] += dp.Value
			}
		}
	}
	return out
}

func TestRecorderCountsDeliveries(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	rec, err := NewRecorder(mp.Meter("test"))
	require.NoError(t, err)

	spam := model.NewEnvelope(model.EventChatSpam, model.ChatSpam{Count: 20})
	rec.ObserveDelivery(hub.Delivery{Channel: "chat", Message: model.MessageHypeEvent, Body: spam})
	rec.ObserveDelivery(hub.Delivery{Channel: "chat", Message: model.MessageHypeEvent, Body: spam})
	rec.ObserveDelivery(hub.Delivery{Channel: "upload", Message: model.MessageClipUploaded, Body: model.ClipMetadata{}, Err: errors.New("down")})

	deliveries := collectSums(t, reader, MetricDeliveries)
	assert.Equal(t, map[string]int64{
		"channel=chat,message=hype_event,outcome=delivered":   2,
		"channel=upload,message=clip_uploaded,outcome=failed": 1,
	}, deliveries)

	events := collectSums(t, reader, MetricHypeEvents)
	assert.Equal(t, map[string]int64{"type=chat_spam": 2}, events)
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p.Meter())

	rec, err := NewRecorder(p.Meter())
	require.NoError(t, err)
	rec.ObserveDelivery(hub.Delivery{Channel: "chat"})
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	p, err := Setup(context.Background(), Config{OTLPEndpoint: "127.0.0.1:4317", ServiceVersion: "test"}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p.Meter())

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	// nothing was recorded, so shutdown has nothing to push
	_ = p.Shutdown(ctx)
}
