package telemetry

import (
	"context"

	"github.com/utrack/hypelens/internal/hub"
	"github.com/utrack/hypelens/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	MetricDeliveries = "hypelens.hub.deliveries"
	MetricHypeEvents = "hypelens.hype.events"
)

// Recorder counts hub deliveries. It is a hub.Observer.
type Recorder struct {
	deliveries metric.Int64Counter
	hypeEvents metric.Int64Counter
}

var _ hub.Observer = (*Recorder)(nil)

// NewRecorder registers the delivery instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	deliveries, err := meter.Int64Counter(MetricDeliveries,
		metric.WithDescription("Outbound hub deliveries by channel, message and outcome"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}
	hypeEvents, err := meter.Int64Counter(MetricHypeEvents,
		metric.WithDescription("Hype events detected by type"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	return &Recorder{deliveries: deliveries, hypeEvents: hypeEvents}, nil
}

func (r *Recorder) ObserveDelivery(d hub.Delivery) {
	outcome := "delivered"
	if d.Err != nil {
		outcome = "failed"
	}
	ctx := context.Background()
	r.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", d.Channel),
		attribute.String("message", d.Message),
		attribute.String("outcome", outcome),
	))
	if env, ok := d.Body.(model.Envelope); ok {
		r.hypeEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(env.Type))))
	}
}
