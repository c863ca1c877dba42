package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the client instruments.
type Metrics struct {
	requests  metric.Int64Counter
	failures  metric.Int64Counter
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	service   attribute.KeyValue
}

func newMetrics(meter metric.Meter, serviceName string) (*Metrics, error) {
	m := &Metrics{service: AttrServiceName.String(serviceName)}
	var err error
	if m.requests, err = meter.Int64Counter("odata.client.requests",
		metric.WithDescription("Number of OData requests sent"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("odata.client.failures",
		metric.WithDescription("Number of OData requests that failed"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("odata.client.request.duration",
		metric.WithDescription("Duration of OData requests"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.batchSize, err = meter.Int64Histogram("odata.client.batch.size",
		metric.WithDescription("Number of operations per batch"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest counts one HTTP exchange. A status of 0 means the request
// never got a response.
func (m *Metrics) RecordRequest(ctx context.Context, method string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(m.service, AttrMethod.String(method), AttrStatusCode.Int(status))
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if status == 0 || status >= 400 {
		m.failures.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordBatchSize(ctx context.Context, size int) {
	m.batchSize.Record(ctx, int64(size), metric.WithAttributes(m.service))
}
