package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const spanPrefix = "odata.client."

// Attribute keys.
const (
	AttrMethod       = attribute.Key("http.request.method")
	AttrURL          = attribute.Key("url.full")
	AttrStatusCode   = attribute.Key("http.response.status_code")
	AttrEntitySet    = attribute.Key("odata.entity_set")
	AttrBatchSize    = attribute.Key("odata.batch.size")
	AttrOperation    = attribute.Key("odata.operation")
	AttrServiceName  = attribute.Key("service.name")
	AttrResponseKind = attribute.Key("odata.response.kind")
)

// Tracer starts client spans.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// StartOperation starts the span of a client operation such as
// "find_entries", named odata.client.<op>.
func (t *Tracer) StartOperation(ctx context.Context, op, entitySet string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrOperation.String(op)}
	if entitySet != "" {
		attrs = append(attrs, AttrEntitySet.String(entitySet))
	}
	if t.serviceName != "" {
		attrs = append(attrs, AttrServiceName.String(t.serviceName))
	}
	return t.tracer.Start(ctx, spanPrefix+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}

// StartRequest starts the span of one HTTP exchange.
func (t *Tracer) StartRequest(ctx context.Context, method, url string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanPrefix+"request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrMethod.String(method), AttrURL.String(url)))
}

// StartBatch starts the span of a batch submission.
func (t *Tracer) StartBatch(ctx context.Context, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanPrefix+"batch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(BatchSizeAttr(size)))
}

func BatchSizeAttr(size int) attribute.KeyValue { return AttrBatchSize.Int(size) }

func StatusCodeAttr(code int) attribute.KeyValue { return AttrStatusCode.Int(code) }

// RecordError marks span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
