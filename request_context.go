package odata

import (
	"context"
	"net/http"
)

type contextKey string

const requestHeadersKey contextKey = "odata_request_headers"

// WithRequestHeaders returns a context whose calls send h in addition to
// the configured headers. Values set here win over Config.Headers.
func WithRequestHeaders(ctx context.Context, h http.Header) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	merged := headersFromContext(ctx).Clone()
	if merged == nil {
		merged = http.Header{}
	}
	for name, values := range h {
		merged[http.CanonicalHeaderKey(name)] = values
	}
	return context.WithValue(ctx, requestHeadersKey, merged)
}

// headersFromContext returns the headers stored by WithRequestHeaders.
func headersFromContext(ctx context.Context) http.Header {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(requestHeadersKey).(http.Header)
	return h
}
