package odata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nlstn/go-odataclient/internal/observability"
	"github.com/nlstn/go-odataclient/internal/reader"
	"github.com/nlstn/go-odataclient/internal/writer"
)

// transport returns the transport for one call and a release func to run
// once the response body has been read.
func (c *Client) transport() (Transport, func()) {
	if c.cfg.Transport != nil {
		return c.cfg.Transport, func() {}
	}
	if c.cfg.RenewHTTPConnection {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DisableKeepAlives = true
		return &http.Client{Transport: t}, t.CloseIdleConnections
	}
	c.httpOnce.Do(func() {
		c.httpClient = &http.Client{}
	})
	return c.httpClient, func() {}
}

// send executes req and reads the response. Error payloads come back as a
// Response of KindError; only transport and parse failures are returned
// as errors.
func (c *Client) send(ctx context.Context, rd *reader.Reader, req *writer.Request, opts reader.Options) (*reader.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	httpReq, err := req.HTTPRequest(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}
	for name, values := range c.cfg.Headers {
		if httpReq.Header.Get(name) == "" {
			httpReq.Header[http.CanonicalHeaderKey(name)] = values
		}
	}
	for name, values := range headersFromContext(ctx) {
		httpReq.Header[http.CanonicalHeaderKey(name)] = values
	}
	uri := httpReq.URL.String()
	if opts.RequestURI == "" {
		opts.RequestURI = uri
	}

	ctx, span := c.obs.Tracer().StartRequest(ctx, httpReq.Method, uri)
	defer span.End()
	httpReq = httpReq.WithContext(ctx)
	if c.cfg.BeforeRequest != nil {
		c.cfg.BeforeRequest(httpReq)
	}

	t, release := c.transport()
	defer release()

	start := time.Now()
	resp, err := t.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		c.obs.Metrics().RecordRequest(ctx, httpReq.Method, 0, elapsed)
		observability.RecordError(span, err)
		return nil, fmt.Errorf("%s %s: %w", httpReq.Method, uri, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log().Debug("Failed to close response body", "url", uri, "error", cerr)
		}
	}()

	span.SetAttributes(observability.StatusCodeAttr(resp.StatusCode))
	c.obs.Metrics().RecordRequest(ctx, httpReq.Method, resp.StatusCode, elapsed)
	c.log().Debug("OData request", "method", httpReq.Method, "url", uri, "status", resp.StatusCode, "duration", elapsed)

	if c.cfg.AfterResponse != nil {
		c.cfg.AfterResponse(resp)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := rd.GetResponse(resp, opts)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if out.ServerTiming != nil && len(out.ServerTiming.Metrics) > 0 {
		c.mu.Lock()
		c.timing = out.ServerTiming
		c.mu.Unlock()
	}
	return out, nil
}

// execute is send for calls that treat error payloads as errors.
func (c *Client) execute(ctx context.Context, s *session, req *writer.Request, opts reader.Options) (*reader.Response, error) {
	out, err := c.send(ctx, s.reader, req, opts)
	if err != nil {
		return nil, err
	}
	if err := out.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
