// Package reader parses OData responses (feeds, entries, collections,
// properties, raw values, batches and errors) into annotated records.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	servertiming "github.com/mitchellh/go-server-timing"

	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

// Kind is the payload kind of a response.
type Kind int

const (
	KindNone Kind = iota
	KindError
	KindValue
	KindBatch
	KindFeed
	KindCollection
	KindProperty
	KindEntry
	KindDelta
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindError:
		return "error"
	case KindValue:
		return "value"
	case KindBatch:
		return "batch"
	case KindFeed:
		return "feed"
	case KindCollection:
		return "collection"
	case KindProperty:
		return "property"
	case KindEntry:
		return "entry"
	case KindDelta:
		return "delta"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Response is a parsed response. Depending on Kind it carries a Feed, the
// Batch sub-responses or an Err; KindNone carries nothing.
type Response struct {
	Kind       Kind
	StatusCode int
	Feed       *AnnotatedFeed
	Batch      []*Response
	// Err is set for error payloads, including failed batch operations.
	Err *oerrors.WebRequestError
	// Raw is the body of value responses such as $count and $value.
	Raw         []byte
	ContentType string
	// ContentID is the Content-ID of a batch sub-response.
	ContentID string

	Location          string
	EntityID          string
	ETag              string
	PreferenceApplied string
	Header            http.Header
	ServerTiming      *servertiming.Header
}

// Error returns Err as an error, or nil.
func (r *Response) Error() error {
	if r == nil || r.Err == nil {
		return nil
	}
	return r.Err
}

// Entries flattens the feed into records.
func (r *Response) Entries(includeAnnotations bool) []map[string]any {
	if r == nil || r.Feed == nil {
		return nil
	}
	return r.Feed.Maps(includeAnnotations)
}

// Entry returns the first record, or nil.
func (r *Response) Entry(includeAnnotations bool) map[string]any {
	if r == nil || r.Feed == nil || len(r.Feed.Entries) == 0 {
		return nil
	}
	return r.Feed.Entries[0].Map(includeAnnotations)
}

// Options describe what the caller expects back.
type Options struct {
	// Collection types the entries of the payload. It may be nil.
	Collection *metadata.EntityCollection
	// Stream asks for the raw body of a media resource.
	Stream bool
	// RequestURI is recorded on errors.
	RequestURI string
	// Operations types the sub-responses of a batch, in request order.
	Operations []Options
}

// Reader turns HTTP responses into Response values.
type Reader struct {
	Adapter *protocol.Adapter
	// Facade types payload values. Without it values keep their JSON shape.
	Facade metadata.Facade
	Logger *slog.Logger
}

func (r *Reader) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// GetResponse reads and classifies resp. The body is consumed but not
// closed. Error payloads are returned in Response.Err rather than as the
// error result, which is reserved for unreadable payloads.
func (r *Reader) GetResponse(resp *http.Response, opts Options) (*Response, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
	}

	out := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header.Clone(),
	}
	r.captureHeaders(out, resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Kind = KindError
		out.Err = &oerrors.WebRequestError{StatusCode: resp.StatusCode, Body: body, RequestURI: opts.RequestURI}
		details, err := parseErrorDetails(out.ContentType, body)
		switch {
		case err == nil:
			out.Err.Details = details
		case !errors.Is(err, errNoDetails):
			r.logger().Warn("Failed to parse error details", "status", resp.StatusCode, "url", opts.RequestURI, "error", err)
		}
		return out, nil
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		out.Kind = KindNone
		return out, nil
	}

	mediaType, params, _ := mime.ParseMediaType(out.ContentType)
	switch {
	case mediaType == protocol.ContentTypeMultipart:
		if opts.Stream {
			return nil, fmt.Errorf("media stream of a batch response: %w", oerrors.ErrNotImplemented)
		}
		batch, err := r.readMultipartBatch(body, params["boundary"], opts)
		if err != nil {
			return nil, err
		}
		out.Kind, out.Batch = KindBatch, batch
	case opts.Stream:
		out.Kind, out.Raw = KindValue, body
	case isJSON(mediaType):
		if len(opts.Operations) > 0 && r.Adapter.SupportsJSONBatch {
			batch, err := r.readJSONBatch(body, opts)
			if err != nil {
				return nil, err
			}
			out.Kind, out.Batch = KindBatch, batch
			break
		}
		var root *metadata.EntityType
		if opts.Collection != nil {
			root = opts.Collection.EntityType
		}
		kind, feed, err := newParser(bytes.NewReader(body), r.Adapter, r.Facade).readDocument(root)
		if err != nil {
			return nil, err
		}
		out.Kind, out.Feed = kind, feed
		if kind == KindEntry && out.ETag != "" {
			feed.Entries[0].Annotations.Merge(&EntryAnnotations{ETag: out.ETag})
		}
	case strings.HasSuffix(mediaType, "xml"):
		return nil, fmt.Errorf("%s payloads: %w", mediaType, oerrors.ErrNotImplemented)
	default:
		out.Kind, out.Raw = KindValue, body
		value := any(body)
		if strings.HasPrefix(mediaType, "text/") || mediaType == "" {
			value = string(body)
		}
		out.Feed = newFeed()
		out.Feed.Entries = []*AnnotatedEntry{{Data: map[string]any{ResultKey: value}, Annotations: &EntryAnnotations{}}}
	}
	return out, nil
}

func (r *Reader) captureHeaders(out *Response, h http.Header) {
	out.Location = h.Get(protocol.HeaderLocation)
	out.EntityID = h.Get(protocol.HeaderEntityID)
	if out.EntityID == "" {
		out.EntityID = h.Get(protocol.HeaderDataServiceID)
	}
	out.ETag = h.Get(protocol.HeaderETag)
	out.PreferenceApplied = h.Get(protocol.HeaderPreferenceApplied)
	if st := h.Get(servertiming.HeaderKey); st != "" {
		parsed, err := servertiming.ParseHeader(st)
		if err != nil {
			r.logger().Debug("Ignoring malformed Server-Timing header", "value", st, "error", err)
		} else {
			out.ServerTiming = parsed
		}
	}
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
