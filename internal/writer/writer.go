// Package writer serializes resolved commands into OData requests: entry
// payloads with links and nested entries, operation calls, reference
// changes and media uploads.
package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/nlstn/go-odataclient/internal/command"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

// DefaultMaxDepth bounds nested entry writing.
const DefaultMaxDepth = 8

// ContentIDLookup finds the content-ID of an entry written earlier in the
// same batch.
type ContentIDLookup interface {
	LookupContentID(entry any) (string, bool)
}

// Writer builds requests for one service.
type Writer struct {
	// BaseURL is the service root used for absolute entity URIs in links.
	BaseURL    string
	Adapter    *protocol.Adapter
	Facade     metadata.Facade
	Mapper     command.ObjectMapper
	Converters map[reflect.Type]Converter
	MaxDepth   int
	// Batch is set while writing inside a batch.
	Batch ContentIDLookup
}

// Request is a serialized request. URI is relative to the service root.
type Request struct {
	Method string
	URI    string
	Header http.Header
	Body   []byte
	// Entry is the object being written, used for batch content-IDs.
	Entry          any
	ResultRequired bool
}

// HTTPRequest builds the transport request against baseURL.
func (r *Request) HTTPRequest(ctx context.Context, baseURL string) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	uri := r.URI
	if !strings.Contains(uri, "://") {
		uri = JoinURL(baseURL, uri)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", r.Method, err)
	}
	for k, v := range r.Header {
		req.Header[k] = v
	}
	return req, nil
}

// JoinURL joins a service root and a relative path with a single slash.
func JoinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func (w *Writer) mapper() command.ObjectMapper {
	if w.Mapper == nil {
		return command.DefaultMapper
	}
	return w.Mapper
}

func (w *Writer) maxDepth() int {
	if w.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return w.MaxDepth
}

func (w *Writer) newRequest(method, uri string) *Request {
	h := http.Header{}
	w.Adapter.ApplyVersionHeaders(h)
	h.Set("Accept", w.Adapter.JSONContentType)
	return &Request{Method: w.Adapter.MethodFor(method), URI: uri, Header: h}
}

func (w *Writer) setJSONBody(req *Request, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	req.Body = body
	req.Header.Set("Content-Type", w.Adapter.JSONContentType)
	return nil
}

// applyConcurrency sets If-Match for modifying verbs. A caller ETag wins
// over the wildcard required by concurrency-checked collections.
func (w *Writer) applyConcurrency(req *Request, r *command.Resolved) {
	switch req.Method {
	case http.MethodPut, http.MethodPatch, "MERGE", http.MethodDelete:
	default:
		return
	}
	if etag := r.Details().ETag; etag != "" {
		req.Header.Set(protocol.HeaderIfMatch, etag)
		return
	}
	if r.Collection != nil && w.Facade.RequiresConcurrencyCheck(r.Collection) {
		req.Header.Set(protocol.HeaderIfMatch, "*")
	}
}

func (w *Writer) applyPrefer(req *Request, resultRequired bool) {
	req.ResultRequired = resultRequired
	if prefer := w.Adapter.Prefer(resultRequired); prefer != "" {
		req.Header.Set(protocol.HeaderPrefer, prefer)
	}
}

// WriteGet builds a read request.
func (w *Writer) WriteGet(r *command.Resolved) (*Request, error) {
	uri, err := r.Format()
	if err != nil {
		return nil, err
	}
	req := w.newRequest(http.MethodGet, uri)
	if d := r.Details(); d.CountOnly || d.Media {
		req.Header.Set("Accept", "*/*")
	}
	return req, nil
}

// WriteDelete builds a delete request for the addressed entity.
func (w *Writer) WriteDelete(r *command.Resolved) (*Request, error) {
	uri, err := r.EntityPath()
	if err != nil {
		return nil, err
	}
	req := w.newRequest(http.MethodDelete, uri)
	w.applyConcurrency(req, r)
	return req, nil
}

// WriteEntry builds an insert (POST) or update (PUT/PATCH) request. With
// deep, linked entries without a key are written inline.
func (w *Writer) WriteEntry(method string, r *command.Resolved, resultRequired, deep bool) (*Request, error) {
	if r.Collection == nil {
		return nil, oerrors.InvalidOperation("WriteEntry", "no entity collection to write to")
	}
	uri, err := r.EntityPath()
	if err != nil {
		return nil, err
	}
	if method == http.MethodPost && r.Parent == nil {
		// Inserts go to the set; a derived type travels as an annotation.
		uri = r.Collection.Root().Name
	}
	details, err := BuildEntryDetails(r, w.mapper())
	if err != nil {
		return nil, err
	}
	payload, err := w.entryPayload(r.Collection, details, deep && method == http.MethodPost, 0)
	if err != nil {
		return nil, err
	}
	if r.Collection.Base != nil && r.Collection.EntityType != r.Collection.Root().EntityType {
		w.annotateType(payload, r.Collection.EntityType.FullName())
	}

	req := w.newRequest(method, uri)
	req.Entry = r.Details().Entry
	if err := w.setJSONBody(req, payload); err != nil {
		return nil, err
	}
	w.applyPrefer(req, resultRequired)
	w.applyConcurrency(req, r)
	return req, nil
}

func (w *Writer) annotateType(payload map[string]any, typeName string) {
	switch {
	case w.Adapter.Verbose:
		meta, _ := payload["__metadata"].(map[string]any)
		if meta == nil {
			meta = map[string]any{}
			payload["__metadata"] = meta
		}
		meta["type"] = typeName
	case w.Adapter.Version == protocol.V4:
		payload[w.Adapter.Annotation("type")] = "#" + typeName
	default:
		payload[w.Adapter.Annotation("type")] = typeName
	}
}

// ignoredKeys are control entries a read result may carry back into a write.
var ignoredKeys = map[string]bool{
	"__annotations": true,
	"__metadata":    true,
}

func (w *Writer) entryPayload(c *metadata.EntityCollection, details *EntryDetails, deep bool, depth int) (map[string]any, error) {
	if depth > w.maxDepth() {
		return nil, oerrors.InvalidOperation("WriteEntry", fmt.Sprintf("nested entries exceed the maximum depth of %d", w.maxDepth()))
	}
	payload := make(map[string]any, len(details.Properties)+len(details.Links))
	for name, value := range details.Properties {
		if ignoredKeys[name] || strings.HasPrefix(name, "@") || strings.HasPrefix(name, "odata.") {
			continue
		}
		var declared metadata.TypeRef
		if p, ok := w.Facade.StructuralProperty(c.EntityType, name); ok {
			name, declared = p.Name, p.Type
		} else if !c.EntityType.IsOpen() {
			return nil, oerrors.Unresolvable(oerrors.KindProperty, name, "not a property of "+c.EntityType.FullName())
		}
		v, err := w.coerce(declared, value)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		payload[name] = v
	}

	for name, links := range details.Links {
		target, nav, err := w.Facade.NavigationTarget(c, name)
		if err != nil {
			return nil, err
		}
		if err := w.writeLinks(payload, target, nav, links, deep, depth); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func (w *Writer) writeLinks(payload map[string]any, target *metadata.EntityCollection, nav *metadata.NavigationProperty, links []ReferenceLink, deep bool, depth int) error {
	var nested []any
	var uris []string
	for _, link := range links {
		if link.Data == nil {
			continue
		}
		if deep && !w.isReference(target, link) {
			child, err := BuildLinkDetails(target, link.Data, w.Facade, w.mapper())
			if err != nil {
				return err
			}
			entry, err := w.entryPayload(target, child, deep, depth+1)
			if err != nil {
				return err
			}
			nested = append(nested, entry)
			continue
		}
		uri, err := w.linkURI(target, link)
		if err != nil {
			return err
		}
		uris = append(uris, uri)
	}

	if len(nested) > 0 {
		if nav.Collection {
			payload[nav.Name] = nested
		} else {
			payload[nav.Name] = nested[0]
		}
	}
	if len(uris) == 0 {
		return nil
	}
	switch {
	case w.Adapter.Verbose:
		refs := make([]any, 0, len(uris))
		for _, u := range uris {
			refs = append(refs, map[string]any{"__metadata": map[string]any{"uri": u}})
		}
		if nav.Collection {
			payload[nav.Name] = refs
		} else {
			payload[nav.Name] = refs[0]
		}
	default:
		key := nav.Name + "@odata.bind"
		if nav.Collection {
			payload[key] = uris
		} else {
			payload[key] = uris[0]
		}
	}
	return nil
}

// isReference reports whether a link points at an existing entity or at
// one created earlier in the batch.
func (w *Writer) isReference(target *metadata.EntityCollection, link ReferenceLink) bool {
	if link.ContentID != "" {
		return true
	}
	if w.Batch != nil && link.Object != nil {
		if _, ok := w.Batch.LookupContentID(link.Object); ok {
			return true
		}
	}
	return hasKey(w.Facade, target, link.Data)
}

// linkURI is "$<content-id>" for entries written earlier in the batch and
// the absolute entity URI otherwise.
func (w *Writer) linkURI(target *metadata.EntityCollection, link ReferenceLink) (string, error) {
	if link.ContentID != "" {
		return "$" + link.ContentID, nil
	}
	if w.Batch != nil && link.Object != nil {
		if id, ok := w.Batch.LookupContentID(link.Object); ok {
			return "$" + id, nil
		}
	}
	path, err := w.entityPath(target, link.Data)
	if err != nil {
		return "", err
	}
	return JoinURL(w.BaseURL, path), nil
}

// entityPath formats Set(key) from the key properties found in data.
func (w *Writer) entityPath(c *metadata.EntityCollection, data map[string]any) (string, error) {
	names := w.Facade.DeclaredKeyNames(c)
	values := make([]protocol.KeyValue, 0, len(names))
	for _, name := range names {
		v, ok := lookup(data, name)
		if !ok {
			return "", oerrors.InvalidOperation("WriteLink", fmt.Sprintf("linked %s entry has no value for key %s", c.EntityType.Name, name))
		}
		values = append(values, protocol.KeyValue{Name: name, Value: v})
	}
	key, err := w.Adapter.FormatKey(values, len(values) > 1)
	if err != nil {
		return "", err
	}
	return c.Root().Name + key, nil
}

func hasKey(f metadata.Facade, c *metadata.EntityCollection, data map[string]any) bool {
	for _, name := range f.DeclaredKeyNames(c) {
		if v, ok := lookup(data, name); !ok || v == nil {
			return false
		}
	}
	return true
}

func lookup(data map[string]any, name string) (any, bool) {
	if v, ok := data[name]; ok {
		return v, true
	}
	for k, v := range data {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}
