package odata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nlstn/go-odataclient/internal/command"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/observability"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/reader"
	"github.com/nlstn/go-odataclient/internal/writer"
)

// AnnotationsKey is the record entry holding annotations when
// Config.IncludeAnnotationsInResults is set.
const AnnotationsKey = reader.AnnotationsKey

// ResultKey holds the value of records built from scalar results such as
// a primitive property, a collection element or a function return value.
const ResultKey = reader.ResultKey

// EntryAnnotations is the value stored under AnnotationsKey.
type EntryAnnotations = reader.EntryAnnotations

// MediaStream is the content of a media resource.
type MediaStream struct {
	Content     []byte
	ContentType string
	ETag        string
}

// startOperation starts the span of a public operation. The returned func
// records *errp on the span and ends it.
func (c *Client) startOperation(ctx context.Context, op string, cmd *Command) (context.Context, func(errp *error)) {
	ctx, span := c.obs.Tracer().StartOperation(ctx, op, cmd.collectionName())
	return ctx, func(errp *error) {
		if errp != nil {
			observability.RecordError(span, *errp)
		}
		span.End()
	}
}

// ignoreNotFound applies Config.IgnoreResourceNotFound to read results.
func (c *Client) ignoreNotFound(err error) bool {
	return c.cfg.IgnoreResourceNotFound && oerrors.IsNotFound(err)
}

func (c *Client) records(out *reader.Response) []map[string]any {
	entries := out.Entries(c.cfg.IncludeAnnotationsInResults)
	if entries == nil {
		entries = []map[string]any{}
	}
	return entries
}

func (c *Client) record(out *reader.Response) map[string]any {
	return out.Entry(c.cfg.IncludeAnnotationsInResults)
}

func readOptions(s *session, r *command.Resolved) reader.Options {
	opts := reader.Options{Collection: r.Collection}
	if r.Function != nil {
		if target, err := s.facade.OperationCollection(r.Function); err == nil {
			opts.Collection = target
		}
	}
	if r.Action != nil {
		if target, err := s.facade.OperationCollection(r.Action); err == nil {
			opts.Collection = target
		}
	}
	return opts
}

// prepare resolves cmd against the current metadata.
func (c *Client) prepare(ctx context.Context, cmd *Command) (*session, *command.Resolved, error) {
	s, err := c.currentSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.resolve(c, cmd, nil)
	if err != nil {
		return nil, nil, err
	}
	return s, r, nil
}

func (c *Client) find(ctx context.Context, s *session, r *command.Resolved) (*reader.Response, error) {
	req, err := s.writer(c, nil).WriteGet(r)
	if err != nil {
		return nil, err
	}
	return c.execute(ctx, s, req, readOptions(s, r))
}

// FindEntries returns the entries addressed by cmd. Only the first page
// is read; see FindEntriesAll.
func (c *Client) FindEntries(ctx context.Context, cmd *Command) (entries []map[string]any, err error) {
	ctx, done := c.startOperation(ctx, "find_entries", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	out, err := c.find(ctx, s, r)
	if err != nil {
		if c.ignoreNotFound(err) {
			return []map[string]any{}, nil
		}
		return nil, err
	}
	return c.records(out), nil
}

// FindEntriesWithCount is FindEntries with the total count of matching
// entries, which may exceed the number returned.
func (c *Client) FindEntriesWithCount(ctx context.Context, cmd *Command) (entries []map[string]any, count int64, err error) {
	ctx, done := c.startOperation(ctx, "find_entries", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd.Count())
	if err != nil {
		return nil, 0, err
	}
	out, err := c.find(ctx, s, r)
	if err != nil {
		if c.ignoreNotFound(err) {
			return []map[string]any{}, 0, nil
		}
		return nil, 0, err
	}
	entries = c.records(out)
	count = int64(len(entries))
	if out.Feed != nil && out.Feed.Annotations.Count != nil {
		count = *out.Feed.Annotations.Count
	}
	return entries, count, nil
}

// FindEntriesAll follows next links until the server reports no more pages.
func (c *Client) FindEntriesAll(ctx context.Context, cmd *Command) (entries []map[string]any, err error) {
	ctx, done := c.startOperation(ctx, "find_entries_all", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	out, err := c.find(ctx, s, r)
	if err != nil {
		if c.ignoreNotFound(err) {
			return []map[string]any{}, nil
		}
		return nil, err
	}
	opts := readOptions(s, r)
	entries = c.records(out)
	seen := map[string]bool{}
	for out.Feed != nil && out.Feed.Annotations.NextLink != "" {
		next := c.absoluteURL(out.Feed.Annotations.NextLink)
		if seen[next] {
			return nil, fmt.Errorf("next link %s repeats a page already read", next)
		}
		seen[next] = true
		out, err = c.execute(ctx, s, c.getRequest(s, next), opts)
		if err != nil {
			return nil, err
		}
		entries = append(entries, c.records(out)...)
	}
	return entries, nil
}

// FindEntry returns the first entry addressed by cmd, or nil.
func (c *Client) FindEntry(ctx context.Context, cmd *Command) (entry map[string]any, err error) {
	ctx, done := c.startOperation(ctx, "find_entry", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !r.IsSingle() && r.Details().Top == nil && r.Function == nil {
		if s, r, err = c.prepare(ctx, cmd.Top(1)); err != nil {
			return nil, err
		}
	}
	out, err := c.find(ctx, s, r)
	if err != nil {
		if c.ignoreNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return c.record(out), nil
}

// GetEntry returns the entity addressed by key, or nil when it does not
// exist and IgnoreResourceNotFound is set.
func (c *Client) GetEntry(ctx context.Context, cmd *Command) (entry map[string]any, err error) {
	ctx, done := c.startOperation(ctx, "get_entry", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !r.IsSingle() {
		return nil, oerrors.InvalidOperation("GetEntry", "the command does not address a single entity")
	}
	out, err := c.find(ctx, s, r)
	if err != nil {
		if c.ignoreNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return c.record(out), nil
}

// GetCount returns the number of entries addressed by cmd using /$count.
func (c *Client) GetCount(ctx context.Context, cmd *Command) (count int64, err error) {
	ctx, done := c.startOperation(ctx, "get_count", cmd)
	defer done(&err)

	s, err := c.currentSession(ctx)
	if err != nil {
		return 0, err
	}
	counting := cmd.with(func(d *command.Details) { d.CountOnly = true })
	r, err := s.resolve(c, counting, nil)
	if err != nil {
		return 0, err
	}
	out, err := c.find(ctx, s, r)
	if err != nil {
		if c.ignoreNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return parseCount(out)
}

func parseCount(out *reader.Response) (int64, error) {
	var v any
	if e := out.Entry(false); e != nil {
		v = e[ResultKey]
	} else if out.Raw != nil {
		v = string(out.Raw)
	}
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, &FormatError{Value: x, Target: "count", Err: err}
		}
		return n, nil
	case []byte:
		return parseCount(&reader.Response{Raw: x})
	default:
		return 0, &FormatError{Value: fmt.Sprint(v), Target: "count"}
	}
}

// InsertEntry creates the entry set on cmd. Linked entries without a key
// are created inline. With resultRequired the created entity is returned,
// read back from its location when the server answers 204.
func (c *Client) InsertEntry(ctx context.Context, cmd *Command, resultRequired bool) (entry map[string]any, err error) {
	ctx, done := c.startOperation(ctx, "insert_entry", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if r.EntryData == nil {
		return nil, oerrors.InvalidOperation("InsertEntry", "no entry was set")
	}
	req, err := s.writer(c, nil).WriteEntry(http.MethodPost, r, resultRequired, true)
	if err != nil {
		return nil, err
	}
	out, err := c.execute(ctx, s, req, readOptions(s, r))
	if err != nil {
		return nil, err
	}
	if !resultRequired {
		return nil, nil
	}
	if e := c.record(out); e != nil {
		return e, nil
	}
	return c.readBack(ctx, s, r, out)
}

// readBack reads the entity a write answered with 204 from the location
// the server reported.
func (c *Client) readBack(ctx context.Context, s *session, r *command.Resolved, out *reader.Response) (map[string]any, error) {
	location := out.EntityID
	if location == "" {
		location = out.Location
	}
	if location == "" {
		return nil, nil
	}
	return c.readAfterWrite(ctx, s, c.getRequest(s, c.absoluteURL(location)), reader.Options{Collection: r.Collection}), nil
}

// readAfterWrite reads the entity a successful write left behind. The
// write stands when the read fails: the failure is logged and the entry
// is nil.
func (c *Client) readAfterWrite(ctx context.Context, s *session, req *writer.Request, opts reader.Options) map[string]any {
	res, err := c.execute(ctx, s, req, opts)
	if err != nil {
		c.log().Warn("Failed to read entry after write", "method", req.Method, "url", req.URI, "error", err)
		return nil
	}
	return c.record(res)
}

// singleEntity resolves cmd and makes sure it addresses one entity. When
// it does not, the key is taken from the key properties of the entry.
func (c *Client) singleEntity(ctx context.Context, op string, cmd *Command) (*session, *command.Resolved, error) {
	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	if r.IsSingle() {
		return s, r, nil
	}
	if r.Collection == nil || r.EntryData == nil || r.FilterText != "" {
		return nil, nil, oerrors.InvalidOperation(op, "the command does not address a single entity")
	}
	key, ok := entryKey(s.facade, r.Collection, r.EntryData)
	if !ok {
		return nil, nil, oerrors.InvalidOperation(op, "the entry carries no value for the key of "+r.Collection.EntityType.FullName())
	}
	return c.prepare(ctx, cmd.NamedKey(key))
}

func entryKey(f metadata.Facade, coll *metadata.EntityCollection, data map[string]any) (map[string]any, bool) {
	names := f.DeclaredKeyNames(coll)
	key := make(map[string]any, len(names))
	for _, name := range names {
		v, ok := data[name]
		if !ok {
			for k, candidate := range data {
				if strings.EqualFold(k, name) {
					v, ok = candidate, true
					break
				}
			}
		}
		if !ok || v == nil {
			return nil, false
		}
		key[name] = v
	}
	return key, len(key) > 0
}

// UpdateEntry changes the entity addressed by cmd with the properties set
// on it. Navigation properties set to nil are unlinked afterwards. With
// resultRequired and a 204 answer the entity is read back; a failed read
// back yields a nil entry and no error.
func (c *Client) UpdateEntry(ctx context.Context, cmd *Command, resultRequired bool) (entry map[string]any, err error) {
	ctx, done := c.startOperation(ctx, "update_entry", cmd)
	defer done(&err)
	return c.updateEntry(ctx, cmd, resultRequired)
}

func (c *Client) updateEntry(ctx context.Context, cmd *Command, resultRequired bool) (map[string]any, error) {
	s, r, err := c.singleEntity(ctx, "UpdateEntry", cmd)
	if err != nil {
		return nil, err
	}
	if r.EntryData == nil {
		return nil, oerrors.InvalidOperation("UpdateEntry", "no entry was set")
	}
	w := s.writer(c, nil)
	req, err := w.WriteEntry(http.MethodPatch, r, resultRequired, false)
	if err != nil {
		return nil, err
	}
	unlinks, err := w.WriteUnlinks(r)
	if err != nil {
		return nil, err
	}
	out, err := c.execute(ctx, s, req, readOptions(s, r))
	if err != nil {
		return nil, err
	}
	for _, u := range unlinks {
		if _, err := c.execute(ctx, s, u, reader.Options{}); err != nil {
			return nil, err
		}
	}
	if !resultRequired {
		return nil, nil
	}
	if e := c.record(out); e != nil {
		return e, nil
	}
	get, err := w.WriteGet(r)
	if err != nil {
		return nil, err
	}
	return c.readAfterWrite(ctx, s, get, readOptions(s, r)), nil
}

// UpdateEntries applies the entry set on cmd to every entity cmd finds,
// one request per entity in the order they were read.
func (c *Client) UpdateEntries(ctx context.Context, cmd *Command, resultRequired bool) (entries []map[string]any, err error) {
	ctx, done := c.startOperation(ctx, "update_entries", cmd)
	defer done(&err)

	targets, err := c.matchingKeys(ctx, cmd)
	if err != nil {
		return nil, err
	}
	entries = make([]map[string]any, 0, len(targets))
	for _, key := range targets {
		e, err := c.updateEntry(ctx, keyed(cmd, key), resultRequired)
		if err != nil {
			return nil, err
		}
		if resultRequired {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// matchingKeys finds the entities cmd addresses and returns their keys in
// read order.
func (c *Client) matchingKeys(ctx context.Context, cmd *Command) ([]map[string]any, error) {
	query := cmd.with(func(d *command.Details) { d.Entry = nil })
	s, r, err := c.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	if r.Collection == nil {
		return nil, oerrors.InvalidOperation("UpdateEntries", "the command addresses no entity collection")
	}
	out, err := c.find(ctx, s, r)
	if err != nil {
		return nil, err
	}
	found := out.Entries(false)
	keys := make([]map[string]any, 0, len(found))
	for _, e := range found {
		key, ok := entryKey(s.facade, r.Collection, e)
		if !ok {
			return nil, oerrors.InvalidOperation("UpdateEntries", "a matched entry carries no key")
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// keyed narrows cmd to the entity with key.
func keyed(cmd *Command, key map[string]any) *Command {
	return cmd.with(func(d *command.Details) {
		d.Filter = nil
		d.FilterText = ""
		d.Top = nil
		d.Skip = nil
		d.OrderBy = nil
		d.KeyValues = nil
		d.NamedKeyValues = key
	})
}

// DeleteEntry deletes the entity addressed by cmd.
func (c *Client) DeleteEntry(ctx context.Context, cmd *Command) (err error) {
	ctx, done := c.startOperation(ctx, "delete_entry", cmd)
	defer done(&err)
	return c.deleteEntry(ctx, cmd)
}

func (c *Client) deleteEntry(ctx context.Context, cmd *Command) error {
	s, r, err := c.singleEntity(ctx, "DeleteEntry", cmd)
	if err != nil {
		return err
	}
	req, err := s.writer(c, nil).WriteDelete(r)
	if err != nil {
		return err
	}
	_, err = c.execute(ctx, s, req, reader.Options{})
	return err
}

// DeleteEntries deletes every entity cmd finds and returns how many.
func (c *Client) DeleteEntries(ctx context.Context, cmd *Command) (n int, err error) {
	ctx, done := c.startOperation(ctx, "delete_entries", cmd)
	defer done(&err)

	targets, err := c.matchingKeys(ctx, cmd)
	if err != nil {
		return 0, err
	}
	for _, key := range targets {
		if err := c.deleteEntry(ctx, keyed(cmd, key)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// LinkEntry adds target as a reference of the navigation property link of
// the entity addressed by cmd.
func (c *Client) LinkEntry(ctx context.Context, cmd *Command, link string, target any) (err error) {
	ctx, done := c.startOperation(ctx, "link_entry", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return err
	}
	req, err := s.writer(c, nil).WriteLink(r, link, target)
	if err != nil {
		return err
	}
	_, err = c.execute(ctx, s, req, reader.Options{})
	return err
}

// UnlinkEntry removes a reference. target names the referenced entity for
// collection-valued navigation properties and may be nil otherwise.
func (c *Client) UnlinkEntry(ctx context.Context, cmd *Command, link string, target any) (err error) {
	ctx, done := c.startOperation(ctx, "unlink_entry", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return err
	}
	req, err := s.writer(c, nil).WriteUnlink(r, link, target)
	if err != nil {
		return err
	}
	_, err = c.execute(ctx, s, req, reader.Options{})
	return err
}

// GetMediaStream reads the media resource of the entity addressed by cmd.
func (c *Client) GetMediaStream(ctx context.Context, cmd *Command) (stream *MediaStream, err error) {
	ctx, done := c.startOperation(ctx, "get_media_stream", cmd)
	defer done(&err)

	media := cmd.with(func(d *command.Details) { d.Media = true })
	s, r, err := c.prepare(ctx, media)
	if err != nil {
		return nil, err
	}
	req, err := s.writer(c, nil).WriteGet(r)
	if err != nil {
		return nil, err
	}
	out, err := c.execute(ctx, s, req, reader.Options{Stream: true})
	if err != nil {
		if c.ignoreNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &MediaStream{Content: out.Raw, ContentType: out.ContentType, ETag: out.ETag}, nil
}

// SetMediaStream replaces the media resource of the entity addressed by cmd.
func (c *Client) SetMediaStream(ctx context.Context, cmd *Command, contentType string, content io.Reader) (err error) {
	ctx, done := c.startOperation(ctx, "set_media_stream", cmd)
	defer done(&err)

	body, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("failed to read media content: %w", err)
	}
	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return err
	}
	req, err := s.writer(c, nil).WriteMedia(r, contentType, body)
	if err != nil {
		return err
	}
	_, err = c.execute(ctx, s, req, reader.Options{})
	return err
}

// ExecuteFunction calls the function named on cmd. Entity results come
// back as records; scalar results as records holding ResultKey.
func (c *Client) ExecuteFunction(ctx context.Context, cmd *Command) (entries []map[string]any, err error) {
	ctx, done := c.startOperation(ctx, "execute_function", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	req, err := s.writer(c, nil).WriteFunction(r)
	if err != nil {
		return nil, err
	}
	out, err := c.execute(ctx, s, req, readOptions(s, r))
	if err != nil {
		return nil, err
	}
	return c.records(out), nil
}

// ExecuteFunctionScalar calls a function returning a single primitive value.
func (c *Client) ExecuteFunctionScalar(ctx context.Context, cmd *Command) (any, error) {
	entries, err := c.ExecuteFunction(ctx, cmd)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0][ResultKey], nil
}

// ExecuteAction calls the action named on cmd. Without resultRequired the
// server is asked to omit the result.
func (c *Client) ExecuteAction(ctx context.Context, cmd *Command, resultRequired bool) (entries []map[string]any, err error) {
	ctx, done := c.startOperation(ctx, "execute_action", cmd)
	defer done(&err)

	s, r, err := c.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	req, err := s.writer(c, nil).WriteAction(r, resultRequired)
	if err != nil {
		return nil, err
	}
	out, err := c.execute(ctx, s, req, readOptions(s, r))
	if err != nil {
		return nil, err
	}
	return c.records(out), nil
}

// getRequest builds a GET of an absolute URI such as a next link.
func (c *Client) getRequest(s *session, uri string) *writer.Request {
	h := http.Header{}
	s.adapter.ApplyVersionHeaders(h)
	h.Set("Accept", s.adapter.JSONContentType)
	return &writer.Request{Method: http.MethodGet, URI: uri, Header: h}
}

func (c *Client) absoluteURL(uri string) string {
	if strings.Contains(uri, "://") {
		return uri
	}
	return writer.JoinURL(c.baseURL, uri)
}
