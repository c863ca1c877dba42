// Package batch collects serialized requests into an OData $batch body,
// grouping modifications into changesets and assigning content-IDs so
// later requests can reference entities created earlier in the batch.
package batch

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"

	"github.com/nlstn/go-odataclient/internal/command"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
	"github.com/nlstn/go-odataclient/internal/writer"
)

// State is the position of a Writer in its lifecycle.
type State int

const (
	NotStarted State = iota
	BatchOpen
	ChangesetOpen
	ChangesetClosed
	BatchClosed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case BatchOpen:
		return "BatchOpen"
	case ChangesetOpen:
		return "ChangesetOpen"
	case ChangesetClosed:
		return "ChangesetClosed"
	case BatchClosed:
		return "BatchClosed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Format selects the batch body encoding.
type Format int

const (
	// FormatMultipart is multipart/mixed, understood by every version.
	FormatMultipart Format = iota
	// FormatJSON is the OData 4.01 JSON batch format.
	FormatJSON
)

// Operation is one request of a batch in send order.
type Operation struct {
	Request   *writer.Request
	ContentID string
	// Changeset is the 1-based changeset index, 0 outside changesets.
	Changeset int
}

type identity struct {
	typ reflect.Type
	ptr uintptr
}

// identityOf keys reference values by address. Plain values have no
// identity and never share a content-ID.
func identityOf(v any) (identity, bool) {
	if v == nil {
		return identity{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.UnsafePointer:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{typ: rv.Type(), ptr: rv.Pointer()}, true
	}
	return identity{}, false
}

var (
	_ writer.ContentIDLookup = (*Writer)(nil)
	_ command.EntryRegistrar = (*Writer)(nil)
)

// Writer accumulates a batch. It is not safe for concurrent use.
type Writer struct {
	adapter *protocol.Adapter
	format  Format
	state   State

	ops        []Operation
	changesets int

	contentIDs map[identity]string
	used       map[string]bool
	counter    int
	entries    map[identity]map[string]any
}

// New returns a writer in the NotStarted state. JSON batches need V4 and
// fall back to multipart otherwise.
func New(adapter *protocol.Adapter, format Format) *Writer {
	if format == FormatJSON && !adapter.SupportsJSONBatch {
		format = FormatMultipart
	}
	return &Writer{
		adapter:    adapter,
		format:     format,
		contentIDs: make(map[identity]string),
		used:       make(map[string]bool),
		entries:    make(map[identity]map[string]any),
	}
}

func (w *Writer) State() State { return w.state }

// Operations returns the queued requests in send order.
func (w *Writer) Operations() []Operation { return w.ops }

// StartBatch opens the batch.
func (w *Writer) StartBatch() error {
	if w.state != NotStarted {
		return oerrors.InvalidOperation("StartBatch", "batch already started")
	}
	w.state = BatchOpen
	return nil
}

// StartChangeset opens a changeset. Calling it with a changeset already
// open does nothing.
func (w *Writer) StartChangeset() error {
	switch w.state {
	case ChangesetOpen:
		return nil
	case BatchOpen, ChangesetClosed:
		w.changesets++
		w.state = ChangesetOpen
		return nil
	default:
		return oerrors.InvalidOperation("StartChangeset", "batch is "+w.state.String())
	}
}

// EndChangeset closes the open changeset, if any.
func (w *Writer) EndChangeset() error {
	switch w.state {
	case ChangesetOpen:
		w.state = ChangesetClosed
		return nil
	case BatchOpen, ChangesetClosed:
		return nil
	default:
		return oerrors.InvalidOperation("EndChangeset", "batch is "+w.state.String())
	}
}

// RegisterEntry records an entry written in this batch.
func (w *Writer) RegisterEntry(entry any, data map[string]any) {
	if id, ok := identityOf(entry); ok {
		w.entries[id] = data
	}
}

// ContentID returns the content-ID of entry, assigning one on first use.
// The hint is taken when it is not in use yet; otherwise IDs are numbered.
func (w *Writer) ContentID(entry any, hint string) string {
	id, hasIdentity := identityOf(entry)
	if hasIdentity {
		if cid, ok := w.contentIDs[id]; ok {
			return cid
		}
	}
	cid := hint
	if cid == "" || w.used[cid] {
		cid = w.nextID()
	}
	w.used[cid] = true
	if hasIdentity {
		w.contentIDs[id] = cid
	}
	return cid
}

func (w *Writer) nextID() string {
	for {
		w.counter++
		cid := strconv.Itoa(w.counter)
		if !w.used[cid] {
			return cid
		}
	}
}

// LookupContentID finds the content-ID of an entry already in the batch.
func (w *Writer) LookupContentID(entry any) (string, bool) {
	id, ok := identityOf(entry)
	if !ok {
		return "", false
	}
	cid, ok := w.contentIDs[id]
	return cid, ok
}

// Add queues req. Reads close the open changeset and are sent on their
// own; modifications join a changeset. GET and DELETE carry no
// content-ID. The assigned content-ID is returned.
func (w *Writer) Add(req *writer.Request, hint string) (string, error) {
	switch w.state {
	case NotStarted, BatchClosed:
		return "", oerrors.InvalidOperation("Add", "batch is "+w.state.String())
	}

	if req.Method == http.MethodGet {
		if err := w.EndChangeset(); err != nil {
			return "", err
		}
		w.ops = append(w.ops, Operation{Request: req})
		return "", nil
	}

	if err := w.StartChangeset(); err != nil {
		return "", err
	}
	op := Operation{Request: req, Changeset: w.changesets}
	if req.Method != http.MethodDelete {
		op.ContentID = w.ContentID(req.Entry, hint)
	}
	w.ops = append(w.ops, op)
	return op.ContentID, nil
}

// EndBatch closes the batch and builds the $batch request.
func (w *Writer) EndBatch() (*writer.Request, error) {
	switch w.state {
	case NotStarted, BatchClosed:
		return nil, oerrors.InvalidOperation("EndBatch", "batch is "+w.state.String())
	}
	if err := w.EndChangeset(); err != nil {
		return nil, err
	}
	w.state = BatchClosed
	if len(w.ops) == 0 {
		return nil, oerrors.InvalidOperation("EndBatch", "batch has no operations")
	}

	h := http.Header{}
	w.adapter.ApplyVersionHeaders(h)
	req := &writer.Request{Method: http.MethodPost, URI: "$batch", Header: h}

	var err error
	if w.format == FormatJSON {
		req.Body, err = w.jsonBody()
		h.Set("Content-Type", protocol.ContentTypeJSON)
		h.Set("Accept", protocol.ContentTypeJSON)
	} else {
		var boundary string
		req.Body, boundary, err = w.multipartBody()
		h.Set("Content-Type", fmt.Sprintf("%s; boundary=%s", protocol.ContentTypeMultipart, boundary))
		h.Set("Accept", protocol.ContentTypeMultipart)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}
