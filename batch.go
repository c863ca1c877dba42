package odata

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nlstn/go-odataclient/internal/batch"
	"github.com/nlstn/go-odataclient/internal/command"
	"github.com/nlstn/go-odataclient/internal/observability"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/reader"
	"github.com/nlstn/go-odataclient/internal/writer"
)

type batchOpKind int

const (
	batchGet batchOpKind = iota
	batchInsert
	batchUpdate
	batchDelete
	batchLink
	batchUnlink
	batchFunction
	batchAction
	batchEndChangeset
)

type batchOp struct {
	kind           batchOpKind
	cmd            *Command
	link           string
	target         any
	resultRequired bool
}

// Batch queues operations and sends them as one $batch request.
// Modifications are grouped into changesets; reads run on their own.
// A Batch is not safe for concurrent use and is sent once.
type Batch struct {
	c   *Client
	ops []batchOp
}

// BatchResult is the outcome of one queued operation.
type BatchResult struct {
	ContentID  string
	StatusCode int
	Entries    []map[string]any
	Err        error
}

// Entry returns the first entry of the result, or nil.
func (r *BatchResult) Entry() map[string]any {
	if r == nil || len(r.Entries) == 0 {
		return nil
	}
	return r.Entries[0]
}

// NewBatch starts an empty batch.
func (c *Client) NewBatch() *Batch {
	return &Batch{c: c}
}

func (b *Batch) add(op batchOp) *Batch {
	b.ops = append(b.ops, op)
	return b
}

// Get queues a read.
func (b *Batch) Get(cmd *Command) *Batch {
	return b.add(batchOp{kind: batchGet, cmd: cmd})
}

// Insert queues an insert. Entries set on later commands can link to the
// entry of cmd before it exists; the link is written as its content-ID.
func (b *Batch) Insert(cmd *Command, resultRequired bool) *Batch {
	return b.add(batchOp{kind: batchInsert, cmd: cmd, resultRequired: resultRequired})
}

// Update queues an update of the entity addressed by cmd.
func (b *Batch) Update(cmd *Command, resultRequired bool) *Batch {
	return b.add(batchOp{kind: batchUpdate, cmd: cmd, resultRequired: resultRequired})
}

// Delete queues a delete of the entity addressed by cmd.
func (b *Batch) Delete(cmd *Command) *Batch {
	return b.add(batchOp{kind: batchDelete, cmd: cmd})
}

// Link queues adding target to the navigation property link.
func (b *Batch) Link(cmd *Command, link string, target any) *Batch {
	return b.add(batchOp{kind: batchLink, cmd: cmd, link: link, target: target})
}

// Unlink queues removing a reference.
func (b *Batch) Unlink(cmd *Command, link string, target any) *Batch {
	return b.add(batchOp{kind: batchUnlink, cmd: cmd, link: link, target: target})
}

// Function queues a function call.
func (b *Batch) Function(cmd *Command) *Batch {
	return b.add(batchOp{kind: batchFunction, cmd: cmd})
}

// Action queues an action call.
func (b *Batch) Action(cmd *Command, resultRequired bool) *Batch {
	return b.add(batchOp{kind: batchAction, cmd: cmd, resultRequired: resultRequired})
}

// EndChangeset closes the current changeset. The next modification opens
// a new one.
func (b *Batch) EndChangeset() *Batch {
	return b.add(batchOp{kind: batchEndChangeset})
}

// Len returns the number of queued operations, changeset markers excluded.
func (b *Batch) Len() int {
	n := 0
	for _, op := range b.ops {
		if op.kind != batchEndChangeset {
			n++
		}
	}
	return n
}

// queued is one request of the batch and the operation it belongs to.
type queued struct {
	op      int
	opts    reader.Options
	primary bool
}

// Execute sends the batch. The returned results line up with the queued
// operations. A failed operation reports its error in BatchResult.Err;
// the error result is reserved for failures of the batch as a whole.
func (b *Batch) Execute(ctx context.Context) (results []*BatchResult, err error) {
	c := b.c
	ctx, span := c.obs.Tracer().StartBatch(ctx, b.Len())
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	s, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	bw := batch.New(s.adapter, c.cfg.BatchFormat)
	if err := bw.StartBatch(); err != nil {
		return nil, err
	}

	results = make([]*BatchResult, 0, b.Len())
	var sent []queued
	for _, op := range b.ops {
		if op.kind == batchEndChangeset {
			if err := bw.EndChangeset(); err != nil {
				return nil, err
			}
			continue
		}
		idx := len(results)
		results = append(results, &BatchResult{})
		reqs, opts, err := b.write(s, bw, op)
		if err != nil {
			return nil, fmt.Errorf("batch operation %d: %w", idx+1, err)
		}
		for i, req := range reqs {
			cid, err := bw.Add(req, op.cmd.contentID)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				results[idx].ContentID = cid
			}
			q := queued{op: idx, primary: i == 0}
			if i == 0 {
				q.opts = opts
			}
			sent = append(sent, q)
		}
	}

	req, err := bw.EndBatch()
	if err != nil {
		c.log().Error("Failed to build batch request", "operations", len(sent), "error", err)
		return nil, err
	}
	c.obs.Metrics().RecordBatchSize(ctx, len(sent))

	subOpts := make([]reader.Options, len(sent))
	for i, q := range sent {
		subOpts[i] = q.opts
	}
	out, err := c.execute(ctx, s, req, reader.Options{Operations: subOpts})
	if err != nil {
		return nil, err
	}

	for i, q := range sent {
		res := results[q.op]
		if i >= len(out.Batch) {
			if res.Err == nil {
				res.Err = missingResponse(out.Batch)
			}
			continue
		}
		sub := out.Batch[i]
		if q.primary {
			res.StatusCode = sub.StatusCode
			if sub.ContentID != "" {
				res.ContentID = sub.ContentID
			}
			if sub.Kind != reader.KindError {
				res.Entries = sub.Entries(c.cfg.IncludeAnnotationsInResults)
			}
		}
		if err := sub.Error(); err != nil && res.Err == nil {
			res.Err = err
			if !q.primary {
				res.StatusCode = sub.StatusCode
			}
		}
	}
	return results, nil
}

// missingResponse is the error of operations a server did not answer
// individually, usually because their changeset failed as a whole.
func missingResponse(subs []*reader.Response) error {
	for i := len(subs) - 1; i >= 0; i-- {
		if err := subs[i].Error(); err != nil {
			return err
		}
	}
	return oerrors.InvalidOperation("Batch", "the server sent no response for the operation")
}

// write serializes one operation. Updates may add unlink requests after
// the primary request.
func (b *Batch) write(s *session, bw *batch.Writer, op batchOp) ([]*writer.Request, reader.Options, error) {
	c := b.c
	if op.cmd == nil {
		return nil, reader.Options{}, fmt.Errorf("odata: nil command")
	}
	r, err := s.resolve(c, op.cmd, bw)
	if err != nil {
		return nil, reader.Options{}, err
	}
	w := s.writer(c, bw)
	opts := readOptions(s, r)

	var req *writer.Request
	switch op.kind {
	case batchGet:
		req, err = w.WriteGet(r)
	case batchInsert:
		if r.EntryData == nil {
			return nil, opts, oerrors.InvalidOperation("Insert", "no entry was set")
		}
		req, err = w.WriteEntry(http.MethodPost, r, op.resultRequired, true)
	case batchUpdate:
		if r, err = b.single(s, bw, r, op.cmd, "Update"); err != nil {
			return nil, opts, err
		}
		if req, err = w.WriteEntry(http.MethodPatch, r, op.resultRequired, false); err != nil {
			return nil, opts, err
		}
		unlinks, err := w.WriteUnlinks(r)
		if err != nil {
			return nil, opts, err
		}
		return append([]*writer.Request{req}, unlinks...), opts, nil
	case batchDelete:
		if r, err = b.single(s, bw, r, op.cmd, "Delete"); err != nil {
			return nil, opts, err
		}
		req, err = w.WriteDelete(r)
	case batchLink:
		req, err = w.WriteLink(r, op.link, op.target)
	case batchUnlink:
		req, err = w.WriteUnlink(r, op.link, op.target)
	case batchFunction:
		req, err = w.WriteFunction(r)
	case batchAction:
		req, err = w.WriteAction(r, op.resultRequired)
	default:
		err = fmt.Errorf("unknown batch operation %d", op.kind)
	}
	if err != nil {
		return nil, opts, err
	}
	return []*writer.Request{req}, opts, nil
}

// single is singleEntity for batches: the key is taken from the entry
// when the command carries none.
func (b *Batch) single(s *session, bw *batch.Writer, r *command.Resolved, cmd *Command, op string) (*command.Resolved, error) {
	if r.IsSingle() {
		return r, nil
	}
	if r.Collection == nil || r.EntryData == nil || r.FilterText != "" {
		return nil, oerrors.InvalidOperation(op, "the command does not address a single entity")
	}
	key, ok := entryKey(s.facade, r.Collection, r.EntryData)
	if !ok {
		return nil, oerrors.InvalidOperation(op, "the entry carries no value for the key of "+r.Collection.EntityType.FullName())
	}
	return s.resolve(b.c, cmd.NamedKey(key), bw)
}
