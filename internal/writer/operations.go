package writer

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/nlstn/go-odataclient/internal/command"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/naming"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

// refPath addresses the references of navigation nav on the entity at
// source: Set(1)/Nav/$ref in V4 and Set(1)/$links/Nav before.
func (w *Writer) refPath(source string, nav *metadata.NavigationProperty) string {
	if w.Adapter.Version == protocol.V4 {
		return source + "/" + nav.Name + "/" + w.Adapter.LinksSegment
	}
	return source + "/" + w.Adapter.LinksSegment + "/" + nav.Name
}

func (w *Writer) sourceNavigation(r *command.Resolved, link string) (string, *metadata.EntityCollection, *metadata.NavigationProperty, error) {
	if len(r.KeyValues) == 0 && !(r.Collection != nil && r.Collection.Singleton) {
		return "", nil, nil, oerrors.InvalidOperation("Link", "the source entity is not addressed by key")
	}
	source, err := r.EntityPath()
	if err != nil {
		return "", nil, nil, err
	}
	target, nav, err := w.Facade.NavigationTarget(r.Collection, link)
	if err != nil {
		return "", nil, nil, err
	}
	return source, target, nav, nil
}

// WriteLink builds a request adding entry as a reference of the named
// navigation property. Collection-valued links are POSTed, single-valued
// links are PUT.
func (w *Writer) WriteLink(r *command.Resolved, link string, entry any) (*Request, error) {
	source, target, nav, err := w.sourceNavigation(r, link)
	if err != nil {
		return nil, err
	}
	ref, err := referenceLink(entry, w.mapper())
	if err != nil {
		return nil, err
	}
	uri, err := w.linkURI(target, ref)
	if err != nil {
		return nil, err
	}

	method := http.MethodPut
	if nav.Collection {
		method = http.MethodPost
	}
	req := w.newRequest(method, w.refPath(source, nav))
	var body map[string]any
	switch w.Adapter.Version {
	case protocol.V4:
		body = map[string]any{"@odata.id": uri}
	case protocol.V3:
		body = map[string]any{"url": uri}
	default:
		body = map[string]any{"uri": uri}
	}
	if err := w.setJSONBody(req, body); err != nil {
		return nil, err
	}
	return req, nil
}

// WriteUnlink builds a request removing a reference. entry identifies the
// target for collection-valued links and is ignored otherwise.
func (w *Writer) WriteUnlink(r *command.Resolved, link string, entry any) (*Request, error) {
	source, target, nav, err := w.sourceNavigation(r, link)
	if err != nil {
		return nil, err
	}
	uri := w.refPath(source, nav)
	if nav.Collection {
		if entry == nil {
			return nil, oerrors.InvalidOperation("UnlinkEntry", "removing a collection-valued reference needs the target entry")
		}
		data, err := w.mapper().ToMap(entry)
		if err != nil {
			return nil, err
		}
		targetPath, err := w.entityPath(target, data)
		if err != nil {
			return nil, err
		}
		if w.Adapter.Version == protocol.V4 {
			uri += "?$id=" + protocol.EscapeQueryValue(JoinURL(w.BaseURL, targetPath))
		} else {
			key := strings.TrimPrefix(targetPath, target.Root().Name)
			uri += key
		}
	}
	return w.newRequest(http.MethodDelete, uri), nil
}

// WriteUnlinks builds one unlink request per navigation property that an
// update sets to nil.
func (w *Writer) WriteUnlinks(r *command.Resolved) ([]*Request, error) {
	details, err := BuildEntryDetails(r, w.mapper())
	if err != nil {
		return nil, err
	}
	var reqs []*Request
	for _, name := range details.Unlinks() {
		req, err := w.WriteUnlink(r, name, nil)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// WriteFunction builds a function call. Parameters are already part of the
// command text.
func (w *Writer) WriteFunction(r *command.Resolved) (*Request, error) {
	if r.Function == nil {
		return nil, oerrors.InvalidOperation("ExecuteFunction", "no function was named")
	}
	uri, err := r.Format()
	if err != nil {
		return nil, err
	}
	method := http.MethodGet
	if r.Function.HTTPMethod == http.MethodPost {
		method = http.MethodPost
	}
	return w.newRequest(method, uri), nil
}

// WriteAction builds an action call. Parameters travel as a JSON body in V3
// and V4 and as URL literals for V2 service operations.
func (w *Writer) WriteAction(r *command.Resolved, resultRequired bool) (*Request, error) {
	op := r.Action
	if op == nil {
		return nil, oerrors.InvalidOperation("ExecuteAction", "no action was named")
	}
	uri, err := r.Format()
	if err != nil {
		return nil, err
	}
	params := r.Details().Parameters
	declared := op.NonBindingParameters()

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)

	if w.Adapter.Verbose {
		var query []string
		for _, name := range names {
			p, ok := naming.BestMatch(declared, name, func(p *metadata.Parameter) string { return p.Name }, nil)
			if !ok {
				return nil, oerrors.Unresolvable(oerrors.KindProperty, name, "not a parameter of "+op.Name)
			}
			lit, err := w.Adapter.FormatLiteral(params[name])
			if err != nil {
				return nil, err
			}
			query = append(query, p.Name+"="+protocol.EscapeQueryValue(lit))
		}
		if len(query) > 0 {
			uri += "?" + strings.Join(query, "&")
		}
		req := w.newRequest(http.MethodPost, uri)
		w.applyPrefer(req, resultRequired)
		return req, nil
	}

	body := make(map[string]any, len(params))
	for _, name := range names {
		p, ok := naming.BestMatch(declared, name, func(p *metadata.Parameter) string { return p.Name }, nil)
		if !ok {
			return nil, oerrors.Unresolvable(oerrors.KindProperty, name, "not a parameter of "+op.Name)
		}
		v, err := w.coerce(p.Type, params[name])
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		body[p.Name] = v
	}
	req := w.newRequest(http.MethodPost, uri)
	if err := w.setJSONBody(req, body); err != nil {
		return nil, err
	}
	w.applyPrefer(req, resultRequired)
	return req, nil
}

// WriteMedia builds a PUT of the media resource of the addressed entity.
func (w *Writer) WriteMedia(r *command.Resolved, contentType string, content []byte) (*Request, error) {
	path, err := r.EntityPath()
	if err != nil {
		return nil, err
	}
	if r.Collection != nil && !r.Collection.EntityType.HasStream {
		return nil, oerrors.InvalidOperation("SetMediaStream", r.Collection.EntityType.FullName()+" is not a media entity")
	}
	if contentType == "" {
		contentType = protocol.ContentTypeOctet
	}
	req := w.newRequest(http.MethodPut, path+"/$value")
	req.Body = content
	req.Header.Set("Content-Type", contentType)
	w.applyConcurrency(req, r)
	return req, nil
}
