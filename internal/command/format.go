package command

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/nlstn/go-odataclient/internal/filter"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/naming"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

// EntityPath is the relative path of the addressed collection or entity,
// without operations, value segments or query options.
func (r *Resolved) EntityPath() (string, error) {
	if r.Collection == nil {
		return "", nil
	}
	var b strings.Builder
	if r.Parent != nil {
		parent, err := r.Parent.EntityPath()
		if err != nil {
			return "", err
		}
		b.WriteString(parent)
		for _, hop := range r.links {
			b.WriteByte('/')
			b.WriteString(hop)
		}
	} else {
		b.WriteString(r.Collection.Root().Name)
	}
	if r.cast {
		b.WriteByte('/')
		b.WriteString(r.Collection.EntityType.FullName())
	}
	key, err := r.KeySegment()
	if err != nil {
		return "", err
	}
	b.WriteString(key)
	return b.String(), nil
}

// Format renders the relative request URI, query string included.
func (r *Resolved) Format() (string, error) {
	path, err := r.EntityPath()
	if err != nil {
		return "", err
	}

	var query []string
	switch {
	case r.Function != nil:
		segment, params, err := r.functionSegment()
		if err != nil {
			return "", err
		}
		if !r.Function.IsBound {
			path = ""
		}
		path = joinPath(path, segment)
		query = append(query, params...)
	case r.Action != nil:
		if !r.Action.IsBound {
			path = ""
		}
		path = joinPath(path, operationSegment(r.Action))
	}

	d := r.details
	switch {
	case d.CountOnly:
		path += "/$count"
	case d.Media:
		path += "/$value"
	}

	options, err := r.queryOptions()
	if err != nil {
		return "", err
	}
	query = append(query, options...)
	if len(query) == 0 {
		return path, nil
	}
	return path + "?" + strings.Join(query, "&"), nil
}

func joinPath(path, segment string) string {
	if path == "" {
		return segment
	}
	return path + "/" + segment
}

func operationSegment(op *metadata.Operation) string {
	if op.IsBound {
		return op.FullName()
	}
	if op.ImportName != "" {
		return op.ImportName
	}
	return op.Name
}

// functionSegment returns the function path segment and, before V4, the
// parameters as query options.
func (r *Resolved) functionSegment() (string, []string, error) {
	op := r.Function
	declared := op.NonBindingParameters()
	type param struct {
		name    string
		literal string
		order   int
	}
	var params []param
	for name, v := range r.details.Parameters {
		p, ok := naming.BestMatch(declared, name, parameterName, nil)
		if !ok {
			return "", nil, oerrors.Unresolvable(oerrors.KindProperty, name, "not a parameter of "+op.Name)
		}
		idx := slices.Index(declared, p)
		if isSlice(v) {
			return "", nil, oerrors.NotSupported("collection parameter %s in a function URL", p.Name)
		}
		lit, err := r.adapter.FormatLiteral(literalValue(p.Type, v))
		if err != nil {
			return "", nil, err
		}
		params = append(params, param{name: p.Name, literal: lit, order: idx})
	}
	slices.SortFunc(params, func(a, b param) int { return a.order - b.order })

	segment := operationSegment(op)
	if r.adapter.SupportsParameterizedFunctions {
		parts := make([]string, 0, len(params))
		for _, p := range params {
			parts = append(parts, p.name+"="+protocol.EscapePathLiteral(p.literal))
		}
		return segment + "(" + strings.Join(parts, ",") + ")", nil, nil
	}
	query := make([]string, 0, len(params))
	for _, p := range params {
		query = append(query, p.name+"="+protocol.EscapeQueryValue(p.literal))
	}
	return segment, query, nil
}

func parameterName(p *metadata.Parameter) string { return p.Name }

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func (r *Resolved) queryOptions() ([]string, error) {
	d := r.details
	a := r.adapter
	var out []string
	add := func(name, value string) {
		out = append(out, name+"="+protocol.EscapeQueryValue(value))
	}

	if r.FilterText != "" {
		add("$filter", r.FilterText)
	}
	if d.Search != "" {
		if !a.SupportsSearch {
			return nil, oerrors.NotSupported("$search before OData V4")
		}
		add("$search", d.Search)
	}
	if len(d.Expand) > 0 {
		expand, err := r.formatExpand()
		if err != nil {
			return nil, err
		}
		add("$expand", expand)
	}
	if len(d.Select) > 0 {
		sel, err := r.formatPaths(d.Select)
		if err != nil {
			return nil, err
		}
		add("$select", strings.Join(sel, ","))
	}
	if len(d.OrderBy) > 0 {
		names := make([]string, 0, len(d.OrderBy))
		for _, o := range d.OrderBy {
			name := o.Name
			paths, err := r.formatPaths([]string{name})
			if err != nil {
				return nil, err
			}
			name = paths[0]
			if o.Desc {
				name += " desc"
			}
			names = append(names, name)
		}
		add("$orderby", strings.Join(names, ","))
	}
	if d.Skip != nil {
		add("$skip", strconv.Itoa(*d.Skip))
	}
	if d.Top != nil && !r.IsSingle() {
		add("$top", strconv.Itoa(*d.Top))
	}
	if d.Count && !d.CountOnly {
		add(a.CountOption, a.CountOptionValue)
	}
	for _, name := range slices.Sorted(maps.Keys(d.Extensions)) {
		if name == "$apply" && !a.SupportsApply {
			return nil, oerrors.NotSupported("$apply before OData V4")
		}
		add(name, d.Extensions[name])
	}
	for _, name := range slices.Sorted(maps.Keys(d.QueryOptions)) {
		add(name, d.QueryOptions[name])
	}
	return out, nil
}

func (r *Resolved) formatTarget() *metadata.EntityCollection {
	if r.Function != nil {
		if c, err := r.facade.OperationCollection(r.Function); err == nil {
			return c
		}
	}
	return r.Collection
}

// formatPaths binds $select and $orderby paths to metadata names.
func (r *Resolved) formatPaths(paths []string) ([]string, error) {
	ctx := filter.Context{Facade: r.facade, Collection: r.formatTarget(), Adapter: r.adapter}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "*" || strings.ContainsAny(p, "(") {
			out = append(out, p)
			continue
		}
		s, err := filter.Format(filter.Prop(p), ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// formatExpand binds $expand paths. Multi-hop paths are nested with
// $expand=A($expand=B) in V4 and kept as A/B before.
func (r *Resolved) formatExpand() (string, error) {
	target := r.formatTarget()
	out := make([]string, 0, len(r.details.Expand))
	for _, path := range r.details.Expand {
		if path == "*" || strings.ContainsAny(path, "(") || target == nil {
			out = append(out, path)
			continue
		}
		hops := strings.Split(path, "/")
		names := make([]string, 0, len(hops))
		c := target
		for _, hop := range hops {
			next, nav, err := r.facade.NavigationTarget(c, hop)
			if err != nil {
				return "", err
			}
			names = append(names, nav.Name)
			c = next
		}
		if r.adapter.Version != protocol.V4 {
			out = append(out, strings.Join(names, "/"))
			continue
		}
		s := names[len(names)-1]
		for i := len(names) - 2; i >= 0; i-- {
			s = names[i] + "($expand=" + s + ")"
		}
		out = append(out, s)
	}
	return strings.Join(out, ","), nil
}
