package command

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/nlstn/go-odataclient/internal/edm"
	"github.com/nlstn/go-odataclient/internal/filter"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

// EntryRegistrar records entries written inside a batch so later requests
// can reference them by content-ID.
type EntryRegistrar interface {
	RegisterEntry(entry any, data map[string]any)
}

// Options configures resolution.
type Options struct {
	Adapter *protocol.Adapter
	Mapper  ObjectMapper
	Entries EntryRegistrar
}

// Resolved is the immutable result of resolving Details against metadata.
type Resolved struct {
	details *Details
	adapter *protocol.Adapter
	facade  metadata.Facade
	mapper  ObjectMapper

	// Collection is nil for unbound operations.
	Collection *metadata.EntityCollection
	Parent     *Resolved
	Navigation *metadata.NavigationProperty
	Function   *metadata.Operation
	Action     *metadata.Operation

	KeyValues      []protocol.KeyValue
	IsAlternateKey bool
	FilterText     string
	EntryData      map[string]any

	links []string
	cast  bool
}

// Resolve resolves d against facade. The caller's d is not modified.
func Resolve(d *Details, facade metadata.Facade, opts Options) (*Resolved, error) {
	if opts.Adapter == nil {
		opts.Adapter = protocol.MustFor(protocol.V4)
	}
	if opts.Mapper == nil {
		opts.Mapper = DefaultMapper
	}
	r := &Resolved{details: d.Clone(), adapter: opts.Adapter, facade: facade, mapper: opts.Mapper}

	baseName, derivedName := r.details.CollectionName, r.details.DerivedName
	if baseName == "" && r.details.CollectionExpr != nil {
		baseName = r.details.CollectionExpr()
	}
	if base, derived, ok := strings.Cut(baseName, "/"); ok {
		baseName = base
		if derivedName == "" {
			derivedName = derived
		}
	}

	if err := r.resolveCollection(baseName, derivedName, opts); err != nil {
		return nil, err
	}
	if err := r.resolveOperation(); err != nil {
		return nil, err
	}
	if err := r.resolveKey(opts.Mapper); err != nil {
		return nil, err
	}
	if err := r.resolveFilter(); err != nil {
		return nil, err
	}
	if err := r.resolveEntry(opts); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolved) resolveCollection(baseName, derivedName string, opts Options) error {
	d := r.details
	var c *metadata.EntityCollection
	switch {
	case d.Parent != nil && d.Link != "":
		parent, err := Resolve(d.Parent, r.facade, Options{Adapter: opts.Adapter, Mapper: opts.Mapper})
		if err != nil {
			return err
		}
		if parent.Collection == nil {
			return oerrors.InvalidOperation("NavigateTo", "the parent command addresses no entity collection")
		}
		c = parent.Collection
		for _, hop := range strings.Split(d.Link, "/") {
			next, nav, err := r.facade.NavigationTarget(c, hop)
			if err != nil {
				return err
			}
			r.links = append(r.links, nav.Name)
			r.Navigation = nav
			c = next
		}
		r.Parent = parent
	case baseName != "":
		var err error
		if c, err = r.facade.ResolveCollection(baseName); err != nil {
			return err
		}
	case d.FunctionName != "" || d.ActionName != "":
		return nil
	default:
		return oerrors.InvalidOperation("Resolve", "no collection, function or action was named")
	}

	if derivedName != "" {
		derived, err := r.facade.DerivedCollection(c, derivedName)
		if err != nil {
			return err
		}
		c = derived
		r.cast = true
	}
	r.Collection = c
	return nil
}

func (r *Resolved) resolveOperation() error {
	d := r.details
	switch {
	case d.FunctionName != "":
		op, err := r.facade.Function(d.FunctionName)
		if err != nil {
			return err
		}
		r.Function = op
	case d.ActionName != "":
		bound := ""
		if r.Collection != nil {
			bound = r.Collection.EntityType.FullName()
		}
		op, err := r.facade.Action(d.ActionName, bound)
		if err != nil {
			return err
		}
		r.Action = op
	}
	return nil
}

func (r *Resolved) resolveKey(mapper ObjectMapper) error {
	d := r.details
	if !d.HasKey() {
		return nil
	}
	if r.Collection == nil {
		return oerrors.InvalidOperation("Key", "no entity collection to address")
	}

	named := d.NamedKeyValues
	if len(d.KeyValues) == 1 && IsRecord(d.KeyValues[0]) {
		m, err := mapper.ToMap(d.KeyValues[0])
		if err != nil {
			return err
		}
		named = m
	}
	if named != nil {
		if !r.matchNamedKey(named, true) {
			names := slices.Sorted(maps.Keys(named))
			return oerrors.InvalidOperation("Key", fmt.Sprintf("key names %v match no key of %s", names, r.Collection.EntityType.FullName()))
		}
		return nil
	}

	keyNames := r.facade.DeclaredKeyNames(r.Collection)
	if len(d.KeyValues) != len(keyNames) {
		return oerrors.InvalidOperation("Key", fmt.Sprintf("%s expects %d key values, got %d",
			r.Collection.EntityType.FullName(), len(keyNames), len(d.KeyValues)))
	}
	for i, name := range keyNames {
		r.KeyValues = append(r.KeyValues, protocol.KeyValue{Name: name, Value: r.keyValue(name, d.KeyValues[i])})
	}
	return nil
}

// matchNamedKey tries the primary key, then each alternate key. With
// allowSubset the values may also carry properties beyond the key.
func (r *Resolved) matchNamedKey(values map[string]any, allowSubset bool) bool {
	canonical := make(map[string]any, len(values))
	for name, v := range values {
		if p, ok := r.facade.StructuralProperty(r.Collection.EntityType, name); ok {
			canonical[p.Name] = v
		} else {
			canonical[name] = v
		}
	}

	candidates := append([][]string{r.facade.DeclaredKeyNames(r.Collection)}, r.facade.AlternateKeyNames(r.Collection)...)
	for i, key := range candidates {
		if len(key) > 0 && len(key) == len(canonical) && containsAll(canonical, key) {
			r.setKey(canonical, key, i > 0)
			return true
		}
	}
	if !allowSubset {
		return false
	}
	for i, key := range candidates {
		if len(key) > 0 && containsAll(canonical, key) {
			r.setKey(canonical, key, i > 0)
			return true
		}
	}
	return false
}

func (r *Resolved) setKey(values map[string]any, names []string, alternate bool) {
	r.KeyValues = r.KeyValues[:0]
	for _, name := range names {
		r.KeyValues = append(r.KeyValues, protocol.KeyValue{Name: name, Value: r.keyValue(name, values[name])})
	}
	r.IsAlternateKey = alternate
}

func (r *Resolved) keyValue(name string, v any) any {
	p, ok := r.facade.StructuralProperty(r.Collection.EntityType, name)
	if !ok {
		return v
	}
	return literalValue(p.Type, v)
}

// literalValue adapts caller values to the declared type where the literal
// syntax depends on it.
func literalValue(t metadata.TypeRef, v any) any {
	s, isString := v.(string)
	switch {
	case t.Kind == metadata.KindEnum && isString:
		return edm.EnumValue{Type: t.Name, Member: s}
	case t.Kind == metadata.KindEnum:
		if ev, ok := v.(edm.EnumValue); ok && ev.Type == "" {
			ev.Type = t.Name
			return ev
		}
	case t.Name == "Edm.Guid" && isString:
		if id, err := uuid.Parse(s); err == nil {
			return id
		}
	}
	return v
}

func (r *Resolved) resolveFilter() error {
	d := r.details
	if d.Filter == nil {
		r.FilterText = d.FilterText
		return nil
	}

	if !d.HasKey() && r.Function == nil && r.Collection != nil && !r.Collection.Singleton {
		if kv, ok := filter.KeyValues(d.Filter); ok && r.matchNamedKey(kv, false) {
			d.Filter = nil
			d.Top = nil
			r.FilterText = d.FilterText
			return nil
		}
	}

	target := r.Collection
	if r.Function != nil {
		if c, err := r.facade.OperationCollection(r.Function); err == nil {
			target = c
		}
	}

	dropCast := false
	if r.cast {
		if name, _, ok := filter.TypeConstraint(d.Filter); ok {
			if q, err := r.facade.QualifiedTypeName(name); err == nil && q == r.Collection.EntityType.FullName() {
				dropCast = true
			}
		}
	}

	text, err := filter.Format(d.Filter, filter.Context{Facade: r.facade, Collection: target, Adapter: r.adapter})
	if err != nil {
		return err
	}
	if d.FilterText != "" {
		text = "(" + text + ") and (" + d.FilterText + ")"
	}
	r.FilterText = text
	if dropCast {
		r.Collection = r.Collection.Base
		r.cast = false
	}
	return nil
}

func (r *Resolved) resolveEntry(opts Options) error {
	entry := r.details.Entry
	if entry == nil {
		return nil
	}
	data, err := opts.Mapper.ToMap(entry)
	if err != nil {
		return err
	}
	r.EntryData = data
	if opts.Entries != nil {
		opts.Entries.RegisterEntry(entry, data)
	}
	return nil
}

// Details returns a copy of the details the command was resolved from,
// with filter and top cleared when the filter became a key.
func (r *Resolved) Details() *Details { return r.details.Clone() }

func (r *Resolved) Adapter() *protocol.Adapter { return r.adapter }

func (r *Resolved) Facade() metadata.Facade { return r.facade }

// IsSingle reports whether the command addresses exactly one entity.
func (r *Resolved) IsSingle() bool {
	return len(r.KeyValues) > 0 || (r.Collection != nil && r.Collection.Singleton && r.Function == nil)
}

// QualifiedEntityCollectionName is "{base}/{qualifiedDerivedType}" for
// derived collections and the collection name otherwise.
func (r *Resolved) QualifiedEntityCollectionName() string {
	if r.Collection == nil {
		return ""
	}
	if r.cast {
		return r.Collection.QualifiedName()
	}
	return r.Collection.Root().Name
}

// CommandData is the entry data with the dynamic properties container
// spliced into the top level. A container that is not a record is an
// invalid operation.
func (r *Resolved) CommandData() (map[string]any, error) {
	container := r.details.DynamicContainer
	out := make(map[string]any, len(r.EntryData))
	var dynamic map[string]any
	for k, v := range r.EntryData {
		if container == "" || k != container {
			out[k] = v
			continue
		}
		if isNil(v) {
			continue
		}
		if !IsRecord(v) {
			return nil, oerrors.InvalidOperation("CommandData",
				fmt.Sprintf("dynamic properties container %q holds %T, not a record", container, v))
		}
		m, err := r.mapper.ToMap(v)
		if err != nil {
			return nil, err
		}
		dynamic = m
	}
	for k, v := range dynamic {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// KeySegment formats the key as "(1)" or "(A=1,B=2)".
func (r *Resolved) KeySegment() (string, error) {
	if len(r.KeyValues) == 0 {
		return "", nil
	}
	return r.adapter.FormatKey(r.KeyValues, r.IsAlternateKey || len(r.KeyValues) > 1)
}

func containsAll(values map[string]any, names []string) bool {
	for _, n := range names {
		if _, ok := values[n]; !ok {
			return false
		}
	}
	return true
}
