// Package command turns fluent command details into resolved, protocol
// correct requests. Resolution is pure: it consults metadata and never
// performs I/O.
package command

import (
	"maps"
	"slices"

	"github.com/nlstn/go-odataclient/internal/filter"
)

// OrderBy is one $orderby item.
type OrderBy struct {
	Name string
	Desc bool
}

// Details is the mutable state a fluent command accumulates. Each fluent
// branch works on its own Clone.
type Details struct {
	CollectionName string
	// CollectionExpr is evaluated when CollectionName is empty. A result of
	// the form "Set/Derived" also names the derived collection.
	CollectionExpr func() string
	DerivedName    string

	// Parent and Link navigate from the entity Parent addresses. Link may
	// hold several hops separated by '/'.
	Parent *Details
	Link   string

	KeyValues      []any
	NamedKeyValues map[string]any

	Filter     filter.Expr
	FilterText string
	Search     string
	Top        *int
	Skip       *int
	Count      bool
	CountOnly  bool
	Expand     []string
	Select     []string
	OrderBy    []OrderBy

	// Entry is the object or map being written.
	Entry            any
	DynamicContainer string

	FunctionName string
	ActionName   string
	Parameters   map[string]any

	Media bool
	ETag  string

	// Extensions holds version-specific system options such as $apply.
	Extensions map[string]string
	// QueryOptions holds custom query options appended verbatim.
	QueryOptions map[string]string
}

// Clone returns a copy whose slices and maps can be changed without
// affecting d. Entry keeps its identity so batch content-IDs stay stable.
func (d *Details) Clone() *Details {
	if d == nil {
		return nil
	}
	c := *d
	c.Parent = d.Parent.Clone()
	c.KeyValues = slices.Clone(d.KeyValues)
	c.NamedKeyValues = maps.Clone(d.NamedKeyValues)
	c.Expand = slices.Clone(d.Expand)
	c.Select = slices.Clone(d.Select)
	c.OrderBy = slices.Clone(d.OrderBy)
	c.Parameters = maps.Clone(d.Parameters)
	c.Extensions = maps.Clone(d.Extensions)
	c.QueryOptions = maps.Clone(d.QueryOptions)
	if d.Top != nil {
		top := *d.Top
		c.Top = &top
	}
	if d.Skip != nil {
		skip := *d.Skip
		c.Skip = &skip
	}
	return &c
}

// HasKey reports whether key values were supplied explicitly.
func (d *Details) HasKey() bool {
	return len(d.KeyValues) > 0 || len(d.NamedKeyValues) > 0
}
