package odata

import (
	"fmt"
	"strings"

	"github.com/nlstn/go-odataclient/internal/command"
)

// Command is a fluent request description. Every method returns a new
// Command, so a partially built command can be reused as a template.
type Command struct {
	d         *command.Details
	contentID string
	err       error
}

// For starts a command on an entity set or singleton. "Products/Derived"
// also casts to a derived type.
func For(collection string) *Command {
	return &Command{d: &command.Details{CollectionName: collection}}
}

// ForExpr starts a command whose collection name is computed when the
// command is resolved.
func ForExpr(collection func() string) *Command {
	return &Command{d: &command.Details{CollectionExpr: collection}}
}

// Function starts an unbound function call.
func Function(name string) *Command {
	return &Command{d: &command.Details{FunctionName: name}}
}

// Action starts an unbound action call.
func Action(name string) *Command {
	return &Command{d: &command.Details{ActionName: name}}
}

// For is the package-level For, for symmetry with the client methods.
func (c *Client) For(collection string) *Command { return For(collection) }

func (cmd *Command) with(f func(d *command.Details)) *Command {
	next := &Command{d: cmd.d.Clone(), contentID: cmd.contentID, err: cmd.err}
	if next.d == nil {
		next.d = &command.Details{}
	}
	if next.err == nil {
		f(next.d)
	}
	return next
}

func (cmd *Command) fail(op, reason string) *Command {
	next := cmd.with(func(*command.Details) {})
	if next.err == nil {
		next.err = &InvalidOperationError{Op: op, Reason: reason}
	}
	return next
}

// Key addresses one entity by positional key values, in key declaration
// order. A single struct or map argument is matched by property name
// against the primary key and then the alternate keys.
func (cmd *Command) Key(values ...any) *Command {
	if len(values) == 0 {
		return cmd.fail("Key", "no key values")
	}
	return cmd.with(func(d *command.Details) {
		d.KeyValues = append([]any(nil), values...)
		d.NamedKeyValues = nil
	})
}

// NamedKey addresses one entity by named key values.
func (cmd *Command) NamedKey(values map[string]any) *Command {
	if len(values) == 0 {
		return cmd.fail("NamedKey", "no key values")
	}
	return cmd.with(func(d *command.Details) {
		d.NamedKeyValues = make(map[string]any, len(values))
		for k, v := range values {
			d.NamedKeyValues[k] = v
		}
		d.KeyValues = nil
	})
}

// Filter sets the $filter expression. An equality on all key properties
// addresses the entity by key instead.
func (cmd *Command) Filter(e Expr) *Command {
	return cmd.with(func(d *command.Details) { d.Filter = e })
}

// FilterText adds raw $filter text, and-ed with Filter when both are set.
func (cmd *Command) FilterText(text string) *Command {
	return cmd.with(func(d *command.Details) { d.FilterText = text })
}

// Search sets $search. V4 only.
func (cmd *Command) Search(text string) *Command {
	return cmd.with(func(d *command.Details) { d.Search = text })
}

// Expand adds navigation paths to $expand. "A/B" expands two levels.
func (cmd *Command) Expand(paths ...string) *Command {
	return cmd.with(func(d *command.Details) { d.Expand = append(d.Expand, paths...) })
}

// Select adds properties to $select.
func (cmd *Command) Select(names ...string) *Command {
	return cmd.with(func(d *command.Details) { d.Select = append(d.Select, names...) })
}

// OrderBy adds ascending $orderby items.
func (cmd *Command) OrderBy(names ...string) *Command {
	return cmd.with(func(d *command.Details) {
		for _, n := range names {
			d.OrderBy = append(d.OrderBy, command.OrderBy{Name: n})
		}
	})
}

// OrderByDescending adds descending $orderby items.
func (cmd *Command) OrderByDescending(names ...string) *Command {
	return cmd.with(func(d *command.Details) {
		for _, n := range names {
			d.OrderBy = append(d.OrderBy, command.OrderBy{Name: n, Desc: true})
		}
	})
}

func (cmd *Command) Top(n int) *Command {
	if n < 0 {
		return cmd.fail("Top", fmt.Sprintf("negative count %d", n))
	}
	return cmd.with(func(d *command.Details) { d.Top = &n })
}

func (cmd *Command) Skip(n int) *Command {
	if n < 0 {
		return cmd.fail("Skip", fmt.Sprintf("negative count %d", n))
	}
	return cmd.with(func(d *command.Details) { d.Skip = &n })
}

// Count asks for the total count along with the entries.
func (cmd *Command) Count() *Command {
	return cmd.with(func(d *command.Details) { d.Count = true })
}

// Apply sets the V4 $apply aggregation option.
func (cmd *Command) Apply(transformations string) *Command {
	return cmd.Extension("$apply", transformations)
}

// Extension sets a version-specific system query option.
func (cmd *Command) Extension(name, value string) *Command {
	if !strings.HasPrefix(name, "$") {
		name = "$" + name
	}
	return cmd.with(func(d *command.Details) {
		if d.Extensions == nil {
			d.Extensions = map[string]string{}
		}
		d.Extensions[name] = value
	})
}

// QueryOption appends a custom query option verbatim.
func (cmd *Command) QueryOption(name, value string) *Command {
	return cmd.with(func(d *command.Details) {
		if d.QueryOptions == nil {
			d.QueryOptions = map[string]string{}
		}
		d.QueryOptions[name] = value
	})
}

// As casts the collection to a derived entity type.
func (cmd *Command) As(derivedType string) *Command {
	return cmd.with(func(d *command.Details) { d.DerivedName = derivedType })
}

// NavigateTo follows a navigation property of the addressed entity.
// "A/B" follows two hops.
func (cmd *Command) NavigateTo(link string) *Command {
	if link == "" {
		return cmd.fail("NavigateTo", "empty navigation property")
	}
	if cmd.err != nil {
		return cmd.with(func(*command.Details) {})
	}
	return &Command{d: &command.Details{Parent: cmd.d.Clone(), Link: link}, contentID: cmd.contentID}
}

// Set sets the entry to write: a map, or a struct or pointer to one. A
// pointer or map keeps its identity, so later entries of the same batch
// can link to it before the server assigned a key.
func (cmd *Command) Set(entry any) *Command {
	return cmd.with(func(d *command.Details) { d.Entry = entry })
}

// WithDynamicProperties names the entry member that holds the dynamic
// properties of an open type. Its contents are written as top-level
// properties.
func (cmd *Command) WithDynamicProperties(container string) *Command {
	return cmd.with(func(d *command.Details) { d.DynamicContainer = container })
}

// Function calls a function bound to the addressed collection or entity.
func (cmd *Command) Function(name string) *Command {
	return cmd.with(func(d *command.Details) {
		d.FunctionName = name
		d.ActionName = ""
	})
}

// Action calls an action bound to the addressed collection or entity.
func (cmd *Command) Action(name string) *Command {
	return cmd.with(func(d *command.Details) {
		d.ActionName = name
		d.FunctionName = ""
	})
}

// Parameter sets one function or action parameter.
func (cmd *Command) Parameter(name string, value any) *Command {
	return cmd.with(func(d *command.Details) {
		if d.Parameters == nil {
			d.Parameters = map[string]any{}
		}
		d.Parameters[name] = value
	})
}

// Parameters sets several function or action parameters.
func (cmd *Command) Parameters(values map[string]any) *Command {
	return cmd.with(func(d *command.Details) {
		if d.Parameters == nil {
			d.Parameters = make(map[string]any, len(values))
		}
		for k, v := range values {
			d.Parameters[k] = v
		}
	})
}

// WithETag sends etag in If-Match instead of the "*" wildcard.
func (cmd *Command) WithETag(etag string) *Command {
	return cmd.with(func(d *command.Details) { d.ETag = etag })
}

// WithContentID suggests the batch content-ID of the entry written by this
// command. It is ignored outside batches and when the ID is taken.
func (cmd *Command) WithContentID(id string) *Command {
	next := cmd.with(func(*command.Details) {})
	next.contentID = id
	return next
}

// Err returns the first error recorded while building the command.
func (cmd *Command) Err() error { return cmd.err }

func (cmd *Command) collectionName() string {
	if cmd == nil || cmd.d == nil {
		return ""
	}
	d := cmd.d
	for d.Parent != nil && d.CollectionName == "" {
		d = d.Parent
	}
	return d.CollectionName
}
