package writer

import (
	"reflect"
	"slices"

	"github.com/nlstn/go-odataclient/internal/command"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/oerrors"
)

// ReferenceLink is one navigation target of an entry. A nil Data unlinks.
type ReferenceLink struct {
	Data map[string]any
	// Object is the caller's object, used to find batch content-IDs.
	Object    any
	ContentID string
}

// EntryDetails splits entry data into structural properties and links.
type EntryDetails struct {
	Properties map[string]any
	Links      map[string][]ReferenceLink
}

// BuildEntryDetails splits the command data of r.
func BuildEntryDetails(r *command.Resolved, mapper command.ObjectMapper) (*EntryDetails, error) {
	data, err := r.CommandData()
	if err != nil {
		return nil, err
	}
	return BuildLinkDetails(r.Collection, data, r.Facade(), mapper)
}

// BuildLinkDetails splits data written to collection c.
func BuildLinkDetails(c *metadata.EntityCollection, data map[string]any, f metadata.Facade, mapper command.ObjectMapper) (*EntryDetails, error) {
	d := &EntryDetails{Properties: map[string]any{}, Links: map[string][]ReferenceLink{}}
	for name, value := range data {
		if _, isProperty := f.StructuralProperty(c.EntityType, name); isProperty {
			d.Properties[name] = value
			continue
		}
		nav, ok := f.NavigationProperty(c.EntityType, name)
		if !ok || !isLinkValue(value) {
			d.Properties[name] = value
			continue
		}
		links, err := referenceLinks(value, mapper)
		if err != nil {
			return nil, err
		}
		d.Links[nav.Name] = append(d.Links[nav.Name], links...)
	}
	return d, nil
}

func referenceLinks(v any, mapper command.ObjectMapper) ([]ReferenceLink, error) {
	if v == nil {
		return []ReferenceLink{{}}, nil
	}
	if command.IsRecord(v) {
		link, err := referenceLink(v, mapper)
		if err != nil {
			return nil, err
		}
		return []ReferenceLink{link}, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return []ReferenceLink{{}}, nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, oerrors.NotSupported("%T as a navigation link", v)
	}
	links := make([]ReferenceLink, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i)
		var elem any
		if item.Kind() == reflect.Struct && item.CanAddr() {
			elem = item.Addr().Interface()
		} else {
			elem = item.Interface()
		}
		link, err := referenceLink(elem, mapper)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func isLinkValue(v any) bool {
	if v == nil || command.IsRecord(v) {
		return true
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		return rv.IsNil()
	case reflect.Slice, reflect.Array:
		return true
	}
	return false
}

func referenceLink(v any, mapper command.ObjectMapper) (ReferenceLink, error) {
	data, err := mapper.ToMap(v)
	if err != nil {
		return ReferenceLink{}, err
	}
	return ReferenceLink{Data: data, Object: v}, nil
}

// Unlinks lists the navigation properties set to nil.
func (d *EntryDetails) Unlinks() []string {
	var names []string
	for name, links := range d.Links {
		for _, l := range links {
			if l.Data == nil {
				names = append(names, name)
				break
			}
		}
	}
	slices.Sort(names)
	return names
}
