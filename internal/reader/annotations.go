package reader

import "maps"

// Keys added to result records.
const (
	// ResultKey holds the value of a collection, property or raw value
	// response in its single result record.
	ResultKey = "$result"
	// AnnotationsKey holds the entry annotations when they are requested
	// in results.
	AnnotationsKey = "__annotations"
)

// EntryAnnotations is the control information read with an entry.
type EntryAnnotations struct {
	ID               string
	TypeName         string
	ETag             string
	ReadLink         string
	EditLink         string
	MediaReadLink    string
	MediaEditLink    string
	MediaContentType string
	MediaETag        string
	// Properties maps a property name to its annotations, e.g.
	// Properties["Category"]["navigationLink"].
	Properties map[string]map[string]any
	// Instance holds custom annotations such as "ns.term".
	Instance map[string]any
}

// Merge copies every annotation of other that a is missing. Values already
// set on a are kept, so merging is idempotent and the first source wins.
func (a *EntryAnnotations) Merge(other *EntryAnnotations) {
	if other == nil || a == other {
		return
	}
	setIfEmpty(&a.ID, other.ID)
	setIfEmpty(&a.TypeName, other.TypeName)
	setIfEmpty(&a.ETag, other.ETag)
	setIfEmpty(&a.ReadLink, other.ReadLink)
	setIfEmpty(&a.EditLink, other.EditLink)
	setIfEmpty(&a.MediaReadLink, other.MediaReadLink)
	setIfEmpty(&a.MediaEditLink, other.MediaEditLink)
	setIfEmpty(&a.MediaContentType, other.MediaContentType)
	setIfEmpty(&a.MediaETag, other.MediaETag)

	for prop, anns := range other.Properties {
		if a.Properties == nil {
			a.Properties = make(map[string]map[string]any)
		}
		if a.Properties[prop] == nil {
			a.Properties[prop] = make(map[string]any, len(anns))
		}
		mergeMissing(a.Properties[prop], anns)
	}
	if len(other.Instance) > 0 {
		if a.Instance == nil {
			a.Instance = make(map[string]any, len(other.Instance))
		}
		mergeMissing(a.Instance, other.Instance)
	}
}

// IsEmpty reports whether no annotation is set.
func (a *EntryAnnotations) IsEmpty() bool {
	if a == nil {
		return true
	}
	return a.ID == "" && a.TypeName == "" && a.ETag == "" && a.ReadLink == "" && a.EditLink == "" &&
		a.MediaReadLink == "" && a.MediaEditLink == "" && a.MediaContentType == "" && a.MediaETag == "" &&
		len(a.Properties) == 0 && len(a.Instance) == 0
}

func (a *EntryAnnotations) property(name, annotation string, v any) {
	if a.Properties == nil {
		a.Properties = make(map[string]map[string]any)
	}
	if a.Properties[name] == nil {
		a.Properties[name] = make(map[string]any)
	}
	if _, ok := a.Properties[name][annotation]; !ok {
		a.Properties[name][annotation] = v
	}
}

// FeedAnnotations is the control information read with a feed.
type FeedAnnotations struct {
	Count     *int64
	NextLink  string
	DeltaLink string
	Instance  map[string]any
}

// Merge copies every annotation of other that a is missing.
func (a *FeedAnnotations) Merge(other *FeedAnnotations) {
	if other == nil || a == other {
		return
	}
	if a.Count == nil && other.Count != nil {
		n := *other.Count
		a.Count = &n
	}
	setIfEmpty(&a.NextLink, other.NextLink)
	setIfEmpty(&a.DeltaLink, other.DeltaLink)
	if len(other.Instance) > 0 {
		if a.Instance == nil {
			a.Instance = make(map[string]any, len(other.Instance))
		}
		mergeMissing(a.Instance, other.Instance)
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func mergeMissing(dst, src map[string]any) {
	for k, v := range src {
		if cur, ok := dst[k]; !ok || cur == nil {
			dst[k] = v
		}
	}
}

// AnnotatedEntry is an entry and its annotations. Expanded navigation
// properties hold *AnnotatedEntry or *AnnotatedFeed values.
type AnnotatedEntry struct {
	Data        map[string]any
	Annotations *EntryAnnotations
}

func newEntry() *AnnotatedEntry {
	return &AnnotatedEntry{Data: make(map[string]any), Annotations: &EntryAnnotations{}}
}

// Map flattens the entry and its expanded children into plain records.
func (e *AnnotatedEntry) Map(includeAnnotations bool) map[string]any {
	if e == nil {
		return nil
	}
	out := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		out[k] = plain(v, includeAnnotations)
	}
	if includeAnnotations && !e.Annotations.IsEmpty() {
		out[AnnotationsKey] = e.Annotations
	}
	return out
}

// AnnotatedFeed is a list of entries and the feed annotations.
type AnnotatedFeed struct {
	Entries     []*AnnotatedEntry
	Annotations *FeedAnnotations
}

func newFeed() *AnnotatedFeed {
	return &AnnotatedFeed{Annotations: &FeedAnnotations{}}
}

// Maps flattens every entry.
func (f *AnnotatedFeed) Maps(includeAnnotations bool) []map[string]any {
	if f == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(f.Entries))
	for _, e := range f.Entries {
		out = append(out, e.Map(includeAnnotations))
	}
	return out
}

func plain(v any, includeAnnotations bool) any {
	switch x := v.(type) {
	case *AnnotatedEntry:
		return x.Map(includeAnnotations)
	case *AnnotatedFeed:
		return x.Maps(includeAnnotations)
	case map[string]any:
		out := maps.Clone(x)
		for k, item := range out {
			out[k] = plain(item, includeAnnotations)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = plain(item, includeAnnotations)
		}
		return out
	default:
		return v
	}
}
