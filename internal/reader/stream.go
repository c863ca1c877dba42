package reader

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nlstn/go-odataclient/internal/edm"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/naming"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

type nodeKind int

const (
	entryNode nodeKind = iota
	feedNode
)

// ResponseNode is a feed or an entry being read. It sits on the parser
// stack from its opening token to its closing token.
type ResponseNode struct {
	Kind  nodeKind
	Entry *AnnotatedEntry
	Feed  *AnnotatedFeed

	entityType  *metadata.EntityType
	complexType *metadata.ComplexType
	context     string
	// scalars is set when a feed held primitive values.
	scalars bool
	// deferred marks a V2 {"__deferred": ...} link placeholder.
	deferred bool
}

type parser struct {
	dec     *json.Decoder
	adapter *protocol.Adapter
	facade  metadata.Facade
	stack   []*ResponseNode
}

func newParser(r io.Reader, adapter *protocol.Adapter, facade metadata.Facade) *parser {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &parser{dec: dec, adapter: adapter, facade: facade}
}

func (p *parser) newNode(entity *metadata.EntityType, complex *metadata.ComplexType) *ResponseNode {
	return &ResponseNode{Entry: newEntry(), Feed: newFeed(), entityType: entity, complexType: complex}
}

func (p *parser) push(n *ResponseNode) { p.stack = append(p.stack, n) }

func (p *parser) pop() *ResponseNode {
	n := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	return n
}

// readDocument reads a complete JSON payload and classifies it.
func (p *parser) readDocument(root *metadata.EntityType) (Kind, *AnnotatedFeed, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return KindNone, nil, fmt.Errorf("failed to read response: %w", err)
	}
	node := p.newNode(root, nil)
	p.push(node)
	defer p.pop()

	switch {
	case tok == json.Delim('['):
		node.Kind = feedNode
		err = p.readFeedItems(node)
	case tok != json.Delim('{'):
		return KindNone, nil, &oerrors.FormatError{Value: fmt.Sprint(tok), Target: "OData JSON payload"}
	case p.adapter.Verbose:
		err = p.readVerboseWrapper(node)
	default:
		err = p.readObject(node)
	}
	if err != nil {
		return KindNone, nil, err
	}
	kind, feed := p.classify(node)
	return kind, feed, nil
}

// readVerboseWrapper unwraps the V2 {"d": ...} envelope.
func (p *parser) readVerboseWrapper(node *ResponseNode) error {
	for p.dec.More() {
		key, err := p.readKey()
		if err != nil {
			return err
		}
		if key != "d" {
			if _, err := p.readGeneric(); err != nil {
				return err
			}
			continue
		}
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('['):
			node.Kind = feedNode
			err = p.readFeedItems(node)
		case json.Delim('{'):
			err = p.readObject(node)
		default:
			var v any
			v, err = p.convert(tok, metadata.TypeRef{})
			node.Entry.Data[key] = v
		}
		if err != nil {
			return err
		}
	}
	_, err := p.dec.Token()
	return err
}

func (p *parser) classify(node *ResponseNode) (Kind, *AnnotatedFeed) {
	if node.Kind == feedNode {
		feed := node.Feed
		if len(node.Entry.Annotations.Instance) > 0 {
			if feed.Annotations.Instance == nil {
				feed.Annotations.Instance = make(map[string]any)
			}
			mergeMissing(feed.Annotations.Instance, node.Entry.Annotations.Instance)
		}
		switch {
		case node.scalars:
			return KindCollection, feed
		case feed.Annotations.DeltaLink != "" || strings.HasSuffix(node.context, "/$delta"):
			return KindDelta, feed
		default:
			return KindFeed, feed
		}
	}

	entry := node.Entry
	if len(entry.Data) == 1 && entry.Annotations.IsEmpty() && !entityContext(node.context) {
		for key, v := range entry.Data {
			if p.adapter.Verbose || key == "value" {
				feed := newFeed()
				feed.Entries = []*AnnotatedEntry{{Data: map[string]any{ResultKey: v}, Annotations: &EntryAnnotations{}}}
				return KindProperty, feed
			}
		}
	}
	feed := newFeed()
	feed.Entries = []*AnnotatedEntry{entry}
	return KindEntry, feed
}

// entityContext reports whether a context URL describes a single entity:
// "#Products/$entity", "#Products/@Element" or a bare singleton "#Me".
// Property and type fragments carry a path or a qualified name.
func entityContext(contextURL string) bool {
	_, fragment, ok := strings.Cut(contextURL, "#")
	if !ok || fragment == "" {
		return false
	}
	if strings.HasSuffix(fragment, "/$entity") || strings.HasSuffix(fragment, "/@Element") {
		return true
	}
	return !strings.ContainsAny(fragment, "/.(")
}

// readObject reads members until the closing brace of an object whose
// opening brace was already consumed.
func (p *parser) readObject(node *ResponseNode) error {
	for p.dec.More() {
		key, err := p.readKey()
		if err != nil {
			return err
		}
		if err := p.readMember(node, key); err != nil {
			return err
		}
	}
	_, err := p.dec.Token()
	return err
}

func (p *parser) readMember(node *ResponseNode, key string) error {
	verbose := p.adapter.Verbose
	switch {
	case verbose && key == "__metadata":
		v, err := p.readGeneric()
		if err != nil {
			return err
		}
		p.applyVerboseMetadata(node, v)
		return nil
	case verbose && key == "__deferred":
		node.deferred = true
		_, err := p.readGeneric()
		return err
	case verbose && (key == "__count" || key == "__next" || key == "__delta"):
		v, err := p.readGeneric()
		if err != nil {
			return err
		}
		p.applyAnnotation(node, map[string]string{"__count": "count", "__next": "nextLink", "__delta": "deltaLink"}[key], v)
		return nil
	case p.isFeedKey(key):
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		if tok == json.Delim('[') {
			node.Kind = feedNode
			return p.readFeedItems(node)
		}
		v, _, err := p.readValue(tok, metadata.TypeRef{}, nil, nil)
		if err != nil {
			return err
		}
		node.Entry.Data[key] = v
		return nil
	}

	if name, ok := p.annotationName(key); ok {
		v, err := p.readGeneric()
		if err != nil {
			return err
		}
		p.applyAnnotation(node, name, v)
		return nil
	}
	if i := strings.Index(key, "@"); i > 0 {
		v, err := p.readGeneric()
		if err != nil {
			return err
		}
		node.Entry.Annotations.property(key[:i], strings.TrimPrefix(key[i+1:], "odata."), v)
		return nil
	}

	tok, err := p.dec.Token()
	if err != nil {
		return err
	}
	typ, entity, complex := p.memberType(node, key)
	v, skip, err := p.readValue(tok, typ, entity, complex)
	if err != nil {
		return fmt.Errorf("property %s: %w", key, err)
	}
	if !skip {
		node.Entry.Data[key] = v
	}
	return nil
}

// isFeedKey reports whether key holds the entries of a feed: "results" in
// V2 verbose JSON at any depth, "value" at the top level otherwise.
func (p *parser) isFeedKey(key string) bool {
	if p.adapter.Verbose {
		return key == "results"
	}
	return key == "value" && len(p.stack) == 1
}

// annotationName strips the version prefix from an instance annotation
// name. Custom annotations keep their namespace.
func (p *parser) annotationName(key string) (string, bool) {
	switch {
	case p.adapter.Version == protocol.V4 && strings.HasPrefix(key, "@"):
		return strings.TrimPrefix(key[1:], "odata."), true
	case p.adapter.Version == protocol.V3 && strings.HasPrefix(key, "odata."):
		return strings.TrimPrefix(key, "odata."), true
	}
	return "", false
}

func (p *parser) applyAnnotation(node *ResponseNode, name string, v any) {
	s, _ := v.(string)
	ea, fa := node.Entry.Annotations, node.Feed.Annotations
	switch name {
	case "context", "metadata":
		node.context = s
	case "count":
		if n, ok := toInt64(v); ok {
			fa.Count = &n
		}
	case "nextLink":
		fa.NextLink = s
	case "deltaLink":
		fa.DeltaLink = s
	case "id":
		ea.ID = s
	case "type":
		ea.TypeName = strings.TrimPrefix(s, "#")
		p.refineType(node, ea.TypeName)
	case "etag":
		ea.ETag = s
	case "readLink":
		ea.ReadLink = s
	case "editLink":
		ea.EditLink = s
	case "mediaReadLink":
		ea.MediaReadLink = s
	case "mediaEditLink":
		ea.MediaEditLink = s
	case "mediaContentType":
		ea.MediaContentType = s
	case "mediaEtag":
		ea.MediaETag = s
	default:
		if ea.Instance == nil {
			ea.Instance = make(map[string]any)
		}
		ea.Instance[name] = v
	}
}

func (p *parser) applyVerboseMetadata(node *ResponseNode, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	ea := node.Entry.Annotations
	setIfEmpty(&ea.ID, str("id"))
	setIfEmpty(&ea.ID, str("uri"))
	setIfEmpty(&ea.EditLink, str("uri"))
	setIfEmpty(&ea.ETag, str("etag"))
	setIfEmpty(&ea.MediaReadLink, str("media_src"))
	setIfEmpty(&ea.MediaEditLink, str("edit_media"))
	setIfEmpty(&ea.MediaContentType, str("content_type"))
	setIfEmpty(&ea.MediaETag, str("media_etag"))
	if t := str("type"); t != "" {
		setIfEmpty(&ea.TypeName, t)
		p.refineType(node, t)
	}
}

// refineType switches a node to the derived entity type named by its
// payload.
func (p *parser) refineType(node *ResponseNode, typeName string) {
	if p.facade == nil || typeName == "" {
		return
	}
	if et, ok := p.facade.EntityType(typeName); ok {
		node.entityType = et
		return
	}
	if ct, ok := p.facade.ComplexType(typeName); ok {
		node.complexType = ct
	}
}

// memberType finds the declared type of a member of node. Navigation
// properties return their target entity type.
func (p *parser) memberType(node *ResponseNode, key string) (metadata.TypeRef, *metadata.EntityType, *metadata.ComplexType) {
	if p.facade == nil {
		return metadata.TypeRef{}, nil, nil
	}
	var props []*metadata.Property
	switch {
	case node.complexType != nil:
		props = node.complexType.AllProperties()
	case node.entityType != nil:
		props = node.entityType.AllProperties()
	default:
		return metadata.TypeRef{}, nil, nil
	}
	if prop, ok := naming.BestMatch(props, key, func(p *metadata.Property) string { return p.Name }, naming.Exact); ok {
		var complex *metadata.ComplexType
		if prop.Type.Kind == metadata.KindComplex {
			complex, _ = p.facade.ComplexType(prop.Type.Name)
		}
		return prop.Type, nil, complex
	}
	if node.entityType == nil {
		return metadata.TypeRef{}, nil, nil
	}
	navs := node.entityType.AllNavigationProperties()
	if nav, ok := naming.BestMatch(navs, key, func(n *metadata.NavigationProperty) string { return n.Name }, naming.Exact); ok {
		target, _ := p.facade.EntityType(nav.Target)
		return metadata.TypeRef{Name: nav.Target, Collection: nav.Collection, Kind: metadata.KindEntity}, target, nil
	}
	return metadata.TypeRef{}, nil, nil
}

// readValue reads the value that starts with tok. skip is set for V2
// deferred link placeholders, which carry no data.
func (p *parser) readValue(tok json.Token, typ metadata.TypeRef, entity *metadata.EntityType, complex *metadata.ComplexType) (v any, skip bool, err error) {
	switch tok {
	case json.Delim('{'):
		if typ.IsSpatial() {
			raw, err := p.genericObject()
			if err != nil {
				return nil, false, err
			}
			s, err := edm.ParseGeoJSON(typ.Name, raw)
			if err != nil {
				return nil, false, &oerrors.FormatError{Value: fmt.Sprint(raw), Target: typ.Name, Err: err}
			}
			return s, false, nil
		}
		child := p.newNode(entity, complex)
		p.push(child)
		err := p.readObject(child)
		p.pop()
		if err != nil {
			return nil, false, err
		}
		return p.nodeValue(child)
	case json.Delim('['):
		v, err := p.readArray(typ, entity, complex)
		return v, false, err
	}
	elem := typ
	elem.Collection = false
	v, err = p.convert(tok, elem)
	return v, false, err
}

func (p *parser) nodeValue(n *ResponseNode) (any, bool, error) {
	switch {
	case n.deferred:
		return nil, true, nil
	case n.Kind == feedNode:
		return n.Feed, false, nil
	case n.entityType != nil || !n.Entry.Annotations.IsEmpty():
		return n.Entry, false, nil
	default:
		return n.Entry.Data, false, nil
	}
}

// readArray reads an array whose opening bracket was consumed. Arrays of
// entities become feeds; everything else a []any.
func (p *parser) readArray(typ metadata.TypeRef, entity *metadata.EntityType, complex *metadata.ComplexType) (any, error) {
	if entity != nil {
		node := p.newNode(entity, nil)
		node.Kind = feedNode
		p.push(node)
		err := p.readFeedItems(node)
		p.pop()
		return node.Feed, err
	}

	elem := typ
	elem.Collection = false
	items := []any{}
	entries := true
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return nil, err
		}
		v, skip, err := p.readValue(tok, elem, nil, complex)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		if _, ok := v.(*AnnotatedEntry); !ok {
			entries = false
		}
		items = append(items, v)
	}
	if _, err := p.dec.Token(); err != nil {
		return nil, err
	}
	if entries && len(items) > 0 {
		feed := newFeed()
		for _, item := range items {
			feed.Entries = append(feed.Entries, item.(*AnnotatedEntry))
		}
		return feed, nil
	}
	return items, nil
}

// readFeedItems reads feed entries until the closing bracket. Primitive
// items become single-value entries under ResultKey.
func (p *parser) readFeedItems(node *ResponseNode) error {
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		if tok == json.Delim('{') && node.complexType == nil {
			child := p.newNode(node.entityType, nil)
			p.push(child)
			err := p.readObject(child)
			p.pop()
			if err != nil {
				return err
			}
			if !child.deferred {
				node.Feed.Entries = append(node.Feed.Entries, child.Entry)
			}
			continue
		}
		v, _, err := p.readValue(tok, metadata.TypeRef{}, nil, node.complexType)
		if err != nil {
			return err
		}
		node.scalars = true
		node.Feed.Entries = append(node.Feed.Entries, &AnnotatedEntry{Data: map[string]any{ResultKey: v}, Annotations: &EntryAnnotations{}})
	}
	_, err := p.dec.Token()
	return err
}

func (p *parser) readKey() (string, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", &oerrors.FormatError{Value: fmt.Sprint(tok), Target: "object key"}
	}
	return key, nil
}

// readGeneric reads one value into maps, slices and scalars, keeping
// numbers as json.Number.
func (p *parser) readGeneric() (any, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('{'):
		return p.genericObject()
	case json.Delim('['):
		list := []any{}
		for p.dec.More() {
			v, err := p.readGeneric()
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		_, err := p.dec.Token()
		return list, err
	}
	return tok, nil
}

func (p *parser) genericObject() (map[string]any, error) {
	m := make(map[string]any)
	for p.dec.More() {
		key, err := p.readKey()
		if err != nil {
			return nil, err
		}
		v, err := p.readGeneric()
		if err != nil {
			return nil, err
		}
		m[key] = v
	}
	_, err := p.dec.Token()
	return m, err
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := json.Number(x).Int64()
		return n, err == nil
	}
	return 0, false
}
