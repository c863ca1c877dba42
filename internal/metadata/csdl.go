package metadata

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const (
	termOptimisticConcurrency = "OptimisticConcurrency"
	termAlternateKeys         = "AlternateKeys"
)

type edmxDocument struct {
	XMLName      xml.Name         `xml:"Edmx"`
	Version      string           `xml:"Version,attr"`
	DataServices edmxDataServices `xml:"DataServices"`
}

type edmxDataServices struct {
	DataServiceVersion string       `xml:"DataServiceVersion,attr"`
	Schemas            []csdlSchema `xml:"Schema"`
}

type csdlSchema struct {
	Namespace    string            `xml:"Namespace,attr"`
	Alias        string            `xml:"Alias,attr"`
	EntityTypes  []csdlEntityType  `xml:"EntityType"`
	ComplexTypes []csdlComplexType `xml:"ComplexType"`
	EnumTypes    []csdlEnumType    `xml:"EnumType"`
	Associations []csdlAssociation `xml:"Association"`
	Functions    []csdlOperation   `xml:"Function"`
	Actions      []csdlOperation   `xml:"Action"`
	Containers   []csdlContainer   `xml:"EntityContainer"`
	Annotations  []csdlAnnotations `xml:"Annotations"`
}

type csdlPropertyRef struct {
	Name string `xml:"Name,attr"`
}

type csdlEntityType struct {
	Name                 string                   `xml:"Name,attr"`
	BaseType             string                   `xml:"BaseType,attr"`
	Abstract             string                   `xml:"Abstract,attr"`
	OpenType             string                   `xml:"OpenType,attr"`
	HasStream            string                   `xml:"HasStream,attr"`
	Key                  []csdlPropertyRef        `xml:"Key>PropertyRef"`
	Properties           []csdlProperty           `xml:"Property"`
	NavigationProperties []csdlNavigationProperty `xml:"NavigationProperty"`
	Annotations          []csdlAnnotation         `xml:"Annotation"`
}

type csdlComplexType struct {
	Name       string         `xml:"Name,attr"`
	BaseType   string         `xml:"BaseType,attr"`
	OpenType   string         `xml:"OpenType,attr"`
	Properties []csdlProperty `xml:"Property"`
}

type csdlEnumType struct {
	Name    string           `xml:"Name,attr"`
	IsFlags string           `xml:"IsFlags,attr"`
	Members []csdlEnumMember `xml:"Member"`
}

type csdlEnumMember struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

type csdlProperty struct {
	Name            string `xml:"Name,attr"`
	Type            string `xml:"Type,attr"`
	Nullable        string `xml:"Nullable,attr"`
	ConcurrencyMode string `xml:"ConcurrencyMode,attr"`
}

type csdlNavigationProperty struct {
	Name         string `xml:"Name,attr"`
	Type         string `xml:"Type,attr"`
	Partner      string `xml:"Partner,attr"`
	Relationship string `xml:"Relationship,attr"`
	FromRole     string `xml:"FromRole,attr"`
	ToRole       string `xml:"ToRole,attr"`
}

type csdlAssociation struct {
	Name string                `xml:"Name,attr"`
	Ends []csdlAssociationEnd `xml:"End"`
}

type csdlAssociationEnd struct {
	Role         string `xml:"Role,attr"`
	Type         string `xml:"Type,attr"`
	Multiplicity string `xml:"Multiplicity,attr"`
	EntitySet    string `xml:"EntitySet,attr"`
}

type csdlOperation struct {
	Name          string          `xml:"Name,attr"`
	IsBound       string          `xml:"IsBound,attr"`
	EntitySetPath string          `xml:"EntitySetPath,attr"`
	Parameters    []csdlParameter `xml:"Parameter"`
	ReturnType    *csdlReturnType `xml:"ReturnType"`
}

type csdlParameter struct {
	Name     string `xml:"Name,attr"`
	Type     string `xml:"Type,attr"`
	Nullable string `xml:"Nullable,attr"`
}

type csdlReturnType struct {
	Type     string `xml:"Type,attr"`
	Nullable string `xml:"Nullable,attr"`
}

type csdlContainer struct {
	Name            string               `xml:"Name,attr"`
	EntitySets      []csdlEntitySet      `xml:"EntitySet"`
	Singletons      []csdlEntitySet      `xml:"Singleton"`
	AssociationSets []csdlAssociationSet `xml:"AssociationSet"`
	FunctionImports []csdlFunctionImport `xml:"FunctionImport"`
	ActionImports   []csdlActionImport   `xml:"ActionImport"`
}

type csdlEntitySet struct {
	Name        string                      `xml:"Name,attr"`
	EntityType  string                      `xml:"EntityType,attr"`
	Type        string                      `xml:"Type,attr"`
	Bindings    []csdlNavigationPropBinding `xml:"NavigationPropertyBinding"`
	Annotations []csdlAnnotation            `xml:"Annotation"`
}

type csdlNavigationPropBinding struct {
	Path   string `xml:"Path,attr"`
	Target string `xml:"Target,attr"`
}

type csdlAssociationSet struct {
	Name        string               `xml:"Name,attr"`
	Association string               `xml:"Association,attr"`
	Ends        []csdlAssociationEnd `xml:"End"`
}

type csdlFunctionImport struct {
	Name            string          `xml:"Name,attr"`
	Function        string          `xml:"Function,attr"`
	EntitySet       string          `xml:"EntitySet,attr"`
	ReturnType      string          `xml:"ReturnType,attr"`
	IsSideEffecting string          `xml:"IsSideEffecting,attr"`
	IsBindable      string          `xml:"IsBindable,attr"`
	HTTPMethod      string          `xml:"HttpMethod,attr"`
	Parameters      []csdlParameter `xml:"Parameter"`
}

type csdlActionImport struct {
	Name      string `xml:"Name,attr"`
	Action    string `xml:"Action,attr"`
	EntitySet string `xml:"EntitySet,attr"`
}

type csdlAnnotations struct {
	Target      string           `xml:"Target,attr"`
	Annotations []csdlAnnotation `xml:"Annotation"`
}

type csdlAnnotation struct {
	Term       string          `xml:"Term,attr"`
	Bool       string          `xml:"Bool,attr"`
	Collection *csdlCollection `xml:"Collection"`
}

type csdlCollection struct {
	PropertyPaths []string     `xml:"PropertyPath"`
	Records       []csdlRecord `xml:"Record"`
}

type csdlRecord struct {
	Type           string              `xml:"Type,attr"`
	PropertyValues []csdlPropertyValue `xml:"PropertyValue"`
}

type csdlPropertyValue struct {
	Property     string          `xml:"Property,attr"`
	String       string          `xml:"String,attr"`
	PropertyPath string          `xml:"PropertyPath,attr"`
	Collection   *csdlCollection `xml:"Collection"`
}

// Parse reads a CSDL metadata document of any protocol version.
func Parse(r io.Reader) (*Model, error) {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false

	var doc edmxDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode metadata document: %w", err)
	}
	if len(doc.DataServices.Schemas) == 0 {
		return nil, fmt.Errorf("metadata document contains no schema")
	}

	b := &modelBuilder{
		model:   newModel(),
		aliases: make(map[string]string),
		assocs:  make(map[string]csdlAssociation),
	}
	b.model.Version = doc.Version
	if doc.DataServices.DataServiceVersion != "" && !strings.HasPrefix(doc.Version, "4") {
		b.model.Version = doc.DataServices.DataServiceVersion
	}
	if err := b.build(doc.DataServices.Schemas); err != nil {
		return nil, err
	}
	return b.model, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(doc []byte) (*Model, error) {
	return Parse(bytes.NewReader(doc))
}

type modelBuilder struct {
	model   *Model
	aliases map[string]string
	assocs  map[string]csdlAssociation
}

func (b *modelBuilder) build(schemas []csdlSchema) error {
	for _, s := range schemas {
		b.model.Namespaces = append(b.model.Namespaces, s.Namespace)
		if s.Alias != "" {
			b.aliases[s.Alias] = s.Namespace
		}
	}

	// Types first so that every later reference can be resolved.
	for _, s := range schemas {
		for _, ct := range s.ComplexTypes {
			t := &ComplexType{Namespace: s.Namespace, Name: ct.Name, BaseType: b.qualified(ct.BaseType), OpenType: parseBool(ct.OpenType)}
			t.Properties = b.properties(ct.Properties)
			b.model.ComplexTypes[t.FullName()] = t
		}
		for _, et := range s.EnumTypes {
			b.model.EnumTypes[qualify(s.Namespace, et.Name)] = buildEnum(s.Namespace, et)
		}
		for _, a := range s.Associations {
			b.assocs[qualify(s.Namespace, a.Name)] = a
		}
		for _, et := range s.EntityTypes {
			t := &EntityType{
				Namespace: s.Namespace,
				Name:      et.Name,
				BaseType:  b.qualified(et.BaseType),
				Abstract:  parseBool(et.Abstract),
				OpenType:  parseBool(et.OpenType),
				HasStream: parseBool(et.HasStream),
			}
			for _, k := range et.Key {
				t.Key = append(t.Key, k.Name)
			}
			t.Properties = b.properties(et.Properties)
			t.AlternateKeys = alternateKeys(et.Annotations)
			b.model.EntityTypes[t.FullName()] = t
		}
	}

	for _, t := range b.model.EntityTypes {
		if t.BaseType != "" {
			t.base = b.model.EntityTypes[t.BaseType]
			if t.base == nil {
				return fmt.Errorf("entity type %s has unknown base type %s", t.FullName(), t.BaseType)
			}
		}
	}
	for _, t := range b.model.ComplexTypes {
		if t.BaseType != "" {
			t.base = b.model.ComplexTypes[t.BaseType]
		}
	}

	for _, s := range schemas {
		for _, et := range s.EntityTypes {
			t := b.model.EntityTypes[qualify(s.Namespace, et.Name)]
			for _, np := range et.NavigationProperties {
				nav, err := b.navigation(np)
				if err != nil {
					return fmt.Errorf("entity type %s: %w", t.FullName(), err)
				}
				t.NavigationProperties = append(t.NavigationProperties, nav)
			}
		}
		for _, fn := range s.Functions {
			b.model.Operations = append(b.model.Operations, b.operation(s.Namespace, fn, false))
		}
		for _, ac := range s.Actions {
			b.model.Operations = append(b.model.Operations, b.operation(s.Namespace, ac, true))
		}
	}

	// Properties were classified before all types existed.
	b.classifyProperties()

	for _, s := range schemas {
		for _, c := range s.Containers {
			if err := b.container(s.Namespace, c); err != nil {
				return err
			}
		}
	}
	for _, s := range schemas {
		for _, a := range s.Annotations {
			b.externalAnnotations(a)
		}
	}
	for _, set := range b.model.EntitySets {
		if set.EntityType.hasConcurrencyProperty() {
			set.OptimisticConcurrency = true
		}
	}
	return nil
}

func (b *modelBuilder) properties(props []csdlProperty) []*Property {
	out := make([]*Property, 0, len(props))
	for _, p := range props {
		ref := ParseTypeRef(b.qualifiedType(p.Type))
		ref.Nullable = p.Nullable != "false"
		out = append(out, &Property{
			Name:        p.Name,
			Type:        ref,
			Concurrency: strings.EqualFold(p.ConcurrencyMode, "Fixed"),
		})
	}
	return out
}

func (b *modelBuilder) classifyProperties() {
	classify := func(props []*Property) {
		for _, p := range props {
			p.Type.Kind = b.model.kindOf(p.Type.Name)
		}
	}
	for _, t := range b.model.EntityTypes {
		classify(t.Properties)
	}
	for _, t := range b.model.ComplexTypes {
		classify(t.Properties)
	}
	for _, op := range b.model.Operations {
		for _, p := range op.Parameters {
			p.Type.Kind = b.model.kindOf(p.Type.Name)
		}
		if op.ReturnType != nil {
			op.ReturnType.Kind = b.model.kindOf(op.ReturnType.Name)
		}
	}
}

func (b *modelBuilder) navigation(np csdlNavigationProperty) (*NavigationProperty, error) {
	nav := &NavigationProperty{Name: np.Name, Partner: np.Partner}
	if np.Type != "" {
		ref := ParseTypeRef(b.qualifiedType(np.Type))
		nav.Target = ref.Name
		nav.Collection = ref.Collection
		return nav, nil
	}

	// V2/V3: the target is the ToRole end of the association.
	nav.relationship = b.qualified(np.Relationship)
	nav.fromRole, nav.toRole = np.FromRole, np.ToRole
	assoc, ok := b.assocs[nav.relationship]
	if !ok {
		return nil, fmt.Errorf("navigation property %s references unknown association %s", np.Name, np.Relationship)
	}
	for _, end := range assoc.Ends {
		if end.Role == np.ToRole {
			nav.Target = b.qualified(end.Type)
			nav.Collection = end.Multiplicity == "*"
		}
	}
	if nav.Target == "" {
		return nil, fmt.Errorf("navigation property %s has no end with role %s", np.Name, np.ToRole)
	}
	return nav, nil
}

func (b *modelBuilder) operation(namespace string, op csdlOperation, isAction bool) *Operation {
	o := &Operation{
		Namespace: namespace,
		Name:      op.Name,
		IsAction:  isAction,
		IsBound:   parseBool(op.IsBound),
	}
	for _, p := range op.Parameters {
		ref := ParseTypeRef(b.qualifiedType(p.Type))
		ref.Nullable = p.Nullable != "false"
		o.Parameters = append(o.Parameters, &Parameter{Name: p.Name, Type: ref})
	}
	if op.ReturnType != nil {
		ref := ParseTypeRef(b.qualifiedType(op.ReturnType.Type))
		o.ReturnType = &ref
	}
	return o
}

func (b *modelBuilder) container(namespace string, c csdlContainer) error {
	if b.model.ContainerName == "" {
		b.model.ContainerName = c.Name
	}
	sets := make(map[string]*EntitySet)
	add := func(cs csdlEntitySet, singleton bool) error {
		typeName := cs.EntityType
		if singleton || typeName == "" {
			typeName = cs.Type
		}
		et := b.model.EntityTypes[b.qualified(typeName)]
		if et == nil {
			return fmt.Errorf("entity set %s has unknown type %s", cs.Name, typeName)
		}
		set := &EntitySet{Name: cs.Name, EntityType: et, Singleton: singleton, NavigationBindings: make(map[string]string)}
		for _, nb := range cs.Bindings {
			set.NavigationBindings[nb.Path] = nb.Target
		}
		for _, a := range cs.Annotations {
			if termIs(a.Term, termOptimisticConcurrency) {
				set.OptimisticConcurrency = true
			}
		}
		sets[set.Name] = set
		b.model.EntitySets = append(b.model.EntitySets, set)
		return nil
	}
	for _, cs := range c.EntitySets {
		if err := add(cs, false); err != nil {
			return err
		}
	}
	for _, cs := range c.Singletons {
		if err := add(cs, true); err != nil {
			return err
		}
	}

	// V2/V3 association sets become navigation bindings.
	for _, as := range c.AssociationSets {
		association := b.qualified(as.Association)
		roleSets := make(map[string]string, len(as.Ends))
		for _, end := range as.Ends {
			roleSets[end.Role] = end.EntitySet
		}
		for _, set := range sets {
			for _, nav := range set.EntityType.AllNavigationProperties() {
				if nav.relationship != association || roleSets[nav.fromRole] != set.Name {
					continue
				}
				if target := roleSets[nav.toRole]; target != "" {
					set.NavigationBindings[nav.Name] = target
				}
			}
		}
	}

	for _, fi := range c.FunctionImports {
		if fi.Function != "" {
			b.bindImport(fi.Name, fi.Function, fi.EntitySet)
			continue
		}
		b.model.Operations = append(b.model.Operations, b.legacyFunctionImport(namespace, fi))
	}
	for _, ai := range c.ActionImports {
		b.bindImport(ai.Name, ai.Action, ai.EntitySet)
	}
	return nil
}

func (b *modelBuilder) bindImport(importName, opName, entitySet string) {
	qualified := b.qualified(opName)
	for _, op := range b.model.Operations {
		if op.FullName() == qualified && !op.IsBound {
			op.ImportName = importName
			if entitySet != "" {
				op.EntitySet = lastSegment(entitySet)
			}
		}
	}
}

func (b *modelBuilder) legacyFunctionImport(namespace string, fi csdlFunctionImport) *Operation {
	op := &Operation{
		Namespace:  namespace,
		Name:       fi.Name,
		ImportName: fi.Name,
		EntitySet:  fi.EntitySet,
		HTTPMethod: strings.ToUpper(fi.HTTPMethod),
		IsBound:    parseBool(fi.IsBindable),
	}
	switch {
	case op.HTTPMethod == "GET":
	case op.HTTPMethod == "POST":
		op.IsAction = true
	case fi.IsSideEffecting != "":
		op.IsAction = parseBool(fi.IsSideEffecting)
	}
	for _, p := range fi.Parameters {
		ref := ParseTypeRef(b.qualifiedType(p.Type))
		ref.Nullable = p.Nullable != "false"
		op.Parameters = append(op.Parameters, &Parameter{Name: p.Name, Type: ref})
	}
	if fi.ReturnType != "" {
		ref := ParseTypeRef(b.qualifiedType(fi.ReturnType))
		ref.Kind = b.model.kindOf(ref.Name)
		op.ReturnType = &ref
	}
	for _, p := range op.Parameters {
		p.Type.Kind = b.model.kindOf(p.Type.Name)
	}
	return op
}

// externalAnnotations applies <Annotations Target="..."> blocks.
func (b *modelBuilder) externalAnnotations(a csdlAnnotations) {
	target := a.Target
	if i := strings.IndexByte(target, '/'); i >= 0 {
		setName := target[i+1:]
		for _, set := range b.model.EntitySets {
			if set.Name != setName {
				continue
			}
			for _, ann := range a.Annotations {
				if termIs(ann.Term, termOptimisticConcurrency) {
					set.OptimisticConcurrency = true
				}
			}
		}
		return
	}
	if et := b.model.EntityTypes[b.qualified(target)]; et != nil {
		et.AlternateKeys = append(et.AlternateKeys, alternateKeys(a.Annotations)...)
	}
}

func (b *modelBuilder) qualified(name string) string {
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		if ns, ok := b.aliases[name[:i]]; ok {
			return ns + name[i:]
		}
	}
	return name
}

func (b *modelBuilder) qualifiedType(expr string) string {
	ref := ParseTypeRef(expr)
	ref.Name = b.qualified(ref.Name)
	return ref.String()
}

// alternateKeys reads OData.Community.Keys.V1.AlternateKeys annotations.
func alternateKeys(annotations []csdlAnnotation) [][]string {
	var keys [][]string
	for _, a := range annotations {
		if !termIs(a.Term, termAlternateKeys) || a.Collection == nil {
			continue
		}
		for _, rec := range a.Collection.Records {
			var key []string
			for _, pv := range rec.PropertyValues {
				if pv.Property != "Key" || pv.Collection == nil {
					continue
				}
				for _, ref := range pv.Collection.Records {
					for _, refValue := range ref.PropertyValues {
						if refValue.Property == "Name" {
							name := refValue.PropertyPath
							if name == "" {
								name = refValue.String
							}
							key = append(key, name)
						}
					}
				}
			}
			if len(key) > 0 {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

func buildEnum(namespace string, et csdlEnumType) *EnumType {
	t := &EnumType{Namespace: namespace, Name: et.Name, IsFlags: parseBool(et.IsFlags)}
	next := int64(0)
	if t.IsFlags {
		next = 1
	}
	for _, m := range et.Members {
		value := next
		if m.Value != "" {
			if v, err := strconv.ParseInt(m.Value, 10, 64); err == nil {
				value = v
			}
		}
		t.Members = append(t.Members, EnumMember{Name: m.Name, Value: value})
		if t.IsFlags {
			next = value * 2
		} else {
			next = value + 1
		}
	}
	sort.SliceStable(t.Members, func(i, j int) bool { return t.Members[i].Value < t.Members[j].Value })
	return t
}

func termIs(term, name string) bool {
	return term == name || strings.HasSuffix(term, "."+name)
}

func parseBool(s string) bool {
	return strings.EqualFold(s, "true")
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}
