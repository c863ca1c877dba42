package metadata

import (
	"strings"
)

// TypeKind classifies the EDM type a property or parameter refers to.
type TypeKind int

const (
	KindUnknown TypeKind = iota
	KindPrimitive
	KindComplex
	KindEnum
	KindEntity
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindComplex:
		return "complex"
	case KindEnum:
		return "enum"
	case KindEntity:
		return "entity"
	default:
		return "unknown"
	}
}

// TypeRef is a reference to an EDM type, e.g. Edm.Int32 or Collection(NS.Address).
type TypeRef struct {
	// Name is the qualified element type name without the Collection() wrapper.
	Name       string
	Collection bool
	Kind       TypeKind
	Nullable   bool
}

// ParseTypeRef splits a CSDL type expression into element name and collection flag.
func ParseTypeRef(expr string) TypeRef {
	expr = strings.TrimSpace(expr)
	ref := TypeRef{Name: expr, Nullable: true}
	if strings.HasPrefix(expr, "Collection(") && strings.HasSuffix(expr, ")") {
		ref.Name = expr[len("Collection(") : len(expr)-1]
		ref.Collection = true
	}
	if strings.HasPrefix(ref.Name, "Edm.") {
		ref.Kind = KindPrimitive
	}
	return ref
}

// String renders the type back into CSDL notation.
func (t TypeRef) String() string {
	if t.Collection {
		return "Collection(" + t.Name + ")"
	}
	return t.Name
}

// IsStream reports whether the type is Edm.Stream.
func (t TypeRef) IsStream() bool { return t.Name == "Edm.Stream" }

// IsSpatial reports whether the type is one of the Edm.Geography/Edm.Geometry kinds.
func (t TypeRef) IsSpatial() bool {
	return strings.HasPrefix(t.Name, "Edm.Geography") || strings.HasPrefix(t.Name, "Edm.Geometry")
}

// Property is a structural property of an entity or complex type.
type Property struct {
	Name string
	Type TypeRef
	// Concurrency is set for V2/V3 properties declared with ConcurrencyMode="Fixed".
	Concurrency bool
}

// NavigationProperty links an entity type to another entity type.
type NavigationProperty struct {
	Name string
	// Target is the qualified name of the target entity type.
	Target     string
	Collection bool
	Partner    string

	relationship     string
	fromRole, toRole string
}

// EntityType describes an entity type and its inheritance chain.
type EntityType struct {
	Namespace            string
	Name                 string
	BaseType             string
	Abstract             bool
	OpenType             bool
	HasStream            bool
	Key                  []string
	AlternateKeys        [][]string
	Properties           []*Property
	NavigationProperties []*NavigationProperty

	base *EntityType
}

// FullName returns Namespace.Name.
func (t *EntityType) FullName() string { return qualify(t.Namespace, t.Name) }

// Base returns the resolved base type, or nil.
func (t *EntityType) Base() *EntityType { return t.base }

// KeyNames returns the declared key, walking up the inheritance chain when
// the type itself declares none.
func (t *EntityType) KeyNames() []string {
	for cur := t; cur != nil; cur = cur.base {
		if len(cur.Key) > 0 {
			return cur.Key
		}
	}
	return nil
}

// AlternateKeyNames returns the alternate keys declared on the type or its bases.
func (t *EntityType) AlternateKeyNames() [][]string {
	var keys [][]string
	for cur := t; cur != nil; cur = cur.base {
		keys = append(keys, cur.AlternateKeys...)
	}
	return keys
}

// AllProperties returns inherited properties first, then the type's own.
func (t *EntityType) AllProperties() []*Property {
	if t.base == nil {
		return t.Properties
	}
	return append(append([]*Property{}, t.base.AllProperties()...), t.Properties...)
}

// AllNavigationProperties returns inherited navigation properties first.
func (t *EntityType) AllNavigationProperties() []*NavigationProperty {
	if t.base == nil {
		return t.NavigationProperties
	}
	return append(append([]*NavigationProperty{}, t.base.AllNavigationProperties()...), t.NavigationProperties...)
}

// IsOpen reports whether the type or any base is an open type.
func (t *EntityType) IsOpen() bool {
	for cur := t; cur != nil; cur = cur.base {
		if cur.OpenType {
			return true
		}
	}
	return false
}

// DerivesFrom reports whether t equals other or inherits from it.
func (t *EntityType) DerivesFrom(other *EntityType) bool {
	for cur := t; cur != nil; cur = cur.base {
		if cur == other {
			return true
		}
	}
	return false
}

func (t *EntityType) hasConcurrencyProperty() bool {
	for _, p := range t.AllProperties() {
		if p.Concurrency {
			return true
		}
	}
	return false
}

// ComplexType describes a structured type without identity.
type ComplexType struct {
	Namespace  string
	Name       string
	BaseType   string
	OpenType   bool
	Properties []*Property

	base *ComplexType
}

func (t *ComplexType) FullName() string { return qualify(t.Namespace, t.Name) }

// AllProperties returns inherited properties first, then the type's own.
func (t *ComplexType) AllProperties() []*Property {
	if t.base == nil {
		return t.Properties
	}
	return append(append([]*Property{}, t.base.AllProperties()...), t.Properties...)
}

// EnumMember is a named enum value.
type EnumMember struct {
	Name  string
	Value int64
}

// EnumType describes an enumeration.
type EnumType struct {
	Namespace string
	Name      string
	IsFlags   bool
	Members   []EnumMember
}

func (t *EnumType) FullName() string { return qualify(t.Namespace, t.Name) }

// MemberByValue finds the member with the given underlying value.
func (t *EnumType) MemberByValue(v int64) (EnumMember, bool) {
	for _, m := range t.Members {
		if m.Value == v {
			return m, true
		}
	}
	return EnumMember{}, false
}

// Parameter is a function or action parameter.
type Parameter struct {
	Name string
	Type TypeRef
}

// Operation is a function or an action, bound or unbound. V2/V3 function
// imports are mapped onto the same type.
type Operation struct {
	Namespace  string
	Name       string
	IsAction   bool
	IsBound    bool
	Parameters []*Parameter
	ReturnType *TypeRef
	// EntitySet is the entity set the operation returns into, when declared.
	EntitySet string
	// ImportName is the name used to address an unbound operation through
	// the entity container.
	ImportName string
	// HTTPMethod is the verb declared by V2 service operations.
	HTTPMethod string
}

func (o *Operation) FullName() string { return qualify(o.Namespace, o.Name) }

// BindingParameter returns the first parameter of a bound operation.
func (o *Operation) BindingParameter() *Parameter {
	if !o.IsBound || len(o.Parameters) == 0 {
		return nil
	}
	return o.Parameters[0]
}

// NonBindingParameters returns the parameters a caller supplies values for.
func (o *Operation) NonBindingParameters() []*Parameter {
	if o.IsBound && len(o.Parameters) > 0 {
		return o.Parameters[1:]
	}
	return o.Parameters
}

// EntitySet is an entity set or a singleton of the entity container.
type EntitySet struct {
	Name       string
	EntityType *EntityType
	Singleton  bool
	// NavigationBindings maps navigation property paths to target entity set names.
	NavigationBindings map[string]string
	// OptimisticConcurrency is set when the set declares Core.OptimisticConcurrency.
	OptimisticConcurrency bool
}

// Model is a parsed service metadata document.
type Model struct {
	// Version is the OData protocol version declared by the document, e.g. "4.0".
	Version       string
	ContainerName string
	Namespaces    []string
	EntityTypes   map[string]*EntityType
	ComplexTypes  map[string]*ComplexType
	EnumTypes     map[string]*EnumType
	Operations    []*Operation
	EntitySets    []*EntitySet
}

func newModel() *Model {
	return &Model{
		EntityTypes:  make(map[string]*EntityType),
		ComplexTypes: make(map[string]*ComplexType),
		EnumTypes:    make(map[string]*EnumType),
	}
}

// EntitySetsOfType returns the sets whose element type is exactly t.
func (m *Model) EntitySetsOfType(t *EntityType) []*EntitySet {
	var sets []*EntitySet
	for _, s := range m.EntitySets {
		if s.EntityType == t {
			sets = append(sets, s)
		}
	}
	return sets
}

// DerivedTypes returns every entity type inheriting from t, t excluded.
func (m *Model) DerivedTypes(t *EntityType) []*EntityType {
	var derived []*EntityType
	for _, et := range m.EntityTypes {
		if et != t && et.DerivesFrom(t) {
			derived = append(derived, et)
		}
	}
	return derived
}

// kindOf classifies a qualified type name against the model.
func (m *Model) kindOf(name string) TypeKind {
	switch {
	case strings.HasPrefix(name, "Edm."):
		return KindPrimitive
	case m.ComplexTypes[name] != nil:
		return KindComplex
	case m.EnumTypes[name] != nil:
		return KindEnum
	case m.EntityTypes[name] != nil:
		return KindEntity
	default:
		return KindUnknown
	}
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}
