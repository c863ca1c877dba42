package metadata

import (
	"sort"
	"strings"

	"github.com/nlstn/go-odataclient/internal/naming"
	"github.com/nlstn/go-odataclient/internal/oerrors"
)

// EntityCollection is a resolved, named set of entities. Derived (cast)
// collections keep a pointer to the collection they narrow.
type EntityCollection struct {
	Name       string
	EntityType *EntityType
	Singleton  bool
	// Base is set for derived collections such as Products/NS.Discontinued.
	Base *EntityCollection

	set *EntitySet
}

// QualifiedName is "{base}/{qualifiedDerivedType}" for derived collections
// and the plain name otherwise.
func (c *EntityCollection) QualifiedName() string {
	if c.Base != nil {
		return c.Base.QualifiedName() + "/" + c.EntityType.FullName()
	}
	return c.Name
}

// Root returns the outermost non-derived collection.
func (c *EntityCollection) Root() *EntityCollection {
	cur := c
	for cur.Base != nil {
		cur = cur.Base
	}
	return cur
}

// Facade answers the metadata questions the command resolver, request writer
// and response reader ask. Implementations must be safe for concurrent use.
type Facade interface {
	ResolveCollection(name string) (*EntityCollection, error)
	DerivedCollection(base *EntityCollection, derivedName string) (*EntityCollection, error)
	NavigationTarget(c *EntityCollection, link string) (*EntityCollection, *NavigationProperty, error)
	DeclaredKeyNames(c *EntityCollection) []string
	AlternateKeyNames(c *EntityCollection) [][]string
	Property(c *EntityCollection, name string) (*Property, error)
	PropertyType(c *EntityCollection, name string) (TypeRef, error)
	StructuralProperty(t *EntityType, name string) (*Property, bool)
	NavigationProperty(t *EntityType, name string) (*NavigationProperty, bool)
	ComplexType(name string) (*ComplexType, bool)
	EnumType(name string) (*EnumType, bool)
	EntityType(name string) (*EntityType, bool)
	Function(name string) (*Operation, error)
	Action(name, boundTypeName string) (*Operation, error)
	OperationCollection(op *Operation) (*EntityCollection, error)
	QualifiedTypeName(name string) (string, error)
	RequiresConcurrencyCheck(c *EntityCollection) bool
	Version() string
}

// Service is the Model-backed Facade.
type Service struct {
	model    *Model
	resolver naming.Resolver
	types    []*EntityType
}

var _ Facade = (*Service)(nil)

// NewService wraps a parsed model. A nil resolver uses naming.Default.
func NewService(model *Model, resolver naming.Resolver) *Service {
	if resolver == nil {
		resolver = naming.Default
	}
	types := make([]*EntityType, 0, len(model.EntityTypes))
	for _, t := range model.EntityTypes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].FullName() < types[j].FullName() })
	return &Service{model: model, resolver: resolver, types: types}
}

// Model returns the wrapped model.
func (s *Service) Model() *Model { return s.model }

func (s *Service) Version() string { return s.model.Version }

// ResolveCollection finds an entity set or singleton. A name of the form
// "Set/Derived" resolves the set and narrows it in one step.
func (s *Service) ResolveCollection(name string) (*EntityCollection, error) {
	if base, derived, ok := strings.Cut(name, "/"); ok {
		c, err := s.ResolveCollection(base)
		if err != nil {
			return nil, err
		}
		return s.DerivedCollection(c, derived)
	}
	set, ok := naming.BestMatch(s.model.EntitySets, name, func(es *EntitySet) string { return es.Name }, s.resolver)
	if !ok {
		return nil, oerrors.Unresolvable(oerrors.KindCollection, name, "no entity set or singleton with a matching name")
	}
	return collectionFor(set), nil
}

func collectionFor(set *EntitySet) *EntityCollection {
	return &EntityCollection{Name: set.Name, EntityType: set.EntityType, Singleton: set.Singleton, set: set}
}

// DerivedCollection narrows base to one of its derived entity types.
func (s *Service) DerivedCollection(base *EntityCollection, derivedName string) (*EntityCollection, error) {
	candidates := s.model.DerivedTypes(base.EntityType)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].FullName() < candidates[j].FullName() })
	t, ok := naming.BestMatch(candidates, naming.Unqualified(derivedName), func(et *EntityType) string { return et.Name }, s.resolver)
	if !ok {
		return nil, oerrors.Unresolvable(oerrors.KindType, derivedName, "no type deriving from "+base.EntityType.FullName())
	}
	return &EntityCollection{Name: base.Name, EntityType: t, Singleton: base.Singleton, Base: base, set: base.set}, nil
}

// NavigationTarget resolves a navigation property of c to the collection it
// points at. The returned collection is named after the bound entity set
// when the container declares one.
func (s *Service) NavigationTarget(c *EntityCollection, link string) (*EntityCollection, *NavigationProperty, error) {
	nav, ok := s.NavigationProperty(c.EntityType, link)
	if !ok {
		return nil, nil, oerrors.Unresolvable(oerrors.KindNavigation, link, "not a navigation property of "+c.EntityType.FullName())
	}
	target := s.model.EntityTypes[nav.Target]
	if target == nil {
		return nil, nil, oerrors.Unresolvable(oerrors.KindType, nav.Target, "navigation target type is not declared")
	}
	if set := s.boundSet(c, nav, target); set != nil {
		tc := collectionFor(set)
		if set.EntityType != target {
			return &EntityCollection{Name: set.Name, EntityType: target, Base: tc, set: set}, nav, nil
		}
		return tc, nav, nil
	}
	return &EntityCollection{Name: nav.Name, EntityType: target}, nav, nil
}

func (s *Service) boundSet(c *EntityCollection, nav *NavigationProperty, target *EntityType) *EntitySet {
	if c.set != nil {
		if name, ok := c.set.NavigationBindings[nav.Name]; ok {
			for _, es := range s.model.EntitySets {
				if es.Name == lastSegment(name) {
					return es
				}
			}
		}
	}
	// Fall back to the only set holding the target type, or one of its bases.
	for t := target; t != nil; t = t.base {
		if sets := s.model.EntitySetsOfType(t); len(sets) == 1 {
			return sets[0]
		}
	}
	return nil
}

func (s *Service) DeclaredKeyNames(c *EntityCollection) []string {
	return c.EntityType.KeyNames()
}

func (s *Service) AlternateKeyNames(c *EntityCollection) [][]string {
	return c.EntityType.AlternateKeyNames()
}

// Property resolves a structural property of the collection's entity type.
func (s *Service) Property(c *EntityCollection, name string) (*Property, error) {
	if p, ok := s.StructuralProperty(c.EntityType, name); ok {
		return p, nil
	}
	return nil, oerrors.Unresolvable(oerrors.KindProperty, name, "not a property of "+c.EntityType.FullName())
}

func (s *Service) PropertyType(c *EntityCollection, name string) (TypeRef, error) {
	p, err := s.Property(c, name)
	if err != nil {
		return TypeRef{}, err
	}
	return p.Type, nil
}

func (s *Service) StructuralProperty(t *EntityType, name string) (*Property, bool) {
	return naming.BestMatch(t.AllProperties(), name, func(p *Property) string { return p.Name }, s.resolver)
}

func (s *Service) NavigationProperty(t *EntityType, name string) (*NavigationProperty, bool) {
	return naming.BestMatch(t.AllNavigationProperties(), name, func(n *NavigationProperty) string { return n.Name }, s.resolver)
}

func (s *Service) ComplexType(name string) (*ComplexType, bool) {
	t, ok := s.model.ComplexTypes[name]
	return t, ok
}

func (s *Service) EnumType(name string) (*EnumType, bool) {
	t, ok := s.model.EnumTypes[name]
	return t, ok
}

// EntityType looks up an entity type by qualified or unqualified name.
func (s *Service) EntityType(name string) (*EntityType, bool) {
	name = strings.TrimPrefix(name, "#")
	if t, ok := s.model.EntityTypes[name]; ok {
		return t, true
	}
	return naming.BestMatch(s.types, naming.Unqualified(name), func(t *EntityType) string { return t.Name }, naming.Exact)
}

// Function finds a function by name, including V2/V3 function imports.
func (s *Service) Function(name string) (*Operation, error) {
	op, ok := s.operation(name, false, "")
	if !ok {
		return nil, oerrors.Unresolvable(oerrors.KindFunction, name, "no function with a matching name")
	}
	return op, nil
}

// Action finds an action by name. When boundTypeName is set the overload
// whose binding parameter type matches it wins; otherwise an unbound
// overload is preferred.
func (s *Service) Action(name, boundTypeName string) (*Operation, error) {
	op, ok := s.operation(name, true, boundTypeName)
	if !ok {
		return nil, oerrors.Unresolvable(oerrors.KindAction, name, "no action with a matching name")
	}
	return op, nil
}

func (s *Service) operation(name string, isAction bool, boundTypeName string) (*Operation, bool) {
	name = naming.Unqualified(name)
	var candidates []*Operation
	for _, op := range s.model.Operations {
		if op.IsAction == isAction {
			candidates = append(candidates, op)
		}
	}
	first, ok := naming.BestMatch(candidates, name, operationName, s.resolver)
	if !ok {
		return nil, false
	}

	var overloads []*Operation
	for _, op := range candidates {
		if operationName(op) == operationName(first) {
			overloads = append(overloads, op)
		}
	}
	if boundTypeName != "" {
		for _, op := range overloads {
			if bp := op.BindingParameter(); bp != nil && typeNameMatches(bp.Type.Name, boundTypeName) {
				return op, true
			}
		}
	}
	for _, op := range overloads {
		if !op.IsBound {
			return op, true
		}
	}
	return first, true
}

func operationName(op *Operation) string {
	if op.ImportName != "" {
		return op.ImportName
	}
	return op.Name
}

func typeNameMatches(declared, requested string) bool {
	return declared == requested || naming.Unqualified(declared) == naming.Unqualified(requested)
}

// OperationCollection returns the entity collection an operation returns
// entities from, used to bind filters on function results.
func (s *Service) OperationCollection(op *Operation) (*EntityCollection, error) {
	if op.EntitySet != "" {
		return s.ResolveCollection(op.EntitySet)
	}
	if op.ReturnType != nil && op.ReturnType.Kind == KindEntity {
		t := s.model.EntityTypes[op.ReturnType.Name]
		for cur := t; cur != nil; cur = cur.base {
			if sets := s.model.EntitySetsOfType(cur); len(sets) > 0 {
				c := collectionFor(sets[0])
				if cur != t {
					return &EntityCollection{Name: c.Name, EntityType: t, Base: c, set: sets[0]}, nil
				}
				return c, nil
			}
		}
		if t != nil {
			return &EntityCollection{Name: t.Name, EntityType: t}, nil
		}
	}
	return nil, oerrors.Unresolvable(oerrors.KindCollection, op.Name, "operation does not return entities")
}

// QualifiedTypeName resolves an entity, complex or enum type name.
func (s *Service) QualifiedTypeName(name string) (string, error) {
	if s.model.kindOf(name) != KindUnknown {
		return name, nil
	}
	var names []string
	for n := range s.model.EntityTypes {
		names = append(names, n)
	}
	for n := range s.model.ComplexTypes {
		names = append(names, n)
	}
	for n := range s.model.EnumTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	short := naming.Unqualified(name)
	if match, ok := naming.BestMatch(names, short, naming.Unqualified, s.resolver); ok {
		return match, nil
	}
	return "", oerrors.Unresolvable(oerrors.KindType, name, "no type with a matching name")
}

func (s *Service) RequiresConcurrencyCheck(c *EntityCollection) bool {
	root := c.Root()
	if root.set != nil {
		return root.set.OptimisticConcurrency
	}
	return c.EntityType.hasConcurrencyProperty()
}
