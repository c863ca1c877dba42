// Package filter builds $filter expressions as trees and formats them
// against service metadata, so property names are checked and corrected
// before a request leaves the client.
package filter

import (
	"strings"

	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/naming"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

// Context carries what formatting needs to bind names.
type Context struct {
	Facade     metadata.Facade
	Collection *metadata.EntityCollection
	Adapter    *protocol.Adapter
	// Lambda variables in scope, mapped to the collection they range over.
	variables map[string]*metadata.EntityCollection
}

// Expr is a filter expression node.
type Expr interface {
	format(ctx *Context) (string, error)
}

// Format renders e as $filter text.
func Format(e Expr, ctx Context) (string, error) {
	if e == nil {
		return "", nil
	}
	if ctx.Adapter == nil {
		ctx.Adapter = protocol.MustFor(protocol.V4)
	}
	return e.format(&ctx)
}

// Op is a binary operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGe  Op = "ge"
	OpLt  Op = "lt"
	OpLe  Op = "le"
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"
	OpMod Op = "mod"
)

func (o Op) precedence() int {
	switch o {
	case OpOr:
		return 1
	case OpAnd:
		return 2
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		return 3
	case OpAdd, OpSub:
		return 4
	default:
		return 5
	}
}

// PropertyExpr references a property path such as "Category/CategoryName".
type PropertyExpr struct {
	Path string
}

// Prop references a property path. Segments are separated by '/'.
func Prop(path string) PropertyExpr { return PropertyExpr{Path: path} }

func (p PropertyExpr) format(ctx *Context) (string, error) {
	segments := strings.Split(p.Path, "/")
	if ctx.Facade == nil || ctx.Collection == nil {
		return p.Path, nil
	}

	current := ctx.Collection
	out := make([]string, 0, len(segments))
	start := 0
	if c, ok := ctx.variables[segments[0]]; ok {
		current = c
		out = append(out, segments[0])
		start = 1
	}

	var complexType *metadata.ComplexType
	for i := start; i < len(segments); i++ {
		seg := segments[i]
		if complexType != nil {
			prop, ok := naming.BestMatch(complexType.AllProperties(), seg, func(p *metadata.Property) string { return p.Name }, nil)
			if !ok {
				return "", oerrors.Unresolvable(oerrors.KindProperty, seg, "not a property of "+complexType.FullName())
			}
			out = append(out, prop.Name)
			complexType = nextComplex(ctx, prop)
			continue
		}
		if prop, ok := ctx.Facade.StructuralProperty(current.EntityType, seg); ok {
			out = append(out, prop.Name)
			complexType = nextComplex(ctx, prop)
			continue
		}
		if target, nav, err := ctx.Facade.NavigationTarget(current, seg); err == nil {
			out = append(out, nav.Name)
			current = target
			continue
		}
		if current.EntityType.IsOpen() && i == len(segments)-1 {
			out = append(out, seg)
			continue
		}
		// A segment naming a derived type casts the rest of the path.
		if derived, err := ctx.Facade.DerivedCollection(current, seg); err == nil {
			out = append(out, derived.EntityType.FullName())
			current = derived
			continue
		}
		return "", oerrors.Unresolvable(oerrors.KindProperty, seg, "not a property of "+current.EntityType.FullName())
	}
	return strings.Join(out, "/"), nil
}

func nextComplex(ctx *Context, p *metadata.Property) *metadata.ComplexType {
	if p.Type.Kind != metadata.KindComplex {
		return nil
	}
	ct, _ := ctx.Facade.ComplexType(p.Type.Name)
	return ct
}

// LiteralExpr is a constant value.
type LiteralExpr struct {
	Value any
}

// Lit wraps a constant value.
func Lit(v any) LiteralExpr { return LiteralExpr{Value: v} }

func (l LiteralExpr) format(ctx *Context) (string, error) {
	return ctx.Adapter.FormatLiteral(l.Value)
}

// BinaryExpr combines two operands.
type BinaryExpr struct {
	Op          Op
	Left, Right Expr
}

func (b BinaryExpr) format(ctx *Context) (string, error) {
	left, err := b.Left.format(ctx)
	if err != nil {
		return "", err
	}
	right, err := b.Right.format(ctx)
	if err != nil {
		return "", err
	}
	if lb, ok := b.Left.(BinaryExpr); ok && lb.Op.precedence() < b.Op.precedence() {
		left = "(" + left + ")"
	}
	if rb, ok := b.Right.(BinaryExpr); ok {
		p, parent := rb.Op.precedence(), b.Op.precedence()
		if p < parent || (p == parent && (b.Op == OpSub || b.Op == OpDiv || b.Op == OpMod)) {
			right = "(" + right + ")"
		}
	}
	return left + " " + string(b.Op) + " " + right, nil
}

func binary(op Op, l, r Expr) BinaryExpr { return BinaryExpr{Op: op, Left: l, Right: r} }

func Eq(l, r Expr) BinaryExpr  { return binary(OpEq, l, r) }
func Ne(l, r Expr) BinaryExpr  { return binary(OpNe, l, r) }
func Gt(l, r Expr) BinaryExpr  { return binary(OpGt, l, r) }
func Ge(l, r Expr) BinaryExpr  { return binary(OpGe, l, r) }
func Lt(l, r Expr) BinaryExpr  { return binary(OpLt, l, r) }
func Le(l, r Expr) BinaryExpr  { return binary(OpLe, l, r) }
func Add(l, r Expr) BinaryExpr { return binary(OpAdd, l, r) }
func Sub(l, r Expr) BinaryExpr { return binary(OpSub, l, r) }
func Mul(l, r Expr) BinaryExpr { return binary(OpMul, l, r) }
func Div(l, r Expr) BinaryExpr { return binary(OpDiv, l, r) }
func Mod(l, r Expr) BinaryExpr { return binary(OpMod, l, r) }

// And joins the operands with "and". A single operand is returned as is.
func And(exprs ...Expr) Expr { return fold(OpAnd, exprs) }

// Or joins the operands with "or".
func Or(exprs ...Expr) Expr { return fold(OpOr, exprs) }

func fold(op Op, exprs []Expr) Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = binary(op, out, e)
	}
	return out
}

// NotExpr negates its operand.
type NotExpr struct {
	Operand Expr
}

func Not(e Expr) NotExpr { return NotExpr{Operand: e} }

func (n NotExpr) format(ctx *Context) (string, error) {
	inner, err := n.Operand.format(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := n.Operand.(BinaryExpr); ok {
		inner = "(" + inner + ")"
	}
	return "not " + inner, nil
}

// CallExpr is a canonical function call such as startswith(Name,'A').
type CallExpr struct {
	Name string
	Args []Expr
}

// Call builds a canonical function call.
func Call(name string, args ...Expr) CallExpr { return CallExpr{Name: name, Args: args} }

// Contains tests whether haystack contains needle. Before V4 this is
// written as substringof(needle,haystack).
func Contains(haystack, needle Expr) CallExpr {
	return CallExpr{Name: "contains", Args: []Expr{haystack, needle}}
}

func StartsWith(s, prefix Expr) CallExpr { return Call("startswith", s, prefix) }
func EndsWith(s, suffix Expr) CallExpr   { return Call("endswith", s, suffix) }
func ToLower(s Expr) CallExpr            { return Call("tolower", s) }
func ToUpper(s Expr) CallExpr            { return Call("toupper", s) }
func Length(s Expr) CallExpr             { return Call("length", s) }
func Year(d Expr) CallExpr               { return Call("year", d) }

func (c CallExpr) format(ctx *Context) (string, error) {
	name, args := c.Name, c.Args
	if name == "contains" && ctx.Adapter.Version != protocol.V4 && len(args) == 2 {
		name, args = "substringof", []Expr{args[1], args[0]}
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		s, err := a.format(ctx)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return name + "(" + strings.Join(parts, ",") + ")", nil
}

// IsOfExpr is a type test. With no operand it constrains the entity itself
// and can replace a derived-collection cast.
type IsOfExpr struct {
	Operand  Expr
	TypeName string
}

// IsOf tests the type of the current entity.
func IsOf(typeName string) IsOfExpr { return IsOfExpr{TypeName: typeName} }

func (i IsOfExpr) format(ctx *Context) (string, error) {
	name := i.TypeName
	if ctx.Facade != nil {
		q, err := ctx.Facade.QualifiedTypeName(name)
		if err != nil {
			return "", err
		}
		name = q
	}
	if ctx.Adapter.Version != protocol.V4 {
		name = "'" + name + "'"
	}
	if i.Operand == nil {
		return "isof(" + name + ")", nil
	}
	operand, err := i.Operand.format(ctx)
	if err != nil {
		return "", err
	}
	return "isof(" + operand + "," + name + ")", nil
}

// LambdaExpr is an any/all expression over a collection navigation.
type LambdaExpr struct {
	Kind      string
	Path      string
	Variable  string
	Predicate Expr
}

// Any builds Path/any(v:predicate). A nil predicate tests for non-emptiness.
func Any(path, variable string, predicate Expr) LambdaExpr {
	return LambdaExpr{Kind: "any", Path: path, Variable: variable, Predicate: predicate}
}

// All builds Path/all(v:predicate).
func All(path, variable string, predicate Expr) LambdaExpr {
	return LambdaExpr{Kind: "all", Path: path, Variable: variable, Predicate: predicate}
}

func (l LambdaExpr) format(ctx *Context) (string, error) {
	if ctx.Adapter.Version != protocol.V4 {
		return "", oerrors.NotSupported("%s lambda operator before OData V4", l.Kind)
	}
	path, err := Prop(l.Path).format(ctx)
	if err != nil {
		return "", err
	}
	if l.Predicate == nil {
		return path + "/" + l.Kind + "()", nil
	}

	inner := *ctx
	inner.variables = make(map[string]*metadata.EntityCollection, len(ctx.variables)+1)
	for k, v := range ctx.variables {
		inner.variables[k] = v
	}
	if ctx.Facade != nil && ctx.Collection != nil {
		target := ctx.Collection
		for _, seg := range strings.Split(l.Path, "/") {
			next, _, err := ctx.Facade.NavigationTarget(target, seg)
			if err != nil {
				return "", err
			}
			target = next
		}
		inner.variables[l.Variable] = target
	}
	pred, err := l.Predicate.format(&inner)
	if err != nil {
		return "", err
	}
	return path + "/" + l.Kind + "(" + l.Variable + ":" + pred + ")", nil
}

// RawExpr is pre-formatted filter text passed through untouched.
type RawExpr string

func Raw(text string) RawExpr { return RawExpr(text) }

func (r RawExpr) format(*Context) (string, error) { return string(r), nil }
