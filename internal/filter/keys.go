package filter

import "strings"

// KeyValues reports whether e is a conjunction of equalities between plain
// property names and literals, and returns the compared values by property
// name. Such a filter addresses a single entity when its names form a key.
// Disjunctions, negations, repeated names and navigation paths are never
// key-like.
func KeyValues(e Expr) (map[string]any, bool) {
	out := map[string]any{}
	if !collectKeyValues(e, out) || len(out) == 0 {
		return nil, false
	}
	return out, true
}

func collectKeyValues(e Expr, out map[string]any) bool {
	b, ok := e.(BinaryExpr)
	if !ok {
		return false
	}
	switch b.Op {
	case OpAnd:
		return collectKeyValues(b.Left, out) && collectKeyValues(b.Right, out)
	case OpEq:
		prop, lit, ok := propertyAndLiteral(b.Left, b.Right)
		if !ok || strings.Contains(prop.Path, "/") {
			return false
		}
		if _, dup := out[prop.Path]; dup {
			return false
		}
		out[prop.Path] = lit.Value
		return true
	default:
		return false
	}
}

func propertyAndLiteral(l, r Expr) (PropertyExpr, LiteralExpr, bool) {
	if p, ok := l.(PropertyExpr); ok {
		if v, ok := r.(LiteralExpr); ok {
			return p, v, true
		}
	}
	if p, ok := r.(PropertyExpr); ok {
		if v, ok := l.(LiteralExpr); ok {
			return p, v, true
		}
	}
	return PropertyExpr{}, LiteralExpr{}, false
}

// TypeConstraint returns the type named by an operand-less isof() found in
// the top-level conjunction of e, along with e minus that term.
func TypeConstraint(e Expr) (typeName string, rest Expr, ok bool) {
	switch x := e.(type) {
	case IsOfExpr:
		if x.Operand == nil {
			return x.TypeName, nil, true
		}
	case BinaryExpr:
		if x.Op != OpAnd {
			return "", e, false
		}
		if name, left, ok := TypeConstraint(x.Left); ok {
			return name, join(left, x.Right), true
		}
		if name, right, ok := TypeConstraint(x.Right); ok {
			return name, join(x.Left, right), true
		}
	}
	return "", e, false
}

func join(l, r Expr) Expr {
	switch {
	case l == nil:
		return r
	case r == nil:
		return l
	default:
		return binary(OpAnd, l, r)
	}
}
