package odata

import "github.com/nlstn/go-odataclient/internal/filter"

// Expr is a $filter expression. Property names inside are matched against
// the metadata of the command's collection when the request is built.
type Expr = filter.Expr

// Prop references a property path such as "Category/CategoryName".
func Prop(path string) Expr { return filter.Prop(path) }

// Lit wraps a constant.
func Lit(v any) Expr { return filter.Lit(v) }

// Raw passes pre-formatted filter text through untouched.
func Raw(text string) Expr { return filter.Raw(text) }

func Eq(l, r Expr) Expr  { return filter.Eq(l, r) }
func Ne(l, r Expr) Expr  { return filter.Ne(l, r) }
func Gt(l, r Expr) Expr  { return filter.Gt(l, r) }
func Ge(l, r Expr) Expr  { return filter.Ge(l, r) }
func Lt(l, r Expr) Expr  { return filter.Lt(l, r) }
func Le(l, r Expr) Expr  { return filter.Le(l, r) }
func Add(l, r Expr) Expr { return filter.Add(l, r) }
func Sub(l, r Expr) Expr { return filter.Sub(l, r) }
func Mul(l, r Expr) Expr { return filter.Mul(l, r) }
func Div(l, r Expr) Expr { return filter.Div(l, r) }
func Mod(l, r Expr) Expr { return filter.Mod(l, r) }

// And joins the operands with "and".
func And(exprs ...Expr) Expr { return filter.And(exprs...) }

// Or joins the operands with "or".
func Or(exprs ...Expr) Expr { return filter.Or(exprs...) }

func Not(e Expr) Expr { return filter.Not(e) }

// Call builds a canonical function call such as round(UnitPrice).
func Call(name string, args ...Expr) Expr { return filter.Call(name, args...) }

// Contains is written substringof(needle,haystack) before V4.
func Contains(haystack, needle Expr) Expr { return filter.Contains(haystack, needle) }

func StartsWith(s, prefix Expr) Expr { return filter.StartsWith(s, prefix) }
func EndsWith(s, suffix Expr) Expr   { return filter.EndsWith(s, suffix) }
func ToLower(s Expr) Expr            { return filter.ToLower(s) }
func ToUpper(s Expr) Expr            { return filter.ToUpper(s) }
func Length(s Expr) Expr             { return filter.Length(s) }
func Year(d Expr) Expr               { return filter.Year(d) }

// IsOf constrains the entity type. On a derived collection it replaces the
// type cast segment.
func IsOf(typeName string) Expr { return filter.IsOf(typeName) }

// Any builds path/any(variable:predicate). V4 only.
func Any(path, variable string, predicate Expr) Expr { return filter.Any(path, variable, predicate) }

// All builds path/all(variable:predicate). V4 only.
func All(path, variable string, predicate Expr) Expr { return filter.All(path, variable, predicate) }
