// Package naming matches user-supplied names against metadata names.
//
// Every metadata lookup in the client funnels through BestMatch so that
// collection, property and operation names are resolved with one policy.
package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/cases"
)

// Resolver decides whether a requested name refers to an actual metadata name.
type Resolver interface {
	IsMatch(actual, requested string) bool
}

// ResolverFunc adapts an ordinary function to the Resolver interface.
type ResolverFunc func(actual, requested string) bool

// IsMatch calls f(actual, requested).
func (f ResolverFunc) IsMatch(actual, requested string) bool {
	return f(actual, requested)
}

var (
	// Exact only accepts identical names.
	Exact Resolver = ResolverFunc(func(actual, requested string) bool {
		return actual == requested
	})

	// CaseInsensitive accepts names that are equal under Unicode case folding.
	CaseInsensitive Resolver = ResolverFunc(func(actual, requested string) bool {
		return fold(actual) == fold(requested)
	})

	// Pluralizing accepts case-insensitive matches and singular/plural variants
	// of the same word, so "Product", "products" and "Products" all match.
	Pluralizing Resolver = ResolverFunc(func(actual, requested string) bool {
		a, r := fold(actual), fold(requested)
		if a == r {
			return true
		}
		return inflection.Singular(a) == inflection.Singular(r) ||
			inflection.Plural(a) == inflection.Plural(r)
	})
)

// Default is the resolver used when none is configured.
var Default = Pluralizing

func fold(s string) string {
	// Casers keep state and must not be shared between goroutines.
	return cases.Fold().String(strings.ReplaceAll(s, "_", ""))
}

// BestMatch returns the candidate whose name matches name. An exact match
// always wins; otherwise the first candidate accepted by the resolver is
// returned. A nil resolver means Default.
func BestMatch[T any](candidates []T, name string, nameOf func(T) string, r Resolver) (T, bool) {
	var zero T
	if name == "" {
		return zero, false
	}
	for _, c := range candidates {
		if nameOf(c) == name {
			return c, true
		}
	}
	if r == nil {
		r = Default
	}
	for _, c := range candidates {
		if r.IsMatch(nameOf(c), name) {
			return c, true
		}
	}
	return zero, false
}

// BestMatchString is BestMatch over plain strings.
func BestMatchString(candidates []string, name string, r Resolver) (string, bool) {
	return BestMatch(candidates, name, func(s string) string { return s }, r)
}

// Equal reports whether two names match under r.
func Equal(actual, requested string, r Resolver) bool {
	if actual == requested {
		return true
	}
	if r == nil {
		r = Default
	}
	return r.IsMatch(actual, requested)
}

// Unqualified strips a namespace prefix from a qualified name such as
// "NorthwindModel.Product".
func Unqualified(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
