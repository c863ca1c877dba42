package filter

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/naming"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
	"github.com/nlstn/go-odataclient/internal/testfixtures"
)

func productsContext(t *testing.T, v protocol.Version) Context {
	t.Helper()
	model, err := metadata.Parse(strings.NewReader(testfixtures.NorthwindV4))
	if err != nil {
		t.Fatalf("Failed to parse metadata: %v", err)
	}
	svc := metadata.NewService(model, naming.Pluralizing)
	products, err := svc.ResolveCollection("Products")
	if err != nil {
		t.Fatalf("Failed to resolve Products: %v", err)
	}
	return Context{Facade: svc, Collection: products, Adapter: protocol.MustFor(v)}
}

func TestFormat(t *testing.T) {
	ctx := productsContext(t, protocol.V4)

	tests := []struct {
		name string
		expr Expr
		want string
	}{
		{"equality", Eq(Prop("productName"), Lit("Chai")), "ProductName eq 'Chai'"},
		{"navigation path", Eq(Prop("category/categoryName"), Lit("Beverages")), "Category/CategoryName eq 'Beverages'"},
		{"and binds tighter than or",
			Or(Eq(Prop("ProductID"), Lit(1)), And(Eq(Prop("ProductID"), Lit(2)), Prop("Discontinued"))),
			"ProductID eq 1 or ProductID eq 2 and Discontinued"},
		{"or inside and",
			And(Or(Eq(Prop("ProductID"), Lit(1)), Eq(Prop("ProductID"), Lit(2))), Prop("Discontinued")),
			"(ProductID eq 1 or ProductID eq 2) and Discontinued"},
		{"arithmetic", Gt(Mul(Prop("UnitPrice"), Lit(2)), Lit(10)), "UnitPrice mul 2 gt 10"},
		{"right-nested subtraction", Sub(Lit(10), Sub(Prop("UnitPrice"), Lit(1))), "10 sub (UnitPrice sub 1)"},
		{"not", Not(Eq(Prop("Discontinued"), Lit(true))), "not (Discontinued eq true)"},
		{"contains", Contains(Prop("ProductName"), Lit("ha")), "contains(ProductName,'ha')"},
		{"startswith", StartsWith(ToLower(Prop("productname")), Lit("c")), "startswith(tolower(ProductName),'c')"},
		{"isof", IsOf("DiscontinuedProduct"), "isof(NorthwindModel.DiscontinuedProduct)"},
		{"raw", Raw("Price gt 5"), "Price gt 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.expr, ctx)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFormatVersionDifferences(t *testing.T) {
	ctx := productsContext(t, protocol.V3)

	got, err := Format(Contains(Prop("ProductName"), Lit("ha")), ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "substringof('ha',ProductName)" {
		t.Errorf("Expected substringof form, got %q", got)
	}

	got, err = Format(IsOf("DiscontinuedProduct"), ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "isof('NorthwindModel.DiscontinuedProduct')" {
		t.Errorf("Expected quoted type name, got %q", got)
	}

	_, err = Format(Any("Tags", "t", Eq(Prop("t"), Lit("x"))), ctx)
	if !errors.Is(err, oerrors.ErrNotSupported) {
		t.Errorf("Expected lambda to be unsupported before V4, got %v", err)
	}
}

func TestFormatLambda(t *testing.T) {
	model, err := metadata.Parse(strings.NewReader(testfixtures.NorthwindV4))
	if err != nil {
		t.Fatalf("Failed to parse metadata: %v", err)
	}
	svc := metadata.NewService(model, nil)
	categories, _ := svc.ResolveCollection("Categories")
	ctx := Context{Facade: svc, Collection: categories, Adapter: protocol.MustFor(protocol.V4)}

	got, err := Format(Any("products", "p", Gt(Prop("p/unitPrice"), Lit(20))), ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "Products/any(p:p/UnitPrice gt 20)" {
		t.Errorf("Expected lambda with corrected names, got %q", got)
	}

	got, err = Format(Any("Products", "", nil), ctx)
	if err != nil || got != "Products/any()" {
		t.Errorf("Expected empty any, got %q (%v)", got, err)
	}
}

func TestFormatUnknownProperty(t *testing.T) {
	ctx := productsContext(t, protocol.V4)
	_, err := Format(Eq(Prop("Weight"), Lit(1)), ctx)
	var unresolvable *oerrors.UnresolvableObjectError
	if !errors.As(err, &unresolvable) {
		t.Fatalf("Expected unresolvable error, got %v", err)
	}
	if unresolvable.Name != "Weight" {
		t.Errorf("Expected Weight to be reported, got %q", unresolvable.Name)
	}
}

func TestFormatWithoutMetadata(t *testing.T) {
	got, err := Format(Eq(Prop("anything"), Lit(3)), Context{})
	if err != nil || got != "anything eq 3" {
		t.Errorf("Expected names to pass through, got %q (%v)", got, err)
	}
}

func TestKeyValues(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want map[string]any
		ok   bool
	}{
		{"single equality", Eq(Prop("ProductID"), Lit(1)), map[string]any{"ProductID": 1}, true},
		{"reversed operands", Eq(Lit(1), Prop("ProductID")), map[string]any{"ProductID": 1}, true},
		{"conjunction",
			And(Eq(Prop("OrderID"), Lit(10)), Eq(Prop("ProductID"), Lit(2))),
			map[string]any{"OrderID": 10, "ProductID": 2}, true},
		{"disjunction", Or(Eq(Prop("ProductID"), Lit(1)), Eq(Prop("ProductID"), Lit(2))), nil, false},
		{"comparison", Gt(Prop("ProductID"), Lit(1)), nil, false},
		{"repeated name", And(Eq(Prop("ProductID"), Lit(1)), Eq(Prop("ProductID"), Lit(2))), nil, false},
		{"navigation path", Eq(Prop("Category/CategoryID"), Lit(1)), nil, false},
		{"negation", Not(Eq(Prop("ProductID"), Lit(1))), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KeyValues(tt.expr)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if tt.ok && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTypeConstraint(t *testing.T) {
	name, rest, ok := TypeConstraint(And(IsOf("DiscontinuedProduct"), Eq(Prop("ProductID"), Lit(1))))
	if !ok || name != "DiscontinuedProduct" {
		t.Fatalf("Expected DiscontinuedProduct constraint, got %q (%v)", name, ok)
	}
	if !reflect.DeepEqual(rest, Eq(Prop("ProductID"), Lit(1))) {
		t.Errorf("Expected remaining equality, got %#v", rest)
	}

	if _, _, ok := TypeConstraint(Or(IsOf("DiscontinuedProduct"), Prop("Discontinued"))); ok {
		t.Error("Expected no constraint inside a disjunction")
	}

	name, rest, ok = TypeConstraint(IsOf("DiscontinuedProduct"))
	if !ok || rest != nil || name != "DiscontinuedProduct" {
		t.Errorf("Expected bare constraint with no remainder, got %q %v %v", name, rest, ok)
	}
}
