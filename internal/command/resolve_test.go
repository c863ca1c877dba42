package command

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nlstn/go-odataclient/internal/filter"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/naming"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
	"github.com/nlstn/go-odataclient/internal/testfixtures"
)

func service(t *testing.T, doc string) *metadata.Service {
	t.Helper()
	model, err := metadata.Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Failed to parse metadata: %v", err)
	}
	return metadata.NewService(model, naming.Pluralizing)
}

func intPtr(i int) *int { return &i }

func resolveText(t *testing.T, svc metadata.Facade, v protocol.Version, d *Details) string {
	t.Helper()
	r, err := Resolve(d, svc, Options{Adapter: protocol.MustFor(v)})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	text, err := r.Format()
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	return text
}

func TestResolveFormat(t *testing.T) {
	svc := service(t, testfixtures.NorthwindV4)

	tests := []struct {
		name    string
		details *Details
		want    string
	}{
		{"collection", &Details{CollectionName: "products"}, "Products"},
		{"positional key", &Details{CollectionName: "Products", KeyValues: []any{1}}, "Products(1)"},
		{"string key escaping", &Details{CollectionName: "Products", NamedKeyValues: map[string]any{"code": "A/1"}}, "Products(Code='A%2F1')"},
		{"composite key", &Details{CollectionName: "OrderDetails", KeyValues: []any{10, 2}}, "OrderDetails(OrderID=10,ProductID=2)"},
		{"record key", &Details{CollectionName: "Products", KeyValues: []any{map[string]any{"ProductID": 1, "ProductName": "Chai"}}}, "Products(1)"},
		{"singleton", &Details{CollectionName: "Me"}, "Me"},
		{"derived collection", &Details{CollectionName: "Products/DiscontinuedProduct"}, "Products/NorthwindModel.DiscontinuedProduct"},
		{"derived with key", &Details{CollectionName: "Products", DerivedName: "DiscontinuedProduct", KeyValues: []any{3}},
			"Products/NorthwindModel.DiscontinuedProduct(3)"},
		{"dynamic collection expression", &Details{CollectionExpr: func() string { return "Categories" }}, "Categories"},
		{"navigation", &Details{Parent: &Details{CollectionName: "Categories", KeyValues: []any{1}}, Link: "products"}, "Categories(1)/Products"},
		{"navigation with key", &Details{Parent: &Details{CollectionName: "Categories", KeyValues: []any{1}}, Link: "Products", KeyValues: []any{5}},
			"Categories(1)/Products(5)"},
		{"multi-hop navigation", &Details{Parent: &Details{CollectionName: "Products", KeyValues: []any{1}}, Link: "Category/Products"},
			"Products(1)/Category/Products"},
		{"count segment", &Details{CollectionName: "Products", CountOnly: true}, "Products/$count"},
		{"media segment", &Details{CollectionName: "Photos", KeyValues: []any{int64(7)}, Media: true}, "Photos(7)/$value"},
		{"query options",
			&Details{CollectionName: "Products", Expand: []string{"category"}, Select: []string{"productName", "unitPrice"},
				OrderBy: []OrderBy{{Name: "unitPrice", Desc: true}, {Name: "ProductName"}}, Skip: intPtr(20), Top: intPtr(10), Count: true},
			"Products?$expand=Category&$select=ProductName,UnitPrice&$orderby=UnitPrice%20desc,ProductName&$skip=20&$top=10&$count=true"},
		{"nested expand", &Details{CollectionName: "Categories", Expand: []string{"products/category"}}, "Categories?$expand=Products($expand=Category)"},
		{"search and apply", &Details{CollectionName: "Products", Search: "blue", Extensions: map[string]string{"$apply": "aggregate(UnitPrice with sum as Total)"}},
			"Products?$search=blue&$apply=aggregate(UnitPrice%20with%20sum%20as%20Total)"},
		{"custom options", &Details{CollectionName: "Products", QueryOptions: map[string]string{"debug": "true"}}, "Products?debug=true"},
		{"unbound function", &Details{FunctionName: "productsByCategory", Parameters: map[string]any{"categoryID": 1}}, "ProductsByCategory(CategoryID=1)"},
		{"unbound function without parameters", &Details{FunctionName: "MostExpensive"}, "MostExpensive()"},
		{"function result filter",
			&Details{FunctionName: "ProductsByCategory", Parameters: map[string]any{"CategoryID": 1}, Filter: filter.Gt(filter.Prop("unitPrice"), filter.Lit(10))},
			"ProductsByCategory(CategoryID=1)?$filter=UnitPrice%20gt%2010"},
		{"bound function", &Details{CollectionName: "Products", FunctionName: "TopRated", Parameters: map[string]any{"count": 3}},
			"Products/NorthwindModel.TopRated(Count=3)"},
		{"bound action overload", &Details{CollectionName: "Categories", KeyValues: []any{1}, ActionName: "Discount"},
			"Categories(1)/NorthwindModel.Discount"},
		{"unbound action", &Details{ActionName: "ResetData"}, "ResetData"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveText(t, svc, protocol.V4, tt.details); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestResolveV3(t *testing.T) {
	svc := service(t, testfixtures.NorthwindV3)

	tests := []struct {
		name    string
		details *Details
		want    string
	}{
		{"inline count", &Details{CollectionName: "Products", Count: true}, "Products?$inlinecount=allpages"},
		{"nested expand", &Details{CollectionName: "Categories", Expand: []string{"Products/Category"}}, "Categories?$expand=Products/Category"},
		{"function import parameters", &Details{FunctionName: "ProductsByRating", Parameters: map[string]any{"rating": 5}}, "ProductsByRating?rating=5"},
		{"substringof", &Details{CollectionName: "Products", Filter: filter.Contains(filter.Prop("ProductName"), filter.Lit("ha"))},
			"Products?$filter=substringof('ha',ProductName)"},
		{"navigation through associations", &Details{Parent: &Details{CollectionName: "Products", KeyValues: []any{1}}, Link: "Category"},
			"Products(1)/Category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveText(t, svc, protocol.V3, tt.details); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	r, err := Resolve(&Details{CollectionName: "Products", Search: "x"}, svc, Options{Adapter: protocol.MustFor(protocol.V3)})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := r.Format(); !errors.Is(err, oerrors.ErrNotSupported) {
		t.Errorf("Expected $search to be unsupported before V4, got %v", err)
	}
}

func TestKeyFilterEquivalence(t *testing.T) {
	svc := service(t, testfixtures.NorthwindV4)

	byKey := resolveText(t, svc, protocol.V4, &Details{CollectionName: "Products", KeyValues: []any{1}})
	byFilter := resolveText(t, svc, protocol.V4, &Details{
		CollectionName: "Products",
		Filter:         filter.Eq(filter.Prop("productID"), filter.Lit(1)),
		Top:            intPtr(1),
	})
	if byKey != byFilter {
		t.Errorf("Expected key and filter forms to match, got %q and %q", byKey, byFilter)
	}

	r, err := Resolve(&Details{CollectionName: "OrderDetails", Filter: filter.And(
		filter.Eq(filter.Prop("ProductID"), filter.Lit(2)),
		filter.Eq(filter.Prop("OrderID"), filter.Lit(10)),
	)}, svc, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if r.FilterText != "" || r.Details().Filter != nil {
		t.Errorf("Expected filter to be cleared, got %q", r.FilterText)
	}
	if text, _ := r.Format(); text != "OrderDetails(OrderID=10,ProductID=2)" {
		t.Errorf("Expected composite key in declared order, got %q", text)
	}

	partial := resolveText(t, svc, protocol.V4, &Details{CollectionName: "OrderDetails", Filter: filter.Eq(filter.Prop("OrderID"), filter.Lit(10))})
	if partial != "OrderDetails?$filter=OrderID%20eq%2010" {
		t.Errorf("Expected a partial key to stay a filter, got %q", partial)
	}

	disjunction := resolveText(t, svc, protocol.V4, &Details{CollectionName: "Products", Filter: filter.Or(
		filter.Eq(filter.Prop("ProductID"), filter.Lit(1)),
		filter.Eq(filter.Prop("ProductID"), filter.Lit(2)),
	)})
	if !strings.Contains(disjunction, "$filter=") {
		t.Errorf("Expected a disjunction to stay a filter, got %q", disjunction)
	}
}

func TestAlternateKey(t *testing.T) {
	svc := service(t, testfixtures.NorthwindV4)

	r, err := Resolve(&Details{CollectionName: "Products", NamedKeyValues: map[string]any{"Code": "A1"}}, svc, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !r.IsAlternateKey {
		t.Error("Expected alternate key to be recorded")
	}
	if text, _ := r.Format(); text != "Products(Code='A1')" {
		t.Errorf("Expected named alternate key, got %q", text)
	}

	viaFilter := resolveText(t, svc, protocol.V4, &Details{CollectionName: "Products", Filter: filter.Eq(filter.Prop("code"), filter.Lit("A1"))})
	if viaFilter != "Products(Code='A1')" {
		t.Errorf("Expected filter on alternate key to become a key, got %q", viaFilter)
	}

	primary, err := Resolve(&Details{CollectionName: "Products", NamedKeyValues: map[string]any{"ProductID": 1}}, svc, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if primary.IsAlternateKey {
		t.Error("Expected primary key to win")
	}
}

func TestDerivedNarrowing(t *testing.T) {
	svc := service(t, testfixtures.NorthwindV4)

	r, err := Resolve(&Details{CollectionName: "Products", DerivedName: "discontinuedProduct"}, svc, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := r.QualifiedEntityCollectionName(); got != "Products/NorthwindModel.DiscontinuedProduct" {
		t.Errorf("Expected qualified derived name, got %q", got)
	}
	if r.Collection.Base == nil || r.Collection.Base.Name != "Products" {
		t.Errorf("Expected base collection Products, got %+v", r.Collection.Base)
	}

	constrained := resolveText(t, svc, protocol.V4, &Details{
		CollectionName: "Products",
		DerivedName:    "DiscontinuedProduct",
		Filter:         filter.And(filter.IsOf("DiscontinuedProduct"), filter.Gt(filter.Prop("UnitPrice"), filter.Lit(5))),
	})
	if constrained != "Products?$filter=isof(NorthwindModel.DiscontinuedProduct)%20and%20UnitPrice%20gt%205" {
		t.Errorf("Expected type constraint to replace the cast, got %q", constrained)
	}
}

func TestResolveErrors(t *testing.T) {
	svc := service(t, testfixtures.NorthwindV4)

	tests := []struct {
		name    string
		details *Details
		target  error
	}{
		{"unknown collection", &Details{CollectionName: "Suppliers"}, oerrors.ErrUnresolvable},
		{"unknown link", &Details{Parent: &Details{CollectionName: "Products", KeyValues: []any{1}}, Link: "Supplier"}, oerrors.ErrUnresolvable},
		{"unknown derived type", &Details{CollectionName: "Products", DerivedName: "Category"}, oerrors.ErrUnresolvable},
		{"unknown filter property", &Details{CollectionName: "Products", Filter: filter.Eq(filter.Prop("Weight"), filter.Lit(1))}, oerrors.ErrUnresolvable},
		{"wrong key count", &Details{CollectionName: "OrderDetails", KeyValues: []any{1}}, oerrors.ErrInvalidOperation},
		{"named key matching nothing", &Details{CollectionName: "Products", NamedKeyValues: map[string]any{"ProductName": "Chai"}}, oerrors.ErrInvalidOperation},
		{"nothing named", &Details{}, oerrors.ErrInvalidOperation},
		{"unknown function", &Details{FunctionName: "Cheapest"}, oerrors.ErrUnresolvable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.details, svc, Options{})
			if !errors.Is(err, tt.target) {
				t.Errorf("Expected %v, got %v", tt.target, err)
			}
		})
	}
}

type recordingRegistrar struct {
	entries []any
}

func (r *recordingRegistrar) RegisterEntry(entry any, data map[string]any) {
	r.entries = append(r.entries, entry)
}

func TestEntryResolution(t *testing.T) {
	svc := service(t, testfixtures.NorthwindV4)

	type product struct {
		ID       int    `odata:"name=ProductID"`
		Name     string `json:"ProductName"`
		Code     string `json:"Code,omitempty"`
		internal string
	}
	entry := &product{ID: 1, Name: "Chai", internal: "x"}
	registrar := &recordingRegistrar{}

	r, err := Resolve(&Details{CollectionName: "Products", Entry: entry}, svc, Options{Entries: registrar})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := map[string]any{"ProductID": 1, "ProductName": "Chai"}
	if got, err := r.CommandData(); err != nil || !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v (%v)", want, got, err)
	}
	if len(registrar.entries) != 1 || registrar.entries[0] != entry {
		t.Errorf("Expected entry to be registered by identity, got %v", registrar.entries)
	}
}

func TestCommandDataSplicesDynamicContainer(t *testing.T) {
	svc := service(t, testfixtures.NorthwindV4)

	r, err := Resolve(&Details{
		CollectionName:   "Tags",
		DynamicContainer: "Extra",
		Entry: map[string]any{
			"TagID": 1,
			"Extra": map[string]any{"Color": "red", "TagID": 99},
		},
	}, svc, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := map[string]any{"TagID": 1, "Color": "red"}
	if got, err := r.CommandData(); err != nil || !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v (%v)", want, got, err)
	}
}

func TestCommandDataDynamicContainerShapes(t *testing.T) {
	svc := service(t, testfixtures.NorthwindV4)
	type extras struct {
		Color string
		Size  int `json:"Size,omitempty"`
	}
	type entry struct {
		Name  string
		Extra any
	}

	tests := []struct {
		name    string
		extra   any
		want    map[string]any
		wantErr error
	}{
		{"struct container", extras{Color: "red"}, map[string]any{"Name": "Chai", "Color": "red"}, nil},
		{"struct pointer container", &extras{Color: "blue", Size: 2}, map[string]any{"Name": "Chai", "Color": "blue", "Size": 2}, nil},
		{"nil container", nil, map[string]any{"Name": "Chai"}, nil},
		{"nil map container", map[string]any(nil), map[string]any{"Name": "Chai"}, nil},
		{"slice container", []string{"lost"}, nil, oerrors.ErrInvalidOperation},
		{"scalar container", 42, nil, oerrors.ErrInvalidOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Resolve(&Details{
				CollectionName:   "Tags",
				DynamicContainer: "Extra",
				Entry:            entry{Name: "Chai", Extra: tt.extra},
			}, svc, Options{})
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			got, err := r.CommandData()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v and data %v", tt.wantErr, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CommandData failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDetailsClone(t *testing.T) {
	d := &Details{CollectionName: "Products", Expand: []string{"Category"}, Top: intPtr(5), Parameters: map[string]any{"a": 1}}
	c := d.Clone()
	c.Expand[0] = "Other"
	*c.Top = 1
	c.Parameters["a"] = 2

	if d.Expand[0] != "Category" || *d.Top != 5 || d.Parameters["a"] != 1 {
		t.Errorf("Expected original to be unchanged, got %+v", d)
	}

	r, err := Resolve(d, service(t, testfixtures.NorthwindV4), Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	r.Details().Expand[0] = "Changed"
	if r.Details().Expand[0] != "Category" {
		t.Error("Expected resolved details to be immutable")
	}
}
