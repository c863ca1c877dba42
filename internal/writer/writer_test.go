package writer

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odataclient/internal/command"
	"github.com/nlstn/go-odataclient/internal/edm"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
	"github.com/nlstn/go-odataclient/internal/testfixtures"
)

const serviceURL = "http://svc.example/odata"

func newWriter(t *testing.T, doc string, v protocol.Version) *Writer {
	t.Helper()
	model, err := metadata.Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Failed to parse metadata: %v", err)
	}
	return &Writer{BaseURL: serviceURL, Adapter: protocol.MustFor(v), Facade: metadata.NewService(model, nil)}
}

func resolve(t *testing.T, w *Writer, d *command.Details) *command.Resolved {
	t.Helper()
	r, err := command.Resolve(d, w.Facade, command.Options{Adapter: w.Adapter})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return r
}

func decodeBody(t *testing.T, req *Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("Failed to decode body %s: %v", req.Body, err)
	}
	return body
}

func TestWriteInsertV4(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	r := resolve(t, w, &command.Details{CollectionName: "Products", Entry: map[string]any{
		"productName": "Chai",
		"UnitPrice":   decimal.RequireFromString("12.5"),
		"Category":    map[string]any{"CategoryID": 1},
	}})

	req, err := w.WriteEntry(http.MethodPost, r, false, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if req.Method != http.MethodPost || req.URI != "Products" {
		t.Errorf("Expected POST Products, got %s %s", req.Method, req.URI)
	}
	want := `{"Category@odata.bind":"http://svc.example/odata/Categories(1)","ProductName":"Chai","UnitPrice":12.5}`
	if string(req.Body) != want {
		t.Errorf("Expected body %s, got %s", want, req.Body)
	}
	if got := req.Header.Get("Prefer"); got != "return=minimal" {
		t.Errorf("Expected Prefer return=minimal, got %q", got)
	}
	if req.Header.Get("If-Match") != "" {
		t.Error("Expected no If-Match on insert")
	}
	if req.Header.Get("OData-Version") != "4.0" {
		t.Errorf("Expected OData-Version 4.0, got %q", req.Header.Get("OData-Version"))
	}
}

func TestWriteInsertV3AndV2(t *testing.T) {
	entry := map[string]any{
		"ProductName":  "Chai",
		"UnitsInStock": int64(5),
		"UnitPrice":    decimal.RequireFromString("12.5"),
		"ReleaseDate":  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		"Category":     map[string]any{"CategoryID": 1},
	}

	v3 := newWriter(t, testfixtures.NorthwindV3, protocol.V3)
	req, err := v3.WriteEntry(http.MethodPost, resolve(t, v3, &command.Details{CollectionName: "Products", Entry: entry}), true, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	body := decodeBody(t, req)
	if body["UnitsInStock"] != "5" || body["UnitPrice"] != "12.5" {
		t.Errorf("Expected quoted large numbers, got %v", body)
	}
	if body["ReleaseDate"] != "2024-01-02T00:00:00" {
		t.Errorf("Expected Edm.DateTime text, got %v", body["ReleaseDate"])
	}
	if body["Category@odata.bind"] != serviceURL+"/Categories(1)" {
		t.Errorf("Expected bind annotation, got %v", body)
	}
	if req.Header.Get("Prefer") != "return-content" || req.Header.Get("DataServiceVersion") != "3.0" {
		t.Errorf("Unexpected V3 headers %v", req.Header)
	}

	v2 := newWriter(t, testfixtures.NorthwindV3, protocol.V2)
	req, err = v2.WriteEntry(http.MethodPost, resolve(t, v2, &command.Details{CollectionName: "Products", Entry: entry}), true, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	body = decodeBody(t, req)
	if body["ReleaseDate"] != "/Date(1704153600000)/" {
		t.Errorf("Expected V2 date format, got %v", body["ReleaseDate"])
	}
	link, _ := body["Category"].(map[string]any)
	meta, _ := link["__metadata"].(map[string]any)
	if meta["uri"] != serviceURL+"/Categories(1)" {
		t.Errorf("Expected deferred link, got %v", body["Category"])
	}
	if req.Header.Get("Prefer") != "" {
		t.Errorf("Expected no Prefer header on V2, got %q", req.Header.Get("Prefer"))
	}
}

func TestWriteUpdateConcurrency(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)

	req, err := w.WriteEntry(http.MethodPatch, resolve(t, w, &command.Details{
		CollectionName: "Products", KeyValues: []any{1}, Entry: map[string]any{"ProductName": "Chai"},
	}), true, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if req.Method != http.MethodPatch || req.URI != "Products(1)" {
		t.Errorf("Expected PATCH Products(1), got %s %s", req.Method, req.URI)
	}
	if req.Header.Get("If-Match") != "*" {
		t.Errorf("Expected If-Match *, got %q", req.Header.Get("If-Match"))
	}

	req, err = w.WriteEntry(http.MethodPatch, resolve(t, w, &command.Details{
		CollectionName: "Products", KeyValues: []any{1}, ETag: `W/"7"`, Entry: map[string]any{"ProductName": "Chai"},
	}), true, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if req.Header.Get("If-Match") != `W/"7"` {
		t.Errorf("Expected caller ETag, got %q", req.Header.Get("If-Match"))
	}

	req, err = w.WriteEntry(http.MethodPatch, resolve(t, w, &command.Details{
		CollectionName: "Categories", KeyValues: []any{1}, Entry: map[string]any{"CategoryName": "x"},
	}), true, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if req.Header.Get("If-Match") != "" {
		t.Errorf("Expected no If-Match without concurrency checks, got %q", req.Header.Get("If-Match"))
	}

	v3 := newWriter(t, testfixtures.NorthwindV3, protocol.V3)
	req, err = v3.WriteEntry(http.MethodPatch, resolve(t, v3, &command.Details{
		CollectionName: "Products", KeyValues: []any{1}, Entry: map[string]any{"ProductName": "Chai"},
	}), false, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if req.Method != "MERGE" || req.Header.Get("If-Match") != "*" {
		t.Errorf("Expected MERGE with If-Match *, got %s %q", req.Method, req.Header.Get("If-Match"))
	}
}

func TestWriteDeepInsert(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	entry := map[string]any{
		"CategoryName": "Tea",
		"Products": []map[string]any{
			{"ProductName": "Green"},
			{"ProductID": 9},
		},
	}

	req, err := w.WriteEntry(http.MethodPost, resolve(t, w, &command.Details{CollectionName: "Categories", Entry: entry}), false, true)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	body := decodeBody(t, req)
	nested, _ := body["Products"].([]any)
	if len(nested) != 1 || nested[0].(map[string]any)["ProductName"] != "Green" {
		t.Errorf("Expected one nested product, got %v", body["Products"])
	}
	binds, _ := body["Products@odata.bind"].([]any)
	if len(binds) != 1 || binds[0] != serviceURL+"/Products(9)" {
		t.Errorf("Expected keyed product to be bound, got %v", body["Products@odata.bind"])
	}

	_, err = w.WriteEntry(http.MethodPost, resolve(t, w, &command.Details{CollectionName: "Categories", Entry: entry}), false, false)
	if !errors.Is(err, oerrors.ErrInvalidOperation) {
		t.Errorf("Expected keyless link without deep insert to fail, got %v", err)
	}
}

func TestWriteDeepInsertDepthLimit(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	w.MaxDepth = 1
	entry := map[string]any{
		"CategoryName": "Tea",
		"Products": []any{map[string]any{
			"ProductName": "Green",
			"Category": map[string]any{
				"CategoryName": "Nested",
				"Products":     []any{map[string]any{"ProductName": "Deep"}},
			},
		}},
	}
	_, err := w.WriteEntry(http.MethodPost, resolve(t, w, &command.Details{CollectionName: "Categories", Entry: entry}), false, true)
	if !errors.Is(err, oerrors.ErrInvalidOperation) {
		t.Errorf("Expected depth limit error, got %v", err)
	}
}

type fixedLookup map[any]string

func (f fixedLookup) LookupContentID(entry any) (string, bool) {
	id, ok := f[entry]
	return id, ok
}

func TestWriteBatchReference(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	type category struct {
		CategoryName string
	}
	cat := &category{CategoryName: "New"}
	w.Batch = fixedLookup{cat: "1"}

	r := resolve(t, w, &command.Details{CollectionName: "Products", Entry: map[string]any{"ProductName": "Chai", "Category": cat}})
	req, err := w.WriteEntry(http.MethodPost, r, false, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if body := decodeBody(t, req); body["Category@odata.bind"] != "$1" {
		t.Errorf("Expected content-ID reference, got %v", body)
	}
}

func TestWriteDerivedInsert(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	r := resolve(t, w, &command.Details{CollectionName: "Products/DiscontinuedProduct", Entry: map[string]any{"ProductName": "Old"}})
	req, err := w.WriteEntry(http.MethodPost, r, false, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if req.URI != "Products" {
		t.Errorf("Expected insert into the base set, got %q", req.URI)
	}
	if body := decodeBody(t, req); body["@odata.type"] != "#NorthwindModel.DiscontinuedProduct" {
		t.Errorf("Expected type annotation, got %v", body)
	}
}

func TestWriteUnknownProperty(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)

	_, err := w.WriteEntry(http.MethodPost, resolve(t, w, &command.Details{CollectionName: "Products", Entry: map[string]any{"Weight": 1}}), false, false)
	if !errors.Is(err, oerrors.ErrUnresolvable) {
		t.Errorf("Expected unresolvable property, got %v", err)
	}

	req, err := w.WriteEntry(http.MethodPost, resolve(t, w, &command.Details{CollectionName: "Tags", Entry: map[string]any{"TagID": 1, "Color": "red"}}), false, false)
	if err != nil {
		t.Fatalf("Expected open type to accept dynamic properties, got %v", err)
	}
	if body := decodeBody(t, req); body["Color"] != "red" {
		t.Errorf("Expected dynamic property, got %v", body)
	}
}

func TestCoerce(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	id := uuid.MustParse("6f1e2c3a-0d52-4d1f-9a40-2f4e5d6c7b8a")
	str := metadata.TypeRef{Name: "Edm.String", Kind: metadata.KindPrimitive}
	rating := metadata.TypeRef{Name: "NorthwindModel.Rating", Kind: metadata.KindEnum}

	tests := []struct {
		name  string
		typ   metadata.TypeRef
		value any
		want  any
	}{
		{"integer as string", str, int32(1234), "1234"},
		{"numeric string as int32", metadata.TypeRef{Name: "Edm.Int32"}, "42", int64(42)},
		{"integral float as int16", metadata.TypeRef{Name: "Edm.Int16"}, 7.0, int64(7)},
		{"text as boolean", metadata.TypeRef{Name: "Edm.Boolean"}, "true", true},
		{"text as guid", metadata.TypeRef{Name: "Edm.Guid"}, id.String(), id.String()},
		{"text as decimal", metadata.TypeRef{Name: "Edm.Decimal"}, "3.25", json.Number("3.25")},
		{"text as date", metadata.TypeRef{Name: "Edm.Date"}, "2024-05-06", "2024-05-06"},
		{"rune slice", str, []rune("abc"), "abc"},
		{"guid", metadata.TypeRef{Name: "Edm.Guid"}, id, id.String()},
		{"binary", metadata.TypeRef{Name: "Edm.Binary"}, []byte{1, 2}, "AQI="},
		{"duration", metadata.TypeRef{Name: "Edm.Duration"}, 90 * time.Minute, "PT1H30M"},
		{"uint16 widening", metadata.TypeRef{}, uint16(7), int32(7)},
		{"uint64 widening", metadata.TypeRef{}, uint64(7), json.Number("7")},
		{"enum by value", rating, 2, "High"},
		{"enum by name", rating, "Low", "Low"},
		{"enum value", rating, edm.EnumValue{Member: "Medium"}, "Medium"},
		{"date", metadata.TypeRef{Name: "Edm.Date"}, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), "2024-05-06"},
		{"spatial", metadata.TypeRef{Name: "Edm.GeographyPoint"}, edm.GeographyPoint{Latitude: 1, Longitude: 2},
			map[string]any{"type": "Point", "coordinates": []any{2.0, 1.0}}},
		{"collection", metadata.TypeRef{Name: "Edm.String", Collection: true}, []string{"a", "b"}, []any{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := w.coerce(tt.typ, tt.value)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %#v, got %#v", tt.want, got)
			}
		})
	}

	if _, err := w.coerce(metadata.TypeRef{}, make(chan int)); !errors.Is(err, oerrors.ErrNotSupported) {
		t.Errorf("Expected unsupported value error, got %v", err)
	}
	if _, err := w.coerce(rating, 9); !errors.Is(err, oerrors.ErrFormat) {
		t.Errorf("Expected unknown enum value to fail, got %v", err)
	}
}

func TestCoerceRejectsMismatchedPrimitives(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	prim := func(name string) metadata.TypeRef {
		return metadata.TypeRef{Name: name, Kind: metadata.KindPrimitive}
	}

	tests := []struct {
		name  string
		typ   metadata.TypeRef
		value any
		want  error
	}{
		{"bool as string", prim("Edm.String"), true, oerrors.ErrNotSupported},
		{"text as int32", prim("Edm.Int32"), "not-a-number", oerrors.ErrFormat},
		{"int as boolean", prim("Edm.Boolean"), 42, oerrors.ErrNotSupported},
		{"float as date", prim("Edm.DateTimeOffset"), 3.5, oerrors.ErrNotSupported},
		{"int32 overflow", prim("Edm.Int32"), int64(math.MaxInt32) + 1, oerrors.ErrFormat},
		{"negative byte", prim("Edm.Byte"), -1, oerrors.ErrFormat},
		{"fractional float as int64", prim("Edm.Int64"), 1.5, oerrors.ErrFormat},
		{"bad guid", prim("Edm.Guid"), "xyz", oerrors.ErrFormat},
		{"bool as decimal", prim("Edm.Decimal"), false, oerrors.ErrNotSupported},
		{"number as spatial", prim("Edm.GeographyPoint"), 1, oerrors.ErrNotSupported},
		{"slice as string", prim("Edm.String"), []string{"a"}, oerrors.ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := w.coerce(tt.typ, tt.value)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got value %#v and error %v", tt.want, got, err)
			}
		})
	}
}

func TestWriteEntryRejectsMismatchedPrimitives(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)

	tests := []struct {
		name  string
		entry map[string]any
	}{
		{"bool product name", map[string]any{"ProductName": true}},
		{"text category", map[string]any{"ProductName": "Chai", "CategoryID": "not-a-number"}},
		{"numeric flag", map[string]any{"ProductName": "Chai", "Discontinued": 42}},
		{"float release date", map[string]any{"ProductName": "Chai", "ReleaseDate": 3.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resolve(t, w, &command.Details{CollectionName: "Products", Entry: tt.entry})
			req, err := w.WriteEntry(http.MethodPost, r, false, false)
			if err == nil {
				t.Fatalf("Expected a conversion error, got body %s", req.Body)
			}
		})
	}

	r := resolve(t, w, &command.Details{CollectionName: "Products", Entry: map[string]any{"ProductName": int32(1234)}})
	req, err := w.WriteEntry(http.MethodPost, r, false, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if body := decodeBody(t, req); body["ProductName"] != "1234" {
		t.Errorf("Expected decimal text, got %v", body["ProductName"])
	}
}

type money struct{ cents int64 }

func TestCoerceCustomConverter(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	w.Converters = map[reflect.Type]Converter{
		reflect.TypeOf(money{}): func(v any) (any, error) {
			return decimal.New(v.(money).cents, -2), nil
		},
	}
	got, err := w.coerce(metadata.TypeRef{Name: "Edm.Decimal"}, money{cents: 1250})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !got.(decimal.Decimal).Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("Expected converted decimal, got %v", got)
	}
}

func TestCoerceComplex(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	type address struct {
		Street   string
		City     string
		Location edm.GeographyPoint
	}
	r := resolve(t, w, &command.Details{CollectionName: "Employees", KeyValues: []any{1}, Entry: map[string]any{
		"HomeAddress": address{Street: "Main", City: "Oslo", Location: edm.GeographyPoint{Latitude: 59.9, Longitude: 10.7}},
		"Rating":      2,
	}})
	req, err := w.WriteEntry(http.MethodPatch, r, false, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	body := decodeBody(t, req)
	home, _ := body["HomeAddress"].(map[string]any)
	if home["City"] != "Oslo" {
		t.Errorf("Expected complex value, got %v", body["HomeAddress"])
	}
	if loc, _ := home["Location"].(map[string]any); loc["type"] != "Point" {
		t.Errorf("Expected GeoJSON location, got %v", home["Location"])
	}
	if body["Rating"] != "High" {
		t.Errorf("Expected enum member name, got %v", body["Rating"])
	}
}

func TestWriteLinks(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	category := resolve(t, w, &command.Details{CollectionName: "Categories", KeyValues: []any{1}})
	product := resolve(t, w, &command.Details{CollectionName: "Products", KeyValues: []any{5}})

	req, err := w.WriteLink(category, "products", map[string]any{"ProductID": 5})
	if err != nil {
		t.Fatalf("WriteLink failed: %v", err)
	}
	if req.Method != http.MethodPost || req.URI != "Categories(1)/Products/$ref" {
		t.Errorf("Expected POST Categories(1)/Products/$ref, got %s %s", req.Method, req.URI)
	}
	if body := decodeBody(t, req); body["@odata.id"] != serviceURL+"/Products(5)" {
		t.Errorf("Unexpected link body %v", body)
	}

	req, err = w.WriteLink(product, "Category", map[string]any{"CategoryID": 2})
	if err != nil || req.Method != http.MethodPut || req.URI != "Products(5)/Category/$ref" {
		t.Errorf("Expected PUT Products(5)/Category/$ref, got %+v (%v)", req, err)
	}

	req, err = w.WriteUnlink(product, "Category", nil)
	if err != nil || req.Method != http.MethodDelete || req.URI != "Products(5)/Category/$ref" {
		t.Errorf("Expected DELETE Products(5)/Category/$ref, got %+v (%v)", req, err)
	}

	req, err = w.WriteUnlink(category, "Products", map[string]any{"ProductID": 5})
	if err != nil || req.URI != "Categories(1)/Products/$ref?$id="+serviceURL+"/Products(5)" {
		t.Errorf("Unexpected collection unlink %+v (%v)", req, err)
	}

	v3 := newWriter(t, testfixtures.NorthwindV3, protocol.V3)
	v3Category := resolve(t, v3, &command.Details{CollectionName: "Categories", KeyValues: []any{1}})
	req, err = v3.WriteLink(v3Category, "Products", map[string]any{"ProductID": 5})
	if err != nil || req.URI != "Categories(1)/$links/Products" {
		t.Errorf("Expected $links path, got %+v (%v)", req, err)
	}
	if body := decodeBody(t, req); body["url"] != serviceURL+"/Products(5)" {
		t.Errorf("Unexpected V3 link body %v", body)
	}
	req, err = v3.WriteUnlink(v3Category, "Products", map[string]any{"ProductID": 5})
	if err != nil || req.URI != "Categories(1)/$links/Products(5)" {
		t.Errorf("Unexpected V3 unlink %+v (%v)", req, err)
	}
}

func TestWriteUnlinksFromUpdate(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	r := resolve(t, w, &command.Details{CollectionName: "Products", KeyValues: []any{1}, Entry: map[string]any{"ProductName": "Chai", "Category": nil}})

	req, err := w.WriteEntry(http.MethodPatch, r, false, false)
	if err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	if body := decodeBody(t, req); len(body) != 1 {
		t.Errorf("Expected only ProductName in the body, got %v", body)
	}
	unlinks, err := w.WriteUnlinks(r)
	if err != nil {
		t.Fatalf("WriteUnlinks failed: %v", err)
	}
	if len(unlinks) != 1 || unlinks[0].URI != "Products(1)/Category/$ref" {
		t.Errorf("Expected one unlink request, got %+v", unlinks)
	}
}

func TestWriteOperations(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)

	req, err := w.WriteAction(resolve(t, w, &command.Details{
		CollectionName: "Employees", KeyValues: []any{1}, ActionName: "Promote",
		Parameters: map[string]any{"newRating": "High", "office": map[string]any{"City": "Oslo"}},
	}), false)
	if err != nil {
		t.Fatalf("WriteAction failed: %v", err)
	}
	if req.Method != http.MethodPost || req.URI != "Employees(1)/NorthwindModel.Promote" {
		t.Errorf("Expected POST Employees(1)/NorthwindModel.Promote, got %s %s", req.Method, req.URI)
	}
	if string(req.Body) != `{"NewRating":"High","Office":{"City":"Oslo"}}` {
		t.Errorf("Unexpected action body %s", req.Body)
	}

	req, err = w.WriteAction(resolve(t, w, &command.Details{
		ActionName: "AddProducts",
		Parameters: map[string]any{"products": []map[string]any{{"ProductID": 1, "UnitPrice": decimal.RequireFromString("3.5")}}, "labels": []string{"new"}},
	}), true)
	if err != nil {
		t.Fatalf("WriteAction failed: %v", err)
	}
	if string(req.Body) != `{"Labels":["new"],"Products":[{"ProductID":1,"UnitPrice":3.5}]}` {
		t.Errorf("Unexpected action body %s", req.Body)
	}

	req, err = w.WriteFunction(resolve(t, w, &command.Details{FunctionName: "MostExpensive"}))
	if err != nil || req.Method != http.MethodGet || req.URI != "MostExpensive()" {
		t.Errorf("Expected GET MostExpensive(), got %+v (%v)", req, err)
	}

	v2 := newWriter(t, testfixtures.NorthwindV3, protocol.V2)
	req, err = v2.WriteAction(resolve(t, v2, &command.Details{ActionName: "DiscontinueAll"}), false)
	if err != nil || req.Method != http.MethodPost || req.URI != "DiscontinueAll" || req.Body != nil {
		t.Errorf("Expected bodiless POST DiscontinueAll, got %+v (%v)", req, err)
	}
}

func TestWriteMedia(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)

	req, err := w.WriteMedia(resolve(t, w, &command.Details{CollectionName: "Photos", KeyValues: []any{int64(1)}}), "image/png", []byte{0x89})
	if err != nil {
		t.Fatalf("WriteMedia failed: %v", err)
	}
	if req.Method != http.MethodPut || req.URI != "Photos(1)/$value" || req.Header.Get("Content-Type") != "image/png" {
		t.Errorf("Unexpected media request %+v", req)
	}

	_, err = w.WriteMedia(resolve(t, w, &command.Details{CollectionName: "Products", KeyValues: []any{1}}), "", nil)
	if !errors.Is(err, oerrors.ErrInvalidOperation) {
		t.Errorf("Expected non-media entity to fail, got %v", err)
	}
}

func TestDeleteCarriesNoBody(t *testing.T) {
	w := newWriter(t, testfixtures.NorthwindV4, protocol.V4)
	req, err := w.WriteDelete(resolve(t, w, &command.Details{CollectionName: "Products", KeyValues: []any{1}}))
	if err != nil {
		t.Fatalf("WriteDelete failed: %v", err)
	}
	if req.Body != nil || req.Method != http.MethodDelete || req.Header.Get("If-Match") != "*" {
		t.Errorf("Unexpected delete request %+v", req)
	}
}
