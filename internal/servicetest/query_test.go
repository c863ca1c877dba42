package servicetest

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func testProducts() *entitySet {
	return &entitySet{
		name: "Products",
		key:  "ProductID",
		columns: map[string]string{
			"ProductID":    "product_id",
			"ProductName":  "product_name",
			"UnitPrice":    "unit_price",
			"Discontinued": "discontinued",
		},
	}
}

func TestSplitAnd(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"A eq 1", []string{"A eq 1"}},
		{"A eq 1 and B eq 2", []string{"A eq 1", "B eq 2"}},
		{"Name eq 'salt and pepper' and B eq 2", []string{"Name eq 'salt and pepper'", "B eq 2"}},
		{"(A eq 1 and B eq 2) and C", []string{"(A eq 1 and B eq 2)", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, splitAnd(tt.in))
		})
	}
}

func TestParseTerm(t *testing.T) {
	tests := []struct {
		name    string
		term    string
		want    scope
		wantErr bool
	}{
		{name: "equality", term: "ProductName eq 'Chai'", want: scope{Condition: "product_name = ?", Args: []any{"Chai"}}},
		{name: "quoted quote", term: "ProductName eq 'Chef''s'", want: scope{Condition: "product_name = ?", Args: []any{"Chef's"}}},
		{name: "greater", term: "UnitPrice gt 19.5", want: scope{Condition: "unit_price > ?", Args: []any{19.5}}},
		{name: "null", term: "UnitPrice eq null", want: scope{Condition: "unit_price IS NULL"}},
		{name: "not null", term: "UnitPrice ne null", want: scope{Condition: "unit_price IS NOT NULL"}},
		{name: "boolean property", term: "Discontinued", want: scope{Condition: "discontinued = ?", Args: []any{true}}},
		{name: "contains", term: "contains(ProductName,'ha')", want: scope{Condition: "product_name LIKE ?", Args: []any{"%ha%"}}},
		{name: "startswith", term: "startswith(ProductName,'C')", want: scope{Condition: "product_name LIKE ?", Args: []any{"C%"}}},
		{name: "parenthesized", term: "(ProductID le 3)", want: scope{Condition: "product_id <= ?", Args: []any{int64(3)}}},
		{name: "unknown property", term: "Price gt 1", wantErr: true},
		{name: "unknown operator", term: "UnitPrice has 1", wantErr: true},
		{name: "ordering null", term: "UnitPrice gt null", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTerm(testProducts(), tt.term)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseQuery(t *testing.T) {
	values := url.Values{}
	values.Set("$filter", "UnitPrice ge 10 and Discontinued eq false")
	values.Set("$orderby", "UnitPrice desc,ProductName")
	values.Set("$top", "5")
	values.Set("$skip", "2")
	values.Set("$skiptoken", "4")
	values.Set("$count", "true")

	q, err := parseQuery(testProducts(), values)
	require.NoError(t, err)
	require.Len(t, q.wheres, 2)
	require.Equal(t, []string{"unit_price DESC", "product_name", "product_id"}, q.orderBys)
	require.Equal(t, 5, *q.limit)
	require.Equal(t, 2, q.offset)
	require.Equal(t, 4, q.skipToken)
	require.True(t, q.count)

	for _, bad := range []url.Values{
		{"$top": {"-1"}},
		{"$count": {"yes"}},
		{"$orderby": {"UnitPrice sideways"}},
	} {
		_, err := parseQuery(testProducts(), bad)
		require.Error(t, err)
	}
}
