package odata

import (
	"github.com/nlstn/go-odataclient/internal/edm"
	"github.com/nlstn/go-odataclient/internal/filter"
)

// Spatial values. They are written as GeoJSON in payloads and as
// geography'SRID=4326;POINT(..)' literals in URLs, and read back from
// GeoJSON when the property is declared spatial.
type (
	Spatial             = edm.Spatial
	Position            = edm.Position
	GeographyPoint      = edm.GeographyPoint
	GeographyLineString = edm.GeographyLineString
	GeographyPolygon    = edm.GeographyPolygon
	GeometryPoint       = edm.GeometryPoint
	GeometryLineString  = edm.GeometryLineString
	GeometryPolygon     = edm.GeometryPolygon
)

// EnumValue references an enum member. Type may be left empty when the
// property declares the enum type.
type EnumValue = edm.EnumValue

// GeoDistance builds geo.distance(a,b).
func GeoDistance(a, b Expr) Expr { return filter.Call("geo.distance", a, b) }

// GeoIntersects builds geo.intersects(point,polygon).
func GeoIntersects(point, polygon Expr) Expr { return filter.Call("geo.intersects", point, polygon) }

// GeoLength builds geo.length(lineString).
func GeoLength(lineString Expr) Expr { return filter.Call("geo.length", lineString) }

// WithinDistance is geo.distance(property,point) le meters.
func WithinDistance(property string, point Spatial, meters float64) Expr {
	return filter.Le(GeoDistance(filter.Prop(property), filter.Lit(point)), filter.Lit(meters))
}
