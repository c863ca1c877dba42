// Package edm holds Go representations of EDM values that have no natural
// Go counterpart: spatial values and enum members.
package edm

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultGeographySRID is the SRID used by OData for geography values when
// none is given.
const DefaultGeographySRID = 4326

// Spatial is implemented by every spatial value type.
type Spatial interface {
	// EdmType returns the EDM type name, e.g. Edm.GeographyPoint.
	EdmType() string
	// GeoJSON returns the JSON payload representation.
	GeoJSON() map[string]any
	// WKT returns the well-known-text body used in URL literals.
	WKT() string
	// Geography reports whether the value is geographic rather than geometric.
	Geography() bool
}

// Position is a coordinate pair. For geography values X is the longitude and
// Y the latitude.
type Position struct {
	X, Y float64
}

func (p Position) coordinates() []any { return []any{p.X, p.Y} }

func (p Position) wkt() string {
	return strconv.FormatFloat(p.X, 'f', -1, 64) + " " + strconv.FormatFloat(p.Y, 'f', -1, 64)
}

// GeographyPoint is an Edm.GeographyPoint.
type GeographyPoint struct {
	Latitude  float64
	Longitude float64
}

func (p GeographyPoint) EdmType() string { return "Edm.GeographyPoint" }
func (p GeographyPoint) Geography() bool { return true }
func (p GeographyPoint) position() Position {
	return Position{X: p.Longitude, Y: p.Latitude}
}
func (p GeographyPoint) GeoJSON() map[string]any {
	return map[string]any{"type": "Point", "coordinates": p.position().coordinates()}
}
func (p GeographyPoint) WKT() string { return "POINT(" + p.position().wkt() + ")" }

// GeographyLineString is an Edm.GeographyLineString.
type GeographyLineString struct {
	Points []GeographyPoint
}

func (l GeographyLineString) EdmType() string { return "Edm.GeographyLineString" }
func (l GeographyLineString) Geography() bool { return true }
func (l GeographyLineString) positions() []Position {
	out := make([]Position, len(l.Points))
	for i, p := range l.Points {
		out[i] = p.position()
	}
	return out
}
func (l GeographyLineString) GeoJSON() map[string]any {
	return map[string]any{"type": "LineString", "coordinates": coordinateList(l.positions())}
}
func (l GeographyLineString) WKT() string { return "LINESTRING" + wktList(l.positions()) }

// GeographyPolygon is an Edm.GeographyPolygon. The first ring is the outer
// boundary; the rest are holes.
type GeographyPolygon struct {
	Rings [][]GeographyPoint
}

func (p GeographyPolygon) EdmType() string { return "Edm.GeographyPolygon" }
func (p GeographyPolygon) Geography() bool { return true }
func (p GeographyPolygon) rings() [][]Position {
	out := make([][]Position, len(p.Rings))
	for i, ring := range p.Rings {
		out[i] = GeographyLineString{Points: ring}.positions()
	}
	return out
}
func (p GeographyPolygon) GeoJSON() map[string]any {
	return map[string]any{"type": "Polygon", "coordinates": ringList(p.rings())}
}
func (p GeographyPolygon) WKT() string { return "POLYGON" + wktRings(p.rings()) }

// GeometryPoint is an Edm.GeometryPoint.
type GeometryPoint struct {
	X, Y float64
}

func (p GeometryPoint) EdmType() string { return "Edm.GeometryPoint" }
func (p GeometryPoint) Geography() bool { return false }
func (p GeometryPoint) GeoJSON() map[string]any {
	return map[string]any{"type": "Point", "coordinates": Position(p).coordinates()}
}
func (p GeometryPoint) WKT() string { return "POINT(" + Position(p).wkt() + ")" }

// GeometryLineString is an Edm.GeometryLineString.
type GeometryLineString struct {
	Points []GeometryPoint
}

func (l GeometryLineString) EdmType() string { return "Edm.GeometryLineString" }
func (l GeometryLineString) Geography() bool { return false }
func (l GeometryLineString) positions() []Position {
	out := make([]Position, len(l.Points))
	for i, p := range l.Points {
		out[i] = Position(p)
	}
	return out
}
func (l GeometryLineString) GeoJSON() map[string]any {
	return map[string]any{"type": "LineString", "coordinates": coordinateList(l.positions())}
}
func (l GeometryLineString) WKT() string { return "LINESTRING" + wktList(l.positions()) }

// GeometryPolygon is an Edm.GeometryPolygon.
type GeometryPolygon struct {
	Rings [][]GeometryPoint
}

func (p GeometryPolygon) EdmType() string { return "Edm.GeometryPolygon" }
func (p GeometryPolygon) Geography() bool { return false }
func (p GeometryPolygon) rings() [][]Position {
	out := make([][]Position, len(p.Rings))
	for i, ring := range p.Rings {
		out[i] = GeometryLineString{Points: ring}.positions()
	}
	return out
}
func (p GeometryPolygon) GeoJSON() map[string]any {
	return map[string]any{"type": "Polygon", "coordinates": ringList(p.rings())}
}
func (p GeometryPolygon) WKT() string { return "POLYGON" + wktRings(p.rings()) }

// Literal renders a spatial value as a URL literal, e.g.
// geography'SRID=4326;POINT(-122.1 47.6)'.
func Literal(s Spatial) string {
	if s.Geography() {
		return fmt.Sprintf("geography'SRID=%d;%s'", DefaultGeographySRID, s.WKT())
	}
	return fmt.Sprintf("geometry'SRID=0;%s'", s.WKT())
}

func coordinateList(ps []Position) []any {
	out := make([]any, len(ps))
	for i, p := range ps {
		out[i] = p.coordinates()
	}
	return out
}

func ringList(rings [][]Position) []any {
	out := make([]any, len(rings))
	for i, r := range rings {
		out[i] = coordinateList(r)
	}
	return out
}

func wktList(ps []Position) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.wkt()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func wktRings(rings [][]Position) string {
	parts := make([]string, len(rings))
	for i, r := range rings {
		parts[i] = wktList(r)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// ParseGeoJSON converts a decoded GeoJSON object into the spatial type that
// matches edmType. It returns an error for shapes the client does not model.
func ParseGeoJSON(edmType string, v map[string]any) (Spatial, error) {
	kind, _ := v["type"].(string)
	coords := v["coordinates"]
	geography := strings.HasPrefix(edmType, "Edm.Geography") || edmType == ""

	switch kind {
	case "Point":
		p, err := position(coords)
		if err != nil {
			return nil, err
		}
		if geography {
			return GeographyPoint{Latitude: p.Y, Longitude: p.X}, nil
		}
		return GeometryPoint(p), nil
	case "LineString":
		ps, err := positions(coords)
		if err != nil {
			return nil, err
		}
		if geography {
			return GeographyLineString{Points: toGeographyPoints(ps)}, nil
		}
		return GeometryLineString{Points: toGeometryPoints(ps)}, nil
	case "Polygon":
		list, ok := coords.([]any)
		if !ok {
			return nil, fmt.Errorf("polygon coordinates must be an array")
		}
		var geo GeographyPolygon
		var geom GeometryPolygon
		for _, ring := range list {
			ps, err := positions(ring)
			if err != nil {
				return nil, err
			}
			geo.Rings = append(geo.Rings, toGeographyPoints(ps))
			geom.Rings = append(geom.Rings, toGeometryPoints(ps))
		}
		if geography {
			return geo, nil
		}
		return geom, nil
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type %q", kind)
	}
}

func position(v any) (Position, error) {
	list, ok := v.([]any)
	if !ok || len(list) < 2 {
		return Position{}, fmt.Errorf("position must be an array of at least two numbers")
	}
	x, err := toFloat(list[0])
	if err != nil {
		return Position{}, err
	}
	y, err := toFloat(list[1])
	if err != nil {
		return Position{}, err
	}
	return Position{X: x, Y: y}, nil
}

func positions(v any) ([]Position, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("coordinates must be an array")
	}
	out := make([]Position, 0, len(list))
	for _, item := range list {
		p, err := position(item)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func toGeographyPoints(ps []Position) []GeographyPoint {
	out := make([]GeographyPoint, len(ps))
	for i, p := range ps {
		out[i] = GeographyPoint{Latitude: p.Y, Longitude: p.X}
	}
	return out
}

func toGeometryPoints(ps []Position) []GeometryPoint {
	out := make([]GeometryPoint, len(ps))
	for i, p := range ps {
		out[i] = GeometryPoint(p)
	}
	return out
}

type number interface {
	Float64() (float64, error)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("coordinate %v is not a number", v)
	}
}
