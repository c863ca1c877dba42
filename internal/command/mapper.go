package command

import (
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odataclient/internal/edm"
	"github.com/nlstn/go-odataclient/internal/oerrors"
)

// ObjectMapper converts typed or dynamic entry objects into dictionaries.
type ObjectMapper interface {
	ToMap(v any) (map[string]any, error)
}

// ObjectMapperFunc adapts a function to ObjectMapper.
type ObjectMapperFunc func(v any) (map[string]any, error)

func (f ObjectMapperFunc) ToMap(v any) (map[string]any, error) { return f(v) }

// DefaultMapper passes map[string]any through unchanged and maps structs
// field by field. Field names come from the odata tag ("name=ProductName")
// or the json tag, falling back to the Go field name. Values keep their Go
// types so the request writer can coerce them against metadata.
var DefaultMapper ObjectMapper = ObjectMapperFunc(toMap)

var valueTypes = map[reflect.Type]bool{
	reflect.TypeOf(time.Time{}):               true,
	reflect.TypeOf(decimal.Decimal{}):         true,
	reflect.TypeOf(uuid.UUID{}):               true,
	reflect.TypeOf(edm.EnumValue{}):           true,
	reflect.TypeOf(edm.GeographyPoint{}):      true,
	reflect.TypeOf(edm.GeographyLineString{}): true,
	reflect.TypeOf(edm.GeographyPolygon{}):    true,
	reflect.TypeOf(edm.GeometryPoint{}):       true,
	reflect.TypeOf(edm.GeometryLineString{}):  true,
	reflect.TypeOf(edm.GeometryPolygon{}):     true,
}

// IsRecord reports whether v maps to a dictionary: a map with string keys
// or a struct that is not one of the EDM value types.
func IsRecord(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.Indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Map:
		return rv.Type().Key().Kind() == reflect.String
	case reflect.Struct:
		return !valueTypes[rv.Type()]
	}
	return false
}

func toMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, nil
	case reflect.Struct:
		if valueTypes[rv.Type()] {
			break
		}
		out := map[string]any{}
		structFields(rv, out)
		return out, nil
	}
	return nil, oerrors.NotSupported("cannot map %T to an entry", v)
}

func structFields(rv reflect.Value, out map[string]any) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := rv.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get("odata") == "" && field.Tag.Get("json") == "" {
			structFields(fv, out)
			continue
		}
		name, omitEmpty, skip := fieldName(field)
		if skip {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		out[name] = fv.Interface()
	}
}

func fieldName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	name = field.Name
	if tag := field.Tag.Get("odata"); tag != "" {
		if tag == "-" {
			return "", false, true
		}
		for _, part := range strings.Split(tag, ",") {
			part = strings.TrimSpace(part)
			switch {
			case part == "omitempty":
				omitEmpty = true
			case strings.HasPrefix(part, "name="):
				name = strings.TrimPrefix(part, "name=")
			}
		}
		return name, omitEmpty, false
	}
	if tag := field.Tag.Get("json"); tag != "" {
		if tag == "-" {
			return "", false, true
		}
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		for _, opt := range parts[1:] {
			if opt == "omitempty" {
				omitEmpty = true
			}
		}
	}
	return name, omitEmpty, false
}
