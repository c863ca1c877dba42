package writer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odataclient/internal/command"
	"github.com/nlstn/go-odataclient/internal/edm"
	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

// Converter turns a caller value into something the coercion table
// understands. Converters are looked up by the value's dynamic type before
// any built-in rule applies.
type Converter func(v any) (any, error)

// coerce converts v into a JSON-ready value for the declared type t. A zero
// TypeRef means the property is untyped (open or unknown).
func (w *Writer) coerce(t metadata.TypeRef, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if conv, ok := w.Converters[reflect.TypeOf(v)]; ok {
		converted, err := conv(v)
		if err != nil {
			return nil, &oerrors.FormatError{Value: fmt.Sprint(v), Target: t.String(), Err: err}
		}
		return converted, nil
	}

	if t.Collection {
		return w.coerceCollection(metadata.TypeRef{Name: t.Name, Kind: t.Kind}, v)
	}
	switch t.Kind {
	case metadata.KindComplex:
		return w.coerceComplex(t, v)
	case metadata.KindEnum:
		return w.coerceEnum(t, v)
	case metadata.KindEntity:
		return w.coerceEntity(t.Name, v)
	}
	return w.primitive(t.Name, v)
}

func (w *Writer) coerceCollection(elem metadata.TypeRef, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, oerrors.NotSupported("%T as Collection(%s)", v, elem.Name)
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item, err := w.coerce(elem, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (w *Writer) coerceComplex(t metadata.TypeRef, v any) (any, error) {
	ct, ok := w.Facade.ComplexType(t.Name)
	if !ok {
		return nil, oerrors.Unresolvable(oerrors.KindType, t.Name, "complex type is not declared")
	}
	m, err := w.mapper().ToMap(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m))
	props := ct.AllProperties()
	for name, value := range m {
		var declared metadata.TypeRef
		for _, p := range props {
			if p.Name == name {
				declared = p.Type
				break
			}
		}
		c, err := w.coerce(declared, value)
		if err != nil {
			return nil, err
		}
		out[name] = c
	}
	return out, nil
}

func (w *Writer) coerceEntity(typeName string, v any) (any, error) {
	et, ok := w.Facade.EntityType(typeName)
	if !ok {
		return nil, oerrors.Unresolvable(oerrors.KindType, typeName, "entity type is not declared")
	}
	m, err := w.mapper().ToMap(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m))
	for name, value := range m {
		var declared metadata.TypeRef
		if p, ok := w.Facade.StructuralProperty(et, name); ok {
			name, declared = p.Name, p.Type
		}
		c, err := w.coerce(declared, value)
		if err != nil {
			return nil, err
		}
		out[name] = c
	}
	return out, nil
}

func (w *Writer) coerceEnum(t metadata.TypeRef, v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case edm.EnumValue:
		return x.Member, nil
	}
	rv := reflect.ValueOf(v)
	if rv.CanInt() {
		if et, ok := w.Facade.EnumType(t.Name); ok {
			if m, ok := et.MemberByValue(rv.Int()); ok {
				return m.Name, nil
			}
		}
		return nil, &oerrors.FormatError{Value: fmt.Sprint(v), Target: t.Name}
	}
	return nil, oerrors.NotSupported("%T as enum %s", v, t.Name)
}

// primitive applies the Go type table. edmName is empty for untyped values.
func (w *Writer) primitive(edmName string, v any) (any, error) {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !command.IsRecord(v) {
		if _, ok := v.(io.Reader); !ok {
			if rv.IsNil() {
				return nil, nil
			}
			return w.primitive(edmName, rv.Elem().Interface())
		}
	}
	v, err := checkDeclared(edmName, v)
	if err != nil || v == nil {
		return nil, err
	}
	switch x := v.(type) {
	case string, bool, int8, int16, int32, uint8:
		return x, nil
	case int:
		return w.largeNumber(edmName, int64(x)), nil
	case int64:
		return w.largeNumber(edmName, x), nil
	case uint16:
		return int32(x), nil
	case uint32:
		return w.largeNumber(edmName, int64(x)), nil
	case uint:
		return w.decimal(decimal.RequireFromString(strconv.FormatUint(uint64(x), 10))), nil
	case uint64:
		return w.decimal(decimal.RequireFromString(strconv.FormatUint(x, 10))), nil
	case float32:
		return floatValue(float64(x)), nil
	case float64:
		return floatValue(x), nil
	case decimal.Decimal:
		return w.decimal(x), nil
	case uuid.UUID:
		return x.String(), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	case []rune:
		return string(x), nil
	case time.Time:
		return w.timeValue(edmName, x), nil
	case time.Duration:
		return protocol.FormatDuration(x), nil
	case edm.EnumValue:
		return x.Member, nil
	case edm.Spatial:
		return x.GeoJSON(), nil
	case io.Reader:
		b, err := io.ReadAll(x)
		if err != nil {
			return nil, err
		}
		return base64.StdEncoding.EncodeToString(b), nil
	case json.Number:
		return x, nil
	case map[string]any:
		return w.untypedRecord(x)
	}
	return w.reflectPrimitive(edmName, v)
}

// reflectPrimitive handles named types over basic kinds, slices and
// records in untyped positions.
func (w *Writer) reflectPrimitive(edmName string, v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		if command.IsRecord(v) {
			return w.untypedRecord(v)
		}
		return w.primitive(edmName, rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return w.primitive(edmName, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return w.primitive(edmName, int64(u))
		}
		return w.primitive(edmName, rv.Uint())
	case reflect.Float32, reflect.Float64:
		return floatValue(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		return w.coerceCollection(metadata.TypeRef{Name: edmName}, v)
	case reflect.Map, reflect.Struct:
		if command.IsRecord(v) {
			return w.untypedRecord(v)
		}
	}
	return nil, oerrors.NotSupported("no conversion of %T to %s", v, typeLabel(edmName))
}

func (w *Writer) untypedRecord(v any) (any, error) {
	m, err := w.mapper().ToMap(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m))
	for k, value := range m {
		c, err := w.coerce(metadata.TypeRef{}, value)
		if err != nil {
			return nil, err
		}
		out[k] = c
	}
	return out, nil
}

func typeLabel(edmName string) string {
	if edmName == "" {
		return "an untyped value"
	}
	return edmName
}

// largeNumber quotes 64-bit integers where the version carries them as
// JSON strings.
func (w *Writer) largeNumber(edmName string, v int64) any {
	if !w.Adapter.QuotedLargeNumbers {
		return v
	}
	switch edmName {
	case "Edm.Int64", "Edm.Decimal", "":
		return strconv.FormatInt(v, 10)
	}
	return v
}

func (w *Writer) decimal(d decimal.Decimal) any {
	if w.Adapter.QuotedLargeNumbers {
		return d.String()
	}
	return json.Number(d.String())
}

func floatValue(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	return f
}

func (w *Writer) timeValue(edmName string, t time.Time) any {
	switch {
	case w.Adapter.Verbose:
		return "/Date(" + strconv.FormatInt(t.UnixMilli(), 10) + ")/"
	case edmName == "Edm.DateTime":
		return t.UTC().Format("2006-01-02T15:04:05.9999999")
	case edmName == "Edm.Date":
		return t.Format("2006-01-02")
	case edmName == "Edm.TimeOfDay":
		return t.Format("15:04:05.9999999")
	}
	return t.Format(time.RFC3339Nano)
}
