package writer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odataclient/internal/edm"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

// primitiveFamily groups EDM primitive names by the Go values they accept.
type primitiveFamily int

const (
	familyAny primitiveFamily = iota
	familyString
	familyBoolean
	familyInteger
	familyNumber
	familyGuid
	familyBinary
	familyTemporal
	familyDuration
	familySpatial
)

var integerRanges = map[string][2]int64{
	"Edm.Byte":  {0, math.MaxUint8},
	"Edm.SByte": {math.MinInt8, math.MaxInt8},
	"Edm.Int16": {math.MinInt16, math.MaxInt16},
	"Edm.Int32": {math.MinInt32, math.MaxInt32},
	"Edm.Int64": {math.MinInt64, math.MaxInt64},
}

func familyOf(edmName string) primitiveFamily {
	switch edmName {
	case "Edm.String":
		return familyString
	case "Edm.Boolean":
		return familyBoolean
	case "Edm.Decimal", "Edm.Double", "Edm.Single":
		return familyNumber
	case "Edm.Guid":
		return familyGuid
	case "Edm.Binary", "Edm.Stream":
		return familyBinary
	case "Edm.DateTime", "Edm.DateTimeOffset", "Edm.Date", "Edm.TimeOfDay":
		return familyTemporal
	case "Edm.Time", "Edm.Duration":
		return familyDuration
	}
	if _, ok := integerRanges[edmName]; ok {
		return familyInteger
	}
	if strings.HasPrefix(edmName, "Edm.Geography") || strings.HasPrefix(edmName, "Edm.Geometry") {
		return familySpatial
	}
	return familyAny
}

// checkDeclared validates v against the declared primitive and converts
// string input into the Go type the declared kind maps from. Untyped and
// unknown names pass v through.
func checkDeclared(edmName string, v any) (any, error) {
	family := familyOf(edmName)
	if family == familyAny {
		return v, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String && family != familyString {
		return parseDeclared(family, edmName, rv.String())
	}

	switch family {
	case familyString:
		switch x := v.(type) {
		case json.Number:
			return string(x), nil
		case []rune:
			return x, nil
		}
		switch {
		case rv.Kind() == reflect.String:
			return v, nil
		case rv.CanInt():
			return strconv.FormatInt(rv.Int(), 10), nil
		case rv.CanUint():
			return strconv.FormatUint(rv.Uint(), 10), nil
		}
	case familyBoolean:
		if rv.Kind() == reflect.Bool {
			return v, nil
		}
	case familyInteger:
		return checkInteger(edmName, v, rv)
	case familyNumber:
		if _, ok := v.(decimal.Decimal); ok || rv.CanInt() || rv.CanUint() || rv.CanFloat() {
			return v, nil
		}
	case familyGuid:
		if _, ok := v.(uuid.UUID); ok {
			return v, nil
		}
	case familyBinary:
		switch v.(type) {
		case []byte, io.Reader:
			return v, nil
		}
	case familyTemporal:
		if _, ok := v.(time.Time); ok {
			return v, nil
		}
	case familyDuration:
		if _, ok := v.(time.Duration); ok {
			return v, nil
		}
	case familySpatial:
		if _, ok := v.(edm.Spatial); ok {
			return v, nil
		}
	}
	return nil, oerrors.NotSupported("no conversion of %T to %s", v, edmName)
}

func checkInteger(edmName string, v any, rv reflect.Value) (any, error) {
	bounds := integerRanges[edmName]
	outOfRange := &oerrors.FormatError{Value: fmt.Sprint(v), Target: edmName, Err: strconv.ErrRange}
	switch x := v.(type) {
	case decimal.Decimal:
		if !x.IsInteger() || x.LessThan(decimal.NewFromInt(bounds[0])) || x.GreaterThan(decimal.NewFromInt(bounds[1])) {
			return nil, outOfRange
		}
		return x.IntPart(), nil
	case time.Duration:
		return nil, oerrors.NotSupported("no conversion of %T to %s", v, edmName)
	}
	switch {
	case rv.CanInt():
		if n := rv.Int(); n < bounds[0] || n > bounds[1] {
			return nil, outOfRange
		}
		return v, nil
	case rv.CanUint():
		if rv.Uint() > uint64(bounds[1]) {
			return nil, outOfRange
		}
		return v, nil
	case rv.CanFloat():
		f := rv.Float()
		if f != math.Trunc(f) || f < float64(bounds[0]) || f > float64(bounds[1]) {
			return nil, outOfRange
		}
		return int64(f), nil
	}
	return nil, oerrors.NotSupported("no conversion of %T to %s", v, edmName)
}

// parseDeclared reads textual input for a non-string primitive.
func parseDeclared(family primitiveFamily, edmName, s string) (any, error) {
	fail := func(err error) error {
		return &oerrors.FormatError{Value: s, Target: edmName, Err: err}
	}
	switch family {
	case familyBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fail(err)
		}
		return b, nil
	case familyInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fail(err)
		}
		return checkInteger(edmName, n, reflect.ValueOf(n))
	case familyNumber:
		if edmName == "Edm.Decimal" {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fail(err)
			}
			return d, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fail(err)
		}
		return f, nil
	case familyGuid:
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fail(err)
		}
		return id, nil
	case familyBinary:
		if _, err := base64.StdEncoding.DecodeString(s); err != nil {
			return nil, fail(err)
		}
		return s, nil
	case familyTemporal:
		t, err := parseTemporal(edmName, s)
		if err != nil {
			return nil, fail(err)
		}
		return t, nil
	case familyDuration:
		return protocol.ParseDuration(s)
	}
	return nil, oerrors.NotSupported("no conversion of string to %s", edmName)
}

func parseTemporal(edmName, s string) (time.Time, error) {
	switch edmName {
	case "Edm.Date":
		return time.Parse("2006-01-02", s)
	case "Edm.TimeOfDay":
		return time.Parse("15:04:05", s)
	case "Edm.DateTime":
		if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
			return t, nil
		}
	}
	return time.Parse(time.RFC3339Nano, s)
}
