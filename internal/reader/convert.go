package reader

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odataclient/internal/metadata"
	"github.com/nlstn/go-odataclient/internal/oerrors"
	"github.com/nlstn/go-odataclient/internal/protocol"
)

// V2 verbose JSON dates: /Date(1704153600000)/ or /Date(1704153600000+0060)/.
var verboseDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// convert turns a scalar JSON token into the Go value for the declared type.
// Untyped values keep their JSON shape, with numbers narrowed to int64 or
// float64.
func (p *parser) convert(v any, t metadata.TypeRef) (any, error) {
	if v == nil {
		return nil, nil
	}
	if t.Kind == metadata.KindEnum {
		return p.enumValue(v, t)
	}

	s, isString := v.(string)
	n, isNumber := v.(json.Number)
	if isNumber {
		s = n.String()
	}
	fail := func(err error) (any, error) {
		return nil, &oerrors.FormatError{Value: s, Target: t.Name, Err: err}
	}

	switch t.Name {
	case "":
		return untyped(v, p.adapter), nil
	case "Edm.String":
		if isString || isNumber {
			return s, nil
		}
	case "Edm.Boolean":
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return fail(err)
			}
			return b, nil
		}
	case "Edm.Byte":
		u, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return fail(err)
		}
		return uint8(u), nil
	case "Edm.SByte", "Edm.Int16", "Edm.Int32", "Edm.Int64":
		bits := map[string]int{"Edm.SByte": 8, "Edm.Int16": 16, "Edm.Int32": 32, "Edm.Int64": 64}[t.Name]
		i, err := strconv.ParseInt(s, 10, bits)
		if err != nil {
			return fail(err)
		}
		switch bits {
		case 8:
			return int8(i), nil
		case 16:
			return int16(i), nil
		case 32:
			return int32(i), nil
		}
		return i, nil
	case "Edm.Single", "Edm.Double":
		f, err := parseFloat(s)
		if err != nil {
			return fail(err)
		}
		if t.Name == "Edm.Single" {
			return float32(f), nil
		}
		return f, nil
	case "Edm.Decimal":
		d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSuffix(s, "M"), "m"))
		if err != nil {
			return fail(err)
		}
		return d, nil
	case "Edm.Guid":
		id, err := uuid.Parse(s)
		if err != nil {
			return fail(err)
		}
		return id, nil
	case "Edm.Binary", "Edm.Stream":
		b, err := decodeBinary(s)
		if err != nil {
			return fail(err)
		}
		return b, nil
	case "Edm.DateTimeOffset", "Edm.DateTime":
		ts, err := parseTime(s)
		if err != nil {
			return fail(err)
		}
		return ts, nil
	case "Edm.Date":
		ts, err := time.Parse("2006-01-02", s)
		if err != nil {
			return fail(err)
		}
		return ts, nil
	case "Edm.TimeOfDay":
		ts, err := time.Parse("15:04:05.999999999", s)
		if err != nil {
			return fail(err)
		}
		return ts, nil
	case "Edm.Duration", "Edm.Time":
		d, err := protocol.ParseDuration(s)
		if err != nil {
			return fail(err)
		}
		return d, nil
	default:
		return untyped(v, p.adapter), nil
	}
	return fail(nil)
}

// enumValue returns the member name. Numeric values are looked up in the
// enum type; flags and unknown names stay as sent.
func (p *parser) enumValue(v any, t metadata.TypeRef) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil, &oerrors.FormatError{Value: x.String(), Target: t.Name, Err: err}
		}
		if p.facade != nil {
			if et, ok := p.facade.EnumType(t.Name); ok {
				if m, ok := et.MemberByValue(i); ok {
					return m.Name, nil
				}
			}
		}
		return nil, &oerrors.FormatError{Value: x.String(), Target: t.Name}
	}
	return v, nil
}

func untyped(v any, a *protocol.Adapter) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case string:
		if a != nil && a.Verbose && verboseDate.MatchString(x) {
			if ts, err := parseTime(x); err == nil {
				return ts
			}
		}
		return x
	}
	return v
}

func parseFloat(s string) (float64, error) {
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "INF", "Infinity":
		return math.Inf(1), nil
	case "-INF", "-Infinity":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(strings.TrimRight(s, "dDfF"), 64)
}

// parseTime accepts RFC 3339 timestamps, zone-less Edm.DateTime values
// (read as UTC) and V2 /Date(ms)/ values.
func parseTime(s string) (time.Time, error) {
	if m := verboseDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		ts := time.UnixMilli(ms).UTC()
		if m[2] != "" {
			minutes, _ := strconv.Atoi(m[2][1:])
			if m[2][0] == '-' {
				minutes = -minutes
			}
			ts = ts.In(time.FixedZone("", minutes*60))
		}
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
}

// decodeBinary reads base64 in either the standard or the URL alphabet,
// padded or not. V4 writes base64url, earlier versions standard base64.
func decodeBinary(s string) ([]byte, error) {
	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	if !strings.HasSuffix(s, "=") && len(s)%4 != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}
	return enc.DecodeString(s)
}
