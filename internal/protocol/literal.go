package protocol

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odataclient/internal/edm"
	"github.com/nlstn/go-odataclient/internal/oerrors"
)

// KeyValue is one named key segment value.
type KeyValue struct {
	Name  string
	Value any
}

// FormatLiteral renders v as a URL literal for this protocol version.
func (a *Adapter) FormatLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return a.int64Literal(int64(x)), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return a.int64Literal(x), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return a.int64Literal(int64(x)), nil
	case uint:
		return a.decimalLiteral(decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(x)), 0)), nil
	case uint64:
		return a.decimalLiteral(decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0)), nil
	case float32:
		return a.floatLiteral(float64(x), 32, "f"), nil
	case float64:
		return a.floatLiteral(x, 64, "d"), nil
	case decimal.Decimal:
		return a.decimalLiteral(x), nil
	case uuid.UUID:
		if a.TypedLiterals {
			return "guid'" + x.String() + "'", nil
		}
		return x.String(), nil
	case time.Time:
		return a.timeLiteral(x), nil
	case time.Duration:
		if a.Version == V4 {
			return "duration'" + FormatDuration(x) + "'", nil
		}
		return "time'" + FormatDuration(x) + "'", nil
	case []byte:
		if a.TypedLiterals {
			return "X'" + strings.ToUpper(hex.EncodeToString(x)) + "'", nil
		}
		return "binary'" + base64.URLEncoding.EncodeToString(x) + "'", nil
	case edm.EnumValue:
		if a.Version == V4 && x.Type != "" {
			return x.Type + "'" + x.Member + "'", nil
		}
		return "'" + x.Member + "'", nil
	case edm.Spatial:
		return edm.Literal(x), nil
	case fmt.Stringer:
		return "'" + strings.ReplaceAll(x.String(), "'", "''") + "'", nil
	default:
		return "", oerrors.NotSupported("cannot format %T as a URL literal", v)
	}
}

func (a *Adapter) int64Literal(v int64) string {
	s := strconv.FormatInt(v, 10)
	if a.TypedLiterals && (v > math.MaxInt32 || v < math.MinInt32) {
		s += "L"
	}
	return s
}

func (a *Adapter) decimalLiteral(d decimal.Decimal) string {
	if a.TypedLiterals {
		return d.String() + "M"
	}
	return d.String()
}

func (a *Adapter) floatLiteral(f float64, bits int, suffix string) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	s := strconv.FormatFloat(f, 'G', -1, bits)
	if a.TypedLiterals && bits == 32 {
		s += suffix
	}
	return s
}

func (a *Adapter) timeLiteral(t time.Time) string {
	if a.Version == V4 {
		return t.Format(time.RFC3339Nano)
	}
	if t.Location() == time.UTC {
		return "datetime'" + t.Format("2006-01-02T15:04:05.9999999") + "'"
	}
	return "datetimeoffset'" + t.Format(time.RFC3339Nano) + "'"
}

// FormatKey renders a key segment. A single primary key value renders as
// (1); composite keys and alternate keys always render with names, as
// (OrderID=1,ProductID=2) or (Code='A1').
func (a *Adapter) FormatKey(values []KeyValue, named bool) (string, error) {
	if len(values) == 0 {
		return "", oerrors.InvalidOperation("FormatKey", "no key values")
	}
	if len(values) == 1 && !named {
		lit, err := a.FormatLiteral(values[0].Value)
		if err != nil {
			return "", err
		}
		return "(" + EscapePathLiteral(lit) + ")", nil
	}
	parts := make([]string, 0, len(values))
	for _, kv := range values {
		lit, err := a.FormatLiteral(kv.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, kv.Name+"="+EscapePathLiteral(lit))
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

// FormatDuration renders d as an ISO 8601 duration such as PT1H30M5.5S.
func FormatDuration(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteString("P")
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		b.WriteString(strconv.FormatInt(int64(days), 10))
		b.WriteByte('D')
	}
	b.WriteByte('T')
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	if hours > 0 {
		b.WriteString(strconv.FormatInt(int64(hours), 10))
		b.WriteByte('H')
	}
	if minutes > 0 {
		b.WriteString(strconv.FormatInt(int64(minutes), 10))
		b.WriteByte('M')
	}
	if d > 0 || (hours == 0 && minutes == 0) {
		b.WriteString(strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
		b.WriteByte('S')
	}
	return b.String()
}

// ParseDuration parses an ISO 8601 day-time duration.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if !strings.HasPrefix(s, "P") {
		return 0, &oerrors.FormatError{Value: orig, Target: "Edm.Duration"}
	}
	s = s[1:]
	var total time.Duration
	inTime := false
	for len(s) > 0 {
		if s[0] == 'T' {
			inTime = true
			s = s[1:]
			continue
		}
		i := strings.IndexAny(s, "DHMS")
		if i <= 0 {
			return 0, &oerrors.FormatError{Value: orig, Target: "Edm.Duration"}
		}
		n, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, &oerrors.FormatError{Value: orig, Target: "Edm.Duration", Err: err}
		}
		var unit time.Duration
		switch {
		case s[i] == 'D' && !inTime:
			unit = 24 * time.Hour
		case s[i] == 'H' && inTime:
			unit = time.Hour
		case s[i] == 'M' && inTime:
			unit = time.Minute
		case s[i] == 'S' && inTime:
			unit = time.Second
		default:
			return 0, &oerrors.FormatError{Value: orig, Target: "Edm.Duration"}
		}
		total += time.Duration(n * float64(unit))
		s = s[i+1:]
	}
	if neg {
		total = -total
	}
	return total, nil
}
