package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface over the scalars a registry column can hold.
// Only Null, Text, Int and Real implement it.
type Value interface {
	value() // Sealed

	// SQL returns the value as a database/sql argument.
	SQL() any
}

// Null is an absent value, stored as SQL NULL.
type Null struct{}

func (Null) value()   {}
func (Null) SQL() any { return nil }

func (Null) String() string { return "NULL" }

// Text is a text column value.
type Text string

func (Text) value()     {}
func (t Text) SQL() any { return string(t) }

// Int is an integer column value.
type Int int64

func (Int) value()     {}
func (i Int) SQL() any { return int64(i) }

// Real is a real column value.
type Real float64

func (Real) value()     {}
func (r Real) SQL() any { return float64(r) }

// Coerce converts a raw property value to the given column type.
//
// Accepted inputs are Value, string, bool, signed and unsigned integers and
// floats. Strings are trimmed; numeric columns parse them. A nil input
// coerces to Null for every type.
func Coerce(t ColumnType, raw any) (Value, error) {
	if raw == nil {
		return Null{}, nil
	}
	if v, ok := raw.(Value); ok {
		raw = v.SQL()
		if raw == nil {
			return Null{}, nil
		}
	}

	switch t {
	case TypeText:
		return coerceText(raw)
	case TypeInteger:
		return coerceInt(raw)
	case TypeReal:
		return coerceReal(raw)
	default:
		return nil, fmt.Errorf("unsupported column type %q", t)
	}
}

func coerceText(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return Text(strings.TrimSpace(v)), nil
	case bool:
		if v {
			return Text("T"), nil
		}
		return Text("F"), nil
	case float64:
		return Text(strconv.FormatFloat(v, 'g', -1, 64)), nil
	case float32:
		return Text(strconv.FormatFloat(float64(v), 'g', -1, 32)), nil
	default:
		if n, ok := asInt64(raw); ok {
			return Text(strconv.FormatInt(n, 10)), nil
		}
		return nil, fmt.Errorf("cannot convert %T to text", raw)
	}
}

func coerceInt(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return Int(n), nil
		}
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("cannot convert %q to integer", v)
		}
		return Int(int64(f)), nil
	case bool:
		if v {
			return Int(1), nil
		}
		return Int(0), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("cannot convert %v to integer without loss", v)
		}
		return Int(int64(v)), nil
	case float32:
		return coerceInt(float64(v))
	default:
		if n, ok := asInt64(raw); ok {
			return Int(n), nil
		}
		return nil, fmt.Errorf("cannot convert %T to integer", raw)
	}
}

func coerceReal(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to real", v)
		}
		return Real(f), nil
	case bool:
		if v {
			return Real(1), nil
		}
		return Real(0), nil
	case float64:
		return Real(v), nil
	case float32:
		return Real(float64(v)), nil
	default:
		if n, ok := asInt64(raw); ok {
			return Real(float64(n)), nil
		}
		return nil, fmt.Errorf("cannot convert %T to real", raw)
	}
}

func asInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}
