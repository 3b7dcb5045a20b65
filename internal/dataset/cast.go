package dataset

import (
	"strconv"
	"strings"
	"time"
)

// Cast coerces v to the target type. The second return is false when the
// value cannot be represented as t. Nulls cast to null of any type.
func Cast(v any, t Type) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch t {
	case TypeBigint:
		return CastInt64(v)
	case TypeDouble:
		return CastFloat64(v)
	case TypeBoolean:
		return CastBool(v)
	case TypeTimestamp:
		return CastTime(v)
	case TypeText:
		return CastString(v)
	}
	return nil, false
}

// CastInt64 coerces v to an int64. Floats must be whole numbers.
func CastInt64(v any) (any, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
		return nil, false
	case bool:
		if x {
			return int64(1), true
		}
		return int64(0), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	}
	return nil, false
}

// CastFloat64 coerces v to a float64.
func CastFloat64(v any) (any, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

// CastBool coerces v to a bool.
func CastBool(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int64:
		if x == 0 || x == 1 {
			return x == 1, true
		}
		return nil, false
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(x)))
		if err != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}

// timeLayouts are tried in order when parsing timestamp strings.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CastTime coerces v to a time.Time. Integer values are epoch seconds.
func CastTime(v any) (any, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case int64:
		return time.Unix(x, 0).UTC(), true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		return nil, false
	}
	return nil, false
}

// CastString coerces v to its string representation.
func CastString(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339), true
	}
	return nil, false
}

// InferType guesses the narrowest column type that fits every sampled
// value. Adapters use it when the payload carries no type information.
func InferType(values []any) Type {
	t := Type("")
	for _, v := range values {
		if v == nil {
			continue
		}
		vt := typeOf(v)
		switch {
		case t == "":
			t = vt
		case t == vt:
		case t == TypeBigint && vt == TypeDouble,
			t == TypeDouble && vt == TypeBigint:
			t = TypeDouble
		default:
			return TypeText
		}
	}
	if t == "" {
		return TypeText
	}
	return t
}

func typeOf(v any) Type {
	switch x := v.(type) {
	case int64, int:
		return TypeBigint
	case float64:
		if x == float64(int64(x)) {
			return TypeBigint
		}
		return TypeDouble
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeTimestamp
	default:
		return TypeText
	}
}
