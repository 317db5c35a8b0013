package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Conditions is the free-form condition map attached to policies and grants.
// Values are restricted to the JSON union: string, float64, bool, []interface{}
// and map[string]interface{}. The evaluator treats it as read-only.
type Conditions map[string]interface{}

// Has reports whether a key is present.
func (c Conditions) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// String returns the value under key rendered as a string. Non-string scalars
// are formatted; absent keys return "".
func (c Conditions) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Number returns the value under key as a float64 when it is numeric or a
// numeric string.
func (c Conditions) Number(key string) (float64, bool) {
	v, ok := c[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// List returns the value under key as a slice. Scalar values are not promoted.
func (c Conditions) List(key string) ([]interface{}, bool) {
	v, ok := c[key]
	if !ok {
		return nil, false
	}
	switch l := v.(type) {
	case []interface{}:
		return l, true
	case []string:
		out := make([]interface{}, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// StringList returns the value under key as a string slice, stringifying
// scalar elements.
func (c Conditions) StringList(key string) ([]string, bool) {
	l, ok := c.List(key)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(l))
	for _, v := range l {
		if s, ok := v.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out, true
}

// Clone returns a shallow copy so callers can hand out a map without
// exposing their own for mutation.
func (c Conditions) Clone() Conditions {
	if c == nil {
		return nil
	}
	out := make(Conditions, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
