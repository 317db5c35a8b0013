package conditions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nnipa/authz-service/pkg/types"
)

// MatchSimple reports whether every condition entry is satisfied by the
// request attributes. Supported expected values: "regex:<pattern>",
// "gt:<number>", "lt:<number>", a list (membership test) and plain equality.
// A missing attribute never matches. Malformed patterns or bounds are
// reported as errors so callers can fail closed.
func MatchSimple(conds types.Conditions, attrs map[string]interface{}) (bool, error) {
	for key, expected := range conds {
		actual, ok := attrs[key]
		if !ok {
			return false, nil
		}
		matched, err := matchValue(expected, actual)
		if err != nil {
			return false, fmt.Errorf("condition %q: %w", key, err)
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func matchValue(expected, actual interface{}) (bool, error) {
	switch exp := expected.(type) {
	case string:
		switch {
		case strings.HasPrefix(exp, "regex:"):
			re, err := regexp.Compile(strings.TrimPrefix(exp, "regex:"))
			if err != nil {
				return false, fmt.Errorf("bad pattern: %w", err)
			}
			return re.MatchString(stringify(actual)), nil
		case strings.HasPrefix(exp, "gt:"):
			bound, err := strconv.ParseFloat(strings.TrimPrefix(exp, "gt:"), 64)
			if err != nil {
				return false, fmt.Errorf("bad bound: %w", err)
			}
			n, ok := numeric(actual)
			return ok && n > bound, nil
		case strings.HasPrefix(exp, "lt:"):
			bound, err := strconv.ParseFloat(strings.TrimPrefix(exp, "lt:"), 64)
			if err != nil {
				return false, fmt.Errorf("bad bound: %w", err)
			}
			n, ok := numeric(actual)
			return ok && n < bound, nil
		default:
			s, ok := actual.(string)
			if ok {
				return s == exp, nil
			}
			return stringify(actual) == exp, nil
		}
	case []interface{}:
		for _, item := range exp {
			if equalValue(item, actual) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range exp {
			if equalValue(item, actual) {
				return true, nil
			}
		}
		return false, nil
	default:
		return equalValue(exp, actual), nil
	}
}

func equalValue(expected, actual interface{}) bool {
	if en, ok := numeric(expected); ok {
		an, ok := numeric(actual)
		return ok && en == an
	}
	if eb, ok := expected.(bool); ok {
		ab, ok := actual.(bool)
		return ok && eb == ab
	}
	return stringify(expected) == stringify(actual)
}

// numeric widens the number representations JSON decoding and Go callers
// produce to float64.
func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
