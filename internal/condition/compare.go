package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"soarbook/pkg/models"
)

// Comparators accepted in playbook conditions.
const (
	OpEqual       = "=="
	OpNotEqual    = "!="
	OpGreater     = ">"
	OpGreaterEq   = ">="
	OpLess        = "<"
	OpLessEq      = "<="
	OpIn          = "in"
	OpNotIn       = "not in"
	OpContains    = "contains"
	OpNotContains = "not contains"
	OpExists      = "exists"
)

var validOps = map[string]struct{}{
	OpEqual: {}, OpNotEqual: {}, OpGreater: {}, OpGreaterEq: {}, OpLess: {}, OpLessEq: {},
	OpIn: {}, OpNotIn: {}, OpContains: {}, OpNotContains: {}, OpExists: {},
}

// ValidOp reports whether op is a known comparator.
func ValidOp(op string) bool {
	_, ok := validOps[normalizeOp(op)]
	return ok
}

func normalizeOp(op string) string {
	op = strings.ToLower(strings.Join(strings.Fields(op), " "))
	switch op {
	case "=":
		return OpEqual
	case "not_in":
		return OpNotIn
	case "not_contains":
		return OpNotContains
	}
	return op
}

// Compare applies op to a resolved value and a literal. Numeric comparators coerce
// both sides to numbers; a side that is not numeric never matches. Equality is
// numeric when both sides are numeric and textual otherwise.
func Compare(op string, left, right interface{}) (bool, error) {
	op = normalizeOp(op)
	if op == OpExists {
		return !models.IsEmpty(left), nil
	}
	if left == nil {
		return false, nil
	}

	switch op {
	case OpEqual:
		return equal(left, right), nil
	case OpNotEqual:
		return !equal(left, right), nil
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		if !lok || !rok {
			return false, nil
		}
		switch op {
		case OpGreater:
			return l > r, nil
		case OpGreaterEq:
			return l >= r, nil
		case OpLess:
			return l < r, nil
		default:
			return l <= r, nil
		}
	case OpIn:
		return member(left, right), nil
	case OpNotIn:
		return !member(left, right), nil
	case OpContains:
		return contains(left, right), nil
	case OpNotContains:
		return !contains(left, right), nil
	}
	return false, fmt.Errorf("unknown comparator %q", op)
}

func equal(left, right interface{}) bool {
	l, lok := toFloat(left)
	r, rok := toFloat(right)
	if lok && rok {
		return l == r
	}
	return models.FormatValue(left) == models.FormatValue(right)
}

func member(left, right interface{}) bool {
	for _, item := range listOf(right) {
		if equal(left, item) {
			return true
		}
	}
	return false
}

func contains(left, right interface{}) bool {
	switch l := left.(type) {
	case []interface{}, []string:
		return member(right, l)
	}
	return strings.Contains(models.FormatValue(left), models.FormatValue(right))
}

func listOf(v interface{}) []interface{} {
	switch val := v.(type) {
	case []interface{}:
		return val
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case string:
		parts := strings.Split(val, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	case nil:
		return nil
	}
	return []interface{}{v}
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}
