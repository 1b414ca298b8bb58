package services

import (
	"encoding/json"
	"reflect"
	"strings"

	"flowdesk/internal/models"
)

// MatchesConditions reports whether data satisfies every condition (logical
// AND). An empty condition set always matches. The evaluator is pure: no
// side effects, safe for concurrent and repeated calls.
func MatchesConditions(conditions []models.Condition, data map[string]interface{}) bool {
	for _, cond := range conditions {
		if !evaluateCondition(cond, data) {
			return false
		}
	}
	return true
}

func evaluateCondition(cond models.Condition, data map[string]interface{}) bool {
	val, found := lookupField(data, cond.Field)
	present := found && val != nil

	switch cond.Operator {
	case models.OperatorExists:
		return present
	case models.OperatorNotExists:
		return !present
	case models.OperatorEquals:
		return present && valuesEqual(val, cond.Value)
	case models.OperatorNotEquals:
		return !present || !valuesEqual(val, cond.Value)
	case models.OperatorContains:
		return present && containsValue(val, cond.Value)
	case models.OperatorGreaterThan:
		c, ok := compareOrdered(val, cond.Value)
		return ok && c > 0
	case models.OperatorLessThan:
		c, ok := compareOrdered(val, cond.Value)
		return ok && c < 0
	default:
		return false
	}
}

// lookupField walks a dot-path through nested maps. A missing intermediate
// key yields (nil, false), never an error.
func lookupField(data map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur interface{} = data
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// valuesEqual compares two values, normalizing numeric widths so that a
// float64 decoded from JSON equals an int supplied in code. No other
// coercion is performed.
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// containsValue supports array membership and string-in-string containment.
// Any other field type never matches.
func containsValue(field, want interface{}) bool {
	switch v := field.(type) {
	case []interface{}:
		for _, item := range v {
			if valuesEqual(item, want) {
				return true
			}
		}
		return false
	case []string:
		s, ok := want.(string)
		if !ok {
			return false
		}
		for _, item := range v {
			if item == s {
				return true
			}
		}
		return false
	case string:
		s, ok := want.(string)
		return ok && strings.Contains(v, s)
	default:
		return false
	}
}

// compareOrdered orders two comparable values: numbers numerically, strings
// lexicographically. Mismatched or unordered types report ok=false.
func compareOrdered(a, b interface{}) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
