// Package logic evaluates the advanced condition sets attached to policy rules.
package logic

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Operator is a comparison applied to one request parameter.
type Operator string

// Supported operators. Anything else never matches.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpStartsWith  Operator = "startswith"
	OpEndsWith    Operator = "endswith"
	OpGT          Operator = "gt"
	OpGTE         Operator = "gte"
	OpLT          Operator = "lt"
	OpLTE         Operator = "lte"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

var supportedOperators = map[Operator]struct{}{
	OpEquals: {}, OpNotEquals: {}, OpContains: {}, OpNotContains: {},
	OpIn: {}, OpNotIn: {}, OpStartsWith: {}, OpEndsWith: {},
	OpGT: {}, OpGTE: {}, OpLT: {}, OpLTE: {}, OpExists: {}, OpNotExists: {},
}

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	_, ok := supportedOperators[o]
	return ok
}

// Apply compares the request value against expected. actual.Exists() is false when the
// parameter is absent from the payload.
func (o Operator) Apply(actual gjson.Result, expected any) bool {
	value := actualValue(actual)
	switch o {
	case OpEquals:
		return valuesEqual(value, expected)
	case OpNotEquals:
		return !valuesEqual(value, expected)
	case OpContains:
		return strings.Contains(stringify(value), stringify(expected))
	case OpNotContains:
		return !strings.Contains(stringify(value), stringify(expected))
	case OpIn:
		return member(value, expected)
	case OpNotIn:
		return !member(value, expected)
	case OpStartsWith:
		return strings.HasPrefix(stringify(value), stringify(expected))
	case OpEndsWith:
		return strings.HasSuffix(stringify(value), stringify(expected))
	case OpGT:
		c, ok := compare(value, expected)
		return ok && c > 0
	case OpGTE:
		c, ok := compare(value, expected)
		return ok && c >= 0
	case OpLT:
		c, ok := compare(value, expected)
		return ok && c < 0
	case OpLTE:
		c, ok := compare(value, expected)
		return ok && c <= 0
	case OpExists:
		return value != nil
	case OpNotExists:
		return value == nil
	default:
		return false
	}
}

func actualValue(r gjson.Result) any {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	return r.Value()
}

func valuesEqual(a, b any) bool {
	if af, ok := toNumber(a); ok {
		if bf, okB := toNumber(b); okB {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func member(value, expected any) bool {
	switch set := expected.(type) {
	case nil:
		return false
	case []any:
		for _, item := range set {
			if valuesEqual(value, item) {
				return true
			}
		}
		return false
	case string:
		s, ok := value.(string)
		return ok && strings.Contains(set, s)
	default:
		return false
	}
}

// compare orders two numbers or two strings.
func compare(a, b any) (int, bool) {
	if af, ok := toNumber(a); ok {
		bf, okB := toNumber(b)
		if !okB {
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
	as, okA := a.(string)
	bs, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		if f, ok := toNumber(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return ""
	}
}
