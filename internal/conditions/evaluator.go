package conditions

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nexlead/leadflow/internal/template"
	"github.com/nexlead/leadflow/pkg/schema"
)

// Check is the outcome of evaluating a single condition.
type Check struct {
	Condition   schema.Condition `json:"condition"`
	Result      bool             `json:"result"`
	ActualValue any              `json:"actualValue"`
	Message     string           `json:"message,omitempty"`
}

// Outcome is the combined result of an ordered condition set.
type Outcome struct {
	Result  bool    `json:"result"`
	Details []Check `json:"details"`
}

// Validate evaluates one condition against lead-like data. The field is a
// dot path; a missing path yields a nil actual value. Evaluation never
// fails: an unsupported operator produces Result=false with a message.
func Validate(data map[string]any, cond schema.Condition) Check {
	actual, _ := template.Lookup(data, cond.Field)
	check := Check{Condition: cond, ActualValue: actual}

	switch cond.Operator {
	case schema.OpEqual:
		check.Result = looseEqual(actual, cond.Value)
	case schema.OpNotEqual:
		check.Result = !looseEqual(actual, cond.Value)
	case schema.OpGreater:
		check.Result = compareNumbers(actual, cond.Value, func(a, b float64) bool { return a > b })
	case schema.OpLess:
		check.Result = compareNumbers(actual, cond.Value, func(a, b float64) bool { return a < b })
	case schema.OpGreaterEqual:
		check.Result = compareNumbers(actual, cond.Value, func(a, b float64) bool { return a >= b })
	case schema.OpLessEqual:
		check.Result = compareNumbers(actual, cond.Value, func(a, b float64) bool { return a <= b })
	case schema.OpContains:
		check.Result = strings.Contains(coerceString(actual), coerceString(cond.Value))
	case schema.OpStartsWith:
		check.Result = strings.HasPrefix(coerceString(actual), coerceString(cond.Value))
	case schema.OpEndsWith:
		check.Result = strings.HasSuffix(coerceString(actual), coerceString(cond.Value))
	case schema.OpIsEmpty:
		check.Result = isEmptyValue(actual)
	case schema.OpIsNotEmpty:
		check.Result = !isEmptyValue(actual)
	case schema.OpLengthGT:
		check.Result = compareLength(actual, cond.Value, func(l, n float64) bool { return l > n })
	case schema.OpLengthLT:
		check.Result = compareLength(actual, cond.Value, func(l, n float64) bool { return l < n })
	case schema.OpLengthEQ:
		check.Result = compareLength(actual, cond.Value, func(l, n float64) bool { return l == n })
	default:
		check.Result = false
		check.Message = fmt.Sprintf("unsupported operator %q", cond.Operator)
	}

	return check
}

// Evaluate combines an ordered condition set left to right. The accumulator
// is seeded from condition 0; condition i (i >= 1) joins via the logic
// operator attached to condition i-1, defaulting to AND when unset.
//
// Note the indexing: a condition's logicOperator governs how the NEXT
// condition joins, not how it joins with the previous one. This matches the
// original engine and is kept as a compatibility contract.
func Evaluate(data map[string]any, conds []schema.Condition) Outcome {
	if len(conds) == 0 {
		return Outcome{Result: true}
	}

	details := make([]Check, len(conds))
	details[0] = Validate(data, conds[0])
	acc := details[0].Result

	for i := 1; i < len(conds); i++ {
		details[i] = Validate(data, conds[i])
		if conds[i-1].LogicOperator == schema.LogicOr {
			acc = acc || details[i].Result
		} else {
			acc = acc && details[i].Result
		}
	}

	return Outcome{Result: acc, Details: details}
}

// looseEqual implements type-coercing equality: two strings compare as
// strings, otherwise both sides are coerced to numbers when possible, with
// a final fallback to string-form comparison.
func looseEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}

	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return as == bs
	}

	an, aOK := toNumber(a)
	bn, bOK := toNumber(b)
	if aOK && bOK {
		return an == bn
	}

	if a == nil || b == nil {
		return false
	}
	return coerceString(a) == coerceString(b)
}

func compareNumbers(a, b any, cmp func(a, b float64) bool) bool {
	an, aOK := toNumber(a)
	bn, bOK := toNumber(b)
	if !aOK || !bOK {
		return false // NaN comparisons are false
	}
	return cmp(an, bn)
}

func compareLength(actual, value any, cmp func(l, n float64) bool) bool {
	n, ok := toNumber(value)
	if !ok {
		return false
	}
	return cmp(float64(len(coerceString(actual))), n)
}

// toNumber coerces a value to a number. Booleans map to 0/1, the empty
// string to 0, numeric strings parse; everything else is NaN (ok=false).
// A nil value (missing path) is NaN, so ordering checks against it fail.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	default:
		return math.NaN(), false
	}
}

// coerceString converts any value to its string form for the string
// operators. Nil becomes the empty string.
func coerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		if s {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// isEmptyValue reports whether a value is falsy: nil, "", false, 0 or NaN.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case float64:
		return val == 0 || math.IsNaN(val)
	case int:
		return val == 0
	case int64:
		return val == 0
	default:
		return false
	}
}
