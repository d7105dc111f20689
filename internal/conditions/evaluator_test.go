package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexlead/leadflow/pkg/schema"
)

func cond(field string, op schema.Operator, value any) schema.Condition {
	return schema.Condition{Field: field, Operator: op, Value: value}
}

func TestValidate_LooseEquality(t *testing.T) {
	data := map[string]any{"score": float64(42), "name": "Ada", "active": true}

	assert.True(t, Validate(data, cond("score", schema.OpEqual, float64(42))).Result)
	// Coercing: number vs numeric string.
	assert.True(t, Validate(data, cond("score", schema.OpEqual, "42")).Result)
	assert.True(t, Validate(data, cond("name", schema.OpEqual, "Ada")).Result)
	assert.False(t, Validate(data, cond("name", schema.OpEqual, "Grace")).Result)
	assert.True(t, Validate(data, cond("active", schema.OpEqual, float64(1))).Result)

	assert.True(t, Validate(data, cond("score", schema.OpNotEqual, float64(7))).Result)
	assert.False(t, Validate(data, cond("score", schema.OpNotEqual, "42")).Result)
}

func TestValidate_MissingFieldIsNil(t *testing.T) {
	check := Validate(map[string]any{}, cond("no.such.path", schema.OpEqual, "x"))
	assert.False(t, check.Result)
	assert.Nil(t, check.ActualValue)

	// nil == nil under loose equality.
	assert.True(t, Validate(map[string]any{}, cond("missing", schema.OpEqual, nil)).Result)
}

func TestValidate_NumericComparisons(t *testing.T) {
	data := map[string]any{"value": float64(10), "text": "abc"}

	assert.True(t, Validate(data, cond("value", schema.OpGreater, float64(5))).Result)
	assert.False(t, Validate(data, cond("value", schema.OpGreater, float64(10))).Result)
	assert.True(t, Validate(data, cond("value", schema.OpGreaterEqual, float64(10))).Result)
	assert.True(t, Validate(data, cond("value", schema.OpLess, "20")).Result)
	assert.True(t, Validate(data, cond("value", schema.OpLessEqual, float64(10))).Result)

	// NaN comparisons evaluate false, in both directions.
	assert.False(t, Validate(data, cond("text", schema.OpGreater, float64(1))).Result)
	assert.False(t, Validate(data, cond("text", schema.OpLess, float64(1))).Result)
	assert.False(t, Validate(data, cond("value", schema.OpGreater, "oops")).Result)
	assert.False(t, Validate(data, cond("missing", schema.OpGreaterEqual, float64(0))).Result)
}

func TestValidate_StringOperators(t *testing.T) {
	data := map[string]any{"email": "ada@lovelace.dev", "count": float64(123)}

	assert.True(t, Validate(data, cond("email", schema.OpContains, "@lovelace")).Result)
	assert.True(t, Validate(data, cond("email", schema.OpStartsWith, "ada")).Result)
	assert.True(t, Validate(data, cond("email", schema.OpEndsWith, ".dev")).Result)
	assert.False(t, Validate(data, cond("email", schema.OpContains, "bob")).Result)

	// Both sides string-coerced.
	assert.True(t, Validate(data, cond("count", schema.OpContains, float64(2))).Result)
}

func TestValidate_Emptiness(t *testing.T) {
	data := map[string]any{
		"empty":  "",
		"zero":   float64(0),
		"falsed": false,
		"filled": "x",
	}

	assert.True(t, Validate(data, cond("empty", schema.OpIsEmpty, nil)).Result)
	assert.True(t, Validate(data, cond("zero", schema.OpIsEmpty, nil)).Result)
	assert.True(t, Validate(data, cond("falsed", schema.OpIsEmpty, nil)).Result)
	assert.True(t, Validate(data, cond("missing", schema.OpIsEmpty, nil)).Result)
	assert.False(t, Validate(data, cond("filled", schema.OpIsEmpty, nil)).Result)

	assert.True(t, Validate(data, cond("filled", schema.OpIsNotEmpty, nil)).Result)
	assert.False(t, Validate(data, cond("missing", schema.OpIsNotEmpty, nil)).Result)
}

func TestValidate_LengthOperators(t *testing.T) {
	data := map[string]any{"name": "Ada", "num": float64(1234)}

	assert.True(t, Validate(data, cond("name", schema.OpLengthGT, float64(2))).Result)
	assert.False(t, Validate(data, cond("name", schema.OpLengthGT, float64(3))).Result)
	assert.True(t, Validate(data, cond("name", schema.OpLengthLT, float64(4))).Result)
	assert.True(t, Validate(data, cond("name", schema.OpLengthEQ, "3")).Result)

	// Length of the string-coerced value.
	assert.True(t, Validate(data, cond("num", schema.OpLengthEQ, float64(4))).Result)

	// Non-numeric comparand never matches.
	assert.False(t, Validate(data, cond("name", schema.OpLengthGT, "abc")).Result)
}

func TestValidate_UnsupportedOperator(t *testing.T) {
	check := Validate(map[string]any{"a": 1}, cond("a", schema.Operator("~="), float64(1)))
	assert.False(t, check.Result)
	assert.NotEmpty(t, check.Message)
}

func TestEvaluate_EmptySetIsTrue(t *testing.T) {
	out := Evaluate(map[string]any{"a": 1}, nil)
	assert.True(t, out.Result)
	assert.Empty(t, out.Details)
}

func TestEvaluate_DefaultANDJoin(t *testing.T) {
	conds := []schema.Condition{
		cond("a", schema.OpEqual, float64(1)),
		cond("b", schema.OpEqual, float64(2)),
	}

	out := Evaluate(map[string]any{"a": float64(1), "b": float64(2)}, conds)
	assert.True(t, out.Result)
	assert.Len(t, out.Details, 2)

	out = Evaluate(map[string]any{"a": float64(1), "b": float64(3)}, conds)
	assert.False(t, out.Result)
}

func TestEvaluate_ORJoinUsesPrecedingConditionsOperator(t *testing.T) {
	// The OR on condition 0 governs how condition 1 joins.
	conds := []schema.Condition{
		{Field: "a", Operator: schema.OpEqual, Value: float64(1), LogicOperator: schema.LogicOr},
		{Field: "b", Operator: schema.OpEqual, Value: float64(2)},
	}

	out := Evaluate(map[string]any{"a": float64(1), "b": float64(3)}, conds)
	assert.True(t, out.Result)

	// An OR on the LAST condition is never consulted.
	conds = []schema.Condition{
		{Field: "a", Operator: schema.OpEqual, Value: float64(1)},
		{Field: "b", Operator: schema.OpEqual, Value: float64(2), LogicOperator: schema.LogicOr},
	}
	out = Evaluate(map[string]any{"a": float64(1), "b": float64(3)}, conds)
	assert.False(t, out.Result)
}

func TestEvaluate_MixedChain(t *testing.T) {
	// (((a AND b) OR c) AND d): left-to-right accumulation, no precedence.
	conds := []schema.Condition{
		{Field: "a", Operator: schema.OpIsNotEmpty},
		{Field: "b", Operator: schema.OpIsNotEmpty, LogicOperator: schema.LogicOr},
		{Field: "c", Operator: schema.OpIsNotEmpty},
		{Field: "d", Operator: schema.OpIsNotEmpty},
	}

	data := map[string]any{"a": "x", "b": "", "c": "x", "d": "x"}
	assert.True(t, Evaluate(data, conds).Result)

	data["d"] = ""
	assert.False(t, Evaluate(data, conds).Result)
}

func TestEvaluate_NestedFieldPaths(t *testing.T) {
	data := map[string]any{
		"lead": map[string]any{"contact": map[string]any{"email": "x@y.z"}},
	}
	conds := []schema.Condition{cond("lead.contact.email", schema.OpContains, "@")}
	assert.True(t, Evaluate(data, conds).Result)
}
