package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexlead/leadflow/pkg/schema"
)

func transformRun(t *testing.T, ec *ExecutionContext, config string) *schema.RunResult {
	t.Helper()
	runner := NewDataTransformRunner(testDeps(t))
	return runner.Run(context.Background(), RunInput{
		NodeID:  "tf1",
		Config:  rawConfig(config),
		Context: ec,
	})
}

func outputOf(t *testing.T, res *schema.RunResult) map[string]any {
	t.Helper()
	out, ok := res.Data["data"].(map[string]any)
	require.True(t, ok)
	return out
}

func TestDataTransform_Copy(t *testing.T) {
	ec := testCtx(map[string]any{"name": "Ada"})
	res := transformRun(t, ec, `{"transformations": [
		{"type": "copy", "sourceField": "trigger.input.name", "targetField": "userName"}
	]}`)

	require.True(t, res.Success)
	assert.Equal(t, "Ada", outputOf(t, res)["userName"])
	assert.Equal(t, 1, res.Data["transformationsApplied"])
}

func TestDataTransform_Format(t *testing.T) {
	ec := testCtx(map[string]any{"first": "Ada", "last": "Lovelace"})
	res := transformRun(t, ec, `{"transformations": [
		{"type": "format", "targetField": "fullName", "template": "{{trigger.input.first}} {{trigger.input.last}}"}
	]}`)

	require.True(t, res.Success)
	assert.Equal(t, "Ada Lovelace", outputOf(t, res)["fullName"])
}

func TestDataTransform_MapWithPassthrough(t *testing.T) {
	ec := testCtx(map[string]any{"status": "new", "other": "unknown"})
	res := transformRun(t, ec, `{"transformations": [
		{"type": "map", "sourceField": "trigger.input.status", "targetField": "stage",
		 "mapping": {"new": "prospecting", "won": "closed"}},
		{"type": "map", "sourceField": "trigger.input.other", "targetField": "otherStage",
		 "mapping": {"new": "prospecting"}}
	]}`)

	require.True(t, res.Success)
	out := outputOf(t, res)
	assert.Equal(t, "prospecting", out["stage"])
	assert.Equal(t, "unknown", out["otherStage"], "unmapped values pass through")
}

func TestDataTransform_Extract(t *testing.T) {
	ec := testCtx(nil)
	require.NoError(t, ec.RecordStep("fetch", schema.OK(map[string]any{
		"body": map[string]any{"user": map[string]any{"name": "Ada"}},
	})))

	res := transformRun(t, ec, `{"transformations": [
		{"type": "extract", "sourceField": "steps.fetch.data", "extractPath": "body.user.name", "targetField": "userName"}
	]}`)

	require.True(t, res.Success)
	assert.Equal(t, "Ada", outputOf(t, res)["userName"])
}

func TestDataTransform_CombineSkipsMissing(t *testing.T) {
	ec := testCtx(map[string]any{"first": "Ada", "last": "Lovelace"})
	res := transformRun(t, ec, `{"transformations": [
		{"type": "combine", "targetField": "joined",
		 "sourceFields": ["trigger.input.first", "trigger.input.middle", "trigger.input.last"],
		 "separator": " "}
	]}`)

	require.True(t, res.Success)
	assert.Equal(t, "Ada Lovelace", outputOf(t, res)["joined"])
}

func TestDataTransform_Query(t *testing.T) {
	ec := testCtx(map[string]any{
		"scores": []any{float64(10), float64(55), float64(90)},
	})
	res := transformRun(t, ec, `{"transformations": [
		{"type": "query", "sourceField": "trigger.input", "targetField": "high",
		 "query": "[.scores[] | select(. > 50)]"}
	]}`)

	require.True(t, res.Success)
	assert.Equal(t, []any{float64(55), float64(90)}, outputOf(t, res)["high"])
}

func TestDataTransform_PartialFailureTolerance(t *testing.T) {
	ec := testCtx(map[string]any{"a": "1", "c": "3"})
	res := transformRun(t, ec, `{"transformations": [
		{"type": "copy", "sourceField": "trigger.input.a", "targetField": "outA"},
		{"type": "copy", "sourceField": "trigger.input.missing", "targetField": "outB"},
		{"type": "copy", "sourceField": "trigger.input.c", "targetField": "outC"}
	]}`)

	require.True(t, res.Success, "a failing transformation must not fail the node")
	out := outputOf(t, res)
	assert.Equal(t, "1", out["outA"])
	assert.Equal(t, "3", out["outC"])
	assert.NotContains(t, out, "outB")
	assert.Equal(t, 2, res.Data["transformationsApplied"])
	assert.Equal(t, 1, res.Data["transformationsFailed"])
}

func TestDataTransform_PreserveOriginal(t *testing.T) {
	ec := testCtx(nil)
	require.NoError(t, ec.RecordStep("fetch", schema.OK(map[string]any{
		"body": map[string]any{"name": "Ada"}, "status": 200,
	})))

	res := transformRun(t, ec, `{"preserveOriginal": true, "transformations": [
		{"type": "copy", "sourceField": "input.body.name", "targetField": "userName"}
	]}`)

	require.True(t, res.Success)
	out := outputOf(t, res)
	assert.Equal(t, "Ada", out["userName"])
	assert.Contains(t, out, "body", "original input fields are kept")
	assert.Contains(t, out, "status")
}

func TestDataTransform_NestedTargetPath(t *testing.T) {
	ec := testCtx(map[string]any{"name": "Ada"})
	res := transformRun(t, ec, `{"transformations": [
		{"type": "copy", "sourceField": "trigger.input.name", "targetField": "user.profile.name"}
	]}`)

	require.True(t, res.Success)
	name, ok := lookup(outputOf(t, res), "user.profile.name")
	require.True(t, ok)
	assert.Equal(t, "Ada", name)
}

func TestDataTransform_RejectsInvalidConfig(t *testing.T) {
	res := transformRun(t, testCtx(nil), `{"transformations": []}`)

	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeValidation, res.ErrorCode)
}
