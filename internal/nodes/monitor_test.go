package nodes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexlead/leadflow/pkg/schema"
)

func monitorRun(t *testing.T, ec *ExecutionContext, config string) *schema.RunResult {
	t.Helper()
	runner := NewMonitorRunner(testDeps(t))
	return runner.Run(context.Background(), RunInput{
		NodeID:  "mon1",
		Config:  rawConfig(config),
		Context: ec,
	})
}

func TestMonitor_SnapshotIncludesStepResults(t *testing.T) {
	ec := testCtx(map[string]any{"userId": float64(42)})
	require.NoError(t, ec.RecordStep("fetch", schema.OK(map[string]any{"userName": "Ada"})))

	res := monitorRun(t, ec, `{}`)

	require.True(t, res.Success)
	snap, ok := res.Data["snapshot"].(map[string]any)
	require.True(t, ok)

	name, found := lookup(snap, "stepResults.fetch.data.userName")
	require.True(t, found)
	assert.Equal(t, "Ada", name)

	userID, found := lookup(snap, "trigger.input.userId")
	require.True(t, found)
	assert.Equal(t, float64(42), userID)
}

func TestMonitor_DisplayFieldsFilter(t *testing.T) {
	ec := testCtx(nil)
	ec.Variables["a"] = float64(1)
	ec.Variables["b"] = float64(2)
	ec.Variables["c"] = float64(3)

	res := monitorRun(t, ec, `{"displayFields": "currentVariables.a, currentVariables.b"}`)

	require.True(t, res.Success)
	snap := res.Data["snapshot"].(map[string]any)
	assert.Equal(t, float64(1), snap["currentVariables.a"])
	assert.Equal(t, float64(2), snap["currentVariables.b"])
	assert.NotContains(t, snap, "currentVariables.c")
	assert.Len(t, snap, 2)
}

func TestMonitor_MissingDisplayFieldIsOmitted(t *testing.T) {
	ec := testCtx(nil)
	ec.Variables["a"] = float64(1)

	res := monitorRun(t, ec, `{"displayFields": "currentVariables.a, currentVariables.ghost"}`)

	require.True(t, res.Success)
	snap := res.Data["snapshot"].(map[string]any)
	assert.Len(t, snap, 1)
}

func TestMonitor_Formats(t *testing.T) {
	ec := testCtx(nil)
	ec.Variables["a"] = "x"

	res := monitorRun(t, ec, `{"displayFields": "currentVariables.a", "format": "table"}`)
	require.True(t, res.Success)
	display := res.Data["display"].(string)
	assert.True(t, strings.HasPrefix(display, "KEY | VALUE"))
	assert.Contains(t, display, "currentVariables.a | x")

	res = monitorRun(t, ec, `{"displayFields": "currentVariables.a", "format": "list"}`)
	require.True(t, res.Success)
	assert.Contains(t, res.Data["display"].(string), "- currentVariables.a: x")

	res = monitorRun(t, ec, `{"displayFields": "currentVariables.a"}`)
	require.True(t, res.Success)
	assert.Contains(t, res.Data["display"].(string), `"currentVariables.a": "x"`)
}

func TestMonitor_TimestampToggle(t *testing.T) {
	res := monitorRun(t, testCtx(nil), `{}`)
	require.True(t, res.Success)
	assert.Contains(t, res.Data, "observedAt")

	res = monitorRun(t, testCtx(nil), `{"includeTimestamp": false}`)
	require.True(t, res.Success)
	assert.NotContains(t, res.Data, "observedAt")
}

func TestMonitor_DoesNotMutateContext(t *testing.T) {
	ec := testCtx(map[string]any{"name": "Ada"})
	require.NoError(t, ec.RecordStep("s1", schema.OK(map[string]any{"k": "v"})))

	_ = monitorRun(t, ec, `{}`)

	assert.Equal(t, []string{"s1"}, ec.StepIDs())
	assert.Equal(t, "Ada", ec.LeadData()["name"])
}
