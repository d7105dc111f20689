package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexlead/leadflow/pkg/schema"
)

func gateRun(t *testing.T, ec *ExecutionContext, config string) *schema.RunResult {
	t.Helper()
	runner := NewLogicGateRunner(testDeps(t))
	return runner.Run(context.Background(), RunInput{
		NodeID:  "gate1",
		Config:  rawConfig(config),
		Context: ec,
	})
}

func TestLogicGate_TrueBranch(t *testing.T) {
	ec := testCtx(map[string]any{"score": float64(80)})

	res := gateRun(t, ec, `{"expression": "double(trigger.input.score) > 50.0"}`)

	require.True(t, res.Success)
	assert.Equal(t, true, res.Data["result"])
	assert.Equal(t, []string{"true"}, res.Outputs)
}

func TestLogicGate_FalseBranch(t *testing.T) {
	ec := testCtx(map[string]any{"score": float64(10)})

	res := gateRun(t, ec, `{"expression": "double(trigger.input.score) > 50.0"}`)

	require.True(t, res.Success)
	assert.Equal(t, false, res.Data["result"])
	assert.Equal(t, []string{"false"}, res.Outputs)
}

func TestLogicGate_CustomOutputHandles(t *testing.T) {
	ec := testCtx(map[string]any{"vip": true})

	res := gateRun(t, ec, `{"expression": "trigger.input.vip == true", "trueOutput": "fastlane", "falseOutput": "queue"}`)

	require.True(t, res.Success)
	assert.Equal(t, []string{"fastlane"}, res.Outputs)
}

func TestLogicGate_LeadDataInScope(t *testing.T) {
	ec := testCtx(map[string]any{"status": "qualified"})

	res := gateRun(t, ec, `{"expression": "lead.status == 'qualified'"}`)

	require.True(t, res.Success)
	assert.Equal(t, true, res.Data["result"])
}

func TestLogicGate_NonBooleanResultFails(t *testing.T) {
	res := gateRun(t, testCtx(nil), `{"expression": "1 + 1"}`)

	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeExecution, res.ErrorCode)
}

func TestLogicGate_CompileErrorFails(t *testing.T) {
	res := gateRun(t, testCtx(nil), `{"expression": "trigger.input.score >"}`)

	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeValidation, res.ErrorCode)
}

func TestLogicGate_MissingExpressionRejected(t *testing.T) {
	res := gateRun(t, testCtx(nil), `{}`)

	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeValidation, res.ErrorCode)
}
