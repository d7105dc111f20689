package nodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexlead/leadflow/pkg/schema"
)

const logicGateConfigSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string", "minLength": 1},
    "trueOutput": {"type": "string", "default": "true"},
    "falseOutput": {"type": "string", "default": "false"}
  },
  "required": ["expression"],
  "additionalProperties": false
}`

type logicGateConfig struct {
	Expression  string `json:"expression"`
	TrueOutput  string `json:"trueOutput,omitempty"`
	FalseOutput string `json:"falseOutput,omitempty"`
}

// LogicGateRunner evaluates a CEL expression against the run scope and
// selects the true or false output handle for downstream edge gating.
type LogicGateRunner struct {
	deps Deps
}

// NewLogicGateRunner creates the logicGate runner.
func NewLogicGateRunner(deps Deps) *LogicGateRunner {
	return &LogicGateRunner{deps: deps}
}

func (r *LogicGateRunner) Type() schema.NodeType { return schema.NodeTypeLogicGate }

func (r *LogicGateRunner) Schema() RunnerSchema {
	return RunnerSchema{
		Description:  "Branch the flow on a CEL expression over trigger, steps, variables and lead data.",
		ConfigSchema: json.RawMessage(logicGateConfigSchema),
	}
}

func (r *LogicGateRunner) Run(ctx context.Context, in RunInput) *schema.RunResult {
	started := time.Now().UTC()

	var cfg logicGateConfig
	if ferr := decodeConfig(r.deps, logicGateConfigSchema, in.Config, &cfg); ferr != nil {
		return schema.Fail(ferr.WithNode(in.NodeID))
	}

	scope := in.Context.Scope()
	env := map[string]any{
		"trigger":   scope["trigger"],
		"steps":     scope["steps"],
		"variables": scope["variables"],
	}
	if lead := in.Context.LeadData(); lead != nil {
		env["lead"] = lead
	}

	out, err := r.deps.CEL.Evaluate(ctx, cfg.Expression, env)
	if err != nil {
		ferr, ok := err.(*schema.FlowError)
		if !ok {
			ferr = schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
		}
		return finish(schema.Fail(ferr.WithNode(in.NodeID)), started.UnixMilli())
	}

	verdict, ok := out.(bool)
	if !ok {
		return finish(schema.Fail(schema.NewErrorf(schema.ErrCodeExecution,
			"expression %q must evaluate to a boolean, got %T", cfg.Expression, out).WithNode(in.NodeID)), started.UnixMilli())
	}

	handle := cfg.FalseOutput
	if handle == "" {
		handle = "false"
	}
	if verdict {
		handle = cfg.TrueOutput
		if handle == "" {
			handle = "true"
		}
	}

	result := schema.OK(map[string]any{
		"result":     verdict,
		"output":     handle,
		"expression": cfg.Expression,
	})
	result.Outputs = []string{handle}
	return finish(result, started.UnixMilli())
}

var _ Runner = (*LogicGateRunner)(nil)
