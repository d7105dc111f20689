package nodes

import (
	"context"
	"encoding/json"

	"github.com/nexlead/leadflow/pkg/schema"
)

const triggerConfigSchema = `{
  "type": "object",
  "properties": {
    "description": {"type": "string"},
    "triggerType": {"type": "string", "enum": ["manual", "webhook", "schedule"], "default": "manual"}
  },
  "additionalProperties": false
}`

// TriggerRunner is the flow entry point: a pass-through that surfaces the
// run's input payload as both triggerData and leadData.
type TriggerRunner struct {
	deps Deps
}

type triggerConfig struct {
	Description string `json:"description,omitempty"`
	TriggerType string `json:"triggerType,omitempty"`
}

// NewTriggerRunner creates the trigger runner.
func NewTriggerRunner(deps Deps) *TriggerRunner {
	return &TriggerRunner{deps: deps}
}

func (r *TriggerRunner) Type() schema.NodeType { return schema.NodeTypeTrigger }

func (r *TriggerRunner) Schema() RunnerSchema {
	return RunnerSchema{
		Description:  "Flow entry point. Passes the run input through as triggerData and leadData.",
		ConfigSchema: json.RawMessage(triggerConfigSchema),
	}
}

func (r *TriggerRunner) Run(_ context.Context, in RunInput) *schema.RunResult {
	var cfg triggerConfig
	if ferr := decodeConfig(r.deps, triggerConfigSchema, in.Config, &cfg); ferr != nil {
		return schema.Fail(ferr.WithNode(in.NodeID))
	}

	input := map[string]any{}
	if trig, ok := in.Context.Variables["trigger"].(map[string]any); ok {
		if payload, ok := trig["input"].(map[string]any); ok {
			input = payload
		}
	}

	return schema.OK(map[string]any{
		"triggerData": input,
		"leadData":    input,
	})
}

var _ Runner = (*TriggerRunner)(nil)
