package nodes

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nexlead/leadflow/internal/connections"
	"github.com/nexlead/leadflow/internal/template"
	"github.com/nexlead/leadflow/pkg/schema"
)

// Runner is the executable unit behind one node type. Run never panics
// across the boundary and never mutates the shared context: every outcome,
// including invalid config, is reported through the RunResult union.
type Runner interface {
	Type() schema.NodeType
	Schema() RunnerSchema
	Run(ctx context.Context, in RunInput) *schema.RunResult
}

// RunnerSchema describes a runner's config contract.
type RunnerSchema struct {
	Description  string          `json:"description,omitempty"`
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
}

// RunInput is everything a runner receives for one node execution.
type RunInput struct {
	NodeID  string
	Config  json.RawMessage
	Context *ExecutionContext
	Options RunOptions
}

// RunOptions carries executor-level switches into a runner.
type RunOptions struct {
	EnableLogs bool
}

// ExecutionContext is the per-run bag of variables, connections and
// accumulated step results. One context serves exactly one flow run;
// runners read it, only the executor records into it.
type ExecutionContext struct {
	Variables   map[string]any
	Connections map[string]connections.Bundle

	// Renderer overrides the runner's default template engine when set.
	Renderer *template.Engine

	mu    sync.RWMutex
	steps map[string]*schema.RunResult
	order []string
}

// NewExecutionContext creates a fresh context for one run. The input payload
// becomes variables.trigger.input.
func NewExecutionContext(input map[string]any, conns map[string]connections.Bundle) *ExecutionContext {
	if input == nil {
		input = map[string]any{}
	}
	return &ExecutionContext{
		Variables: map[string]any{
			"trigger": map[string]any{"input": input},
		},
		Connections: conns,
		steps:       make(map[string]*schema.RunResult),
	}
}

// RecordStep stores a node's result. Each node ID is written exactly once;
// a second write for the same ID is a conflict.
func (c *ExecutionContext) RecordStep(nodeID string, result *schema.RunResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.steps[nodeID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step result for node %q already recorded", nodeID)
	}
	c.steps[nodeID] = result
	c.order = append(c.order, nodeID)
	return nil
}

// StepResult returns a recorded result, or nil when the node has not run.
func (c *ExecutionContext) StepResult(nodeID string) *schema.RunResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.steps[nodeID]
}

// StepIDs returns node IDs in execution order.
func (c *ExecutionContext) StepIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// StepData maps node ID to a template-addressable view of its result.
func (c *ExecutionContext) StepData() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any, len(c.steps))
	for id, r := range c.steps {
		out[id] = stepView(r)
	}
	return out
}

func stepView(r *schema.RunResult) map[string]any {
	view := map[string]any{"success": r.Success}
	if r.Data != nil {
		view["data"] = r.Data
	}
	if r.Error != "" {
		view["error"] = r.Error
	}
	return view
}

// Scope builds the template/expression resolution scope for this context.
// Variables merge in at the top level, so {{trigger.input.userId}} works,
// plus the named sections: steps, stepResults, variables, connections,
// input (the most recent step's data) and leadData.
func (c *ExecutionContext) Scope() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scope := make(map[string]any, len(c.Variables)+6)
	for k, v := range c.Variables {
		scope[k] = v
	}

	steps := make(map[string]any, len(c.steps))
	for id, r := range c.steps {
		steps[id] = stepView(r)
	}
	scope["steps"] = steps
	scope["stepResults"] = steps
	scope["variables"] = c.Variables

	conns := make(map[string]any, len(c.Connections))
	for name, bundle := range c.Connections {
		conns[name] = map[string]any(bundle)
	}
	scope["connections"] = conns

	if last := c.lastStepDataLocked(); last != nil {
		scope["input"] = last
	}
	if lead := c.leadDataLocked(); lead != nil {
		scope["leadData"] = lead
	}
	return scope
}

// LeadData resolves the current lead record: the latest step that produced a
// leadData field wins, falling back to the trigger input.
func (c *ExecutionContext) LeadData() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leadDataLocked()
}

func (c *ExecutionContext) leadDataLocked() map[string]any {
	for i := len(c.order) - 1; i >= 0; i-- {
		r := c.steps[c.order[i]]
		if r == nil || r.Data == nil {
			continue
		}
		if lead, ok := r.Data["leadData"].(map[string]any); ok {
			return lead
		}
	}
	if trig, ok := c.Variables["trigger"].(map[string]any); ok {
		if input, ok := trig["input"].(map[string]any); ok {
			return input
		}
	}
	return nil
}

func (c *ExecutionContext) lastStepDataLocked() map[string]any {
	for i := len(c.order) - 1; i >= 0; i-- {
		if r := c.steps[c.order[i]]; r != nil && r.Data != nil {
			return r.Data
		}
	}
	return nil
}
