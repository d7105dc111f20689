package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexlead/leadflow/internal/connections"
	"github.com/nexlead/leadflow/internal/logging"
	"github.com/nexlead/leadflow/internal/nodes"
	"github.com/nexlead/leadflow/internal/streaming"
	"github.com/nexlead/leadflow/internal/validation"
	"github.com/nexlead/leadflow/pkg/schema"
)

// Executor walks a flow graph from the trigger, invokes each node's runner
// in dependency order, and threads step results into the shared context for
// downstream template resolution. One node at a time: downstream templates
// depend on upstream results being populated.
type Executor struct {
	registry    *nodes.Registry
	validator   *validation.Validator
	logger      *slog.Logger
	hub         streaming.EventHub
	annotations *AnnotationStore
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithEventHub sets the hub run events are published to.
func WithEventHub(hub streaming.EventHub) ExecutorOption {
	return func(e *Executor) { e.hub = hub }
}

// NewExecutor creates an Executor over a runner registry.
func NewExecutor(registry *nodes.Registry, validator *validation.Validator, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		validator:   validator,
		annotations: NewAnnotationStore(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Annotations exposes the ephemeral per-node run telemetry.
func (e *Executor) Annotations() *AnnotationStore { return e.annotations }

// Request is one flow execution request.
type Request struct {
	Flow        *schema.FlowDefinition
	InputData   map[string]any
	Connections map[string]connections.Bundle
	EnableLogs  bool
}

// Response is the outcome of one flow run.
type Response struct {
	RunID       string                       `json:"run_id"`
	Status      schema.FlowStatus            `json:"status"`
	StepResults map[string]*schema.RunResult `json:"step_results"`
	StepOrder   []string                     `json:"step_order"`
	Error       string                       `json:"error,omitempty"`
	StartedAt   time.Time                    `json:"started_at"`
	FinishedAt  time.Time                    `json:"finished_at"`
	DurationMs  int64                        `json:"duration_ms"`
}

// ExecuteFlow validates, parses and runs a flow. Definition problems return
// an error before anything executes; node failures during the run surface in
// the Response with status failed. Each run gets a fresh execution context.
func (e *Executor) ExecuteFlow(ctx context.Context, req Request) (*Response, error) {
	if err := e.validator.ValidateFlow(req.Flow); err != nil {
		return nil, err
	}
	graph, err := ParseGraph(req.Flow)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithFlowID(ctx, req.Flow.ID)
	ctx = logging.WithRunID(ctx, runID)

	ec := nodes.NewExecutionContext(req.InputData, req.Connections)
	started := time.Now().UTC()

	if req.EnableLogs {
		e.logger.InfoContext(ctx, "flow run started",
			slog.String("flow", req.Flow.Name),
			slog.Int("nodes", len(graph.Sorted)))
	}
	e.publish(ctx, streaming.StreamEvent{
		FlowID:    req.Flow.ID,
		RunID:     runID,
		EventType: streaming.EventFlowStarted,
	})

	resp := &Response{
		RunID:     runID,
		Status:    schema.FlowStatusCompleted,
		StartedAt: started,
	}

	active := map[string]bool{graph.Trigger: true}

	for _, nodeID := range graph.Sorted {
		if err := ctx.Err(); err != nil {
			resp.Status = schema.FlowStatusFailed
			resp.Error = schema.NewError(schema.ErrCodeCancelled, "flow run cancelled").Error()
			break
		}

		node := graph.Nodes[nodeID]
		if !active[nodeID] {
			e.annotations.MarkSkipped(nodeID)
			e.publish(ctx, streaming.StreamEvent{
				FlowID:    req.Flow.ID,
				RunID:     runID,
				NodeID:    nodeID,
				EventType: streaming.EventNodeSkipped,
			})
			continue
		}

		nodeCtx := logging.WithNodeID(ctx, nodeID)
		e.annotations.MarkRunning(nodeID)
		e.publish(nodeCtx, streaming.StreamEvent{
			FlowID:    req.Flow.ID,
			RunID:     runID,
			NodeID:    nodeID,
			EventType: streaming.EventNodeStarted,
		})

		result := e.runNode(nodeCtx, node, ec, req.EnableLogs)

		if err := ec.RecordStep(nodeID, result); err != nil {
			return nil, err
		}
		e.annotations.MarkResult(nodeID, result)
		e.publish(nodeCtx, streaming.StreamEvent{
			FlowID:    req.Flow.ID,
			RunID:     runID,
			NodeID:    nodeID,
			EventType: streaming.EventNodeCompleted,
			Payload:   map[string]any{"success": result.Success, "error": result.Error},
		})

		if result.Success {
			for _, target := range graph.ActiveTargets(nodeID, result.Outputs) {
				active[target] = true
			}
			continue
		}

		if req.EnableLogs {
			e.logger.WarnContext(nodeCtx, "node failed",
				slog.String("node_type", string(node.Type)),
				slog.String("error", result.Error))
		}

		if continueOnError(node) {
			// Flagged nodes let the flow proceed past their failure.
			for _, target := range graph.ActiveTargets(nodeID, result.Outputs) {
				active[target] = true
			}
			continue
		}

		resp.Status = schema.FlowStatusFailed
		resp.Error = result.Error
		break
	}

	resp.StepOrder = ec.StepIDs()
	resp.StepResults = make(map[string]*schema.RunResult, len(resp.StepOrder))
	for _, id := range resp.StepOrder {
		resp.StepResults[id] = ec.StepResult(id)
	}
	resp.FinishedAt = time.Now().UTC()
	resp.DurationMs = resp.FinishedAt.Sub(resp.StartedAt).Milliseconds()

	e.publish(ctx, streaming.StreamEvent{
		FlowID:    req.Flow.ID,
		RunID:     runID,
		EventType: streaming.EventFlowFinished,
		Payload:   map[string]any{"status": resp.Status, "steps": len(resp.StepOrder)},
	})
	if req.EnableLogs {
		e.logger.InfoContext(ctx, "flow run finished",
			slog.String("status", string(resp.Status)),
			slog.Int64("duration_ms", resp.DurationMs))
	}

	return resp, nil
}

// runNode resolves the runner for a node and executes it. Missing runners
// become error results rather than aborting the run bookkeeping.
func (e *Executor) runNode(ctx context.Context, node *schema.NodeDefinition, ec *nodes.ExecutionContext, enableLogs bool) *schema.RunResult {
	runner, err := e.registry.Get(node.Type)
	if err != nil {
		ferr, ok := err.(*schema.FlowError)
		if !ok {
			ferr = schema.NewError(schema.ErrCodeExecution, err.Error())
		}
		return schema.Fail(ferr.WithNode(node.ID))
	}

	return runner.Run(ctx, nodes.RunInput{
		NodeID:  node.ID,
		Config:  node.Data.Config,
		Context: ec,
		Options: nodes.RunOptions{EnableLogs: enableLogs},
	})
}

func (e *Executor) publish(ctx context.Context, event streaming.StreamEvent) {
	if e.hub == nil {
		return
	}
	_ = e.hub.Publish(ctx, event)
}

// continueOnError reads the flag shared by several node configs without
// knowing the full config shape.
func continueOnError(node *schema.NodeDefinition) bool {
	if len(node.Data.Config) == 0 {
		return false
	}
	var probe struct {
		ContinueOnError bool `json:"continueOnError"`
	}
	if err := json.Unmarshal(node.Data.Config, &probe); err != nil {
		return false
	}
	return probe.ContinueOnError
}
