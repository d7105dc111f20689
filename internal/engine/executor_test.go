package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexlead/leadflow/internal/nodes"
	"github.com/nexlead/leadflow/internal/store"
	"github.com/nexlead/leadflow/internal/streaming"
	"github.com/nexlead/leadflow/internal/template"
	"github.com/nexlead/leadflow/internal/validation"
	"github.com/nexlead/leadflow/pkg/schema"
)

func testExecutor(t *testing.T, opts ...ExecutorOption) *Executor {
	t.Helper()
	registry, err := nodes.DefaultRegistry(nodes.Deps{
		Store: store.NewMemoryStore(),
		HTTP: nodes.HTTPOptions{
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	validator, err := validation.NewValidator()
	require.NoError(t, err)

	return NewExecutor(registry, validator, opts...)
}

func configNode(id string, nodeType schema.NodeType, config string) schema.NodeDefinition {
	return schema.NodeDefinition{
		ID:   id,
		Type: nodeType,
		Data: schema.NodeData{Name: id, Config: json.RawMessage(config)},
	}
}

func TestExecuteFlow_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name": "Ada"}`)
	}))
	defer srv.Close()

	flow := &schema.FlowDefinition{
		ID:   "flow-e2e",
		Name: "enrich user",
		Nodes: []schema.NodeDefinition{
			node("start", schema.NodeTypeTrigger),
			configNode("fetch", schema.NodeTypeHTTPRequest,
				fmt.Sprintf(`{"url": "%s/users/{{trigger.input.userId}}"}`, srv.URL)),
			configNode("shape", schema.NodeTypeDataTransform, `{"transformations": [
				{"type": "extract", "sourceField": "steps.fetch.data", "extractPath": "body.name", "targetField": "userName"}
			]}`),
			configNode("watch", schema.NodeTypeMonitor, `{}`),
		},
		Edges: []schema.EdgeDefinition{
			edge("e1", "start", "fetch"),
			edge("e2", "fetch", "shape"),
			edge("e3", "shape", "watch"),
		},
	}

	exec := testExecutor(t)
	resp, err := exec.ExecuteFlow(context.Background(), Request{
		Flow:      flow,
		InputData: map[string]any{"userId": float64(42)},
	})
	require.NoError(t, err)

	assert.Equal(t, schema.FlowStatusCompleted, resp.Status)
	assert.Equal(t, []string{"start", "fetch", "shape", "watch"}, resp.StepOrder)
	assert.NotEmpty(t, resp.RunID)

	shaped := resp.StepResults["shape"]
	require.NotNil(t, shaped)
	require.True(t, shaped.Success)
	out, ok := shaped.Data["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", out["userName"])

	watched := resp.StepResults["watch"]
	require.NotNil(t, watched)
	require.True(t, watched.Success)
	snap, ok := watched.Data["snapshot"].(map[string]any)
	require.True(t, ok)
	name, found := template.Lookup(snap, "stepResults.shape.data.data.userName")
	require.True(t, found)
	assert.Equal(t, "Ada", name)
}

func TestExecuteFlow_RouterGatesBranches(t *testing.T) {
	flow := &schema.FlowDefinition{
		ID: "flow-router",
		Nodes: []schema.NodeDefinition{
			node("start", schema.NodeTypeTrigger),
			configNode("route", schema.NodeTypeLeadValidator, `{
				"mode": "router",
				"routes": [
					{"output": "hot", "conditions": [{"field": "score", "operator": ">", "value": 50}]},
					{"output": "cold", "conditions": [{"field": "score", "operator": "<=", "value": 50}]}
				]
			}`),
			configNode("hotPath", schema.NodeTypeMonitor, `{}`),
			configNode("coldPath", schema.NodeTypeMonitor, `{}`),
		},
		Edges: []schema.EdgeDefinition{
			edge("e1", "start", "route"),
			handleEdge("e2", "route", "hotPath", "hot"),
			handleEdge("e3", "route", "coldPath", "cold"),
		},
	}

	exec := testExecutor(t)
	resp, err := exec.ExecuteFlow(context.Background(), Request{
		Flow:      flow,
		InputData: map[string]any{"score": float64(80)},
	})
	require.NoError(t, err)

	assert.Equal(t, schema.FlowStatusCompleted, resp.Status)
	assert.Contains(t, resp.StepResults, "hotPath")
	assert.NotContains(t, resp.StepResults, "coldPath", "unmatched route's branch must not run")

	ann, ok := exec.Annotations().Get("coldPath")
	require.True(t, ok)
	assert.Equal(t, schema.NodeStatusSkipped, ann.Status)
}

func TestExecuteFlow_LogicGateBranching(t *testing.T) {
	flow := &schema.FlowDefinition{
		ID: "flow-gate",
		Nodes: []schema.NodeDefinition{
			node("start", schema.NodeTypeTrigger),
			configNode("gate", schema.NodeTypeLogicGate, `{"expression": "double(trigger.input.score) > 50.0"}`),
			configNode("yes", schema.NodeTypeMonitor, `{}`),
			configNode("no", schema.NodeTypeMonitor, `{}`),
		},
		Edges: []schema.EdgeDefinition{
			edge("e1", "start", "gate"),
			handleEdge("e2", "gate", "yes", "true"),
			handleEdge("e3", "gate", "no", "false"),
		},
	}

	exec := testExecutor(t)
	resp, err := exec.ExecuteFlow(context.Background(), Request{
		Flow:      flow,
		InputData: map[string]any{"score": float64(10)},
	})
	require.NoError(t, err)

	assert.Contains(t, resp.StepResults, "no")
	assert.NotContains(t, resp.StepResults, "yes")
}

func TestExecuteFlow_NodeFailureHaltsFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	flow := &schema.FlowDefinition{
		ID: "flow-halt",
		Nodes: []schema.NodeDefinition{
			node("start", schema.NodeTypeTrigger),
			configNode("fetch", schema.NodeTypeHTTPRequest, fmt.Sprintf(`{"url": %q}`, srv.URL)),
			configNode("after", schema.NodeTypeMonitor, `{}`),
		},
		Edges: []schema.EdgeDefinition{
			edge("e1", "start", "fetch"),
			edge("e2", "fetch", "after"),
		},
	}

	exec := testExecutor(t)
	resp, err := exec.ExecuteFlow(context.Background(), Request{Flow: flow})
	require.NoError(t, err)

	assert.Equal(t, schema.FlowStatusFailed, resp.Status)
	assert.NotEmpty(t, resp.Error)
	assert.Contains(t, resp.StepResults, "fetch")
	assert.NotContains(t, resp.StepResults, "after")

	ann, _ := exec.Annotations().Get("fetch")
	assert.Equal(t, schema.NodeStatusError, ann.Status)
	assert.Equal(t, 1, ann.ExecutionCount)
}

func TestExecuteFlow_ContinueOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	flow := &schema.FlowDefinition{
		ID: "flow-continue",
		Nodes: []schema.NodeDefinition{
			node("start", schema.NodeTypeTrigger),
			configNode("fetch", schema.NodeTypeHTTPRequest,
				fmt.Sprintf(`{"url": %q, "continueOnError": true}`, srv.URL)),
			configNode("after", schema.NodeTypeMonitor, `{}`),
		},
		Edges: []schema.EdgeDefinition{
			edge("e1", "start", "fetch"),
			edge("e2", "fetch", "after"),
		},
	}

	exec := testExecutor(t)
	resp, err := exec.ExecuteFlow(context.Background(), Request{Flow: flow})
	require.NoError(t, err)

	assert.Equal(t, schema.FlowStatusCompleted, resp.Status)
	require.Contains(t, resp.StepResults, "fetch")
	assert.False(t, resp.StepResults["fetch"].Success)
	assert.Contains(t, resp.StepResults, "after", "flagged node failure must not halt the flow")
}

func TestExecuteFlow_FreshContextPerRun(t *testing.T) {
	flow := &schema.FlowDefinition{
		ID: "flow-fresh",
		Nodes: []schema.NodeDefinition{
			node("start", schema.NodeTypeTrigger),
			configNode("watch", schema.NodeTypeMonitor, `{}`),
		},
		Edges: []schema.EdgeDefinition{edge("e1", "start", "watch")},
	}

	exec := testExecutor(t)

	first, err := exec.ExecuteFlow(context.Background(), Request{
		Flow: flow, InputData: map[string]any{"run": "one"},
	})
	require.NoError(t, err)

	second, err := exec.ExecuteFlow(context.Background(), Request{
		Flow: flow, InputData: map[string]any{"run": "two"},
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)

	trig := second.StepResults["start"].Data["triggerData"].(map[string]any)
	assert.Equal(t, "two", trig["run"])

	ann, _ := exec.Annotations().Get("watch")
	assert.Equal(t, 2, ann.ExecutionCount)
}

func TestExecuteFlow_InvalidDefinitionReturnsError(t *testing.T) {
	exec := testExecutor(t)

	_, err := exec.ExecuteFlow(context.Background(), Request{Flow: nil})
	require.Error(t, err)

	_, err = exec.ExecuteFlow(context.Background(), Request{Flow: &schema.FlowDefinition{
		Nodes: []schema.NodeDefinition{node("a", schema.NodeTypeMonitor)},
	}})
	require.Error(t, err)
}

func TestExecuteFlow_CancelledContext(t *testing.T) {
	flow := linearFlow()
	flow.Nodes[1].Data.Config = json.RawMessage(`{}`)
	flow.Nodes[2].Data.Config = json.RawMessage(`{}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := testExecutor(t)
	resp, err := exec.ExecuteFlow(ctx, Request{Flow: flow})
	require.NoError(t, err)

	assert.Equal(t, schema.FlowStatusFailed, resp.Status)
	assert.Empty(t, resp.StepResults)
}

func TestExecuteFlow_PublishesEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancelSub, err := hub.Subscribe(context.Background(), streaming.EventFilter{})
	require.NoError(t, err)
	defer cancelSub()

	flow := &schema.FlowDefinition{
		ID: "flow-events",
		Nodes: []schema.NodeDefinition{
			node("start", schema.NodeTypeTrigger),
			configNode("watch", schema.NodeTypeMonitor, `{}`),
		},
		Edges: []schema.EdgeDefinition{edge("e1", "start", "watch")},
	}

	exec := testExecutor(t, WithEventHub(hub))
	_, err = exec.ExecuteFlow(context.Background(), Request{Flow: flow})
	require.NoError(t, err)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).EventType)
	}
	assert.Equal(t, []string{
		streaming.EventFlowStarted,
		streaming.EventNodeStarted,
		streaming.EventNodeCompleted,
		streaming.EventNodeStarted,
		streaming.EventNodeCompleted,
		streaming.EventFlowFinished,
	}, types)
}
