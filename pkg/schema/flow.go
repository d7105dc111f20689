package schema

import "encoding/json"

// FlowDefinition is the JSON-serializable flow format produced by the
// graphical editor. The engine treats it as read-only input.
type FlowDefinition struct {
	ID    string           `json:"id,omitempty"`
	Name  string           `json:"name,omitempty"`
	Nodes []NodeDefinition `json:"nodes"`
	Edges []EdgeDefinition `json:"edges"`
}

// NodeDefinition describes a single node in a flow graph.
// Config is carried as raw JSON and parsed by the node's own runner
// after schema validation.
type NodeDefinition struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// NodeData is the editor-facing payload of a node.
type NodeData struct {
	Name   string          `json:"name,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// EdgeDefinition is a directed connection between two nodes.
// SourceHandle names the output the edge is attached to; routers and
// logic gates only fire edges whose handle matches the selected output.
// An empty handle fires unconditionally.
type EdgeDefinition struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// NodeType enumerates the kinds of nodes in a flow.
type NodeType string

const (
	NodeTypeTrigger       NodeType = "trigger"
	NodeTypeAPICall       NodeType = "apiCall"
	NodeTypeHTTPRequest   NodeType = "httpRequest"
	NodeTypeDataTransform NodeType = "dataTransform"
	NodeTypeLeadValidator NodeType = "leadValidator"
	NodeTypeMonitor       NodeType = "monitor"
	NodeTypeLogicGate     NodeType = "logicGate"
)

// NodeStatus is the ephemeral execution status of a node within one run.
// It lives in the executor's annotation store, never in the definition.
type NodeStatus string

const (
	NodeStatusIdle    NodeStatus = "idle"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
	NodeStatusSkipped NodeStatus = "skipped"
)

// FlowStatus is the terminal status of a flow run.
type FlowStatus string

const (
	FlowStatusCompleted FlowStatus = "completed"
	FlowStatusFailed    FlowStatus = "failed"
)
