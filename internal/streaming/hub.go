package streaming

import "context"

// Event types emitted during a flow run.
const (
	EventFlowStarted   = "flow.started"
	EventFlowFinished  = "flow.finished"
	EventNodeStarted   = "node.started"
	EventNodeCompleted = "node.completed"
	EventNodeSkipped   = "node.skipped"
)

// StreamEvent is a real-time event emitted during flow execution.
type StreamEvent struct {
	FlowID    string `json:"flow_id"`
	RunID     string `json:"run_id"`
	NodeID    string `json:"node_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	FlowID     string   `json:"flow_id,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time flow run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
