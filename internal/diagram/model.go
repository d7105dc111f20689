package diagram

// NodeKind classifies a diagram node by its flow node type.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindTransform NodeKind = "transform"
	NodeKindDecision  NodeKind = "decision"
	NodeKindMonitor   NodeKind = "monitor"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single flow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status         string // from schema.NodeStatus
	ExecutionCount int
	Error          string
}

// Edge represents a connection between two nodes. Label carries the
// source handle for gated edges.
type Edge struct {
	From  string
	To    string
	Label string
}
