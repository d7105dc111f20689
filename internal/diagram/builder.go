package diagram

import (
	"fmt"

	"github.com/nexlead/leadflow/internal/engine"
	"github.com/nexlead/leadflow/pkg/schema"
)

// Build constructs a diagram Model from a flow definition and optional node
// annotations. It uses engine.ParseGraph for topology, so invalid flows are
// rejected before rendering.
func Build(def *schema.FlowDefinition, annotations map[string]engine.NodeAnnotation) (*Model, error) {
	graph, err := engine.ParseGraph(def)
	if err != nil {
		return nil, fmt.Errorf("diagram: parse graph: %w", err)
	}

	nodes := make([]*Node, 0, len(graph.Sorted))
	for _, nodeID := range graph.Sorted {
		n := definitionToNode(graph.Nodes[nodeID])
		if ann, ok := annotations[nodeID]; ok && ann.Status != schema.NodeStatusIdle {
			n.Status = &StatusOverlay{
				Status:         string(ann.Status),
				ExecutionCount: ann.ExecutionCount,
				Error:          ann.LastError,
			}
		}
		nodes = append(nodes, n)
	}

	edges := make([]Edge, 0, len(def.Edges))
	for _, e := range def.Edges {
		edges = append(edges, Edge{From: e.Source, To: e.Target, Label: e.SourceHandle})
	}

	return &Model{
		Title:  titleFromDef(def),
		Nodes:  nodes,
		Edges:  edges,
		Levels: graph.Levels,
	}, nil
}

// definitionToNode maps a NodeDefinition to a diagram Node.
func definitionToNode(def *schema.NodeDefinition) *Node {
	return &Node{
		ID:    def.ID,
		Label: nodeLabel(def),
		Kind:  nodeTypeToKind(def.Type),
	}
}

// nodeTypeToKind converts a schema.NodeType to a NodeKind.
func nodeTypeToKind(nt schema.NodeType) NodeKind {
	switch nt {
	case schema.NodeTypeTrigger:
		return NodeKindTrigger
	case schema.NodeTypeDataTransform:
		return NodeKindTransform
	case schema.NodeTypeLeadValidator, schema.NodeTypeLogicGate:
		return NodeKindDecision
	case schema.NodeTypeMonitor:
		return NodeKindMonitor
	default:
		return NodeKindAction
	}
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(def *schema.NodeDefinition) string {
	if def.Data.Name != "" && def.Data.Name != def.ID {
		return fmt.Sprintf("%s (%s)", def.Data.Name, def.Type)
	}
	return fmt.Sprintf("%s (%s)", def.ID, def.Type)
}

// titleFromDef generates a diagram title from flow metadata.
func titleFromDef(def *schema.FlowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	if def.ID != "" {
		return def.ID
	}
	return "Flow"
}
