package engine

import (
	"sort"

	"github.com/nexlead/leadflow/pkg/schema"
)

// Graph is the in-memory directed acyclic graph representation of a flow.
// Built from a FlowDefinition, used by the Executor to determine execution
// order and to route fan-out through edge source handles.
type Graph struct {
	Nodes    map[string]*schema.NodeDefinition
	Outgoing map[string][]schema.EdgeDefinition // source node ID → edges
	Incoming map[string][]string                // target node ID → source IDs
	Sorted   []string                           // topological order, trigger first
	Trigger  string                             // the unique entry node
	Levels   [][]string                         // nodes grouped by topological depth
}

// ParseGraph parses a FlowDefinition into an executable Graph. It validates
// structure, performs topological sorting with Kahn's algorithm, and rejects
// cycles eagerly at load time.
func ParseGraph(def *schema.FlowDefinition) (*Graph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "flow definition is nil")
	}
	if len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "flow has no nodes")
	}

	g := &Graph{
		Nodes:    make(map[string]*schema.NodeDefinition, len(def.Nodes)),
		Outgoing: make(map[string][]schema.EdgeDefinition, len(def.Nodes)),
		Incoming: make(map[string][]string, len(def.Nodes)),
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		if node.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty ID", i)
		}
		if _, exists := g.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}
		g.Nodes[node.ID] = node
	}

	for _, edge := range def.Edges {
		if _, ok := g.Nodes[edge.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references unknown source node: %s", edge.ID, edge.Source)
		}
		if _, ok := g.Nodes[edge.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references unknown target node: %s", edge.ID, edge.Target)
		}
		if edge.Source == edge.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "edge %s connects node %s to itself", edge.ID, edge.Source)
		}
		g.Outgoing[edge.Source] = append(g.Outgoing[edge.Source], edge)
		g.Incoming[edge.Target] = append(g.Incoming[edge.Target], edge.Source)
	}

	triggers := 0
	for _, node := range g.Nodes {
		if node.Type == schema.NodeTypeTrigger {
			triggers++
			g.Trigger = node.ID
			if len(g.Incoming[node.ID]) > 0 {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "trigger node %s must have no incoming edges", node.ID)
			}
		}
	}
	if triggers != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "flow must have exactly one trigger node, found %d", triggers)
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = len(g.Incoming[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	sorted := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		targets := make([]string, 0, len(g.Outgoing[id]))
		for _, edge := range g.Outgoing[id] {
			targets = append(targets, edge.Target)
		}
		sort.Strings(targets)

		for _, target := range targets {
			inDegree[target]--
			if inDegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}

	if len(sorted) != len(g.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "flow contains a cycle")
	}
	g.Sorted = sorted
	g.Levels = computeLevels(g)

	return g, nil
}

// computeLevels groups nodes by topological depth. Nodes at the same level
// have all upstream dependencies satisfied by earlier levels.
func computeLevels(g *Graph) [][]string {
	depth := make(map[string]int, len(g.Nodes))

	for _, id := range g.Sorted {
		maxUp := -1
		for _, src := range g.Incoming[id] {
			if depth[src] > maxUp {
				maxUp = depth[src]
			}
		}
		depth[id] = maxUp + 1
	}

	maxLevel := 0
	for _, d := range depth {
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range g.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// ActiveTargets returns the targets of a node's outgoing edges given the
// output handles its runner selected. A nil selection fires every edge.
// Otherwise edges with no handle always fire, and handled edges fire only
// when their handle was selected. A router that fires all edges regardless
// of the matched route would be incorrect.
func (g *Graph) ActiveTargets(nodeID string, outputs []string) []string {
	edges := g.Outgoing[nodeID]
	if len(edges) == 0 {
		return nil
	}

	selected := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		selected[o] = true
	}

	var targets []string
	for _, edge := range edges {
		if outputs == nil || edge.SourceHandle == "" || selected[edge.SourceHandle] {
			targets = append(targets, edge.Target)
		}
	}
	return targets
}
