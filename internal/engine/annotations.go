package engine

import (
	"sync"
	"time"

	"github.com/nexlead/leadflow/pkg/schema"
)

// NodeAnnotation is ephemeral, per-node run telemetry: status, last run
// time, execution count and last captured data. It is layered next to the
// graph after each run, never written into the node definition itself.
type NodeAnnotation struct {
	Status         schema.NodeStatus `json:"status"`
	LastRunAt      time.Time         `json:"last_run_at,omitzero"`
	ExecutionCount int               `json:"execution_count"`
	LastData       map[string]any    `json:"last_data,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
}

// AnnotationStore holds node annotations keyed by node ID. Thread-safe.
type AnnotationStore struct {
	mu          sync.RWMutex
	annotations map[string]*NodeAnnotation
}

// NewAnnotationStore creates an empty AnnotationStore.
func NewAnnotationStore() *AnnotationStore {
	return &AnnotationStore{annotations: make(map[string]*NodeAnnotation)}
}

func (s *AnnotationStore) get(nodeID string) *NodeAnnotation {
	a, ok := s.annotations[nodeID]
	if !ok {
		a = &NodeAnnotation{Status: schema.NodeStatusIdle}
		s.annotations[nodeID] = a
	}
	return a
}

// MarkRunning flags a node as currently executing.
func (s *AnnotationStore) MarkRunning(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(nodeID).Status = schema.NodeStatusRunning
}

// MarkSkipped flags a node that was not activated during a run.
func (s *AnnotationStore) MarkSkipped(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(nodeID).Status = schema.NodeStatusSkipped
}

// MarkResult records a node's run outcome.
func (s *AnnotationStore) MarkResult(nodeID string, result *schema.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.get(nodeID)
	a.ExecutionCount++
	a.LastRunAt = result.Timestamp
	if result.Success {
		a.Status = schema.NodeStatusSuccess
		a.LastData = result.Data
		a.LastError = ""
	} else {
		a.Status = schema.NodeStatusError
		a.LastError = result.Error
	}
}

// Get returns a copy of a node's annotation.
func (s *AnnotationStore) Get(nodeID string) (NodeAnnotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.annotations[nodeID]
	if !ok {
		return NodeAnnotation{Status: schema.NodeStatusIdle}, false
	}
	return *a, true
}

// Snapshot returns a copy of all annotations keyed by node ID.
func (s *AnnotationStore) Snapshot() map[string]NodeAnnotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]NodeAnnotation, len(s.annotations))
	for id, a := range s.annotations {
		out[id] = *a
	}
	return out
}
