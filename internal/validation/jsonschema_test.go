package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexlead/leadflow/pkg/schema"
)

func validFlow() *schema.FlowDefinition {
	return &schema.FlowDefinition{
		Nodes: []schema.NodeDefinition{
			{ID: "t1", Type: schema.NodeTypeTrigger},
			{ID: "m1", Type: schema.NodeTypeMonitor},
		},
		Edges: []schema.EdgeDefinition{
			{ID: "e1", Source: "t1", Target: "m1"},
		},
	}
}

func TestValidateFlow_Valid(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateFlow(validFlow()))
}

func TestValidateFlow_Nil(t *testing.T) {
	v, _ := NewValidator()
	assert.Error(t, v.ValidateFlow(nil))
}

func TestValidateFlow_NoNodes(t *testing.T) {
	v, _ := NewValidator()
	err := v.ValidateFlow(&schema.FlowDefinition{Edges: []schema.EdgeDefinition{}})
	assert.Error(t, err)
}

func TestValidateFlow_UnknownNodeType(t *testing.T) {
	v, _ := NewValidator()
	def := validFlow()
	def.Nodes[1].Type = "teleport"
	assert.Error(t, v.ValidateFlow(def))
}

func TestValidateFlow_DuplicateNodeID(t *testing.T) {
	v, _ := NewValidator()
	def := validFlow()
	def.Nodes = append(def.Nodes, schema.NodeDefinition{ID: "m1", Type: schema.NodeTypeMonitor})
	err := v.ValidateFlow(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidateFlow_EdgeToUnknownNode(t *testing.T) {
	v, _ := NewValidator()
	def := validFlow()
	def.Edges = append(def.Edges, schema.EdgeDefinition{ID: "e2", Source: "m1", Target: "ghost"})
	assert.Error(t, v.ValidateFlow(def))
}

func TestValidateFlow_SelfEdge(t *testing.T) {
	v, _ := NewValidator()
	def := validFlow()
	def.Edges = append(def.Edges, schema.EdgeDefinition{ID: "e2", Source: "m1", Target: "m1"})
	err := v.ValidateFlow(def)
	require.Error(t, err)
	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeCycleDetected, ferr.Code)
}

func TestValidateFlow_TriggerRules(t *testing.T) {
	v, _ := NewValidator()

	// No trigger.
	def := validFlow()
	def.Nodes[0].Type = schema.NodeTypeMonitor
	assert.Error(t, v.ValidateFlow(def))

	// Two triggers.
	def = validFlow()
	def.Nodes = append(def.Nodes, schema.NodeDefinition{ID: "t2", Type: schema.NodeTypeTrigger})
	assert.Error(t, v.ValidateFlow(def))

	// Trigger with an incoming edge.
	def = validFlow()
	def.Edges = append(def.Edges, schema.EdgeDefinition{ID: "e2", Source: "m1", Target: "t1"})
	assert.Error(t, v.ValidateFlow(def))
}

func TestValidateConfig(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	configSchema := []byte(`{
	  "type": "object",
	  "properties": {
	    "url": {"type": "string"},
	    "retries": {"type": "integer", "minimum": 0}
	  },
	  "required": ["url"]
	}`)

	assert.NoError(t, v.ValidateConfig(json.RawMessage(`{"url":"https://x.dev","retries":2}`), configSchema))
	assert.Error(t, v.ValidateConfig(json.RawMessage(`{"retries":2}`), configSchema))
	assert.Error(t, v.ValidateConfig(json.RawMessage(`{"url":"x","retries":-1}`), configSchema))
	assert.Error(t, v.ValidateConfig(json.RawMessage(`not json`), configSchema))

	// No schema, no validation.
	assert.NoError(t, v.ValidateConfig(json.RawMessage(`{"anything":true}`), nil))

	// Empty config validates as an empty object.
	assert.Error(t, v.ValidateConfig(nil, configSchema))
}

func TestValidateConfig_CachesCompiledSchemas(t *testing.T) {
	v, _ := NewValidator()
	s := []byte(`{"type":"object"}`)
	require.NoError(t, v.ValidateConfig(json.RawMessage(`{}`), s))
	require.NoError(t, v.ValidateConfig(json.RawMessage(`{}`), s))
	assert.Len(t, v.cache, 1)
}
