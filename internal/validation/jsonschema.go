package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nexlead/leadflow/pkg/schema"
)

// flowSchemaJSON is the JSON Schema for FlowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const flowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://leadflow.dev/schemas/flow.json",
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["trigger", "apiCall", "httpRequest", "dataTransform", "leadValidator", "monitor", "logicGate"]
        },
        "data": {
          "type": "object",
          "properties": {
            "name": { "type": "string" },
            "config": {}
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "sourceHandle": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// Validator validates flow definitions and per-node configs using
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type Validator struct {
	flowSchema *jsonschema.Schema

	// mu guards the cache for dynamic config schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewValidator creates a Validator with the flow schema pre-compiled.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(flowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal flow schema: %w", err)
	}
	if err := c.AddResource("https://leadflow.dev/schemas/flow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add flow schema resource: %w", err)
	}

	fs, err := c.Compile("https://leadflow.dev/schemas/flow.json")
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}

	return &Validator{
		flowSchema: fs,
		cache:      make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateFlow validates a FlowDefinition against the flow JSON Schema plus
// the structural rules JSON Schema cannot express: unique node IDs, edge
// endpoints that exist, and exactly one trigger node with no incoming edges.
// Acyclicity is checked separately when the graph is parsed.
func (v *Validator) ValidateFlow(def *schema.FlowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "flow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize flow definition").WithCause(err)
	}

	if err := v.flowSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}

	nodes := make(map[string]schema.NodeType, len(def.Nodes))
	for _, n := range def.Nodes {
		if _, exists := nodes[n.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", n.ID)
		}
		nodes[n.ID] = n.Type
	}

	incoming := make(map[string]int, len(def.Nodes))
	for _, e := range def.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "edge %q references unknown source node %q", e.ID, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "edge %q references unknown target node %q", e.ID, e.Target)
		}
		if e.Source == e.Target {
			return schema.NewErrorf(schema.ErrCodeCycleDetected, "edge %q connects node %q to itself", e.ID, e.Source)
		}
		incoming[e.Target]++
	}

	triggers := 0
	for _, n := range def.Nodes {
		if n.Type == schema.NodeTypeTrigger {
			triggers++
			if incoming[n.ID] > 0 {
				return schema.NewErrorf(schema.ErrCodeValidation, "trigger node %q must have no incoming edges", n.ID)
			}
		}
	}
	if triggers != 1 {
		return schema.NewErrorf(schema.ErrCodeValidation, "flow must have exactly one trigger node, found %d", triggers)
	}

	return nil
}

// ValidateConfig validates a node config against a JSON Schema provided as
// raw bytes. The schema is compiled and cached for subsequent calls.
// A nil config validates as an empty object so schema defaults still apply.
func (v *Validator) ValidateConfig(config json.RawMessage, configSchema []byte) error {
	if len(configSchema) == 0 {
		return nil // no schema means no validation needed
	}
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}

	compiled, err := v.getOrCompile(configSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid config schema").WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(config)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "config is not valid JSON").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *Validator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("leadflow://config-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// clear, actionable messages.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
