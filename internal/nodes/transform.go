package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nexlead/leadflow/internal/template"
	"github.com/nexlead/leadflow/pkg/schema"
)

const dataTransformConfigSchema = `{
  "type": "object",
  "properties": {
    "transformations": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "type": {"type": "string", "enum": ["copy", "format", "map", "extract", "combine", "query"]},
          "sourceField": {"type": "string"},
          "targetField": {"type": "string", "minLength": 1},
          "template": {"type": "string"},
          "mapping": {"type": "object"},
          "extractPath": {"type": "string"},
          "sourceFields": {"type": "array", "items": {"type": "string"}},
          "separator": {"type": "string"},
          "query": {"type": "string"}
        },
        "required": ["type", "targetField"],
        "additionalProperties": false
      }
    },
    "preserveOriginal": {"type": "boolean", "default": false}
  },
  "required": ["transformations"],
  "additionalProperties": false
}`

type transformation struct {
	Type         string         `json:"type"`
	SourceField  string         `json:"sourceField,omitempty"`
	TargetField  string         `json:"targetField"`
	Template     string         `json:"template,omitempty"`
	Mapping      map[string]any `json:"mapping,omitempty"`
	ExtractPath  string         `json:"extractPath,omitempty"`
	SourceFields []string       `json:"sourceFields,omitempty"`
	Separator    string         `json:"separator,omitempty"`
	Query        string         `json:"query,omitempty"`
}

type dataTransformConfig struct {
	Transformations  []transformation `json:"transformations"`
	PreserveOriginal bool             `json:"preserveOriginal,omitempty"`
}

// DataTransformRunner applies an ordered list of field transformations onto
// a fresh output object. A single failing transformation is logged and
// skipped; the rest still apply.
type DataTransformRunner struct {
	deps Deps
}

// NewDataTransformRunner creates the dataTransform runner.
func NewDataTransformRunner(deps Deps) *DataTransformRunner {
	return &DataTransformRunner{deps: deps}
}

func (r *DataTransformRunner) Type() schema.NodeType { return schema.NodeTypeDataTransform }

func (r *DataTransformRunner) Schema() RunnerSchema {
	return RunnerSchema{
		Description:  "Reshape upstream data with copy/format/map/extract/combine/query transformations.",
		ConfigSchema: json.RawMessage(dataTransformConfigSchema),
	}
}

func (r *DataTransformRunner) Run(ctx context.Context, in RunInput) *schema.RunResult {
	started := time.Now().UTC()

	var cfg dataTransformConfig
	if ferr := decodeConfig(r.deps, dataTransformConfigSchema, in.Config, &cfg); ferr != nil {
		return schema.Fail(ferr.WithNode(in.NodeID))
	}

	scope := in.Context.Scope()
	eng := renderer(r.deps, in.Context)

	output := make(map[string]any)
	if cfg.PreserveOriginal {
		if input, ok := scope["input"].(map[string]any); ok {
			output = copyMap(input)
		}
	}

	applied := 0
	var failures []string
	for i, t := range cfg.Transformations {
		if err := r.apply(ctx, t, scope, output, eng); err != nil {
			msg := fmt.Sprintf("transformation %d (%s -> %s): %s", i+1, t.Type, t.TargetField, err.Error())
			failures = append(failures, msg)
			if in.Options.EnableLogs {
				r.deps.Logger.WarnContext(ctx, "transformation skipped",
					slog.Int("index", i+1),
					slog.String("kind", t.Type),
					slog.String("error", err.Error()))
			}
			continue
		}
		applied++
	}

	data := map[string]any{
		"data":                   output,
		"transformationsApplied": applied,
	}
	if len(failures) > 0 {
		data["transformationsFailed"] = len(failures)
		data["failures"] = failures
	}
	return finish(schema.OK(data), started.UnixMilli())
}

func (r *DataTransformRunner) apply(ctx context.Context, t transformation, scope, output map[string]any, eng *template.Engine) error {
	switch t.Type {
	case "copy":
		val, ok := lookup(scope, t.SourceField)
		if !ok {
			return fmt.Errorf("source field %q not found", t.SourceField)
		}
		setPath(output, t.TargetField, val)

	case "format":
		if t.Template == "" {
			return fmt.Errorf("format transformation requires a template")
		}
		setPath(output, t.TargetField, eng.Render(t.Template, scope))

	case "map":
		if t.Mapping == nil {
			return fmt.Errorf("map transformation requires a mapping")
		}
		val, ok := lookup(scope, t.SourceField)
		if !ok {
			return fmt.Errorf("source field %q not found", t.SourceField)
		}
		key := fmt.Sprintf("%v", val)
		if mapped, found := t.Mapping[key]; found {
			setPath(output, t.TargetField, mapped)
		} else {
			// Unmapped values pass through unchanged.
			setPath(output, t.TargetField, val)
		}

	case "extract":
		val, ok := lookup(scope, t.SourceField)
		if !ok {
			return fmt.Errorf("source field %q not found", t.SourceField)
		}
		inner, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("source field %q is not an object, cannot extract %q", t.SourceField, t.ExtractPath)
		}
		extracted, ok := lookup(inner, t.ExtractPath)
		if !ok {
			return fmt.Errorf("path %q not found in source %q", t.ExtractPath, t.SourceField)
		}
		setPath(output, t.TargetField, extracted)

	case "combine":
		if t.Template != "" {
			setPath(output, t.TargetField, eng.Render(t.Template, scope))
			return nil
		}
		if len(t.SourceFields) == 0 {
			return fmt.Errorf("combine transformation requires sourceFields or a template")
		}
		sep := t.Separator
		if sep == "" {
			sep = " "
		}
		var parts []string
		for _, field := range t.SourceFields {
			val, ok := lookup(scope, field)
			if !ok || val == nil {
				continue // skip missing values rather than joining "null"
			}
			parts = append(parts, fmt.Sprintf("%v", val))
		}
		setPath(output, t.TargetField, strings.Join(parts, sep))

	case "query":
		if t.Query == "" {
			return fmt.Errorf("query transformation requires a jq expression")
		}
		input := scope
		if t.SourceField != "" {
			val, ok := lookup(scope, t.SourceField)
			if !ok {
				return fmt.Errorf("source field %q not found", t.SourceField)
			}
			obj, ok := val.(map[string]any)
			if !ok {
				return fmt.Errorf("source field %q is not an object, cannot run query", t.SourceField)
			}
			input = obj
		}
		result, err := r.deps.JQ.Evaluate(ctx, t.Query, input)
		if err != nil {
			return err
		}
		setPath(output, t.TargetField, result)

	default:
		return fmt.Errorf("unknown transformation type %q", t.Type)
	}
	return nil
}

var _ Runner = (*DataTransformRunner)(nil)
