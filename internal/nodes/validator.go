package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexlead/leadflow/internal/conditions"
	"github.com/nexlead/leadflow/pkg/schema"
)

const leadValidatorConfigSchema = `{
  "type": "object",
  "properties": {
    "mode": {"type": "string", "enum": ["validator", "editor", "router"]},
    "continueOnError": {"type": "boolean", "default": false},
    "conditions": {"type": "array", "items": {"$ref": "#/$defs/condition"}},
    "outputField": {"type": "string"},
    "trueMessage": {"type": "string"},
    "falseMessage": {"type": "string"},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "conditions": {"type": "array", "items": {"$ref": "#/$defs/condition"}},
          "trueActions": {"$ref": "#/$defs/updateSet"},
          "falseActions": {"$ref": "#/$defs/updateSet"}
        },
        "additionalProperties": false
      }
    },
    "updateDatabase": {"type": "boolean", "default": false},
    "idField": {"type": "string", "default": "id"},
    "collection": {"type": "string"},
    "routes": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "output": {"type": "string", "minLength": 1},
          "conditions": {"type": "array", "items": {"$ref": "#/$defs/condition"}},
          "updates": {"type": "array", "items": {"$ref": "#/$defs/update"}}
        },
        "required": ["output"],
        "additionalProperties": false
      }
    },
    "defaultRoute": {
      "type": "object",
      "properties": {
        "output": {"type": "string", "minLength": 1},
        "updates": {"type": "array", "items": {"$ref": "#/$defs/update"}}
      },
      "required": ["output"],
      "additionalProperties": false
    }
  },
  "required": ["mode"],
  "additionalProperties": false,
  "$defs": {
    "condition": {
      "type": "object",
      "properties": {
        "field": {"type": "string", "minLength": 1},
        "operator": {"type": "string"},
        "value": {},
        "logicOperator": {"type": "string", "enum": ["AND", "OR"]}
      },
      "required": ["field", "operator"],
      "additionalProperties": false
    },
    "update": {
      "type": "object",
      "properties": {
        "field": {"type": "string", "minLength": 1},
        "value": {},
        "valueType": {"type": "string", "enum": ["static", "dynamic", "computed"], "default": "static"}
      },
      "required": ["field"],
      "additionalProperties": false
    },
    "updateSet": {
      "type": "object",
      "properties": {
        "updates": {"type": "array", "items": {"$ref": "#/$defs/update"}}
      },
      "additionalProperties": false
    }
  }
}`

type fieldUpdate struct {
	Field     string `json:"field"`
	Value     any    `json:"value,omitempty"`
	ValueType string `json:"valueType,omitempty"`
}

type updateSet struct {
	Updates []fieldUpdate `json:"updates,omitempty"`
}

type editorAction struct {
	Name         string             `json:"name,omitempty"`
	Conditions   []schema.Condition `json:"conditions,omitempty"`
	TrueActions  *updateSet         `json:"trueActions,omitempty"`
	FalseActions *updateSet         `json:"falseActions,omitempty"`
}

type routerRoute struct {
	Name       string             `json:"name,omitempty"`
	Output     string             `json:"output"`
	Conditions []schema.Condition `json:"conditions,omitempty"`
	Updates    []fieldUpdate      `json:"updates,omitempty"`
}

type leadValidatorConfig struct {
	Mode            string `json:"mode"`
	ContinueOnError bool   `json:"continueOnError,omitempty"`

	// validator
	Conditions   []schema.Condition `json:"conditions,omitempty"`
	OutputField  string             `json:"outputField,omitempty"`
	TrueMessage  string             `json:"trueMessage,omitempty"`
	FalseMessage string             `json:"falseMessage,omitempty"`

	// editor
	Actions        []editorAction `json:"actions,omitempty"`
	UpdateDatabase bool           `json:"updateDatabase,omitempty"`
	IDField        string         `json:"idField,omitempty"`
	Collection     string         `json:"collection,omitempty"`

	// router
	Routes       []routerRoute `json:"routes,omitempty"`
	DefaultRoute *routerRoute  `json:"defaultRoute,omitempty"`
}

// LeadValidatorRunner validates, edits or routes lead records depending on
// config.mode. All modes snapshot before/after data for auditability.
type LeadValidatorRunner struct {
	deps Deps
}

// NewLeadValidatorRunner creates the leadValidator runner.
func NewLeadValidatorRunner(deps Deps) *LeadValidatorRunner {
	return &LeadValidatorRunner{deps: deps}
}

func (r *LeadValidatorRunner) Type() schema.NodeType { return schema.NodeTypeLeadValidator }

func (r *LeadValidatorRunner) Schema() RunnerSchema {
	return RunnerSchema{
		Description:  "Validate, conditionally edit, or route a lead record (mode: validator | editor | router).",
		ConfigSchema: json.RawMessage(leadValidatorConfigSchema),
	}
}

func (r *LeadValidatorRunner) Run(ctx context.Context, in RunInput) *schema.RunResult {
	started := time.Now().UTC()

	var cfg leadValidatorConfig
	if ferr := decodeConfig(r.deps, leadValidatorConfigSchema, in.Config, &cfg); ferr != nil {
		return schema.Fail(ferr.WithNode(in.NodeID))
	}

	lead := in.Context.LeadData()
	if lead == nil {
		return finish(schema.Fail(schema.NewError(schema.ErrCodeExecution,
			"no lead data available in execution context").WithNode(in.NodeID)), started.UnixMilli())
	}

	var result *schema.RunResult
	switch cfg.Mode {
	case "validator":
		result = r.runValidator(cfg, lead)
	case "editor":
		result = r.runEditor(ctx, in, cfg, lead)
	case "router":
		result = r.runRouter(ctx, in, cfg, lead)
	default:
		result = schema.Fail(schema.NewErrorf(schema.ErrCodeValidation,
			"unknown mode %q", cfg.Mode).WithNode(in.NodeID))
	}
	return finish(result, started.UnixMilli())
}

func (r *LeadValidatorRunner) runValidator(cfg leadValidatorConfig, lead map[string]any) *schema.RunResult {
	outcome := conditions.Evaluate(lead, cfg.Conditions)

	outputField := cfg.OutputField
	if outputField == "" {
		outputField = "validationResult"
	}

	after := copyMap(lead)
	setPath(after, outputField, outcome.Result)

	message := cfg.FalseMessage
	if outcome.Result {
		message = cfg.TrueMessage
	}

	return schema.OK(map[string]any{
		"mode":     "validator",
		"result":   outcome.Result,
		"message":  message,
		"checks":   outcome.Details,
		"before":   lead,
		"after":    after,
		"leadData": after,
	})
}

func (r *LeadValidatorRunner) runEditor(ctx context.Context, in RunInput, cfg leadValidatorConfig, lead map[string]any) *schema.RunResult {
	working := copyMap(lead)
	scope := in.Context.Scope()

	actionsApplied := 0
	var updatedFields []string
	changed := make(map[string]any)

	for i, action := range cfg.Actions {
		outcome := conditions.Evaluate(working, action.Conditions)

		var updates []fieldUpdate
		if outcome.Result && action.TrueActions != nil {
			updates = action.TrueActions.Updates
		} else if !outcome.Result && action.FalseActions != nil {
			updates = action.FalseActions.Updates
		}
		if len(updates) == 0 {
			continue
		}

		for _, u := range updates {
			value, err := r.resolveUpdateValue(ctx, u, working, scope)
			if err != nil {
				if in.Options.EnableLogs {
					r.deps.Logger.WarnContext(ctx, "editor update skipped",
						slog.Int("action", i+1),
						slog.String("field", u.Field),
						slog.String("error", err.Error()))
				}
				continue
			}
			setPath(working, u.Field, value)
			changed[u.Field] = value
			updatedFields = append(updatedFields, u.Field)
		}
		actionsApplied++
	}

	persisted := false
	if cfg.UpdateDatabase && len(changed) > 0 && r.deps.Store != nil {
		idField := cfg.IDField
		if idField == "" {
			idField = "id"
		}
		if id, _ := working[idField].(string); id != "" {
			ok, err := r.deps.Store.UpdateLead(ctx, id, changed, cfg.Collection)
			if err != nil {
				return schema.Fail(schema.NewErrorf(schema.ErrCodeStore,
					"failed to persist lead %q: %s", id, err.Error()).WithCause(err).WithNode(in.NodeID))
			}
			persisted = ok
		}
	}

	return schema.OK(map[string]any{
		"mode":           "editor",
		"actionsApplied": actionsApplied,
		"updatedFields":  updatedFields,
		"persisted":      persisted,
		"before":         lead,
		"after":          working,
		"leadData":       working,
	})
}

func (r *LeadValidatorRunner) runRouter(ctx context.Context, in RunInput, cfg leadValidatorConfig, lead map[string]any) *schema.RunResult {
	working := copyMap(lead)
	scope := in.Context.Scope()

	var selected *routerRoute
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		if conditions.Evaluate(working, route.Conditions).Result {
			selected = route // first match wins, later routes are not consulted
			break
		}
	}
	if selected == nil && cfg.DefaultRoute != nil {
		selected = cfg.DefaultRoute
	}

	if selected == nil {
		result := schema.OK(map[string]any{
			"mode":     "router",
			"matched":  false,
			"output":   "",
			"before":   lead,
			"after":    working,
			"leadData": working,
		})
		result.Outputs = []string{} // no route matched, no edge fires
		return result
	}

	for _, u := range selected.Updates {
		value, err := r.resolveUpdateValue(ctx, u, working, scope)
		if err != nil {
			if in.Options.EnableLogs {
				r.deps.Logger.WarnContext(ctx, "route update skipped",
					slog.String("output", selected.Output),
					slog.String("field", u.Field),
					slog.String("error", err.Error()))
			}
			continue
		}
		setPath(working, u.Field, value)
	}

	result := schema.OK(map[string]any{
		"mode":     "router",
		"matched":  true,
		"output":   selected.Output,
		"route":    selected.Name,
		"before":   lead,
		"after":    working,
		"leadData": working,
	})
	result.Outputs = []string{selected.Output}
	return result
}

// resolveUpdateValue materializes an update's value: static uses it as-is,
// dynamic reads another field of the working lead, computed evaluates an
// expression against the lead and the run scope.
func (r *LeadValidatorRunner) resolveUpdateValue(ctx context.Context, u fieldUpdate, working, scope map[string]any) (any, error) {
	switch u.ValueType {
	case "", "static":
		return u.Value, nil

	case "dynamic":
		path, ok := u.Value.(string)
		if !ok {
			return nil, fmt.Errorf("dynamic update for %q requires a string field path", u.Field)
		}
		val, found := lookup(working, path)
		if !found {
			return nil, fmt.Errorf("dynamic source field %q not found", path)
		}
		return val, nil

	case "computed":
		expression, ok := u.Value.(string)
		if !ok {
			return nil, fmt.Errorf("computed update for %q requires a string expression", u.Field)
		}
		env := copyMap(working)
		env["lead"] = working
		env["steps"] = scope["steps"]
		env["trigger"] = scope["trigger"]
		env["variables"] = scope["variables"]
		return r.deps.Expr.Evaluate(ctx, expression, env)

	default:
		return nil, fmt.Errorf("unknown valueType %q", u.ValueType)
	}
}

var _ Runner = (*LeadValidatorRunner)(nil)
