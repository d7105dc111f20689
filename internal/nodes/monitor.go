package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nexlead/leadflow/pkg/schema"
)

const monitorConfigSchema = `{
  "type": "object",
  "properties": {
    "label": {"type": "string"},
    "displayFields": {"type": "string"},
    "format": {"type": "string", "enum": ["json", "table", "list"], "default": "json"},
    "includeTimestamp": {"type": "boolean", "default": true}
  },
  "additionalProperties": false
}`

type monitorConfig struct {
	Label            string `json:"label,omitempty"`
	DisplayFields    string `json:"displayFields,omitempty"`
	Format           string `json:"format,omitempty"`
	IncludeTimestamp *bool  `json:"includeTimestamp,omitempty"`
}

// MonitorRunner is a non-mutating observability tap: it snapshots the run
// state, optionally filters it to selected dot paths, and formats it as
// text. Always succeeds.
type MonitorRunner struct {
	deps Deps
}

// NewMonitorRunner creates the monitor runner.
func NewMonitorRunner(deps Deps) *MonitorRunner {
	return &MonitorRunner{deps: deps}
}

func (r *MonitorRunner) Type() schema.NodeType { return schema.NodeTypeMonitor }

func (r *MonitorRunner) Schema() RunnerSchema {
	return RunnerSchema{
		Description:  "Read-only snapshot of trigger data, step results and variables, filtered and formatted for inspection.",
		ConfigSchema: json.RawMessage(monitorConfigSchema),
	}
}

func (r *MonitorRunner) Run(_ context.Context, in RunInput) *schema.RunResult {
	var cfg monitorConfig
	if ferr := decodeConfig(r.deps, monitorConfigSchema, in.Config, &cfg); ferr != nil {
		return schema.Fail(ferr.WithNode(in.NodeID))
	}

	snapshot := map[string]any{
		"trigger":          in.Context.Variables["trigger"],
		"stepResults":      in.Context.StepData(),
		"currentVariables": in.Context.Variables,
	}

	view := snapshot
	if fields := splitFields(cfg.DisplayFields); len(fields) > 0 {
		view = make(map[string]any, len(fields))
		for _, path := range fields {
			if val, ok := lookup(snapshot, path); ok {
				view[path] = val
			}
		}
	}

	format := cfg.Format
	if format == "" {
		format = "json"
	}

	data := map[string]any{
		"snapshot": view,
		"format":   format,
		"display":  formatSnapshot(view, format),
	}
	if cfg.Label != "" {
		data["label"] = cfg.Label
	}
	if cfg.IncludeTimestamp == nil || *cfg.IncludeTimestamp {
		data["observedAt"] = time.Now().UTC().Format(time.RFC3339)
	}
	return schema.OK(data)
}

func splitFields(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(csv, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func formatSnapshot(view map[string]any, format string) string {
	switch format {
	case "table":
		keys := sortedKeys(view)
		var b strings.Builder
		b.WriteString("KEY | VALUE\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s | %s\n", k, inlineValue(view[k]))
		}
		return b.String()
	case "list":
		keys := sortedKeys(view)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, inlineValue(view[k]))
		}
		return b.String()
	default: // json
		b, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", view)
		}
		return string(b)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func inlineValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

var _ Runner = (*MonitorRunner)(nil)
