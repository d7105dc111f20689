package nodes

import (
	"encoding/json"
	"strings"

	"github.com/nexlead/leadflow/internal/template"
	"github.com/nexlead/leadflow/pkg/schema"
)

// decodeConfig validates raw node config against the runner's JSON Schema
// and unmarshals it into the typed config struct. A nil config decodes as
// an empty object so defaults apply.
func decodeConfig(deps Deps, configSchema string, raw json.RawMessage, out any) *schema.FlowError {
	if err := deps.Validator.ValidateConfig(raw, []byte(configSchema)); err != nil {
		if ferr, ok := err.(*schema.FlowError); ok {
			return ferr
		}
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "config does not match expected shape: %s", err.Error()).WithCause(err)
	}
	return nil
}

// renderer picks the context override when present, else the shared engine.
func renderer(deps Deps, ec *ExecutionContext) *template.Engine {
	if ec != nil && ec.Renderer != nil {
		return ec.Renderer
	}
	return deps.Renderer
}

// copyMap makes a shallow copy; runners work on copies so the shared
// context is never mutated.
func copyMap(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// setPath writes a value at a dot path, creating intermediate maps. An
// intermediate segment that exists but is not a map is overwritten.
func setPath(m map[string]any, path string, value any) {
	segs := strings.Split(path, ".")
	current := m
	for _, seg := range segs[:len(segs)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	current[segs[len(segs)-1]] = value
}

// finish stamps duration onto a result.
func finish(r *schema.RunResult, startedUnixMilli int64) *schema.RunResult {
	if startedUnixMilli > 0 {
		r.DurationMs = r.Timestamp.UnixMilli() - startedUnixMilli
		if r.DurationMs < 0 {
			r.DurationMs = 0
		}
	}
	return r
}

// lookup is a local alias for template path resolution.
func lookup(scope map[string]any, path string) (any, bool) {
	return template.Lookup(scope, path)
}
