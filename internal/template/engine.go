package template

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Engine resolves {{path.to.value}} placeholders against an execution scope.
// Rendering never fails: a path that cannot be resolved leaves the original
// token verbatim (braces included) so authors can spot typos, and any
// internal error returns the input unchanged with a warning logged.
type Engine struct {
	logger *slog.Logger
}

// New creates a template Engine. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Render substitutes every {{path}} token in the template with its resolved
// value from the scope. Unresolvable tokens are preserved verbatim.
func (e *Engine) Render(template string, scope map[string]any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("template rendering panicked, returning input unchanged",
				slog.Any("panic", r))
			out = template
		}
	}()

	if !strings.Contains(template, "{{") {
		return template
	}

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 2 // skip "{{"

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			// Unclosed token: emit the rest verbatim.
			result.WriteString(template[i+idx:])
			break
		}
		end += start

		token := template[i+idx : end+2]
		path := strings.TrimSpace(template[start:end])

		val, ok := Lookup(scope, path)
		if path == "" || !ok {
			result.WriteString(token)
		} else {
			result.WriteString(stringify(val))
		}

		i = end + 2
	}

	return result.String()
}

// RenderValue walks a config value recursively, rendering every string leaf
// independently. Maps and slices are rebuilt; non-string leaves pass through.
func (e *Engine) RenderValue(v any, scope map[string]any) any {
	switch val := v.(type) {
	case string:
		return e.Render(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = e.RenderValue(inner, scope)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = e.RenderValue(inner, scope)
		}
		return out
	default:
		return v
	}
}

// Lookup walks the scope by a dot-delimited path. Slice elements are
// addressable by numeric segment. Returns false if any segment is missing.
func Lookup(scope map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	// Direct key lookup first (supports keys containing dots).
	if v, ok := scope[path]; ok {
		return v, true
	}

	var current any = scope
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			n, err := strconv.Atoi(seg)
			if err != nil || n < 0 || n >= len(node) {
				return nil, false
			}
			current = node[n]
		default:
			return nil, false
		}
	}
	return current, true
}

// stringify converts a resolved value into its inline text representation.
// Strings embed as-is; complex values JSON-encode inline.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
