package expressions

import "context"

// Engine evaluates expressions within flow nodes.
// Three implementations: CEL (logic gates), GoJQ (query transforms),
// Expr (computed editor values).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
