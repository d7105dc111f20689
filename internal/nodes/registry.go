package nodes

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/nexlead/leadflow/internal/expressions"
	"github.com/nexlead/leadflow/internal/store"
	"github.com/nexlead/leadflow/internal/template"
	"github.com/nexlead/leadflow/internal/validation"
	"github.com/nexlead/leadflow/pkg/schema"
)

// Registry maps node types to their runners. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	runners map[schema.NodeType]Runner
}

// RunnerInfo is a summary of a registered runner for listing.
type RunnerInfo struct {
	Type        schema.NodeType `json:"type"`
	Description string          `json:"description,omitempty"`
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[schema.NodeType]Runner)}
}

// Register adds a runner. Returns an error on duplicate node type.
func (r *Registry) Register(runner Runner) error {
	if runner == nil {
		return schema.NewError(schema.ErrCodeValidation, "runner is nil")
	}
	nodeType := runner.Type()
	if nodeType == "" {
		return schema.NewError(schema.ErrCodeValidation, "runner node type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[nodeType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "runner for node type %q already registered", nodeType)
	}
	r.runners[nodeType] = runner
	return nil
}

// Get retrieves a runner by node type.
func (r *Registry) Get(nodeType schema.NodeType) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[nodeType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no runner registered for node type %q", nodeType)
	}
	return runner, nil
}

// Has checks whether a node type has a runner.
func (r *Registry) Has(nodeType schema.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[nodeType]
	return ok
}

// List returns info for all registered runners, sorted by type.
func (r *Registry) List() []RunnerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RunnerInfo, 0, len(r.runners))
	for _, runner := range r.runners {
		infos = append(infos, RunnerInfo{
			Type:        runner.Type(),
			Description: runner.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}

// Deps bundles the collaborators shared across runners.
type Deps struct {
	Logger    *slog.Logger
	Validator *validation.Validator
	Renderer  *template.Engine
	Store     store.LeadStore
	Expr      *expressions.ExprEngine
	CEL       *expressions.CELEngine
	JQ        *expressions.GoJQEngine

	// HTTP tunes the httpRequest/apiCall runners; zero values take defaults.
	HTTP HTTPOptions
}

func (d *Deps) fill() error {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Validator == nil {
		v, err := validation.NewValidator()
		if err != nil {
			return err
		}
		d.Validator = v
	}
	if d.Renderer == nil {
		d.Renderer = template.New(d.Logger)
	}
	if d.Expr == nil {
		d.Expr = expressions.NewExprEngine()
	}
	if d.CEL == nil {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return err
		}
		d.CEL = cel
	}
	if d.JQ == nil {
		d.JQ = expressions.NewGoJQEngine()
	}
	return nil
}

// DefaultRegistry builds a registry with every built-in runner registered.
func DefaultRegistry(deps Deps) (*Registry, error) {
	if err := deps.fill(); err != nil {
		return nil, err
	}

	httpRunner := NewHTTPRequestRunner(deps)

	r := NewRegistry()
	for _, runner := range []Runner{
		NewTriggerRunner(deps),
		httpRunner,
		NewAPICallRunner(deps, httpRunner),
		NewDataTransformRunner(deps),
		NewLeadValidatorRunner(deps),
		NewMonitorRunner(deps),
		NewLogicGateRunner(deps),
	} {
		if err := r.Register(runner); err != nil {
			return nil, err
		}
	}
	return r, nil
}
