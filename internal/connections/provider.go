package connections

import (
	"context"
	"encoding/json"
	"os"
	"strings"
)

// A Bundle is a named set of credential fields for an external system
// (e.g. api_key, token, username/password, base_url). Bundles feed the
// execution context and are resolvable from node configs via
// {{connections.<name>.<field>}}.
type Bundle = map[string]any

// Provider resolves named connection bundles at run time.
type Provider interface {
	Get(ctx context.Context, name string) (Bundle, error)
	List(ctx context.Context) ([]string, error)
}

// Static is a fixed in-memory Provider, used for tests and for callers that
// pass connections inline with the execution request.
type Static map[string]Bundle

func (s Static) Get(_ context.Context, name string) (Bundle, error) {
	b, ok := s[name]
	if !ok {
		return nil, notFound(name)
	}
	return b, nil
}

func (s Static) List(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names, nil
}

// Env resolves bundles from environment variables. A bundle named "crm" is
// read from <Prefix>CRM, whose value must be a JSON object. Listed names are
// lower-cased.
type Env struct {
	Prefix string // defaults to "LEADFLOW_CONN_"
}

func (e Env) prefix() string {
	if e.Prefix == "" {
		return "LEADFLOW_CONN_"
	}
	return e.Prefix
}

func (e Env) Get(_ context.Context, name string) (Bundle, error) {
	raw := os.Getenv(e.prefix() + strings.ToUpper(name))
	if raw == "" {
		return nil, notFound(name)
	}
	var b Bundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, schemaError(name, err)
	}
	return b, nil
}

func (e Env) List(_ context.Context) ([]string, error) {
	var names []string
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, e.prefix()) {
			continue
		}
		names = append(names, strings.ToLower(strings.TrimPrefix(key, e.prefix())))
	}
	return names, nil
}
