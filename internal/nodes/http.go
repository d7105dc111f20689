package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nexlead/leadflow/pkg/schema"
)

// HTTPOptions tunes the httpRequest and apiCall runners.
type HTTPOptions struct {
	DefaultTimeout  time.Duration
	MaxTimeout      time.Duration
	MaxResponseBody int64
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	Client          *http.Client
}

const (
	defaultHTTPTimeout     = 30 * time.Second
	maxHTTPTimeout         = 60 * time.Second
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultBackoffBase     = time.Second
	defaultBackoffCap      = 30 * time.Second
	maxRetries             = 10
)

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = defaultHTTPTimeout
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = maxHTTPTimeout
	}
	if o.MaxResponseBody <= 0 {
		o.MaxResponseBody = defaultMaxResponseBody
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = defaultBackoffCap
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	return o
}

const httpRequestConfigSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"], "default": "GET"},
    "url": {"type": "string", "minLength": 1},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "auth": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["none", "bearer", "basic", "apiKey"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "headerName": {"type": "string"},
        "headerValue": {"type": "string"}
      },
      "additionalProperties": false
    },
    "timeoutMs": {"type": "integer", "minimum": 1},
    "retries": {"type": "integer", "minimum": 0, "maximum": 10, "default": 0},
    "continueOnError": {"type": "boolean", "default": false}
  },
  "required": ["url"],
  "additionalProperties": false
}`

type httpAuthConfig struct {
	Type        string `json:"type,omitempty"`
	Token       string `json:"token,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	HeaderName  string `json:"headerName,omitempty"`
	HeaderValue string `json:"headerValue,omitempty"`
}

type httpRequestConfig struct {
	Method    string            `json:"method,omitempty"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      any               `json:"body,omitempty"`
	Auth      *httpAuthConfig   `json:"auth,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	Retries   int               `json:"retries,omitempty"`

	// ContinueOnError is read by the executor, not the runner.
	ContinueOnError bool `json:"continueOnError,omitempty"`
}

// HTTPRequestRunner executes templated HTTP calls with bounded timeouts and
// retry on transient failures. Client errors (4xx) are final and never
// retried; 5xx and network errors retry with exponential backoff.
type HTTPRequestRunner struct {
	deps Deps
	opts HTTPOptions
}

// NewHTTPRequestRunner creates the httpRequest runner.
func NewHTTPRequestRunner(deps Deps) *HTTPRequestRunner {
	return &HTTPRequestRunner{deps: deps, opts: deps.HTTP.withDefaults()}
}

func (r *HTTPRequestRunner) Type() schema.NodeType { return schema.NodeTypeHTTPRequest }

func (r *HTTPRequestRunner) Schema() RunnerSchema {
	return RunnerSchema{
		Description:  "Execute an HTTP request with templated URL/headers/body, auth, timeout and retry with backoff.",
		ConfigSchema: json.RawMessage(httpRequestConfigSchema),
	}
}

func (r *HTTPRequestRunner) Run(ctx context.Context, in RunInput) *schema.RunResult {
	var cfg httpRequestConfig
	if ferr := decodeConfig(r.deps, httpRequestConfigSchema, in.Config, &cfg); ferr != nil {
		return schema.Fail(ferr.WithNode(in.NodeID))
	}
	return r.execute(ctx, in, cfg)
}

// execute runs a resolved request config. The apiCall runner delegates here
// after translating its connection bundle into request fields.
func (r *HTTPRequestRunner) execute(ctx context.Context, in RunInput, cfg httpRequestConfig) *schema.RunResult {
	started := time.Now().UTC()
	scope := in.Context.Scope()
	eng := renderer(r.deps, in.Context)

	rawURL := eng.Render(cfg.URL, scope)
	if strings.Contains(rawURL, "{{") {
		return finish(schema.Fail(
			schema.NewErrorf(schema.ErrCodeValidation, "url contains unresolved placeholders: %s", rawURL).WithNode(in.NodeID),
		), started.UnixMilli())
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = eng.Render(v, scope)
	}

	var bodyBytes []byte
	if cfg.Body != nil {
		rendered := eng.RenderValue(cfg.Body, scope)
		if s, ok := rendered.(string); ok {
			bodyBytes = []byte(s)
		} else {
			b, err := json.Marshal(rendered)
			if err != nil {
				return finish(schema.Fail(
					schema.NewError(schema.ErrCodeValidation, "request body is not JSON-encodable").
						WithCause(err).WithNode(in.NodeID),
				), started.UnixMilli())
			}
			bodyBytes = b
			if _, set := headers["Content-Type"]; !set {
				headers["Content-Type"] = "application/json"
			}
		}
	}

	timeout := r.opts.DefaultTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if timeout > r.opts.MaxTimeout {
		timeout = r.opts.MaxTimeout
	}

	retries := cfg.Retries
	if retries > maxRetries {
		retries = maxRetries
	}

	var lastErr *schema.FlowError
	for attempt := 1; attempt <= retries+1; attempt++ {
		// No new attempt once the run is cancelled.
		if err := ctx.Err(); err != nil {
			res := schema.Fail(schema.NewError(schema.ErrCodeCancelled, "flow run cancelled before attempt").
				WithCause(err).WithNode(in.NodeID))
			res.Attempts = attempt - 1
			return finish(res, started.UnixMilli())
		}

		if in.Options.EnableLogs {
			r.deps.Logger.InfoContext(ctx, "http request attempt",
				slog.String("method", method),
				slog.String("url", rawURL),
				slog.Int("attempt", attempt))
		}

		result, ferr, retryable := r.attempt(ctx, method, rawURL, headers, bodyBytes, cfg.Auth, timeout)
		if ferr == nil {
			result.Attempts = attempt
			return finish(result, started.UnixMilli())
		}

		if !retryable {
			res := schema.Fail(ferr.WithNode(in.NodeID))
			res.Status = statusFromDetails(ferr)
			res.Attempts = attempt
			return finish(res, started.UnixMilli())
		}

		lastErr = ferr
		if attempt <= retries {
			delay := computeBackoff(r.opts.BackoffBase, r.opts.BackoffCap, attempt)
			if in.Options.EnableLogs {
				r.deps.Logger.WarnContext(ctx, "http request failed, backing off",
					slog.Int("attempt", attempt),
					slog.Duration("delay", delay),
					slog.String("error", ferr.Message))
			}
			if err := waitForBackoff(ctx, delay); err != nil {
				res := schema.Fail(schema.NewError(schema.ErrCodeCancelled, "flow run cancelled during backoff").
					WithCause(err).WithNode(in.NodeID))
				res.Attempts = attempt
				return finish(res, started.UnixMilli())
			}
		}
	}

	res := schema.Fail(schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"request failed after %d attempts: %s", retries+1, lastErr.Message).
		WithCause(lastErr).WithNode(in.NodeID))
	res.Status = statusFromDetails(lastErr)
	res.Attempts = retries + 1
	return finish(res, started.UnixMilli())
}

// attempt performs one HTTP exchange. The third return reports whether a
// failure is transient (5xx, network) as opposed to final (4xx, bad config).
func (r *HTTPRequestRunner) attempt(ctx context.Context, method, rawURL string, headers map[string]string, body []byte, auth *httpAuthConfig, timeout time.Duration) (*schema.RunResult, *schema.FlowError, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, reader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid request: %s", err.Error()).WithCause(err), false
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	applyAuth(req, auth)

	resp, err := r.opts.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "request cancelled").WithCause(err), false
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "request failed: %s", err.Error()).WithCause(err), true
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, r.opts.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "failed to read response body: %s", err.Error()).WithCause(err), true
	}

	contentType := resp.Header.Get("Content-Type")

	switch {
	case resp.StatusCode >= 500:
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "server returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode}), true
	case resp.StatusCode >= 400:
		return nil, schema.NewErrorf(schema.ErrCodeClientError, "request failed with status %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": truncate(string(raw), 512)}), false
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := schema.OK(map[string]any{
		"status":      resp.StatusCode,
		"statusText":  resp.Status,
		"headers":     respHeaders,
		"contentType": contentType,
		"body":        parseBody(raw, contentType),
	})
	result.Status = resp.StatusCode
	return result, nil, false
}

func applyAuth(req *http.Request, auth *httpAuthConfig) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "apiKey":
		if auth.HeaderName != "" {
			req.Header.Set(auth.HeaderName, auth.HeaderValue)
		}
	}
}

// parseBody decodes the response by Content-Type: JSON becomes a value,
// text passes through as a string, anything else yields a size/type
// descriptor with no content.
func parseBody(raw []byte, contentType string) any {
	if len(raw) == 0 {
		return nil
	}
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return parsed
		}
		return string(raw)
	case strings.HasPrefix(mediaType, "text/"):
		return string(raw)
	default:
		return map[string]any{
			"binary":      true,
			"size":        len(raw),
			"contentType": contentType,
		}
	}
}

// computeBackoff returns min(base * 2^(attempt-1), ceiling).
func computeBackoff(base, ceiling time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// waitForBackoff sleeps for the delay or returns early on cancellation.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func statusFromDetails(ferr *schema.FlowError) int {
	if ferr == nil || ferr.Details == nil {
		return 0
	}
	if s, ok := ferr.Details["status"].(int); ok {
		return s
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

const apiCallConfigSchema = `{
  "type": "object",
  "properties": {
    "connection": {"type": "string", "minLength": 1},
    "endpoint": {"type": "string"},
    "url": {"type": "string"},
    "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"], "default": "GET"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "timeoutMs": {"type": "integer", "minimum": 1},
    "retries": {"type": "integer", "minimum": 0, "maximum": 10, "default": 0}
  },
  "required": ["connection"],
  "additionalProperties": false
}`

type apiCallConfig struct {
	Connection string            `json:"connection"`
	Endpoint   string            `json:"endpoint,omitempty"`
	URL        string            `json:"url,omitempty"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	TimeoutMs  int               `json:"timeoutMs,omitempty"`
	Retries    int               `json:"retries,omitempty"`
}

// APICallRunner wraps HTTPRequestRunner with credentials pulled from a named
// connection bundle in the execution context.
type APICallRunner struct {
	deps  Deps
	inner *HTTPRequestRunner
}

// NewAPICallRunner creates the apiCall runner delegating to an HTTP runner.
func NewAPICallRunner(deps Deps, inner *HTTPRequestRunner) *APICallRunner {
	return &APICallRunner{deps: deps, inner: inner}
}

func (r *APICallRunner) Type() schema.NodeType { return schema.NodeTypeAPICall }

func (r *APICallRunner) Schema() RunnerSchema {
	return RunnerSchema{
		Description:  "HTTP call authenticated through a named connection bundle.",
		ConfigSchema: json.RawMessage(apiCallConfigSchema),
	}
}

func (r *APICallRunner) Run(ctx context.Context, in RunInput) *schema.RunResult {
	var cfg apiCallConfig
	if ferr := decodeConfig(r.deps, apiCallConfigSchema, in.Config, &cfg); ferr != nil {
		return schema.Fail(ferr.WithNode(in.NodeID))
	}

	bundle, ok := in.Context.Connections[cfg.Connection]
	if !ok {
		return schema.Fail(schema.NewErrorf(schema.ErrCodeConnection,
			"connection %q not available in execution context", cfg.Connection).WithNode(in.NodeID))
	}

	rawURL := cfg.URL
	if rawURL == "" {
		base, _ := bundle["baseUrl"].(string)
		if base == "" {
			return schema.Fail(schema.NewErrorf(schema.ErrCodeValidation,
				"connection %q has no baseUrl and config sets no url", cfg.Connection).WithNode(in.NodeID))
		}
		rawURL = strings.TrimRight(base, "/")
		if cfg.Endpoint != "" {
			rawURL += "/" + strings.TrimLeft(cfg.Endpoint, "/")
		}
	}

	return r.inner.execute(ctx, in, httpRequestConfig{
		Method:    cfg.Method,
		URL:       rawURL,
		Headers:   cfg.Headers,
		Body:      cfg.Body,
		Auth:      authFromBundle(bundle),
		TimeoutMs: cfg.TimeoutMs,
		Retries:   cfg.Retries,
	})
}

// authFromBundle maps connection bundle fields to request auth.
func authFromBundle(bundle map[string]any) *httpAuthConfig {
	get := func(key string) string {
		s, _ := bundle[key].(string)
		return s
	}

	authType := get("authType")
	if authType == "" {
		switch {
		case get("token") != "":
			authType = "bearer"
		case get("username") != "":
			authType = "basic"
		case get("headerName") != "":
			authType = "apiKey"
		default:
			return nil
		}
	}
	return &httpAuthConfig{
		Type:        authType,
		Token:       get("token"),
		Username:    get("username"),
		Password:    get("password"),
		HeaderName:  get("headerName"),
		HeaderValue: get("headerValue"),
	}
}

var (
	_ Runner = (*HTTPRequestRunner)(nil)
	_ Runner = (*APICallRunner)(nil)
)
