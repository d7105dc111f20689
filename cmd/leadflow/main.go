package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nexlead/leadflow/internal/connections"
	"github.com/nexlead/leadflow/internal/diagram"
	"github.com/nexlead/leadflow/internal/engine"
	"github.com/nexlead/leadflow/internal/logging"
	"github.com/nexlead/leadflow/internal/nodes"
	"github.com/nexlead/leadflow/internal/scheduler"
	"github.com/nexlead/leadflow/internal/store"
	"github.com/nexlead/leadflow/internal/streaming"
	"github.com/nexlead/leadflow/internal/validation"
	"github.com/nexlead/leadflow/pkg/mcp"
	"github.com/nexlead/leadflow/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(cfg, os.Args[2:])
	case "validate":
		err = cmdValidate(cfg, os.Args[2:])
	case "diagram":
		err = cmdDiagram(cfg, os.Args[2:])
	case "nodes":
		err = cmdNodes(cfg, os.Args[2:])
	case "serve":
		err = cmdServe(cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: leadflow <command> [flags]

commands:
  run       execute a flow definition file
  validate  check a flow definition without running it
  diagram   render a flow as ascii or mermaid
  nodes     list available node types
  serve     start the MCP stdio server (optionally with a schedule)`)
}

// app bundles the wired engine components shared by all commands.
type app struct {
	logger    *slog.Logger
	store     store.LeadStore
	provider  connections.Provider
	registry  *nodes.Registry
	validator *validation.Validator
	executor  *engine.Executor
	hub       *streaming.MemoryHub
}

func buildApp(cfg Config) (*app, error) {
	logger := newLogger(cfg.LogLevel)

	leadStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := openVault(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := nodes.DefaultRegistry(nodes.Deps{
		Logger: logger,
		Store:  leadStore,
	})
	if err != nil {
		return nil, err
	}

	validator, err := validation.NewValidator()
	if err != nil {
		return nil, err
	}

	hub := streaming.NewMemoryHub()
	executor := engine.NewExecutor(registry, validator,
		engine.WithLogger(logger),
		engine.WithEventHub(hub),
	)

	return &app{
		logger:    logger,
		store:     leadStore,
		provider:  provider,
		registry:  registry,
		validator: validator,
		executor:  executor,
		hub:       hub,
	}, nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openStore(cfg Config) (store.LeadStore, error) {
	if cfg.DBPath == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func openVault(cfg Config) (connections.Provider, error) {
	if cfg.VaultPath == "" {
		// LEADFLOW_CONN_* env vars still resolve without a vault.
		return connections.Env{}, nil
	}
	if cfg.VaultPassphrase == "" {
		return nil, fmt.Errorf("LEADFLOW_VAULT_PASSPHRASE is required with a vault path")
	}
	salt, err := loadOrCreateSalt(cfg.VaultPath + ".salt")
	if err != nil {
		return nil, err
	}
	return connections.NewFileVault(cfg.VaultPath, connections.VaultConfig{
		Passphrase: cfg.VaultPassphrase,
		Salt:       salt,
	})
}

func loadOrCreateSalt(path string) ([]byte, error) {
	if salt, err := os.ReadFile(path); err == nil && len(salt) > 0 {
		return salt, nil
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate vault salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write vault salt: %w", err)
	}
	return salt, nil
}

// --- Commands ---

func cmdRun(cfg Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	flowPath := fs.String("flow", "", "path to flow definition JSON (required)")
	inputJSON := fs.String("input", "", "trigger input as inline JSON")
	connPath := fs.String("connections", "", "path to a connection bundles JSON file")
	enableLogs := fs.Bool("logs", false, "emit structured run logs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def, err := readFlow(*flowPath)
	if err != nil {
		return err
	}

	var input map[string]any
	if *inputJSON != "" {
		if err := json.Unmarshal([]byte(*inputJSON), &input); err != nil {
			return fmt.Errorf("parse -input: %w", err)
		}
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	bundles, err := gatherConnections(a.provider, *connPath)
	if err != nil {
		return err
	}

	resp, err := a.executor.ExecuteFlow(context.Background(), engine.Request{
		Flow:        def,
		InputData:   input,
		Connections: bundles,
		EnableLogs:  *enableLogs,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if resp.Status == schema.FlowStatusFailed {
		return fmt.Errorf("flow run failed: %s", resp.Error)
	}
	return nil
}

func cmdValidate(cfg Config, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	flowPath := fs.String("flow", "", "path to flow definition JSON (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def, err := readFlow(*flowPath)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.validator.ValidateFlow(def); err != nil {
		return err
	}
	graph, err := engine.ParseGraph(def)
	if err != nil {
		return err
	}
	for _, n := range def.Nodes {
		if !a.registry.Has(n.Type) {
			return fmt.Errorf("node %q: no runner registered for type %q", n.ID, n.Type)
		}
	}

	fmt.Printf("valid: %d nodes, %d edges, trigger %q\n", len(def.Nodes), len(def.Edges), graph.Trigger)
	return nil
}

func cmdDiagram(cfg Config, args []string) error {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	flowPath := fs.String("flow", "", "path to flow definition JSON (required)")
	format := fs.String("format", "ascii", "output format: ascii or mermaid")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def, err := readFlow(*flowPath)
	if err != nil {
		return err
	}

	model, err := diagram.Build(def, nil)
	if err != nil {
		return err
	}

	switch *format {
	case "ascii":
		fmt.Print(diagram.RenderASCII(model))
	case "mermaid":
		fmt.Print(diagram.RenderMermaid(model))
	default:
		return fmt.Errorf("unknown format %q (want ascii or mermaid)", *format)
	}
	return nil
}

func cmdNodes(cfg Config, args []string) error {
	fs := flag.NewFlagSet("nodes", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print as JSON with config schemas")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	infos := a.registry.List()
	if !*asJSON {
		for _, info := range infos {
			fmt.Printf("%-15s %s\n", info.Type, info.Description)
		}
		return nil
	}

	type entry struct {
		Type         schema.NodeType `json:"type"`
		Description  string          `json:"description,omitempty"`
		ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	}
	entries := make([]entry, 0, len(infos))
	for _, info := range infos {
		e := entry{Type: info.Type, Description: info.Description}
		if runner, err := a.registry.Get(info.Type); err == nil {
			e.ConfigSchema = runner.Schema().ConfigSchema
		}
		entries = append(entries, e)
	}
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cmdServe(cfg Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	schedulePath := fs.String("schedule", "", "path to a scheduled jobs JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *schedulePath != "" {
		sched, err := startScheduler(ctx, a, *schedulePath)
		if err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := mcp.NewLeadflowServer(mcp.LeadflowServerDeps{
		Executor:  a.executor,
		Registry:  a.registry,
		Validator: a.validator,
		Store:     a.store,
		Provider:  a.provider,
		Logger:    a.logger,
	})
	return srv.Serve(ctx)
}

// --- Helpers ---

// scheduleEntry is one row of the -schedule file.
type scheduleEntry struct {
	Name  string                 `json:"name"`
	Cron  string                 `json:"cron"`
	Flow  *schema.FlowDefinition `json:"flow"`
	Input map[string]any         `json:"input,omitempty"`
}

// executorRunner adapts the executor to the scheduler's FlowRunner.
type executorRunner struct {
	executor *engine.Executor
	provider connections.Provider
}

func (r *executorRunner) RunFlow(ctx context.Context, flow *schema.FlowDefinition, input map[string]any) error {
	bundles, err := gatherConnections(r.provider, "")
	if err != nil {
		return err
	}
	resp, err := r.executor.ExecuteFlow(ctx, engine.Request{
		Flow:        flow,
		InputData:   input,
		Connections: bundles,
	})
	if err != nil {
		return err
	}
	if resp.Status == schema.FlowStatusFailed {
		return fmt.Errorf("flow %q failed: %s", flow.ID, resp.Error)
	}
	return nil
}

func startScheduler(ctx context.Context, a *app, path string) (*scheduler.Scheduler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	var entries []scheduleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse schedule file: %w", err)
	}

	sched := scheduler.NewScheduler(&executorRunner{executor: a.executor, provider: a.provider}, a.logger)
	for _, e := range entries {
		if _, err := sched.AddJob(e.Name, e.Cron, e.Flow, e.Input); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", e.Name, err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	a.logger.Info("scheduler running", slog.Int("jobs", len(entries)))
	return sched, nil
}

func readFlow(path string) (*schema.FlowDefinition, error) {
	if path == "" {
		return nil, fmt.Errorf("-flow is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	var def schema.FlowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse flow file: %w", err)
	}
	return &def, nil
}

// gatherConnections loads every bundle from the provider, then overlays
// bundles from an optional JSON file.
func gatherConnections(provider connections.Provider, path string) (map[string]connections.Bundle, error) {
	bundles := make(map[string]connections.Bundle)

	if provider != nil {
		ctx := context.Background()
		names, err := provider.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			b, err := provider.Get(ctx, name)
			if err != nil {
				return nil, err
			}
			bundles[name] = b
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read connections file: %w", err)
		}
		var fromFile map[string]connections.Bundle
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("parse connections file: %w", err)
		}
		for name, b := range fromFile {
			bundles[name] = b
		}
	}

	if len(bundles) == 0 {
		return nil, nil
	}
	return bundles, nil
}
