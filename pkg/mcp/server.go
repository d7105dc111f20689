package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nexlead/leadflow/internal/connections"
	"github.com/nexlead/leadflow/internal/engine"
	"github.com/nexlead/leadflow/internal/nodes"
	"github.com/nexlead/leadflow/internal/store"
	"github.com/nexlead/leadflow/internal/validation"
)

// LeadflowServerDeps holds the dependencies for creating a LeadflowServer.
type LeadflowServerDeps struct {
	Executor  *engine.Executor
	Registry  *nodes.Registry
	Validator *validation.Validator
	Store     store.LeadStore
	Provider  connections.Provider
	Logger    *slog.Logger
}

// LeadflowServer wraps an MCP server with flow-engine tool handlers.
type LeadflowServer struct {
	executor  *engine.Executor
	registry  *nodes.Registry
	validator *validation.Validator
	store     store.LeadStore
	provider  connections.Provider
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewLeadflowServer creates a new LeadflowServer with all 5 tools registered.
func NewLeadflowServer(deps LeadflowServerDeps) *LeadflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &LeadflowServer{
		executor:  deps.Executor,
		registry:  deps.Registry,
		validator: deps.Validator,
		store:     deps.Store,
		provider:  deps.Provider,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"leadflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Leadflow executes node-graph lead automation flows. Use flow.execute to run a flow definition, flow.validate to check one without running it, flow.diagram to visualize it, nodes.list to discover node types, and leads.get to inspect stored leads."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *LeadflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *LeadflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *LeadflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: nodesTool(), Handler: s.handleNodes},
		{Tool: leadsTool(), Handler: s.handleLeads},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("flow.execute",
		mcp.WithDescription("Execute a flow definition and return per-node step results"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Flow definition object (nodes + edges)")),
		mcp.WithObject("input", mcp.Description("Trigger input data for the run")),
		mcp.WithObject("connections", mcp.Description("Inline connection bundles keyed by name; merged over the configured provider")),
		mcp.WithString("enable_logs", mcp.Description("Emit structured run logs (default: false)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flow.validate",
		mcp.WithDescription("Validate a flow definition without executing it"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Flow definition object (nodes + edges)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flow.diagram",
		mcp.WithDescription("Generate a visual diagram of a flow. Returns ASCII art or Mermaid flowchart syntax"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Flow definition object (nodes + edges)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid"),
			mcp.Description("Output format: ascii (text) or mermaid (flowchart syntax)"),
		),
		mcp.WithString("include_status", mcp.Description("Overlay the last run's node statuses (default: false)")),
	)
}

func nodesTool() mcp.Tool {
	return mcp.NewTool("nodes.list",
		mcp.WithDescription("List available node types with their config schemas"),
		mcp.WithString("include_schemas", mcp.Description("Include the JSON config schema per node type (default: false)")),
	)
}

func leadsTool() mcp.Tool {
	return mcp.NewTool("leads.get",
		mcp.WithDescription("Fetch a stored lead by ID, or list leads when no ID is given"),
		mcp.WithString("lead_id", mcp.Description("Lead ID to fetch")),
		mcp.WithString("collection", mcp.Description("Lead collection (default: leads)")),
		mcp.WithString("limit", mcp.Description("Max leads to list when lead_id is omitted (default: 50)")),
	)
}
