package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nexlead/leadflow/internal/connections"
	"github.com/nexlead/leadflow/internal/diagram"
	"github.com/nexlead/leadflow/internal/engine"
	"github.com/nexlead/leadflow/internal/store"
	"github.com/nexlead/leadflow/pkg/schema"
)

// handleExecute runs a flow definition passed inline.
func (s *LeadflowServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, defErr := parseDefinition(req)
	if defErr != nil {
		return mcp.NewToolResultError(defErr.Error()), nil
	}

	input := mcp.ParseStringMap(req, "input", nil)
	enableLogs := req.GetString("enable_logs", "false") == "true"

	bundles, bundleErr := s.resolveConnections(ctx, mcp.ParseStringMap(req, "connections", nil))
	if bundleErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("connection resolution failed: %v", bundleErr)), nil
	}

	resp, err := s.executor.ExecuteFlow(ctx, engine.Request{
		Flow:        def,
		InputData:   input,
		Connections: bundles,
		EnableLogs:  enableLogs,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("flow execution failed: %v", err)), nil
	}

	return marshalResult(resp)
}

// handleValidate checks a flow definition without running it.
func (s *LeadflowServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, defErr := parseDefinition(req)
	if defErr != nil {
		return mcp.NewToolResultError(defErr.Error()), nil
	}

	if err := s.validator.ValidateFlow(def); err != nil {
		return marshalResult(invalidResult(err))
	}
	graph, err := engine.ParseGraph(def)
	if err != nil {
		return marshalResult(invalidResult(err))
	}

	// Node types without a registered runner would fail at run time.
	var unknown []string
	for _, n := range def.Nodes {
		if !s.registry.Has(n.Type) {
			unknown = append(unknown, fmt.Sprintf("%s (%s)", n.ID, n.Type))
		}
	}
	if len(unknown) > 0 {
		return marshalResult(map[string]any{
			"valid": false,
			"error": fmt.Sprintf("no runner registered for nodes: %v", unknown),
			"code":  schema.ErrCodeNotFound,
		})
	}

	return marshalResult(map[string]any{
		"valid":   true,
		"nodes":   len(def.Nodes),
		"edges":   len(def.Edges),
		"trigger": graph.Trigger,
		"levels":  graph.Levels,
	})
}

// handleDiagram renders a flow definition as ASCII art or Mermaid syntax.
func (s *LeadflowServer) handleDiagram(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	def, defErr := parseDefinition(req)
	if defErr != nil {
		return mcp.NewToolResultError(defErr.Error()), nil
	}

	var annotations map[string]engine.NodeAnnotation
	if req.GetString("include_status", "false") == "true" {
		annotations = s.executor.Annotations().Snapshot()
	}

	model, buildErr := diagram.Build(def, annotations)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}
}

// handleNodes lists registered node types.
func (s *LeadflowServer) handleNodes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := s.registry.List()

	if req.GetString("include_schemas", "false") != "true" {
		return marshalResult(map[string]any{"nodes": infos})
	}

	type nodeEntry struct {
		Type         schema.NodeType `json:"type"`
		Description  string          `json:"description,omitempty"`
		ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	}
	entries := make([]nodeEntry, 0, len(infos))
	for _, info := range infos {
		entry := nodeEntry{Type: info.Type, Description: info.Description}
		if runner, err := s.registry.Get(info.Type); err == nil {
			entry.ConfigSchema = runner.Schema().ConfigSchema
		}
		entries = append(entries, entry)
	}
	return marshalResult(map[string]any{"nodes": entries})
}

// handleLeads fetches a lead by ID, or lists leads when no ID is given.
func (s *LeadflowServer) handleLeads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no lead store configured"), nil
	}

	collection := req.GetString("collection", store.DefaultCollection)

	if leadID := req.GetString("lead_id", ""); leadID != "" {
		lead, err := s.store.GetLead(ctx, leadID, collection)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("lead lookup failed: %v", err)), nil
		}
		if lead == nil {
			return mcp.NewToolResultError(fmt.Sprintf("lead %q not found", leadID)), nil
		}
		return marshalResult(map[string]any{"lead": lead})
	}

	limit := 50
	if raw := req.GetString("limit", ""); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	leads, err := s.store.ListLeads(ctx, collection, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lead query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"leads": leads, "count": len(leads)})
}

// --- Internal helpers ---

// parseDefinition decodes the "definition" argument into a FlowDefinition.
func parseDefinition(req mcp.CallToolRequest) (*schema.FlowDefinition, error) {
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return nil, errors.New("definition is required")
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %v", err)
	}
	var def schema.FlowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid definition: %v", err)
	}
	return &def, nil
}

// resolveConnections layers inline bundles over the configured provider.
func (s *LeadflowServer) resolveConnections(ctx context.Context, inline map[string]any) (map[string]connections.Bundle, error) {
	bundles := make(map[string]connections.Bundle)

	if s.provider != nil {
		names, err := s.provider.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			b, err := s.provider.Get(ctx, name)
			if err != nil {
				return nil, err
			}
			bundles[name] = b
		}
	}

	for name, v := range inline {
		if b, ok := v.(map[string]any); ok {
			bundles[name] = b
		}
	}

	if len(bundles) == 0 {
		return nil, nil
	}
	return bundles, nil
}

// invalidResult shapes a validation failure into a tool payload.
func invalidResult(err error) map[string]any {
	out := map[string]any{"valid": false, "error": err.Error()}
	var ferr *schema.FlowError
	if errors.As(err, &ferr) {
		out["code"] = ferr.Code
	}
	return out
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
