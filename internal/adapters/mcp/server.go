// Package mcp exposes the tool registry over the Model Context Protocol
// so external MCP clients can call the same capabilities the internal
// agent loop uses, through the same validation and timeout layer.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/usecase"
)

const serverVersion = "1.0.0"

type Server struct {
	mcpServer *server.MCPServer
}

// New builds an MCP server mirroring every registered tool. Caller
// identity travels as user_id/project_id arguments and is stripped
// before the tool sees its own schema arguments.
func New(registry *usecase.ToolRegistry) *Server {
	s := server.NewMCPServer(
		"litagent",
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	allowed := make(map[string]struct{})
	for _, name := range registry.Names() {
		allowed[name] = struct{}{}
	}

	for _, descriptor := range registry.Catalogue(allowed) {
		name := descriptor.Name
		tool := mcp.NewTool(
			name,
			mcp.WithDescription(descriptor.Description),
			mcp.WithString("user_id",
				mcp.Required(),
				mcp.Description("Identity of the calling user; scopes memory and corpus access."),
			),
			mcp.WithString("project_id",
				mcp.Description("Literature-review project the call operates on."),
			),
			mcp.WithString("arguments_json",
				mcp.Description("Tool arguments as a JSON object matching the tool's schema."),
			),
		)

		s.AddTool(tool, toolHandler(registry, allowed, name))
	}

	return &Server{mcpServer: s}
}

func toolHandler(registry *usecase.ToolRegistry, allowed map[string]struct{}, name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawArgs := request.GetArguments()

		userID, _ := rawArgs["user_id"].(string)
		if userID == "" {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		projectID, _ := rawArgs["project_id"].(string)

		args, err := decodeToolArguments(rawArgs)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		agentCtx := domain.AgentContext{
			UserID:    userID,
			ProjectID: projectID,
			Mode:      domain.ModeGeneral,
		}
		call := registry.Invoke(ctx, agentCtx, allowed, name, args, 0)
		if call.Status != "ok" {
			return mcp.NewToolResultError(call.Output), nil
		}
		return mcp.NewToolResultText(call.Output), nil
	}
}

// ServeStdio blocks, speaking MCP over stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("serve mcp stdio: %w", err)
	}
	return nil
}

func decodeToolArguments(rawArgs map[string]any) (map[string]any, error) {
	encoded, _ := rawArgs["arguments_json"].(string)
	if encoded == "" {
		return map[string]any{}, nil
	}
	args := make(map[string]any)
	if err := json.Unmarshal([]byte(encoded), &args); err != nil {
		return nil, fmt.Errorf("arguments_json must be a JSON object: %w", err)
	}
	return args, nil
}
