package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/usecase"
)

func echoRegistry(t *testing.T) (*usecase.ToolRegistry, map[string]struct{}, *domain.AgentContext) {
	t.Helper()
	schema := openapi3.NewObjectSchema().
		WithProperty("text", openapi3.NewStringSchema())
	schema.Required = []string{"text"}

	var seen domain.AgentContext
	registry := usecase.NewToolRegistry(time.Second, nil)
	if err := registry.Register(usecase.Tool{
		Name:        "echo",
		Description: "returns its input",
		Schema:      schema,
		Handler: func(_ context.Context, agentCtx domain.AgentContext, args map[string]any) (string, error) {
			seen = agentCtx
			text, _ := args["text"].(string)
			return text, nil
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return registry, map[string]struct{}{"echo": {}}, &seen
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = "echo"
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(result.Content))
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestToolHandlerInvokesThroughRegistry(t *testing.T) {
	registry, allowed, seen := echoRegistry(t)
	handler := toolHandler(registry, allowed, "echo")

	result, err := handler(context.Background(), callRequest(map[string]any{
		"user_id":        "u-1",
		"project_id":     "p-9",
		"arguments_json": `{"text":"hello"}`,
	}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %v", result.Content)
	}
	if got := resultText(t, result); got != "hello" {
		t.Fatalf("output = %q, want %q", got, "hello")
	}
	if seen.UserID != "u-1" || seen.ProjectID != "p-9" {
		t.Fatalf("identity not injected: %+v", seen)
	}
	if seen.Mode != domain.ModeGeneral {
		t.Fatalf("external calls must run in general mode, got %s", seen.Mode)
	}
}

func TestToolHandlerRequiresUserID(t *testing.T) {
	registry, allowed, _ := echoRegistry(t)
	handler := toolHandler(registry, allowed, "echo")

	result, err := handler(context.Background(), callRequest(map[string]any{
		"arguments_json": `{"text":"hello"}`,
	}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result without user_id")
	}
}

func TestToolHandlerRejectsMalformedArgumentsJSON(t *testing.T) {
	registry, allowed, _ := echoRegistry(t)
	handler := toolHandler(registry, allowed, "echo")

	result, err := handler(context.Background(), callRequest(map[string]any{
		"user_id":        "u-1",
		"arguments_json": `[1,2,3]`,
	}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result for non-object arguments")
	}
}

func TestToolHandlerSurfacesValidationFailures(t *testing.T) {
	registry, allowed, _ := echoRegistry(t)
	handler := toolHandler(registry, allowed, "echo")

	// Missing the required "text" argument: the registry's schema check
	// must reject it before the tool runs.
	result, err := handler(context.Background(), callRequest(map[string]any{
		"user_id":        "u-1",
		"arguments_json": `{}`,
	}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result for schema violation")
	}
}

func TestDecodeToolArgumentsDefaultsToEmptyObject(t *testing.T) {
	args, err := decodeToolArguments(map[string]any{"user_id": "u-1"})
	if err != nil {
		t.Fatalf("decodeToolArguments() error = %v", err)
	}
	if len(args) != 0 {
		t.Fatalf("expected empty args, got %v", args)
	}
}
