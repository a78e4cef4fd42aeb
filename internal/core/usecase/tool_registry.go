package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/arxlab/litagent/internal/core/domain"
)

const (
	toolStatusOK         = "ok"
	toolStatusError      = "error"
	toolStatusTimeout    = "timeout"
	toolStatusInvalid    = "validation_error"
	toolStatusForbidden  = "permission_denied"
	defaultToolTimeout   = 30 * time.Second
	toolOutputLimitBytes = 16 * 1024
)

// ToolHandler executes one capability. The AgentContext is injected by the
// registry from the run, never taken from model-supplied arguments.
type ToolHandler func(ctx context.Context, agentCtx domain.AgentContext, args map[string]any) (string, error)

type Tool struct {
	Name        string
	Description string
	Schema      *openapi3.Schema
	Handler     ToolHandler
}

type ToolObserver func(tool, status string, duration time.Duration)

// ToolRegistry is the uniform invocation layer: name lookup, argument
// validation against the declared schema, per-call timeout, outcome record.
type ToolRegistry struct {
	tools    map[string]Tool
	names    []string
	timeout  time.Duration
	observer ToolObserver
}

func NewToolRegistry(timeout time.Duration, observer ToolObserver) *ToolRegistry {
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &ToolRegistry{
		tools:    make(map[string]Tool),
		timeout:  timeout,
		observer: observer,
	}
}

func (r *ToolRegistry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", name)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s: already registered", name)
	}
	tool.Name = name
	r.tools[name] = tool
	r.names = append(r.names, name)
	sort.Strings(r.names)
	return nil
}

type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      string `json:"schema,omitempty"`
}

// Catalogue renders the tool list the planner prompt advertises, limited
// to the allowed subset of the current mode.
func (r *ToolRegistry) Catalogue(allowed map[string]struct{}) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(allowed))
	for _, name := range r.names {
		if _, ok := allowed[name]; !ok {
			continue
		}
		tool := r.tools[name]
		descriptor := ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if tool.Schema != nil {
			if raw, err := json.Marshal(tool.Schema); err == nil {
				descriptor.Schema = string(raw)
			}
		}
		out = append(out, descriptor)
	}
	return out
}

// Names lists every registered tool in stable order.
func (r *ToolRegistry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[strings.TrimSpace(name)]
	return tool, ok
}

// Invoke always returns a completed ToolCall record. Failures are encoded
// as structured payloads for the OBSERVE step; they never abort the loop.
func (r *ToolRegistry) Invoke(
	ctx context.Context,
	agentCtx domain.AgentContext,
	allowed map[string]struct{},
	name string,
	args map[string]any,
	iteration int,
) domain.ToolCall {
	start := time.Now()
	call := domain.ToolCall{
		Tool:      strings.TrimSpace(name),
		Iteration: iteration,
	}
	if raw, err := json.Marshal(args); err == nil {
		call.Arguments = string(raw)
	}

	finish := func(status, output string) domain.ToolCall {
		call.Status = status
		call.Output = truncateOutput(output)
		call.Duration = time.Since(start)
		if r.observer != nil {
			r.observer(call.Tool, call.Status, call.Duration)
		}
		return call
	}

	tool, ok := r.tools[call.Tool]
	if !ok {
		return finish(toolStatusInvalid, errorPayload(domain.ErrToolNotFound.Error(), call.Tool))
	}
	if _, permitted := allowed[call.Tool]; !permitted {
		return finish(toolStatusForbidden, errorPayload(domain.ErrPermission.Error(), call.Tool))
	}
	if err := validateToolArgs(tool.Schema, args); err != nil {
		return finish(toolStatusInvalid, errorPayload("invalid arguments: "+err.Error(), call.Tool))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	output, err := tool.Handler(callCtx, agentCtx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && callCtx.Err() != nil {
			return finish(toolStatusTimeout, errorPayload("tool call timed out", call.Tool))
		}
		return finish(toolStatusError, errorPayload(err.Error(), call.Tool))
	}
	return finish(toolStatusOK, output)
}

func validateToolArgs(schema *openapi3.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return schema.VisitJSON(args)
}

func errorPayload(message, tool string) string {
	raw, err := json.Marshal(map[string]string{"error": message, "tool": tool})
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, message)
	}
	return string(raw)
}

func truncateOutput(s string) string {
	if len(s) <= toolOutputLimitBytes {
		return s
	}
	return s[:toolOutputLimitBytes]
}
