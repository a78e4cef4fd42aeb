package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/ports"
)

const (
	ToolKnowledgeSearch = "knowledge_search"
	ToolMemoryLookup    = "memory_lookup"
	ToolReviewTabRead   = "review_tab_read"
	ToolReviewTabWrite  = "review_tab_write"
)

// RegisterBuiltinTools wires the core capabilities into the registry.
func RegisterBuiltinTools(
	registry *ToolRegistry,
	retrieval ports.RetrievalService,
	memory ports.MemoryService,
	tabs ports.ReviewTabStore,
	limits domain.AgentLimits,
) error {
	searchSchema := openapi3.NewObjectSchema().
		WithProperty("question", openapi3.NewStringSchema()).
		WithProperty("section_type", openapi3.NewStringSchema()).
		WithProperty("limit", openapi3.NewIntegerSchema())
	searchSchema.Required = []string{"question"}

	if err := registry.Register(Tool{
		Name:        ToolKnowledgeSearch,
		Description: "Search the project's document corpus for passages relevant to a question.",
		Schema:      searchSchema,
		Handler: func(ctx context.Context, agentCtx domain.AgentContext, args map[string]any) (string, error) {
			question := stringArg(args, "question", "")
			limit := intArg(args, "limit", limits.RetrievalTopK)
			scope := domain.SearchScope{UserID: agentCtx.UserID, ProjectID: agentCtx.ProjectID}
			filter := domain.SearchFilter{SectionType: stringArg(args, "section_type", "")}

			result, err := retrieval.Search(ctx, question, scope, filter, limit)
			if err != nil {
				return "", domain.WrapError(domain.ErrToolExecution, "knowledge search", err)
			}
			payload, err := json.Marshal(result)
			if err != nil {
				return "", fmt.Errorf("marshal search result: %w", err)
			}
			return string(payload), nil
		},
	}); err != nil {
		return err
	}

	lookupSchema := openapi3.NewObjectSchema().
		WithProperty("query", openapi3.NewStringSchema()).
		WithProperty("limit", openapi3.NewIntegerSchema())
	lookupSchema.Required = []string{"query"}

	if err := registry.Register(Tool{
		Name:        ToolMemoryLookup,
		Description: "Look up remembered facts about the current user relevant to a query.",
		Schema:      lookupSchema,
		Handler: func(ctx context.Context, agentCtx domain.AgentContext, args map[string]any) (string, error) {
			hits, err := memory.Recall(ctx, agentCtx.UserID, stringArg(args, "query", ""), intArg(args, "limit", limits.MemoryTopK))
			if err != nil {
				return "", domain.WrapError(domain.ErrToolExecution, "memory lookup", err)
			}
			payload, err := json.Marshal(hits)
			if err != nil {
				return "", fmt.Errorf("marshal memory hits: %w", err)
			}
			return string(payload), nil
		},
	}); err != nil {
		return err
	}

	readSchema := openapi3.NewObjectSchema().
		WithProperty("tab", openapi3.NewStringSchema().WithEnum("methodology", "findings", "comparison", "notes"))
	readSchema.Required = []string{"tab"}

	if err := registry.Register(Tool{
		Name:        ToolReviewTabRead,
		Description: "Read one tab of the current literature-review project.",
		Schema:      readSchema,
		Handler: func(ctx context.Context, agentCtx domain.AgentContext, args map[string]any) (string, error) {
			kind, ok := domain.ParseTabKind(stringArg(args, "tab", ""))
			if !ok {
				return "", domain.WrapError(domain.ErrInvalidInput, "review tab read", fmt.Errorf("unknown tab kind"))
			}
			tab, err := tabs.Get(ctx, agentCtx.UserID, agentCtx.ProjectID, kind)
			if err != nil {
				return "", domain.WrapError(domain.ErrToolExecution, "review tab read", err)
			}
			payload, err := json.Marshal(tab)
			if err != nil {
				return "", fmt.Errorf("marshal review tab: %w", err)
			}
			return string(payload), nil
		},
	}); err != nil {
		return err
	}

	writeSchema := openapi3.NewObjectSchema().
		WithProperty("tab", openapi3.NewStringSchema().WithEnum("methodology", "findings", "comparison", "notes")).
		WithProperty("content", openapi3.NewStringSchema())
	writeSchema.Required = []string{"tab", "content"}

	return registry.Register(Tool{
		Name:        ToolReviewTabWrite,
		Description: "Replace the content of one tab of the current literature-review project.",
		Schema:      writeSchema,
		Handler: func(ctx context.Context, agentCtx domain.AgentContext, args map[string]any) (string, error) {
			kind, ok := domain.ParseTabKind(stringArg(args, "tab", ""))
			if !ok {
				return "", domain.WrapError(domain.ErrInvalidInput, "review tab write", fmt.Errorf("unknown tab kind"))
			}
			content := stringArg(args, "content", "")
			if strings.TrimSpace(agentCtx.ProjectID) == "" {
				return "", domain.WrapError(domain.ErrInvalidInput, "review tab write", fmt.Errorf("no project in scope"))
			}
			now := time.Now().UTC()
			saved, err := tabs.Upsert(ctx, &domain.ReviewTab{
				ID:        uuid.NewString(),
				ProjectID: agentCtx.ProjectID,
				UserID:    agentCtx.UserID,
				Kind:      kind,
				Content:   content,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return "", domain.WrapError(domain.ErrToolExecution, "review tab write", err)
			}
			payload, err := json.Marshal(saved)
			if err != nil {
				return "", fmt.Errorf("marshal review tab: %w", err)
			}
			return string(payload), nil
		},
	})
}

func stringArg(args map[string]any, key, fallback string) string {
	if args == nil {
		return fallback
	}
	value, ok := args[key]
	if !ok || value == nil {
		return fallback
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

func intArg(args map[string]any, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	value, ok := args[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	case int64:
		return int(typed)
	default:
		return fallback
	}
}
