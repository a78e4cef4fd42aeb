package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/arxlab/litagent/internal/core/domain"
)

type toolsRetrievalFake struct {
	scope  domain.SearchScope
	filter domain.SearchFilter
	limit  int
}

func (f *toolsRetrievalFake) Search(_ context.Context, _ string, scope domain.SearchScope, filter domain.SearchFilter, limit int) (*domain.RetrievalResult, error) {
	f.scope = scope
	f.filter = filter
	f.limit = limit
	return &domain.RetrievalResult{Chunks: []domain.RetrievedChunk{{ChunkID: "c-1", Text: "hit"}}}, nil
}

type toolsTabStoreFake struct {
	upserted *domain.ReviewTab
}

func (f *toolsTabStoreFake) Get(_ context.Context, userID, projectID string, kind domain.TabKind) (*domain.ReviewTab, error) {
	return &domain.ReviewTab{UserID: userID, ProjectID: projectID, Kind: kind, Content: "existing"}, nil
}

func (f *toolsTabStoreFake) Upsert(_ context.Context, tab *domain.ReviewTab) (*domain.ReviewTab, error) {
	f.upserted = tab
	saved := *tab
	saved.Version = 2
	return &saved, nil
}

func (f *toolsTabStoreFake) ListByProject(context.Context, string, string) ([]domain.ReviewTab, error) {
	return nil, nil
}

func builtinFixture(t *testing.T) (*ToolRegistry, *toolsRetrievalFake, *toolsTabStoreFake) {
	t.Helper()
	registry := NewToolRegistry(time.Second, nil)
	retrieval := &toolsRetrievalFake{}
	tabs := &toolsTabStoreFake{}
	if err := RegisterBuiltinTools(registry, retrieval, &loopMemoryFake{}, tabs, domain.AgentLimits{RetrievalTopK: 8, MemoryTopK: 4}); err != nil {
		t.Fatalf("RegisterBuiltinTools() error = %v", err)
	}
	return registry, retrieval, tabs
}

func TestKnowledgeSearchInjectsScopeFromContext(t *testing.T) {
	registry, retrieval, _ := builtinFixture(t)
	agentCtx := domain.AgentContext{UserID: "u-1", ProjectID: "p-1", Mode: domain.ModeGeneral}

	call := registry.Invoke(context.Background(), agentCtx, AllowedTools(domain.ModeGeneral), ToolKnowledgeSearch, map[string]any{
		"question":     "effect sizes",
		"section_type": "results",
		// Identity keys from the model must be ignored.
		"user_id": "attacker",
	}, 1)
	if call.Status != toolStatusOK {
		t.Fatalf("Invoke() status = %s output = %s", call.Status, call.Output)
	}
	if retrieval.scope.UserID != "u-1" || retrieval.scope.ProjectID != "p-1" {
		t.Fatalf("scope not injected from context: %+v", retrieval.scope)
	}
	if retrieval.filter.SectionType != "results" {
		t.Fatalf("section filter lost: %+v", retrieval.filter)
	}
	if retrieval.limit != 8 {
		t.Fatalf("expected default retrieval limit 8, got %d", retrieval.limit)
	}
	var decoded domain.RetrievalResult
	if err := json.Unmarshal([]byte(call.Output), &decoded); err != nil {
		t.Fatalf("tool output must be JSON: %v", err)
	}
}

func TestKnowledgeSearchRequiresQuestion(t *testing.T) {
	registry, _, _ := builtinFixture(t)

	call := registry.Invoke(context.Background(), domain.AgentContext{UserID: "u-1"}, AllowedTools(domain.ModeGeneral), ToolKnowledgeSearch, map[string]any{}, 1)
	if call.Status != toolStatusInvalid {
		t.Fatalf("expected schema rejection, got %s", call.Status)
	}
}

func TestReviewTabWriteRequiresProject(t *testing.T) {
	registry, _, tabs := builtinFixture(t)
	agentCtx := domain.AgentContext{UserID: "u-1", Mode: domain.ModeReviewFindings}

	call := registry.Invoke(context.Background(), agentCtx, AllowedTools(domain.ModeReviewFindings), ToolReviewTabWrite, map[string]any{
		"tab":     "findings",
		"content": "updated text",
	}, 1)
	if call.Status != toolStatusError {
		t.Fatalf("expected error without project scope, got %s", call.Status)
	}
	if tabs.upserted != nil {
		t.Fatalf("nothing should be written without a project")
	}
	if !strings.Contains(call.Output, "no project in scope") {
		t.Fatalf("unexpected payload %q", call.Output)
	}
}

func TestReviewTabWritePersistsForProject(t *testing.T) {
	registry, _, tabs := builtinFixture(t)
	agentCtx := domain.AgentContext{UserID: "u-1", ProjectID: "p-1", Mode: domain.ModeReviewFindings}

	call := registry.Invoke(context.Background(), agentCtx, AllowedTools(domain.ModeReviewFindings), ToolReviewTabWrite, map[string]any{
		"tab":     "findings",
		"content": "updated text",
	}, 1)
	if call.Status != toolStatusOK {
		t.Fatalf("Invoke() status = %s output = %s", call.Status, call.Output)
	}
	if tabs.upserted == nil || tabs.upserted.Kind != domain.TabFindings || tabs.upserted.Content != "updated text" {
		t.Fatalf("unexpected upsert %+v", tabs.upserted)
	}
	if tabs.upserted.UserID != "u-1" || tabs.upserted.ProjectID != "p-1" {
		t.Fatalf("tab identity must come from context: %+v", tabs.upserted)
	}
}

func TestReviewTabReadRejectsUnknownKind(t *testing.T) {
	registry, _, _ := builtinFixture(t)
	agentCtx := domain.AgentContext{UserID: "u-1", ProjectID: "p-1", Mode: domain.ModeReviewComparison}

	call := registry.Invoke(context.Background(), agentCtx, AllowedTools(domain.ModeReviewComparison), ToolReviewTabRead, map[string]any{
		"tab": "budget",
	}, 1)
	// The enum rejects it before the handler runs.
	if call.Status != toolStatusInvalid {
		t.Fatalf("expected validation_error, got %s", call.Status)
	}
}
