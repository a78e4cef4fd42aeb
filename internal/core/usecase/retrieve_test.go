package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/arxlab/litagent/internal/core/domain"
)

type retrievalEmbedderFake struct {
	err error
}

func (f *retrievalEmbedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *retrievalEmbedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type retrievalIndexFake struct {
	semantic    []domain.RetrievedChunk
	lexical     []domain.RetrievedChunk
	semanticErr error
	lexicalErr  error

	semanticLimit int
	lexicalLimit  int
	scope         domain.SearchScope
	filter        domain.SearchFilter
}

func (f *retrievalIndexFake) IndexChunks(context.Context, []domain.Chunk, [][]float32) error {
	return nil
}

func (f *retrievalIndexFake) SearchSemantic(_ context.Context, _ []float32, limit int, scope domain.SearchScope, filter domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	f.semanticLimit = limit
	f.scope = scope
	f.filter = filter
	if f.semanticErr != nil {
		return nil, f.semanticErr
	}
	return f.semantic, nil
}

func (f *retrievalIndexFake) SearchLexical(_ context.Context, _ string, limit int, _ domain.SearchScope, _ domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	f.lexicalLimit = limit
	if f.lexicalErr != nil {
		return nil, f.lexicalErr
	}
	return f.lexical, nil
}

func chunk(id string, index int, text string) domain.RetrievedChunk {
	return domain.RetrievedChunk{ChunkID: id, DocumentID: "doc-1", ChunkIndex: index, Text: text}
}

func TestSearchFusesBothLegs(t *testing.T) {
	index := &retrievalIndexFake{
		semantic: []domain.RetrievedChunk{chunk("a", 0, "alpha"), chunk("b", 1, "beta")},
		lexical:  []domain.RetrievedChunk{chunk("b", 1, "beta"), chunk("c", 2, "gamma")},
	}
	uc := NewRetrievalUseCase(&retrievalEmbedderFake{}, index, domain.RetrievalConfig{CandidateK: 30}, nil)

	result, err := uc.Search(context.Background(), "beta details", domain.SearchScope{UserID: "u-1", ProjectID: "p-1"}, domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.Degraded != "" {
		t.Fatalf("expected healthy search, got degraded=%q", result.Degraded)
	}
	if len(result.Chunks) != 3 {
		t.Fatalf("expected 3 fused chunks, got %d", len(result.Chunks))
	}
	// Appearing in both legs outranks a single-leg hit.
	if result.Chunks[0].ChunkID != "b" {
		t.Fatalf("expected chunk b first, got %s", result.Chunks[0].ChunkID)
	}
	if index.semanticLimit != 30 || index.lexicalLimit != 30 {
		t.Fatalf("expected candidate limit on both legs, got %d/%d", index.semanticLimit, index.lexicalLimit)
	}
	if index.scope.UserID != "u-1" || index.scope.ProjectID != "p-1" {
		t.Fatalf("scope not propagated: %+v", index.scope)
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	index := &retrievalIndexFake{
		semantic: []domain.RetrievedChunk{chunk("a", 0, "alpha"), chunk("b", 1, "beta"), chunk("c", 2, "gamma")},
		lexical:  []domain.RetrievedChunk{chunk("c", 2, "gamma"), chunk("a", 0, "alpha")},
	}
	uc := NewRetrievalUseCase(&retrievalEmbedderFake{}, index, domain.RetrievalConfig{}, nil)

	var first []string
	for run := 0; run < 5; run++ {
		result, err := uc.Search(context.Background(), "alpha gamma", domain.SearchScope{UserID: "u-1"}, domain.SearchFilter{}, 10)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		ids := make([]string, len(result.Chunks))
		for i, c := range result.Chunks {
			ids[i] = c.ChunkID
		}
		if run == 0 {
			first = ids
			continue
		}
		if fmt.Sprint(ids) != fmt.Sprint(first) {
			t.Fatalf("ordering changed between runs: %v vs %v", first, ids)
		}
	}
}

func TestSearchDegradesWhenSemanticLegFails(t *testing.T) {
	index := &retrievalIndexFake{
		semanticErr: errors.New("qdrant down"),
		lexical:     []domain.RetrievedChunk{chunk("c", 2, "gamma")},
	}
	observedLeg := ""
	uc := NewRetrievalUseCase(&retrievalEmbedderFake{}, index, domain.RetrievalConfig{}, func(degraded string, _ int) {
		observedLeg = degraded
	})

	result, err := uc.Search(context.Background(), "gamma", domain.SearchScope{UserID: "u-1"}, domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.Degraded != "semantic" {
		t.Fatalf("expected semantic degradation, got %q", result.Degraded)
	}
	if len(result.Chunks) != 1 || result.Chunks[0].ChunkID != "c" {
		t.Fatalf("expected lexical-only result, got %+v", result.Chunks)
	}
	if observedLeg != "semantic" {
		t.Fatalf("observer saw %q", observedLeg)
	}
}

func TestSearchDegradesWhenEmbeddingFails(t *testing.T) {
	index := &retrievalIndexFake{
		lexical: []domain.RetrievedChunk{chunk("c", 2, "gamma")},
	}
	uc := NewRetrievalUseCase(&retrievalEmbedderFake{err: errors.New("embed down")}, index, domain.RetrievalConfig{}, nil)

	result, err := uc.Search(context.Background(), "gamma", domain.SearchScope{UserID: "u-1"}, domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.Degraded != "semantic" {
		t.Fatalf("embedding failure should degrade the semantic leg, got %q", result.Degraded)
	}
}

func TestSearchBothLegsDownReturnsEmpty(t *testing.T) {
	index := &retrievalIndexFake{
		semanticErr: errors.New("down"),
		lexicalErr:  errors.New("down"),
	}
	uc := NewRetrievalUseCase(&retrievalEmbedderFake{}, index, domain.RetrievalConfig{}, nil)

	result, err := uc.Search(context.Background(), "anything", domain.SearchScope{UserID: "u-1"}, domain.SearchFilter{}, 10)
	if err != nil {
		t.Fatalf("total degradation must not surface an error, got %v", err)
	}
	if result.Degraded != "both" {
		t.Fatalf("expected both, got %q", result.Degraded)
	}
	if len(result.Chunks) != 0 {
		t.Fatalf("expected empty result, got %d chunks", len(result.Chunks))
	}
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	uc := NewRetrievalUseCase(&retrievalEmbedderFake{}, &retrievalIndexFake{}, domain.RetrievalConfig{}, nil)

	_, err := uc.Search(context.Background(), "   ", domain.SearchScope{UserID: "u-1"}, domain.SearchFilter{}, 10)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSearchAppliesFinalLimit(t *testing.T) {
	many := make([]domain.RetrievedChunk, 0, 12)
	for i := 0; i < 12; i++ {
		many = append(many, chunk(fmt.Sprintf("c-%02d", i), i, fmt.Sprintf("text %d", i)))
	}
	index := &retrievalIndexFake{semantic: many}
	uc := NewRetrievalUseCase(&retrievalEmbedderFake{}, index, domain.RetrievalConfig{FinalTopK: 8}, nil)

	result, err := uc.Search(context.Background(), "text", domain.SearchScope{UserID: "u-1"}, domain.SearchFilter{}, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Chunks) != 8 {
		t.Fatalf("expected default top-k of 8, got %d", len(result.Chunks))
	}
}
