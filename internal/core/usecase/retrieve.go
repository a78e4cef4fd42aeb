package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/ports"
)

type RetrievalObserver func(degraded string, chunkCount int)

// RetrievalUseCase is the hybrid retrieval engine: dense and lexical legs
// run in parallel over the same scoped corpus, ranks are fused, and an
// optional reranker reorders the fused head.
type RetrievalUseCase struct {
	embedder ports.Embedder
	index    ports.ChunkIndex
	cfg      domain.RetrievalConfig
	observer RetrievalObserver
}

func NewRetrievalUseCase(embedder ports.Embedder, index ports.ChunkIndex, cfg domain.RetrievalConfig, observer RetrievalObserver) *RetrievalUseCase {
	if cfg.CandidateK <= 0 {
		cfg.CandidateK = 50
	}
	if cfg.FusionRRFK <= 0 {
		cfg.FusionRRFK = 60
	}
	if cfg.RerankTopN <= 0 {
		cfg.RerankTopN = 20
	}
	if cfg.FinalTopK <= 0 {
		cfg.FinalTopK = 10
	}
	return &RetrievalUseCase{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		observer: observer,
	}
}

func (uc *RetrievalUseCase) Search(
	ctx context.Context,
	query string,
	scope domain.SearchScope,
	filter domain.SearchFilter,
	limit int,
) (*domain.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieval search", fmt.Errorf("query is required"))
	}
	if limit <= 0 {
		limit = uc.cfg.FinalTopK
	}

	var (
		wg          sync.WaitGroup
		semantic    []domain.RetrievedChunk
		lexical     []domain.RetrievedChunk
		semanticErr error
		lexicalErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vector, err := uc.embedder.EmbedQuery(ctx, query)
		if err != nil {
			semanticErr = fmt.Errorf("embed query: %w", err)
			return
		}
		semantic, semanticErr = uc.index.SearchSemantic(ctx, vector, uc.cfg.CandidateK, scope, filter)
	}()
	go func() {
		defer wg.Done()
		lexical, lexicalErr = uc.index.SearchLexical(ctx, query, uc.cfg.CandidateK, scope, filter)
	}()
	wg.Wait()

	degraded := ""
	switch {
	case semanticErr != nil && lexicalErr != nil:
		// Both legs down degrades to an empty result, never an error.
		uc.observe("both", 0)
		return &domain.RetrievalResult{Chunks: []domain.RetrievedChunk{}, Degraded: "both"}, nil
	case semanticErr != nil:
		degraded = "semantic"
		semantic = nil
	case lexicalErr != nil:
		degraded = "lexical"
		lexical = nil
	}

	fused := fuseCandidatesRRF(semantic, lexical, uc.cfg.FusionRRFK)
	ranked := rerankCandidates(query, fused, uc.cfg.RerankTopN)
	final := trimCandidates(ranked, limit)

	uc.observe(degraded, len(final))
	return &domain.RetrievalResult{Chunks: final, Degraded: degraded}, nil
}

func (uc *RetrievalUseCase) observe(degraded string, chunkCount int) {
	if uc.observer != nil {
		uc.observer(degraded, chunkCount)
	}
}
