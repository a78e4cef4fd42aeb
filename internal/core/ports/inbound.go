package ports

import (
	"context"

	"github.com/arxlab/litagent/internal/core/domain"
)

// AgentService is the inbound contract for one conversational turn.
type AgentService interface {
	Complete(ctx context.Context, req domain.ChatRequest) (*domain.AgentRunResult, error)
}

// RetrievalService maps a query to ranked chunks.
type RetrievalService interface {
	Search(ctx context.Context, query string, scope domain.SearchScope, filter domain.SearchFilter, limit int) (*domain.RetrievalResult, error)
}

// MemoryService covers both sides of the memory lifecycle: the read path
// used at the start of a run and the write/maintenance paths driven by the
// worker after a conversation concludes.
type MemoryService interface {
	Recall(ctx context.Context, userID, query string, limit int) ([]domain.MemoryHit, error)
	ExtractAndStore(ctx context.Context, userID, conversationID string) (int, error)
	Consolidate(ctx context.Context, userID string) (pruned, merged int, err error)
}

// ChunkIndexer ingests already-parsed sections into the retrieval corpus.
type ChunkIndexer interface {
	IndexChunks(ctx context.Context, chunks []domain.Chunk) error
}
