package usecase

import (
	"context"
	"fmt"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/ports"
)

// IndexUseCase ingests already-parsed document sections into the retrieval
// corpus. Parsing itself happens upstream; sections arrive ready to embed,
// and oversized ones are re-split into bounded windows first.
type IndexUseCase struct {
	embedder ports.Embedder
	index    ports.ChunkIndex
	splitter ports.SectionSplitter
}

func NewIndexUseCase(embedder ports.Embedder, index ports.ChunkIndex, splitter ports.SectionSplitter) *IndexUseCase {
	return &IndexUseCase{embedder: embedder, index: index, splitter: splitter}
}

func (uc *IndexUseCase) IndexChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	if uc.splitter != nil {
		bounded := make([]domain.Chunk, 0, len(chunks))
		for _, chunk := range chunks {
			bounded = append(bounded, uc.splitter.Split(chunk)...)
		}
		chunks = bounded
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return domain.WrapError(domain.ErrProvider, "embed chunks", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	if err := uc.index.IndexChunks(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}
