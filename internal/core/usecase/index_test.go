package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/arxlab/litagent/internal/core/domain"
)

type indexRecorderFake struct {
	retrievalIndexFake
	chunks  []domain.Chunk
	vectors [][]float32
	err     error
}

func (f *indexRecorderFake) IndexChunks(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	f.chunks = chunks
	f.vectors = vectors
	return f.err
}

type splitterFake struct{}

func (splitterFake) Split(chunk domain.Chunk) []domain.Chunk {
	if strings.TrimSpace(chunk.Text) == "" {
		return nil
	}
	if len(chunk.Text) <= 10 {
		return []domain.Chunk{chunk}
	}
	first, second := chunk, chunk
	first.ID, second.ID = chunk.ID+"#0", chunk.ID+"#1"
	first.Text, second.Text = chunk.Text[:10], chunk.Text[10:]
	return []domain.Chunk{first, second}
}

func TestIndexChunksSplitsBeforeEmbedding(t *testing.T) {
	index := &indexRecorderFake{}
	uc := NewIndexUseCase(&retrievalEmbedderFake{}, index, splitterFake{})

	err := uc.IndexChunks(context.Background(), []domain.Chunk{
		{ID: "a", Text: "short"},
		{ID: "b", Text: "a section far beyond the bound"},
	})
	if err != nil {
		t.Fatalf("IndexChunks() error = %v", err)
	}
	if len(index.chunks) != 3 {
		t.Fatalf("expected 3 bounded chunks, got %d", len(index.chunks))
	}
	if len(index.vectors) != 3 {
		t.Fatalf("expected one vector per chunk, got %d", len(index.vectors))
	}
	if index.chunks[1].ID != "b#0" || index.chunks[2].ID != "b#1" {
		t.Fatalf("unexpected split ids: %+v", index.chunks)
	}
}

func TestIndexChunksEmptyInputIsNoop(t *testing.T) {
	index := &indexRecorderFake{}
	uc := NewIndexUseCase(&retrievalEmbedderFake{}, index, splitterFake{})

	if err := uc.IndexChunks(context.Background(), nil); err != nil {
		t.Fatalf("IndexChunks() error = %v", err)
	}
	if index.chunks != nil {
		t.Fatalf("index must not be touched for empty input")
	}
	// All-blank sections collapse to nothing after splitting.
	if err := uc.IndexChunks(context.Background(), []domain.Chunk{{ID: "a", Text: " "}}); err != nil {
		t.Fatalf("IndexChunks() error = %v", err)
	}
	if index.chunks != nil {
		t.Fatalf("blank sections must not reach the index")
	}
}

func TestIndexChunksEmbedFailure(t *testing.T) {
	uc := NewIndexUseCase(&retrievalEmbedderFake{err: errors.New("embed down")}, &indexRecorderFake{}, nil)

	err := uc.IndexChunks(context.Background(), []domain.Chunk{{ID: "a", Text: "text"}})
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}
