package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/arxlab/litagent/internal/core/domain"
)

func TestIndexChunksEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewChunkClient(server.URL, "chunks")
	chunks := []domain.Chunk{
		{ID: "c-1", DocumentID: "doc-1", ProjectID: "p-1", SectionType: "methods", Index: 0, Text: "sample size"},
		{ID: "c-2", DocumentID: "doc-1", ProjectID: "p-1", SectionType: "results", Index: 1, Text: "effect observed"},
	}
	vectors := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	if err := client.IndexChunks(context.Background(), chunks, vectors); err != nil {
		t.Fatalf("first IndexChunks() error = %v", err)
	}
	if err := client.IndexChunks(context.Background(), chunks, vectors); err != nil {
		t.Fatalf("second IndexChunks() error = %v", err)
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
}

func TestIndexChunksMintsUUIDPointIDs(t *testing.T) {
	var captured struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			_ = json.NewDecoder(r.Body).Decode(&captured)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	// Split windows carry a "#<n>" suffix, which qdrant rejects as a point id.
	client := NewChunkClient(server.URL, "chunks")
	chunks := []domain.Chunk{
		{ID: "doc-1-sec-2#0", DocumentID: "doc-1", Text: "first window"},
		{ID: "doc-1-sec-2#1", DocumentID: "doc-1", Text: "second window"},
	}
	if err := client.IndexChunks(context.Background(), chunks, [][]float32{{0.1, 0.2}, {0.3, 0.4}}); err != nil {
		t.Fatalf("IndexChunks() error = %v", err)
	}
	if len(captured.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(captured.Points))
	}
	for i, point := range captured.Points {
		if _, err := uuid.Parse(point.ID); err != nil {
			t.Fatalf("point %d id %q is not a UUID: %v", i, point.ID, err)
		}
		if got := point.Payload["chunk_id"]; got != chunks[i].ID {
			t.Fatalf("point %d payload chunk_id = %v, want %q", i, got, chunks[i].ID)
		}
	}
	if captured.Points[0].ID == captured.Points[1].ID {
		t.Fatalf("distinct chunk ids mapped to the same point id %q", captured.Points[0].ID)
	}
	// Re-indexing the same chunk must hit the same point.
	if got := chunkPointID("doc-1-sec-2#0"); got != captured.Points[0].ID {
		t.Fatalf("point id not deterministic: %q vs %q", got, captured.Points[0].ID)
	}
}

func TestIndexChunksRejectsVectorCountMismatch(t *testing.T) {
	client := NewChunkClient("http://localhost:6333", "chunks")
	err := client.IndexChunks(context.Background(),
		[]domain.Chunk{{ID: "c-1", Text: "a"}, {ID: "c-2", Text: "b"}},
		[][]float32{{0.1, 0.2}},
	)
	if err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/chunks" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewChunkClient(server.URL, "chunks")
	err := client.IndexChunks(context.Background(),
		[]domain.Chunk{{ID: "c-1", Text: "a"}},
		[][]float32{{0.1, 0.2}},
	)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestSearchSemanticScopesQueryAndDecodesPayload(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/collections/chunks/points/query" {
			_ = json.NewDecoder(r.Body).Decode(&captured)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"result":{"points":[
				{"score":0.91,"payload":{"chunk_id":"c-7","document_id":"doc-3","project_id":"p-1","section_type":"methods","chunk_index":4,"text":"participants were recruited"}}
			]}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewChunkClient(server.URL, "chunks")
	hits, err := client.SearchSemantic(context.Background(), []float32{0.5, 0.6}, 10,
		domain.SearchScope{UserID: "u-1", ProjectID: "p-1"},
		domain.SearchFilter{SectionType: "methods"},
	)
	if err != nil {
		t.Fatalf("SearchSemantic() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	hit := hits[0]
	if hit.ChunkID != "c-7" || hit.DocumentID != "doc-3" || hit.SectionType != "methods" {
		t.Fatalf("unexpected hit payload: %+v", hit)
	}
	if hit.ChunkIndex != 4 {
		t.Fatalf("expected chunk index 4, got %d", hit.ChunkIndex)
	}
	if hit.Score != 0.91 {
		t.Fatalf("expected score 0.91, got %v", hit.Score)
	}

	if captured["using"] != denseVectorName {
		t.Fatalf("expected semantic query to use %q vector, got %v", denseVectorName, captured["using"])
	}
	filter, _ := captured["filter"].(map[string]any)
	if filter == nil {
		t.Fatalf("expected scope filter in query body")
	}
	must, _ := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("expected project and section conditions, got %v", filter)
	}
}

func TestSearchLexicalSkipsEmptyQueries(t *testing.T) {
	client := NewChunkClient("http://localhost:6333", "chunks")
	hits, err := client.SearchLexical(context.Background(), "  !!  ", 10,
		domain.SearchScope{}, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if hits != nil {
		t.Fatalf("expected nil hits for tokenless query, got %v", hits)
	}
}
