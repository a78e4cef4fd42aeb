package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arxlab/litagent/internal/core/domain"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "lexical"
)

// ChunkClient indexes parsed document chunks in a qdrant collection with a
// named dense vector for semantic search and a named sparse vector for
// lexical search, so both retrieval legs read the same population.
type ChunkClient struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func NewChunkClient(baseURL, collection string) *ChunkClient {
	return &ChunkClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *ChunkClient) IndexChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch")
	}
	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID: chunkPointID(chunk.ID),
			Vector: map[string]any{
				denseVectorName:  vectors[i],
				sparseVectorName: encodeSparseDocument(chunk.Text, chunk.SectionType),
			},
			Payload: map[string]any{
				"chunk_id":     chunk.ID,
				"document_id":  chunk.DocumentID,
				"project_id":   chunk.ProjectID,
				"section_type": chunk.SectionType,
				"chunk_index":  chunk.Index,
				"text":         chunk.Text,
			},
		})
	}

	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant upsert request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError("qdrant upsert", resp)
	}
	return nil
}

// qdrant only accepts unsigned integers or UUID strings as point ids, and
// split chunks carry a "#<n>" suffix in their id. Hashing the chunk id into
// a name-based UUID keeps re-indexing idempotent: the same chunk always maps
// to the same point. The raw id stays in the payload as chunk_id.
func chunkPointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (c *ChunkClient) SearchSemantic(
	ctx context.Context,
	queryVector []float32,
	limit int,
	scope domain.SearchScope,
	filter domain.SearchFilter,
) ([]domain.RetrievedChunk, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	return c.query(ctx, map[string]any{
		"query":        queryVector,
		"using":        denseVectorName,
		"limit":        limit,
		"with_payload": true,
		"filter":       buildScopeFilter(scope, filter),
	})
}

func (c *ChunkClient) SearchLexical(
	ctx context.Context,
	queryText string,
	limit int,
	scope domain.SearchScope,
	filter domain.SearchFilter,
) ([]domain.RetrievedChunk, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	return c.query(ctx, map[string]any{
		"query":        sparse,
		"using":        sparseVectorName,
		"limit":        limit,
		"with_payload": true,
		"filter":       buildScopeFilter(scope, filter),
	})
}

func (c *ChunkClient) query(ctx context.Context, reqBody map[string]any) ([]domain.RetrievedChunk, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal query body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, statusError("qdrant query", resp)
	}

	var queryResp struct {
		Result struct {
			Points []struct {
				Score   float64        `json:"score"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	out := make([]domain.RetrievedChunk, 0, len(queryResp.Result.Points))
	for _, point := range queryResp.Result.Points {
		out = append(out, domain.RetrievedChunk{
			ChunkID:     payloadString(point.Payload, "chunk_id"),
			DocumentID:  payloadString(point.Payload, "document_id"),
			SectionType: payloadString(point.Payload, "section_type"),
			ChunkIndex:  payloadInt(point.Payload, "chunk_index"),
			Text:        payloadString(point.Payload, "text"),
			Score:       point.Score,
		})
	}
	return out, nil
}

func (c *ChunkClient) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 409 means another process created it first.
	if resp.StatusCode == http.StatusConflict {
		c.markEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		return statusError("qdrant ensure collection", resp)
	}
	c.markEnsured(vectorSize)
	return nil
}

func (c *ChunkClient) markEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func buildScopeFilter(scope domain.SearchScope, filter domain.SearchFilter) map[string]any {
	must := make([]map[string]any, 0, 3)
	if scope.ProjectID != "" {
		must = append(must, matchCondition("project_id", scope.ProjectID))
	}
	if filter.SectionType != "" {
		must = append(must, matchCondition("section_type", filter.SectionType))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func statusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return fmt.Errorf("%s status: %s: %s", operation, resp.Status, msg)
	}
	return fmt.Errorf("%s status: %s", operation, resp.Status)
}

func payloadString(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

func payloadInt(payload map[string]any, key string) int {
	value, ok := payload[key]
	if !ok {
		return 0
	}
	switch typed := value.(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	default:
		return 0
	}
}
