package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/arxlab/litagent/internal/core/domain"
)

// MemoryClient mirrors canonical user facts into a similarity index. Fact
// vectors use the point id of the relational record so merge and delete
// stay in lockstep with the store.
type MemoryClient struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func NewMemoryClient(baseURL, collection string) *MemoryClient {
	return &MemoryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *MemoryClient) IndexFact(ctx context.Context, memory domain.Memory, vector []float32) error {
	if len(vector) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"points": []map[string]any{
			{
				"id":     memory.ID,
				"vector": vector,
				"payload": map[string]any{
					"memory_id":        memory.ID,
					"user_id":          memory.UserID,
					"fact":             memory.Fact,
					"importance":       memory.Importance,
					"created_at":       memory.CreatedAt.Format(time.RFC3339),
					"last_accessed_at": memory.LastAccessedAt.Format(time.RFC3339),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal fact upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create fact upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fact upsert request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError("fact upsert", resp)
	}
	return nil
}

func (c *MemoryClient) SearchFacts(
	ctx context.Context,
	userID string,
	queryVector []float32,
	limit int,
) ([]domain.MemoryHit, error) {
	if len(queryVector) == 0 || strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 4
	}

	body, err := json.Marshal(map[string]any{
		"query":        queryVector,
		"limit":        limit,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{matchCondition("user_id", userID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal fact query body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create fact query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fact query request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, statusError("fact query", resp)
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
		return nil, fmt.Errorf("decode fact query response: %w", err)
	}

	out := make([]domain.MemoryHit, 0, len(queryResp.Result.Points))
	for _, point := range queryResp.Result.Points {
		memory := domain.Memory{
			ID:         payloadString(point.Payload, "memory_id"),
			UserID:     payloadString(point.Payload, "user_id"),
			Fact:       payloadString(point.Payload, "fact"),
			Importance: payloadFloat(point.Payload, "importance"),
		}
		if ts, err := time.Parse(time.RFC3339, payloadString(point.Payload, "created_at")); err == nil {
			memory.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339, payloadString(point.Payload, "last_accessed_at")); err == nil {
			memory.LastAccessedAt = ts
		}
		out = append(out, domain.MemoryHit{
			Memory:    memory,
			Relevance: point.Score,
			Score:     point.Score,
		})
	}
	return out, nil
}

func (c *MemoryClient) DeleteFact(ctx context.Context, memoryID string) error {
	body, err := json.Marshal(map[string]any{
		"points": []string{memoryID},
	})
	if err != nil {
		return fmt.Errorf("marshal fact delete body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create fact delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fact delete request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError("fact delete", resp)
	}
	return nil
}

func (c *MemoryClient) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
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
		return fmt.Errorf("ensure collection request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		c.markEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		return statusError("ensure memory collection", resp)
	}
	c.markEnsured(vectorSize)
	return nil
}

func (c *MemoryClient) markEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func payloadFloat(payload map[string]any, key string) float64 {
	value, ok := payload[key]
	if !ok {
		return 0
	}
	if f, ok := value.(float64); ok {
		return f
	}
	return 0
}
