package httpadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/ports"
	"github.com/arxlab/litagent/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	agentSvc     ports.AgentService
	retrievalSvc ports.RetrievalService
	memories     ports.MemoryStore
	reviews      ports.ReviewTabStore
	runs         ports.RunStore
	chunkQueue   ports.ChunkQueue
	broker       *EventBroker
	httpMetrics  *metrics.HTTPServerMetrics
	logger       *slog.Logger
}

func NewRouter(
	agentSvc ports.AgentService,
	retrievalSvc ports.RetrievalService,
	memories ports.MemoryStore,
	reviews ports.ReviewTabStore,
	runs ports.RunStore,
	chunkQueue ports.ChunkQueue,
	broker *EventBroker,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) *Router {
	return &Router{
		agentSvc:     agentSvc,
		retrievalSvc: retrievalSvc,
		memories:     memories,
		reviews:      reviews,
		runs:         runs,
		chunkQueue:   chunkQueue,
		broker:       broker,
		httpMetrics:  httpMetrics,
		logger:       logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/agent/chat", rt.agentChat)
	mux.HandleFunc("/v1/agent/events", rt.agentEvents)
	mux.HandleFunc("/v1/retrieval/search", rt.retrievalSearch)
	mux.HandleFunc("/v1/memory", rt.listMemories)
	mux.HandleFunc("/v1/memory/", rt.deleteMemory)
	mux.HandleFunc("/v1/review/tabs", rt.listReviewTabs)
	mux.HandleFunc("/v1/runs/", rt.getRun)
	mux.HandleFunc("/v1/documents/chunks", rt.ingestChunks)
	if rt.httpMetrics != nil {
		mux.Handle("/metrics", rt.httpMetrics.Handler())
	}

	var handler http.Handler = mux
	if rt.httpMetrics != nil {
		handler = rt.httpMetrics.Middleware(serviceName, handler)
	}
	handler = withAccessLog(rt.logger, handler)
	return withRequestID(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) agentChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.agentSvc.Complete(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.httpMetrics != nil {
		rt.httpMetrics.RecordAgentRun(serviceName, string(result.Termination), result.Iterations)
		rt.httpMetrics.RecordMemoryHits(serviceName, result.MemoryHits)
		for _, call := range result.ToolCalls {
			rt.httpMetrics.RecordAgentToolCall(serviceName, call.Tool, call.Status)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// agentEvents streams tool and answer events for one conversation over
// SSE. Subscribing before posting the chat turn catches everything.
func (rt *Router) agentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))
	if conversationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation_id is required"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return
	}

	events, cancel := rt.broker.Subscribe(conversationID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (rt *Router) retrievalSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Query       string `json:"query"`
		UserID      string `json:"user_id"`
		ProjectID   string `json:"project_id"`
		SectionType string `json:"section_type"`
		Limit       int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	start := time.Now()
	result, err := rt.retrievalSvc.Search(
		r.Context(),
		req.Query,
		domain.SearchScope{UserID: req.UserID, ProjectID: req.ProjectID},
		domain.SearchFilter{SectionType: req.SectionType},
		req.Limit,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.httpMetrics != nil {
		rt.httpMetrics.RecordRetrieval(serviceName, len(result.Chunks), result.Degraded, time.Since(start))
	}

	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listMemories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	memories, err := rt.memories.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func (rt *Router) deleteMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	memoryID := strings.TrimPrefix(r.URL.Path, "/v1/memory/")
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if memoryID == "" || userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "memory id and user_id are required"})
		return
	}

	if err := rt.memories.Delete(r.Context(), userID, memoryID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (rt *Router) listReviewTabs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if userID == "" || projectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and project_id are required"})
		return
	}

	tabs, err := rt.reviews.ListByProject(r.Context(), userID, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": tabs})
}

// getRun exposes checkpointed run state, mainly for polling a turn that
// outlived its HTTP request.
func (rt *Router) getRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	runID := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run id is required"})
		return
	}

	run, err := rt.runs.GetByID(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ingestChunks accepts pre-parsed document chunks and queues them for
// asynchronous embedding and indexing in the worker.
func (rt *Router) ingestChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Chunks []domain.Chunk `json:"chunks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Chunks) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chunks are required"})
		return
	}
	for i, chunk := range req.Chunks {
		if strings.TrimSpace(chunk.DocumentID) == "" || strings.TrimSpace(chunk.Text) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("chunk %d: document_id and text are required", i),
			})
			return
		}
	}

	if err := rt.chunkQueue.PublishChunksParsed(r.Context(), req.Chunks); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "chunks": len(req.Chunks)})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
