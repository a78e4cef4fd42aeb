package ports

import (
	"context"
	"time"

	"github.com/arxlab/litagent/internal/core/domain"
)

// CompletionProvider is the black-box LLM: prompt in, text plus token
// counts out. JSON-constrained generation is a separate call because the
// planner depends on it.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string) (domain.Completion, error)
	CompleteJSON(ctx context.Context, prompt string) (domain.Completion, error)
}

// Embedder builds fixed-length vectors for facts, chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ConversationStore persists conversations, mode state and messages.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, userID, conversationID, projectID string) (*domain.Conversation, error)
	NextUserTurn(ctx context.Context, userID, conversationID string) (int, error)
	AppendMessage(ctx context.Context, message domain.Message) error
	ListRecentMessages(ctx context.Context, userID, conversationID string, limit int) ([]domain.Message, error)
	ListMessagesByTurnRange(ctx context.Context, userID, conversationID string, turnFrom, turnTo int) ([]domain.Message, error)
	GetMode(ctx context.Context, userID, conversationID string) (domain.AgentMode, error)
	SetMode(ctx context.Context, userID, conversationID string, mode domain.AgentMode) error
}

// MemoryStore persists canonical per-user facts.
type MemoryStore interface {
	Insert(ctx context.Context, memory *domain.Memory) error
	Update(ctx context.Context, memory *domain.Memory) error
	GetByID(ctx context.Context, userID, memoryID string) (*domain.Memory, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Memory, error)
	Delete(ctx context.Context, userID, memoryID string) error
}

// MemoryVectorIndex mirrors MemoryStore facts into a similarity index.
type MemoryVectorIndex interface {
	IndexFact(ctx context.Context, memory domain.Memory, vector []float32) error
	SearchFacts(ctx context.Context, userID string, queryVector []float32, limit int) ([]domain.MemoryHit, error)
	DeleteFact(ctx context.Context, memoryID string) error
}

// ChunkIndex is the hybrid retrieval surface over the chunk corpus.
type ChunkIndex interface {
	IndexChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	SearchSemantic(ctx context.Context, queryVector []float32, limit int, scope domain.SearchScope, filter domain.SearchFilter) ([]domain.RetrievedChunk, error)
	SearchLexical(ctx context.Context, queryText string, limit int, scope domain.SearchScope, filter domain.SearchFilter) ([]domain.RetrievedChunk, error)
}

// SectionSplitter bounds section text before embedding.
type SectionSplitter interface {
	Split(chunk domain.Chunk) []domain.Chunk
}

// RunStore checkpoints agent runs so long tasks survive restarts.
type RunStore interface {
	Create(ctx context.Context, run *domain.AgentRun) error
	UpdateProgress(ctx context.Context, runID string, lastCompletedStep int, partialResults string) error
	Finish(ctx context.Context, runID string, status domain.RunStatus, termination domain.TerminationReason) error
	GetByID(ctx context.Context, runID string) (*domain.AgentRun, error)
	RecoverStale(ctx context.Context, olderThan time.Duration) ([]domain.AgentRun, error)
	MarkFailed(ctx context.Context, runID string) error
}

// ReviewTabStore persists literature-review tabs.
type ReviewTabStore interface {
	Get(ctx context.Context, userID, projectID string, kind domain.TabKind) (*domain.ReviewTab, error)
	Upsert(ctx context.Context, tab *domain.ReviewTab) (*domain.ReviewTab, error)
	ListByProject(ctx context.Context, userID, projectID string) ([]domain.ReviewTab, error)
}

// EventSink receives discrete run events for the real-time transport.
// Wire framing is the transport's concern.
type EventSink interface {
	Emit(ctx context.Context, event domain.RunEvent)
}

// ChunkQueue hands parsed chunks to the worker for embedding and indexing.
type ChunkQueue interface {
	PublishChunksParsed(ctx context.Context, chunks []domain.Chunk) error
}

// ConversationQueue carries worker triggers between processes.
type ConversationQueue interface {
	PublishConversationConcluded(ctx context.Context, userID, conversationID string) error
	SubscribeConversationConcluded(ctx context.Context, handler func(ctx context.Context, userID, conversationID string) error) error
	SubscribeChunksParsed(ctx context.Context, handler func(ctx context.Context, chunks []domain.Chunk) error) error
	SubscribeConsolidate(ctx context.Context, handler func(ctx context.Context, userID string) error) error
}
