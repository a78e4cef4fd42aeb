package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arxlab/litagent/internal/config"
	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/ports"
	"github.com/arxlab/litagent/internal/core/usecase"
	"github.com/arxlab/litagent/internal/infrastructure/chunking"
	"github.com/arxlab/litagent/internal/infrastructure/llm/ollama"
	"github.com/arxlab/litagent/internal/infrastructure/queue/nats"
	"github.com/arxlab/litagent/internal/infrastructure/repository/postgres"
	"github.com/arxlab/litagent/internal/infrastructure/resilience"
	"github.com/arxlab/litagent/internal/infrastructure/vector/qdrant"
)

const routerPlannerTimeout = 20 * time.Second

// Options carries process-specific plumbing: the api injects its SSE
// broker and metric observers, the worker its own counters. Nil fields
// get no-op defaults.
type Options struct {
	Logger            *slog.Logger
	EventSink         ports.EventSink
	ToolObserver      usecase.ToolObserver
	RetrievalObserver usecase.RetrievalObserver
	MemoryObserver    usecase.MemoryObserver
	UsageObserver     ollama.UsageObserver
}

// App holds the wired dependency graph shared by the api and worker
// binaries. Close releases the queue connection and database pool.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue    *nats.Queue
	Registry *usecase.ToolRegistry

	AgentUC     ports.AgentService
	RetrievalUC ports.RetrievalService
	MemoryUC    ports.MemoryService
	IndexUC     ports.ChunkIndexer

	Memories ports.MemoryStore
	Reviews  ports.ReviewTabStore
	Runs     ports.RunStore

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	conversations := postgres.NewConversationRepository(db)
	memories := postgres.NewMemoryRepository(db)
	runs := postgres.NewRunRepository(db)
	reviews := postgres.NewReviewTabRepository(db)

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	llm := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		RequestTimeout:     time.Duration(cfg.OllamaTimeoutSec) * time.Second,
		RequestsPerSecond:  cfg.OllamaRatePerSec,
		RequestBurst:       cfg.OllamaRateBurst,
		ResilienceExecutor: executor,
		UsageObserver:      opts.UsageObserver,
	})

	chunkIndex := qdrant.NewChunkClient(cfg.QdrantURL, cfg.QdrantChunkCollection)
	memoryIndex := qdrant.NewMemoryClient(cfg.QdrantURL, cfg.QdrantMemoryCollection)

	retrievalUC := usecase.NewRetrievalUseCase(llm, chunkIndex, domain.RetrievalConfig{
		CandidateK: cfg.RetrievalCandidateK,
		FusionRRFK: cfg.RetrievalFusionRRFK,
		RerankTopN: cfg.RetrievalRerankTopN,
		FinalTopK:  cfg.RetrievalFinalTopK,
	}, opts.RetrievalObserver)

	memoryUC := usecase.NewMemoryUseCase(llm, llm, memories, memoryIndex, conversations, domain.MemoryPolicy{
		DedupThreshold: cfg.MemoryDedupThreshold,
		BaseImportance: cfg.MemoryBaseImportance,
		MergeBoost:     cfg.MemoryMergeBoost,
		DecayHalfLife:  time.Duration(cfg.MemoryDecayHalfLifeHrs) * time.Hour,
		PruneFloor:     cfg.MemoryPruneFloor,
		ReadTopK:       cfg.AgentMemoryTopK,
	}, opts.MemoryObserver)

	splitter := chunking.NewSectionSplitter(cfg.ChunkSizeRunes, cfg.ChunkOverlapRunes)
	indexUC := usecase.NewIndexUseCase(llm, chunkIndex, splitter)

	limits := domain.AgentLimits{
		MaxIterations: cfg.AgentMaxIterations,
		ToolTimeout:   time.Duration(cfg.AgentToolTimeoutSec) * time.Second,
		HistoryWindow: cfg.AgentHistoryMessages,
		MemoryTopK:    cfg.AgentMemoryTopK,
		RetrievalTopK: cfg.RetrievalFinalTopK,
	}

	registry := usecase.NewToolRegistry(limits.ToolTimeout, opts.ToolObserver)
	if err := usecase.RegisterBuiltinTools(registry, retrievalUC, memoryUC, reviews, limits); err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	router := usecase.NewRouter(conversations, llm, routerPlannerTimeout)

	events := opts.EventSink
	if events == nil {
		events = noopSink{}
	}

	agentUC := usecase.NewAgentLoopUseCase(
		router,
		registry,
		llm,
		conversations,
		memoryUC,
		runs,
		queue,
		events,
		limits,
	)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:    queue,
		Registry: registry,

		AgentUC:     agentUC,
		RetrievalUC: retrievalUC,
		MemoryUC:    memoryUC,
		IndexUC:     indexUC,

		Memories: memories,
		Reviews:  reviews,
		Runs:     runs,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

type noopSink struct{}

func (noopSink) Emit(context.Context, domain.RunEvent) {}
