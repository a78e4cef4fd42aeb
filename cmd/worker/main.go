package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arxlab/litagent/internal/bootstrap"
	"github.com/arxlab/litagent/internal/config"
	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/observability/logging"
	"github.com/arxlab/litagent/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger: logger,
		MemoryObserver: func(event string, count int) {
			switch event {
			case "stored":
				workerMetrics.AddFactsExtracted(serviceName, count)
			case "merged":
				workerMetrics.AddFactsMerged(serviceName, count)
			case "pruned":
				workerMetrics.AddFactsPruned(serviceName, count)
			}
		},
		UsageObserver: func(model string, promptTokens, completionTokens int) {
			workerMetrics.RecordTokenUsage(serviceName, model, promptTokens, completionTokens)
		},
	})
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	recoverStaleRuns(ctx, app, logger, time.Duration(cfg.AgentRunStaleAfterSec)*time.Second)

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	// Each subscription blocks until ctx is cancelled, so they get their
	// own goroutines; a subscribe failure takes the whole process down.
	errs := make(chan error, 3)

	go func() {
		errs <- app.Queue.SubscribeConversationConcluded(ctx, func(handlerCtx context.Context, userID, conversationID string) error {
			return handleConversationConcluded(handlerCtx, app, workerMetrics, logger, userID, conversationID)
		})
	}()

	go func() {
		errs <- app.Queue.SubscribeChunksParsed(ctx, func(handlerCtx context.Context, chunks []domain.Chunk) error {
			return handleChunksParsed(handlerCtx, app, workerMetrics, logger, chunks)
		})
	}()

	go func() {
		errs <- app.Queue.SubscribeConsolidate(ctx, func(handlerCtx context.Context, userID string) error {
			return handleConsolidate(handlerCtx, app, workerMetrics, logger, userID)
		})
	}()

	logger.Info("worker subscribed", "metrics_port", cfg.WorkerMetricsPort)

	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil && ctx.Err() == nil {
			logger.Error("subscription failed", "error", err)
			stop()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

// recoverStaleRuns fails runs that were still marked running when a
// previous process died, so clients stop waiting on them.
func recoverStaleRuns(ctx context.Context, app *bootstrap.App, logger *slog.Logger, staleAfter time.Duration) {
	stale, err := app.Runs.RecoverStale(ctx, staleAfter)
	if err != nil {
		logger.Error("stale run scan failed", "error", err)
		return
	}
	for _, run := range stale {
		if err := app.Runs.MarkFailed(ctx, run.RunID); err != nil {
			logger.Error("stale run recovery failed", "run_id", run.RunID, "error", err)
			continue
		}
		logger.Warn("recovered stale run",
			"run_id", run.RunID,
			"user_id", run.UserID,
			"iterations", run.Iterations,
		)
	}
}

func handleConversationConcluded(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, logger *slog.Logger, userID, conversationID string) error {
	m.StartJob()
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	stored, err := app.MemoryUC.ExtractAndStore(jobCtx, userID, conversationID)
	m.FinishJob(serviceName, "memory_extract", time.Since(start), err)
	if err != nil {
		logger.Error("memory extraction failed",
			"user_id", userID,
			"conversation_id", conversationID,
			"error", err,
		)
		return err
	}

	logger.Info("memory extraction done",
		"user_id", userID,
		"conversation_id", conversationID,
		"facts_stored", stored,
	)

	// New facts shift the importance distribution, so queue a
	// consolidation pass for the user.
	if stored > 0 {
		if err := app.Queue.PublishConsolidate(ctx, userID); err != nil {
			logger.Error("consolidate enqueue failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

func handleChunksParsed(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, logger *slog.Logger, chunks []domain.Chunk) error {
	m.StartJob()
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	err := app.IndexUC.IndexChunks(jobCtx, chunks)
	m.FinishJob(serviceName, "chunk_index", time.Since(start), err)
	if err != nil {
		logger.Error("chunk indexing failed", "chunks", len(chunks), "error", err)
		return err
	}
	m.AddChunksIndexed(serviceName, len(chunks))
	logger.Info("chunks indexed", "chunks", len(chunks))
	return nil
}

func handleConsolidate(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, logger *slog.Logger, userID string) error {
	m.StartJob()
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	pruned, merged, err := app.MemoryUC.Consolidate(jobCtx, userID)
	m.FinishJob(serviceName, "memory_consolidate", time.Since(start), err)
	if err != nil {
		logger.Error("consolidation failed", "user_id", userID, "error", err)
		return err
	}
	logger.Info("consolidation done", "user_id", userID, "pruned", pruned, "merged", merged)
	return nil
}
