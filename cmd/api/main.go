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

	httpadapter "github.com/arxlab/litagent/internal/adapters/http"
	"github.com/arxlab/litagent/internal/bootstrap"
	"github.com/arxlab/litagent/internal/config"
	"github.com/arxlab/litagent/internal/observability/logging"
	"github.com/arxlab/litagent/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := httpadapter.NewEventBroker()
	httpMetrics := metrics.NewHTTPServerMetrics("api")

	// Run outcomes, tool calls and retrieval stats are recorded by the
	// HTTP layer from the returned results, so the use cases get no
	// observers here.
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:    logger,
		EventSink: broker,
		UsageObserver: func(model string, promptTokens, completionTokens int) {
			httpMetrics.RecordTokenUsage("api", model, promptTokens, completionTokens)
		},
	})
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(
		app.AgentUC,
		app.RetrievalUC,
		app.Memories,
		app.Reviews,
		app.Runs,
		app.Queue,
		broker,
		httpMetrics,
		logger,
	)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // SSE streams stay open well past a single turn
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}
}
