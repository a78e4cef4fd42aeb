// Command mcp serves the tool registry over the Model Context Protocol on
// stdin/stdout, so MCP clients can call the same tools the agent loop uses.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arxlab/litagent/internal/adapters/mcp"
	"github.com/arxlab/litagent/internal/bootstrap"
	"github.com/arxlab/litagent/internal/config"
	"github.com/arxlab/litagent/internal/observability/logging"
)

const serviceName = "mcp"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	// The MCP transport owns stdout, so logs go to stderr.
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	logger.Info("mcp server listening on stdio")
	if err := mcp.New(app.Registry).ServeStdio(); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
