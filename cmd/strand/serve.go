package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/contextbuilder"
	"github.com/strandworks/strand/internal/mirror"
	"github.com/strandworks/strand/internal/observability"
	"github.com/strandworks/strand/internal/orchestrator"
	"github.com/strandworks/strand/internal/providers"
	"github.com/strandworks/strand/internal/server"
	"github.com/strandworks/strand/internal/storage"
	"github.com/strandworks/strand/internal/tools"
	"github.com/strandworks/strand/internal/tools/codeinterpreter"
	"github.com/strandworks/strand/internal/tools/computer"
	"github.com/strandworks/strand/internal/tools/vectorsearch"
	"github.com/strandworks/strand/internal/tools/websearch"
)

// buildServeCmd creates the "serve" command that starts the gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Strand gateway",
		Long: `Start the Strand gateway with all configured providers and tools.

The server will:
1. Load configuration from the specified file (or the environment)
2. Connect to the storage API and Redis stream mirror
3. Register platform tool handlers
4. Serve completions, monitoring and SSE subscriptions over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  strand serve

  # Start with custom config
  strand serve --config /etc/strand/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "strand.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// runServe loads configuration, wires the gateway, and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	log := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	log.Info(ctx, "starting strand gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	traceEndpoint := ""
	if cfg.Tracing.Enabled {
		traceEndpoint = cfg.Tracing.Endpoint
	}
	tracer, stopTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "strand",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       traceEndpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})

	store := storage.NewClient(cfg.Storage.BaseURL, cfg.Storage.APIKey, cfg.Storage.Timeout)
	arbiter := providers.NewArbiter(cfg.Providers, nil)
	builder := contextbuilder.New(store, cfg.Context)

	router := tools.NewRouter(store, log, metrics)
	router.Register(codeinterpreter.New(cfg.Sandbox, log))
	router.Register(computer.New(cfg.Sandbox, log))
	router.Register(websearch.New(cfg.Sandbox, log))
	router.Register(vectorsearch.New(cfg.Sandbox, log))

	rdb := connectRedis(ctx, cfg.Redis, log)
	// A typed-nil *redis.Client must not reach the Cmdable interface.
	var cmdable redis.Cmdable
	if rdb != nil {
		cmdable = rdb
	}
	mir := mirror.New(cmdable, cfg.Redis.StreamMaxLen, cfg.Redis.StreamTTL, log, metrics)
	monitor := orchestrator.NewMonitor(store, 0)

	orch := orchestrator.New(store, arbiter, builder, router, mir, monitor, log, metrics, tracer)
	srv := server.New(cfg.Server, store, orch, log, metrics)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info(ctx, "strand gateway started", "addr", cfg.Server.Addr)
	err = srv.ListenAndServe(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if terr := stopTracer(shutdownCtx); terr != nil {
		log.Warn(shutdownCtx, "tracer shutdown failed", "error", terr)
	}
	if rdb != nil {
		if cerr := rdb.Close(); cerr != nil {
			log.Warn(shutdownCtx, "redis close failed", "error", cerr)
		}
	}

	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info(context.Background(), "strand gateway stopped gracefully")
	return nil
}

// connectRedis opens the stream-mirror connection. An unreachable Redis
// degrades the gateway to in-process fan-out rather than failing start.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *observability.Logger) *redis.Client {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Warn(ctx, "invalid redis url, mirror disabled", "error", err)
		return nil
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn(ctx, "redis unreachable, mirror disabled", "error", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}
