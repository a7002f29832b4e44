// Copyright 2026.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// vigild is the alerting and monitoring daemon: it samples metrics,
// evaluates threshold rules, manages alert lifecycle, and serves the MCP
// and metrics endpoints.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/calder-ops/vigil/internal/config"
	"github.com/calder-ops/vigil/internal/engine"
	"github.com/calder-ops/vigil/internal/mcpserver"
	"github.com/calder-ops/vigil/internal/metrics"
	"github.com/calder-ops/vigil/internal/store"
	"github.com/calder-ops/vigil/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zapFallback("failed to load config", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		zapFallback("failed to build logger", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	kv := openStore(cfg, logger)
	if kv != nil {
		defer func() { _ = kv.Close() }()
	}

	eng := engine.New(cfg, kv, logger)
	if err := eng.Start(ctx); err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}
	defer eng.Stop()

	mcpserver.Version = version
	mcpSrv := mcpserver.New(eng, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /mcp", mcpSrv.Handler())
	mux.Handle("POST /mcp", mcpSrv.Handler())
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting vigild",
		zap.String("addr", cfg.Listen),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Bool("persistent", kv != nil),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// openStore opens the SQLite side-store, degrading to in-memory when the
// data directory is unusable.
func openStore(cfg *config.Config, logger *zap.Logger) store.Store {
	if cfg.DataDir == "" {
		logger.Info("no data dir configured; state will not survive restarts")
		return store.NewMemory()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Warn("cannot create data dir; falling back to in-memory state", zap.Error(err))
		return store.NewMemory()
	}
	kv, err := store.NewSQLite(filepath.Join(cfg.DataDir, "vigil.db"))
	if err != nil {
		logger.Warn("cannot open side-store; falling back to in-memory state", zap.Error(err))
		return store.NewMemory()
	}
	return kv
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = parsed
	}
	return zcfg.Build()
}

func zapFallback(msg string, err error) {
	logger, _ := zap.NewProduction()
	logger.Fatal(msg, zap.Error(err))
}
