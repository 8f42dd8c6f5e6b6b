// Copyright 2025 The Maestro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tetraclub/maestro/pkg/observability"
	"github.com/tetraclub/maestro/pkg/rag"
)

// ServeCmd runs the engine as a long-lived process: tool servers
// spawned, metrics exported, and the source tree watched when
// configured. The chat surface is reached through the engine's
// embedding applications; serve keeps everything alive.
type ServeCmd struct {
	Watch bool `help:"Watch the document source tree and re-ingest on change."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down")
		cancel()
	}()

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	var metricsSrv *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsSrv = observability.NewMetricsServer(cfg.Metrics.Port)
		metricsSrv.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	if (c.Watch || cfg.RAG.Watch) && cfg.RAG.SourceDir != "" {
		ingestor := rag.NewIngestor(cfg.RAG, eng.rag)
		go func() {
			if err := rag.NewWatcher(ingestor).Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Source watcher stopped", "error", err)
			}
		}()
	}

	fmt.Printf("maestro ready: %d tool servers, llm %s\n",
		len(eng.registry.Servers()), cfg.LLM.Model)
	<-ctx.Done()
	return nil
}
