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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tetraclub/maestro/pkg/observability"
	"github.com/tetraclub/maestro/pkg/rag"
)

// IngestCmd walks a document tree into the vector index.
type IngestCmd struct {
	Source  string `short:"s" help:"Document tree to ingest (overrides config source_dir)." type:"path"`
	Verbose bool   `short:"v" help:"Print every ingested file."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg.LogLevel)
	if c.Source != "" {
		cfg.RAG.SourceDir = c.Source
	}
	if cfg.RAG.SourceDir == "" {
		return fmt.Errorf("no source directory: set rag.source_dir or pass --source")
	}

	metrics, err := observability.Init(cfg.Metrics)
	if err != nil {
		return err
	}

	svc, err := buildRetrieval(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = svc.Index().Close()
		_ = svc.Graph().Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []rag.IngestorOption{}
	if c.Verbose {
		opts = append(opts, rag.WithProgress(func(path string, err error) {
			if err != nil {
				fmt.Printf("  ✗ %s: %v\n", path, err)
				return
			}
			fmt.Printf("  ✓ %s\n", path)
		}))
	}

	start := time.Now()
	stats, err := rag.NewIngestor(cfg.RAG, svc, opts...).Run(ctx)
	if err != nil {
		return err
	}
	metrics.RecordIngestion(ctx, stats.Documents, stats.Chunks, time.Since(start))

	fmt.Printf("Ingested %d documents (%d chunks) from %s in %s\n",
		stats.Documents, stats.Chunks, cfg.RAG.SourceDir, time.Since(start).Round(time.Millisecond))
	if stats.Skipped > 0 {
		fmt.Printf("Skipped %d files\n", stats.Skipped)
	}
	if stats.Failed > 0 {
		fmt.Printf("Failed %d files\n", stats.Failed)
	}
	return nil
}
