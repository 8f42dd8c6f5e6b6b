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

	"github.com/tetraclub/maestro/pkg/chat"
	"github.com/tetraclub/maestro/pkg/config"
	"github.com/tetraclub/maestro/pkg/llms"
	"github.com/tetraclub/maestro/pkg/observability"
	"github.com/tetraclub/maestro/pkg/orchestrator"
	"github.com/tetraclub/maestro/pkg/rag"
	"github.com/tetraclub/maestro/pkg/threads"
	"github.com/tetraclub/maestro/pkg/tools"
	"github.com/tetraclub/maestro/pkg/transport"
)

// Conventional tool server names the context providers bind to.
const (
	webServerName = "web"
	ragServerName = "rag"
)

// engine is the assembled system behind every long-lived command.
type engine struct {
	cfg      *config.Config
	chat     *chat.Service
	registry *tools.Registry
	rag      *rag.Service
	metrics  observability.Metrics
}

// buildEngine wires config into a running system: tool subprocesses,
// registry, retrieval service, orchestrator, and chat facade.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	initLogging(cfg.LogLevel)

	metrics, err := observability.Init(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	provider, err := llms.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	provider = llms.Instrument(provider, metrics)

	gate, err := orchestrator.NewSafetyGate(cfg.Safety, provider)
	if err != nil {
		return nil, err
	}

	var servers []tools.ToolServer
	for _, sc := range cfg.Servers {
		if !sc.Enabled {
			continue
		}
		client, err := transport.Spawn(sc)
		if err != nil {
			slog.Warn("Tool server failed to start, continuing without it",
				"server", sc.Name, "error", err)
			continue
		}
		servers = append(servers, client)
	}
	registry := tools.NewRegistry(ctx, servers)

	ragService, err := buildRetrieval(cfg)
	if err != nil {
		registry.Close()
		return nil, err
	}

	budget := cfg.Orchestrator.ContextBudget
	var web, ragp orchestrator.ContextProvider
	if registry.Has(webServerName, "search") {
		web = orchestrator.NewWebProvider(registry, webServerName, budget)
	}
	if registry.Has(ragServerName, "retrieve") {
		ragp = orchestrator.NewRagProvider(registry, ragServerName, budget)
	}
	club := orchestrator.NewClubProvider(provider, ragService, budget)

	orch, err := orchestrator.New(orchestrator.Options{
		Config:  cfg.Orchestrator,
		LLM:     provider,
		Invoker: registry,
		Gate:    gate,
		Metrics: metrics,
		Web:     web,
		Rag:     ragp,
		Club:    club,
		Mixed:   orchestrator.NewMixedProvider(web, ragp, club, budget),
	})
	if err != nil {
		registry.Close()
		return nil, err
	}

	chatSvc := chat.NewService(*cfg, threads.NewMemoryStore(), orch).WithMetrics(metrics)

	return &engine{
		cfg:      cfg,
		chat:     chatSvc,
		registry: registry,
		rag:      ragService,
		metrics:  metrics,
	}, nil
}

// buildRetrieval assembles embedder, index, and citation graph.
func buildRetrieval(cfg *config.Config) (*rag.Service, error) {
	embedder, err := rag.NewEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	index, err := rag.NewIndex(cfg.RAG, embedder.Dimension())
	if err != nil {
		return nil, err
	}
	graph, err := rag.NewCitationGraph(cfg.Graph)
	if err != nil {
		index.Close()
		return nil, err
	}
	return rag.NewService(embedder, index, graph), nil
}

// Close tears down subprocesses and flushes stores.
func (e *engine) Close() {
	e.registry.Close()
	if err := e.rag.Index().Close(); err != nil {
		slog.Warn("Index close failed", "error", err)
	}
	if err := e.rag.Graph().Close(); err != nil {
		slog.Warn("Citation graph close failed", "error", err)
	}
}
