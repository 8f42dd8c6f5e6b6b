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

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tetraclub/maestro/pkg/config"
	"github.com/tetraclub/maestro/pkg/llms"
	"github.com/tetraclub/maestro/pkg/observability"
	"github.com/tetraclub/maestro/pkg/threads"
	"github.com/tetraclub/maestro/pkg/tools"
)

// Orchestrator runs one chat request end to end: safety gate, planner,
// context gathering, worker fan-out, aggregation, confidence loop.
// A request owns its plan, context, and results; only the thread store
// and the index are shared across requests.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	llm       llms.Provider
	invoker   ToolInvoker
	gate      *SafetyGate
	planner   *Planner
	agg       *Aggregator
	approvals *ApprovalStore

	providers map[string]ContextProvider
}

// Options wires the orchestrator's collaborators. Providers may be nil
// when their backing source is disabled; routing to a nil provider
// degrades to no context.
type Options struct {
	Config    config.OrchestratorConfig
	LLM       llms.Provider
	Invoker   ToolInvoker
	Gate      *SafetyGate
	Approvals *ApprovalStore
	Metrics   observability.Metrics
	Web       ContextProvider
	Rag       ContextProvider
	Club      ContextProvider
	Mixed     ContextProvider
}

func New(opts Options) (*Orchestrator, error) {
	if opts.LLM == nil {
		return nil, fmt.Errorf("orchestrator requires an LLM provider")
	}
	if opts.Invoker == nil {
		return nil, fmt.Errorf("orchestrator requires a tool invoker")
	}
	planner, err := NewPlanner(opts.LLM, opts.Invoker)
	if err != nil {
		return nil, err
	}
	agg, err := NewAggregator(opts.LLM)
	if err != nil {
		return nil, err
	}
	approvals := opts.Approvals
	if approvals == nil {
		approvals = NewApprovalStore(opts.Invoker)
	}
	invoker := opts.Invoker
	if opts.Metrics != nil {
		invoker = &meteredInvoker{inner: invoker, metrics: opts.Metrics}
	}
	return &Orchestrator{
		cfg:       opts.Config,
		llm:       opts.LLM,
		invoker:   &deadlineInvoker{inner: invoker, deadline: opts.Config.ToolDeadlineDuration()},
		gate:      opts.Gate,
		planner:   planner,
		agg:       agg,
		approvals: approvals,
		providers: map[string]ContextProvider{
			ContextWeb:   opts.Web,
			ContextRag:   opts.Rag,
			ContextClub:  opts.Club,
			ContextMixed: opts.Mixed,
		},
	}, nil
}

// Approvals exposes the pending-approval store for the facade.
func (o *Orchestrator) Approvals() *ApprovalStore {
	return o.approvals
}

// Run executes one request under the configured request timeout.
func (o *Orchestrator) Run(ctx context.Context, threadID, query string, history []threads.Message) (*RunResult, error) {
	if d := o.cfg.RequestTimeoutDuration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if o.gate != nil && o.gate.Check(ctx, query) {
		return &RunResult{
			Response:  CannedRefusal,
			RedFlag:   true,
			ToolsUsed: []string{},
		}, nil
	}

	var (
		reply      string
		confidence float64
		results    []TaskResult
		toolsUsed  []string
		iterations int
	)

	planQuery := query
	for iterations = 1; iterations <= o.cfg.MaxIterations; iterations++ {
		plan := o.planner.Plan(ctx, planQuery, history)

		gathered := o.gatherContext(ctx, plan)

		results = o.fanOut(ctx, threadID, plan, query, gathered)
		toolsUsed = collectTools(results, gathered.ToolsUsed)

		var err error
		reply, err = o.agg.Aggregate(ctx, query, results)
		if err != nil {
			return nil, err
		}

		var retry bool
		confidence, retry = o.agg.Confidence(ctx, query, reply)
		if confidence >= o.cfg.ConfidenceThreshold || !retry || iterations == o.cfg.MaxIterations {
			break
		}
		slog.Info("Low confidence, replanning",
			"confidence", confidence, "threshold", o.cfg.ConfidenceThreshold, "iteration", iterations)
		planQuery = fmt.Sprintf(
			"%s\n\n(The previous attempt scored %.2f; gather better context or pick different tools.)",
			query, confidence)
	}
	if iterations > o.cfg.MaxIterations {
		iterations = o.cfg.MaxIterations
	}

	return &RunResult{
		Response:   reply,
		ToolsUsed:  toolsUsed,
		Iterations: iterations,
		Confidence: confidence,
		Results:    results,
	}, nil
}

// gatherContext routes to the provider matching the plan. Provider
// failures and missing providers degrade to an empty context rather
// than failing the request.
func (o *Orchestrator) gatherContext(ctx context.Context, plan *ExecutionPlan) *GatheredContext {
	if !plan.NeedsContext || plan.ContextType == ContextNone {
		return &GatheredContext{}
	}
	provider := o.providers[plan.ContextType]
	if provider == nil {
		slog.Warn("No provider for requested context type", "context_type", plan.ContextType)
		return &GatheredContext{}
	}
	gc, err := provider.Gather(ctx, plan)
	if err != nil {
		slog.Warn("Context gathering failed", "context_type", plan.ContextType, "error", err)
		return &GatheredContext{}
	}
	return gc
}

// fanOut runs every task concurrently and collects exactly one result
// per task. Tasks still running when the request deadline fires are
// reported as failed so aggregation stays partial instead of hanging.
func (o *Orchestrator) fanOut(ctx context.Context, threadID string, plan *ExecutionPlan, query string, gathered *GatheredContext) []TaskResult {
	type indexed struct {
		i int
		r TaskResult
	}
	ch := make(chan indexed, len(plan.Tasks))

	conv := NewConversationalWorker(o.llm)
	toolw, err := NewToolWorker(o.llm, o.invoker, o.approvals, threadID, nil)
	if err != nil {
		// Schema reflection over a static type only fails on a bug.
		slog.Error("Tool worker construction failed", "error", err)
	}

	for i, task := range plan.Tasks {
		go func(i int, task WorkerTask) {
			contextText := ""
			if task.RequiresContext {
				contextText = gathered.Combined
			}
			var r TaskResult
			switch {
			case task.WorkerKind == WorkerTool && toolw != nil:
				r = toolw.Execute(ctx, task, query, contextText)
			default:
				r = conv.Execute(ctx, task, query, contextText)
			}
			ch <- indexed{i: i, r: r}
		}(i, task)
	}

	results := make([]TaskResult, len(plan.Tasks))
	done := make([]bool, len(plan.Tasks))
	for range plan.Tasks {
		select {
		case out := <-ch:
			results[out.i] = out.r
			done[out.i] = true
		case <-ctx.Done():
			for i, task := range plan.Tasks {
				if !done[i] {
					results[i] = TaskResult{
						TaskID:     task.ID,
						WorkerKind: task.WorkerKind,
						Error:      "request deadline exceeded",
					}
				}
			}
			return results
		}
	}
	return results
}

// collectTools returns the distinct tools used, sorted. Both worker
// calls and context-provider calls count.
func collectTools(results []TaskResult, providerTools []string) []string {
	seen := make(map[string]bool)
	for _, t := range providerTools {
		seen[t] = true
	}
	for _, r := range results {
		if r.ToolUsed != "" {
			seen[r.ToolUsed] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// deadlineInvoker bounds every tool call with the per-tool deadline.
type deadlineInvoker struct {
	inner    ToolInvoker
	deadline time.Duration
}

func (d *deadlineInvoker) Invoke(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error) {
	if d.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.deadline)
		defer cancel()
	}
	return d.inner.Invoke(ctx, server, tool, args)
}

func (d *deadlineInvoker) Has(server, tool string) bool { return d.inner.Has(server, tool) }

func (d *deadlineInvoker) Descriptors() []tools.Descriptor { return d.inner.Descriptors() }

func (d *deadlineInvoker) Servers() []string { return d.inner.Servers() }

// meteredInvoker records call duration and outcome per tool.
type meteredInvoker struct {
	inner   ToolInvoker
	metrics observability.Metrics
}

func (m *meteredInvoker) Invoke(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := m.inner.Invoke(ctx, server, tool, args)
	m.metrics.RecordToolCall(ctx, server, tool, time.Since(start), err)
	return raw, err
}

func (m *meteredInvoker) Has(server, tool string) bool { return m.inner.Has(server, tool) }

func (m *meteredInvoker) Descriptors() []tools.Descriptor { return m.inner.Descriptors() }

func (m *meteredInvoker) Servers() []string { return m.inner.Servers() }
