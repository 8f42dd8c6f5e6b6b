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

// Package orchestrator drives one chat request through the safety
// gate, planner, context providers, worker fan-out, aggregator, and
// confidence loop.
package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/tetraclub/maestro/pkg/tools"
)

// Context types a plan can request.
const (
	ContextNone  = "none"
	ContextWeb   = "web"
	ContextRag   = "rag"
	ContextClub  = "club"
	ContextMixed = "mixed"
)

// Worker kinds.
const (
	WorkerConversational = "conversational"
	WorkerTool           = "tool"
)

// ToolSpec pins a task to one (server, tool) pair.
type ToolSpec struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// WorkerTask is one unit of a plan. IDs are unique within a plan.
type WorkerTask struct {
	ID              int       `json:"id"`
	Title           string    `json:"title"`
	WorkerKind      string    `json:"worker_kind" jsonschema:"enum=conversational,enum=tool"`
	ToolSpec        *ToolSpec `json:"tool_spec,omitempty"`
	RequiresContext bool      `json:"requires_context"`
	ContextType     string    `json:"context_type,omitempty" jsonschema:"enum=web,enum=rag,enum=club"`
	NeedsApproval   bool      `json:"needs_approval,omitempty"`
}

// ExecutionPlan is the planner's output. Plans live for one
// orchestration run and are never persisted.
type ExecutionPlan struct {
	NeedsContext  bool         `json:"needs_context"`
	ContextType   string       `json:"context_type" jsonschema:"enum=web,enum=rag,enum=club,enum=mixed,enum=none"`
	Reasoning     string       `json:"reasoning"`
	SearchQueries []string     `json:"search_queries,omitempty"`
	RagQueries    []string     `json:"rag_queries,omitempty"`
	ClubQueries   []string     `json:"club_queries,omitempty"`
	Tasks         []WorkerTask `json:"tasks"`
}

// DefaultPlan is substituted when the model returns malformed output.
func DefaultPlan() *ExecutionPlan {
	return &ExecutionPlan{
		NeedsContext: false,
		ContextType:  ContextNone,
		Tasks: []WorkerTask{{
			ID:         1,
			Title:      "Answer the user",
			WorkerKind: WorkerConversational,
		}},
	}
}

// ContextItem is one piece of gathered context.
type ContextItem struct {
	Source    string         `json:"source"`
	Query     string         `json:"query,omitempty"`
	Content   string         `json:"content"`
	Relevance float64        `json:"relevance"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GatheredContext is a provider's output: items plus the combined,
// budget-truncated text handed to workers. ToolsUsed records the
// server/tool pairs the provider invoked while gathering.
type GatheredContext struct {
	Items     []ContextItem `json:"items"`
	Combined  string        `json:"combined"`
	ToolsUsed []string      `json:"tools_used,omitempty"`
}

// TaskResult is the single output of one worker.
type TaskResult struct {
	TaskID           int    `json:"task_id"`
	WorkerKind       string `json:"worker_kind"`
	Success          bool   `json:"success"`
	Output           string `json:"output"`
	UsedContext      bool   `json:"used_context"`
	ToolUsed         string `json:"tool_used,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`
	Error            string `json:"error,omitempty"`
}

// RunResult is the orchestrator's answer for one request.
type RunResult struct {
	Response   string       `json:"response"`
	RedFlag    bool         `json:"red_flag"`
	ToolsUsed  []string     `json:"tools_used"`
	Iterations int          `json:"iterations"`
	Confidence float64      `json:"confidence"`
	Results    []TaskResult `json:"results,omitempty"`
}

// ToolInvoker is the narrow registry capability the orchestrator
// needs. *tools.Registry satisfies it.
type ToolInvoker interface {
	Invoke(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error)
	Has(server, tool string) bool
	Descriptors() []tools.Descriptor
	Servers() []string
}

// PlannerError reports malformed planner output. The caller recovers
// with DefaultPlan.
type PlannerError struct {
	Err error
}

func (e *PlannerError) Error() string {
	return "planner: malformed_plan: " + e.Err.Error()
}

func (e *PlannerError) Unwrap() error {
	return e.Err
}
