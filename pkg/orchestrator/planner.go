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
	"strings"
	"sync/atomic"

	"github.com/tetraclub/maestro/pkg/llms"
	"github.com/tetraclub/maestro/pkg/threads"
	"github.com/tetraclub/maestro/pkg/tools"
)

const plannerSystemPrompt = `You are a planning assistant for a chat backend. Given a user
query, conversation history, and the available tools, produce an execution plan.

Rules:
- Decide whether external context is needed and of which type:
  "web" for current events and general facts, "rag" for the user's own
  documents, "club" for club events, announcements, and coordinators,
  "mixed" when more than one applies, "none" otherwise.
- Provide search_queries, rag_queries, or club_queries matching the
  chosen context type. Keep them short and specific.
- Break the work into tasks. Use worker_kind "tool" only when a listed
  tool is clearly the right way to act, and name the exact server and
  tool in tool_spec. Everything else is "conversational".
- Mark needs_approval on tool tasks with side effects the user should
  confirm (sending, deleting, modifying).
- Task ids start at 1 and are unique.`

// Planner turns a user query into an ExecutionPlan via structured LLM
// output. Malformed output falls back to DefaultPlan so a bad plan
// never fails a request.
type Planner struct {
	llm      llms.Provider
	invoker  ToolInvoker
	schema   map[string]any
	failures atomic.Int64
}

// NewPlanner reflects the plan schema once at construction.
func NewPlanner(llm llms.Provider, invoker ToolInvoker) (*Planner, error) {
	schema, err := reflectSchema[ExecutionPlan]()
	if err != nil {
		return nil, fmt.Errorf("reflecting plan schema: %w", err)
	}
	return &Planner{llm: llm, invoker: invoker, schema: schema}, nil
}

// Plan produces an execution plan for query. On malformed model
// output it logs, counts the failure, and returns DefaultPlan.
func (p *Planner) Plan(ctx context.Context, query string, history []threads.Message) *ExecutionPlan {
	if strings.TrimSpace(query) == "" {
		return DefaultPlan()
	}
	msgs := []llms.Message{
		{Role: llms.RoleSystem, Content: p.buildPrompt()},
	}
	for _, m := range historyTail(history, 6) {
		msgs = append(msgs, llms.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llms.Message{Role: llms.RoleUser, Content: query})

	var plan ExecutionPlan
	if _, err := p.llm.CompleteStructured(ctx, msgs, "execution_plan", p.schema, &plan); err != nil {
		p.failures.Add(1)
		slog.Warn("Planner output malformed, using default plan", "error", (&PlannerError{Err: err}).Error())
		return DefaultPlan()
	}
	if err := validatePlan(&plan); err != nil {
		p.failures.Add(1)
		slog.Warn("Planner output invalid, using default plan", "error", (&PlannerError{Err: err}).Error())
		return DefaultPlan()
	}
	return &plan
}

// Failures reports how many plans were replaced by the default.
func (p *Planner) Failures() int64 {
	return p.failures.Load()
}

func (p *Planner) buildPrompt() string {
	var b strings.Builder
	b.WriteString(plannerSystemPrompt)
	b.WriteString("\n\nAvailable tools:\n")
	descs := p.invoker.Descriptors()
	if len(descs) == 0 {
		b.WriteString("(none)\n")
		return b.String()
	}
	for _, d := range descs {
		fmt.Fprintf(&b, "- %s/%s: %s\n", d.Server, d.Name, d.Description)
		if len(d.InputSchema) > 0 {
			if raw, err := json.Marshal(d.InputSchema); err == nil {
				fmt.Fprintf(&b, "  arguments: %s\n", raw)
			}
		}
	}
	return b.String()
}

// validatePlan rejects plans the executor cannot run: no tasks,
// duplicate ids, unknown kinds or context types, tool tasks without a
// tool_spec.
func validatePlan(plan *ExecutionPlan) error {
	if len(plan.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	if plan.ContextType == "" {
		plan.ContextType = ContextNone
	}
	switch plan.ContextType {
	case ContextNone, ContextWeb, ContextRag, ContextClub, ContextMixed:
	default:
		return fmt.Errorf("unknown context type %q", plan.ContextType)
	}
	seen := make(map[int]bool, len(plan.Tasks))
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %d", t.ID)
		}
		seen[t.ID] = true
		switch t.WorkerKind {
		case WorkerConversational:
		case WorkerTool:
			if t.ToolSpec == nil || t.ToolSpec.Server == "" || t.ToolSpec.Tool == "" {
				return fmt.Errorf("tool task %d has no tool_spec", t.ID)
			}
		default:
			return fmt.Errorf("task %d has unknown worker kind %q", t.ID, t.WorkerKind)
		}
		if t.ContextType != "" {
			switch t.ContextType {
			case ContextWeb, ContextRag, ContextClub, ContextMixed:
			default:
				return fmt.Errorf("task %d has unknown context type %q", t.ID, t.ContextType)
			}
		}
	}
	return nil
}

// historyTail returns the newest n messages in order.
func historyTail(history []threads.Message, n int) []threads.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

var _ ToolInvoker = (*tools.Registry)(nil)
