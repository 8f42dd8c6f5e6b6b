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

	"github.com/tetraclub/maestro/pkg/llms"
)

// maxToolLoopSteps bounds the tool-use loop so a confused model cannot
// spin a request forever.
const maxToolLoopSteps = 4

// Worker executes one task and always returns exactly one result.
// Failures come back as success=false, never as a panic or a missing
// result.
type Worker interface {
	Execute(ctx context.Context, task WorkerTask, query, contextText string) TaskResult
}

// ConversationalWorker answers with the model alone.
type ConversationalWorker struct {
	llm llms.Provider
}

func NewConversationalWorker(llm llms.Provider) *ConversationalWorker {
	return &ConversationalWorker{llm: llm}
}

func (w *ConversationalWorker) Execute(ctx context.Context, task WorkerTask, query, contextText string) TaskResult {
	result := TaskResult{TaskID: task.ID, WorkerKind: WorkerConversational}
	system := "You are a helpful assistant for a student robotics club. Answer clearly and concisely."
	user := query
	if contextText != "" {
		user = fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, query)
		result.UsedContext = true
	}
	out, _, err := w.llm.Complete(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: system},
		{Role: llms.RoleUser, Content: user},
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Output = out
	return result
}

// toolStep is the model's structured decision at each loop iteration.
type toolStep struct {
	Action    string         `json:"action" jsonschema:"required,enum=call,enum=final"`
	Server    string         `json:"server,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Response  string         `json:"response,omitempty"`
}

// ToolWorker drives external tool servers through a short model-led
// loop. Only whitelisted (server, tool) pairs are callable.
type ToolWorker struct {
	llm       llms.Provider
	invoker   ToolInvoker
	approvals *ApprovalStore
	whitelist map[string]bool
	threadID  string
	schema    map[string]any
}

// NewToolWorker restricts the worker to the given "server/tool" pairs.
// An empty whitelist admits every registered tool.
func NewToolWorker(llm llms.Provider, invoker ToolInvoker, approvals *ApprovalStore, threadID string, whitelist []string) (*ToolWorker, error) {
	schema, err := reflectSchema[toolStep]()
	if err != nil {
		return nil, err
	}
	wl := make(map[string]bool, len(whitelist))
	for _, pair := range whitelist {
		wl[pair] = true
	}
	return &ToolWorker{
		llm:       llm,
		invoker:   invoker,
		approvals: approvals,
		whitelist: wl,
		threadID:  threadID,
		schema:    schema,
	}, nil
}

func (w *ToolWorker) allowed(server, tool string) bool {
	if len(w.whitelist) == 0 {
		return w.invoker.Has(server, tool)
	}
	return w.whitelist[server+"/"+tool] && w.invoker.Has(server, tool)
}

func (w *ToolWorker) Execute(ctx context.Context, task WorkerTask, query, contextText string) TaskResult {
	result := TaskResult{TaskID: task.ID, WorkerKind: WorkerTool, UsedContext: contextText != ""}

	if task.NeedsApproval && task.ToolSpec != nil {
		id := w.approvals.Defer(w.threadID, task)
		result.Success = true
		result.RequiresApproval = true
		result.Output = fmt.Sprintf(
			"This action needs your approval before it runs: %s on %s/%s (approval id %s).",
			task.Title, task.ToolSpec.Server, task.ToolSpec.Tool, id)
		return result
	}

	msgs := []llms.Message{
		{Role: llms.RoleSystem, Content: w.buildPrompt(task)},
		{Role: llms.RoleUser, Content: w.buildUserMessage(task, query, contextText)},
	}

	for step := 0; step < maxToolLoopSteps; step++ {
		var decision toolStep
		if _, err := w.llm.CompleteStructured(ctx, msgs, "tool_step", w.schema, &decision); err != nil {
			result.Error = fmt.Sprintf("tool loop step %d: %v", step+1, err)
			return result
		}
		if decision.Action == "final" {
			result.Success = true
			result.Output = decision.Response
			return result
		}
		if decision.Action != "call" {
			result.Error = fmt.Sprintf("tool loop produced unknown action %q", decision.Action)
			return result
		}
		if !w.allowed(decision.Server, decision.Tool) {
			result.Error = fmt.Sprintf("tool %s/%s is not available to this task", decision.Server, decision.Tool)
			return result
		}
		raw, err := w.invoker.Invoke(ctx, decision.Server, decision.Tool, decision.Arguments)
		observation := decodeToolText(raw)
		if err != nil {
			slog.Warn("Tool call failed inside loop", "server", decision.Server, "tool", decision.Tool, "error", err)
			observation = fmt.Sprintf("Tool call failed: %v", err)
		} else {
			result.ToolUsed = decision.Server + "/" + decision.Tool
		}
		msgs = append(msgs, llms.Message{
			Role:    llms.RoleAssistant,
			Content: fmt.Sprintf("Called %s/%s", decision.Server, decision.Tool),
		}, llms.Message{
			Role:    llms.RoleUser,
			Content: fmt.Sprintf("Tool result:\n%s\n\nContinue, or answer with action=final.", observation),
		})
	}

	result.Error = fmt.Sprintf("tool loop exceeded %d steps without a final answer", maxToolLoopSteps)
	return result
}

func (w *ToolWorker) buildPrompt(task WorkerTask) string {
	var b strings.Builder
	b.WriteString("You complete one task by calling tools when needed. At each step answer with ")
	b.WriteString(`{"action":"call","server":...,"tool":...,"arguments":{...}} to call a tool, or `)
	b.WriteString(`{"action":"final","response":...} when done.`)
	b.WriteString("\n\nAvailable tools:\n")
	for _, d := range w.invoker.Descriptors() {
		if len(w.whitelist) > 0 && !w.whitelist[d.Server+"/"+d.Name] {
			continue
		}
		fmt.Fprintf(&b, "- %s/%s: %s\n", d.Server, d.Name, d.Description)
	}
	if task.ToolSpec != nil {
		fmt.Fprintf(&b, "\nPreferred tool for this task: %s/%s\n", task.ToolSpec.Server, task.ToolSpec.Tool)
	}
	return b.String()
}

func (w *ToolWorker) buildUserMessage(task WorkerTask, query, contextText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nUser query: %s", task.Title, query)
	if contextText != "" {
		fmt.Fprintf(&b, "\n\nContext:\n%s", contextText)
	}
	if task.ToolSpec != nil && len(task.ToolSpec.Arguments) > 0 {
		if raw, err := json.Marshal(task.ToolSpec.Arguments); err == nil {
			fmt.Fprintf(&b, "\n\nSuggested arguments: %s", raw)
		}
	}
	return b.String()
}
