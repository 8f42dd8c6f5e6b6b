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

// Package chat is the facade callers talk to: threads, send, stream,
// and approval resolution, with orchestration behind it.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/tetraclub/maestro/pkg/config"
	"github.com/tetraclub/maestro/pkg/observability"
	"github.com/tetraclub/maestro/pkg/orchestrator"
	"github.com/tetraclub/maestro/pkg/threads"
)

// memoryCap bounds the conversation memory line fed to the planner.
const memoryCap = 150

// SendResult is the reply to one chat call.
type SendResult struct {
	Message       string         `json:"message"`
	MessageID     string         `json:"message_id"`
	ToolsUsed     []string       `json:"tools_used"`
	ExecutionTime float64        `json:"execution_time"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ThreadInfo summarizes a thread for listings.
type ThreadInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	Status       string    `json:"status"`
}

// Service wires the thread store and the orchestrator into the public
// chat surface.
type Service struct {
	store   threads.Store
	orch    *orchestrator.Orchestrator
	counter *TokenCounter
	budget  int
	metrics observability.Metrics

	memoryMu sync.Mutex
	memory   string
}

func NewService(cfg config.Config, store threads.Store, orch *orchestrator.Orchestrator) *Service {
	return &Service{
		store:   store,
		orch:    orch,
		counter: NewTokenCounter(cfg.LLM.Model),
		budget:  cfg.Orchestrator.HistoryTokenBudget,
		metrics: observability.NoopMetrics{},
	}
}

// WithMetrics swaps in a real metrics recorder.
func (s *Service) WithMetrics(m observability.Metrics) *Service {
	s.metrics = m
	return s
}

// CreateThread starts an empty conversation and returns its id.
func (s *Service) CreateThread() string {
	return s.store.Create()
}

// Send runs one query through the orchestrator and appends both sides
// of the exchange to the thread.
func (s *Service) Send(ctx context.Context, threadID, query string) (*SendResult, error) {
	history, err := s.store.Messages(threadID)
	if err != nil {
		return nil, err
	}
	window := s.window(history)

	start := time.Now()
	run, err := s.orch.Run(ctx, threadID, query, window)
	if err != nil {
		s.metrics.RecordRequest(ctx, time.Since(start), 0, false, err)
		return nil, err
	}
	s.metrics.RecordRequest(ctx, time.Since(start), run.Iterations, run.RedFlag, nil)

	if _, err := s.store.Append(threadID, threads.RoleUser, query, nil); err != nil {
		return nil, err
	}
	meta := map[string]any{
		"red_flag":   run.RedFlag,
		"confidence": run.Confidence,
		"iterations": run.Iterations,
		"tools_used": run.ToolsUsed,
	}
	msgID, err := s.store.Append(threadID, threads.RoleAssistant, run.Response, meta)
	if err != nil {
		return nil, err
	}

	s.rememberExchange(query)

	return &SendResult{
		Message:       run.Response,
		MessageID:     msgID,
		ToolsUsed:     run.ToolsUsed,
		ExecutionTime: time.Since(start).Seconds(),
		Metadata:      meta,
	}, nil
}

// Messages returns the thread's messages in order.
func (s *Service) Messages(threadID string) ([]threads.Message, error) {
	return s.store.Messages(threadID)
}

// DeleteThread removes a thread; false if it did not exist.
func (s *Service) DeleteThread(threadID string) bool {
	return s.store.Delete(threadID)
}

// ListThreads summarizes every thread.
func (s *Service) ListThreads() []ThreadInfo {
	ids := s.store.List()
	out := make([]ThreadInfo, 0, len(ids))
	for _, id := range ids {
		th, err := s.store.Get(id)
		if err != nil {
			continue
		}
		out = append(out, ThreadInfo{
			ID:           th.ID,
			CreatedAt:    th.CreatedAt,
			MessageCount: len(th.Messages),
			Status:       th.Status,
		})
	}
	return out
}

// PendingApprovals lists tool calls waiting on a human decision.
func (s *Service) PendingApprovals() []orchestrator.Approval {
	return s.orch.Approvals().Pending()
}

// ResolveApproval approves or denies a pending tool call. Approved
// calls execute and their output lands on the originating thread.
func (s *Service) ResolveApproval(ctx context.Context, id string, approve bool) (string, error) {
	pending := s.orch.Approvals().Pending()
	var threadID string
	for _, a := range pending {
		if a.ID == id {
			threadID = a.ThreadID
			break
		}
	}
	out, err := s.orch.Approvals().Resolve(ctx, id, approve)
	if err != nil {
		return "", err
	}
	if !approve {
		out = "The pending action was denied and has not been executed."
	}
	if threadID != "" {
		if _, err := s.store.Append(threadID, threads.RoleAssistant, out,
			map[string]any{"approval_id": id, "approved": approve}); err != nil {
			return out, err
		}
	}
	return out, nil
}

// window trims history to the token budget and front-loads the rolling
// conversation memory so the planner keeps long-range continuity.
func (s *Service) window(history []threads.Message) []threads.Message {
	window := s.counter.FitWithinBudget(history, s.budget)

	s.memoryMu.Lock()
	memory := s.memory
	s.memoryMu.Unlock()
	if memory == "" || len(window) == len(history) {
		return window
	}
	withMemory := make([]threads.Message, 0, len(window)+1)
	withMemory = append(withMemory, threads.Message{
		Role:    threads.RoleSystem,
		Content: "Earlier in this conversation: " + memory,
	})
	return append(withMemory, window...)
}

// rememberExchange folds the latest query into the rolling memory
// line, capped so the planner prompt stays small.
func (s *Service) rememberExchange(query string) {
	s.memoryMu.Lock()
	defer s.memoryMu.Unlock()
	entry := query
	if s.memory != "" {
		entry = s.memory + "; " + query
	}
	if len(entry) > memoryCap {
		entry = entry[len(entry)-memoryCap:]
	}
	s.memory = entry
}
