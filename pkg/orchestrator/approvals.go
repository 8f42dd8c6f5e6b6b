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
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

// ErrApprovalNotFound is returned for unknown or already resolved ids.
var ErrApprovalNotFound = errors.New("approval not found")

// Approval is a deferred tool call awaiting a human decision.
type Approval struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	TaskID    int            `json:"task_id"`
	Title     string         `json:"title"`
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// ApprovalStore holds pending tool calls. Resolution with approve=true
// executes the deferred call through the invoker.
type ApprovalStore struct {
	mu      sync.Mutex
	pending map[string]*Approval
	invoker ToolInvoker
}

func NewApprovalStore(invoker ToolInvoker) *ApprovalStore {
	return &ApprovalStore{pending: make(map[string]*Approval), invoker: invoker}
}

// Defer records a tool call for later resolution and returns its id.
func (s *ApprovalStore) Defer(threadID string, task WorkerTask) string {
	a := &Approval{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		TaskID:    task.ID,
		Title:     task.Title,
		Server:    task.ToolSpec.Server,
		Tool:      task.ToolSpec.Tool,
		Arguments: task.ToolSpec.Arguments,
		Status:    ApprovalPending,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.pending[a.ID] = a
	s.mu.Unlock()
	return a.ID
}

// Pending lists unresolved approvals, oldest first.
func (s *ApprovalStore) Pending() []Approval {
	s.mu.Lock()
	out := make([]Approval, 0, len(s.pending))
	for _, a := range s.pending {
		out = append(out, *a)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Resolve approves or denies a pending call. Approval executes the
// call and returns its raw output; denial returns empty output.
func (s *ApprovalStore) Resolve(ctx context.Context, id string, approve bool) (string, error) {
	s.mu.Lock()
	a, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return "", ErrApprovalNotFound
	}
	if !approve {
		a.Status = ApprovalDenied
		return "", nil
	}
	a.Status = ApprovalApproved
	raw, err := s.invoker.Invoke(ctx, a.Server, a.Tool, a.Arguments)
	if err != nil {
		return "", err
	}
	return decodeToolText(raw), nil
}
