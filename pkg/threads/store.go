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

// Package threads implements the conversation thread store.
package threads

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles as stored in threads.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Thread statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Message is one turn in a thread.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Thread is a conversation. Status is StatusActive until the thread is
// closed.
type Thread struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Messages  []Message `json:"messages"`
}

// Store is the thread store contract. The in-memory implementation
// below is the default; a durable implementation can replace it
// without changing callers.
type Store interface {
	Create() string
	Get(id string) (*Thread, error)
	Append(id, role, content string, metadata map[string]any) (string, error)
	Messages(id string) ([]Message, error)
	SetStatus(id, status string) error
	Delete(id string) bool
	List() []string
}

// ErrThreadNotFound reports an unknown thread id.
type ErrThreadNotFound struct {
	ID string
}

func (e *ErrThreadNotFound) Error() string {
	return fmt.Sprintf("thread not found: %s", e.ID)
}

// MemoryStore keeps threads in memory. Appends to the same thread are
// serialized per thread so message order matches arrival order.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memThread
}

type memThread struct {
	mu     sync.Mutex
	thread Thread
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*memThread)}
}

// Create makes a new empty thread and returns its id.
func (s *MemoryStore) Create() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.threads[id] = &memThread{thread: Thread{ID: id, CreatedAt: time.Now(), Status: StatusActive}}
	s.mu.Unlock()
	return id
}

// Get returns a snapshot of the thread.
func (s *MemoryStore) Get(id string) (*Thread, error) {
	mt, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	snapshot := mt.thread
	snapshot.Messages = append([]Message(nil), mt.thread.Messages...)
	return &snapshot, nil
}

// Append adds a message to the thread and returns its id.
func (s *MemoryStore) Append(id, role, content string, metadata map[string]any) (string, error) {
	mt, err := s.lookup(id)
	if err != nil {
		return "", err
	}

	msg := Message{
		ID:       uuid.NewString(),
		Role:     role,
		Content:  content,
		Metadata: metadata,
	}

	mt.mu.Lock()
	msg.Timestamp = time.Now()
	mt.thread.Messages = append(mt.thread.Messages, msg)
	mt.mu.Unlock()
	return msg.ID, nil
}

// Messages returns a copy of the thread's messages in append order.
func (s *MemoryStore) Messages(id string) ([]Message, error) {
	mt, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	return append([]Message(nil), mt.thread.Messages...), nil
}

// SetStatus updates the thread's status.
func (s *MemoryStore) SetStatus(id, status string) error {
	if status != StatusActive && status != StatusClosed {
		return fmt.Errorf("unknown thread status: %q", status)
	}
	mt, err := s.lookup(id)
	if err != nil {
		return err
	}

	mt.mu.Lock()
	mt.thread.Status = status
	mt.mu.Unlock()
	return nil
}

// Delete removes the thread. Returns false if it did not exist.
func (s *MemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return false
	}
	delete(s.threads, id)
	return true
}

// List returns all thread ids, sorted.
func (s *MemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.threads))
	for id := range s.threads {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *MemoryStore) lookup(id string) (*memThread, error) {
	s.mu.RLock()
	mt, ok := s.threads[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &ErrThreadNotFound{ID: id}
	}
	return mt, nil
}
