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

// Package llms defines the LLM provider abstraction and its
// implementations. Planner, safety gate, workers, and aggregator all
// speak to models through the Provider interface.
package llms

import (
	"context"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the contract every LLM backend implements.
type Provider interface {
	// Complete returns the model's text response and the total tokens
	// consumed by the call.
	Complete(ctx context.Context, messages []Message) (string, int, error)

	// CompleteStructured asks the model for JSON conforming to schema
	// and unmarshals the response into out. Providers that support
	// response_format use it; the raw text path strips markdown fences
	// before decoding.
	CompleteStructured(ctx context.Context, messages []Message, schemaName string, schema map[string]any, out any) (int, error)

	// Model returns the configured model name.
	Model() string
}

// ProviderError wraps a provider failure with enough context to decide
// whether a retry is worthwhile.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm provider %s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
