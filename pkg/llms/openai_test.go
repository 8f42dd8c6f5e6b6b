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

package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraclub/maestro/pkg/config"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(config.LLMConfig{
		Type:    "openai",
		Model:   "test-model",
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 5,
	})
}

func TestOpenAIComplete(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: Message{Role: RoleAssistant, Content: "hello"}}},
			Usage:   openAIUsage{TotalTokens: 12},
		})
	})

	text, tokens, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 12, tokens)
}

func TestOpenAICompleteStructured(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_schema", req.ResponseFormat.Type)
		assert.Equal(t, "plan", req.ResponseFormat.JSONSchema.Name)

		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: Message{
				Role:    RoleAssistant,
				Content: "```json\n{\"answer\": 42}\n```",
			}}},
			Usage: openAIUsage{TotalTokens: 7},
		})
	})

	var out struct {
		Answer int `json:"answer"`
	}
	tokens, err := p.CompleteStructured(context.Background(),
		[]Message{{Role: RoleUser, Content: "plan this"}},
		"plan", map[string]any{"type": "object"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out.Answer)
	assert.Equal(t, 7, tokens)
}

func TestOpenAICompleteAPIError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key", "type": "auth"},
		})
	})

	_, _, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusUnauthorized, provErr.StatusCode)
	assert.Contains(t, provErr.Message, "invalid api key")
}

func TestStripJSONFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripJSONFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripJSONFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripJSONFences(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, StripJSONFences("  {\"a\":1}  "))
}

func TestScriptedProvider(t *testing.T) {
	p := NewScriptedProvider("first", "second")

	text, _, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "a"}})
	require.NoError(t, err)
	assert.Equal(t, "first", text)

	text, _, err = p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "b"}})
	require.NoError(t, err)
	assert.Equal(t, "second", text)

	// Last response repeats once the script is exhausted.
	text, _, err = p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "c"}})
	require.NoError(t, err)
	assert.Equal(t, "second", text)

	assert.Len(t, p.Calls(), 3)
}
