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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tetraclub/maestro/pkg/config"
	"github.com/tetraclub/maestro/pkg/httpclient"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the OpenAI chat completions protocol. It works
// against any compatible endpoint (OpenAI, Groq, vLLM, llama.cpp).
type OpenAIProvider struct {
	cfg        config.LLMConfig
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []Message             `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIProvider creates a provider from config.
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
		),
	}
}

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string {
	return p.cfg.Model
}

// Complete sends a chat completion request and returns the response
// text and total tokens used.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (string, int, error) {
	resp, err := p.send(ctx, openAIRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return "", 0, err
	}
	return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
}

// CompleteStructured requests JSON output conforming to schema and
// decodes it into out.
func (p *OpenAIProvider) CompleteStructured(ctx context.Context, messages []Message, schemaName string, schema map[string]any, out any) (int, error) {
	resp, err := p.send(ctx, openAIRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		ResponseFormat: &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIJSONSchema{
				Name:   schemaName,
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return 0, err
	}

	text := StripJSONFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return resp.Usage.TotalTokens, &ProviderError{
			Provider: "openai",
			Message:  fmt.Sprintf("structured response is not valid JSON: %v", err),
			Err:      err,
		}
	}
	return resp.Usage.TotalTokens, nil
}

func (p *OpenAIProvider) send(ctx context.Context, reqBody openAIRequest) (*openAIResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Message: "failed to read response", Err: err}
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{
			Provider:   "openai",
			StatusCode: httpResp.StatusCode,
			Message:    "invalid response body",
			Err:        err,
		}
	}

	if resp.Error != nil {
		return nil, &ProviderError{
			Provider:   "openai",
			StatusCode: httpResp.StatusCode,
			Message:    resp.Error.Message,
		}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider:   "openai",
			StatusCode: httpResp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Message: "no response choices returned"}
	}
	return &resp, nil
}

// StripJSONFences removes a surrounding markdown code fence, if any.
// Models behind endpoints without response_format support often wrap
// JSON in ```json fences.
func StripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
