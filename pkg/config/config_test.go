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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "openai", cfg.LLM.Type)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.Model)
	assert.Equal(t, "hash", cfg.Embedder.Type)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, "flat", cfg.RAG.Backend)
	assert.Equal(t, 0.6, cfg.Orchestrator.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Orchestrator.MaxIterations)
	assert.NotEmpty(t, cfg.Safety.Patterns)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	yamlData := `
llm:
  model: gpt-4o-mini
  temperature: 0.2
servers:
  - name: gmail
    command: python
    args: ["-m", "servers.gmail"]
    enabled: true
rag:
  chunk_size: 300
  chunk_overlap: 30
`
	cfg, err := Load([]byte(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "gmail", cfg.Servers[0].Name)
	assert.Equal(t, 4, cfg.Servers[0].MaxInFlight)
	assert.Equal(t, 300, cfg.RAG.ChunkSize)
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_MAESTRO_KEY", "sk-secret")

	cfg, err := Load([]byte(`
llm:
  api_key: ${TEST_MAESTRO_KEY}
  base_url: ${TEST_MAESTRO_URL:-https://api.groq.com/openai/v1}
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.LLM.BaseURL)
}

func TestValidateDuplicateServers(t *testing.T) {
	_, err := Load([]byte(`
servers:
  - name: gmail
    command: python
    enabled: true
  - name: gmail
    command: python3
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate server name")
}

func TestValidateEnabledServerNeedsCommand(t *testing.T) {
	_, err := Load([]byte(`
servers:
  - name: drive
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command")
}

func TestValidateBounds(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.ConfidenceThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RAG.ChunkOverlap = 500
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RAG.Backend = "faiss"
	assert.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 120*time.Second, cfg.Orchestrator.RequestTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.ToolDeadlineDuration())
}
