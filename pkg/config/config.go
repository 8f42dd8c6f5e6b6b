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

// Package config defines the maestro configuration model.
//
// Configuration is loaded from a YAML file with ${ENV} expansion, then
// decoded into the structs below. Every struct carries SetDefaults and
// Validate so a zero config file still yields a runnable system.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Embedder     EmbedderConfig     `yaml:"embedder"`
	Servers      []ServerConfig     `yaml:"servers"`
	RAG          RAGConfig          `yaml:"rag"`
	Graph        GraphConfig        `yaml:"graph"`
	Safety       SafetyConfig       `yaml:"safety"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	LogLevel     string             `yaml:"log_level"`
}

// LLMConfig configures the LLM provider.
type LLMConfig struct {
	// Type selects the provider implementation.
	// Currently "openai" covers every OpenAI-compatible endpoint
	// (OpenAI, Groq, vLLM, llama.cpp server).
	Type string `yaml:"type"`

	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Timeout bounds a single completion call, in seconds.
	Timeout int `yaml:"timeout"`
}

// EmbedderConfig configures text embedding.
type EmbedderConfig struct {
	// Type is "hash" (deterministic, no network; suitable for tests and
	// air-gapped deployments) or "openai" (any OpenAI-compatible
	// embeddings endpoint).
	Type      string `yaml:"type"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

// ServerConfig describes one stdio tool server.
type ServerConfig struct {
	// Name is the canonical server id ("gmail", "drive", "calendar",
	// "rag", "web", "github"). Duplicate names are rejected at load.
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	Enabled bool     `yaml:"enabled"`

	// MaxInFlight caps concurrent calls to this server.
	MaxInFlight int `yaml:"max_in_flight"`
}

// RAGConfig configures chunking, the vector index, and ingestion.
type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	IndexDir     string `yaml:"index_dir"`

	// Backend selects the vector index implementation: "flat" (default,
	// exact L2 with two-file persistence) or "chromem" (embedded
	// chromem-go database).
	Backend string `yaml:"backend"`

	// SourceDir is the document tree walked by ingestion.
	SourceDir string `yaml:"source_dir"`

	// Watch re-ingests documents when the source tree changes.
	Watch bool `yaml:"watch"`

	// Exclude lists path substrings skipped during ingestion.
	Exclude []string `yaml:"exclude"`

	MaxFileSize int64 `yaml:"max_file_size"`
}

// GraphConfig configures the optional citation graph.
type GraphConfig struct {
	// Path is the SQLite database file. Empty disables the graph;
	// all writes become no-ops and neighbor queries return empty sets.
	Path string `yaml:"path"`
}

// SafetyConfig configures the red-flag gate.
type SafetyConfig struct {
	// Patterns are case-insensitive regular expressions matched against
	// the raw user query. Any match short-circuits the request.
	Patterns []string `yaml:"patterns"`

	// SoftKeywords gate the optional LLM confirmation stage.
	SoftKeywords []string `yaml:"soft_keywords"`

	// UseLLM enables the confirmation stage for ambiguous queries.
	UseLLM bool `yaml:"use_llm"`
}

// OrchestratorConfig tunes the request state machine.
type OrchestratorConfig struct {
	// ConfidenceThreshold is the minimum acceptable confidence score;
	// below it the orchestrator re-plans (up to MaxIterations).
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaxIterations       int     `yaml:"max_iterations"`

	// RequestTimeout bounds a whole orchestration run, in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// ToolDeadline bounds a single tool-server call, in seconds.
	ToolDeadline int `yaml:"tool_deadline"`

	// ContextBudget caps the combined context passed to workers,
	// in characters.
	ContextBudget int `yaml:"context_budget"`

	// HistoryTokenBudget caps the conversation history handed to the
	// planner, counted with the model's tokenizer.
	HistoryTokenBudget int `yaml:"history_token_budget"`
}

// MetricsConfig enables the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DefaultSafetyPatterns mirror the destructive-operation filters the
// original backend shipped with. They are deliberately narrow: the LLM
// stage handles the ambiguous cases.
var DefaultSafetyPatterns = []string{
	`\bdelete\s+(all|everything|files?|repos?|emails?)\b`,
	`\bremove\s+(all|everything)\b`,
	`\bdestroy\b`,
	`\bwipe\s+out\b`,
}

// DefaultSoftKeywords gate the LLM safety stage.
var DefaultSoftKeywords = []string{
	"hack", "exploit", "bypass security", "cheat", "plagiarize", "steal", "illegal",
}

// SetDefaults applies defaults recursively.
func (c *Config) SetDefaults() {
	if c.LLM.Type == "" {
		c.LLM.Type = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama-3.3-70b-versatile"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60
	}

	if c.Embedder.Type == "" {
		c.Embedder.Type = "hash"
	}
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = 384
	}

	for i := range c.Servers {
		if c.Servers[i].MaxInFlight <= 0 {
			c.Servers[i].MaxInFlight = 4
		}
	}

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 500
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 50
	}
	if c.RAG.IndexDir == "" {
		c.RAG.IndexDir = "./data/indices"
	}
	if c.RAG.Backend == "" {
		c.RAG.Backend = "flat"
	}
	if c.RAG.MaxFileSize == 0 {
		c.RAG.MaxFileSize = 10 << 20
	}

	if len(c.Safety.Patterns) == 0 {
		c.Safety.Patterns = DefaultSafetyPatterns
	}
	if len(c.Safety.SoftKeywords) == 0 {
		c.Safety.SoftKeywords = DefaultSoftKeywords
	}

	if c.Orchestrator.ConfidenceThreshold == 0 {
		c.Orchestrator.ConfidenceThreshold = 0.6
	}
	if c.Orchestrator.MaxIterations == 0 {
		c.Orchestrator.MaxIterations = 2
	}
	if c.Orchestrator.RequestTimeout == 0 {
		c.Orchestrator.RequestTimeout = 120
	}
	if c.Orchestrator.ToolDeadline == 0 {
		c.Orchestrator.ToolDeadline = 30
	}
	if c.Orchestrator.ContextBudget == 0 {
		c.Orchestrator.ContextBudget = 3000
	}
	if c.Orchestrator.HistoryTokenBudget == 0 {
		c.Orchestrator.HistoryTokenBudget = 8000
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.LLM.Type {
	case "openai", "scripted":
	default:
		return fmt.Errorf("unsupported llm type: %q", c.LLM.Type)
	}

	switch c.Embedder.Type {
	case "hash", "openai":
	default:
		return fmt.Errorf("unsupported embedder type: %q", c.Embedder.Type)
	}
	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedder.Dimension)
	}

	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server name cannot be empty")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server name: %q", s.Name)
		}
		seen[s.Name] = true
		if s.Enabled && s.Command == "" {
			return fmt.Errorf("server %q is enabled but has no command", s.Name)
		}
	}

	switch c.RAG.Backend {
	case "flat", "chromem":
	default:
		return fmt.Errorf("unsupported vector index backend: %q", c.RAG.Backend)
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("chunk overlap (%d) must be less than chunk size (%d)",
			c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}

	if c.Orchestrator.ConfidenceThreshold < 0 || c.Orchestrator.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %f",
			c.Orchestrator.ConfidenceThreshold)
	}
	if c.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d",
			c.Orchestrator.MaxIterations)
	}
	return nil
}

// RequestTimeoutDuration returns the request timeout as a duration.
func (c *OrchestratorConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// ToolDeadlineDuration returns the per-call tool deadline as a duration.
func (c *OrchestratorConfig) ToolDeadlineDuration() time.Duration {
	return time.Duration(c.ToolDeadline) * time.Second
}
