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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tetraclub/maestro/pkg/config"
	"github.com/tetraclub/maestro/pkg/llms"
)

// CannedRefusal is returned verbatim on a safety trip, with no further
// planning.
const CannedRefusal = "I can't help with that request. I'm designed to assist with " +
	"finding information, managing your workspace, and answering questions about " +
	"the club, but I won't perform destructive or harmful operations. If you think " +
	"this was flagged in error, try rephrasing your request."

// SafetyGate is the two-stage red-flag filter over the raw user query.
// The pattern stage is synchronous and required; the LLM stage runs
// only for queries containing soft keywords.
type SafetyGate struct {
	patterns     []*regexp.Regexp
	softKeywords []string
	useLLM       bool
	llm          llms.Provider
}

// NewSafetyGate compiles the configured patterns. Invalid patterns are
// rejected at startup rather than silently skipped.
func NewSafetyGate(cfg config.SafetyConfig, llm llms.Provider) (*SafetyGate, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid safety pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &SafetyGate{
		patterns:     patterns,
		softKeywords: cfg.SoftKeywords,
		useLLM:       cfg.UseLLM,
		llm:          llm,
	}, nil
}

// Check runs both stages. A true result short-circuits the request
// with CannedRefusal.
func (g *SafetyGate) Check(ctx context.Context, query string) bool {
	for _, re := range g.patterns {
		if re.MatchString(query) {
			slog.Warn("Safety gate tripped by pattern", "pattern", re.String())
			return true
		}
	}

	if !g.useLLM || g.llm == nil || !g.hasSoftKeyword(query) {
		return false
	}

	resp, _, err := g.llm.Complete(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: "You are a safety classifier. Answer with exactly YES or NO."},
		{Role: llms.RoleUser, Content: fmt.Sprintf(
			"Does this request ask for help with something harmful, destructive, or unethical?\n\nRequest: %s", query)},
	})
	if err != nil {
		// Fail open: the pattern stage already cleared the query.
		slog.Warn("Safety LLM stage failed, allowing query", "error", err)
		return false
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(resp)), "YES") {
		slog.Warn("Safety gate tripped by LLM stage")
		return true
	}
	return false
}

func (g *SafetyGate) hasSoftKeyword(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range g.softKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
