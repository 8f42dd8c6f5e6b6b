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
	"sort"
	"strings"

	"github.com/tetraclub/maestro/pkg/llms"
	"github.com/tetraclub/maestro/pkg/rag"
)

// Relevance assigned by each provider. Queries that errored keep a
// floor value so the error note still surfaces, last.
const (
	relevanceWeb   = 0.9
	relevanceRag   = 0.85
	relevanceError = 0.1
)

const maxSearchQueries = 2

// Club knowledge categories the classifier may pick.
var clubCategories = []string{"events", "announcements", "coordinators", "general"}

// ContextProvider gathers external context for a plan.
type ContextProvider interface {
	Gather(ctx context.Context, plan *ExecutionPlan) (*GatheredContext, error)
}

// providerRank orders sources for tie-breaking in the mixed merge.
var providerRank = map[string]int{ContextWeb: 0, ContextRag: 1, ContextClub: 2}

// WebProvider answers search_queries through the web tool server.
type WebProvider struct {
	invoker ToolInvoker
	server  string
	tool    string
	budget  int
}

// NewWebProvider targets the named server's search tool.
func NewWebProvider(invoker ToolInvoker, server string, budget int) *WebProvider {
	return &WebProvider{invoker: invoker, server: server, tool: "search", budget: budget}
}

func (p *WebProvider) Gather(ctx context.Context, plan *ExecutionPlan) (*GatheredContext, error) {
	queries := plan.SearchQueries
	if len(queries) > maxSearchQueries {
		queries = queries[:maxSearchQueries]
	}
	items := make([]ContextItem, 0, len(queries))
	var used []string
	for i, q := range queries {
		raw, err := p.invoker.Invoke(ctx, p.server, p.tool, map[string]any{"query": q})
		if err != nil {
			slog.Warn("Web search failed", "query", q, "error", err)
			items = append(items, ContextItem{
				Source:    ContextWeb,
				Query:     q,
				Content:   fmt.Sprintf("Search failed: %v", err),
				Relevance: relevanceError,
				Metadata:  map[string]any{"query_index": i, "error": true},
			})
			continue
		}
		used = append(used, p.server+"/"+p.tool)
		items = append(items, ContextItem{
			Source:    ContextWeb,
			Query:     q,
			Content:   decodeToolText(raw),
			Relevance: relevanceWeb,
			Metadata:  map[string]any{"query_index": i},
		})
	}
	gc := assemble(items, p.budget)
	gc.ToolsUsed = used
	return gc, nil
}

// RagProvider retrieves over the user's document index through the rag
// tool server.
type RagProvider struct {
	invoker ToolInvoker
	server  string
	topK    int
	budget  int
}

// NewRagProvider targets the named server's retrieve tool.
func NewRagProvider(invoker ToolInvoker, server string, budget int) *RagProvider {
	return &RagProvider{invoker: invoker, server: server, topK: 5, budget: budget}
}

func (p *RagProvider) Gather(ctx context.Context, plan *ExecutionPlan) (*GatheredContext, error) {
	items := make([]ContextItem, 0, len(plan.RagQueries))
	var used []string
	for i, q := range plan.RagQueries {
		raw, err := p.invoker.Invoke(ctx, p.server, "retrieve", map[string]any{
			"query": q,
			"top_k": p.topK,
		})
		if err != nil {
			slog.Warn("Document retrieval failed", "query", q, "error", err)
			items = append(items, ContextItem{
				Source:    ContextRag,
				Query:     q,
				Content:   fmt.Sprintf("Retrieval failed: %v", err),
				Relevance: relevanceError,
				Metadata:  map[string]any{"query_index": i, "error": true},
			})
			continue
		}
		used = append(used, p.server+"/retrieve")
		items = append(items, ContextItem{
			Source:    ContextRag,
			Query:     q,
			Content:   decodeToolText(raw),
			Relevance: relevanceRag,
			Metadata:  map[string]any{"query_index": i},
		})
	}
	gc := assemble(items, p.budget)
	gc.ToolsUsed = used
	return gc, nil
}

// ClubProvider retrieves over the club knowledge index. Each query is
// first classified into a category so retrieval can filter on it.
type ClubProvider struct {
	llm     llms.Provider
	service *rag.Service
	topK    int
	budget  int
}

// NewClubProvider wires the classifier model and the retrieval service.
func NewClubProvider(llm llms.Provider, service *rag.Service, budget int) *ClubProvider {
	return &ClubProvider{llm: llm, service: service, topK: 5, budget: budget}
}

func (p *ClubProvider) Gather(ctx context.Context, plan *ExecutionPlan) (*GatheredContext, error) {
	items := make([]ContextItem, 0, len(plan.ClubQueries))
	for i, q := range plan.ClubQueries {
		category := p.classify(ctx, q)
		res, err := p.service.RetrieveFiltered(ctx, q, p.topK, false, map[string]any{"category": category})
		if err != nil {
			slog.Warn("Club retrieval failed", "query", q, "category", category, "error", err)
			continue
		}
		if len(res.Chunks) == 0 {
			continue
		}
		items = append(items, foldClubResults(q, i, category, res.Chunks))
	}
	return assemble(items, p.budget), nil
}

// classify asks the model for a single-word category and validates it
// against the allowed set, defaulting to general.
func (p *ClubProvider) classify(ctx context.Context, query string) string {
	resp, _, err := p.llm.Complete(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: fmt.Sprintf(
			"Classify the query into exactly one of: %s. Answer with the single word only.",
			strings.Join(clubCategories, ", "))},
		{Role: llms.RoleUser, Content: query},
	})
	if err != nil {
		slog.Warn("Category classification failed, using general", "error", err)
		return "general"
	}
	word := strings.ToLower(strings.TrimSpace(resp))
	for _, c := range clubCategories {
		if word == c {
			return c
		}
	}
	return "general"
}

// foldClubResults merges all rows for one query into a single item
// whose relevance is the mean of the per-row scores.
func foldClubResults(query string, queryIndex int, category string, chunks []rag.SearchResult) ContextItem {
	var b strings.Builder
	var sum float64
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Result %d (Relevance: %.3f):\n%s", i+1, c.Score, c.Chunk.Text)
		sum += float64(c.Score)
	}
	return ContextItem{
		Source:    ContextClub,
		Query:     query,
		Content:   b.String(),
		Relevance: sum / float64(len(chunks)),
		Metadata:  map[string]any{"query_index": queryIndex, "category": category},
	}
}

// MixedProvider runs web, rag, and club in order for the non-empty
// query lists and merges their items under one budget.
type MixedProvider struct {
	web    ContextProvider
	rag    ContextProvider
	club   ContextProvider
	budget int
}

func NewMixedProvider(web, rag, club ContextProvider, budget int) *MixedProvider {
	return &MixedProvider{web: web, rag: rag, club: club, budget: budget}
}

func (p *MixedProvider) Gather(ctx context.Context, plan *ExecutionPlan) (*GatheredContext, error) {
	var items []ContextItem
	var used []string
	run := func(provider ContextProvider, active bool) error {
		if provider == nil || !active {
			return nil
		}
		gc, err := provider.Gather(ctx, plan)
		if err != nil {
			return err
		}
		items = append(items, gc.Items...)
		used = append(used, gc.ToolsUsed...)
		return nil
	}
	if err := run(p.web, len(plan.SearchQueries) > 0); err != nil {
		return nil, err
	}
	if err := run(p.rag, len(plan.RagQueries) > 0); err != nil {
		return nil, err
	}
	if err := run(p.club, len(plan.ClubQueries) > 0); err != nil {
		return nil, err
	}
	gc := assemble(items, p.budget)
	gc.ToolsUsed = used
	return gc, nil
}

// assemble sorts items by relevance descending with ties broken by
// provider order then query position, and builds the combined text.
func assemble(items []ContextItem, budget int) *GatheredContext {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Relevance != items[j].Relevance {
			return items[i].Relevance > items[j].Relevance
		}
		ri, rj := providerRank[items[i].Source], providerRank[items[j].Source]
		if ri != rj {
			return ri < rj
		}
		return queryIndex(items[i]) < queryIndex(items[j])
	})
	return &GatheredContext{Items: items, Combined: combine(items, budget)}
}

func queryIndex(item ContextItem) int {
	if v, ok := item.Metadata["query_index"].(int); ok {
		return v
	}
	return 0
}

// combine concatenates items with per-item headers, truncated at the
// character budget.
func combine(items []ContextItem, budget int) string {
	var b strings.Builder
	for _, item := range items {
		block := fmt.Sprintf("[%s] %s\n%s", item.Source, item.Query, item.Content)
		if b.Len() > 0 {
			block = "\n\n" + block
		}
		if budget > 0 && b.Len()+len(block) > budget {
			remaining := budget - b.Len()
			if remaining > 0 {
				b.WriteString(block[:remaining])
			}
			break
		}
		b.WriteString(block)
	}
	return b.String()
}

// decodeToolText renders a raw tool payload for the prompt. JSON
// strings come back unquoted; anything else passes through as text.
func decodeToolText(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return text
		}
	}
	return s
}
