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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraclub/maestro/pkg/llms"
	"github.com/tetraclub/maestro/pkg/rag"
)

func TestWebProviderCapsQueriesAtTwo(t *testing.T) {
	inv := newFakeInvoker()
	inv.respond("web", "search", `"result"`)

	p := NewWebProvider(inv, "web", 3000)
	gc, err := p.Gather(context.Background(), &ExecutionPlan{
		SearchQueries: []string{"one", "two", "three"},
	})
	require.NoError(t, err)

	assert.Len(t, gc.Items, 2)
	assert.Len(t, inv.callLog(), 2)
}

func TestWebProviderErrorKeepsItemWithFloorRelevance(t *testing.T) {
	inv := newFakeInvoker()
	inv.respond("web", "search", `"good result"`)
	inv.errs["web/search"] = errors.New("upstream 500")
	// errs takes precedence in the fake, so every call fails.

	p := NewWebProvider(inv, "web", 3000)
	gc, err := p.Gather(context.Background(), &ExecutionPlan{SearchQueries: []string{"q"}})
	require.NoError(t, err)

	require.Len(t, gc.Items, 1)
	assert.InDelta(t, relevanceError, gc.Items[0].Relevance, 1e-9)
	assert.Contains(t, gc.Items[0].Content, "upstream 500")
	assert.Empty(t, gc.ToolsUsed)
}

func TestRagProviderErrorKeepsItemWithFloorRelevance(t *testing.T) {
	inv := newFakeInvoker()
	inv.errs["rag/retrieve"] = errors.New("index unavailable")

	p := NewRagProvider(inv, "rag", 3000)
	gc, err := p.Gather(context.Background(), &ExecutionPlan{RagQueries: []string{"q"}})
	require.NoError(t, err)

	require.Len(t, gc.Items, 1)
	assert.Equal(t, ContextRag, gc.Items[0].Source)
	assert.InDelta(t, relevanceError, gc.Items[0].Relevance, 1e-9)
	assert.Contains(t, gc.Items[0].Content, "index unavailable")
	assert.Empty(t, gc.ToolsUsed)
}

func TestClubProviderClassifierDefaultsToGeneral(t *testing.T) {
	idx, err := rag.OpenFlatIndex(t.TempDir(), 64)
	require.NoError(t, err)
	svc := rag.NewService(rag.NewHashEmbedder(64), idx, rag.NoopGraph{})

	llm := llms.NewScriptedProvider("I would say this is about events, mostly")
	p := NewClubProvider(llm, svc, 3000)

	assert.Equal(t, "general", p.classify(context.Background(), "anything"))
}

func TestClubProviderClassifierAcceptsKnownCategory(t *testing.T) {
	llm := llms.NewScriptedProvider(" Coordinators \n")
	p := NewClubProvider(llm, nil, 3000)
	assert.Equal(t, "coordinators", p.classify(context.Background(), "who runs this"))
}

func TestAssembleOrdersByRelevanceThenProviderThenQuery(t *testing.T) {
	items := []ContextItem{
		{Source: ContextClub, Relevance: 0.9, Content: "club", Metadata: map[string]any{"query_index": 0}},
		{Source: ContextWeb, Relevance: 0.9, Content: "web", Metadata: map[string]any{"query_index": 0}},
		{Source: ContextRag, Relevance: 0.95, Content: "rag", Metadata: map[string]any{"query_index": 0}},
		{Source: ContextWeb, Relevance: 0.9, Content: "web second query", Metadata: map[string]any{"query_index": 1}},
	}
	gc := assemble(items, 10000)

	got := make([]string, len(gc.Items))
	for i, item := range gc.Items {
		got[i] = item.Content
	}
	assert.Equal(t, []string{"rag", "web", "web second query", "club"}, got)
}

func TestCombineHonorsBudget(t *testing.T) {
	items := []ContextItem{
		{Source: ContextWeb, Query: "q1", Relevance: 0.9, Content: strings.Repeat("a", 200)},
		{Source: ContextWeb, Query: "q2", Relevance: 0.8, Content: strings.Repeat("b", 200)},
	}
	gc := assemble(items, 150)
	assert.LessOrEqual(t, len(gc.Combined), 150)
	assert.Contains(t, gc.Combined, "[web] q1")
}

func TestMixedProviderSkipsEmptyQueryLists(t *testing.T) {
	inv := newFakeInvoker()
	inv.respond("web", "search", `"web says hi"`)
	inv.respond("rag", "retrieve", `"docs say hi"`)

	p := NewMixedProvider(
		NewWebProvider(inv, "web", 3000),
		NewRagProvider(inv, "rag", 3000),
		nil,
		3000,
	)
	gc, err := p.Gather(context.Background(), &ExecutionPlan{
		SearchQueries: []string{"hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"web/search"}, inv.callLog())
	require.Len(t, gc.Items, 1)
	assert.Equal(t, ContextWeb, gc.Items[0].Source)
}

func TestFoldClubResultsMeansRelevance(t *testing.T) {
	item := foldClubResults("q", 0, "events", []rag.SearchResult{
		{Score: 0.8, Chunk: rag.Chunk{Text: "first"}},
		{Score: 0.4, Chunk: rag.Chunk{Text: "second"}},
	})
	assert.InDelta(t, 0.6, item.Relevance, 1e-6)
	assert.Contains(t, item.Content, "Result 1 (Relevance: 0.800):\nfirst")
	assert.Contains(t, item.Content, "Result 2 (Relevance: 0.400):\nsecond")
	assert.Equal(t, "events", item.Metadata["category"])
}
