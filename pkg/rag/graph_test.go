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

package rag

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraclub/maestro/pkg/config"
)

func openTestGraph(t *testing.T) *SQLiteGraph {
	t.Helper()
	g, err := OpenSQLiteGraph(filepath.Join(t.TempDir(), "citations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGraphNeighbors(t *testing.T) {
	g := openTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.AddPaper(ctx, "p1", "Attention Is All You Need", nil))
	require.NoError(t, g.AddPaper(ctx, "p2", "BERT", nil))
	require.NoError(t, g.AddPaper(ctx, "p3", "GPT", nil))
	require.NoError(t, g.AddCitation(ctx, "p2", "p1"))
	require.NoError(t, g.AddCitation(ctx, "p3", "p1"))
	require.NoError(t, g.AddCitation(ctx, "p3", "p2"))

	nb, err := g.Neighbors(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, nb.CitedBy, 2)
	assert.Empty(t, nb.Cites)

	nb, err = g.Neighbors(ctx, "p3")
	require.NoError(t, err)
	assert.Empty(t, nb.CitedBy)
	require.Len(t, nb.Cites, 2)

	titles := []string{nb.Cites[0].Title, nb.Cites[1].Title}
	assert.Contains(t, titles, "Attention Is All You Need")
}

func TestGraphToleratesOrphanEdges(t *testing.T) {
	g := openTestGraph(t)
	ctx := context.Background()

	// Edge endpoints that were never added as papers.
	require.NoError(t, g.AddCitation(ctx, "unknown1", "unknown2"))

	nb, err := g.Neighbors(ctx, "unknown2")
	require.NoError(t, err)
	require.Len(t, nb.CitedBy, 1)
	assert.Equal(t, "unknown1", nb.CitedBy[0].ID)
	assert.Empty(t, nb.CitedBy[0].Title)
}

func TestGraphDeleteDetachesEdges(t *testing.T) {
	g := openTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.AddPaper(ctx, "p1", "A", nil))
	require.NoError(t, g.AddPaper(ctx, "p2", "B", nil))
	require.NoError(t, g.AddCitation(ctx, "p2", "p1"))

	require.NoError(t, g.DeletePaper(ctx, "p1"))

	nb, err := g.Neighbors(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, nb.Cites)
	assert.Empty(t, nb.CitedBy)
}

func TestNoopGraph(t *testing.T) {
	g, err := NewCitationGraph(config.GraphConfig{})
	require.NoError(t, err)
	assert.False(t, g.Enabled())

	ctx := context.Background()
	assert.NoError(t, g.AddPaper(ctx, "p1", "x", nil))
	assert.NoError(t, g.AddCitation(ctx, "p1", "p2"))

	nb, err := g.Neighbors(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, nb.CitedBy)
	assert.Empty(t, nb.Cites)
}
