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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(dim int, fill float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func addDoc(t *testing.T, idx Index, docID string, fills ...float32) {
	t.Helper()
	embeddings := make([][]float32, len(fills))
	chunks := make([]Chunk, len(fills))
	for i, f := range fills {
		embeddings[i] = vec(4, f)
		chunks[i] = Chunk{Text: docID, Metadata: map[string]any{"category": "general"}}
	}
	require.NoError(t, idx.Add(embeddings, chunks, docID))
}

func TestFlatIndexAddAndSearch(t *testing.T) {
	idx, err := OpenFlatIndex(t.TempDir(), 4)
	require.NoError(t, err)

	addDoc(t, idx, "a.txt", 0.1)
	addDoc(t, idx, "b.txt", 0.9)

	hits, err := idx.Search(vec(4, 0.1), 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.txt", hits[0].DocumentID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-6)
	assert.InDelta(t, 0.0, float64(hits[0].Distance), 1e-6)

	// score = 1/(1+distance), descending by similarity
	hits, err = idx.Search(vec(4, 0.1), 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestFlatIndexDimMismatch(t *testing.T) {
	idx, err := OpenFlatIndex(t.TempDir(), 4)
	require.NoError(t, err)

	err = idx.Add([][]float32{vec(3, 0.5)}, []Chunk{{Text: "x"}}, "doc")
	var ierr *IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, IndexKindDimMismatch, ierr.Kind)

	_, err = idx.Search(vec(5, 0.5), 1, nil)
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, IndexKindDimMismatch, ierr.Kind)
}

func TestFlatIndexDeleteRemovesDocument(t *testing.T) {
	idx, err := OpenFlatIndex(t.TempDir(), 4)
	require.NoError(t, err)

	addDoc(t, idx, "keep.txt", 0.1, 0.2)
	addDoc(t, idx, "drop.txt", 0.3, 0.4, 0.5)

	removed, err := idx.Delete("drop.txt")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	hits, err := idx.Search(vec(4, 0.4), 10, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "drop.txt", h.DocumentID)
	}
	assert.Equal(t, []string{"keep.txt"}, idx.ListDocuments())

	// Survivors are renumbered consecutively.
	stats := idx.Stats()
	assert.Equal(t, 2, stats.NChunks)
	for _, h := range hits {
		assert.Less(t, h.Chunk.ChunkID, stats.NChunks)
	}

	removed, err = idx.Delete("drop.txt")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestFlatIndexFilterOverFetches(t *testing.T) {
	idx, err := OpenFlatIndex(t.TempDir(), 4)
	require.NoError(t, err)

	// The nearest chunks belong to the wrong category.
	near := [][]float32{vec(4, 0.5), vec(4, 0.51)}
	nearChunks := []Chunk{
		{Text: "n1", Metadata: map[string]any{"category": "events"}},
		{Text: "n2", Metadata: map[string]any{"category": "events"}},
	}
	require.NoError(t, idx.Add(near, nearChunks, "events.csv"))

	far := [][]float32{vec(4, 0.8)}
	farChunks := []Chunk{{Text: "f1", Metadata: map[string]any{"category": "coordinators"}}}
	require.NoError(t, idx.Add(far, farChunks, "coordinators.csv"))

	hits, err := idx.Search(vec(4, 0.5), 1, map[string]any{"category": "coordinators"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "f1", hits[0].Chunk.Text)
}

func TestFlatIndexPersistence(t *testing.T) {
	dir := t.TempDir()

	idx, err := OpenFlatIndex(dir, 4)
	require.NoError(t, err)
	addDoc(t, idx, "doc.txt", 0.2, 0.7)

	reopened, err := OpenFlatIndex(dir, 4)
	require.NoError(t, err)
	assert.Equal(t, Stats{NChunks: 2, NDocuments: 1, Dim: 4, Kind: "flat"}, reopened.Stats())

	hits, err := reopened.Search(vec(4, 0.2), 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc.txt", hits[0].DocumentID)
}

func TestFlatIndexCorruptStoreFallsBackEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, vectorsFile), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFile), []byte("{"), 0o644))

	idx, err := OpenFlatIndex(dir, 4)
	require.NoError(t, err)
	assert.Zero(t, idx.Stats().NChunks)
}
