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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraclub/maestro/pkg/config"
)

func newTestService(t *testing.T, indexDir string) *Service {
	t.Helper()
	idx, err := OpenFlatIndex(indexDir, 64)
	require.NoError(t, err)
	return NewService(NewHashEmbedder(64), idx, NoopGraph{})
}

func writeSourceTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "coordinators"), 0o755))
	files := map[string]string{
		"about.txt":             "The Tetra robotics club meets every Thursday evening.",
		"events.md":             "# RoboSprint\nRoboSprint is the annual autonomous racing event.",
		"coordinators/team.csv": "name,role,category,event_name\nAda,coordinator,coordinators,RoboSprint\n",
		"ignore.bin":            "\x00\x01\x02",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
}

func TestIngestRun(t *testing.T) {
	source := t.TempDir()
	writeSourceTree(t, source)

	cfg := config.RAGConfig{
		ChunkSize:    200,
		ChunkOverlap: 20,
		IndexDir:     t.TempDir(),
		SourceDir:    source,
		MaxFileSize:  1 << 20,
	}
	svc := newTestService(t, cfg.IndexDir)

	var seen []string
	ing := NewIngestor(cfg, svc, WithProgress(func(path string, err error) {
		require.NoError(t, err)
		seen = append(seen, path)
	}))

	stats, err := ing.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 1, stats.Skipped, "unsupported extension is skipped")
	assert.Zero(t, stats.Failed)
	assert.Len(t, seen, 3)

	docs := svc.Index().ListDocuments()
	assert.ElementsMatch(t, []string{"about.txt", "events.md", "coordinators/team.csv"}, docs)

	// Batch metadata file plus latest alias.
	batchDir := filepath.Join(cfg.IndexDir, "batches")
	entries, err := os.ReadDir(batchDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "latest.json")
	assert.Len(t, names, 2)
}

func TestIngestIdempotent(t *testing.T) {
	source := t.TempDir()
	writeSourceTree(t, source)

	cfg := config.RAGConfig{
		ChunkSize:    200,
		ChunkOverlap: 20,
		IndexDir:     t.TempDir(),
		SourceDir:    source,
		MaxFileSize:  1 << 20,
	}
	svc := newTestService(t, cfg.IndexDir)
	ing := NewIngestor(cfg, svc)

	first, err := ing.Run(context.Background())
	require.NoError(t, err)

	second, err := ing.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, first.Documents, second.Documents)
	assert.Equal(t, first.Chunks, svc.Index().Stats().NChunks,
		"re-running ingestion must not grow the index")
	assert.Equal(t, svc.Index().Stats().NDocuments, first.Documents)
}

func TestIngestCategoryMetadata(t *testing.T) {
	source := t.TempDir()
	writeSourceTree(t, source)

	cfg := config.RAGConfig{
		ChunkSize:    200,
		ChunkOverlap: 20,
		IndexDir:     t.TempDir(),
		SourceDir:    source,
		MaxFileSize:  1 << 20,
	}
	svc := newTestService(t, cfg.IndexDir)
	_, err := NewIngestor(cfg, svc).Run(context.Background())
	require.NoError(t, err)

	result, err := svc.RetrieveFiltered(context.Background(),
		"Who coordinates RoboSprint?", 5, false,
		map[string]any{"category": "coordinators"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
	for _, hit := range result.Chunks {
		assert.Equal(t, "coordinators", hit.Chunk.Metadata["category"])
		assert.Equal(t, "RoboSprint", hit.Chunk.Metadata["event_name"])
	}
}

func TestIngestSkipsCorruptFiles(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "good.txt"), []byte("fine content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "bad.json"), []byte("{broken"), 0o644))

	cfg := config.RAGConfig{
		ChunkSize:    200,
		ChunkOverlap: 20,
		IndexDir:     t.TempDir(),
		SourceDir:    source,
		MaxFileSize:  1 << 20,
	}
	svc := newTestService(t, cfg.IndexDir)

	stats, err := NewIngestor(cfg, svc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Failed)
}

func TestIngestExcludePatterns(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(source, "drafts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "keep.txt"), []byte("keep me"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "drafts", "wip.txt"), []byte("draft"), 0o644))

	cfg := config.RAGConfig{
		ChunkSize:    200,
		ChunkOverlap: 20,
		IndexDir:     t.TempDir(),
		SourceDir:    source,
		Exclude:      []string{"drafts"},
		MaxFileSize:  1 << 20,
	}
	svc := newTestService(t, cfg.IndexDir)

	stats, err := NewIngestor(cfg, svc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, []string{"keep.txt"}, svc.Index().ListDocuments())
}
