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
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	vectorsFile  = "vectors.gob"
	metadataFile = "metadata.json"
)

// FlatIndex is an exact L2 index over dense vectors with two-file
// persistence: a gob vectors file and a JSON metadata file, co-located
// in one directory. Writes serialize behind a single-writer lock;
// readers see a point-in-time snapshot even during a delete rebuild.
type FlatIndex struct {
	dir string
	dim int

	mu      sync.RWMutex
	vectors [][]float32
	chunks  []Chunk
	docOf   []string
}

type flatMetadata struct {
	Dim    int      `json:"dim"`
	Chunks []Chunk  `json:"chunks"`
	DocOf  []string `json:"doc_of"`
}

// OpenFlatIndex loads the index from dir, creating an empty one if the
// files are absent. A corrupt store falls back to empty with a loud
// log line rather than failing startup.
func OpenFlatIndex(dir string, dim int) (*FlatIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	idx := &FlatIndex{dir: dir, dim: dim}
	if err := idx.load(); err != nil {
		slog.Error("Vector index store is corrupt, starting empty",
			"dir", dir, "error", err)
		idx.vectors = nil
		idx.chunks = nil
		idx.docOf = nil
	}
	return idx, nil
}

func (idx *FlatIndex) load() error {
	vecPath := filepath.Join(idx.dir, vectorsFile)
	metaPath := filepath.Join(idx.dir, metadataFile)

	vecF, err := os.Open(vecPath)
	if os.IsNotExist(err) {
		return nil // fresh index
	}
	if err != nil {
		return &IndexError{Kind: IndexKindCorruptStore, Err: err}
	}
	defer vecF.Close()

	var vectors [][]float32
	if err := gob.NewDecoder(vecF).Decode(&vectors); err != nil {
		return &IndexError{Kind: IndexKindCorruptStore, Err: err}
	}

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return &IndexError{Kind: IndexKindCorruptStore, Err: err}
	}
	var meta flatMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return &IndexError{Kind: IndexKindCorruptStore, Err: err}
	}

	if meta.Dim != idx.dim {
		return &IndexError{
			Kind: IndexKindCorruptStore,
			Err:  fmt.Errorf("stored dimension %d does not match configured %d", meta.Dim, idx.dim),
		}
	}
	if len(vectors) != len(meta.Chunks) || len(vectors) != len(meta.DocOf) {
		return &IndexError{
			Kind: IndexKindCorruptStore,
			Err: fmt.Errorf("record count mismatch: %d vectors, %d chunks, %d docs",
				len(vectors), len(meta.Chunks), len(meta.DocOf)),
		}
	}

	idx.vectors = vectors
	idx.chunks = meta.Chunks
	idx.docOf = meta.DocOf
	return nil
}

// persist writes both files via temp+rename. Callers hold the write
// lock.
func (idx *FlatIndex) persist() error {
	vecPath := filepath.Join(idx.dir, vectorsFile)
	tmpVec := vecPath + ".tmp"

	vecF, err := os.Create(tmpVec)
	if err != nil {
		return fmt.Errorf("failed to write vectors: %w", err)
	}
	if err := gob.NewEncoder(vecF).Encode(idx.vectors); err != nil {
		vecF.Close()
		os.Remove(tmpVec)
		return fmt.Errorf("failed to encode vectors: %w", err)
	}
	if err := vecF.Close(); err != nil {
		os.Remove(tmpVec)
		return err
	}

	meta := flatMetadata{Dim: idx.dim, Chunks: idx.chunks, DocOf: idx.docOf}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		os.Remove(tmpVec)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	metaPath := filepath.Join(idx.dir, metadataFile)
	tmpMeta := metaPath + ".tmp"
	if err := os.WriteFile(tmpMeta, metaBytes, 0o644); err != nil {
		os.Remove(tmpVec)
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := os.Rename(tmpVec, vecPath); err != nil {
		os.Remove(tmpVec)
		os.Remove(tmpMeta)
		return err
	}
	return os.Rename(tmpMeta, metaPath)
}

// Add appends records under documentID at consecutive chunk ids and
// persists.
func (idx *FlatIndex) Add(embeddings [][]float32, chunks []Chunk, documentID string) error {
	if len(embeddings) != len(chunks) {
		return &IndexError{
			Kind: IndexKindDimMismatch,
			Err:  fmt.Errorf("%d embeddings for %d chunks", len(embeddings), len(chunks)),
		}
	}
	for i, emb := range embeddings {
		if len(emb) != idx.dim {
			return &IndexError{
				Kind: IndexKindDimMismatch,
				Err:  fmt.Errorf("embedding %d has %d components, want %d", i, len(emb), idx.dim),
			}
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	base := len(idx.chunks)
	for i := range chunks {
		chunk := chunks[i]
		chunk.ChunkID = base + i
		if chunk.Metadata == nil {
			chunk.Metadata = map[string]any{}
		}
		chunk.Metadata["document_id"] = documentID

		idx.vectors = append(idx.vectors, embeddings[i])
		idx.chunks = append(idx.chunks, chunk)
		idx.docOf = append(idx.docOf, documentID)
	}

	return idx.persist()
}

// Search returns the top-k hits by ascending L2 distance. With a
// filter the index over-fetches 3k candidates before filtering.
func (idx *FlatIndex) Search(query []float32, k int, filter map[string]any) ([]SearchResult, error) {
	if len(query) != idx.dim {
		return nil, &IndexError{
			Kind: IndexKindDimMismatch,
			Err:  fmt.Errorf("query has %d components, want %d", len(query), idx.dim),
		}
	}
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	fetch := k
	if filter != nil {
		fetch = 3 * k
	}

	type scored struct {
		i    int
		dist float32
	}
	candidates := make([]scored, 0, len(idx.vectors))
	for i, vec := range idx.vectors {
		candidates = append(candidates, scored{i: i, dist: l2Distance(query, vec)})
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].dist != candidates[b].dist {
			return candidates[a].dist < candidates[b].dist
		}
		return candidates[a].i < candidates[b].i
	})
	if len(candidates) > fetch {
		candidates = candidates[:fetch]
	}

	results := make([]SearchResult, 0, k)
	for _, cand := range candidates {
		chunk := idx.chunks[cand.i]
		if !matchesFilter(chunk.Metadata, filter) {
			continue
		}
		results = append(results, SearchResult{
			Chunk:      chunk,
			Score:      1 / (1 + cand.dist),
			Distance:   cand.dist,
			DocumentID: idx.docOf[cand.i],
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Delete removes every chunk of the document, renumbers the survivors
// consecutively, and persists. Readers see the pre- or post-rebuild
// state, never a partial one.
func (idx *FlatIndex) Delete(documentID string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var (
		vectors [][]float32
		chunks  []Chunk
		docOf   []string
	)
	removed := 0
	for i := range idx.chunks {
		if idx.docOf[i] == documentID {
			removed++
			continue
		}
		chunk := idx.chunks[i]
		chunk.ChunkID = len(chunks)
		vectors = append(vectors, idx.vectors[i])
		chunks = append(chunks, chunk)
		docOf = append(docOf, idx.docOf[i])
	}

	if removed == 0 {
		return 0, nil
	}

	idx.vectors = vectors
	idx.chunks = chunks
	idx.docOf = docOf

	if err := idx.persist(); err != nil {
		return removed, err
	}
	return removed, nil
}

// ListDocuments returns the distinct document ids, sorted.
func (idx *FlatIndex) ListDocuments() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, id := range idx.docOf {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Stats reports index contents.
func (idx *FlatIndex) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	docs := make(map[string]bool)
	for _, id := range idx.docOf {
		docs[id] = true
	}
	return Stats{
		NChunks:    len(idx.chunks),
		NDocuments: len(docs),
		Dim:        idx.dim,
		Kind:       "flat",
	}
}

// FirstChunk returns the first chunk stored for a document, used to
// derive a human-readable label in list_resources.
func (idx *FlatIndex) FirstChunk(documentID string) (Chunk, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for i, id := range idx.docOf {
		if id == documentID {
			return idx.chunks[i], true
		}
	}
	return Chunk{}, false
}

// Close is a no-op; every write already persisted.
func (idx *FlatIndex) Close() error {
	return nil
}

func l2Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func matchesFilter(meta, filter map[string]any) bool {
	for k, want := range filter {
		if meta[k] != want {
			return false
		}
	}
	return true
}
