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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

const chromemCollection = "chunks"

// ChromemIndex backs the Index contract with an embedded chromem-go
// database. Embeddings are computed externally and passed through; the
// collection's embedding function is never used.
type ChromemIndex struct {
	dir string
	dim int

	mu     sync.RWMutex
	db     *chromem.DB
	col    *chromem.Collection
	nextID int
	// chunks per document, kept alongside the db so ListDocuments and
	// delete-by-document stay cheap
	docChunks map[string][]string
}

type chromemSidecar struct {
	NextID    int                 `json:"next_id"`
	DocChunks map[string][]string `json:"doc_chunks"`
}

// OpenChromemIndex opens or creates a chromem-backed index in dir.
func OpenChromemIndex(dir string, dim int) (*ChromemIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	dbPath := filepath.Join(dir, "chromem.gob")
	scPath := filepath.Join(dir, "documents.json")

	// Load only when both files are present and readable. A db without
	// its sidecar (or the reverse) would report documents whose vectors
	// are gone, so a failure on either side starts both empty.
	db := chromem.NewDB()
	var sc chromemSidecar
	loaded := false
	if _, err := os.Stat(dbPath); err == nil {
		if err := loadSidecar(scPath, &sc); err != nil {
			slog.Error("Document sidecar is missing or corrupt, starting empty",
				"path", scPath, "error", err)
		} else if err := db.ImportFromFile(dbPath, ""); err != nil {
			slog.Error("Vector index store is corrupt, starting empty",
				"dir", dir, "error", err)
			db = chromem.NewDB()
		} else {
			loaded = true
		}
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vectors must be pre-computed")
	}
	col, err := db.GetOrCreateCollection(chromemCollection, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}

	idx := &ChromemIndex{
		dir:       dir,
		dim:       dim,
		db:        db,
		col:       col,
		docChunks: make(map[string][]string),
	}
	if loaded {
		idx.nextID = sc.NextID
		if sc.DocChunks != nil {
			idx.docChunks = sc.DocChunks
		}
	}
	return idx, nil
}

func (idx *ChromemIndex) sidecarPath() string {
	return filepath.Join(idx.dir, "documents.json")
}

func loadSidecar(path string, sc *chromemSidecar) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, sc)
}

// persist writes the db and the sidecar. Callers hold the write lock.
func (idx *ChromemIndex) persist() error {
	dbPath := filepath.Join(idx.dir, "chromem.gob")
	if err := idx.db.ExportToFile(dbPath, false, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}

	data, err := json.Marshal(chromemSidecar{NextID: idx.nextID, DocChunks: idx.docChunks})
	if err != nil {
		return err
	}
	tmp := idx.sidecarPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, idx.sidecarPath())
}

// Add inserts records under documentID and persists.
func (idx *ChromemIndex) Add(embeddings [][]float32, chunks []Chunk, documentID string) error {
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

	docs := make([]chromem.Document, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for i := range chunks {
		chunk := chunks[i]
		chunk.ChunkID = idx.nextID
		idx.nextID++
		if chunk.Metadata == nil {
			chunk.Metadata = map[string]any{}
		}
		chunk.Metadata["document_id"] = documentID

		meta := map[string]string{
			"chunk_id":    strconv.Itoa(chunk.ChunkID),
			"document_id": documentID,
			"start_char":  strconv.Itoa(chunk.StartChar),
			"end_char":    strconv.Itoa(chunk.EndChar),
		}
		for k, v := range chunk.Metadata {
			if k == "document_id" {
				continue
			}
			meta[k] = fmt.Sprint(v)
		}

		id := strconv.Itoa(chunk.ChunkID)
		docs = append(docs, chromem.Document{
			ID:        id,
			Content:   chunk.Text,
			Metadata:  meta,
			Embedding: embeddings[i],
		})
		ids = append(ids, id)
	}

	if err := idx.col.AddDocuments(context.Background(), docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	idx.docChunks[documentID] = append(idx.docChunks[documentID], ids...)
	return idx.persist()
}

// Search returns the top-k hits. Cosine similarity from chromem is
// converted to the squared-L2 distance of the unit vectors so scores
// line up with the flat backend.
func (idx *ChromemIndex) Search(query []float32, k int, filter map[string]any) ([]SearchResult, error) {
	if len(query) != idx.dim {
		return nil, &IndexError{
			Kind: IndexKindDimMismatch,
			Err:  fmt.Errorf("query has %d components, want %d", len(query), idx.dim),
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for k, v := range filter {
			where[k] = fmt.Sprint(v)
		}
	}

	limit := k
	if count := idx.col.Count(); limit > count {
		limit = count
	}
	if limit <= 0 {
		return nil, nil
	}

	hits, err := idx.col.QueryEmbedding(context.Background(), query, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		chunkID, _ := strconv.Atoi(h.Metadata["chunk_id"])
		startChar, _ := strconv.Atoi(h.Metadata["start_char"])
		endChar, _ := strconv.Atoi(h.Metadata["end_char"])

		meta := make(map[string]any, len(h.Metadata))
		for mk, mv := range h.Metadata {
			switch mk {
			case "chunk_id", "start_char", "end_char":
			default:
				meta[mk] = mv
			}
		}

		distance := 2 * (1 - h.Similarity)
		if distance < 0 {
			distance = 0
		}
		results = append(results, SearchResult{
			Chunk: Chunk{
				ChunkID:   chunkID,
				Text:      h.Content,
				StartChar: startChar,
				EndChar:   endChar,
				Metadata:  meta,
			},
			Score:      1 / (1 + distance),
			Distance:   distance,
			DocumentID: h.Metadata["document_id"],
		})
	}
	return results, nil
}

// Delete removes every chunk of the document and persists.
func (idx *ChromemIndex) Delete(documentID string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids, ok := idx.docChunks[documentID]
	if !ok {
		return 0, nil
	}

	if err := idx.col.Delete(context.Background(), nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("failed to delete document: %w", err)
	}
	delete(idx.docChunks, documentID)

	if err := idx.persist(); err != nil {
		return len(ids), err
	}
	return len(ids), nil
}

// ListDocuments returns the distinct document ids, sorted.
func (idx *ChromemIndex) ListDocuments() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, 0, len(idx.docChunks))
	for id := range idx.docChunks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats reports index contents.
func (idx *ChromemIndex) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return Stats{
		NChunks:    idx.col.Count(),
		NDocuments: len(idx.docChunks),
		Dim:        idx.dim,
		Kind:       "chromem",
	}
}

// Close persists the database.
func (idx *ChromemIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.persist()
}
