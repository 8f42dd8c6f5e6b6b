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
	"fmt"

	"github.com/tetraclub/maestro/pkg/config"
)

// SearchResult is one index hit.
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Score      float32 `json:"score"`
	Distance   float32 `json:"distance"`
	DocumentID string  `json:"document_id"`
}

// Stats summarizes index contents.
type Stats struct {
	NChunks    int    `json:"n_chunks"`
	NDocuments int    `json:"n_documents"`
	Dim        int    `json:"dim"`
	Kind       string `json:"kind"`
}

// Index stores (vector, chunk) records grouped by document id.
type Index interface {
	// Add inserts len(embeddings) == len(chunks) records under
	// documentID and persists. Fails with IndexError{dim_mismatch} if
	// any embedding width differs from the index dimension.
	Add(embeddings [][]float32, chunks []Chunk, documentID string) error

	// Search returns the top-k records by ascending L2 distance,
	// similarity-descending. A non-nil filter restricts results to
	// chunks whose metadata matches every filter entry; the index
	// over-fetches before filtering.
	Search(query []float32, k int, filter map[string]any) ([]SearchResult, error)

	// Delete removes every chunk of the document and returns how many
	// were removed.
	Delete(documentID string) (int, error)

	ListDocuments() []string
	Stats() Stats
	Close() error
}

// NewIndex opens the configured vector index backend.
func NewIndex(cfg config.RAGConfig, dim int) (Index, error) {
	switch cfg.Backend {
	case "flat":
		return OpenFlatIndex(cfg.IndexDir, dim)
	case "chromem":
		return OpenChromemIndex(cfg.IndexDir, dim)
	default:
		return nil, fmt.Errorf("unknown vector index backend: %q", cfg.Backend)
	}
}
