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
)

// RetrievalResult is the response of one retrieve call.
type RetrievalResult struct {
	Query     string                   `json:"query"`
	Chunks    []SearchResult           `json:"chunks"`
	Citations map[string]*Neighborhood `json:"citations,omitempty"`
}

// ResourceInfo labels one indexed document.
type ResourceInfo struct {
	DocumentID string `json:"document_id"`
	Label      string `json:"label"`
}

// Service wraps embedder, index, and graph behind a single retrieve
// call.
type Service struct {
	embedder Embedder
	index    Index
	graph    CitationGraph
}

// NewService wires a retrieval service.
func NewService(embedder Embedder, index Index, graph CitationGraph) *Service {
	if graph == nil {
		graph = NoopGraph{}
	}
	return &Service{embedder: embedder, index: index, graph: graph}
}

// Index exposes the underlying vector index for ingestion.
func (s *Service) Index() Index {
	return s.index
}

// Graph exposes the citation graph for ingestion.
func (s *Service) Graph() CitationGraph {
	return s.graph
}

// Embedder exposes the embedder for ingestion.
func (s *Service) Embedder() Embedder {
	return s.embedder
}

// Retrieve embeds the query once, searches the index, and optionally
// attaches citation neighborhoods for the result documents.
func (s *Service) Retrieve(ctx context.Context, query string, k int, includeCitations bool) (*RetrievalResult, error) {
	return s.RetrieveFiltered(ctx, query, k, includeCitations, nil)
}

// RetrieveFiltered is Retrieve with a metadata filter on the search.
func (s *Service) RetrieveFiltered(ctx context.Context, query string, k int, includeCitations bool, filter map[string]any) (*RetrievalResult, error) {
	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(embeddings[0], k, filter)
	if err != nil {
		return nil, err
	}

	result := &RetrievalResult{Query: query, Chunks: hits}

	if includeCitations && s.graph.Enabled() {
		result.Citations = make(map[string]*Neighborhood)
		for _, hit := range hits {
			if _, done := result.Citations[hit.DocumentID]; done {
				continue
			}
			nb, err := s.graph.Neighbors(ctx, hit.DocumentID)
			if err != nil {
				// Retrieval still succeeds without the neighborhood.
				continue
			}
			result.Citations[hit.DocumentID] = nb
		}
	}
	return result, nil
}

// ListResources returns the indexed documents with a human-readable
// label derived from each document's first chunk.
func (s *Service) ListResources() []ResourceInfo {
	type firstChunker interface {
		FirstChunk(documentID string) (Chunk, bool)
	}

	ids := s.index.ListDocuments()
	out := make([]ResourceInfo, 0, len(ids))
	for _, id := range ids {
		label := filepath.Base(id)
		if fc, ok := s.index.(firstChunker); ok {
			if chunk, found := fc.FirstChunk(id); found {
				if title, ok := chunk.Metadata["title"].(string); ok && title != "" {
					label = title
				}
			}
		}
		out = append(out, ResourceInfo{DocumentID: id, Label: label})
	}
	return out
}
