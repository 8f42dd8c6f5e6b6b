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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tetraclub/maestro/pkg/config"
)

// DocumentReport records the outcome for one source file.
type DocumentReport struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
	Chunks     int    `json:"chunks"`
	Error      string `json:"error,omitempty"`
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	BatchID    string           `json:"batch_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Documents  int              `json:"documents"`
	Chunks     int              `json:"chunks"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Reports    []DocumentReport `json:"reports"`
}

// Progress is called after each file is handled; err is nil on
// success.
type Progress func(path string, err error)

// Ingestor walks a source tree and upserts documents into the index
// and citation graph.
type Ingestor struct {
	cfg      config.RAGConfig
	svc      *Service
	chunker  *Chunker
	progress Progress
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithProgress sets a per-file progress callback.
func WithProgress(fn Progress) IngestorOption {
	return func(in *Ingestor) {
		in.progress = fn
	}
}

// NewIngestor creates an ingestor over the configured source tree.
func NewIngestor(cfg config.RAGConfig, svc *Service, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		cfg:     cfg,
		svc:     svc,
		chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run ingests the whole source tree. Ingestion is idempotent at the
// document level: a document id already present is deleted first, then
// re-added. Parse failures are skipped and counted, never fatal.
func (in *Ingestor) Run(ctx context.Context) (*IngestStats, error) {
	stats := &IngestStats{
		BatchID:   uuid.NewString(),
		StartedAt: time.Now(),
	}

	err := filepath.WalkDir(in.cfg.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if in.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if in.excluded(path) || !Supported(path) {
			stats.Skipped++
			return nil
		}
		info, err := d.Info()
		if err == nil && info.Size() > in.cfg.MaxFileSize {
			slog.Warn("Skipping oversized file", "path", path, "size", info.Size())
			stats.Skipped++
			return nil
		}

		report := in.ingestFile(ctx, path)
		stats.Reports = append(stats.Reports, report)
		if report.Error != "" {
			stats.Failed++
			if in.progress != nil {
				in.progress(path, fmt.Errorf("%s", report.Error))
			}
			return nil
		}

		stats.Documents++
		stats.Chunks += report.Chunks
		if in.progress != nil {
			in.progress(path, nil)
		}
		return nil
	})

	stats.FinishedAt = time.Now()
	if err != nil {
		return stats, fmt.Errorf("ingestion walk failed: %w", err)
	}

	if err := in.writeBatchMetadata(stats); err != nil {
		slog.Warn("Failed to write ingestion batch metadata", "error", err)
	}

	slog.Info("Ingestion complete",
		"batch", stats.BatchID,
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"skipped", stats.Skipped,
		"failed", stats.Failed)
	return stats, nil
}

// IngestFile upserts a single document.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (*DocumentReport, error) {
	report := in.ingestFile(ctx, path)
	if report.Error != "" {
		return &report, fmt.Errorf("%s", report.Error)
	}
	return &report, nil
}

func (in *Ingestor) ingestFile(ctx context.Context, path string) DocumentReport {
	docID := in.documentID(path)
	report := DocumentReport{DocumentID: docID, Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		report.Error = err.Error()
		return report
	}

	doc, err := Parse(data, path)
	if err != nil {
		report.Error = err.Error()
		return report
	}

	meta := in.documentMetadata(path, doc)
	chunks := in.chunker.Chunk(doc.Text, meta)
	if len(chunks) == 0 {
		report.Error = "document produced no chunks"
		return report
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := in.svc.Embedder().Embed(ctx, texts)
	if err != nil {
		report.Error = err.Error()
		return report
	}

	// delete-then-add keeps re-runs idempotent
	if _, err := in.svc.Index().Delete(docID); err != nil {
		report.Error = err.Error()
		return report
	}
	if err := in.svc.Index().Add(embeddings, chunks, docID); err != nil {
		report.Error = err.Error()
		return report
	}

	title, _ := meta["title"].(string)
	if err := in.svc.Graph().AddPaper(ctx, docID, title, meta); err != nil {
		slog.Warn("Failed to record document in citation graph",
			"document", docID, "error", err)
	}

	report.Chunks = len(chunks)
	return report
}

// documentID derives a stable id from the file's path relative to the
// source root.
func (in *Ingestor) documentID(path string) string {
	rel, err := filepath.Rel(in.cfg.SourceDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// knownCategories are the club taxonomy folders recognized during
// ingestion.
var knownCategories = map[string]bool{
	"events":        true,
	"announcements": true,
	"coordinators":  true,
	"general":       true,
}

// documentMetadata builds the chunk metadata for a source file. The
// immediate parent directory names a category when it matches the club
// taxonomy, and structured rows contribute category and event fields.
func (in *Ingestor) documentMetadata(path string, doc *Document) map[string]any {
	meta := map[string]any{
		"title":  filepath.Base(path),
		"source": path,
	}

	if parent := strings.ToLower(filepath.Base(filepath.Dir(path))); knownCategories[parent] {
		meta["category"] = parent
	}
	if len(doc.Structured) > 0 {
		first := doc.Structured[0]
		if c := first["category"]; c != "" {
			meta["category"] = strings.ToLower(c)
		}
		if e := first["event_name"]; e != "" {
			meta["event_name"] = e
		}
	}
	return meta
}

func (in *Ingestor) excluded(path string) bool {
	for _, pattern := range in.cfg.Exclude {
		if pattern != "" && strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// writeBatchMetadata persists the run summary as one JSON file per
// batch plus a latest alias.
func (in *Ingestor) writeBatchMetadata(stats *IngestStats) error {
	dir := filepath.Join(in.cfg.IndexDir, "batches")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("ingest_%s.json", stats.StartedAt.Format("20060102T150405"))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "latest.json"), data, 0o644)
}

// DeleteDocument removes a document from the index and the graph.
func (in *Ingestor) DeleteDocument(ctx context.Context, path string) (int, error) {
	docID := in.documentID(path)
	removed, err := in.svc.Index().Delete(docID)
	if err != nil {
		return removed, err
	}
	if err := in.svc.Graph().DeletePaper(ctx, docID); err != nil {
		slog.Warn("Failed to remove document from citation graph",
			"document", docID, "error", err)
	}
	return removed, nil
}
