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
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tetraclub/maestro/pkg/config"
)

// PaperRef identifies a paper in a citation neighborhood.
type PaperRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Neighborhood is the citation context of one paper.
type Neighborhood struct {
	CitedBy []PaperRef `json:"cited_by"`
	Cites   []PaperRef `json:"cites"`
}

// CitationGraph stores papers and directed CITES edges. Orphan nodes
// are legal.
type CitationGraph interface {
	AddPaper(ctx context.Context, id, title string, meta map[string]any) error
	AddCitation(ctx context.Context, citing, cited string) error
	Neighbors(ctx context.Context, id string) (*Neighborhood, error)
	DeletePaper(ctx context.Context, id string) error
	Enabled() bool
	Close() error
}

// NewCitationGraph opens the configured backend. An empty path yields
// the no-op graph: writes do nothing and neighbor queries return empty
// sets.
func NewCitationGraph(cfg config.GraphConfig) (CitationGraph, error) {
	if cfg.Path == "" {
		slog.Info("Citation graph disabled")
		return NoopGraph{}, nil
	}
	return OpenSQLiteGraph(cfg.Path)
}

// NoopGraph is the disabled citation graph.
type NoopGraph struct{}

func (NoopGraph) AddPaper(ctx context.Context, id, title string, meta map[string]any) error {
	return nil
}
func (NoopGraph) AddCitation(ctx context.Context, citing, cited string) error { return nil }
func (NoopGraph) Neighbors(ctx context.Context, id string) (*Neighborhood, error) {
	return &Neighborhood{}, nil
}
func (NoopGraph) DeletePaper(ctx context.Context, id string) error { return nil }
func (NoopGraph) Enabled() bool                                    { return false }
func (NoopGraph) Close() error                                     { return nil }

// SQLiteGraph persists the citation graph in a local SQLite file.
type SQLiteGraph struct {
	db *sql.DB
}

// OpenSQLiteGraph opens (and if needed initializes) the database.
func OpenSQLiteGraph(path string) (*SQLiteGraph, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open citation graph: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS papers (
	id    TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	meta  TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS citations (
	citing TEXT NOT NULL,
	cited  TEXT NOT NULL,
	PRIMARY KEY (citing, cited)
);
CREATE INDEX IF NOT EXISTS idx_citations_cited ON citations(cited);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize citation graph schema: %w", err)
	}

	slog.Info("Citation graph enabled", "path", path)
	return &SQLiteGraph{db: db}, nil
}

// Enabled reports the graph accepts writes.
func (g *SQLiteGraph) Enabled() bool {
	return true
}

// AddPaper upserts a paper node.
func (g *SQLiteGraph) AddPaper(ctx context.Context, id, title string, meta map[string]any) error {
	metaJSON := "{}"
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode paper metadata: %w", err)
		}
		metaJSON = string(b)
	}

	_, err := g.db.ExecContext(ctx, `
INSERT INTO papers (id, title, meta) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = CASE WHEN excluded.title != '' THEN excluded.title ELSE papers.title END,
	meta  = excluded.meta`,
		id, title, metaJSON)
	return err
}

// AddCitation records a directed CITES edge. Endpoints need not exist
// as paper rows yet.
func (g *SQLiteGraph) AddCitation(ctx context.Context, citing, cited string) error {
	_, err := g.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO citations (citing, cited) VALUES (?, ?)`,
		citing, cited)
	return err
}

// Neighbors returns the papers citing id and the papers it cites.
func (g *SQLiteGraph) Neighbors(ctx context.Context, id string) (*Neighborhood, error) {
	citedBy, err := g.queryRefs(ctx, `
SELECT c.citing, COALESCE(p.title, '')
FROM citations c LEFT JOIN papers p ON p.id = c.citing
WHERE c.cited = ?`, id)
	if err != nil {
		return nil, err
	}

	cites, err := g.queryRefs(ctx, `
SELECT c.cited, COALESCE(p.title, '')
FROM citations c LEFT JOIN papers p ON p.id = c.cited
WHERE c.citing = ?`, id)
	if err != nil {
		return nil, err
	}

	return &Neighborhood{CitedBy: citedBy, Cites: cites}, nil
}

func (g *SQLiteGraph) queryRefs(ctx context.Context, query, id string) ([]PaperRef, error) {
	rows, err := g.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []PaperRef
	for rows.Next() {
		var ref PaperRef
		if err := rows.Scan(&ref.ID, &ref.Title); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeletePaper removes the node and detaches its edges.
func (g *SQLiteGraph) DeletePaper(ctx context.Context, id string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM citations WHERE citing = ? OR cited = ?`, id, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Close releases the database handle.
func (g *SQLiteGraph) Close() error {
	return g.db.Close()
}
