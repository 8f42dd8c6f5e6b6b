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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watcher re-ingests documents as the source tree changes. Create and
// write events upsert the file; remove and rename events delete its
// chunks. Events are debounced per path because editors fire bursts.
type Watcher struct {
	ingestor *Ingestor
	root     string
}

// NewWatcher creates a watcher over the ingestor's source tree.
func NewWatcher(ingestor *Ingestor) *Watcher {
	return &Watcher{ingestor: ingestor, root: ingestor.cfg.SourceDir}
}

// Run blocks until ctx is cancelled, applying changes as they arrive.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// fsnotify does not recurse; register every directory.
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && !w.ingestor.excluded(path) {
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("Watching document source", "dir", w.root)

	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				// New directories must be registered to see their files.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = fw.Add(event.Name)
				}
			}
			pending[event.Name] |= event.Op
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(watchDebounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", "error", err)

		case <-fire:
			batch := pending
			pending = make(map[string]fsnotify.Op)
			timer = nil
			w.apply(ctx, batch)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, batch map[string]fsnotify.Op) {
	for path, op := range batch {
		switch {
		case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
			if Supported(path) {
				if removed, err := w.ingestor.DeleteDocument(ctx, path); err != nil {
					slog.Warn("Failed to remove document", "path", path, "error", err)
				} else if removed > 0 {
					slog.Info("Removed document", "path", path, "chunks", removed)
				}
			}
		case op.Has(fsnotify.Create) || op.Has(fsnotify.Write):
			if Supported(path) && !w.ingestor.excluded(path) {
				if report, err := w.ingestor.IngestFile(ctx, path); err != nil {
					slog.Warn("Failed to re-ingest document", "path", path, "error", err)
				} else {
					slog.Info("Re-ingested document", "path", path, "chunks", report.Chunks)
				}
			}
		}
	}
}
