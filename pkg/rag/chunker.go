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
	"strings"
)

// Chunk is one indexed piece of a document.
type Chunk struct {
	ChunkID   int            `json:"chunk_id"`
	Text      string         `json:"text"`
	StartChar int            `json:"start_char"`
	EndChar   int            `json:"end_char"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DocumentID returns the owning document's id from chunk metadata.
func (c Chunk) DocumentID() string {
	if id, ok := c.Metadata["document_id"].(string); ok {
		return id
	}
	return ""
}

// Chunker splits sanitized text into overlapping character windows.
// Output is deterministic for a given (text, size, overlap).
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. size must exceed overlap; callers get
// that from config validation.
func NewChunker(size, overlap int) *Chunker {
	return &Chunker{size: size, overlap: overlap}
}

// sentence terminators considered at chunk boundaries
var terminators = []string{". ", "! ", "? ", ".\n", "!\n", "?\n", "\n\n"}

// Chunk splits text into chunks of up to size characters with overlap
// characters of trailing context. When not at end-of-text, the break
// prefers the last sentence terminator in the window provided it falls
// past the midpoint; otherwise it breaks at size.
func (c *Chunker) Chunk(text string, meta map[string]any) []Chunk {
	clean := Sanitize(text)
	if clean == "" {
		return nil
	}

	runes := []rune(clean)
	var chunks []Chunk
	start := 0

	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			window := string(runes[start:end])
			if cut := lastTerminator(window); cut > c.size/2 {
				end = start + cut
			}
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			m := make(map[string]any, len(meta))
			for k, v := range meta {
				m[k] = v
			}
			chunks = append(chunks, Chunk{
				Text:      piece,
				StartChar: start,
				EndChar:   end,
				Metadata:  m,
			})
		}

		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// lastTerminator returns the rune offset just past the last sentence
// terminator in window, or -1 if none occurs.
func lastTerminator(window string) int {
	best := -1
	for _, term := range terminators {
		if i := strings.LastIndex(window, term); i != -1 {
			end := i + len(term)
			if end > best {
				best = end
			}
		}
	}
	if best == -1 {
		return -1
	}
	// Byte offset to rune offset; terminators are ASCII so the prefix
	// length in runes is what we count.
	return len([]rune(window[:best]))
}

// Sanitize strips ASCII control characters other than newline and
// collapses runs of horizontal whitespace to a single space. Newlines
// survive so paragraph breaks remain visible to the boundary rule.
func Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	prevSpace := false
	for _, r := range text {
		switch {
		case r == '\n':
			b.WriteRune('\n')
			prevSpace = false
		case r == ' ' || r == '\t' || r == '\r':
			if !prevSpace {
				b.WriteRune(' ')
			}
			prevSpace = true
		case r < 0x20 || r == 0x7f:
			// drop
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}
