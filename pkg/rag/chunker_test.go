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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkShortText(t *testing.T) {
	c := NewChunker(500, 50)
	chunks := c.Chunk("A short document.", map[string]any{"document_id": "d1"})

	require.Len(t, chunks, 1)
	assert.Equal(t, "A short document.", chunks[0].Text)
	assert.Equal(t, "d1", chunks[0].Metadata["document_id"])
}

func TestChunkEmptyText(t *testing.T) {
	c := NewChunker(500, 50)
	assert.Nil(t, c.Chunk("", nil))
	assert.Nil(t, c.Chunk("   \t  ", nil))
}

func TestChunkRespectsSizeLimit(t *testing.T) {
	c := NewChunker(100, 10)
	text := strings.Repeat("x", 950)
	chunks := c.Chunk(text, nil)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Text), 100)
	}
}

func TestChunkPrefersSentenceBoundaryPastMidpoint(t *testing.T) {
	c := NewChunker(100, 10)
	// A period at position ~80, past the midpoint of a 100-char window.
	text := strings.Repeat("a", 79) + ". " + strings.Repeat("b", 200)
	chunks := c.Chunk(text, nil)

	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "."),
		"first chunk should end at the sentence boundary, got %q", chunks[0].Text)
}

func TestChunkIgnoresEarlyBoundary(t *testing.T) {
	c := NewChunker(100, 10)
	// The only period falls before the midpoint; the break is at size.
	text := strings.Repeat("a", 20) + ". " + strings.Repeat("b", 300)
	chunks := c.Chunk(text, nil)

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 100, len(chunks[0].Text))
}

func TestChunkOverlap(t *testing.T) {
	c := NewChunker(100, 20)
	text := strings.Repeat("x", 250)
	chunks := c.Chunk(text, nil)

	require.GreaterOrEqual(t, len(chunks), 2)
	// The tail of one chunk reappears at the head of the next.
	tail := chunks[0].Text[len(chunks[0].Text)-20:]
	assert.True(t, strings.HasPrefix(chunks[1].Text, tail))
}

func TestChunkDeterministic(t *testing.T) {
	c := NewChunker(120, 30)
	text := "One sentence. Another sentence! A third? " + strings.Repeat("Words go here. ", 40)

	a := c.Chunk(text, nil)
	b := c.Chunk(text, nil)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Text, b[i].Text)
		assert.Equal(t, a[i].StartChar, b[i].StartChar)
		assert.Equal(t, a[i].EndChar, b[i].EndChar)
	}
}

func TestChunkParagraphBreakAsTerminator(t *testing.T) {
	c := NewChunker(100, 10)
	text := strings.Repeat("a", 70) + "\n\n" + strings.Repeat("b", 200)
	chunks := c.Chunk(text, nil)

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, strings.Repeat("a", 70), chunks[0].Text)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a b", Sanitize("a \t  b"))
	assert.Equal(t, "a\nb", Sanitize("a\nb"))
	assert.Equal(t, "ab", Sanitize("a\x00\x07b"))
	assert.Equal(t, "a b", Sanitize("  a \r b  "))
}
