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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraclub/maestro/pkg/config"
)

func TestHashEmbedderDimensionAndNorm(t *testing.T) {
	e := NewHashEmbedder(384)
	require.Equal(t, 384, e.Dimension())

	vecs, err := e.Embed(context.Background(), []string{"hello", "world", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for _, v := range vecs {
		require.Len(t, v, 384)
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-3)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)

	a, err := e.Embed(context.Background(), []string{"same input"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"same input"})
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])

	c, err := e.Embed(context.Background(), []string{"different input"})
	require.NoError(t, err)
	assert.NotEqual(t, a[0], c[0])
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(config.EmbedderConfig{Type: "hash", Dimension: 128})
	require.NoError(t, err)
	assert.Equal(t, 128, e.Dimension())

	_, err = NewEmbedder(config.EmbedderConfig{Type: "fasttext"})
	assert.Error(t, err)
}
