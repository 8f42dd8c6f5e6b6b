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

package threads

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	id := s.Create()
	require.NotEmpty(t, id)

	th, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, th.ID)
	assert.Empty(t, th.Messages)
	assert.False(t, th.CreatedAt.IsZero())
}

func TestAppendAndMessages(t *testing.T) {
	s := NewMemoryStore()
	id := s.Create()

	mid, err := s.Append(id, RoleUser, "hello", map[string]any{"source": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, mid)

	_, err = s.Append(id, RoleAssistant, "hi there", nil)
	require.NoError(t, err)

	msgs, err := s.Messages(id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "test", msgs[0].Metadata["source"])
	assert.Equal(t, RoleAssistant, msgs[1].Role)
}

func TestAppendUnknownThread(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Append("no-such-thread", RoleUser, "hello", nil)

	var nf *ErrThreadNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "no-such-thread", nf.ID)
}

func TestSetStatus(t *testing.T) {
	s := NewMemoryStore()
	id := s.Create()

	th, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, th.Status)

	require.NoError(t, s.SetStatus(id, StatusClosed))
	th, err = s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, th.Status)

	assert.Error(t, s.SetStatus(id, "archived"))
	assert.Error(t, s.SetStatus("missing", StatusClosed))
}

func TestDelete(t *testing.T) {
	s := NewMemoryStore()
	id := s.Create()

	assert.True(t, s.Delete(id))
	assert.False(t, s.Delete(id))

	_, err := s.Get(id)
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	s := NewMemoryStore()
	assert.Empty(t, s.List())

	a := s.Create()
	b := s.Create()
	assert.ElementsMatch(t, []string{a, b}, s.List())
}

func TestConcurrentAppendsAreAllRecorded(t *testing.T) {
	s := NewMemoryStore()
	id := s.Create()

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Append(id, RoleUser, fmt.Sprintf("w%d-m%d", w, i), nil)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	msgs, err := s.Messages(id)
	require.NoError(t, err)
	assert.Len(t, msgs, writers*perWriter)

	// No duplicates and no lost writes.
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		assert.False(t, seen[m.Content], "duplicate message %s", m.Content)
		seen[m.Content] = true
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	s := NewMemoryStore()
	id := s.Create()
	_, err := s.Append(id, RoleUser, "first", nil)
	require.NoError(t, err)

	th, err := s.Get(id)
	require.NoError(t, err)

	_, err = s.Append(id, RoleUser, "second", nil)
	require.NoError(t, err)

	// The earlier snapshot is unaffected by later appends.
	assert.Len(t, th.Messages, 1)
}
