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

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraclub/maestro/pkg/llms"
)

func TestAggregateSingleResultPassesThrough(t *testing.T) {
	llm := llms.NewScriptedProvider("should not be called")
	agg, err := NewAggregator(llm)
	require.NoError(t, err)

	out, err := agg.Aggregate(context.Background(), "q", []TaskResult{
		{TaskID: 1, Success: true, Output: "the only answer"},
	})
	require.NoError(t, err)
	assert.Equal(t, "the only answer", out)
	assert.Empty(t, llm.Calls())
}

func TestAggregateFusesMultipleResultsInTaskOrder(t *testing.T) {
	llm := llms.NewScriptedProvider("fused reply")
	agg, err := NewAggregator(llm)
	require.NoError(t, err)

	out, err := agg.Aggregate(context.Background(), "original question", []TaskResult{
		{TaskID: 2, Success: true, Output: "second"},
		{TaskID: 1, Success: true, Output: "first"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fused reply", out)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0][1].Content
	assert.Contains(t, prompt, "original question")
	assert.Less(t, strings.Index(prompt, "first"), strings.Index(prompt, "second"))
}

func TestAggregateSoleSuccessAmongFailuresStillFuses(t *testing.T) {
	llm := llms.NewScriptedProvider("fused with caveat")
	agg, err := NewAggregator(llm)
	require.NoError(t, err)

	out, err := agg.Aggregate(context.Background(), "q", []TaskResult{
		{TaskID: 1, Success: true, Output: "partial answer"},
		{TaskID: 2, Error: "gmail server down"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fused with caveat", out)

	// The fusion prompt shows the model both the output and the failure.
	calls := llm.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0][1].Content
	assert.Contains(t, prompt, "partial answer")
	assert.Contains(t, prompt, "gmail server down")
}

func TestAggregateAllFailuresSummarizes(t *testing.T) {
	llm := llms.NewScriptedProvider("unused")
	agg, err := NewAggregator(llm)
	require.NoError(t, err)

	out, err := agg.Aggregate(context.Background(), "q", []TaskResult{
		{TaskID: 1, Error: "tool server down"},
		{TaskID: 2, Error: "deadline exceeded"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "tool server down")
	assert.Contains(t, out, "deadline exceeded")
	assert.Empty(t, llm.Calls())
}

func TestAggregateFusionFailureConcatenates(t *testing.T) {
	llm := llms.NewScriptedProvider()
	llm.Fail(errors.New("model down"))
	agg, err := NewAggregator(llm)
	require.NoError(t, err)

	out, err := agg.Aggregate(context.Background(), "q", []TaskResult{
		{TaskID: 1, Success: true, Output: "alpha"},
		{TaskID: 2, Success: true, Output: "beta"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "beta")
}

func TestConfidenceClampsAndParses(t *testing.T) {
	llm := llms.NewScriptedProvider(`{"score": 1.4, "retry_needed": true}`)
	agg, err := NewAggregator(llm)
	require.NoError(t, err)

	score, retry := agg.Confidence(context.Background(), "q", "reply")
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.True(t, retry)
}

func TestConfidenceFailureAcceptsReply(t *testing.T) {
	llm := llms.NewScriptedProvider()
	llm.Fail(errors.New("judge offline"))
	agg, err := NewAggregator(llm)
	require.NoError(t, err)

	score, retry := agg.Confidence(context.Background(), "q", "reply")
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.False(t, retry)
}
