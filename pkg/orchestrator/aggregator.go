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
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tetraclub/maestro/pkg/llms"
)

// Aggregator fuses worker results into one reply and scores it.
type Aggregator struct {
	llm             llms.Provider
	confidenceModel map[string]any
}

// confidenceVerdict is the model's assessment of a draft reply.
type confidenceVerdict struct {
	Score       float64 `json:"score" jsonschema:"required,minimum=0,maximum=1"`
	RetryNeeded bool    `json:"retry_needed"`
	Reason      string  `json:"reason,omitempty"`
}

func NewAggregator(llm llms.Provider) (*Aggregator, error) {
	schema, err := reflectSchema[confidenceVerdict]()
	if err != nil {
		return nil, err
	}
	return &Aggregator{llm: llm, confidenceModel: schema}, nil
}

// Aggregate orders results by task id and produces the reply. A single
// successful result passes through verbatim; multiple results are
// fused by the model, anchored on the original query.
func (a *Aggregator) Aggregate(ctx context.Context, query string, results []TaskResult) (string, error) {
	sort.Slice(results, func(i, j int) bool { return results[i].TaskID < results[j].TaskID })

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	switch {
	case len(results) == 0:
		return "", fmt.Errorf("no results to aggregate")
	case succeeded == 0:
		return a.failureSummary(results), nil
	case len(results) == 1:
		return results[0].Output, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User query: %s\n\nTask outputs:\n", query)
	for _, r := range results {
		if !r.Success {
			fmt.Fprintf(&b, "\nTask %d failed: %s\n", r.TaskID, r.Error)
			continue
		}
		fmt.Fprintf(&b, "\nTask %d:\n%s\n", r.TaskID, r.Output)
	}
	out, _, err := a.llm.Complete(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: "Combine the task outputs into a single coherent reply to the user query. Do not mention tasks or that multiple sources were combined."},
		{Role: llms.RoleUser, Content: b.String()},
	})
	if err != nil {
		// The fusion step is cosmetic next to losing the outputs.
		slog.Warn("Aggregation fusion failed, concatenating outputs", "error", err)
		return concatOutputs(results), nil
	}
	return out, nil
}

// Confidence scores a draft reply in [0,1]. Scoring failures return
// full confidence so a broken judge cannot loop the request.
func (a *Aggregator) Confidence(ctx context.Context, query, reply string) (float64, bool) {
	msgs := []llms.Message{
		{Role: llms.RoleSystem, Content: "Rate how well the reply answers the query. Respond with a score in [0,1] and whether a retry with a new plan would help."},
		{Role: llms.RoleUser, Content: fmt.Sprintf("Query: %s\n\nReply: %s", query, reply)},
	}
	var verdict confidenceVerdict
	if _, err := a.llm.CompleteStructured(ctx, msgs, "confidence", a.confidenceModel, &verdict); err != nil {
		slog.Warn("Confidence check failed, accepting reply", "error", err)
		return 1.0, false
	}
	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 1 {
		verdict.Score = 1
	}
	return verdict.Score, verdict.RetryNeeded
}

func (a *Aggregator) failureSummary(results []TaskResult) string {
	var reasons []string
	for _, r := range results {
		if r.Error != "" {
			reasons = append(reasons, r.Error)
		}
	}
	if len(reasons) == 0 {
		return "I couldn't complete that request."
	}
	return "I couldn't complete that request: " + strings.Join(reasons, "; ")
}

func concatOutputs(results []TaskResult) string {
	var parts []string
	for _, r := range results {
		if r.Success && r.Output != "" {
			parts = append(parts, r.Output)
		}
	}
	return strings.Join(parts, "\n\n")
}
