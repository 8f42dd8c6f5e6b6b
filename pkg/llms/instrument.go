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

package llms

import (
	"context"
	"time"

	"github.com/tetraclub/maestro/pkg/observability"
)

// instrumented times every provider call and records it.
type instrumented struct {
	inner   Provider
	metrics observability.Metrics
}

// Instrument wraps a provider with call metrics. A nil metrics value
// returns the provider unchanged.
func Instrument(p Provider, m observability.Metrics) Provider {
	if m == nil {
		return p
	}
	return &instrumented{inner: p, metrics: m}
}

func (p *instrumented) Complete(ctx context.Context, messages []Message) (string, int, error) {
	start := time.Now()
	out, tokens, err := p.inner.Complete(ctx, messages)
	p.metrics.RecordLLMCall(ctx, p.inner.Model(), time.Since(start), tokens, err)
	return out, tokens, err
}

func (p *instrumented) CompleteStructured(ctx context.Context, messages []Message, schemaName string, schema map[string]any, out any) (int, error) {
	start := time.Now()
	tokens, err := p.inner.CompleteStructured(ctx, messages, schemaName, schema, out)
	p.metrics.RecordLLMCall(ctx, p.inner.Model(), time.Since(start), tokens, err)
	return tokens, err
}

func (p *instrumented) Model() string {
	return p.inner.Model()
}
