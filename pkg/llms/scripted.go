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
	"encoding/json"
	"sync"
)

// ScriptedProvider replays canned responses in order. It backs tests
// and offline demos; each call pops the next response from the script.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []string
	calls     [][]Message
	err       error
}

// NewScriptedProvider creates a provider that returns the given
// responses one at a time. When the script runs out, the last response
// repeats.
func NewScriptedProvider(responses ...string) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// Fail makes every subsequent call return err.
func (p *ScriptedProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns the message slices passed to the provider so far.
func (p *ScriptedProvider) Calls() [][]Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]Message, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *ScriptedProvider) next(messages []Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, messages)
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "", nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

// Complete returns the next scripted response.
func (p *ScriptedProvider) Complete(ctx context.Context, messages []Message) (string, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	resp, err := p.next(messages)
	if err != nil {
		return "", 0, err
	}
	return resp, len(resp) / 4, nil
}

// CompleteStructured decodes the next scripted response into out.
func (p *ScriptedProvider) CompleteStructured(ctx context.Context, messages []Message, schemaName string, schema map[string]any, out any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	resp, err := p.next(messages)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal([]byte(StripJSONFences(resp)), out); err != nil {
		return 0, &ProviderError{Provider: "scripted", Message: "scripted response is not valid JSON", Err: err}
	}
	return len(resp) / 4, nil
}

// Model identifies the provider in logs.
func (p *ScriptedProvider) Model() string {
	return "scripted"
}
