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

package chat

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/tetraclub/maestro/pkg/threads"
)

// tokensPerMessage is the per-message framing overhead in the OpenAI
// chat format.
const tokensPerMessage = 3

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.Mutex
)

// TokenCounter counts tokens with the model's tokenizer. When no
// encoding can be loaded it falls back to the four-characters-per-token
// estimate, so construction never fails.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func NewTokenCounter(model string) *TokenCounter {
	encodingMu.Lock()
	defer encodingMu.Unlock()
	if enc, ok := encodingCache[model]; ok {
		return &TokenCounter{encoding: enc}
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		slog.Warn("No tokenizer encoding available, estimating token counts", "model", model, "error", err)
		return &TokenCounter{}
	}
	encodingCache[model] = enc
	return &TokenCounter{encoding: enc}
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	if tc.encoding == nil {
		return len(text) / 4
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessage includes the role and framing overhead.
func (tc *TokenCounter) CountMessage(m threads.Message) int {
	return tokensPerMessage + tc.Count(m.Role) + tc.Count(m.Content)
}

// FitWithinBudget returns the suffix of messages that fits the token
// budget, newest kept first.
func (tc *TokenCounter) FitWithinBudget(messages []threads.Message, budget int) []threads.Message {
	if budget <= 0 {
		return messages
	}
	total := tokensPerMessage
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n := tc.CountMessage(messages[i])
		if total+n > budget {
			break
		}
		total += n
		start = i
	}
	return messages[start:]
}
