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
	"context"
	"time"
)

// Stream event types.
const (
	EventToken      = "token"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventDone       = "done"
	EventError      = "error"
)

const (
	streamChunkSize = 50
	streamDelay     = 50 * time.Millisecond
)

// Event is one unit of a streamed reply. Done events carry the full
// tools_used list; error events carry Error and end the stream.
type Event struct {
	Type      string   `json:"type"`
	Content   string   `json:"content,omitempty"`
	Tool      string   `json:"tool,omitempty"`
	ToolsUsed []string `json:"tools_used,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Stream answers like Send but delivers the reply as simulated token
// events in fixed-size chunks. Tool activity is replayed before the
// tokens. The channel closes after done or error.
func (s *Service) Stream(ctx context.Context, threadID, query string) (<-chan Event, error) {
	if _, err := s.store.Get(threadID); err != nil {
		return nil, err
	}
	ch := make(chan Event)
	go func() {
		defer close(ch)
		res, err := s.Send(ctx, threadID, query)
		if err != nil {
			ch <- Event{Type: EventError, Error: err.Error()}
			return
		}
		for _, tool := range res.ToolsUsed {
			ch <- Event{Type: EventToolCall, Tool: tool}
			ch <- Event{Type: EventToolResult, Tool: tool}
		}
		for _, chunk := range chunkRunes(res.Message, streamChunkSize) {
			select {
			case ch <- Event{Type: EventToken, Content: chunk}:
			case <-ctx.Done():
				ch <- Event{Type: EventError, Error: ctx.Err().Error()}
				return
			}
			select {
			case <-time.After(streamDelay):
			case <-ctx.Done():
				ch <- Event{Type: EventError, Error: ctx.Err().Error()}
				return
			}
		}
		ch <- Event{Type: EventDone, ToolsUsed: res.ToolsUsed}
	}()
	return ch, nil
}

// chunkRunes splits s into rune-safe chunks of at most size runes.
func chunkRunes(s string, size int) []string {
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
