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

// Package maestro is an agentic chat backend orchestration engine.
//
// Maestro turns a user query into a safety-checked, planned, and
// tool-assisted reply. Each request passes a safety gate, is expanded
// into an execution plan by the configured LLM, gathers context from
// web search and local retrieval, fans out to conversational and tool
// workers, and is fused into a single answer that must clear a
// confidence check before it is returned.
//
// Install the CLI:
//
//	go install github.com/tetraclub/maestro/cmd/maestro@latest
//
// Start the engine:
//
//	maestro serve --config maestro.yaml
//
// Chat from the terminal:
//
//	maestro chat -q "When is the next robotics meetup?"
//
// Or embed it:
//
//	import (
//		"github.com/tetraclub/maestro/pkg/chat"
//		"github.com/tetraclub/maestro/pkg/orchestrator"
//	)
package maestro
