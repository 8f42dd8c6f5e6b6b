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

// Package tools maintains the registry of tool descriptors discovered
// from the configured tool servers and routes invocations to them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool error kinds.
const (
	KindNotFound         = "not_found"
	KindInvalidArguments = "invalid_arguments"
	KindRemoteFailure    = "remote_failure"
)

// ToolError reports a failed tool invocation. Workers record these as
// failed task results; they never abort a request.
type ToolError struct {
	Kind   string
	Server string
	Tool   string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("tool %s/%s: %s", e.Server, e.Tool, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Descriptor identifies one tool on one server.
type Descriptor struct {
	Server      string         `json:"server"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Resource is an entry returned by a server's list_resources.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
}

// ToolServer is the channel contract the registry needs from a peer.
// *transport.Client satisfies it; tests substitute fakes.
type ToolServer interface {
	Server() string
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Degraded() bool
	Close() error
}
