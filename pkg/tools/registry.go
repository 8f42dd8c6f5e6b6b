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

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tetraclub/maestro/pkg/transport"
)

// Registry holds the tool descriptors discovered at bring-up and
// routes invocations to the owning server. Discovery happens once;
// after that the registry is read-only and safe for concurrent use.
type Registry struct {
	servers     map[string]ToolServer
	descriptors map[string]map[string]Descriptor
}

// NewRegistry discovers tools on each server via list_tools. A server
// that fails discovery is treated as disabled: it is closed, logged,
// and left out of the registry.
func NewRegistry(ctx context.Context, servers []ToolServer) *Registry {
	r := &Registry{
		servers:     make(map[string]ToolServer),
		descriptors: make(map[string]map[string]Descriptor),
	}

	for _, srv := range servers {
		raw, err := srv.Call(ctx, "list_tools", nil)
		if err != nil {
			slog.Warn("Tool server failed discovery, disabling",
				"server", srv.Server(), "error", err)
			srv.Close()
			continue
		}

		var listed []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"input_schema"`
		}
		if err := json.Unmarshal(raw, &listed); err != nil {
			slog.Warn("Tool server returned malformed tool list, disabling",
				"server", srv.Server(), "error", err)
			srv.Close()
			continue
		}

		byName := make(map[string]Descriptor, len(listed))
		for _, d := range listed {
			byName[d.Name] = Descriptor{
				Server:      srv.Server(),
				Name:        d.Name,
				Description: d.Description,
				InputSchema: d.InputSchema,
			}
		}
		r.servers[srv.Server()] = srv
		r.descriptors[srv.Server()] = byName
		slog.Info("Registered tool server",
			"server", srv.Server(), "tools", len(byName))
	}

	return r
}

// Servers returns the ids of all registered servers, sorted.
func (r *Registry) Servers() []string {
	out := make([]string, 0, len(r.servers))
	for name := range r.servers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether the (server, tool) pair exists.
func (r *Registry) Has(server, tool string) bool {
	_, ok := r.descriptors[server][tool]
	return ok
}

// Descriptors returns every known descriptor ordered by server then
// tool name. The planner renders these into its prompt.
func (r *Registry) Descriptors() []Descriptor {
	var out []Descriptor
	for _, server := range r.Servers() {
		byName := r.descriptors[server]
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, byName[name])
		}
	}
	return out
}

// Invoke validates the (server, tool) pair and arguments, then
// delegates to the transport. Unknown pairs fail without touching the
// network.
func (r *Registry) Invoke(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error) {
	srv, ok := r.servers[server]
	if !ok {
		return nil, &ToolError{Kind: KindNotFound, Server: server, Tool: tool}
	}
	desc, ok := r.descriptors[server][tool]
	if !ok {
		return nil, &ToolError{Kind: KindNotFound, Server: server, Tool: tool}
	}

	if err := checkRequired(desc.InputSchema, args); err != nil {
		return nil, &ToolError{Kind: KindInvalidArguments, Server: server, Tool: tool, Err: err}
	}

	result, err := srv.Call(ctx, "call_tool", map[string]any{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		return nil, wrapCallError(server, tool, err)
	}
	return result, nil
}

// ListResources queries a server's optional list_resources method.
// Servers without it return an empty list.
func (r *Registry) ListResources(ctx context.Context, server string) ([]Resource, error) {
	srv, ok := r.servers[server]
	if !ok {
		return nil, &ToolError{Kind: KindNotFound, Server: server}
	}

	raw, err := srv.Call(ctx, "list_resources", nil)
	if err != nil {
		return nil, wrapCallError(server, "list_resources", err)
	}

	var resources []Resource
	if err := json.Unmarshal(raw, &resources); err != nil {
		return nil, &ToolError{Kind: KindRemoteFailure, Server: server, Err: err}
	}
	return resources, nil
}

// Close shuts down every registered server.
func (r *Registry) Close() error {
	var first error
	for name, srv := range r.servers {
		if err := srv.Close(); err != nil && first == nil {
			first = fmt.Errorf("failed to close server %s: %w", name, err)
		}
	}
	return first
}

// checkRequired enforces the required-property list of a JSON Schema.
// Full schema validation is the server's job; this catches the cheap
// caller bugs before a round trip.
func checkRequired(schema, args map[string]any) error {
	required, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	for _, field := range required {
		name, ok := field.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	return nil
}

// wrapCallError turns a peer-reported error into a tool failure.
// Transport errors pass through unchanged so workers can distinguish a
// dead peer from a bad call.
func wrapCallError(server, tool string, err error) error {
	var rerr *transport.RemoteError
	if errors.As(err, &rerr) {
		return &ToolError{Kind: KindRemoteFailure, Server: server, Tool: tool, Err: err}
	}
	return err
}
