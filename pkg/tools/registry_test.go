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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraclub/maestro/pkg/transport"
)

// fakeServer answers list_tools with a fixed descriptor set and
// records call_tool invocations.
type fakeServer struct {
	name      string
	tools     []map[string]any
	callErr   error
	listErr   error
	lastCall  map[string]any
	closed    bool
	resources []Resource
}

func (f *fakeServer) Server() string { return f.name }
func (f *fakeServer) Degraded() bool { return false }
func (f *fakeServer) Close() error   { f.closed = true; return nil }

func (f *fakeServer) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	switch method {
	case "list_tools":
		if f.listErr != nil {
			return nil, f.listErr
		}
		return json.Marshal(f.tools)
	case "call_tool":
		if f.callErr != nil {
			return nil, f.callErr
		}
		f.lastCall = params.(map[string]any)
		return json.RawMessage(`{"ok":true}`), nil
	case "list_resources":
		return json.Marshal(f.resources)
	}
	return nil, errors.New("unknown method")
}

func searchTools() []map[string]any {
	return []map[string]any{{
		"name":        "search",
		"description": "Search the index",
		"input_schema": map[string]any{
			"type":     "object",
			"required": []any{"query"},
		},
	}}
}

func TestRegistryDiscovery(t *testing.T) {
	good := &fakeServer{name: "rag", tools: searchTools()}
	bad := &fakeServer{name: "gmail", listErr: errors.New("boom")}

	r := NewRegistry(context.Background(), []ToolServer{good, bad})

	assert.Equal(t, []string{"rag"}, r.Servers())
	assert.True(t, r.Has("rag", "search"))
	assert.False(t, r.Has("gmail", "send_email"))
	assert.True(t, bad.closed, "failing server should be closed")

	descs := r.Descriptors()
	require.Len(t, descs, 1)
	assert.Equal(t, "rag", descs[0].Server)
	assert.Equal(t, "search", descs[0].Name)
}

func TestInvokeUnknownPairSkipsNetwork(t *testing.T) {
	srv := &fakeServer{name: "rag", tools: searchTools()}
	r := NewRegistry(context.Background(), []ToolServer{srv})

	_, err := r.Invoke(context.Background(), "rag", "nonexistent", nil)
	var terr *ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindNotFound, terr.Kind)
	assert.Nil(t, srv.lastCall)

	_, err = r.Invoke(context.Background(), "nonexistent", "search", nil)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindNotFound, terr.Kind)
}

func TestInvokeValidatesRequiredArguments(t *testing.T) {
	srv := &fakeServer{name: "rag", tools: searchTools()}
	r := NewRegistry(context.Background(), []ToolServer{srv})

	_, err := r.Invoke(context.Background(), "rag", "search", map[string]any{})
	var terr *ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindInvalidArguments, terr.Kind)
	assert.Nil(t, srv.lastCall)
}

func TestInvokeDelegatesToServer(t *testing.T) {
	srv := &fakeServer{name: "rag", tools: searchTools()}
	r := NewRegistry(context.Background(), []ToolServer{srv})

	result, err := r.Invoke(context.Background(), "rag", "search",
		map[string]any{"query": "transformers"})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"ok":true}`), result)

	assert.Equal(t, "search", srv.lastCall["name"])
	args := srv.lastCall["arguments"].(map[string]any)
	assert.Equal(t, "transformers", args["query"])
}

func TestInvokeWrapsRemoteErrors(t *testing.T) {
	srv := &fakeServer{
		name:    "web",
		tools:   []map[string]any{{"name": "fetch", "description": "Fetch a URL"}},
		callErr: &transport.RemoteError{Code: 500, Message: "upstream down"},
	}
	r := NewRegistry(context.Background(), []ToolServer{srv})

	_, err := r.Invoke(context.Background(), "web", "fetch", map[string]any{"url": "x"})
	var terr *ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindRemoteFailure, terr.Kind)
}

func TestInvokePassesTransportErrorsThrough(t *testing.T) {
	srv := &fakeServer{
		name:    "web",
		tools:   []map[string]any{{"name": "fetch", "description": "Fetch a URL"}},
		callErr: &transport.TransportError{Kind: transport.KindPeerGone, Server: "web"},
	}
	r := NewRegistry(context.Background(), []ToolServer{srv})

	_, err := r.Invoke(context.Background(), "web", "fetch", map[string]any{"url": "x"})
	var transErr *transport.TransportError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, transport.KindPeerGone, transErr.Kind)
}

func TestListResources(t *testing.T) {
	srv := &fakeServer{
		name:  "rag",
		tools: searchTools(),
		resources: []Resource{
			{URI: "doc://attention.pdf", Name: "attention.pdf", MimeType: "application/pdf"},
		},
	}
	r := NewRegistry(context.Background(), []ToolServer{srv})

	resources, err := r.ListResources(context.Background(), "rag")
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "doc://attention.pdf", resources[0].URI)
}
