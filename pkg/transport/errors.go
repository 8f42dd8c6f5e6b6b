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

package transport

import "fmt"

// Transport error kinds.
const (
	KindPeerGone       = "peer_gone"
	KindTimeout        = "timeout"
	KindMalformedFrame = "malformed_frame"
)

// TransportError reports a failure on the channel to a tool server.
// Workers recover from these locally; they are never fatal to a
// request.
type TransportError struct {
	Kind   string
	Server string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %s: %v", e.Server, e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s: %s", e.Server, e.Kind)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is an error object returned by the peer inside a
// response frame. The channel itself is healthy.
type RemoteError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}
