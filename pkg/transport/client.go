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

// Package transport implements the line-oriented JSON-RPC channel to a
// stdio tool server. Requests carry {id, method, params}; responses
// {id, result|error}. One reader goroutine demultiplexes responses to
// waiters by id; writes to the peer's stdin are serialized.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const maxFrameBytes = 16 << 20

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// Client is the owned handle to one tool-server peer. It is the only
// path to the subprocess; safe for concurrent use.
type Client struct {
	server string
	rwc    io.ReadWriteCloser

	writeMu sync.Mutex

	nextID atomic.Uint64

	waitersMu sync.Mutex
	waiters   map[uint64]chan response

	// inflight bounds concurrent calls to this peer.
	inflight *semaphore.Weighted

	degraded atomic.Bool
	done     chan struct{}

	closeOnce sync.Once
}

// NewClient wraps an established channel to a peer. maxInFlight caps
// concurrent calls; values below 1 are raised to 1. The reader
// goroutine runs until the channel closes.
func NewClient(server string, rwc io.ReadWriteCloser, maxInFlight int) *Client {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	c := &Client{
		server:   server,
		rwc:      rwc,
		waiters:  make(map[uint64]chan response),
		inflight: semaphore.NewWeighted(int64(maxInFlight)),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Server returns the peer's canonical id.
func (c *Client) Server() string {
	return c.server
}

// Degraded reports whether the peer is gone. A degraded client fails
// every call until restarted.
func (c *Client) Degraded() bool {
	return c.degraded.Load()
}

// Call sends one request and waits for its response. The context
// carries the per-call deadline; on timeout the waiter is abandoned
// but the subprocess is left alone, another call may still be in
// flight.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.degraded.Load() {
		return nil, &TransportError{Kind: KindPeerGone, Server: c.server}
	}

	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return nil, c.ctxError(err)
	}
	defer c.inflight.Release(1)

	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.waitersMu.Lock()
	c.waiters[id] = ch
	c.waitersMu.Unlock()

	if err := c.write(request{ID: id, Method: method, Params: params}); err != nil {
		c.removeWaiter(id)
		return nil, &TransportError{Kind: KindPeerGone, Server: c.server, Err: err}
	}

	select {
	case <-ctx.Done():
		c.removeWaiter(id)
		slog.Warn("Tool server call abandoned",
			"server", c.server,
			"method", method,
			"reason", ctx.Err())
		return nil, c.ctxError(ctx.Err())
	case <-c.done:
		// The response may have been delivered just before the channel
		// closed; prefer it over reporting peer_gone.
		select {
		case resp := <-ch:
			return unpack(resp)
		default:
			return nil, &TransportError{Kind: KindPeerGone, Server: c.server}
		}
	case resp := <-ch:
		return unpack(resp)
	}
}

func unpack(resp response) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Close tears down the channel. Pending waiters fail with peer_gone.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.rwc.Close()
	})
	return err
}

func (c *Client) ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Server: c.server, Err: err}
	}
	return err
}

func (c *Client) write(req request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.rwc.Write(payload)
	return err
}

func (c *Client) removeWaiter(id uint64) {
	c.waitersMu.Lock()
	delete(c.waiters, id)
	c.waitersMu.Unlock()
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.rwc)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			// The waiter for this frame (if any) eventually times out.
			slog.Warn("Dropping malformed frame",
				"server", c.server,
				"kind", KindMalformedFrame,
				"error", err)
			continue
		}

		c.waitersMu.Lock()
		ch, ok := c.waiters[resp.ID]
		if ok {
			delete(c.waiters, resp.ID)
		}
		c.waitersMu.Unlock()

		if !ok {
			slog.Debug("Response for unknown request id",
				"server", c.server, "id", resp.ID)
			continue
		}
		ch <- resp
	}

	// Peer is gone. Fail everything still waiting.
	c.degraded.Store(true)
	close(c.done)

	c.waitersMu.Lock()
	n := len(c.waiters)
	c.waiters = make(map[uint64]chan response)
	c.waitersMu.Unlock()

	if n > 0 {
		slog.Error("Tool server channel closed with pending calls",
			"server", c.server, "pending", n)
	} else {
		slog.Info("Tool server channel closed", "server", c.server)
	}
}
