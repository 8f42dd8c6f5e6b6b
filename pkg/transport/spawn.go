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

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/tetraclub/maestro/pkg/config"
)

// processChannel glues a child's stdin and stdout into one
// io.ReadWriteCloser. Close terminates the process.
type processChannel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *processChannel) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processChannel) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *processChannel) Close() error {
	p.stdin.Close()
	p.stdout.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}

// Spawn starts a tool-server subprocess and returns a Client bound to
// its stdio. The child's stderr is relayed to the log.
func Spawn(cfg config.ServerConfig) (*Client, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin for %s: %w", cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout for %s: %w", cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr for %s: %w", cfg.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start tool server %s: %w", cfg.Name, err)
	}
	slog.Info("Started tool server", "server", cfg.Name, "command", cfg.Command, "pid", cmd.Process.Pid)

	go relayStderr(cfg.Name, stderr)

	ch := &processChannel{cmd: cmd, stdin: stdin, stdout: stdout}
	return NewClient(cfg.Name, ch, cfg.MaxInFlight), nil
}

func relayStderr(server string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("Tool server stderr", "server", server, "line", scanner.Text())
	}
}
