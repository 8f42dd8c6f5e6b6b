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

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tetraclub/maestro/pkg/chat"
)

// ChatCmd runs an interactive session on the terminal.
type ChatCmd struct {
	Query  string `short:"q" help:"Send a single query and exit."`
	Stream bool   `default:"true" negatable:"" help:"Stream replies token by token."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	threadID := eng.chat.CreateThread()

	if c.Query != "" {
		return c.exchange(ctx, eng.chat, threadID, c.Query)
	}

	fmt.Println("maestro chat (empty line or Ctrl-D to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		if err := c.exchange(ctx, eng.chat, threadID, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return scanner.Err()
}

func (c *ChatCmd) exchange(ctx context.Context, svc *chat.Service, threadID, query string) error {
	if !c.Stream {
		res, err := svc.Send(ctx, threadID, query)
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		printTools(res.ToolsUsed)
		return nil
	}

	events, err := svc.Stream(ctx, threadID, query)
	if err != nil {
		return err
	}
	for ev := range events {
		switch ev.Type {
		case chat.EventToken:
			fmt.Print(ev.Content)
		case chat.EventToolCall:
			fmt.Printf("[calling %s]\n", ev.Tool)
		case chat.EventDone:
			fmt.Println()
			printTools(ev.ToolsUsed)
		case chat.EventError:
			fmt.Println()
			return fmt.Errorf("%s", ev.Error)
		}
	}
	return nil
}

func printTools(tools []string) {
	if len(tools) > 0 {
		fmt.Printf("(tools: %s)\n", strings.Join(tools, ", "))
	}
}
