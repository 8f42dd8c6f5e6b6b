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

// Command maestro runs the chat orchestration engine.
//
// Usage:
//
//	maestro serve --config config.yaml
//	maestro chat --config config.yaml
//	maestro ingest --config config.yaml --source ./docs
//	maestro validate --config config.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/tetraclub/maestro/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Run the engine with its tool servers until interrupted."`
	Chat     ChatCmd     `cmd:"" help:"Interactive chat session on the terminal."`
	Ingest   IngestCmd   `cmd:"" help:"Ingest a document tree into the vector index."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)."`
}

// loadConfig reads the config file, or the defaults when none is
// given, and applies CLI overrides.
func (cli *CLI) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cli.Config != "" {
		cfg, err = config.LoadFile(cli.Config)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	return cfg, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("maestro version %s\n", version)
	return nil
}

// ValidateCmd loads and validates a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("validate requires --config")
	}
	cfg, err := config.LoadFile(cli.Config)
	if err != nil {
		fmt.Printf("✗ %s: %v\n", cli.Config, err)
		return err
	}
	fmt.Printf("✓ %s is valid (%d tool servers, llm %s)\n",
		cli.Config, len(cfg.Servers), cfg.LLM.Model)
	return nil
}

func initLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("maestro"),
		kong.Description("Agentic chat backend orchestration engine"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
