// Copyright 2025 Poiesic Systems
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
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/poiesic/kbsync"
	"github.com/poiesic/kbsync/config"
	"github.com/poiesic/kbsync/ingestion"
	"github.com/urfave/cli/v2"
)

// workspaceOptions are appended to every workspace the CLI opens. Tests
// use it to swap in a mock provider.
var workspaceOptions []kbsync.WorkspaceOption

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	forceFlag := &cli.BoolFlag{
		Name:  "force",
		Usage: "Bypass the dedup registry and embedding cache",
	}
	progressFlag := &cli.BoolFlag{
		Name:  "progress",
		Usage: "Report embedding progress on stderr",
	}

	return &cli.App{
		Name:  "kbsync",
		Usage: "Stage, embed and sync a knowledge base to local and remote vector stores",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML config file (default: " + config.DefaultPath + " if present)",
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Files holding KBSYNC_* secrets; earlier files win",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.StringFlag{
				Name:  "staging-root",
				Usage: "Override the staging area root",
			},
			&cli.StringFlag{
				Name:  "state-dir",
				Usage: "Override the state DB directory",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show per-stage and per-target counts",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "List documents that are not yet archived",
					},
				},
			},
			{
				Name:   "prep",
				Usage:  "Chunk intake documents into a prepared batch",
				Action: prepCommand,
			},
			{
				Name:   "ingest-local",
				Usage:  "Embed prepared documents into the local target",
				Action: ingestLocalCommand,
				Flags:  []cli.Flag{forceFlag, progressFlag},
			},
			{
				Name:   "ingest-remote",
				Usage:  "Sync locally synced documents to the remote target through the tunnel",
				Action: ingestRemoteCommand,
				Flags:  []cli.Flag{forceFlag, progressFlag},
			},
			{
				Name:   "sync-all",
				Usage:  "Run prep, ingest-local and ingest-remote",
				Action: syncAllCommand,
				Flags:  []cli.Flag{forceFlag, progressFlag},
			},
			{
				Name:   "reconcile",
				Usage:  "Archive documents every target already holds",
				Action: reconcileCommand,
			},
			{
				Name:      "query",
				Usage:     "Retrieve the nearest chunks from the local target",
				ArgsUsage: "<query>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "k",
						Aliases: []string{"n"},
						Usage:   "Number of results",
						Value:   5,
					},
				},
			},
			{
				Name:   "jobs",
				Usage:  "List recent ingestion jobs",
				Action: jobsCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum jobs to list (0 for all)",
						Value: 20,
					},
				},
			},
		},
	}
}

// openWorkspace loads the config and applies the global flag overrides.
func openWorkspace(c *cli.Context) (*kbsync.Workspace, error) {
	cfg, err := config.Load(c.String("config"), c.StringSlice("env-file")...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if root := c.String("staging-root"); root != "" {
		cfg.Staging.Root = root
	}
	if dir := c.String("state-dir"); dir != "" {
		cfg.State.Dir = dir
	}

	opts := []kbsync.WorkspaceOption{kbsync.WithLogger(slog.Default())}
	if c.Bool("progress") {
		opts = append(opts, kbsync.WithPipelineOptions(ingestion.WithProgress(c.App.ErrWriter)))
	}
	opts = append(opts, workspaceOptions...)

	ws, err := kbsync.OpenWorkspace(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	return ws, nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
