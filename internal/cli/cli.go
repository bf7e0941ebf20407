// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/glossa/internal/config"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	verbose    bool
	offline    bool
}

// NewRootCommand builds the glossa command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "glossa",
		Short: "Streamed AI explanations and chats for the documents you read",
		Long: `glossa keeps chat sessions next to the documents you read.

Open a document to chat about it or to explain highlighted passages.
Sessions are saved per document and restored the next time it is opened.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.glossa/config.toml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "also write logs to stderr")
	flags.BoolVar(&opts.offline, "offline", false, "answer with the offline backend instead of a model")

	root.AddCommand(
		newOpenCommand(opts),
		newSessionsCommand(opts),
		newExportCommand(opts),
		newKeyCommand(),
		newConfigCommand(opts),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, RenderConditional(ErrorStyle, "Error:"), err)
		return 1
	}
	return 0
}

// loadConfig loads the configuration selected by the flags.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.offline {
		cfg.Backend.Provider = "scripted"
	}
	return cfg, nil
}
