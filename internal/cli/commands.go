// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/glossa/internal/config"
	"github.com/jeranaias/glossa/internal/document"
	"github.com/jeranaias/glossa/internal/export"
	"github.com/jeranaias/glossa/internal/model"
	"github.com/jeranaias/glossa/internal/storage"
	"github.com/jeranaias/glossa/internal/util"
)

// =============================================================================
// OPEN
// =============================================================================

func newOpenCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Open a document in the interactive reader shell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, opts.verbose, true)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			sh := newShell(a.engine, cfg, cmd.OutOrStdout(), IsStdoutTTY())
			if err := sh.open(ctx, args[0]); err != nil {
				return err
			}

			input := newLineInput()
			defer input.Close()
			return sh.run(ctx, input)
		},
	}
}

// closeApp shuts a down even when ctx was cancelled by a signal.
func closeApp(ctx context.Context, a *app) {
	deadline := a.cfg.Persistence.FlushDeadline.Duration + time.Second
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadline)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown incomplete")
		fmt.Fprintln(os.Stderr, RenderConditional(ErrorStyle, "Warning:"), err)
	}
}

// =============================================================================
// SESSIONS
// =============================================================================

func newSessionsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions [path]",
		Short: "List stored documents, or the sessions of one document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, opts.verbose, false)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return listDocuments(ctx, out, a.store)
			}

			key := document.KeyFor(args[0])
			sessions, err := a.store.Load(ctx, key)
			if errors.Is(err, storage.ErrNotFound) || (err == nil && len(sessions) == 0) {
				fmt.Fprintf(out, "No sessions stored for %s\n", key)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, RenderConditional(TitleStyle, document.DisplayName(key)))
			writeSessions(out, sessions, "")
			return nil
		},
	}
}

func listDocuments(ctx context.Context, out io.Writer, st storage.Store) error {
	lister, ok := st.(storage.Lister)
	if !ok {
		return errors.New("this storage driver cannot list documents")
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintln(out, "No documents have stored sessions yet.")
		return nil
	}
	for _, key := range keys {
		fmt.Fprintf(out, "%s  %s\n",
			util.PadWidth(util.TruncateWidth(document.DisplayName(key), 32), 32),
			RenderConditional(DimStyle, key))
	}
	return nil
}

const (
	titleWidth   = 14
	previewWidth = 48
)

// writeSessions prints one aligned line per session. currentID, when set,
// is marked.
func writeSessions(out io.Writer, sessions []model.Session, currentID string) {
	for i, sess := range sessions {
		marker := " "
		if sess.ID == currentID {
			marker = RenderConditional(CurrentStyle, "*")
		}

		preview := ""
		if n := len(sess.Messages); n > 0 {
			last := sess.Messages[n-1]
			preview = util.TruncateWidth(util.SingleLine(last.Content), previewWidth)
		}
		if sess.Highlight != nil && preview == "" {
			preview = util.TruncateWidth(util.SingleLine(sess.Highlight.Text), previewWidth)
		}

		fmt.Fprintf(out, "%s %2d  %s %s  %s\n",
			marker,
			i+1,
			util.PadWidth(util.TruncateWidth(sess.Title, titleWidth), titleWidth),
			RenderConditional(DimStyle, fmt.Sprintf("%3d msgs", len(sess.Messages))),
			preview)
	}
}

// =============================================================================
// EXPORT
// =============================================================================

func newExportCommand(opts *globalOptions) *cobra.Command {
	var (
		format        string
		outputDir     string
		toStdout      bool
		includeErrors bool
	)

	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export the sessions of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, opts.verbose, false)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			key := document.KeyFor(args[0])
			sessions, err := a.store.Load(ctx, key)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no sessions stored for %s", key)
			}
			if err != nil {
				return err
			}

			exportOpts := export.DefaultOptions()
			exportOpts.IncludeErrors = includeErrors
			if outputDir != "" {
				exportOpts.OutputDir = outputDir
			}
			exporter, err := export.ForFormat(format, exportOpts)
			if err != nil {
				return err
			}

			doc := export.NewDocument(key, sessions)
			if toStdout {
				data, err := exporter.Export(doc)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			path, err := export.ExportToFile(doc, exporter, exportOpts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderConditional(SuccessStyle, "Exported to"), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "md", "output format (md, json, yaml)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "write to stdout instead of a file")
	cmd.Flags().BoolVar(&includeErrors, "include-errors", false, "include error messages")
	return cmd
}

// =============================================================================
// KEY
// =============================================================================

func newKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "key <path>",
		Short: "Print the document key sessions are stored under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := document.KeyFor(args[0])
			if key == "" {
				return errors.New("document path is empty")
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

// =============================================================================
// CONFIG
// =============================================================================

func newConfigCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (API key redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "get <key>",
		Short:     "Print one configuration value (e.g. backend.model)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.GetAllKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.FormatValue(v))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				p, err := config.ConfigPathTOML()
				if err != nil {
					return err
				}
				path = p
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				p, err := config.ConfigPathTOML()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderConditional(SuccessStyle, "Wrote"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}
