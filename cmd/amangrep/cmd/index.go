package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amangrep/internal/index"
	"github.com/Aman-CERP/amangrep/internal/search"
	"github.com/Aman-CERP/amangrep/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		hidden   bool
		follow   bool
		noIgnore bool
		noColor  bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build the search index for a directory",
		Long: `Build the candidate index for a directory and wait for it
to finish. Subsequent searches over the same tree can then skip
files that provably cannot match.

Indexing normally happens in the background on first search; this
command forces a full build up front.`,
		Example: `  # Index the current project
  amangrep index

  # Index a specific tree, including hidden files
  amangrep index --hidden ~/src/big-repo`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd, path, index.Options{
				Hidden:   hidden,
				Follow:   follow,
				NoIgnore: noIgnore,
			}, noColor)
		},
	}

	cmd.Flags().BoolVar(&hidden, "hidden", false, "Catalog hidden files and directories")
	cmd.Flags().BoolVarP(&follow, "follow", "L", false, "Follow symbolic links")
	cmd.Flags().BoolVar(&noIgnore, "no-ignore", false, "Do not respect .gitignore files")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runIndex(cmd *cobra.Command, path string, opts index.Options, noColor bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if fi, err := os.Stat(abs); err != nil {
		return fmt.Errorf("stat %s: %w", abs, err)
	} else if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	cfg, err := loadConfig(abs)
	if err != nil {
		return err
	}
	// The explicit build bypasses the size thresholds used for
	// search-triggered admission.
	cfg.Index.Mode = "on"
	defer setupLogging(cfg)()

	backend, err := search.Probe(ctx, cfg)
	if err != nil {
		return renderError(cmd.ErrOrStderr(), err)
	}

	manager, err := index.NewManager(cfg, backend.ID())
	if err != nil {
		return err
	}
	defer manager.Close()

	start := time.Now()
	h, err := manager.StartBackground(ctx, abs, opts)
	if err != nil {
		return err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithNoColor(noColor)))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	done := make(chan error, 1)
	go func() { done <- h.Builder().Wait() }()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var buildErr error
poll:
	for {
		select {
		case <-ctx.Done():
			h.Builder().Stop()
			buildErr = <-done
			break poll
		case buildErr = <-done:
			break poll
		case <-ticker.C:
			if p := h.Builder().Progress(); p != nil {
				renderer.UpdateProgress(ui.ProgressEvent{
					Stage:       ui.StageFromPhase(p.Phase),
					Current:     p.FilesDone,
					Total:       p.FilesTotal,
					CurrentFile: p.LastFile,
				})
			}
		}
	}

	if buildErr != nil && ctx.Err() == nil {
		return fmt.Errorf("index build failed: %w", buildErr)
	}

	stats := ui.CompletionStats{
		Duration: time.Since(start),
		State:    string(h.Status().State),
		Backend:  backend.ID(),
	}
	if p := h.Builder().Progress(); p != nil {
		stats.Files = p.FilesDone
		stats.Bytes = p.BytesTokenized
	}
	renderer.Complete(stats)

	if ctx.Err() != nil {
		return context.Canceled
	}
	return nil
}
