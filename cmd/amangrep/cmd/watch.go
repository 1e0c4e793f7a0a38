package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amangrep/internal/index"
	"github.com/Aman-CERP/amangrep/internal/search"
)

func newWatchCmd() *cobra.Command {
	var (
		hidden   bool
		follow   bool
		noIgnore bool
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep the index live while files change",
		Long: `Build the index for a directory and keep it current: filesystem
events mark changed files dirty, a background pass re-catalogs them,
and periodic rescans catch anything the watcher missed.

Runs until interrupted. While it runs, searches from other processes
see a continuously reconciled index.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runWatch(cmd, path, index.Options{
				Hidden:   hidden,
				Follow:   follow,
				NoIgnore: noIgnore,
			})
		},
	}

	cmd.Flags().BoolVar(&hidden, "hidden", false, "Catalog hidden files and directories")
	cmd.Flags().BoolVarP(&follow, "follow", "L", false, "Follow symbolic links")
	cmd.Flags().BoolVar(&noIgnore, "no-ignore", false, "Do not respect .gitignore files")

	return cmd
}

func runWatch(cmd *cobra.Command, path string, opts index.Options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	cfg, err := loadConfig(abs)
	if err != nil {
		return err
	}
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

	h, err := manager.StartBackground(ctx, abs, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "watching %s (backend %s)\n", abs, backend.ID())

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := h.Status()
	fmt.Fprintf(out, "index: %s\n", formatStatus(last))
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "stopping")
			return nil
		case <-ticker.C:
			if st := h.Status(); st != last {
				fmt.Fprintf(out, "index: %s\n", formatStatus(st))
				last = st
			}
		}
	}
}

func formatStatus(st index.Status) string {
	if st.Reason != "" {
		return fmt.Sprintf("%s (%s)", st.State, st.Reason)
	}
	return string(st.State)
}
