package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amangrep/internal/index"
	"github.com/Aman-CERP/amangrep/internal/search"
	"github.com/Aman-CERP/amangrep/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		hidden     bool
		follow     bool
		noIgnore   bool
	)

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show index state for a directory",
		Long: `Show the safety state, storage mode, and catalog size of the
index covering a directory. Scope flags must match the ones the
index was built with, since they are part of its identity.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runStatus(cmd, path, index.Options{
				Hidden:   hidden,
				Follow:   follow,
				NoIgnore: noIgnore,
			}, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&hidden, "hidden", false, "Scope includes hidden files")
	cmd.Flags().BoolVarP(&follow, "follow", "L", false, "Scope follows symbolic links")
	cmd.Flags().BoolVar(&noIgnore, "no-ignore", false, "Scope ignores .gitignore files")

	return cmd
}

func runStatus(cmd *cobra.Command, path string, opts index.Options, jsonOutput bool) error {
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

	backend, err := search.Probe(ctx, cfg)
	if err != nil {
		return renderError(cmd.ErrOrStderr(), err)
	}

	manager, err := index.NewManager(cfg, backend.ID())
	if err != nil {
		return err
	}
	defer manager.Close()

	h, err := manager.Acquire(ctx, abs, opts)
	if err != nil {
		return err
	}

	st := h.Status()
	info := ui.StatusInfo{
		Root:        abs,
		State:       string(st.State),
		Reason:      string(st.Reason),
		StorageMode: string(h.StorageMode()),
		Epoch:       h.Epoch(),
		Backend:     backend.ID(),
	}

	if n, err := h.Store().DirtyCount(ctx); err == nil {
		info.DirtyCount = int(n)
	}
	if meta, err := h.Store().Meta(ctx); err == nil && meta != nil {
		info.LastUpdated = meta.UpdatedAt
	}
	if snap, err := h.Store().OpenSnapshot(ctx); err == nil {
		for _, f := range snap.Files() {
			info.TotalFiles++
			info.TotalBytes += f.Size
		}
		_ = snap.Release()
	}

	out := cmd.OutOrStdout()
	renderer := ui.NewStatusRenderer(out, !ui.IsTTY(out) || ui.DetectNoColor() || ui.DetectCI())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}
