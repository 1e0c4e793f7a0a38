package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amangrep/internal/config"
	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
	"github.com/Aman-CERP/amangrep/internal/index"
	"github.com/Aman-CERP/amangrep/internal/search"
	"github.com/Aman-CERP/amangrep/internal/ui"
)

// searchOptions holds flags for the search command.
type searchOptions struct {
	globs       []string
	caseMode    string
	fixed       bool
	word        bool
	context     int
	maxResults  int
	timeoutMS   int
	fuzzy       int
	hidden      bool
	follow      bool
	noIgnore    bool
	noRecursive bool
	noIndex     bool
	stats       bool
	jsonOutput  bool
}

func newSearchCmd() *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <pattern> [path]",
		Short: "Search files with index-accelerated candidate exclusion",
		Long: `Search a file or directory tree for a pattern.

When a complete index covers the target, files that provably
cannot match are skipped before the backend runs. Without one,
the search degrades to a plain backend scan with identical
results.`,
		Example: `  # Search the current directory
  amangrep search 'func main'

  # Literal string, Go files only
  amangrep search -F 'TODO(alice)' -g '*.go' .

  # Approximate matching (requires ugrep)
  amangrep search -Z 2 recieve ./docs`,
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 1 {
				path = args[1]
			}
			err := runSearch(cmd, args[0], path, opts)
			if errors.Is(err, errNoMatches) {
				// Exit 1 without an error message, like grep.
				cmd.SilenceErrors = true
			}
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&opts.globs, "glob", "g", nil, "Include/exclude file glob (prefix ! to exclude, repeatable)")
	cmd.Flags().StringVar(&opts.caseMode, "case", "auto", "Case sensitivity: auto, sensitive, insensitive")
	cmd.Flags().BoolVarP(&opts.fixed, "fixed-strings", "F", false, "Treat pattern as a literal string")
	cmd.Flags().BoolVarP(&opts.word, "word-regexp", "w", false, "Match whole words only")
	cmd.Flags().IntVarP(&opts.context, "context", "C", 0, "Lines of context around each match")
	cmd.Flags().IntVarP(&opts.maxResults, "max-results", "n", 0, "Maximum matches to return (0 uses config default)")
	cmd.Flags().IntVar(&opts.timeoutMS, "timeout-ms", 0, "Search timeout in milliseconds (0 uses config default)")
	cmd.Flags().IntVarP(&opts.fuzzy, "fuzzy", "Z", 0, "Maximum edit distance for approximate matching (ugrep only)")
	cmd.Flags().BoolVar(&opts.hidden, "hidden", false, "Search hidden files and directories")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "L", false, "Follow symbolic links")
	cmd.Flags().BoolVar(&opts.noIgnore, "no-ignore", false, "Do not respect .gitignore files")
	cmd.Flags().BoolVar(&opts.noRecursive, "no-recursive", false, "Do not descend into subdirectories")
	cmd.Flags().BoolVar(&opts.noIndex, "no-index", false, "Skip the index and scan directly")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Report search statistics on stderr")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, pattern, path string, opts *searchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	cfg, err := loadConfigFor(abs)
	if err != nil {
		return err
	}
	defer setupLogging(cfg)()
	if opts.stats {
		cfg.Stats.Enabled = true
	}

	backend, err := search.Probe(ctx, cfg)
	if err != nil {
		return renderError(cmd.ErrOrStderr(), err)
	}

	var manager *index.Manager
	if !opts.noIndex {
		manager, err = index.NewManager(cfg, backend.ID())
		if err != nil {
			return err
		}
		defer manager.Close()
	}

	engine := search.NewEngine(cfg, backend, manager, nil)

	resp, err := engine.Search(ctx, search.Request{
		Pattern:      pattern,
		Path:         abs,
		Hidden:       opts.hidden,
		Follow:       opts.follow,
		NoIgnore:     opts.noIgnore,
		Glob:         opts.globs,
		Case:         search.CaseMode(opts.caseMode),
		FixedStrings: opts.fixed,
		WordRegexp:   opts.word,
		Context:      opts.context,
		MaxResults:   opts.maxResults,
		TimeoutMS:    opts.timeoutMS,
		Fuzzy:        opts.fuzzy,
		Recursive:    !opts.noRecursive,
	})
	if err != nil {
		return renderError(cmd.ErrOrStderr(), err)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		renderMatches(cmd.OutOrStdout(), resp)
		renderNotes(cmd.ErrOrStderr(), resp)
	}

	if resp.Stats != nil && opts.stats && !opts.jsonOutput {
		renderStats(cmd.ErrOrStderr(), resp.Stats)
	}

	if resp.Count == 0 {
		return errNoMatches
	}
	return nil
}

// loadConfigFor loads configuration for a search target, which may be
// a file or a directory.
func loadConfigFor(abs string) (*config.Config, error) {
	dir := abs
	if fi, err := os.Stat(abs); err == nil && !fi.IsDir() {
		dir = filepath.Dir(abs)
	}
	root, err := config.FindProjectRoot(dir)
	if err != nil {
		root = dir
	}
	return loadConfig(root)
}

// renderMatches prints results in grep-style path:line:col form, with
// context lines joined by dashes the way ripgrep prints them.
func renderMatches(out io.Writer, resp *search.Response) {
	styles := ui.GetStyles(!ui.IsTTY(out) || ui.DetectNoColor() || ui.DetectCI())
	for _, ev := range resp.Matches {
		switch ev.Kind {
		case search.KindMatch:
			fmt.Fprintf(out, "%s:%d:%d:%s\n", styles.Active.Render(ev.Path), ev.Line, ev.Column, ev.Text)
		default:
			fmt.Fprintf(out, "%s-%d-%s\n", styles.Dim.Render(ev.Path), ev.Line, ev.Text)
		}
	}
}

func renderNotes(errOut io.Writer, resp *search.Response) {
	if resp.TimedOut {
		fmt.Fprintln(errOut, "warning: search timed out; results are incomplete")
	} else if resp.Truncated {
		fmt.Fprintf(errOut, "note: output truncated at %d matches\n", resp.Count)
	}
}

func renderStats(errOut io.Writer, s *search.Stats) {
	fmt.Fprintf(errOut, "index: %s", s.IndexState)
	if s.UncertainReason != "" {
		fmt.Fprintf(errOut, " (%s)", s.UncertainReason)
	}
	fmt.Fprintln(errOut)
	if s.ExclusionUsed {
		fmt.Fprintf(errOut, "candidates: %d (%d excluded)\n", s.CandidateFiles, s.ExcludedFiles)
	} else if s.FallbackReason != "" {
		fmt.Fprintf(errOut, "fallback: %s\n", s.FallbackReason)
	}
	if len(s.FuzzyLevelsTried) > 0 {
		fmt.Fprintf(errOut, "fuzzy levels tried: %v\n", s.FuzzyLevelsTried)
	}
	fmt.Fprintf(errOut, "backend: %s (%dms of %dms total)\n", s.BackendFamily, s.BackendElapsedMS, s.ElapsedMS)
}

// renderError surfaces the suggestion carried by classified errors
// before handing the error back to cobra.
func renderError(errOut io.Writer, err error) error {
	var ge *amerrors.GrepError
	if errors.As(err, &ge) && ge.Suggestion != "" {
		fmt.Fprintf(errOut, "hint: %s\n", ge.Suggestion)
	}
	return err
}
