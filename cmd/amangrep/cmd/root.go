// Package cmd provides the CLI commands for amangrep.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amangrep/internal/config"
	"github.com/Aman-CERP/amangrep/internal/logging"
	"github.com/Aman-CERP/amangrep/internal/profiling"
	"github.com/Aman-CERP/amangrep/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// Config override flags
var (
	configPath string
	logLevel   string
)

// errNoMatches signals a clean search that found nothing; it maps to
// exit code 1 the way grep does, without an error message.
var errNoMatches = errors.New("no matches found")

// NewRootCmd creates the root command for the amangrep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amangrep",
		Short: "Index-accelerated search over local trees",
		Long: `amangrep fronts ripgrep or ugrep with a local candidate index.

A background catalog of per-file filters lets repeated searches skip
files that provably cannot match, without changing what a search
returns. When no usable index exists, searches fall back to a plain
backend scan.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("amangrep version {{.Version}}\n")

	// Profiling flags
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	// Debug logging flag
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.amangrep/logs/")

	// Config override flags
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Explicit config file (skips project discovery)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and debug logging if flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging, writes memory profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// setupLogging installs file logging per the loaded configuration.
// Under --debug the persistent hook has already configured a more
// verbose logger, so this becomes a no-op.
func setupLogging(cfg *config.Config) func() {
	if debugMode {
		return func() {}
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
	if cfg.Logging.MaxSizeMB > 0 {
		logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxFiles > 0 {
		logCfg.MaxFiles = cfg.Logging.MaxFiles
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return func() {}
	}
	slog.SetDefault(logger)
	return cleanup
}

// loadConfig resolves configuration for a command working against dir,
// honoring the --config override.
func loadConfig(dir string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load(dir)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// ExecuteWithCode runs the root command and maps the outcome to a grep
// style process exit code: 0 matches (or success), 1 clean no-match
// search, 2 anything else.
func ExecuteWithCode() int {
	err := NewRootCmd().Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errNoMatches):
		return 1
	default:
		return 2
	}
}
