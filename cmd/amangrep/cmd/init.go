package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amangrep/configs"
	"github.com/Aman-CERP/amangrep/internal/config"
)

func newInitCmd() *cobra.Command {
	var (
		userConfig bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example configuration file",
		Long: `Write a commented example configuration.

By default this creates .amangrep.yaml in the target directory with
project-level settings. With --user it creates the machine-level
config under ~/.config/amangrep/ instead.`,
		Example: `  # Project config in the current directory
  amangrep init

  # Machine-level config
  amangrep init --user`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runInit(cmd, path, userConfig, force)
		},
	}

	cmd.Flags().BoolVar(&userConfig, "user", false, "Write the user-level config instead of a project config")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, path string, userConfig, force bool) error {
	var target, template string
	if userConfig {
		target = config.GetUserConfigPath()
		template = configs.UserConfigTemplate
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		target = filepath.Join(abs, ".amangrep.yaml")
		template = configs.ProjectConfigTemplate
	}

	if !force {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", target)
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(target, []byte(template), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	cmd.Printf("Wrote %s\n", target)
	return nil
}
