package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/manifest"
)

// initFlags holds the flag values for the init command.
type initFlags struct {
	Output string // --output manifest path
	Force  bool   // --force overwrites existing files
}

// configTemplate is the starter drover.toml written by init. It documents
// every key with its default so users can uncomment and tune.
const configTemplate = `[project]
name = %q
base_branch = "main"
runs_dir = ".drover/runs"
worktrees_dir = ".drover/worktrees"
parallelism = 3

[agent]
command = "claude"
# containerized = true
# image = "drover-agent:latest"
# compose_file = "compose.test.yml"
# env_file = ".env"
# service = "app"
# infra_services = "mysql,redis"
# author_name = "Drover Agent"
# author_email = "drover-agent@drover.dev"
`

// newInitCmd creates the "drover init" command.
func newInitCmd() *cobra.Command {
	var flags initFlags

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create a story manifest and config file",
		Long: `Walk through an interactive wizard that collects project metadata and
user stories, then writes a starter manifest and, if none exists yet, a
drover.toml with documented defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Output, "output", "stories.json", "Path for the generated manifest")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "Overwrite existing manifest and config files")

	return cmd
}

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func runInit(cmd *cobra.Command, flags initFlags) error {
	if !flags.Force {
		if _, err := os.Stat(flags.Output); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", flags.Output)
		}
	}

	m, err := manifest.RunWizard()
	if err != nil {
		return err
	}
	if errs := m.Validate(); len(errs) > 0 {
		return exitWithCode(2, fmt.Errorf("invalid manifest: %s", joinErrors(errs)))
	}

	if err := m.Save(flags.Output); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s with %d stories.\n", flags.Output, len(m.Stories))

	if _, err := os.Stat(config.ConfigFileName); err == nil && !flags.Force {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, leaving it untouched.\n", config.ConfigFileName)
		return nil
	}
	content := fmt.Sprintf(configTemplate, m.Project)
	if err := os.WriteFile(config.ConfigFileName, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", config.ConfigFileName, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s.\n", config.ConfigFileName)
	return nil
}
