package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shadowlog/shadowlog/configs"
	"github.com/shadowlog/shadowlog/internal/config"
	"github.com/shadowlog/shadowlog/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage shadowlogd configuration files",
	}

	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var user, project, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write template configuration files",
		Long: `init writes the user-wide config template to
~/.config/shadowlog/config.yaml and/or a project config template to
.shadowlog.yaml in the working directory.

With no flags, both templates are written if their target doesn't
already exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !user && !project {
				user, project = true, true
			}
			return runConfigInit(cmd, user, project, force)
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Write only the user config template")
	cmd.Flags().BoolVar(&project, "project", false, "Write only the project config template")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

func runConfigInit(cmd *cobra.Command, user, project, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if user {
		path := config.GetUserConfigPath()
		if err := writeTemplate(path, configs.UserConfigTemplate, force); err != nil {
			return err
		}
		out.Success(fmt.Sprintf("wrote %s", path))
	}

	if project {
		path := filepath.Join(workDir, ".shadowlog.yaml")
		if err := writeTemplate(path, configs.ProjectConfigTemplate, force); err != nil {
			return err
		}
		out.Success(fmt.Sprintf("wrote %s", path))
	}

	return nil
}

func writeTemplate(path, content string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
