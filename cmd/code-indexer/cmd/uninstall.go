package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/daemon"
	"github.com/jsbattig/code-indexer-sub032/internal/ui"
)

func newUninstallCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove all index data for this project",
		Long: `Stop the daemon if it is running and delete the project's
.code-indexer directory: config, indices, caches, and logs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			maybeProxy(cmd.Context(), "uninstall", args)
			return runUninstall(cmd, yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func runUninstall(cmd *cobra.Command, yes bool) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	if !config.Exists(root) {
		return fmt.Errorf("nothing to uninstall at %s", root)
	}
	out := ui.New(cmd.OutOrStdout(), quietMode)
	dataDir := config.DataDir(root)

	if !yes {
		out.Statusf("", "This removes %s entirely. Re-run with --yes to confirm.", dataDir)
		return nil
	}

	layout := projectLayout(root)
	if daemon.NewPIDFile(layout.PidPath()).IsRunning() {
		if err := runStop(cmd); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dataDir, err)
	}
	out.Success(fmt.Sprintf("removed %s", dataDir))
	return nil
}
