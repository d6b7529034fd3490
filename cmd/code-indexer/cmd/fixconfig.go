package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/ui"
)

func newFixConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix-config",
		Short: "Repair missing or invalid config fields",
		Long: `Rewrite config.json with defaults filled in for any missing or
invalid fields.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			maybeProxy(cmd.Context(), "fix-config", args)
			return runFixConfig(cmd)
		},
	}
	return cmd
}

func runFixConfig(cmd *cobra.Command) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	out := ui.New(cmd.OutOrStdout(), quietMode)

	repaired, err := config.Repair(root)
	if err != nil {
		return err
	}
	if len(repaired) == 0 {
		out.Success("config is valid, nothing to repair")
		return nil
	}

	out.Success(fmt.Sprintf("repaired %d sections in %s", len(repaired), config.Path(root)))
	for _, section := range repaired {
		out.Status("", "  "+section)
	}
	return nil
}
