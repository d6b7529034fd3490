// Package cmd provides the CLI commands for code-indexer.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/index"
	"github.com/jsbattig/code-indexer-sub032/internal/logging"
	"github.com/jsbattig/code-indexer-sub032/internal/proxy"
	"github.com/jsbattig/code-indexer-sub032/pkg/version"
)

var (
	debugMode      bool
	quietMode      bool
	loggingCleanup func()
)

// durationPrecision rounds durations in human-facing summaries.
const durationPrecision = 10 * time.Millisecond

// NewRootCmd creates the root command for the code-indexer CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code-indexer",
		Short: "Semantic code search over local repositories",
		Long: `code-indexer builds and queries a local search index over a codebase:
semantic (embedding) search, full-text search, hybrid fusion, and
git-history (temporal) search.

Run 'code-indexer init' in a project, 'code-indexer index' to build the
index, and 'code-indexer query' to search it. A per-project daemon keeps
the index warm; agents connect over MCP via 'code-indexer mcp'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("code-indexer version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr")
	cmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Suppress progress and decorative output")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newFixConfigCmd())
	cmd.AddCommand(newUninstallCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging routes CLI logs to the project log file, teeing to
// stderr in debug mode. Commands running before init fall back to a
// stderr-only logger.
func setupLogging(_ *cobra.Command, _ []string) error {
	root, err := findRoot()
	if err != nil || !config.Exists(root) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cliLogLevel(),
		})))
		return nil
	}

	logCfg := logging.DefaultConfig(config.DataDir(root))
	if debugMode {
		logCfg = logging.DebugConfig(config.DataDir(root))
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

func cliLogLevel() slog.Level {
	if debugMode {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// findRoot locates the project root: the nearest ancestor carrying a
// .code-indexer directory, falling back to the working directory.
func findRoot() (string, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		return os.Getwd()
	}
	return root, nil
}

// loadProject resolves the root and its config; most commands need both.
func loadProject() (string, *config.Config, error) {
	root, err := findRoot()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	return root, cfg, nil
}

func projectLayout(root string) index.Layout {
	return index.NewLayout(root)
}

// maybeProxy intercepts command execution in a proxy-mode project. The
// supported set fans out to the children and the process exits with the
// aggregate code; anything else exits 3 with guidance. Non-proxy
// projects fall through to normal execution.
func maybeProxy(ctx context.Context, command string, args []string) {
	root, err := findRoot()
	if err != nil || !config.Exists(root) {
		return
	}
	cfg, err := config.Load(root)
	if err != nil || !cfg.Proxy.ProxyMode {
		return
	}

	router, err := proxy.NewRouter(cfg, root, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "proxy configuration invalid: %v\n", err)
		os.Exit(1)
	}

	agg, err := router.Execute(ctx, command, args)
	if agg.Output != "" {
		fmt.Print(agg.Output)
	}
	if err != nil && agg.ExitCode == proxy.ExitUnsupported {
		os.Exit(proxy.ExitUnsupported)
	}
	os.Exit(agg.ExitCode)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
