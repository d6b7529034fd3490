package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/ui"
)

func newInitCmd() *cobra.Command {
	var (
		provider  string
		model     string
		dims      int
		proxyMode bool
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a project for indexing",
		Long: `Create the .code-indexer data directory and write a default
config.json. With --proxy-mode the project becomes a router over its
immediate child repositories instead of an indexed project itself.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}
			return runInit(cmd, abs, provider, model, dims, proxyMode, force)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Embedding provider: ollama, voyage, or static")
	cmd.Flags().StringVar(&model, "model", "", "Embedding model name")
	cmd.Flags().IntVar(&dims, "dimensions", 0, "Embedding dimensions")
	cmd.Flags().BoolVar(&proxyMode, "proxy-mode", false, "Initialize as a proxy over child repositories")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")

	return cmd
}

func runInit(cmd *cobra.Command, root, provider, model string, dims int, proxyMode, force bool) error {
	out := ui.New(cmd.OutOrStdout(), quietMode)

	if config.Exists(root) && !force {
		return fmt.Errorf("already initialized at %s (use --force to overwrite)", config.Path(root))
	}

	cfg := config.Default()
	if provider != "" {
		cfg.Embeddings.Provider = provider
	}
	if model != "" {
		cfg.Embeddings.Model = model
	}
	if dims > 0 {
		cfg.Embeddings.Dimensions = dims
	}

	if proxyMode {
		children, err := discoverChildren(root)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return fmt.Errorf("no child repositories found under %s", root)
		}
		cfg.Proxy.ProxyMode = true
		cfg.Proxy.Children = children
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(root, cfg); err != nil {
		return err
	}

	if proxyMode {
		out.Success(fmt.Sprintf("Initialized proxy over %d children at %s", len(cfg.Proxy.Children), config.Path(root)))
		for _, c := range cfg.Proxy.Children {
			out.Status("", "  "+c)
		}
		return nil
	}
	out.Success(fmt.Sprintf("Initialized %s", config.Path(root)))
	out.Statusf("", "provider: %s, model: %s, dimensions: %d",
		cfg.Embeddings.Provider, cfg.Embeddings.Model, cfg.Embeddings.Dimensions)
	out.Status("", "Run 'code-indexer index' to build the index.")
	return nil
}

// discoverChildren lists immediate subdirectories that look like
// indexable repositories: already initialized, or git repositories.
func discoverChildren(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	var children []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == config.DataDirName {
			continue
		}
		child := filepath.Join(root, e.Name())
		if fileExists(config.Path(child)) || fileExists(filepath.Join(child, ".git")) {
			children = append(children, e.Name())
		}
	}
	sort.Strings(children)
	return children, nil
}
