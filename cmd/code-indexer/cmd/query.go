package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/daemon"
	"github.com/jsbattig/code-indexer-sub032/internal/query"
	"github.com/jsbattig/code-indexer-sub032/internal/ui"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	kind          string
	limit         int
	language      string
	format        string
	extensions    []string
	excludeExts   []string
	paths         []string
	excludePaths  []string
	atCommit      string
	after         string
	before        string
	minScore      float32
	caseSensitive bool
	regex         bool
	local         bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase.

Kinds:
  semantic   Embedding similarity over chunk vectors (default)
  fts        Full-text keyword search
  hybrid     Semantic and full-text fused with reciprocal rank fusion
  temporal   Semantic search over indexed git history

Examples:
  code-indexer query "authentication middleware"
  code-indexer query "handleRequest" --kind fts --limit 5
  code-indexer query "retry logic" --kind hybrid --language go
  code-indexer query "old parser" --kind temporal --before 2025-01-01`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maybeProxy(cmd.Context(), "query", args)

			text := strings.Join(args, " ")
			var minScore *float32
			if cmd.Flags().Changed("min-score") {
				minScore = &opts.minScore
			}
			return runQuery(cmd.Context(), cmd, text, opts, minScore)
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "semantic", "Search kind: semantic, fts, hybrid, temporal")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g. go, python)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVar(&opts.extensions, "extension", nil, "Filter by file extension (repeatable)")
	cmd.Flags().StringSliceVar(&opts.excludeExts, "exclude-extension", nil, "Exclude file extensions (repeatable)")
	cmd.Flags().StringSliceVarP(&opts.paths, "path", "p", nil, "Filter by path glob (repeatable)")
	cmd.Flags().StringSliceVar(&opts.excludePaths, "exclude-path", nil, "Exclude path globs (repeatable)")
	cmd.Flags().StringVar(&opts.atCommit, "at-commit", "", "Temporal: restrict to content present at a commit")
	cmd.Flags().StringVar(&opts.after, "after", "", "Temporal: commits on or after this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&opts.before, "before", "", "Temporal: commits on or before this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().Float32Var(&opts.minScore, "min-score", 0, "Minimum similarity score (0.0 is an explicit threshold)")
	cmd.Flags().BoolVar(&opts.caseSensitive, "case-sensitive", false, "FTS: require exact-case content match")
	cmd.Flags().BoolVar(&opts.regex, "regex", false, "FTS: treat the query as a regular expression for content matching")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force local search (bypass daemon)")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, text string, opts queryOptions, minScore *float32) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	layout := projectLayout(root)

	filters, err := buildFilters(opts)
	if err != nil {
		return err
	}
	params := daemon.QueryParams{
		Query:    text,
		Kind:     opts.kind,
		Limit:    opts.limit,
		Filters:  filters,
		MinScore: minScore,
	}

	var resp *query.Response

	client := daemon.NewClient(layout.SocketPath())
	if !opts.local && client.IsRunning() {
		resp, err = client.Query(ctx, params)
		if err != nil {
			slog.Warn("daemon query failed, falling back to local", "error", err)
			resp = nil
		}
	}
	if resp == nil {
		d, derr := daemon.New(cfg, layout, slog.Default())
		if derr != nil {
			return derr
		}
		defer func() { _ = d.Close() }()
		resp, err = d.Query(ctx, params, "")
		if err != nil {
			return err
		}
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	ui.New(cmd.OutOrStdout(), quietMode).Results(text, resp.Results)
	return nil
}

func buildFilters(opts queryOptions) (query.Filters, error) {
	f := query.Filters{
		IncludeExtensions: opts.extensions,
		ExcludeExtensions: opts.excludeExts,
		IncludePaths:      opts.paths,
		ExcludePaths:      opts.excludePaths,
		Language:          opts.language,
		AtCommit:          opts.atCommit,
		CaseSensitive:     opts.caseSensitive,
		Regex:             opts.regex,
	}

	if opts.after != "" || opts.before != "" {
		tr := &query.TimeRange{}
		var err error
		if opts.after != "" {
			if tr.From, err = parseDate(opts.after); err != nil {
				return f, err
			}
		}
		if opts.before != "" {
			if tr.To, err = parseDate(opts.before); err != nil {
				return f, err
			}
		}
		f.TimeRange = tr
	}
	return f, nil
}

// parseDate accepts a bare date or a full RFC3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC3339)", s)
	}
	return t, nil
}
