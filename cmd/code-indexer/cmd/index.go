package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/daemon"
	"github.com/jsbattig/code-indexer-sub032/internal/index"
	"github.com/jsbattig/code-indexer-sub032/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		clear     bool
		reconcile bool
		resume    bool
		temporal  bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the search index",
		Long: `Index the project for searching. The default mode is incremental:
only files whose size or mtime changed since the last run are re-read.

Modes:
  (default)     Incremental update from the progress file
  --clear       Drop the collection and rebuild from scratch
  --reconcile   Trust the stored index, re-verify every file on disk
  --resume      Continue an interrupted run from its checkpoint

With --temporal (or temporal enabled in config) a git-history pass
indexes every commit reachable from HEAD that is not yet indexed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mode, err := pickMode(clear, reconcile, resume)
			if err != nil {
				return err
			}
			return runIndex(ctx, cmd, daemon.IndexParams{Mode: mode, Temporal: temporal})
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Clear existing index and rebuild from scratch")
	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "Re-verify every file against the stored index")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume an interrupted run")
	cmd.Flags().BoolVar(&temporal, "temporal", false, "Also index git history")

	return cmd
}

func pickMode(clear, reconcile, resume bool) (string, error) {
	set := 0
	mode := string(index.ModeIncremental)
	if clear {
		set++
		mode = string(index.ModeClear)
	}
	if reconcile {
		set++
		mode = string(index.ModeReconcile)
	}
	if resume {
		set++
		mode = string(index.ModeResume)
	}
	if set > 1 {
		return "", fmt.Errorf("--clear, --reconcile, and --resume are mutually exclusive")
	}
	return mode, nil
}

func runIndex(ctx context.Context, cmd *cobra.Command, params daemon.IndexParams) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	layout := projectLayout(root)
	out := ui.New(cmd.OutOrStdout(), quietMode)

	var result *daemon.IndexResult

	client := daemon.NewClient(layout.SocketPath())
	if client.IsRunning() {
		slog.Info("indexing via daemon", "root", root, "mode", params.Mode)
		result, err = client.Index(ctx, params, out.ProgressFunc())
	} else {
		slog.Info("indexing locally", "root", root, "mode", params.Mode)
		var d *daemon.Daemon
		d, err = daemon.New(cfg, layout, slog.Default())
		if err != nil {
			return err
		}
		defer func() { _ = d.Close() }()

		var r daemon.IndexResult
		r, err = d.Index(ctx, params, out.ProgressFunc())
		result = &r
	}
	if err != nil {
		return err
	}

	if result.Status == daemon.IndexAlreadyRunning {
		out.Warning("an indexing run is already in progress")
		return nil
	}

	st := result.Stats
	if st == nil {
		out.Success("Indexing complete")
		return nil
	}
	out.Success(fmt.Sprintf("Indexed %d files (%d skipped, %d failed, %d removed), %d points in %s",
		st.FilesIndexed, st.FilesSkipped, st.FilesFailed, st.FilesRemoved,
		st.PointsWritten, st.Duration.Round(durationPrecision)))
	return nil
}
