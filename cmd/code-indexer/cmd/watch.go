package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/chunk"
	"github.com/jsbattig/code-indexer-sub032/internal/embed"
	"github.com/jsbattig/code-indexer-sub032/internal/pool"
	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
	"github.com/jsbattig/code-indexer-sub032/internal/temporal"
	"github.com/jsbattig/code-indexer-sub032/internal/ui"
	"github.com/jsbattig/code-indexer-sub032/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch git refs and keep the temporal index current",
		Long: `Watch the repository's git refs and index new commits as they
appear. Commits created while watching, and commits that become
reachable after a branch switch, are indexed without a restart.

Press Ctrl+C to stop gracefully; press it twice within a second to
force an immediate exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			maybeProxy(cmd.Context(), "watch", args)
			return runWatch(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	layout := projectLayout(root)
	out := ui.New(cmd.OutOrStdout(), quietMode)

	repo, err := temporal.OpenRepo(root)
	if err != nil {
		return err
	}

	embedder, err := embed.NewEmbedder(cfg.Embeddings)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	e := cfg.Embeddings
	backend, err := store.OpenBackend(cfg.Indexing.Backend,
		layout.TemporalCollectionDir(e), e.Dimensions,
		cfg.Indexing.ProjectionBits, cfg.Indexing.ProjectionSeed,
		e.Provider, e.Model, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	tp, err := progress.LoadTemporalProgress(layout.TemporalProgressPath(), e.Fingerprint())
	if err != nil {
		return err
	}

	ix := temporal.NewIndexer(repo,
		chunk.New(cfg.Chunking.ChunkSizeChars, cfg.Chunking.OverlapChars),
		pool.New(embedder, e.Concurrency, e.BatchSize),
		backend, tp, slog.Default())
	ix.MaxBlobSize = cfg.Indexing.MaxFileSize

	w := watcher.New(root, repo, ix, cfg.Watcher.PollInterval.Std(), slog.Default())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go handleInterrupts(cancel)

	out.Statusf("", "watching %s (poll every %s), Ctrl+C to stop", root, cfg.Watcher.PollInterval.Std())
	err = w.Run(runCtx, out.ProgressFunc())
	if errors.Is(err, context.Canceled) {
		out.Success("watcher stopped")
		return nil
	}
	return err
}

// handleInterrupts cancels on the first signal; a second signal within
// a second means the graceful path is stuck, so exit hard.
func handleInterrupts(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	<-sigs
	cancel()

	select {
	case <-sigs:
		os.Exit(1)
	case <-time.After(time.Second):
	}
}
