package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/daemon"
	"github.com/jsbattig/code-indexer-sub032/internal/fts"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
	"github.com/jsbattig/code-indexer-sub032/internal/ui"
)

// statusReport is the JSON shape of the status command.
type statusReport struct {
	Root          string               `json:"root"`
	DaemonRunning bool                 `json:"daemon_running"`
	Daemon        *daemon.StatusResult `json:"daemon,omitempty"`
	Index         *indexInfo           `json:"index,omitempty"`
	Temporal      *indexInfo           `json:"temporal,omitempty"`
	FTSDocs       uint64               `json:"fts_docs"`
	Consistency   *store.CheckResult   `json:"consistency,omitempty"`
}

// indexInfo describes one on-disk collection.
type indexInfo struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	Bits      int       `json:"bits"`
	CreatedAt time.Time `json:"created_at"`
	Points    int       `json:"points"`
}

func newStatusCmd() *cobra.Command {
	var (
		format string
		verify bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and index status",
		RunE: func(cmd *cobra.Command, args []string) error {
			maybeProxy(cmd.Context(), "status", args)
			return runStatus(cmd.Context(), cmd, format, verify)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&verify, "verify", false, "Run a collection consistency check")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, format string, verify bool) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	layout := projectLayout(root)

	report := statusReport{Root: root}

	client := daemon.NewClient(layout.SocketPath())
	if client.IsRunning() {
		if st, serr := client.Status(ctx); serr == nil {
			report.DaemonRunning = true
			report.Daemon = st
		}
	}

	report.Index = collectionInfo(layout.CollectionDir(cfg.Embeddings))
	report.Temporal = collectionInfo(layout.TemporalCollectionDir(cfg.Embeddings))

	if verify && report.Index != nil {
		check, verr := verifyCollection(layout.CollectionDir(cfg.Embeddings))
		if verr != nil {
			return verr
		}
		report.Consistency = check
	}

	// The daemon holds the FTS write lock while it runs; use its count.
	if report.Daemon != nil {
		report.FTSDocs = report.Daemon.FTSDocs
	} else if idx, ferr := fts.OpenOrCreate(layout.FTSDir(), nil); ferr == nil {
		if n, derr := idx.DocCount(); derr == nil {
			report.FTSDocs = n
		}
		_ = idx.Close()
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printStatus(ui.New(cmd.OutOrStdout(), quietMode), cfg, report)
	return nil
}

func verifyCollection(dir string) (*store.CheckResult, error) {
	col, err := store.OpenCollection(dir, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = col.Close() }()
	return col.CheckConsistency()
}

func collectionInfo(dir string) *indexInfo {
	col, err := store.OpenCollection(dir, nil)
	if err != nil {
		return nil
	}
	defer func() { _ = col.Close() }()

	meta := col.Meta()
	info := &indexInfo{
		Provider:  meta.Provider,
		Model:     meta.Model,
		Dim:       meta.Dim,
		Bits:      meta.Bits,
		CreatedAt: meta.CreatedAt,
	}
	if n, cerr := col.CountPoints(); cerr == nil {
		info.Points = n
	}
	return info
}

func printStatus(out *ui.Writer, cfg *config.Config, r statusReport) {
	out.Statusf("", "project: %s", r.Root)

	if r.Daemon != nil {
		out.Success(fmt.Sprintf("daemon running (pid %d, up %s)", r.Daemon.PID, r.Daemon.Uptime))
		if r.Daemon.Indexing {
			out.Status("", "indexing in progress")
			out.Slots(r.Daemon.Slots)
		}
		out.Statusf("", "sessions: %d, cache entries: %d", r.Daemon.Sessions, r.Daemon.CacheEntries)
	} else {
		out.Warning("daemon not running (start it with 'code-indexer start')")
	}

	if r.Index == nil {
		out.Warning("no index (run 'code-indexer index')")
	} else {
		out.Statusf("", "index: %d points, %s/%s dim=%d bits=%d created %s",
			r.Index.Points, r.Index.Provider, r.Index.Model,
			r.Index.Dim, r.Index.Bits, r.Index.CreatedAt.Format(time.RFC3339))
	}
	out.Statusf("", "full-text: %d documents", r.FTSDocs)

	if r.Temporal != nil {
		out.Statusf("", "temporal: %d points", r.Temporal.Points)
	} else if cfg.Indexing.Temporal {
		out.Status("", "temporal: enabled, not yet indexed")
	}

	if r.Consistency != nil {
		if r.Consistency.OK() {
			out.Success(fmt.Sprintf("consistency: %d records verified", r.Consistency.Checked))
		} else {
			out.Error(fmt.Sprintf("consistency: %d issues in %d records", len(r.Consistency.Issues), r.Consistency.Checked))
			for _, issue := range r.Consistency.Issues {
				out.Statusf("", "  %s %s: %s", issue.Kind, issue.ID, issue.Details)
			}
		}
	}
}
