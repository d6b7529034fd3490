package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/daemon"
	"github.com/jsbattig/code-indexer-sub032/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var noAutoStart bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tool interface over stdio",
		Long: `Serve search, fetch_cached_page, and index_status as MCP tools over
stdio for AI agents. Tool calls are bridged to the project daemon; if
the daemon is not running it is started in the background first.

Stdout carries only JSON-RPC traffic; diagnostics go to the log file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx, noAutoStart)
		},
	}

	cmd.Flags().BoolVar(&noAutoStart, "no-auto-start", false, "Do not start the daemon if it is down")
	return cmd
}

func runMCP(ctx context.Context, noAutoStart bool) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	layout := projectLayout(root)

	// No stdout writes from here on; the transport owns it.
	client := daemon.NewClient(layout.SocketPath())
	if !client.IsRunning() && !noAutoStart {
		if err := startDaemonSilently(root, client); err != nil {
			slog.Warn("daemon auto-start failed, tools will report it down", "error", err)
		}
	}

	srv, err := mcp.NewServer(layout.SocketPath(), cfg, root, slog.Default())
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// startDaemonSilently spawns a detached daemon without touching stdout.
func startDaemonSilently(root string, client *daemon.Client) error {
	execPath, err := os.Executable()
	if err != nil {
		return err
	}

	bgCmd := exec.Command(execPath, "start", "--foreground")
	bgCmd.Dir = root
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := bgCmd.Start(); err != nil {
		return err
	}
	go func() { _ = bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			return nil
		}
	}
	return fmt.Errorf("daemon did not come up within timeout")
}
