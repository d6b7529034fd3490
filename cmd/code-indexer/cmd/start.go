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

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/daemon"
	"github.com/jsbattig/code-indexer-sub032/internal/logging"
	"github.com/jsbattig/code-indexer-sub032/internal/ui"
)

func newStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the project daemon",
		Long: `Start the per-project daemon. The daemon keeps the embedder and
indices warm and serves queries over a unix socket; the CLI and MCP
server route through it automatically while it runs.

By default the daemon detaches into the background. Use --foreground
for debugging or to see logs in real time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			maybeProxy(cmd.Context(), "start", args)
			return runStart(cmd.Context(), cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func runStart(ctx context.Context, cmd *cobra.Command, foreground bool) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	layout := projectLayout(root)
	out := ui.New(cmd.OutOrStdout(), quietMode)

	client := daemon.NewClient(layout.SocketPath())
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if foreground {
		return runForeground(ctx, out, cfg, root)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "start", "--foreground")
	bgCmd.Dir = root
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child if it dies early, and surface the failure instead
	// of waiting out the whole timeout.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case werr := <-done:
			if werr != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", werr)
			}
			return fmt.Errorf("daemon process exited unexpectedly")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Success(fmt.Sprintf("Daemon started (pid: %d)", bgCmd.Process.Pid))
			return nil
		}
	}
	return fmt.Errorf("daemon failed to start within timeout")
}

func runForeground(ctx context.Context, out *ui.Writer, cfg *config.Config, root string) error {
	layout := projectLayout(root)

	logCfg := logging.DefaultConfig(config.DataDir(root))
	logCfg.Level = cfg.LogLevel
	if debugMode {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	pidFile := daemon.NewPIDFile(layout.PidPath())
	if err := pidFile.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pidFile.Release() }()

	d, err := daemon.New(cfg, layout, logger)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	out.Status("", "Starting daemon in foreground...")
	out.Statusf("", "Socket: %s", layout.SocketPath())
	out.Status("", "Press Ctrl+C to stop")

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := daemon.NewServer(layout.SocketPath(), d)
	err = srv.ListenAndServe(runCtx)
	if err == context.Canceled {
		err = nil
	}
	logger.Info("daemon stopped")
	return err
}
