package cmd

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsbattig/code-indexer-sub032/internal/daemon"
	"github.com/jsbattig/code-indexer-sub032/internal/ui"
)

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the project daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			maybeProxy(cmd.Context(), "stop", args)
			return runStop(cmd)
		},
	}
	return cmd
}

func runStop(cmd *cobra.Command) error {
	root, _, err := loadProject()
	if err != nil {
		return err
	}
	layout := projectLayout(root)
	out := ui.New(cmd.OutOrStdout(), quietMode)

	pidFile := daemon.NewPIDFile(layout.PidPath())
	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read pid: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Success(fmt.Sprintf("Daemon stopped (was pid: %d)", pid))
			return nil
		}
	}

	out.Status("", "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	out.Success("Daemon killed")
	return nil
}
