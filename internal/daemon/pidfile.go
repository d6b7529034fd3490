package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// PIDFile manages the daemon's pid file. The advisory lock next to it
// guarantees a single daemon per project even when a crash leaves a
// stale pid behind.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// NewPIDFile creates a pid file manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the pid file path.
func (p *PIDFile) Path() string { return p.path }

// Acquire takes the daemon lock and records the current pid. It fails
// when another daemon already holds the lock.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	locked, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		pid, _ := p.Read()
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = p.lock.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Release removes the pid file and drops the lock.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return p.lock.Unlock()
}

// Read reads the recorded pid.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file: %w", err)
	}
	return pid, nil
}

// IsRunning reports whether the recorded process is alive.
func (p *PIDFile) IsRunning() bool {
	pid, err := p.Read()
	if err != nil {
		return false
	}
	return processExists(pid)
}

// Signal sends a signal to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("read pid: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// processExists probes with signal 0; on unix FindProcess always
// succeeds, only the signal reveals liveness.
func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
