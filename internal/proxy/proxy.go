// Package proxy fans a CLI command out to the child repositories of a
// proxy-mode project and aggregates their outputs and exit codes.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// Aggregate exit codes.
const (
	ExitOK          = 0
	ExitAllFailed   = 1
	ExitPartial     = 2
	ExitUnsupported = 3
)

// DefaultWorkers bounds parallel child execution.
const DefaultWorkers = 10

// supportedCommands is the set a proxy project can fan out.
var supportedCommands = map[string]bool{
	"query":      true,
	"status":     true,
	"start":      true,
	"stop":       true,
	"uninstall":  true,
	"fix-config": true,
	"watch":      true,
}

// IsSupported reports whether a command can run in proxy mode.
func IsSupported(command string) bool { return supportedCommands[command] }

// SupportedList returns the supported commands in sorted order.
func SupportedList() []string {
	cmds := make([]string, 0, len(supportedCommands))
	for c := range supportedCommands {
		cmds = append(cmds, c)
	}
	sort.Strings(cmds)
	return cmds
}

// ChildResult captures one child invocation.
type ChildResult struct {
	Path     string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Aggregate is the combined outcome of a proxied command.
type Aggregate struct {
	Results  []ChildResult
	Output   string
	ExitCode int
}

// Router executes commands across child repositories.
type Router struct {
	root     string
	children []string
	workers  int
	log      *slog.Logger

	// binary is the executable invoked per child; defaults to the
	// running binary.
	binary string
}

// NewRouter builds a router from a proxy-mode config. Child paths are
// resolved relative to the project root.
func NewRouter(cfg *config.Config, root string, log *slog.Logger) (*Router, error) {
	if !cfg.Proxy.ProxyMode {
		return nil, ierr.InvalidInput("project is not in proxy mode")
	}
	if len(cfg.Proxy.Children) == 0 {
		return nil, ierr.InvalidInput("proxy mode requires at least one child repository")
	}

	workers := cfg.Proxy.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	binary, err := os.Executable()
	if err != nil {
		binary = os.Args[0]
	}

	children := make([]string, len(cfg.Proxy.Children))
	for i, c := range cfg.Proxy.Children {
		if filepath.IsAbs(c) {
			children[i] = c
		} else {
			children[i] = filepath.Join(root, c)
		}
	}

	return &Router{root: root, children: children, workers: workers, log: log, binary: binary}, nil
}

// SetBinary overrides the executable run in each child.
func (r *Router) SetBinary(path string) { r.binary = path }

// Execute fans the command out to every child in parallel and folds
// the results. Child outputs keep the configured order regardless of
// completion order. Unsupported commands fail fast with exit code 3.
func (r *Router) Execute(ctx context.Context, command string, args []string) (*Aggregate, error) {
	if !IsSupported(command) {
		msg := fmt.Sprintf(
			"command %q is not supported in proxy mode; supported commands: %s. cd into a specific child repository to run it directly",
			command, strings.Join(SupportedList(), ", "))
		return &Aggregate{ExitCode: ExitUnsupported, Output: msg},
			ierr.New(ierr.ErrCodeUnsupportedProxyCmd, msg, nil)
	}

	results := make([]ChildResult, len(r.children))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, child := range r.children {
		i, child := i, child
		g.Go(func() error {
			results[i] = r.runChild(gctx, child, command, args)
			return nil
		})
	}
	_ = g.Wait()

	agg := &Aggregate{Results: results}
	var out strings.Builder
	succeeded, failed := 0, 0
	for _, res := range results {
		if res.ExitCode == 0 {
			succeeded++
			out.WriteString(res.Stdout)
			continue
		}
		failed++
		out.WriteString(res.Stdout)
		fmt.Fprintf(&out, "ERROR in %s\n%s\n", res.Path, strings.TrimRight(res.Stderr, "\n"))
	}
	agg.Output = out.String()

	switch {
	case failed == 0:
		agg.ExitCode = ExitOK
	case succeeded == 0:
		agg.ExitCode = ExitAllFailed
	default:
		agg.ExitCode = ExitPartial
	}

	if r.log != nil {
		r.log.Info("proxy command finished",
			"command", command, "children", len(r.children),
			"succeeded", succeeded, "failed", failed, "exit_code", agg.ExitCode)
	}
	return agg, nil
}

// runChild executes one child invocation and captures its streams.
func (r *Router) runChild(ctx context.Context, child, command string, args []string) ChildResult {
	cmd := exec.CommandContext(ctx, r.binary, append([]string{command}, args...)...)
	cmd.Dir = child

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := ChildResult{Path: child}
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = ExitAllFailed
			fmt.Fprintln(&stderr, err.Error())
		}
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}
