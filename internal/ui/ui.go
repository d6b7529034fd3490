// Package ui provides consistent CLI output formatting: status lines,
// progress rendering, slot display, and numbered query results.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/query"
	"github.com/jsbattig/code-indexer-sub032/internal/slots"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
)

// Writer provides formatted output for the CLI. On a terminal,
// progress renders in place; otherwise every event prints on its own
// line so logs stay readable.
type Writer struct {
	out   io.Writer
	tty   bool
	quiet bool
}

// New creates a writer, detecting whether out is a terminal.
func New(out io.Writer, quiet bool) *Writer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Writer{out: out, tty: tty, quiet: quiet}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) { w.Status("✅", msg) }

// Warning prints a warning message.
func (w *Writer) Warning(msg string) { w.Status("⚠️ ", msg) }

// Error prints an error message.
func (w *Writer) Error(msg string) { w.Status("❌", msg) }

// Newline prints an empty line.
func (w *Writer) Newline() { _, _ = fmt.Fprintln(w.out) }

// Progress renders one progress event. Setup messages (total == 0)
// print as status lines; progress events render a bar on a terminal
// and a plain current/total line elsewhere.
func (w *Writer) Progress(current, total int, filePath, info string) {
	if total <= 0 {
		if !w.quiet && info != "" {
			w.Status("", info)
		}
		return
	}
	if w.quiet {
		return
	}

	msg := filePath
	if info != "" {
		msg = fmt.Sprintf("%s (%s)", filePath, info)
	}

	if w.tty {
		pct := float64(current) / float64(total) * 100
		bar := renderProgressBar(current, total, 30)
		_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %d/%d %s", bar, pct, current, total, msg)
		if current >= total {
			_, _ = fmt.Fprintln(w.out)
		}
		return
	}
	_, _ = fmt.Fprintf(w.out, "%d/%d %s\n", current, total, msg)
}

// ProgressFunc adapts the writer to the indexer callback signature.
func (w *Writer) ProgressFunc() progress.Func {
	return func(current, total int, filePath, info string) {
		w.Progress(current, total, filePath, info)
	}
}

// Results prints numbered query results. Every display mode carries
// the "N." match prefix; quiet mode drops scores and snippets but
// keeps the numbering.
func (w *Writer) Results(queryStr string, results []query.Result) {
	if len(results) == 0 {
		w.Statusf("", "No results found for %q", queryStr)
		return
	}

	if !w.quiet {
		w.Statusf("🔍", "Found %d results for %q:", len(results), queryStr)
		w.Newline()
	}

	for _, r := range results {
		location := r.Path
		if ls, ok := numericPayload(r.Payload[store.KeyLineStart]); ok && ls > 0 {
			location = fmt.Sprintf("%s:%d", r.Path, ls)
		}

		if w.quiet {
			_, _ = fmt.Fprintf(w.out, "%d. %s\n", r.Rank, location)
			continue
		}

		w.Statusf("", "%d. %s (score: %.3f)", r.Rank, location, r.Score)
		for _, line := range snippet(resultBody(r.Payload), 3) {
			w.Status("", "   "+line)
		}
		w.Newline()
	}
}

// Slots renders the live slot display, one line per occupied slot.
func (w *Writer) Slots(snapshot []slots.Slot) {
	for _, s := range snapshot {
		if !s.Occupied {
			continue
		}
		w.Statusf("", "slot %d: %s [%s] %s", s.Index, s.Label, s.Status, s.Info)
	}
}

// resultBody picks the displayable body from a payload, falling back
// through the truncated preview variants.
func resultBody(payload map[string]any) string {
	for _, key := range []string{
		store.KeyContent, store.KeyCodeSnippet, store.KeyMatchText,
		store.KeyContent + "_preview", store.KeyCodeSnippet + "_preview", store.KeyMatchText + "_preview",
	} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func numericPayload(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// snippet returns the first n non-trailing-blank lines of content.
func snippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
