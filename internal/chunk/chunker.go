// Package chunk splits file content into fixed-size overlapping chunks.
// Chunk boundaries never split a multibyte UTF-8 sequence. Boundaries are
// purely positional; an earlier AST-based chunker was removed because
// grammar coupling caused more bugs than positional drift ever did.
package chunk

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Chunk is a single retrievable slice of a file.
type Chunk struct {
	// Content is the chunk text.
	Content string
	// Index is the zero-based position of this chunk within the file.
	Index int
	// ByteStart and ByteEnd delimit the chunk in the original content
	// (end exclusive).
	ByteStart int
	ByteEnd   int
	// LineStart and LineEnd are 1-indexed, inclusive, best effort.
	LineStart int
	LineEnd   int
}

// Chunker produces fixed-size chunks with overlap.
type Chunker struct {
	chunkSize int // target chunk size in bytes
	overlap   int // bytes carried over between consecutive chunks
}

// New creates a Chunker. overlap must be smaller than size; callers validate
// via config, so out-of-range values are clamped here rather than rejected.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &Chunker{chunkSize: size, overlap: overlap}
}

// Split chunks content. Empty content yields no chunks. The next chunk
// start always strictly advances, so pathological size/overlap pairs over
// multibyte runes terminate instead of re-emitting the same chunk.
func (c *Chunker) Split(content string) []Chunk {
	if len(content) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0

	for start < len(content) {
		end := start + c.chunkSize
		if end >= len(content) {
			end = len(content)
		} else {
			end = alignToRune(content, end)
			if end <= start {
				// A rune wider than the chunk size; take it whole.
				end = nextRuneStart(content, start+1)
			}
		}

		text := content[start:end]
		chunks = append(chunks, Chunk{
			Content:   text,
			Index:     len(chunks),
			ByteStart: start,
			ByteEnd:   end,
			LineStart: 1 + strings.Count(content[:start], "\n"),
			LineEnd:   1 + strings.Count(content[:end-endNewline(text)], "\n"),
		})

		if end == len(content) {
			break
		}
		next := alignToRune(content, end-c.overlap)
		if next <= start {
			next = nextRuneStart(content, start+1)
		}
		start = next
	}

	return chunks
}

// alignToRune moves pos left until it sits on a rune boundary.
func alignToRune(s string, pos int) int {
	for pos > 0 && pos < len(s) && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}

// nextRuneStart moves pos right to the nearest rune boundary at or past it.
func nextRuneStart(s string, pos int) int {
	for pos < len(s) && !utf8.RuneStart(s[pos]) {
		pos++
	}
	return pos
}

// endNewline returns 1 if the chunk ends with a newline so the trailing
// empty line is not counted.
func endNewline(s string) int {
	if strings.HasSuffix(s, "\n") {
		return 1
	}
	return 0
}

// LanguageForPath maps a file extension to a language tag for payloads.
func LanguageForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cpp", ".hpp", ".cc":
		return "cpp"
	case ".cs":
		return "csharp"
	case ".rb":
		return "ruby"
	case ".rs":
		return "rust"
	case ".php":
		return "php"
	case ".swift":
		return "swift"
	case ".kt":
		return "kotlin"
	case ".scala":
		return "scala"
	case ".sh":
		return "shell"
	case ".sql":
		return "sql"
	case ".html":
		return "html"
	case ".css":
		return "css"
	case ".md":
		return "markdown"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	case ".xml":
		return "xml"
	default:
		return "text"
	}
}
