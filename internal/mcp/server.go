// Package mcp exposes the indexer to AI agents over the Model Context
// Protocol. The server is a thin bridge: every tool call travels to the
// project daemon through its unix-socket client, tagged with a session
// id so the daemon's session registry tracks agent liveness.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jsbattig/code-indexer-sub032/internal/config"
	"github.com/jsbattig/code-indexer-sub032/internal/daemon"
	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
	"github.com/jsbattig/code-indexer-sub032/internal/query"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
	"github.com/jsbattig/code-indexer-sub032/pkg/version"
)

// Server bridges MCP clients with the project daemon.
type Server struct {
	mcp       *mcp.Server
	client    *daemon.Client
	cfg       *config.Config
	rootPath  string
	sessionID string
	logger    *slog.Logger
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the search query to execute"`
	Kind       string   `json:"kind,omitempty" jsonschema:"search kind: semantic, fts, hybrid, or temporal (default semantic)"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Language   string   `json:"language,omitempty" jsonschema:"filter by programming language, e.g. go, python"`
	Extensions []string `json:"extensions,omitempty" jsonschema:"filter by file extensions, e.g. .go"`
	Paths      []string `json:"paths,omitempty" jsonschema:"filter by path glob patterns (OR logic)"`
	MinScore   *float32 `json:"min_score,omitempty" jsonschema:"minimum similarity score; 0.0 is an explicit threshold, omit for none"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"list of search results"`
}

// SearchResultOutput is a single search result. Bodies longer than the
// preview size arrive truncated with a cache handle for paged retrieval
// through fetch_cached_page.
type SearchResultOutput struct {
	Rank        int     `json:"rank" jsonschema:"1-based match number"`
	FilePath    string  `json:"file_path" jsonschema:"file path relative to project root"`
	Score       float64 `json:"score" jsonschema:"relevance score"`
	LineStart   int     `json:"line_start,omitempty" jsonschema:"first line of the matched chunk"`
	LineEnd     int     `json:"line_end,omitempty" jsonschema:"last line of the matched chunk"`
	Language    string  `json:"language,omitempty" jsonschema:"programming language of the file"`
	Content     string  `json:"content,omitempty" jsonschema:"matched content, possibly a truncated preview"`
	CacheHandle string  `json:"cache_handle,omitempty" jsonschema:"handle for fetching the full body via fetch_cached_page"`
	HasMore     bool    `json:"has_more,omitempty" jsonschema:"true when content is a truncated preview"`
}

// FetchPageInput defines the input schema for the fetch_cached_page tool.
type FetchPageInput struct {
	Handle string `json:"handle" jsonschema:"cache handle from a search result"`
	Page   int    `json:"page,omitempty" jsonschema:"0-based page number, default 0"`
}

// FetchPageOutput is one page of a cached body.
type FetchPageOutput struct {
	Content    string `json:"content" jsonschema:"page content"`
	Page       int    `json:"page" jsonschema:"0-based page number"`
	TotalPages int    `json:"total_pages" jsonschema:"total page count"`
	HasMore    bool   `json:"has_more" jsonschema:"true when more pages follow"`
}

// IndexStatusInput defines the (empty) input schema for index_status.
type IndexStatusInput struct{}

// IndexStatusOutput reports whether the daemon is up and what it holds.
type IndexStatusOutput struct {
	DaemonRunning bool   `json:"daemon_running" jsonschema:"true when the project daemon is reachable"`
	PID           int    `json:"pid,omitempty" jsonschema:"daemon process id"`
	Uptime        string `json:"uptime,omitempty" jsonschema:"daemon uptime"`
	Indexing      bool   `json:"indexing,omitempty" jsonschema:"true while an indexing run is in flight"`
	Points        int    `json:"points,omitempty" jsonschema:"vector points in the collection"`
	FTSDocs       uint64 `json:"fts_docs,omitempty" jsonschema:"documents in the full-text index"`
	Provider      string `json:"provider,omitempty" jsonschema:"embedding provider"`
	Model         string `json:"model,omitempty" jsonschema:"embedding model"`
	Message       string `json:"message,omitempty" jsonschema:"guidance when the daemon is down"`
}

// NewServer creates an MCP server bridged to the daemon at socketPath.
func NewServer(socketPath string, cfg *config.Config, rootPath string, log *slog.Logger) (*Server, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		client:    daemon.NewClient(socketPath),
		cfg:       cfg,
		rootPath:  rootPath,
		sessionID: uuid.NewString(),
		logger:    log,
	}
	s.client.WithSession(s.sessionID)

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "code-indexer",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// SessionID returns the session this server tags its daemon calls with.
func (s *Server) SessionID() string { return s.sessionID }

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search the indexed codebase. Supports semantic (meaning-based), fts (exact keyword), hybrid (fused), and temporal (git history) search with language, extension, and path filters.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fetch_cached_page",
		Description: "Fetch the full body behind a truncated search result, one page at a time, using the cache_handle from a previous search.",
	}, s.fetchPageHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Check whether the project daemon is running and how much of the codebase is indexed. Use before searching.",
	}, s.indexStatusHandler)

	s.logger.Debug("mcp tools registered", "count", 3, "session_id", s.sessionID)
}

// searchHandler is the MCP SDK handler for the search tool.
func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, ierr.InvalidQuery("query parameter is required and must be non-empty")
	}

	kind := input.Kind
	if kind == "" {
		kind = string(query.KindSemantic)
	}

	start := time.Now()
	resp, err := s.client.Query(ctx, daemon.QueryParams{
		Query: input.Query,
		Kind:  kind,
		Limit: input.Limit,
		Filters: query.Filters{
			Language:          input.Language,
			IncludeExtensions: input.Extensions,
			IncludePaths:      input.Paths,
		},
		MinScore: input.MinScore,
	})
	if err != nil {
		s.logger.Error("search failed", "kind", kind, "error", err)
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(resp.Results))}
	for _, r := range resp.Results {
		out.Results = append(out.Results, toResultOutput(r))
	}

	s.logger.Info("search completed",
		"kind", kind,
		"results", len(out.Results),
		"duration", time.Since(start))
	return nil, out, nil
}

// fetchPageHandler is the MCP SDK handler for the fetch_cached_page tool.
func (s *Server) fetchPageHandler(ctx context.Context, _ *mcp.CallToolRequest, input FetchPageInput) (
	*mcp.CallToolResult,
	FetchPageOutput,
	error,
) {
	if input.Handle == "" {
		return nil, FetchPageOutput{}, ierr.InvalidInput("handle parameter is required")
	}

	page, err := s.client.FetchPage(ctx, input.Handle, input.Page)
	if err != nil {
		return nil, FetchPageOutput{}, err
	}
	return nil, FetchPageOutput{
		Content:    page.Content,
		Page:       page.Page,
		TotalPages: page.TotalPages,
		HasMore:    page.HasMore,
	}, nil
}

// indexStatusHandler is the MCP SDK handler for the index_status tool. A
// down daemon is a reportable state here, not an error.
func (s *Server) indexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	st, err := s.client.Status(ctx)
	if err != nil {
		return nil, IndexStatusOutput{
			DaemonRunning: false,
			Message:       "daemon not running; start it with 'code-indexer start'",
		}, nil
	}
	return nil, IndexStatusOutput{
		DaemonRunning: true,
		PID:           st.PID,
		Uptime:        st.Uptime,
		Indexing:      st.Indexing,
		Points:        st.Points,
		FTSDocs:       st.FTSDocs,
		Provider:      st.Provider,
		Model:         st.Model,
	}, nil
}

// toResultOutput flattens an engine result into the tool output shape.
func toResultOutput(r query.Result) SearchResultOutput {
	out := SearchResultOutput{
		Rank:     r.Rank,
		FilePath: r.Path,
		Score:    r.Score,
	}
	p := r.Payload
	if p == nil {
		return out
	}

	out.LineStart = payloadInt(p[store.KeyLineStart])
	out.LineEnd = payloadInt(p[store.KeyLineEnd])
	if lang, ok := p[store.KeyLanguage].(string); ok {
		out.Language = lang
	}

	for _, key := range []string{store.KeyContent, store.KeyCodeSnippet, store.KeyMatchText} {
		if body, ok := p[key].(string); ok && body != "" {
			out.Content = body
			return out
		}
		if preview, ok := p[key+"_preview"].(string); ok && preview != "" {
			out.Content = preview
			out.HasMore = true
			if h, ok := p[key+"_cache_handle"].(string); ok {
				out.CacheHandle = h
			}
			return out
		}
	}
	return out
}

// payloadInt tolerates the int/float64 split JSON round-trips introduce.
func payloadInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting mcp server",
		"transport", "stdio",
		"session_id", s.sessionID,
		"root", s.rootPath)

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp server stopped with error", "error", err)
		return err
	}
	s.logger.Info("mcp server stopped")
	return nil
}
