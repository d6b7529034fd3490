package daemon

import (
	"github.com/jsbattig/code-indexer-sub032/internal/index"
	"github.com/jsbattig/code-indexer-sub032/internal/query"
	"github.com/jsbattig/code-indexer-sub032/internal/slots"
)

// JSON-RPC 2.0 method names.
const (
	MethodIndex       = "index"
	MethodQuery       = "query"
	MethodQueryFTS    = "query_fts"
	MethodQueryHybrid = "query_hybrid"
	MethodFetchPage   = "fetch_page"
	MethodClearCache  = "clear_cache"
	MethodStatus      = "status"
	MethodPing        = "ping"

	// MethodProgress is the server-to-client notification emitted while
	// an index call streams.
	MethodProgress = "progress"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific errors.
const (
	ErrCodeNotIndexed  = -32001
	ErrCodeQueryFailed = -32002
	ErrCodeIndexFailed = -32003
)

// Request represents a JSON-RPC 2.0 request. SessionID is an optional
// extension carrying the MCP session for TTL tracking.
type Request struct {
	JSONRPC   string `json:"jsonrpc"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error. Data carries the structured
// indexer error code when one is available.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Notification is a server-to-client message without an id.
type Notification struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  ProgressParams `json:"params"`
}

// ProgressParams is the wire shape of one progress event. A zero Total
// marks a setup or status message; a positive Total marks current/total
// progress.
type ProgressParams struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	FilePath string `json:"file_path"`
	Info     string `json:"info"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// IndexParams are the parameters for the index method.
type IndexParams struct {
	// Mode is clear, reconcile, incremental, or resume (default
	// incremental).
	Mode string `json:"mode,omitempty"`
	// Temporal also runs git-history indexing after the file pass.
	Temporal bool `json:"temporal,omitempty"`
}

// Index call statuses.
const (
	IndexStarted        = "started"
	IndexAlreadyRunning = "already_running"
)

// IndexResult reports whether the call ran and with what stats.
type IndexResult struct {
	Status string       `json:"status"`
	Stats  *index.Stats `json:"stats,omitempty"`
}

// QueryParams are the parameters for the query methods. Kind is fixed
// by the method for query_fts and query_hybrid.
type QueryParams struct {
	Query    string        `json:"query"`
	Kind     string        `json:"kind,omitempty"`
	Limit    int           `json:"limit,omitempty"`
	Filters  query.Filters `json:"filters,omitempty"`
	MinScore *float32      `json:"min_score,omitempty"`
}

// FetchPageParams are the parameters for the fetch_page method. The
// handle comes from a truncated payload field's <field>_cache_handle.
type FetchPageParams struct {
	Handle string `json:"handle"`
	Page   int    `json:"page,omitempty"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running      bool         `json:"running"`
	PID          int          `json:"pid"`
	Uptime       string       `json:"uptime"`
	Indexing     bool         `json:"indexing"`
	Points       int          `json:"points"`
	FTSDocs      uint64       `json:"fts_docs"`
	CacheEntries int          `json:"cache_entries"`
	Sessions     int          `json:"sessions"`
	Provider     string       `json:"provider"`
	Model        string       `json:"model"`
	Slots        []slots.Slot `json:"slots,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

// ClearCacheResult reports how many entries were dropped.
type ClearCacheResult struct {
	Cleared int `json:"cleared"`
}
