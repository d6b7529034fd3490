package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/jsbattig/code-indexer-sub032/internal/cache"
	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/query"
)

// DefaultClientTimeout bounds non-streaming RPC exchanges.
const DefaultClientTimeout = 30 * time.Second

// Client talks to the daemon over its unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	sessionID  string
	requestID  atomic.Uint64
}

// NewClient creates a daemon client.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: DefaultClientTimeout}
}

// WithSession attaches a session id to every request.
func (c *Client) WithSession(id string) *Client {
	c.sessionID = id
	return c
}

// connect dials the daemon socket.
func (c *Client) connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var out PingResult
	if err := c.call(ctx, MethodPing, nil, &out); err != nil {
		return err
	}
	if !out.Pong {
		return fmt.Errorf("unexpected ping response")
	}
	return nil
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var out StatusResult
	if err := c.call(ctx, MethodStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearCache drops the daemon's payload cache.
func (c *Client) ClearCache(ctx context.Context) (*ClearCacheResult, error) {
	var out ClearCacheResult
	if err := c.call(ctx, MethodClearCache, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchPage retrieves one page of a cached payload body.
func (c *Client) FetchPage(ctx context.Context, handle string, page int) (*cache.Page, error) {
	var out cache.Page
	if err := c.call(ctx, MethodFetchPage, FetchPageParams{Handle: handle, Page: page}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query runs a search through the daemon. The method is derived from
// the kind so query_fts and query_hybrid hit their dedicated RPCs.
func (c *Client) Query(ctx context.Context, params QueryParams) (*query.Response, error) {
	method := MethodQuery
	switch query.Kind(params.Kind) {
	case query.KindFTS:
		method = MethodQueryFTS
	case query.KindHybrid:
		method = MethodQueryHybrid
	}

	var out query.Response
	if err := c.call(ctx, method, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Index runs an indexing session, invoking onProgress for every
// streamed progress notification until the final response arrives. The
// exchange has no deadline; cancel the context to abort.
func (c *Client) Index(ctx context.Context, params IndexParams, onProgress progress.Func) (*IndexResult, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if d, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(d)
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	req := Request{
		JSONRPC:   "2.0",
		Method:    MethodIndex,
		Params:    params,
		ID:        c.nextID(),
		SessionID: c.sessionID,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	decoder := json.NewDecoder(conn)
	for {
		var env envelope
		if err := decoder.Decode(&env); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("receive response: %w", err)
		}

		if env.Method == MethodProgress {
			if onProgress != nil {
				var p ProgressParams
				if err := json.Unmarshal(env.Params, &p); err == nil {
					onProgress(p.Current, p.Total, p.FilePath, p.Info)
				}
			}
			continue
		}

		if env.Error != nil {
			return nil, fmt.Errorf("index failed: %s (code: %d)", env.Error.Message, env.Error.Code)
		}
		var result IndexResult
		if err := json.Unmarshal(env.Result, &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		return &result, nil
	}
}

// envelope is the union of a response and a notification on the wire.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// call runs one request-response exchange.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	req := Request{
		JSONRPC:   "2.0",
		Method:    method,
		Params:    params,
		ID:        c.nextID(),
		SessionID: c.sessionID,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result,omitempty"`
		Error  *Error          `json:"error,omitempty"`
		ID     string          `json:"id"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("receive response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

func (c *Client) nextID() string {
	return fmt.Sprintf("req-%d", c.requestID.Add(1))
}
