package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// connTimeout bounds a single non-index RPC exchange.
const connTimeout = 30 * time.Second

// Server listens on a unix socket and dispatches RPC requests to the
// daemon.
type Server struct {
	socketPath string
	daemon     *Daemon
	listener   net.Listener

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server bound to the daemon.
func NewServer(socketPath string, d *Daemon) *Server {
	return &Server{socketPath: socketPath, daemon: d}
}

// ListenAndServe accepts connections until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A previous crash may have left the socket behind.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	if s.daemon.log != nil {
		s.daemon.log.Info("daemon listening", "socket", s.socketPath)
	}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			if s.daemon.log != nil {
				s.daemon.log.Error("accept failed", "error", err)
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(connTimeout))
	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	s.daemon.TouchSession(req.SessionID)
	resp := s.handleRequest(ctx, conn, encoder, req)
	_ = encoder.Encode(resp)
}

func (s *Server) handleRequest(ctx context.Context, conn net.Conn, encoder *json.Encoder, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.daemon.Status())

	case MethodFetchPage:
		var params FetchPageParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		page, err := s.daemon.FetchPage(params)
		if err != nil {
			return rpcError(req.ID, err)
		}
		return NewSuccessResponse(req.ID, page)

	case MethodClearCache:
		result, err := s.daemon.ClearCache()
		if err != nil {
			return rpcError(req.ID, err)
		}
		return NewSuccessResponse(req.ID, result)

	case MethodIndex:
		return s.handleIndex(ctx, conn, encoder, req)

	case MethodQuery:
		return s.handleQuery(ctx, req, "")

	case MethodQueryFTS:
		return s.handleQuery(ctx, req, "fts")

	case MethodQueryHybrid:
		return s.handleQuery(ctx, req, "hybrid")

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// handleIndex streams progress notifications over the connection while
// the run is in flight, then returns the final response. A failed write
// means the client hung up; the run is cancelled so partial state gets
// committed.
func (s *Server) handleIndex(ctx context.Context, conn net.Conn, encoder *json.Encoder, req Request) Response {
	var params IndexParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	// Indexing outlives the per-exchange deadline.
	_ = conn.SetDeadline(time.Time{})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	emit := func(current, total int, filePath, info string) {
		n := Notification{
			JSONRPC: "2.0",
			Method:  MethodProgress,
			Params:  ProgressParams{Current: current, Total: total, FilePath: filePath, Info: info},
		}
		if err := encoder.Encode(n); err != nil {
			cancel()
		}
	}

	result, err := s.daemon.Index(runCtx, params, emit)
	if err != nil {
		return rpcError(req.ID, err)
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleQuery(ctx context.Context, req Request, kind string) Response {
	var params QueryParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if kind != "" {
		params.Kind = kind
	}

	resp, err := s.daemon.Query(ctx, params, "")
	if err != nil {
		return rpcError(req.ID, err)
	}
	return NewSuccessResponse(req.ID, resp)
}

// decodeParams round-trips the loosely typed params into their concrete
// shape.
func decodeParams(params any, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}
