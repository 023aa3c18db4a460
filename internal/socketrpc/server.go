package socketrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/model"
	"github.com/tinytelemetry/toucan/internal/protocol"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (64 KB).
	scannerInitBufSize = 64 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (1 MB).
	scannerMaxTokenSize = 1024 * 1024
)

// Indicator is the board surface the server exposes.
type Indicator interface {
	Snapshot() indicator.State
	Set(l protocol.Label, on bool) (indicator.State, error)
	Clear() (indicator.State, error)
}

// Server exposes the daemon's indicator and history over a Unix domain
// socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	board      Indicator
	history    model.HistoryReader
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer creates a new socket RPC server. history may be nil, in which
// case Counts reports zeros and Recent is empty.
func NewServer(socketPath string, board Indicator, history model.HistoryReader) *Server {
	return &Server{
		socketPath: socketPath,
		board:      board,
		history:    history,
		quit:       make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			// Socket file exists but nobody is listening — stale.
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another daemon is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Info("socketrpc: listening", "path", s.socketPath)
	return nil
}

// Stop closes the listener and every open connection, waits for handlers
// to return and removes the socket file. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}

		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()

		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				slog.Warn("socketrpc: accept error", "error", err)
				// Transient errors (e.g. fd limit) must not kill the loop.
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: CodeParseError, Message: "parse error"}}
			encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v interface{}, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: CodeAppError, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	switch req.Method {
	case "State":
		return marshalResult(ViewOf(s.board.Snapshot()), nil)

	case "Set":
		var p SetParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		label, ok := protocol.Parse(p.Protocol)
		if !ok {
			return invalidParams(fmt.Errorf("No LED configuration for protocol: %s", strings.TrimSpace(p.Protocol)))
		}
		state, err := s.board.Set(label, p.Status != 0)
		return marshalResult(ViewOf(state), boardError(err))

	case "Clear":
		state, err := s.board.Clear()
		return marshalResult(ViewOf(state), boardError(err))

	case "Counts":
		return marshalResult(s.counts())

	case "Recent":
		var p RecentParams
		// Allow empty/null params for defaults; only reject genuinely malformed JSON.
		if err := json.Unmarshal(req.Params, &p); err != nil && len(req.Params) > 0 {
			return invalidParams(err)
		}
		return marshalResult(s.recent(p.Limit))

	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}

func (s *Server) counts() (map[string]int64, error) {
	if s.history == nil {
		counts := make(map[string]int64, protocol.Count)
		for _, l := range protocol.All() {
			counts[l.String()] = 0
		}
		return counts, nil
	}
	return s.history.Counts()
}

func (s *Server) recent(limit int) ([]model.Detection, error) {
	if s.history == nil {
		return []model.Detection{}, nil
	}
	if limit <= 0 {
		limit = model.DefaultRecentLimit
	}
	return s.history.Recent(limit)
}

func boardError(err error) error {
	if errors.Is(err, indicator.ErrClosed) {
		return errors.New("daemon is shutting down")
	}
	return err
}
