package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/model"
)

// JSON-RPC 2.0 Method Reference
//
// The daemon owns the indicator. Command-line updates and the terminal
// panel go through this socket so every change is serialized by the
// daemon's board.
//
//   Method    Params                              Result
//   ───────   ─────────────────────────────────   ───────────────────
//   State     (none)                              IndicatorView
//   Set       {Protocol: string, Status: int}     IndicatorView
//   Clear     (none)                              IndicatorView
//   Counts    (none)                              map[string]int64
//   Recent    {Limit: int}                        []Detection
//
// Status 0 turns the slot off, anything else turns it on.
// Recent accepts empty or null params and then uses the default limit.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params (including an unknown protocol)
//   -32603  Internal error (marshal failure)
//   -32000  Application error (store, render or history failure)

const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeAppError       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// SetParams are the params of the Set method.
type SetParams struct {
	Protocol string
	Status   int
}

// RecentParams are the params of the Recent method.
type RecentParams struct {
	Limit int
}

// ViewOf converts a state to its wire form.
func ViewOf(s indicator.State) model.IndicatorView {
	active := s.Active()
	view := model.IndicatorView{
		Active: make([]string, 0, len(active)),
		Slots:  s[:],
	}
	for _, l := range active {
		view.Active = append(view.Active, l.String())
	}
	return view
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/toucan/toucan.sock, falling back to
// ~/.local/state/toucan/toucan.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "toucan", "toucan.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/toucan.sock"
	}
	return filepath.Join(home, ".local", "state", "toucan", "toucan.sock")
}
