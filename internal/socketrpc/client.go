package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/toucan/internal/model"
)

// DefaultDialTimeout bounds how long Dial waits for the daemon.
const DefaultDialTimeout = 2 * time.Second

// Client talks to the daemon over a Unix domain socket using JSON-RPC 2.0.
// It satisfies model.HistoryReader.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	return DialTimeout(socketPath, DefaultDialTimeout)
}

// DialTimeout is Dial with an explicit timeout.
func DialTimeout(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params interface{}, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.conn.SetDeadline(time.Now().Add(10 * time.Second))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d, want %d", resp.ID, id)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) State() (model.IndicatorView, error) {
	var result model.IndicatorView
	err := c.call("State", map[string]interface{}{}, &result)
	return result, err
}

func (c *Client) Set(protocolName string, status int) (model.IndicatorView, error) {
	var result model.IndicatorView
	err := c.call("Set", SetParams{Protocol: protocolName, Status: status}, &result)
	return result, err
}

func (c *Client) Clear() (model.IndicatorView, error) {
	var result model.IndicatorView
	err := c.call("Clear", map[string]interface{}{}, &result)
	return result, err
}

func (c *Client) Counts() (map[string]int64, error) {
	var result map[string]int64
	err := c.call("Counts", map[string]interface{}{}, &result)
	return result, err
}

func (c *Client) Recent(limit int) ([]model.Detection, error) {
	var result []model.Detection
	err := c.call("Recent", RecentParams{Limit: limit}, &result)
	return result, err
}
