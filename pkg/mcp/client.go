package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/logx"
	"aicoder/pkg/version"
)

// clientName identifies this client in the initialize handshake.
const clientName = "AICoder-MCP-Orchestrator"

// Client drives one role server over a line-delimited JSON-RPC
// connection. Calls are serialized; the server replies in order.
type Client struct {
	role   string
	w      io.Writer
	reader *bufio.Scanner
	logger *logx.Logger

	mu          sync.Mutex
	initialized bool
	serverName  string
}

// NewClient wraps an established connection to a role server. Call
// Initialize before using tools.
func NewClient(role string, r io.Reader, w io.Writer) *Client {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Client{
		role:   role,
		w:      w,
		reader: scanner,
		logger: logx.NewLogger("mcp-client-" + role),
	}
}

// ServerName reports the serverInfo name received during Initialize.
func (c *Client) ServerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverName
}

// Initialize performs the protocol handshake and sends the initialized
// notification.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{"roots": map[string]any{"listChanged": true}},
		"clientInfo":      ClientInfo{Name: clientName, Version: version.Version},
	}
	raw, err := c.roundTrip(ctx, "initialize", params)
	if err != nil {
		return err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return llmerrors.Wrap(llmerrors.KindTransport, err, fmt.Sprintf("%s server: bad initialize result", c.role))
	}

	c.mu.Lock()
	c.initialized = true
	c.serverName = result.ServerInfo.Name
	c.mu.Unlock()

	if err := c.notify("notifications/initialized", nil); err != nil {
		return err
	}
	c.logger.Info("connected to %s (protocol %s)", result.ServerInfo.Name, result.ProtocolVersion)
	return nil
}

// ListTools returns the server's tool catalogue.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := c.roundTrip(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindTransport, err, fmt.Sprintf("%s server: bad tools/list result", c.role))
	}
	return result.Tools, nil
}

// CallTool invokes a tool and returns the text of the first content
// item.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	c.logger.Info("calling tool %s on %s server", tool, c.role)
	raw, err := c.roundTrip(ctx, "tools/call", map[string]any{"name": tool, "arguments": args})
	if err != nil {
		return "", err
	}

	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", llmerrors.Wrap(llmerrors.KindTransport, err, fmt.Sprintf("tool %s: bad result shape", tool))
	}
	for _, item := range result.Content {
		if item.Type == "text" {
			return item.Text, nil
		}
	}
	return "", llmerrors.Newf(llmerrors.KindTransport, "tool %s returned no text content", tool)
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	if err := c.send(Request{JSONRPC: "2.0", ID: id, Method: method, Params: mustParams(params)}); err != nil {
		return nil, err
	}

	resp, err := c.recv(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s server rejected %s: %w", c.role, method, resp.Error)
	}
	if got, _ := resp.ID.(string); got != id {
		return nil, llmerrors.Newf(llmerrors.KindTransport, "%s server replied to %v, expected %s", c.role, resp.ID, id)
	}
	return resp.Result, nil
}

// notify sends a request without an ID and does not wait for a reply.
func (c *Client) notify(method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(Request{JSONRPC: "2.0", Method: method, Params: mustParams(params)})
}

func (c *Client) send(req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return llmerrors.Wrap(llmerrors.KindTransport, err, "marshal request")
	}
	if _, err := c.w.Write(append(body, '\n')); err != nil {
		return llmerrors.Wrap(llmerrors.KindTransport, err, fmt.Sprintf("write to %s server", c.role))
	}
	return nil
}

// recv reads the next response line. The read runs in a goroutine so a
// cancelled context aborts the wait even though the reader blocks.
func (c *Client) recv(ctx context.Context) (*Response, error) {
	type lineResult struct {
		resp *Response
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		if !c.reader.Scan() {
			err := c.reader.Err()
			if err == nil {
				err = io.EOF
			}
			ch <- lineResult{err: llmerrors.Wrap(llmerrors.KindTransport, err, fmt.Sprintf("no response from %s server", c.role))}
			return
		}
		var resp Response
		if err := json.Unmarshal(c.reader.Bytes(), &resp); err != nil {
			ch <- lineResult{err: llmerrors.Wrap(llmerrors.KindTransport, err, fmt.Sprintf("invalid JSON from %s server", c.role))}
			return
		}
		ch <- lineResult{resp: &resp}
	}()

	select {
	case <-ctx.Done():
		return nil, llmerrors.Canceled(ctx.Err())
	case res := <-ch:
		return res.resp, res.err
	}
}

func mustParams(params any) json.RawMessage {
	if params == nil {
		return nil
	}
	body, err := json.Marshal(params)
	if err != nil {
		// Params are built from plain maps and structs above.
		panic(fmt.Sprintf("mcp: unmarshalable params: %v", err))
	}
	return body
}
