package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"aicoder/pkg/logx"
	"aicoder/pkg/version"
)

// maxLineBytes bounds one JSON-RPC message. Code packages travel inline
// as JSON strings, so lines can get large.
const maxLineBytes = 16 * 1024 * 1024

// Tool is one callable capability a role server exposes. Handler
// receives the decoded tools/call arguments and returns the result
// text placed in content[0].text.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, args map[string]json.RawMessage) (string, error)
}

// Server speaks line-delimited JSON-RPC for one role over a
// reader/writer pair, normally stdin/stdout.
type Server struct {
	role   string
	tools  []Tool
	logger *logx.Logger
}

// NewServer creates a role server exposing the given tools.
func NewServer(role string, tools []Tool) *Server {
	return &Server{
		role:   role,
		tools:  tools,
		logger: logx.NewLogger("mcp-" + role),
	}
}

// Serve reads requests line by line until EOF or context cancellation.
// Malformed lines get a -32700 reply and the loop continues.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.logger.Info("%s server listening on stdio", s.role)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("invalid request: %v", err)
			s.writeError(w, nil, CodeParseError, fmt.Sprintf("parse error: %v", err))
			continue
		}
		s.handle(ctx, w, &req)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdio read failed: %w", err)
	}
	s.logger.Info("%s server input closed, shutting down", s.role)
	return nil
}

func (s *Server) handle(ctx context.Context, w io.Writer, req *Request) {
	switch req.Method {
	case "initialize":
		s.writeResult(w, req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo: ServerInfo{
				Name:    fmt.Sprintf("aicoder-%s-server", s.role),
				Version: version.Version,
			},
		})
	case "notifications/initialized":
		// Acknowledgement only, no reply.
	case "tools/list":
		infos := make([]ToolInfo, 0, len(s.tools))
		for _, t := range s.tools {
			infos = append(infos, ToolInfo{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
		s.writeResult(w, req.ID, map[string]any{"tools": infos})
	case "tools/call":
		s.handleCall(ctx, w, req)
	default:
		if req.IsNotification() {
			return
		}
		s.writeError(w, req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

type callParams struct {
	Name      string                     `json:"name"`
	Arguments map[string]json.RawMessage `json:"arguments"`
}

func (s *Server) handleCall(ctx context.Context, w io.Writer, req *Request) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		return
	}

	for _, t := range s.tools {
		if t.Name != params.Name {
			continue
		}
		s.logger.Info("tool call: %s", t.Name)
		text, err := t.Handler(ctx, params.Arguments)
		if err != nil {
			s.logger.Error("tool %s failed: %v", t.Name, err)
			s.writeError(w, req.ID, CodeInternalError, fmt.Sprintf("internal error: %v", err))
			return
		}
		s.writeResult(w, req.ID, textResult(text))
		return
	}
	s.writeError(w, req.ID, CodeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name))
}

func (s *Server) writeResult(w io.Writer, id any, result any) {
	body, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, id, CodeInternalError, fmt.Sprintf("marshal result: %v", err))
		return
	}
	s.write(w, Response{JSONRPC: "2.0", ID: id, Result: body})
}

func (s *Server) writeError(w io.Writer, id any, code int, message string) {
	s.write(w, Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (s *Server) write(w io.Writer, resp Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response: %v", err)
		return
	}
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Error("write response: %v", err)
	}
}
