// Package mcp exposes the tool registry as a Model Context Protocol server,
// over line-delimited stdio or a single HTTP endpoint.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/habubridge/habubridge/internal/tools"
	"go.uber.org/zap"
)

const maxLineBytes = 1024 * 1024

const instructions = "Tools for the Habu clean room API. List partners, templates and clean rooms, submit a query from a template, then poll check_status until it completes and fetch get_results."

// Server answers MCP requests with the tools of a registry
type Server struct {
	registry *tools.Registry
	name     string
	version  string
	logger   *zap.Logger
}

// New creates a server
func New(registry *tools.Registry, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		registry: registry,
		name:     "habubridge",
		version:  version,
		logger:   logger.Named("mcp"),
	}
}

// Run reads requests from r line by line and writes responses to w. It
// blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := s.Handle(ctx, line)
		if resp == nil {
			continue
		}
		if err := s.writeResponse(w, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Handle decodes and answers one request. Notifications return nil.
func (s *Server) Handle(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(nil, CodeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}
	return s.dispatch(ctx, &req)
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if strings.HasPrefix(req.Method, "notifications/") {
		s.logger.Debug("notification", zap.String("method", req.Method))
		return nil
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return result(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      ServerInfo{Name: s.name, Version: s.version},
		Capabilities:    map[string]any{"tools": map[string]any{}},
		Instructions:    instructions,
	})
}

func (s *Server) handleToolsList(req *Request) *Response {
	list := s.registry.List()
	defs := make([]ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return result(req.ID, ToolsListResult{Tools: defs})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	args := tools.Args{}
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "arguments must be an object")
		}
	}

	res := s.registry.Invoke(ctx, params.Name, args)
	s.logger.Debug("tool call",
		zap.String("tool", params.Name),
		zap.String("status", res.Status()))

	return result(req.ID, ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: res.JSON()}},
		IsError: res.IsError(),
	})
}

func (s *Server) writeResponse(w io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		data, _ = json.Marshal(errorResponse(resp.ID, CodeInternalError, "internal error"))
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func result(id json.RawMessage, v any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: v}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}
