package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kyleking/nest-mcp/internal/session"
	"github.com/kyleking/nest-mcp/internal/tools"
)

// ProtocolVersion is the MCP revision spoken over the SSE transport
const ProtocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request expects no response
func (r rpcRequest) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func responseFrame(resp rpcResponse) (session.Frame, error) {
	resp.JSONRPC = "2.0"

	data, err := json.Marshal(resp)
	if err != nil {
		return session.Frame{}, fmt.Errorf("failed to encode response: %w", err)
	}

	return session.Frame{Event: session.EventMessage, Data: data}, nil
}

// callToolEncoder answers a tools/call request carrying id
func callToolEncoder(id json.RawMessage) session.Encoder {
	return func(out tools.Outcome) (session.Frame, error) {
		result, err := callToolResult(out)
		if err != nil {
			return session.Frame{}, err
		}

		return responseFrame(rpcResponse{ID: id, Result: result})
	}
}

// callToolResult carries the rows as JSON text plus structured content.
// Tool failures are results with IsError set, not protocol errors.
func callToolResult(out tools.Outcome) (*mcp.CallToolResult, error) {
	if out.Err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out.Err.Error()}},
			IsError: true,
		}, nil
	}

	data, err := json.Marshal(out.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: out.Result,
	}, nil
}

func (s *Server) initializeResult() *mcp.InitializeResult {
	return &mcp.InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{},
		},
		ServerInfo: &mcp.Implementation{
			Name:    s.opts.ServerName,
			Version: s.opts.ServerVersion,
		},
		Instructions: s.opts.Instructions,
	}
}

// handleRPC serves one JSON-RPC message. Replies travel over the stream of
// the session named by the sessionId query parameter; the POST itself is
// only acknowledged.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request, body []byte) {
	sessionID := r.URL.Query().Get("sessionId")
	if _, ok := s.manager.Get(sessionID); !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil || req.JSONRPC != "2.0" || req.Method == "" {
		s.reply(w, sessionID, rpcResponse{ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "Invalid request"}})
		return
	}

	logger := s.logger.WithFields(map[string]any{"session_id": sessionID, "method": req.Method})

	if req.isNotification() {
		logger.Debug("notification received")
		w.WriteHeader(http.StatusAccepted)

		return
	}

	switch req.Method {
	case "initialize":
		s.reply(w, sessionID, rpcResponse{ID: req.ID, Result: s.initializeResult()})

	case "ping":
		s.reply(w, sessionID, rpcResponse{ID: req.ID, Result: struct{}{}})

	case "tools/list":
		s.reply(w, sessionID, rpcResponse{ID: req.ID, Result: &mcp.ListToolsResult{Tools: s.registry.MCPTools()}})

	case "tools/call":
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			s.reply(w, sessionID, rpcResponse{ID: req.ID, Error: &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: "tools/call requires a tool name"}})
			return
		}

		inv := tools.Invocation{ToolName: params.Name, Arguments: params.Arguments}
		if _, err := s.manager.Post(sessionID, inv, callToolEncoder(req.ID)); err != nil {
			s.writeSessionError(w, err)
			return
		}

		w.WriteHeader(http.StatusAccepted)

	default:
		logger.Debug("unknown method")
		s.reply(w, sessionID, rpcResponse{ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "Method not found", Data: req.Method}})
	}
}

// reply queues resp on the session stream and acknowledges the POST
func (s *Server) reply(w http.ResponseWriter, sessionID string, resp rpcResponse) {
	frame, err := responseFrame(resp)
	if err != nil {
		s.logger.ErrorWithErr("failed to encode rpc response", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to encode response")

		return
	}

	if err := s.manager.Deliver(sessionID, frame); err != nil {
		s.writeSessionError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
