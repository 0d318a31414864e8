package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/kyleking/nest-mcp/internal/errors"
	"github.com/kyleking/nest-mcp/internal/logging"
	"github.com/kyleking/nest-mcp/internal/monitor"
	"github.com/kyleking/nest-mcp/internal/session"
	"github.com/kyleking/nest-mcp/internal/tools"
)

// DefaultInstructions is sent to MCP clients on initialize
const DefaultInstructions = "This server provides SQL query tools for company database access."

const healthPingTimeout = 2 * time.Second

// Options configures the HTTP surface
type Options struct {
	SSEPath        string
	MessagePath    string
	KeepAlive      time.Duration // 0 disables keep-alive comments
	WriteTimeout   time.Duration // per stream write; 0 disables the deadline
	AllowedOrigins []string      // empty allows every origin
	MaxBodyBytes   int64
	ServerName     string
	ServerVersion  string
	Instructions   string
	Memory         *monitor.MemoryMonitor      // optional; reported by /healthz
	Ping           func(context.Context) error // optional database check for /healthz
	Logger         *logging.Logger
}

// Server exposes sessions and the tool catalog over HTTP
type Server struct {
	manager  *session.Manager
	registry *tools.Registry
	opts     Options
	logger   *logging.Logger
}

// NewServer creates a server over manager and registry
func NewServer(manager *session.Manager, registry *tools.Registry, opts Options) *Server {
	if opts.SSEPath == "" {
		opts.SSEPath = "/sse"
	}

	if opts.MessagePath == "" {
		opts.MessagePath = "/message"
	}

	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	if opts.ServerName == "" {
		opts.ServerName = "nest-mcp"
	}

	if opts.Instructions == "" {
		opts.Instructions = DefaultInstructions
	}

	if opts.Logger == nil {
		opts.Logger = logging.GetLogger()
	}

	return &Server{
		manager:  manager,
		registry: registry,
		opts:     opts,
		logger:   opts.Logger.WithField("component", "transport"),
	}
}

// Handler returns the routed handler wrapped in access control and
// request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+s.opts.SSEPath, s.handleSSE)
	mux.HandleFunc("POST "+s.opts.MessagePath, s.handleMessage)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", handleProtectedResource)

	return logging.HTTPMiddleware(s.logger)(accessControl(s.opts.AllowedOrigins)(mux))
}

type envelope struct {
	SessionID     string          `json:"session_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ToolName      string          `json:"tool_name"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return
		}

		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")

		return
	}

	var head struct {
		JSONRPC string `json:"jsonrpc"`
	}

	if err := json.Unmarshal(body, &head); err != nil {
		s.writeInvalid(w, apperrors.Wrap(err, apperrors.ErrTypeValidation, "request body must be a JSON object"))
		return
	}

	if head.JSONRPC != "" {
		s.handleRPC(w, r, body)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.writeInvalid(w, apperrors.Wrap(err, apperrors.ErrTypeValidation, "malformed envelope"))
		return
	}

	if env.SessionID == "" {
		env.SessionID = r.URL.Query().Get("sessionId")
	}

	if strings.TrimSpace(env.ToolName) == "" {
		s.writeInvalid(w, apperrors.NewValidationError("tool_name is required"))
		return
	}

	correlationID, err := s.manager.Post(env.SessionID, tools.Invocation{
		CorrelationID: env.CorrelationID,
		ToolName:      env.ToolName,
		Arguments:     env.Arguments,
	}, session.EncodeEnvelope)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"correlation_id": correlationID})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Descriptors()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := map[string]any{
		"status":   "ok",
		"sessions": s.manager.Len(),
		"queued":   s.manager.Queued(),
	}

	if s.opts.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		if err := s.opts.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("health check: database unavailable")

			health["status"] = "degraded"
			health["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			health["database"] = "ok"
		}
	}

	if s.opts.Memory != nil {
		health["memory"] = s.opts.Memory.GetStats()
		health["memory_pressure"] = s.opts.Memory.GetMemoryPressure()
	}

	writeJSON(w, status, health)
}

func handleProtectedResource(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":                 "mcp",
		"authorization_servers":    []string{},
		"bearer_methods_supported": []string{"header"},
	})
}

func (s *Server) writeInvalid(w http.ResponseWriter, err error) {
	writeError(w, apperrors.HTTPStatus(apperrors.GetType(err)), "invalid_request", apperrors.Message(err))
}

// writeSessionError maps session manager failures to statuses
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, session.ErrStreamStalled):
		writeError(w, http.StatusNotFound, apperrors.WireCode(apperrors.ErrTypeSessionNotFound), "session not found")
	case errors.Is(err, session.ErrDuplicateCorrelation):
		writeError(w, http.StatusConflict, "duplicate_correlation", err.Error())
	case errors.Is(err, session.ErrOverloaded):
		writeError(w, http.StatusServiceUnavailable, "overloaded", "server overloaded, retry later")
	default:
		s.logger.ErrorWithErr("post failed", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
