package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kyleking/nest-mcp/internal/errors"
	"github.com/kyleking/nest-mcp/internal/logging"
	"github.com/kyleking/nest-mcp/internal/storage"
)

// Wire codes reported to callers
const (
	CodeSchemaViolation = "schema_violation"
	CodeValidation      = "validation_error"
	CodeExecution       = "execution_error"
	CodeUnknownTool     = "unknown_tool"
	CodeInternal        = "internal_error"
)

// Invocation is one tool call awaiting dispatch
type Invocation struct {
	CorrelationID string          `json:"correlation_id"`
	ToolName      string          `json:"tool_name"`
	Arguments     json.RawMessage `json:"arguments"`
}

// ToolError is the caller-visible failure of an invocation. Engine
// details never appear in Message; Reference ties it to the server log.
type ToolError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("%s: %s (reference %s)", e.Code, e.Message, e.Reference)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Outcome is the terminal state of an invocation. Exactly one of Result
// and Err is set.
type Outcome struct {
	CorrelationID string               `json:"correlation_id"`
	ToolName      string               `json:"tool_name"`
	Result        *storage.QueryResult `json:"result,omitempty"`
	Err           *ToolError           `json:"error,omitempty"`
}

// Dispatcher validates invocations and runs them against the registry.
// Every failure, including handler panics, becomes a ToolError.
type Dispatcher struct {
	registry *Registry
	logger   *logging.Logger
}

// NewDispatcher creates a dispatcher over registry
func NewDispatcher(registry *Registry, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Dispatcher{registry: registry, logger: logger}
}

// Registry returns the registry the dispatcher serves
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs inv to completion
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (out Outcome) {
	out = Outcome{CorrelationID: inv.CorrelationID, ToolName: inv.ToolName}
	logger := d.logger.WithFields(map[string]any{
		"correlation_id": inv.CorrelationID,
		"tool_name":      inv.ToolName,
	})

	defer func() {
		if r := recover(); r != nil {
			ref := uuid.NewString()
			logger.WithFields(map[string]any{
				"reference": ref,
				"panic":     fmt.Sprint(r),
				"stack":     string(debug.Stack()),
			}).Error("tool handler panicked")

			out.Result = nil
			out.Err = &ToolError{Code: CodeInternal, Message: "internal error", Reference: ref}
		}
	}()

	tool, ok := d.registry.Lookup(inv.ToolName)
	if !ok {
		out.Err = &ToolError{Code: CodeUnknownTool, Message: fmt.Sprintf("unknown tool %q", inv.ToolName)}
		return out
	}

	args, decoded, err := decodeArguments(inv.Arguments)
	if err != nil {
		out.Err = &ToolError{Code: CodeSchemaViolation, Message: "arguments must be a JSON object: " + err.Error()}
		return out
	}

	if err := tool.Validate(decoded); err != nil {
		out.Err = &ToolError{Code: CodeSchemaViolation, Message: err.Error()}
		return out
	}

	start := time.Now()
	result, err := tool.handler(ctx, args)

	if err != nil {
		out.Err = d.toToolError(logger, err)
		return out
	}

	logger.WithFields(map[string]any{
		"row_count": result.RowCount,
		"truncated": result.Truncated,
		"duration":  time.Since(start),
	}).Debug("tool completed")

	out.Result = result

	return out
}

// decodeArguments treats absent or null arguments as an empty object
func decodeArguments(raw json.RawMessage) (json.RawMessage, any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), map[string]any{}, nil
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, nil, err
	}

	return json.RawMessage(trimmed), decoded, nil
}

func (d *Dispatcher) toToolError(logger *logging.Logger, err error) *ToolError {
	errType := apperrors.GetType(err)

	switch errType {
	case apperrors.ErrTypeValidation, apperrors.ErrTypeSchemaViolation:
		return &ToolError{Code: apperrors.WireCode(errType), Message: apperrors.Message(err)}
	case apperrors.ErrTypeExecution, apperrors.ErrTypeDatabase:
		ref := uuid.NewString()
		logger.WithField("reference", ref).ErrorWithErr("query failed", err)

		return &ToolError{Code: apperrors.WireCode(errType), Message: "query failed", Reference: ref}
	default:
		ref := uuid.NewString()
		logger.WithField("reference", ref).ErrorWithErr("tool failed", err)

		return &ToolError{Code: CodeInternal, Message: "internal error", Reference: ref}
	}
}
