package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/nest-mcp/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"ERROR", ErrorLevel},
		{"invalid", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "INFO", InfoLevel.String())
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, "UNKNOWN", LogLevel(999).String())
}

func TestNewLoggerOutputs(t *testing.T) {
	for _, output := range []string{"stdout", "stderr"} {
		t.Run(output, func(t *testing.T) {
			logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: "text", Output: output})
			require.NoError(t, err)
			require.NotNil(t, logger)

			assert.Equal(t, InfoLevel, logger.level)
			assert.Nil(t, logger.file)
		})
	}
}

func TestNewLoggerFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "test.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "file",
		File:   logFile,
	})
	require.NoError(t, err)
	require.NotNil(t, logger.file)

	logger.Info("written to disk")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to disk")
}

func TestNewLoggerErrors(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Output: "file"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log file path is required")

	_, err = NewLogger(config.LoggingConfig{Output: "syslog"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log output")
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}

	return entries
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"})

	logger.
		WithField("session_id", "s-1").
		WithFields(map[string]any{"tool_name": "raw-sql", "row_count": 3}).
		WithError(errors.New("boom")).
		Info("tool finished")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "tool finished", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Equal(t, "raw-sql", entry["tool_name"])
	assert.InDelta(t, 3, entry["row_count"], 0)
	assert.Equal(t, "boom", entry["error"])
}

func TestLoggerWithErrorNil(t *testing.T) {
	logger := NewNopLogger()
	assert.Same(t, logger, logger.WithError(nil))
}

func TestLoggerDerivedDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"})

	_ = logger.WithField("correlation_id", "c-1")
	logger.Info("plain")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0], "correlation_id")
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, config.LoggingConfig{Level: "warn", Format: "json"})

	logger.Debug("debug")
	logger.Debugf("debug %d", 1)
	logger.Info("info")
	logger.Infof("info %d", 1)
	logger.Warn("warn")
	logger.Warnf("warn %d", 1)
	logger.Error("error")
	logger.Errorf("error %d", 1)

	var messages []string
	for _, entry := range decodeLines(t, &buf) {
		messages = append(messages, entry["msg"].(string))
	}

	assert.Equal(t, []string{"warn", "warn 1", "error", "error 1"}, messages)
}

func TestLoggerErrorWithErr(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, config.LoggingConfig{Level: "info", Format: "text"})

	logger.ErrorWithErr("query failed", errors.New("Binder Error"))

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, `msg="query failed"`)
	assert.Contains(t, out, `error="Binder Error"`)
}

func TestGlobalLoggerBeforeInitialization(t *testing.T) {
	globalMu.Lock()
	saved := globalLogger
	globalLogger = nil
	globalMu.Unlock()

	t.Cleanup(func() { setGlobal(saved) })

	assert.NotNil(t, GetLogger())
	assert.NotPanics(t, func() {
		Info("dropped")
		WithField("k", "v").Warn("dropped")
		ErrorWithErr("dropped", errors.New("x"))
	})
}

func TestInitializeLogger(t *testing.T) {
	globalMu.Lock()
	saved := globalLogger
	globalMu.Unlock()

	loggerOnce = sync.Once{}

	t.Cleanup(func() {
		setGlobal(saved)
		loggerOnce = sync.Once{}
	})

	err := InitializeLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, GetLogger().level)

	// Only the first call takes effect.
	require.NoError(t, InitializeLogger(config.LoggingConfig{Level: "error", Output: "stderr"}))
	assert.Equal(t, DebugLevel, GetLogger().level)
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer

	globalMu.Lock()
	saved := globalLogger
	globalMu.Unlock()

	setGlobal(NewWriterLogger(&buf, config.LoggingConfig{Level: "debug", Format: "json"}))
	t.Cleanup(func() { setGlobal(saved) })

	called := false
	err := LoggerMiddleware("load-dataset", func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Contains(t, buf.String(), "Operation completed successfully")

	buf.Reset()

	testErr := errors.New("dataset missing")
	err = LoggerMiddleware("load-dataset", func() error { return testErr })
	assert.ErrorIs(t, err, testErr)
	assert.Contains(t, buf.String(), "Operation failed")
	assert.Contains(t, buf.String(), "dataset missing")
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, config.LoggingConfig{Level: "debug", Format: "json"})

	handler := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok, "wrapped writer must stay flushable")

		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "request rejected", entries[0]["msg"])
	assert.Equal(t, "/message", entries[0]["path"])
	assert.InDelta(t, http.StatusNotFound, entries[0]["status"], 0)
	assert.InDelta(t, len("missing"), entries[0]["bytes"], 0)
}
