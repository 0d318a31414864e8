package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kyleking/nest-mcp/internal/session"
)

var keepAliveComment = []byte(": keep-alive\n\n")

// writeFrame writes f in event-stream framing. Multi-line payloads are
// split across data fields.
func writeFrame(w io.Writer, f session.Frame) error {
	var buf bytes.Buffer

	if f.Event != "" {
		fmt.Fprintf(&buf, "event: %s\n", f.Event)
	}

	for _, line := range bytes.Split(f.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')

	_, err := w.Write(buf.Bytes())

	return err
}

// handleSSE opens a session and streams its frames until the client goes
// away or the session is torn down. This handler is the only writer.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream_not_supported", "streaming not supported")
		return
	}

	sess, err := s.manager.Open()
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) || errors.Is(err, session.ErrShutdown) {
			writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}

		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open session")

		return
	}
	defer s.manager.Close(sess.ID())

	logger := s.logger.WithField("session_id", sess.ID())
	logger.Info("stream opened")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)

	var keepAlive <-chan time.Time

	if s.opts.KeepAlive > 0 {
		ticker := time.NewTicker(s.opts.KeepAlive)
		defer ticker.Stop()

		keepAlive = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			logger.Info("stream closed by client")
			return
		case <-sess.Done():
			logger.Info("stream closed by server")
			return
		case <-keepAlive:
			s.armWriteDeadline(rc)

			if _, err := w.Write(keepAliveComment); err != nil {
				logger.WithError(err).Debug("keep-alive write failed")
				return
			}

			flusher.Flush()
		case f := <-sess.Frames():
			// Teardown wins over frames still buffered.
			select {
			case <-sess.Done():
				return
			default:
			}

			s.armWriteDeadline(rc)

			if err := writeFrame(w, f); err != nil {
				logger.WithError(err).Debug("frame write failed")
				return
			}

			flusher.Flush()
		}
	}
}

// armWriteDeadline bounds the next write so a client that stops reading
// cannot hold the handler forever. Writers without deadline support are
// left unbounded.
func (s *Server) armWriteDeadline(rc *http.ResponseController) {
	if s.opts.WriteTimeout <= 0 {
		return
	}

	_ = rc.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
}
