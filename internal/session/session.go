package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kyleking/nest-mcp/internal/tools"
)

var (
	// ErrSessionNotFound is returned when a post names no live session
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when delivering to a torn down session
	ErrSessionClosed = errors.New("session closed")

	// ErrDuplicateCorrelation is returned when a correlation id is already in flight
	ErrDuplicateCorrelation = errors.New("correlation id already in flight")

	// ErrOverloaded is returned when the invocation queue is full
	ErrOverloaded = errors.New("server overloaded")

	// ErrTooManySessions is returned by Open when the session limit is reached
	ErrTooManySessions = errors.New("too many sessions")

	// ErrShutdown is returned by Open after Shutdown
	ErrShutdown = errors.New("session manager is shut down")

	// ErrStreamStalled is returned when a stream stops draining its frames
	ErrStreamStalled = errors.New("stream stalled")
)

// Event names carried by frames
const (
	EventEndpoint = "endpoint"
	EventMessage  = "message"
)

// Frame is one event on a session stream
type Frame struct {
	Event string
	Data  []byte
}

// Encoder turns a finished invocation into the frame sent to the client
type Encoder func(tools.Outcome) (Frame, error)

// EncodeEnvelope encodes an outcome as a plain JSON message frame
func EncodeEnvelope(out tools.Outcome) (Frame, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode outcome: %w", err)
	}

	return Frame{Event: EventMessage, Data: data}, nil
}

// Session is one open stream and the invocations posted against it
type Session struct {
	id     string
	frames chan Frame
	done   chan struct{}

	mu         sync.Mutex
	closed     bool
	pending    map[string]bool // correlation id -> running
	lastActive time.Time
}

func newSession(id string, buffer int, now time.Time) *Session {
	if buffer < 1 {
		buffer = 1
	}

	return &Session{
		id:         id,
		frames:     make(chan Frame, buffer),
		done:       make(chan struct{}),
		pending:    make(map[string]bool),
		lastActive: now,
	}
}

// ID returns the session identity
func (s *Session) ID() string {
	return s.id
}

// Frames is drained by the stream writer, the only reader
func (s *Session) Frames() <-chan Frame {
	return s.frames
}

// Done is closed when the session is torn down
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) inFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// idleSince reports the last activity and whether the session may be reaped
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActive, !s.closed && len(s.pending) == 0
}

func (s *Session) addPending(correlationID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionNotFound
	}

	if _, exists := s.pending[correlationID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCorrelation, correlationID)
	}

	s.pending[correlationID] = false
	s.lastActive = now

	return nil
}

func (s *Session) dropPending(correlationID string) {
	s.mu.Lock()
	delete(s.pending, correlationID)
	s.mu.Unlock()
}

// begin marks a queued invocation as running. It returns false when the
// session was torn down first.
func (s *Session) begin(correlationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	running, ok := s.pending[correlationID]
	if !ok || running || s.closed {
		return false
	}

	s.pending[correlationID] = true

	return true
}

func (s *Session) finish(correlationID string) {
	s.dropPending(correlationID)
}

// deliver queues f for the stream writer. A full queue is given up to
// stall to drain; after that the stream counts as stalled and
// ErrStreamStalled is returned. It fails once the session is torn down.
func (s *Session) deliver(f Frame, stall time.Duration) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.frames <- f:
		return nil
	default:
	}

	if stall <= 0 {
		return ErrStreamStalled
	}

	timer := time.NewTimer(stall)
	defer timer.Stop()

	select {
	case s.frames <- f:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-timer.C:
		return ErrStreamStalled
	}
}

// teardown marks the session closed and signals the writer. It returns
// the correlation ids that were still queued and will never run.
func (s *Session) teardown() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}

	s.closed = true

	var abandoned []string

	for id, running := range s.pending {
		if !running {
			abandoned = append(abandoned, id)
		}

		delete(s.pending, id)
	}

	sort.Strings(abandoned)
	close(s.done)

	return abandoned, true
}
