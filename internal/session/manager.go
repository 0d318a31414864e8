package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/nest-mcp/internal/logging"
	"github.com/kyleking/nest-mcp/internal/tools"
	"github.com/kyleking/nest-mcp/internal/worker"
)

// Dispatcher runs one invocation to completion
type Dispatcher interface {
	Dispatch(ctx context.Context, inv tools.Invocation) tools.Outcome
}

// DefaultStallTimeout is the StallTimeout used when none is set
const DefaultStallTimeout = 5 * time.Second

// Options configures a Manager
type Options struct {
	MessagePath string
	IdleTimeout time.Duration // 0 disables reaping
	MaxSessions int           // 0 is unlimited
	Workers     int
	QueueSize   int
	FrameBuffer int
	Logger      *logging.Logger
	Now         func() time.Time

	// StallTimeout bounds how long a delivery waits on a full frame queue
	// before the stream is torn down as stalled. Defaults to DefaultStallTimeout.
	StallTimeout time.Duration
}

// Manager owns the session table, the invocation pool and the idle janitor
type Manager struct {
	dispatcher Dispatcher
	pool       *worker.Pool
	opts       Options
	logger     *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	shutdown bool

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager creates a manager and starts its janitor when IdleTimeout is set
func NewManager(dispatcher Dispatcher, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.MessagePath == "" {
		opts.MessagePath = "/message"
	}

	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}

	m := &Manager{
		dispatcher: dispatcher,
		opts:       opts,
		logger:     opts.Logger.WithField("component", "session"),
		sessions:   make(map[string]*Session),
		stop:       make(chan struct{}),
	}

	m.pool = worker.NewPool(opts.Workers, opts.QueueSize, worker.WithPanicHandler(func(taskID string, recovered any) {
		m.logger.WithFields(map[string]any{"task": taskID, "panic": fmt.Sprint(recovered)}).Error("invocation task panicked")
	}))

	if opts.IdleTimeout > 0 {
		m.wg.Add(1)

		go m.janitor(janitorInterval(opts.IdleTimeout))
	}

	return m
}

func janitorInterval(idle time.Duration) time.Duration {
	interval := idle / 4
	if interval < time.Second {
		interval = time.Second
	}

	return interval
}

// Open allocates a session. The endpoint frame telling the client where
// to post is queued before the session becomes visible to Post.
func (m *Manager) Open() (*Session, error) {
	id := uuid.NewString()
	s := newSession(id, m.opts.FrameBuffer, m.opts.Now())

	endpoint := m.opts.MessagePath + "?sessionId=" + url.QueryEscape(id)
	s.frames <- Frame{Event: EventEndpoint, Data: []byte(endpoint)}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, ErrShutdown
	}

	if m.opts.MaxSessions > 0 && len(m.sessions) >= m.opts.MaxSessions {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, m.opts.MaxSessions)
	}

	m.sessions[id] = s
	m.logger.WithField("session_id", id).Debug("session opened")

	return s, nil
}

// Get returns the live session with id
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]

	return s, ok
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

// Post queues inv on the session's behalf and returns its correlation id.
// The outcome is encoded with encode and delivered on the session stream;
// a nil encoder sends the plain envelope.
func (m *Manager) Post(sessionID string, inv tools.Invocation, encode Encoder) (string, error) {
	s, ok := m.Get(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}

	if encode == nil {
		encode = EncodeEnvelope
	}

	if inv.CorrelationID == "" {
		inv.CorrelationID = uuid.NewString()
	}

	if err := s.addPending(inv.CorrelationID, m.opts.Now()); err != nil {
		return "", err
	}

	task := worker.Task{
		ID:   sessionID + "/" + inv.CorrelationID,
		Func: func(ctx context.Context) { m.run(ctx, s, inv, encode) },
	}

	if err := m.pool.Submit(task); err != nil {
		s.dropPending(inv.CorrelationID)
		return "", fmt.Errorf("%w: %w", ErrOverloaded, err)
	}

	return inv.CorrelationID, nil
}

// run dispatches inv under the pool context, so a closed stream never
// cancels a running query; only Shutdown does.
func (m *Manager) run(ctx context.Context, s *Session, inv tools.Invocation, encode Encoder) {
	logger := m.logger.WithFields(map[string]any{
		"session_id":     s.id,
		"correlation_id": inv.CorrelationID,
	})

	if !s.begin(inv.CorrelationID) {
		logger.Debug("session closed before dispatch")
		return
	}

	out := m.dispatcher.Dispatch(ctx, inv)
	s.finish(inv.CorrelationID)

	frame, err := encode(out)
	if err != nil {
		ref := uuid.NewString()
		logger.WithField("reference", ref).ErrorWithErr("failed to encode outcome", err)

		// The caller still gets a terminal answer for its correlation id.
		frame, err = encode(tools.Outcome{
			CorrelationID: inv.CorrelationID,
			ToolName:      inv.ToolName,
			Err:           &tools.ToolError{Code: tools.CodeInternal, Message: "failed to encode result", Reference: ref},
		})
		if err != nil {
			logger.ErrorWithErr("failed to encode error outcome", err)
			return
		}
	}

	if err := m.deliver(s, frame); err != nil {
		logger.WithError(err).Debug("dropping outcome")
	}
}

// deliver queues f on s. A stalled stream is torn down so it cannot hold
// a worker or the caller.
func (m *Manager) deliver(s *Session, f Frame) error {
	err := s.deliver(f, m.opts.StallTimeout)
	if errors.Is(err, ErrStreamStalled) {
		m.remove(s, "stalled")
	}

	return err
}

// Deliver queues a frame that is not tied to an invocation. It counts
// as session activity for idle reaping.
func (m *Manager) Deliver(sessionID string, f Frame) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.touch(m.opts.Now())

	return m.deliver(s, f)
}

// Queued returns the number of invocations waiting for a worker
func (m *Manager) Queued() int {
	return m.pool.Queued()
}

// Close tears down the session with id. Closing twice is a no-op.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		m.teardown(s, "closed")
	}
}

// remove drops s from the table if it is still registered and tears it down
func (m *Manager) remove(s *Session, reason string) {
	m.mu.Lock()
	if current, ok := m.sessions[s.id]; ok && current == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()

	m.teardown(s, reason)
}

func (m *Manager) teardown(s *Session, reason string) {
	abandoned, first := s.teardown()
	if !first {
		return
	}

	logger := m.logger.WithFields(map[string]any{
		"session_id": s.id,
		"reason":     reason,
	})

	if len(abandoned) > 0 {
		logger.WithFields(map[string]any{
			"abandoned": abandoned,
		}).WithError(ErrSessionClosed).Info("queued invocations abandoned")
	}

	logger.Debug("session torn down")
}

// Shutdown closes every session, then stops the janitor and the pool
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		sessions := m.sessions
		m.sessions = make(map[string]*Session)
		m.mu.Unlock()

		for _, s := range sessions {
			m.teardown(s, "shutdown")
		}

		close(m.stop)
		m.wg.Wait()
		m.pool.Stop()
	})
}

func (m *Manager) janitor(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle closes sessions idle past IdleTimeout with nothing in flight
func (m *Manager) reapIdle() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}

	cutoff := m.opts.Now().Add(-m.opts.IdleTimeout)

	var idle []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		last, reapable := s.idleSince()
		if reapable && last.Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.teardown(s, "idle")
	}

	if len(idle) > 0 {
		m.logger.WithField("count", len(idle)).Info("reaped idle sessions")
	}

	return len(idle)
}
