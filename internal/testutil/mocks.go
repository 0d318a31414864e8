package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/kyleking/nest-mcp/internal/storage"
)

// MockExecutor implements storage.Executor with testify expectations
type MockExecutor struct {
	mock.Mock
}

// NewMockExecutor creates a mock executor with no expectations
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// Query records the call and returns the configured result
func (m *MockExecutor) Query(ctx context.Context, text string, rowCap int, args ...any) (*storage.QueryResult, error) {
	ret := m.Called(ctx, text, rowCap, args)

	var result *storage.QueryResult
	if r := ret.Get(0); r != nil {
		result = r.(*storage.QueryResult)
	}

	return result, ret.Error(1)
}

// GatedExecutor blocks every query until Release is called. It reports
// each started query on Started.
type GatedExecutor struct {
	Started chan string

	result  *storage.QueryResult
	err     error
	gate    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	queries []string
}

// GateOption is a functional option for configuring GatedExecutor
type GateOption func(*GatedExecutor)

// WithGateResult sets the result returned once released
func WithGateResult(result *storage.QueryResult) GateOption {
	return func(g *GatedExecutor) {
		g.result = result
	}
}

// WithGateError sets the error returned once released
func WithGateError(err error) GateOption {
	return func(g *GatedExecutor) {
		g.err = err
	}
}

// NewGatedExecutor creates a closed gate
func NewGatedExecutor(opts ...GateOption) *GatedExecutor {
	g := &GatedExecutor{
		Started: make(chan string, 64),
		result:  NewTestResult([]string{"name"}),
		gate:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Query blocks until Release or ctx is done
func (g *GatedExecutor) Query(ctx context.Context, text string, _ int, _ ...any) (*storage.QueryResult, error) {
	g.mu.Lock()
	g.queries = append(g.queries, text)
	g.mu.Unlock()

	g.Started <- text

	select {
	case <-g.gate:
		return g.result, g.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release unblocks every pending and future query
func (g *GatedExecutor) Release() {
	g.once.Do(func() { close(g.gate) })
}

// Queries returns the statements seen so far
func (g *GatedExecutor) Queries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.queries...)
}
