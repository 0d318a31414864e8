package storage

import (
	"context"
	"testing"

	"github.com/kyleking/nest-mcp/internal/config"
)

// NewTestEngine creates an in-memory engine with an empty companies table.
// Returns the engine and a cleanup function that should be deferred.
func NewTestEngine(t *testing.T) (*Engine, func()) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = ""
	cfg.Database.MaxConnections = 4

	engine, err := NewEngine(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to create test engine: %v", err)
	}

	if err := engine.CreateCompaniesTable(context.Background()); err != nil {
		engine.Close()
		t.Fatalf("failed to create companies table: %v", err)
	}

	cleanup := func() {
		if err := engine.Close(); err != nil {
			t.Errorf("failed to close test engine: %v", err)
		}
	}

	return engine, cleanup
}

// NewTestEngineWithData creates an in-memory engine pre-seeded with companies.
// Returns the engine and a cleanup function that should be deferred.
func NewTestEngineWithData(t *testing.T, companies []Company) (*Engine, func()) {
	t.Helper()

	engine, cleanup := NewTestEngine(t)

	if err := engine.InsertCompanies(context.Background(), companies); err != nil {
		cleanup()
		t.Fatalf("failed to seed test companies: %v", err)
	}

	return engine, cleanup
}
