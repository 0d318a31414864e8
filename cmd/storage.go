package cmd

import (
	"context"
	"fmt"

	"github.com/kyleking/nest-mcp/internal/cache"
	"github.com/kyleking/nest-mcp/internal/config"
	"github.com/kyleking/nest-mcp/internal/storage"
)

// initializeEngine opens the DuckDB engine described by cfg
func initializeEngine(ctx context.Context, cfg *config.Config) (*storage.Engine, error) {
	engine, err := storage.NewEngine(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}

	return engine, nil
}

// newExecutor wraps engine in the result cache when caching is enabled.
// The returned function releases the cache.
func newExecutor(engine *storage.Engine, cfg *config.Config) (storage.Executor, func()) {
	if !cfg.Cache.Enabled {
		return engine, func() {}
	}

	c := cache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTLDuration(), cfg.Cache.CleanupFreqDuration())

	return storage.NewCachedExecutor(engine, c, cfg.Cache.TTLDuration()), func() { _ = c.Close() }
}
