package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kyleking/nest-mcp/internal/cache"
)

// CachedExecutor serves repeated statements from a cache. The dataset is
// read-only, so identical statements return identical rows until the TTL.
// Results are cached as values, never re-decoded, so every column keeps
// its Go type. Callers get their own copy on both paths.
type CachedExecutor struct {
	next  Executor
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedExecutor wraps next with c
func NewCachedExecutor(next Executor, c cache.Cache, ttl time.Duration) *CachedExecutor {
	return &CachedExecutor{next: next, cache: c, ttl: ttl}
}

// Query returns a cached result when one exists and stores fresh ones
func (c *CachedExecutor) Query(ctx context.Context, text string, rowCap int, args ...any) (*QueryResult, error) {
	key, err := cacheKey(text, rowCap, args)
	if err != nil {
		return c.next.Query(ctx, text, rowCap, args...)
	}

	if value, err := c.cache.Get(ctx, key); err == nil {
		if cached, ok := value.(*QueryResult); ok {
			return cached.Clone(), nil
		}
	}

	result, err := c.next.Query(ctx, text, rowCap, args...)
	if err != nil {
		return nil, err
	}

	stored := result.Clone()
	_ = c.cache.Set(ctx, key, stored, stored.approxSize(), c.ttl)

	return result, nil
}

// cacheKey joins the statement, cap and encoded arguments. Arguments are
// typed so 1 and "1" never share a key.
func cacheKey(text string, rowCap int, args []any) (string, error) {
	var sb strings.Builder

	sb.WriteString(strconv.Itoa(rowCap))
	sb.WriteByte(0)
	sb.WriteString(text)

	for _, arg := range args {
		encoded, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("failed to encode argument: %w", err)
		}

		sb.WriteByte(0)
		fmt.Fprintf(&sb, "%T:", arg)
		sb.Write(encoded)
	}

	return sb.String(), nil
}
