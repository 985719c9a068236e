// Package cache memoizes search results. Keys are derived from the query's
// n-grams, the limit and the index generation, so any index mutation makes
// older entries unreachable without an explicit invalidation. Generations
// are local to a process, so keys in a shared backend also carry an
// instance id.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/metrics"
)

const keyPrefix = "trigram:search:"

// Backend stores encoded results.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Flush drops every key with the given prefix and reports how many
	// were removed.
	Flush(ctx context.Context, prefix string) (int64, error)
	// Shared reports whether other processes read and write the same keys.
	Shared() bool
	Name() string
}

type QueryCache struct {
	backend    Backend
	tokenizer  tokenizer.Tokenizer
	generation func() uint64
	instance   string
	metrics    *metrics.Metrics
	group      singleflight.Group
	logger     *slog.Logger
	hits       atomic.Int64
	misses     atomic.Int64
}

// New builds a cache over backend. generation reports the current index
// generation; m may be nil.
func New(backend Backend, tok tokenizer.Tokenizer, generation func() uint64, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		backend:    backend,
		tokenizer:  tok,
		generation: generation,
		metrics:    m,
	}
	if backend.Shared() {
		c.instance = uuid.NewString()
	}
	c.logger = slog.Default().With("component", "query-cache", "backend", backend.Name(), "instance", c.instance)
	return c
}

func (c *QueryCache) Get(ctx context.Context, query string, limit int) (*executor.SearchResult, bool) {
	return c.get(ctx, c.buildKey(query, limit), query)
}

func (c *QueryCache) get(ctx context.Context, key, query string) (*executor.SearchResult, bool) {
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if err != nil || !ok {
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	// entries are shared by queries with the same n-grams
	result.Query = query
	c.hit()
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, query string, limit int, result *executor.SearchResult) {
	c.set(ctx, c.buildKey(query, limit), result)
}

func (c *QueryCache) set(ctx context.Context, key string, result *executor.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns a cached result or runs computeFn once for all
// concurrent callers of the same key. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	limit int,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	key := c.buildKey(query, limit)
	if result, ok := c.get(ctx, key, query); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	shared := *val.(*executor.SearchResult)
	shared.Query = query
	return &shared, false, nil
}

func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.Flush(ctx, keyPrefix)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) Backend() string {
	return c.backend.Name()
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) buildKey(query string, limit int) string {
	var gen uint64
	if c.generation != nil {
		gen = c.generation()
	}
	raw := fmt.Sprintf("%s\x00limit=%d\x00gen=%d\x00instance=%s", strings.Join(c.tokenizer.Tokenize(query), "\x00"), limit, gen, c.instance)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
