package cache

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLocalSize bounds the in-process cache when no size is configured.
const DefaultLocalSize = 1024

// LocalBackend is an in-process LRU used when Redis is not configured.
type LocalBackend struct {
	cache *lru.Cache[string, []byte]
}

func NewLocalBackend(size int) *LocalBackend {
	if size <= 0 {
		size = DefaultLocalSize
	}
	// lru.New only fails for a non-positive size
	cache, _ := lru.New[string, []byte](size)
	return &LocalBackend{cache: cache}
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.cache.Get(key)
	return v, ok, nil
}

func (b *LocalBackend) Set(_ context.Context, key string, value []byte) error {
	b.cache.Add(key, value)
	return nil
}

func (b *LocalBackend) Flush(_ context.Context, prefix string) (int64, error) {
	var n int64
	for _, key := range b.cache.Keys() {
		if strings.HasPrefix(key, prefix) && b.cache.Remove(key) {
			n++
		}
	}
	return n, nil
}

func (b *LocalBackend) Len() int {
	return b.cache.Len()
}

func (b *LocalBackend) Shared() bool { return false }

func (b *LocalBackend) Name() string { return "local" }
