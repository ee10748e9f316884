package embed

import (
	"context"
	"time"

	"github.com/Seren-Labs/companion-memory/src/cache"
)

// CachedEmbedder memoizes embeddings behind an LRU with TTL. Episodic
// extraction frequently re-embeds near-identical snippets within a session,
// so even a small cache saves real provider calls.
type CachedEmbedder struct {
	inner Embedder
	cache *cache.LRUCache
}

func NewCachedEmbedder(inner Embedder, capacity int, ttl time.Duration) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedEmbedder{inner: inner, cache: cache.NewLRUCache(capacity, ttl)}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.HashKey(text)
	if hit, ok := c.cache.Get(key); ok {
		if vec, ok := hit.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec)
	return vec, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var misses []string
	var missIdx []int
	for i, text := range texts {
		if hit, ok := c.cache.Get(cache.HashKey(text)); ok {
			if vec, ok := hit.([]float32); ok {
				out[i] = vec
				continue
			}
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}
	if len(misses) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		c.cache.Set(cache.HashKey(misses[j]), vec)
	}
	return out, nil
}
