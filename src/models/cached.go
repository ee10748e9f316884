package models

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/Seren-Labs/companion-memory/src/cache"
)

// CachedModel wraps a Model and caches completions. With a FilePath the cache
// survives restarts; writes go to a temp file first, then rename.
type CachedModel struct {
	Model    Model
	Cache    *cache.LRUCache
	FilePath string
}

func NewCachedModel(model Model, size int, ttl time.Duration, filePath string) *CachedModel {
	c := &CachedModel{
		Model:    model,
		Cache:    cache.NewLRUCache(size, ttl),
		FilePath: filePath,
	}
	if filePath != "" {
		c.load()
	}
	return c
}

func (c *CachedModel) load() {
	f, err := os.Open(c.FilePath)
	if err != nil {
		return
	}
	defer f.Close()

	var dump map[string]cache.CacheEntry
	if err := json.NewDecoder(f).Decode(&dump); err == nil {
		c.Cache.Restore(dump)
	}
}

func (c *CachedModel) save() {
	if c.FilePath == "" {
		return
	}
	dump := c.Cache.Dump()

	tmp := c.FilePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return
	}
	if err := json.NewEncoder(f).Encode(dump); err != nil {
		f.Close()
		os.Remove(tmp)
		return
	}
	f.Close()
	os.Rename(tmp, c.FilePath)
}

// Complete checks the cache before calling the underlying model. Options are
// part of the key: the same prompt at a different temperature is a different
// completion.
func (c *CachedModel) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	key := cache.HashKey(cacheKey(prompt, opts))
	if val, ok := c.Cache.Get(key); ok {
		if text, ok := val.(string); ok {
			return text, nil
		}
	}

	text, err := c.Model.Complete(ctx, prompt, opts)
	if err != nil {
		return "", err
	}

	c.Cache.Set(key, text)
	c.save()
	return text, nil
}

func cacheKey(prompt string, opts Options) string {
	raw, _ := json.Marshal(struct {
		Prompt string
		Opts   Options
	}{prompt, opts})
	return string(raw)
}

var _ Model = (*CachedModel)(nil)
