package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := NewLRUCache(2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if v, ok := c.Get("c"); !ok || v.(int) != 3 {
		t.Fatalf("c = %v, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d", c.Len())
	}
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	c := NewLRUCache(4, 10*time.Millisecond)
	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry served")
	}
}

func TestLRUCacheDumpRestore(t *testing.T) {
	c := NewLRUCache(4, time.Hour)
	c.Set("k", "v")

	restored := NewLRUCache(4, time.Hour)
	restored.Restore(c.Dump())
	if v, ok := restored.Get("k"); !ok || v.(string) != "v" {
		t.Fatalf("restored = %v, %v", v, ok)
	}
}

func TestLRUCacheRestoreDropsExpired(t *testing.T) {
	restored := NewLRUCache(4, time.Hour)
	restored.Restore(map[string]CacheEntry{
		"dead": {Value: "v", ExpiresAt: time.Now().Add(-time.Minute)},
	})
	if restored.Len() != 0 {
		t.Fatal("expired entry restored")
	}
}

func BenchmarkLRUCacheConcurrentAccess(b *testing.B) {
	c := NewLRUCache(1000, 5*time.Minute)
	for i := 0; i < 100; i++ {
		c.Set(HashKey(fmt.Sprint(i)), "value")
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := HashKey(fmt.Sprint(i % 100))
			if i%2 == 0 {
				c.Get(key)
			} else {
				c.Set(key, "value")
			}
			i++
		}
	})
}
