package models

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// countingModel records how many completions reach the provider.
type countingModel struct {
	calls int
	reply string
}

func (c *countingModel) Complete(context.Context, string, Options) (string, error) {
	c.calls++
	return c.reply, nil
}

func TestCachedModelHitsSkipProvider(t *testing.T) {
	ctx := context.Background()
	inner := &countingModel{reply: "hello"}
	cached := NewCachedModel(inner, 8, time.Minute, "")

	for i := 0; i < 3; i++ {
		got, err := cached.Complete(ctx, "same prompt", Options{})
		if err != nil {
			t.Fatal(err)
		}
		if got != "hello" {
			t.Fatalf("got %q", got)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", inner.calls)
	}
}

func TestCachedModelOptionsPartOfKey(t *testing.T) {
	ctx := context.Background()
	inner := &countingModel{reply: "out"}
	cached := NewCachedModel(inner, 8, time.Minute, "")

	if _, err := cached.Complete(ctx, "p", Options{Temperature: 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.Complete(ctx, "p", Options{Temperature: 0.7}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", inner.calls)
	}
}

func TestCachedModelPersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "completions.json")

	first := NewCachedModel(&countingModel{reply: "persisted"}, 8, time.Hour, file)
	if _, err := first.Complete(ctx, "question", Options{}); err != nil {
		t.Fatal(err)
	}

	inner := &countingModel{reply: "fresh"}
	second := NewCachedModel(inner, 8, time.Hour, file)
	got, err := second.Complete(ctx, "question", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "persisted" {
		t.Fatalf("got %q, want cached answer", got)
	}
	if inner.calls != 0 {
		t.Fatalf("provider calls = %d, want 0", inner.calls)
	}
}
