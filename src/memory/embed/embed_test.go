package embed

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDummyEmbeddingDeterministic(t *testing.T) {
	a := DummyEmbedding("hello world", DefaultDim)
	b := DummyEmbedding("hello world", DefaultDim)
	if len(a) != DefaultDim {
		t.Fatalf("dim = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}
	c := DummyEmbedding("something else", DefaultDim)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("distinct texts produced identical embeddings")
	}
}

func TestFitDim(t *testing.T) {
	long := FitDim([]float32{1, 2, 3, 4}, 2)
	if len(long) != 2 || long[1] != 2 {
		t.Fatalf("truncate: %v", long)
	}
	short := FitDim([]float32{1, 2}, 4)
	if len(short) != 4 || short[2] != 0 {
		t.Fatalf("pad: %v", short)
	}
}

func TestForProviderUnknown(t *testing.T) {
	if _, err := ForProvider(context.Background(), "carrier-pigeon", ""); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

// countingEmbedder tracks how many calls reach the provider.
type countingEmbedder struct {
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("provider down")
	}
	return DummyEmbedding(text, 8), nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("provider down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = DummyEmbedding(t, 8)
	}
	return out, nil
}

func TestCachedEmbedderDeduplicates(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 16, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := cached.Embed(ctx, "repeated snippet"); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", inner.calls)
	}
}

func TestCachedEmbedderBatchPartialHit(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 16, time.Minute)

	if _, err := cached.Embed(ctx, "warm"); err != nil {
		t.Fatal(err)
	}
	vecs, err := cached.EmbedBatch(ctx, []string{"warm", "cold"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[0] == nil || vecs[1] == nil {
		t.Fatalf("vecs = %v", vecs)
	}
	// One call for the warm-up, one batch call for the single miss.
	if inner.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", inner.calls)
	}
}
