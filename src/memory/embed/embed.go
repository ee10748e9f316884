package embed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// DefaultDim is the vector width every store schema is provisioned for.
// Providers whose native width differs are padded or truncated to it.
const DefaultDim = 1536

// Embedder is a pluggable text-embedding provider. EmbedBatch embeds a slice
// in one round trip where the provider supports it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrNotSupported is returned by providers that do not offer embeddings.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// embedEach is the batch fallback for providers without a native batch call.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// FitDim pads with zeros or truncates vec to dim.
func FitDim(vec []float32, dim int) []float32 {
	if dim <= 0 || len(vec) == dim {
		return vec
	}
	if len(vec) > dim {
		return vec[:dim]
	}
	fitted := make([]float32, dim)
	copy(fitted, vec)
	return fitted
}

// ---------- Dummy (fallback) ----------

// DummyEmbedder produces deterministic vectors from byte content. Good enough
// for tests and for keeping the pipeline alive without any provider key.
type DummyEmbedder struct {
	Dim int
}

func (d DummyEmbedder) dim() int {
	if d.Dim > 0 {
		return d.Dim
	}
	return DefaultDim
}

func (d DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text, d.dim()), nil
}

func (d DummyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, d, texts)
}

// DummyEmbedding hashes text bytes into a dim-wide vector.
func DummyEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultDim
	}
	vec := make([]float32, dim)
	for i, ch := range []byte(text) {
		vec[i%dim] += float32(ch) / 255.0
	}
	return vec
}

// ForProvider returns the embedder for a named provider.
func ForProvider(ctx context.Context, provider, model string) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return NewOpenAIEmbedder(model)
	case "google", "gemini":
		return NewGeminiEmbedder(model)
	case "ollama":
		return NewOllamaEmbedder(model)
	case "voyage", "claude", "anthropic":
		return NewVoyageEmbedder(model)
	case "fastembed":
		opts := defaultFastEmbedOptions()
		if opts != nil && model != "" {
			opts.Model = model
		}
		return NewFastEmbedder(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", provider)
	}
}

// Auto chooses a provider from env:
// COMPANION_EMBED_PROVIDER=openai|google|gemini|ollama|voyage|fastembed
// COMPANION_EMBED_MODEL=<model string>
// COMPANION_EMBED_DIM=<vector width, default 1536>
// If nothing usable is configured, the dummy embedder keeps the pipeline
// alive without any provider key.
func Auto() Embedder {
	if provider := os.Getenv("COMPANION_EMBED_PROVIDER"); provider != "" {
		e, err := ForProvider(context.Background(), provider, os.Getenv("COMPANION_EMBED_MODEL"))
		if err == nil {
			return e
		}
		log.Warn("embedding provider unavailable", "provider", provider, "err", err)
	}
	log.Warn("no embedding provider configured, using dummy embeddings")
	return DummyEmbedder{Dim: EnvDim()}
}

// EnvDim reads COMPANION_EMBED_DIM, defaulting to DefaultDim.
func EnvDim() int {
	if raw := strings.TrimSpace(os.Getenv("COMPANION_EMBED_DIM")); raw != "" {
		if dim, err := strconv.Atoi(raw); err == nil && dim > 0 {
			return dim
		}
	}
	return DefaultDim
}

// Options configures the fastembed provider.
type Options struct {
	Model     string
	CacheDir  string
	MaxLength int
	BatchSize int
}
