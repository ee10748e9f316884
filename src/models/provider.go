package models

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// NewProvider returns a concrete Model for a named provider.
func NewProvider(ctx context.Context, provider, model string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return NewOpenAIModel(model), nil
	case "gemini", "google":
		return NewGeminiModel(ctx, model)
	case "ollama":
		return NewOllamaModel(model)
	case "anthropic", "claude":
		return NewClaudeModel(model), nil
	case "dummy":
		return NewDummyModel(), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// Auto picks a provider from env:
// COMPANION_LLM_PROVIDER=openai|gemini|ollama|anthropic|dummy
// COMPANION_LLM_MODEL=<model string>
// If unset, it infers from available API keys, else the dummy model. The
// result is wrapped in a persistent completion cache when
// COMPANION_CACHE_FILE is set.
func Auto(ctx context.Context) Model {
	provider := os.Getenv("COMPANION_LLM_PROVIDER")
	model := os.Getenv("COMPANION_LLM_MODEL")

	if provider == "" {
		switch {
		case os.Getenv("ANTHROPIC_API_KEY") != "":
			provider = "anthropic"
		case os.Getenv("OPENAI_API_KEY") != "" || os.Getenv("OPENAI_KEY") != "":
			provider = "openai"
		case os.Getenv("GOOGLE_API_KEY") != "" || os.Getenv("GEMINI_API_KEY") != "":
			provider = "gemini"
		case os.Getenv("OLLAMA_HOST") != "":
			provider = "ollama"
		}
	}

	var m Model
	if provider != "" {
		var err error
		m, err = NewProvider(ctx, provider, model)
		if err != nil {
			log.Warn("llm provider unavailable", "provider", provider, "err", err)
			m = nil
		}
	}
	if m == nil {
		log.Warn("no llm provider configured, using dummy model")
		m = NewDummyModel()
	}

	if file := os.Getenv("COMPANION_CACHE_FILE"); file != "" {
		return NewCachedModel(m, 512, 24*time.Hour, file)
	}
	return m
}
