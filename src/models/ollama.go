package models

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

type OllamaModel struct {
	Client *ollama.Client
	Model  string
}

func NewOllamaModel(model string) (*OllamaModel, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}
	httpClient := &http.Client{Timeout: 120 * time.Second}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaModel{Client: ollama.NewClient(u, httpClient), Model: model}, nil
}

func (o *OllamaModel) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	req := &ollama.GenerateRequest{
		Model:  o.Model,
		Prompt: prompt,
		Options: map[string]any{
			"temperature": opts.Temperature,
			"num_predict": opts.maxTokens(),
		},
	}
	if opts.JSONMode {
		req.Format = []byte(`"json"`)
	}
	var text strings.Builder
	if err := o.Client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		if gr.Response != "" {
			text.WriteString(gr.Response)
		}
		return nil
	}); err != nil {
		return "", err
	}
	return text.String(), nil
}

var _ Model = (*OllamaModel)(nil)
