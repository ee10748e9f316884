package models

import "context"

// Options tunes a single completion call. JSONMode asks the provider to emit
// a bare JSON object; providers without a native switch get it via prompt.
type Options struct {
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// Model is a single-turn text completion provider. The memory pipeline uses
// it for fact extraction and rolling summarization, both of which are
// prompt-in, text-out.
type Model interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

const defaultMaxTokens = 1024

func (o Options) maxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return defaultMaxTokens
}

// jsonInstruction is appended for providers without a native JSON mode.
const jsonInstruction = "\n\nRespond with a single JSON object and nothing else."
