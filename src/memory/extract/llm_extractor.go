package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
	"github.com/Seren-Labs/companion-memory/src/models"
)

const llmExtractionPrompt = `You extract durable memories from one exchange in an ongoing chat.

User message:
%s

Assistant reply:
%s

Return a JSON object with exactly this shape:
{"longTerm":[{"category":"preference|fact|relationship|goal|trigger","key":"short identifier","value":"the fact","confidence":0.0}],"episodic":["short narrative snippet worth remembering"]}

Only include facts the user stated about themselves. Use empty arrays when nothing qualifies.`

// llmPayload mirrors the JSON shape the model is instructed to emit.
type llmPayload struct {
	LongTerm []struct {
		Category   string  `json:"category"`
		Key        string  `json:"key"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"longTerm"`
	Episodic []string `json:"episodic"`
}

// LLMExtractor asks the completion capability for structured candidates.
// Output is parsed strictly and then validated; any schema mismatch is
// treated like a capability failure and yields an empty result.
type LLMExtractor struct {
	model models.Model
}

func NewLLMExtractor(m models.Model) *LLMExtractor {
	return &LLMExtractor{model: m}
}

func (l *LLMExtractor) Extract(ctx context.Context, userMessage, agentReply string) (Result, error) {
	raw, err := l.model.Complete(ctx, fmt.Sprintf(llmExtractionPrompt, userMessage, agentReply), models.Options{
		Temperature: 0,
		MaxTokens:   512,
		JSONMode:    true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("llm extraction: %w", err)
	}
	return parsePayload(raw)
}

// parsePayload is strict parse-then-validate: no partial recovery of
// malformed structure.
func parsePayload(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	// Models occasionally fence their JSON despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var payload llmPayload
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("llm extraction: malformed output: %w", err)
	}

	var res Result
	for _, f := range payload.LongTerm {
		cat := model.Category(strings.ToLower(strings.TrimSpace(f.Category)))
		if !model.ValidCategory(cat) {
			return Result{}, fmt.Errorf("llm extraction: invalid category %q", f.Category)
		}
		value := strings.TrimSpace(f.Value)
		if value == "" {
			return Result{}, fmt.Errorf("llm extraction: empty value for key %q", f.Key)
		}
		res.Facts = append(res.Facts, FactCandidate{
			Category:   cat,
			Key:        strings.TrimSpace(f.Key),
			Value:      value,
			Confidence: model.Clamp(f.Confidence, 0, 1),
		})
	}
	for _, ep := range payload.Episodic {
		if ep = strings.TrimSpace(ep); ep != "" {
			res.Episodes = append(res.Episodes, ep)
		}
	}
	return res, nil
}

var _ Extractor = (*LLMExtractor)(nil)

// CombinedExtractor runs the rule path always and the LLM path when
// configured, unioning candidates. An LLM failure is logged and otherwise
// invisible: the rule results still stand.
type CombinedExtractor struct {
	rule   *RuleExtractor
	llm    Extractor
	logger *log.Logger
}

func NewCombinedExtractor(rule *RuleExtractor, llm Extractor, logger *log.Logger) *CombinedExtractor {
	if rule == nil {
		rule = NewRuleExtractor(nil, nil)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CombinedExtractor{rule: rule, llm: llm, logger: logger}
}

func (c *CombinedExtractor) Extract(ctx context.Context, userMessage, agentReply string) (Result, error) {
	res, _ := c.rule.Extract(ctx, userMessage, agentReply)
	if c.llm == nil {
		return res, nil
	}
	extra, err := c.llm.Extract(ctx, userMessage, agentReply)
	if err != nil {
		c.logger.Warn("llm extraction skipped", "err", err)
		return res, nil
	}
	return merge(res, extra), nil
}

var _ Extractor = (*CombinedExtractor)(nil)
