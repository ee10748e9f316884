package extract

import (
	"context"
	"strings"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// Intensity scoring: each intensity keyword adds a little, each milestone
// phrase adds a lot. Messages at or above SpecialMomentThreshold are recorded
// as special moments by the relationship scorer.
const (
	intensityWeight        = 0.2
	milestoneWeight        = 0.4
	SpecialMomentThreshold = 0.5
	maxImportance          = 1.0
)

var intensityKeywords = []string{
	"非常", "特别", "超级", "真的", "太", "最",
	"very", "really", "so much", "extremely", "absolutely",
}

var milestonePhrases = []string{
	"第一次", "永远", "难忘", "一辈子", "从来没有",
	"first time", "never forget", "always remember", "forever", "never told anyone",
}

var positiveKeywords = []string{
	"开心", "高兴", "喜欢", "爱", "谢谢", "太好了", "哈哈",
	"happy", "love", "great", "wonderful", "thank", "glad", "awesome",
}

var negativeKeywords = []string{
	"难过", "伤心", "生气", "讨厌", "烦", "哭",
	"sad", "angry", "upset", "hate", "terrible", "cry", "awful",
}

// RuleExtractor is the deterministic path: ordered pattern rules for facts,
// keyword tables for topics, intensity scoring and a coarse emotion tag.
type RuleExtractor struct {
	rules  []Rule
	topics map[model.Topic][]string
}

// NewRuleExtractor builds an extractor over the given tables; nil arguments
// select the defaults.
func NewRuleExtractor(rules []Rule, topics map[model.Topic][]string) *RuleExtractor {
	if rules == nil {
		rules = DefaultRules()
	}
	if topics == nil {
		topics = DefaultTopicKeywords()
	}
	return &RuleExtractor{rules: rules, topics: topics}
}

func (r *RuleExtractor) Extract(_ context.Context, userMessage, _ string) (Result, error) {
	var res Result
	res.Facts = r.extractFacts(userMessage)
	res.Topics = r.classifyTopics(userMessage)
	res.Importance = Importance(userMessage)
	res.Emotion = DetectEmotion(userMessage)

	// Topic sentences double as episodic snippets: they are exactly the
	// fragments worth retrieving by similarity later.
	seen := make(map[string]bool, len(res.Topics))
	for _, te := range res.Topics {
		if !seen[te.Text] {
			seen[te.Text] = true
			res.Episodes = append(res.Episodes, te.Text)
		}
	}
	return res, nil
}

func (r *RuleExtractor) extractFacts(message string) []FactCandidate {
	var out []FactCandidate
	index := make(map[string]int)
	for _, rule := range r.rules {
		for _, match := range rule.Pattern.FindAllStringSubmatch(message, -1) {
			value := strings.TrimSpace(match[len(match)-1])
			if value == "" {
				continue
			}
			key := rule.Key
			if rule.ListValued {
				// Distinct values become distinct rows; duplicates collapse.
				key = rule.Key + ":" + value
			}
			cand := FactCandidate{
				Category:   rule.Category,
				Key:        key,
				Value:      value,
				Confidence: rule.Confidence,
			}
			id := string(cand.Category) + "\x00" + cand.Key
			if i, ok := index[id]; ok {
				// Single-valued slots: the latest match in this call wins.
				out[i] = cand
				continue
			}
			index[id] = len(out)
			out = append(out, cand)
		}
	}
	return out
}

func (r *RuleExtractor) classifyTopics(message string) []TopicEntry {
	var out []TopicEntry
	seen := make(map[model.Topic]map[string]bool)
	for _, sentence := range splitSentences(message) {
		lower := strings.ToLower(sentence)
		for _, topic := range model.Topics() {
			if !containsAny(lower, r.topics[topic]) {
				continue
			}
			if seen[topic] == nil {
				seen[topic] = make(map[string]bool)
			}
			if seen[topic][sentence] {
				continue
			}
			seen[topic][sentence] = true
			out = append(out, TopicEntry{Topic: topic, Text: sentence})
		}
	}
	return out
}

// Importance accumulates intensity and milestone weights for a message.
func Importance(message string) float64 {
	lower := strings.ToLower(message)
	score := 0.0
	for _, kw := range intensityKeywords {
		if strings.Contains(lower, kw) {
			score += intensityWeight
		}
	}
	for _, phrase := range milestonePhrases {
		if strings.Contains(lower, phrase) {
			score += milestoneWeight
		}
	}
	if score > maxImportance {
		score = maxImportance
	}
	return score
}

// DetectEmotion tags a message "positive", "negative", or "" when neither
// keyword set dominates.
func DetectEmotion(message string) string {
	lower := strings.ToLower(message)
	pos, neg := 0, 0
	for _, kw := range positiveKeywords {
		if strings.Contains(lower, kw) {
			pos++
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	default:
		return ""
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

var _ Extractor = (*RuleExtractor)(nil)
