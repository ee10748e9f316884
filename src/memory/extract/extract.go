// Package extract turns raw user utterances into candidate facts, topic
// memories, and episodic snippets. Two strategies exist: deterministic rule
// tables and an LLM-assisted pass; both are best-effort and their candidate
// sets are unioned by the caller.
package extract

import (
	"context"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// FactCandidate is an unpersisted long-term fact proposal.
type FactCandidate struct {
	Category   model.Category
	Key        string
	Value      string
	Confidence float64
}

// TopicEntry assigns a sentence to a topic bucket.
type TopicEntry struct {
	Topic model.Topic
	Text  string
}

// Result is everything one extraction pass learned from a turn.
type Result struct {
	Facts    []FactCandidate
	Episodes []string
	Topics   []TopicEntry

	// Emotion is a coarse tag ("positive", "negative" or empty) used by the
	// relationship scorer.
	Emotion string

	// Importance is the accumulated intensity score for the message; values
	// at or above the configured threshold mark a special moment.
	Importance float64
}

// Extractor produces candidates from a user message and the agent's reply.
// Implementations never fail the turn: an unusable upstream yields an empty
// Result alongside the error, and callers persist nothing from it.
type Extractor interface {
	Extract(ctx context.Context, userMessage, agentReply string) (Result, error)
}

// merge unions b into a, deduplicating facts by (category, key) with the
// later value winning, episodes and topics by exact text.
func merge(a, b Result) Result {
	out := a
	seen := make(map[string]int, len(out.Facts))
	for i, f := range out.Facts {
		seen[string(f.Category)+"\x00"+f.Key] = i
	}
	for _, f := range b.Facts {
		id := string(f.Category) + "\x00" + f.Key
		if i, ok := seen[id]; ok {
			out.Facts[i] = f
			continue
		}
		seen[id] = len(out.Facts)
		out.Facts = append(out.Facts, f)
	}

	haveEp := make(map[string]bool, len(out.Episodes))
	for _, ep := range out.Episodes {
		haveEp[ep] = true
	}
	for _, ep := range b.Episodes {
		if !haveEp[ep] {
			haveEp[ep] = true
			out.Episodes = append(out.Episodes, ep)
		}
	}

	haveTopic := make(map[TopicEntry]bool, len(out.Topics))
	for _, te := range out.Topics {
		haveTopic[te] = true
	}
	for _, te := range b.Topics {
		if !haveTopic[te] {
			haveTopic[te] = true
			out.Topics = append(out.Topics, te)
		}
	}

	if out.Emotion == "" {
		out.Emotion = b.Emotion
	}
	if b.Importance > out.Importance {
		out.Importance = b.Importance
	}
	return out
}
