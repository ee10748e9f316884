package engine

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Seren-Labs/companion-memory/src/memory/extract"
	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// Milestone names stamped write-once on first occurrence.
const (
	MilestoneFirstSecret     = "first_secret_shared"
	MilestoneFirstCompliment = "first_compliment"
	MilestoneFirstFuturePlan = "first_future_plan"
	MilestoneFirstGratitude  = "first_gratitude"
)

var disclosureKeywords = []string{
	"我叫", "我喜欢", "我讨厌", "我害怕", "我想", "我希望", "我的",
	"my name is", "i like", "i love", "i hate", "i'm afraid", "i want", "i feel",
}

var secretKeywords = []string{
	"秘密", "没告诉过", "别告诉",
	"secret", "never told anyone", "don't tell",
}

var complimentKeywords = []string{
	"你真", "你好棒", "你最好",
	"you're amazing", "you are amazing", "you're the best", "you're so",
}

var futurePlanKeywords = []string{
	"以后我们", "下次", "将来", "一起去",
	"next time", "someday we", "we should", "let's go",
}

var gratitudeKeywords = []string{
	"谢谢", "感谢",
	"thank you", "thanks", "grateful",
}

// Scorer owns RelationshipState transitions. Every mutation happens here;
// nothing else writes the state.
type Scorer struct {
	opts Options
}

func NewScorer(opts Options) *Scorer {
	return &Scorer{opts: opts.withDefaults()}
}

// Update applies one turn to the state. Level is recomputed from the total
// message count, never incremented. Metrics are clamped to [0, 100] and the
// communication style only ever moves formal -> casual -> intimate.
func (s *Scorer) Update(state *model.RelationshipState, content string, totalMessages int, res extract.Result, now time.Time) {
	inc := s.opts.Increments

	state.Level = levelFor(totalMessages)

	trust := inc.TrustPerTurn
	if utf8.RuneCountInString(content) > s.opts.SubstantialLength {
		trust += inc.TrustSubstantial
	}

	intimacy := 0.0
	if isDisclosure(content, res) {
		intimacy += inc.IntimacyPerSelfShare
	}

	affection := 0.0
	if res.Emotion == "positive" {
		affection += inc.AffectionPerPositive
	}

	lower := strings.ToLower(content)
	for _, ev := range []struct {
		milestone string
		keywords  []string
	}{
		{MilestoneFirstSecret, secretKeywords},
		{MilestoneFirstCompliment, complimentKeywords},
		{MilestoneFirstFuturePlan, futurePlanKeywords},
		{MilestoneFirstGratitude, gratitudeKeywords},
	} {
		if !containsAny(lower, ev.keywords) {
			continue
		}
		trust += inc.SpecialEventTrust
		intimacy += inc.SpecialEventIntimacy
		if state.Milestones == nil {
			state.Milestones = map[string]time.Time{}
		}
		if _, done := state.Milestones[ev.milestone]; !done {
			state.Milestones[ev.milestone] = now
		}
	}

	state.Trust = model.Clamp(state.Trust+trust, 0, 100)
	state.Intimacy = model.Clamp(state.Intimacy+intimacy, 0, 100)
	state.Affection = model.Clamp(state.Affection+affection, 0, 100)

	switch state.CommunicationStyle {
	case model.StyleFormal:
		if state.Intimacy > CasualIntimacyThreshold {
			state.CommunicationStyle = model.StyleCasual
		}
	case model.StyleCasual:
		if state.Intimacy > IntimateIntimacyThreshold {
			state.CommunicationStyle = model.StyleIntimate
		}
	}
	// The ratchet never regresses; re-check casual -> intimate in case one
	// turn crossed both thresholds.
	if state.CommunicationStyle == model.StyleCasual && state.Intimacy > IntimateIntimacyThreshold {
		state.CommunicationStyle = model.StyleIntimate
	}

	if res.Importance >= s.opts.SpecialMomentThreshold {
		state.SpecialMoments = append(state.SpecialMoments, model.SpecialMoment{
			Content:    content,
			Timestamp:  now,
			Importance: res.Importance,
		})
		if len(state.SpecialMoments) > s.opts.MaxSpecialMoments {
			state.SpecialMoments = state.SpecialMoments[len(state.SpecialMoments)-s.opts.MaxSpecialMoments:]
		}
	}

	state.UpdatedAt = now
}

func levelFor(totalMessages int) int {
	level := totalMessages/5 + 1
	if level > 100 {
		level = 100
	}
	return level
}

func isDisclosure(content string, res extract.Result) bool {
	if len(res.Facts) > 0 {
		return true
	}
	return containsAny(strings.ToLower(content), disclosureKeywords)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
