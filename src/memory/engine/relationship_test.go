package engine

import (
	"testing"
	"time"

	"github.com/Seren-Labs/companion-memory/src/memory/extract"
	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

func newState() model.RelationshipState {
	return model.NewRelationshipState(model.Key{UserID: "u1", CharacterID: "aurora"})
}

func TestLevelRecomputedFromTotal(t *testing.T) {
	s := NewScorer(Options{})
	state := newState()
	now := time.Now()

	s.Update(&state, "hi", 47, extract.Result{}, now)
	if state.Level != 10 {
		t.Fatalf("level = %d, want 10", state.Level)
	}
	// Level is a function of the count, not an increment.
	s.Update(&state, "hi", 3, extract.Result{}, now)
	if state.Level != 1 {
		t.Fatalf("level = %d, want 1", state.Level)
	}
}

func TestTrustSubstantialBonus(t *testing.T) {
	opts := DefaultOptions()
	s := NewScorer(opts)
	now := time.Now()

	short := newState()
	s.Update(&short, "hi", 1, extract.Result{}, now)

	long := newState()
	longMsg := "今天发生了好多事情，从早上开始一直到晚上都很充实，每一个细节都记得清清楚楚，连晚饭吃了什么都可以慢慢讲给你听"
	s.Update(&long, longMsg, 1, extract.Result{}, now)

	if long.Trust != short.Trust+opts.Increments.TrustSubstantial {
		t.Fatalf("trust: long=%v short=%v", long.Trust, short.Trust)
	}
}

func TestIntimacyOnDisclosureAndAffectionOnPositive(t *testing.T) {
	opts := DefaultOptions()
	s := NewScorer(opts)
	now := time.Now()

	state := newState()
	res := extract.Result{
		Facts:   []extract.FactCandidate{{Category: model.CategoryFact, Key: "name", Value: "小明", Confidence: 0.8}},
		Emotion: "positive",
	}
	s.Update(&state, "我叫小明", 1, res, now)
	if state.Intimacy != opts.Increments.IntimacyPerSelfShare {
		t.Fatalf("intimacy = %v", state.Intimacy)
	}
	if state.Affection != opts.Increments.AffectionPerPositive {
		t.Fatalf("affection = %v", state.Affection)
	}
}

func TestStyleRatchetNeverRegresses(t *testing.T) {
	s := NewScorer(Options{})
	state := newState()
	now := time.Now()

	state.Intimacy = 31
	s.Update(&state, "hi", 1, extract.Result{}, now)
	if state.CommunicationStyle != model.StyleCasual {
		t.Fatalf("style = %s, want casual", state.CommunicationStyle)
	}

	state.Intimacy = 71
	s.Update(&state, "hi", 1, extract.Result{}, now)
	if state.CommunicationStyle != model.StyleIntimate {
		t.Fatalf("style = %s, want intimate", state.CommunicationStyle)
	}

	// Even if intimacy were reset, the style stays.
	state.Intimacy = 0
	s.Update(&state, "hi", 1, extract.Result{}, now)
	if state.CommunicationStyle != model.StyleIntimate {
		t.Fatalf("style regressed to %s", state.CommunicationStyle)
	}
}

func TestMilestonesWriteOnce(t *testing.T) {
	s := NewScorer(Options{})
	state := newState()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.AddDate(0, 1, 0)

	s.Update(&state, "告诉你一个秘密，我其实很怕黑", 1, extract.Result{}, first)
	stamp, ok := state.Milestones[MilestoneFirstSecret]
	if !ok || !stamp.Equal(first) {
		t.Fatalf("milestone = %v, %v", stamp, ok)
	}

	s.Update(&state, "再告诉你一个秘密", 2, extract.Result{}, later)
	if !state.Milestones[MilestoneFirstSecret].Equal(first) {
		t.Fatal("milestone timestamp overwritten")
	}
}

func TestSpecialMomentRecorded(t *testing.T) {
	s := NewScorer(Options{})
	state := newState()
	now := time.Now()

	s.Update(&state, "这是我第一次跟别人说这些，永远难忘", 1, extract.Result{Importance: 0.9}, now)
	if len(state.SpecialMoments) != 1 {
		t.Fatalf("special moments = %d", len(state.SpecialMoments))
	}
	if state.SpecialMoments[0].Importance != 0.9 {
		t.Fatalf("importance = %v", state.SpecialMoments[0].Importance)
	}
}

func TestMetricsClampedAt100(t *testing.T) {
	s := NewScorer(Options{})
	state := newState()
	state.Trust = 99.9
	state.Intimacy = 99.9
	state.Affection = 99.9
	res := extract.Result{
		Facts:   []extract.FactCandidate{{Category: model.CategoryFact, Key: "k", Value: "v", Confidence: 1}},
		Emotion: "positive",
	}
	s.Update(&state, "谢谢你，这是我第一次这么开心", 500, res, time.Now())
	if state.Trust > 100 || state.Intimacy > 100 || state.Affection > 100 {
		t.Fatalf("metrics exceed 100: %+v", state)
	}
	if state.Level != 100 {
		t.Fatalf("level = %d, want cap 100", state.Level)
	}
}
