package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

func testRegistry() *model.CharacterRegistry {
	return model.NewCharacterRegistry("aurora", "kai")
}

func TestMergeFactConvergence(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(testRegistry())
	fact := model.LongTermFact{
		UserID:      "u1",
		CharacterID: "aurora",
		Category:    model.CategoryPreference,
		Key:         "drink",
		Value:       "coffee",
		Confidence:  0.9,
	}
	for i := 0; i < 3; i++ {
		if err := s.MergeFact(ctx, fact); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}
	facts, err := s.ListFacts(ctx, fact.MemoryKey(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected single merged fact, got %d", len(facts))
	}
	// 0.9, then 0.7*0.9+0.3*0.9, then again: repeated observation holds steady.
	want := 0.7*(0.7*0.9+0.3*0.9) + 0.3*0.9
	if math.Abs(facts[0].Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", facts[0].Confidence, want)
	}
	if facts[0].Value != "coffee" {
		t.Fatalf("value = %q", facts[0].Value)
	}
}

func TestMergeFactReplacesValue(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(testRegistry())
	key := model.Key{UserID: "u1", CharacterID: "aurora"}
	first := model.LongTermFact{UserID: "u1", CharacterID: "aurora", Category: model.CategoryFact, Key: "city", Value: "Berlin", Confidence: 0.8}
	second := first
	second.Value = "Madrid"
	second.Confidence = 0.6
	if err := s.MergeFact(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.MergeFact(ctx, second); err != nil {
		t.Fatal(err)
	}
	facts, err := s.ListFacts(ctx, key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) != 1 || facts[0].Value != "Madrid" {
		t.Fatalf("facts = %+v", facts)
	}
	want := 0.7*0.8 + 0.3*0.6
	if math.Abs(facts[0].Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", facts[0].Confidence, want)
	}
}

func TestKeyIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(testRegistry())
	if err := s.MergeFact(ctx, model.LongTermFact{
		UserID: "u1", CharacterID: "aurora",
		Category: model.CategoryFact, Key: "name", Value: "Ming", Confidence: 0.95,
	}); err != nil {
		t.Fatal(err)
	}
	for _, key := range []model.Key{
		{UserID: "u1", CharacterID: "kai"},
		{UserID: "u2", CharacterID: "aurora"},
	} {
		facts, err := s.ListFacts(ctx, key, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(facts) != 0 {
			t.Fatalf("key %v leaked facts: %+v", key, facts)
		}
	}
}

func TestUnknownCharacterRejected(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(testRegistry())
	err := s.SaveTurn(ctx, model.ConversationTurn{UserID: "u1", CharacterID: "ghost", Role: model.RoleUser, Content: "hi"})
	if err == nil {
		t.Fatal("expected error for unregistered character")
	}
}

func TestEpisodeBatchMixedKeysRejected(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(testRegistry())
	err := s.InsertEpisodes(ctx, []model.EpisodicMemory{
		{UserID: "u1", CharacterID: "aurora", Text: "a", Embedding: []float32{1}},
		{UserID: "u1", CharacterID: "kai", Text: "b", Embedding: []float32{1}},
	})
	if err == nil {
		t.Fatal("expected mixed-key batch to be rejected")
	}
}

func TestSearchEpisodesThresholdAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(testRegistry())
	key := model.Key{UserID: "u1", CharacterID: "aurora"}
	eps := []model.EpisodicMemory{
		{UserID: "u1", CharacterID: "aurora", Text: "close", Embedding: []float32{1, 0, 0}},
		{UserID: "u1", CharacterID: "aurora", Text: "near", Embedding: []float32{0.9, 0.4, 0}},
		{UserID: "u1", CharacterID: "aurora", Text: "far", Embedding: []float32{0, 1, 0}},
	}
	if err := s.InsertEpisodes(ctx, eps); err != nil {
		t.Fatal(err)
	}
	matches, err := s.SearchEpisodes(ctx, key, []float32{1, 0, 0}, 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].Text != "close" || matches[1].Text != "near" {
		t.Fatalf("unexpected order: %+v", matches)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Fatal("matches not sorted by similarity")
	}
}

func TestDecayFacts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	s := NewInMemoryStore(testRegistry()).WithClock(func() time.Time { return clock })

	stale := model.LongTermFact{UserID: "u1", CharacterID: "aurora", Category: model.CategoryFact, Key: "old", Value: "x", Confidence: 0.5}
	dying := model.LongTermFact{UserID: "u1", CharacterID: "aurora", Category: model.CategoryFact, Key: "gone", Value: "y", Confidence: 0.1}
	if err := s.MergeFact(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := s.MergeFact(ctx, dying); err != nil {
		t.Fatal(err)
	}
	clock = now.AddDate(0, 0, 10)
	fresh := model.LongTermFact{UserID: "u1", CharacterID: "aurora", Category: model.CategoryFact, Key: "new", Value: "z", Confidence: 0.9}
	if err := s.MergeFact(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	cutoff := now.AddDate(0, 0, 95)
	affected, err := s.DecayFacts(ctx, cutoff, DefaultDecayAfter, DefaultDecayFactor, DefaultConfidenceFloor)
	if err != nil {
		t.Fatal(err)
	}
	if affected != 2 {
		t.Fatalf("affected = %d, want 2", affected)
	}
	facts, err := s.ListFacts(ctx, model.Key{UserID: "u1", CharacterID: "aurora"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	byKey := map[string]model.LongTermFact{}
	for _, f := range facts {
		byKey[f.Key] = f
	}
	if _, ok := byKey["gone"]; ok {
		t.Fatal("fact below confidence floor should be deleted")
	}
	if got := byKey["old"].Confidence; math.Abs(got-0.45) > 1e-9 {
		t.Fatalf("decayed confidence = %v, want 0.45", got)
	}
	if got := byKey["new"].Confidence; got != 0.9 {
		t.Fatalf("recent fact decayed: %v", got)
	}
}

func TestPruneEpisodes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemoryStore(testRegistry()).WithClock(func() time.Time { return now })
	old := model.EpisodicMemory{UserID: "u1", CharacterID: "aurora", Text: "old", Embedding: []float32{1}, CreatedAt: now.AddDate(-2, 0, 0)}
	recent := model.EpisodicMemory{UserID: "u1", CharacterID: "aurora", Text: "recent", Embedding: []float32{1}}
	if err := s.InsertEpisodes(ctx, []model.EpisodicMemory{old, recent}); err != nil {
		t.Fatal(err)
	}
	pruned, err := s.PruneEpisodes(ctx, now.Add(-DefaultEpisodeRetention))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
}

func TestSummaryUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(testRegistry())
	key := model.Key{UserID: "u1", CharacterID: "aurora"}

	got, err := s.GetSummary(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "" || got.MessageCount != 0 {
		t.Fatalf("expected empty summary, got %+v", got)
	}

	first := model.RollingSummary{UserID: "u1", CharacterID: "aurora", Summary: "early days", MessageCount: 10}
	second := model.RollingSummary{UserID: "u1", CharacterID: "aurora", Summary: "later on", MessageCount: 20}
	if err := s.UpsertSummary(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertSummary(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetSummary(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "later on" || got.MessageCount != 20 {
		t.Fatalf("summary not replaced: %+v", got)
	}
}

func TestRelationshipDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(testRegistry())
	key := model.Key{UserID: "u1", CharacterID: "kai"}
	state, err := s.GetRelationship(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if state.Level != 1 || state.CommunicationStyle != model.StyleFormal {
		t.Fatalf("unexpected default state: %+v", state)
	}
	state.Trust = 5
	state.Level = 2
	if err := s.SaveRelationship(ctx, state); err != nil {
		t.Fatal(err)
	}
	reread, err := s.GetRelationship(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if reread.Trust != 5 || reread.Level != 2 {
		t.Fatalf("round trip lost data: %+v", reread)
	}
}
