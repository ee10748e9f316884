package engine

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
	"github.com/Seren-Labs/companion-memory/src/memory/store"
	"github.com/Seren-Labs/companion-memory/src/models"
)

func testRegistry() *model.CharacterRegistry {
	return model.NewCharacterRegistry("aurora", "kai")
}

// summarizerModel is a scripted completion model that counts calls.
type summarizerModel struct {
	calls int
	reply string
	fail  bool
}

func (s *summarizerModel) Complete(context.Context, string, models.Options) (string, error) {
	s.calls++
	if s.fail {
		return "", errors.New("completion unavailable")
	}
	return s.reply, nil
}

func newTestEngine(t *testing.T, st store.Store) *Engine {
	t.Helper()
	return NewEngine(st, Options{}).WithLogger(log.New(io.Discard))
}

func TestProcessTurnExtractsAndMergesFacts(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore(testRegistry())
	eng := newTestEngine(t, st)
	key := model.Key{UserID: "u1", CharacterID: "aurora"}

	if err := eng.ProcessTurn(ctx, key, "我叫小明，我喜欢弹吉他", "很高兴认识你"); err != nil {
		t.Fatal(err)
	}

	facts, err := st.ListFacts(ctx, key, 0)
	if err != nil {
		t.Fatal(err)
	}
	var nameFact *model.LongTermFact
	for i := range facts {
		if facts[i].Category == model.CategoryFact && facts[i].Key == "name" {
			nameFact = &facts[i]
		}
	}
	if nameFact == nil || nameFact.Value != "小明" {
		t.Fatalf("name fact missing: %+v", facts)
	}

	// The guitar sentence lands as an episodic memory too.
	matches, err := eng.Snapshot(ctx, key, "", "我喜欢弹吉他")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, ep := range matches.Episodes {
		if ep.Text == "我喜欢弹吉他" {
			found = true
		}
	}
	if !found {
		t.Fatalf("episode not retrievable: %+v", matches.Episodes)
	}
}

// failingEmbedder simulates a provider outage.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedder offline")
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedder offline")
}

func TestEmbeddingFailureDropsEpisodeBatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore(testRegistry())
	eng := newTestEngine(t, st).WithEmbedder(failingEmbedder{})
	key := model.Key{UserID: "u1", CharacterID: "aurora"}

	// The guitar sentence would normally produce an episode.
	if err := eng.ProcessTurn(ctx, key, "我叫小明，我喜欢弹吉他", ""); err != nil {
		t.Fatal(err)
	}

	facts, err := st.ListFacts(ctx, key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) == 0 {
		t.Fatal("facts should survive an embedder outage")
	}
	matches, err := st.SearchEpisodes(ctx, key, []float32{1, 0, 0}, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("episodes stored despite embedding failure: %+v", matches)
	}
	if got := eng.MetricsSnapshot().EpisodesStored; got != 0 {
		t.Fatalf("episodes stored counter = %d, want 0", got)
	}
}

func TestProcessTurnRejectsUnknownCharacter(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, store.NewInMemoryStore(testRegistry()))
	err := eng.ProcessTurn(ctx, model.Key{UserID: "u1", CharacterID: "ghost"}, "hi", "")
	if err == nil {
		t.Fatal("expected rejection")
	}
}

func TestRelationshipLevelAfter47Messages(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore(testRegistry())
	eng := newTestEngine(t, st)
	key := model.Key{UserID: "u1", CharacterID: "aurora"}

	for i := 0; i < 47; i++ {
		if err := eng.ProcessTurn(ctx, key, "今天聊点什么", ""); err != nil {
			t.Fatal(err)
		}
	}
	state, err := st.GetRelationship(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if state.Level != 10 {
		t.Fatalf("level = %d, want 10", state.Level)
	}
}

func TestTenTurnsTriggerOneSummaryRefresh(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore(testRegistry())
	sm := &summarizerModel{reply: "- met and talked about music"}
	eng := NewEngine(st, Options{}).
		WithLogger(log.New(io.Discard)).
		WithSummarizer(NewSummarizer(sm))
	key := model.Key{UserID: "u1", CharacterID: "aurora"}

	for i := 0; i < 10; i++ {
		if err := eng.ProcessTurn(ctx, key, "聊天内容", ""); err != nil {
			t.Fatal(err)
		}
	}
	if sm.calls != 1 {
		t.Fatalf("summary refreshes = %d, want 1", sm.calls)
	}
	summary, err := st.GetSummary(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if summary.MessageCount != 10 {
		t.Fatalf("messageCount = %d, want 10", summary.MessageCount)
	}
	if summary.Summary != "- met and talked about music" {
		t.Fatalf("summary = %q", summary.Summary)
	}
}

func TestSummaryReplacedNotAppended(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore(testRegistry())
	sm := &summarizerModel{reply: "first digest"}
	eng := NewEngine(st, Options{}).
		WithLogger(log.New(io.Discard)).
		WithSummarizer(NewSummarizer(sm))
	key := model.Key{UserID: "u1", CharacterID: "aurora"}

	for i := 0; i < 10; i++ {
		if err := eng.ProcessTurn(ctx, key, "早期话题", ""); err != nil {
			t.Fatal(err)
		}
	}
	sm.reply = "second digest"
	for i := 0; i < 10; i++ {
		if err := eng.ProcessTurn(ctx, key, "后来的话题", ""); err != nil {
			t.Fatal(err)
		}
	}
	summary, err := st.GetSummary(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Summary != "second digest" {
		t.Fatalf("summary = %q, want replacement", summary.Summary)
	}
}

func TestSummaryFailureLeavesPrevious(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore(testRegistry())
	sm := &summarizerModel{reply: "good digest"}
	eng := NewEngine(st, Options{}).
		WithLogger(log.New(io.Discard)).
		WithSummarizer(NewSummarizer(sm))
	key := model.Key{UserID: "u1", CharacterID: "aurora"}

	for i := 0; i < 10; i++ {
		if err := eng.ProcessTurn(ctx, key, "话题", ""); err != nil {
			t.Fatal(err)
		}
	}
	sm.fail = true
	for i := 0; i < 10; i++ {
		if err := eng.ProcessTurn(ctx, key, "更多话题", ""); err != nil {
			t.Fatal(err)
		}
	}
	summary, err := st.GetSummary(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Summary != "good digest" {
		t.Fatalf("summary = %q, previous digest should survive failure", summary.Summary)
	}
}

func TestSnapshotIdempotentWithoutWrites(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore(testRegistry())
	eng := newTestEngine(t, st)
	key := model.Key{UserID: "u1", CharacterID: "aurora"}

	if err := eng.ProcessTurn(ctx, key, "我叫小明，我喜欢弹吉他", ""); err != nil {
		t.Fatal(err)
	}
	first, err := eng.Snapshot(ctx, key, "persona", "吉他")
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.Snapshot(ctx, key, "persona", "吉他")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ:\n%+v\n%+v", first, second)
	}
}

func TestRunMaintenance(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore(testRegistry()).WithClock(func() time.Time { return now.AddDate(0, -6, 0) })
	eng := NewEngine(st, Options{Clock: func() time.Time { return now }}).WithLogger(log.New(io.Discard))
	key := model.Key{UserID: "u1", CharacterID: "aurora"}

	if err := eng.ProcessTurn(ctx, key, "我喜欢弹吉他", ""); err != nil {
		t.Fatal(err)
	}
	report, err := eng.RunMaintenance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.FactsDecayed == 0 {
		t.Fatal("expected stale facts to decay")
	}
}
