package store

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// FallbackStore fronts a remote primary with a local fallback. Every call
// goes to the primary first; when the primary fails for operational reasons
// the call is retried against the fallback so a chat session survives an
// outage. Validation failures (unknown character, key mismatch) are the
// caller's fault and are returned as-is, never retried.
type FallbackStore struct {
	primary  Store
	fallback Store
	logger   *log.Logger
}

func NewFallbackStore(primary, fallback Store, logger *log.Logger) *FallbackStore {
	if logger == nil {
		logger = log.Default()
	}
	return &FallbackStore{primary: primary, fallback: fallback, logger: logger}
}

// callerFault reports whether err is a validation error rather than an
// operational one. Falling back would just repeat the same rejection.
func callerFault(err error) bool {
	return errors.Is(err, model.ErrUnknownCharacter) || errors.Is(err, model.ErrCharacterMismatch)
}

func (fs *FallbackStore) demote(op string, err error) bool {
	if err == nil || callerFault(err) || fs.fallback == nil {
		return false
	}
	fs.logger.Warn("primary store failed, using local fallback", "op", op, "err", err)
	return true
}

func (fs *FallbackStore) SaveTurn(ctx context.Context, turn model.ConversationTurn) error {
	err := fs.primary.SaveTurn(ctx, turn)
	if fs.demote("save_turn", err) {
		return fs.fallback.SaveTurn(ctx, turn)
	}
	return err
}

func (fs *FallbackStore) CountTurns(ctx context.Context, key model.Key) (int, error) {
	n, err := fs.primary.CountTurns(ctx, key)
	if fs.demote("count_turns", err) {
		return fs.fallback.CountTurns(ctx, key)
	}
	return n, err
}

func (fs *FallbackStore) RecentTurns(ctx context.Context, key model.Key, limit int) ([]model.ConversationTurn, error) {
	turns, err := fs.primary.RecentTurns(ctx, key, limit)
	if fs.demote("recent_turns", err) {
		return fs.fallback.RecentTurns(ctx, key, limit)
	}
	return turns, err
}

func (fs *FallbackStore) MergeFact(ctx context.Context, fact model.LongTermFact) error {
	err := fs.primary.MergeFact(ctx, fact)
	if fs.demote("merge_fact", err) {
		return fs.fallback.MergeFact(ctx, fact)
	}
	return err
}

func (fs *FallbackStore) ListFacts(ctx context.Context, key model.Key, limit int) ([]model.LongTermFact, error) {
	facts, err := fs.primary.ListFacts(ctx, key, limit)
	if fs.demote("list_facts", err) {
		return fs.fallback.ListFacts(ctx, key, limit)
	}
	return facts, err
}

func (fs *FallbackStore) DecayFacts(ctx context.Context, now time.Time, unseenFor time.Duration, factor, floor float64) (int, error) {
	n, err := fs.primary.DecayFacts(ctx, now, unseenFor, factor, floor)
	if fs.demote("decay_facts", err) {
		return fs.fallback.DecayFacts(ctx, now, unseenFor, factor, floor)
	}
	return n, err
}

func (fs *FallbackStore) InsertEpisodes(ctx context.Context, episodes []model.EpisodicMemory) error {
	err := fs.primary.InsertEpisodes(ctx, episodes)
	if fs.demote("insert_episodes", err) {
		return fs.fallback.InsertEpisodes(ctx, episodes)
	}
	return err
}

func (fs *FallbackStore) SearchEpisodes(ctx context.Context, key model.Key, queryEmbedding []float32, k int, threshold float64) ([]model.EpisodicMatch, error) {
	matches, err := fs.primary.SearchEpisodes(ctx, key, queryEmbedding, k, threshold)
	if fs.demote("search_episodes", err) {
		return fs.fallback.SearchEpisodes(ctx, key, queryEmbedding, k, threshold)
	}
	return matches, err
}

func (fs *FallbackStore) PruneEpisodes(ctx context.Context, before time.Time) (int, error) {
	n, err := fs.primary.PruneEpisodes(ctx, before)
	if fs.demote("prune_episodes", err) {
		return fs.fallback.PruneEpisodes(ctx, before)
	}
	return n, err
}

func (fs *FallbackStore) GetSummary(ctx context.Context, key model.Key) (model.RollingSummary, error) {
	summary, err := fs.primary.GetSummary(ctx, key)
	if fs.demote("get_summary", err) {
		return fs.fallback.GetSummary(ctx, key)
	}
	return summary, err
}

func (fs *FallbackStore) UpsertSummary(ctx context.Context, summary model.RollingSummary) error {
	err := fs.primary.UpsertSummary(ctx, summary)
	if fs.demote("upsert_summary", err) {
		return fs.fallback.UpsertSummary(ctx, summary)
	}
	return err
}

func (fs *FallbackStore) GetRelationship(ctx context.Context, key model.Key) (model.RelationshipState, error) {
	state, err := fs.primary.GetRelationship(ctx, key)
	if fs.demote("get_relationship", err) {
		return fs.fallback.GetRelationship(ctx, key)
	}
	return state, err
}

func (fs *FallbackStore) SaveRelationship(ctx context.Context, state model.RelationshipState) error {
	err := fs.primary.SaveRelationship(ctx, state)
	if fs.demote("save_relationship", err) {
		return fs.fallback.SaveRelationship(ctx, state)
	}
	return err
}

var _ Store = (*FallbackStore)(nil)
