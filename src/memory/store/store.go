package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// Store is the persistence contract over the five memory entity tables.
// Implementations must reject any operation whose character id is outside the
// registry before touching persistence.
type Store interface {
	SaveTurn(ctx context.Context, turn model.ConversationTurn) error
	CountTurns(ctx context.Context, key model.Key) (int, error)
	RecentTurns(ctx context.Context, key model.Key, limit int) ([]model.ConversationTurn, error)

	MergeFact(ctx context.Context, fact model.LongTermFact) error
	ListFacts(ctx context.Context, key model.Key, limit int) ([]model.LongTermFact, error)
	DecayFacts(ctx context.Context, now time.Time, unseenFor time.Duration, factor, floor float64) (int, error)

	InsertEpisodes(ctx context.Context, episodes []model.EpisodicMemory) error
	SearchEpisodes(ctx context.Context, key model.Key, queryEmbedding []float32, k int, threshold float64) ([]model.EpisodicMatch, error)
	PruneEpisodes(ctx context.Context, before time.Time) (int, error)

	GetSummary(ctx context.Context, key model.Key) (model.RollingSummary, error)
	UpsertSummary(ctx context.Context, summary model.RollingSummary) error

	GetRelationship(ctx context.Context, key model.Key) (model.RelationshipState, error)
	SaveRelationship(ctx context.Context, state model.RelationshipState) error
}

// SchemaInitializer allows stores to expose optional schema/bootstrap routines.
type SchemaInitializer interface {
	CreateSchema(ctx context.Context, schemaPath string) error
}

// Confidence-merge weights. Repeated consistent extraction converges toward
// 1.0 without letting one low-confidence observation wipe out an established
// fact.
const (
	MergeOldWeight = 0.7
	MergeNewWeight = 0.3
)

// MergeConfidence applies the exponentially-weighted trust update.
func MergeConfidence(old, incoming float64) float64 {
	return model.Clamp(MergeOldWeight*old+MergeNewWeight*incoming, 0, 1)
}

// Maintenance and retrieval defaults shared by backends and the engine.
const (
	DefaultFactListLimit    = 20
	DefaultDecayAfter       = 90 * 24 * time.Hour
	DefaultDecayFactor      = 0.9
	DefaultConfidenceFloor  = 0.1
	DefaultEpisodeRetention = 365 * 24 * time.Hour
)

func checkKey(registry *model.CharacterRegistry, key model.Key) error {
	if registry == nil {
		return key.Validate()
	}
	return registry.ValidateKey(key)
}

func checkFact(registry *model.CharacterRegistry, fact model.LongTermFact) error {
	if err := checkKey(registry, fact.MemoryKey()); err != nil {
		return err
	}
	if !model.ValidCategory(fact.Category) {
		return fmt.Errorf("long-term fact: invalid category %q", fact.Category)
	}
	return nil
}

// checkBatchKey verifies every episode in a batch belongs to the same valid
// key; a mixed batch is a caller bug, not data to silently split.
func checkBatchKey(registry *model.CharacterRegistry, episodes []model.EpisodicMemory) (model.Key, error) {
	if len(episodes) == 0 {
		return model.Key{}, nil
	}
	key := episodes[0].MemoryKey()
	if err := checkKey(registry, key); err != nil {
		return model.Key{}, err
	}
	for _, ep := range episodes[1:] {
		if ep.MemoryKey() != key {
			return model.Key{}, fmt.Errorf("%w: episode batch spans keys %s and %s",
				model.ErrCharacterMismatch, key, ep.MemoryKey())
		}
	}
	return key, nil
}
