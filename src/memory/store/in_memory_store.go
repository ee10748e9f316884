package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// InMemoryStore implements Store for tests and lightweight deployments.
type InMemoryStore struct {
	mu       sync.RWMutex
	registry *model.CharacterRegistry
	clock    func() time.Time

	nextID        int64
	turns         map[model.Key][]model.ConversationTurn
	facts         map[model.Key]map[factKey]model.LongTermFact
	episodes      map[model.Key][]model.EpisodicMemory
	summaries     map[model.Key]model.RollingSummary
	relationships map[model.Key]model.RelationshipState
}

type factKey struct {
	category model.Category
	key      string
}

func NewInMemoryStore(registry *model.CharacterRegistry) *InMemoryStore {
	return &InMemoryStore{
		registry:      registry,
		clock:         time.Now,
		turns:         make(map[model.Key][]model.ConversationTurn),
		facts:         make(map[model.Key]map[factKey]model.LongTermFact),
		episodes:      make(map[model.Key][]model.EpisodicMemory),
		summaries:     make(map[model.Key]model.RollingSummary),
		relationships: make(map[model.Key]model.RelationshipState),
	}
}

// WithClock overrides the time source, for deterministic tests.
func (s *InMemoryStore) WithClock(clock func() time.Time) *InMemoryStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn model.ConversationTurn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	if err := checkKey(s.registry, turn.MemoryKey()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	turn.ID = s.nextID
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.clock().UTC()
	}
	key := turn.MemoryKey()
	s.turns[key] = append(s.turns[key], turn)
	return nil
}

func (s *InMemoryStore) CountTurns(_ context.Context, key model.Key) (int, error) {
	if err := checkKey(s.registry, key); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns[key]), nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, key model.Key, limit int) ([]model.ConversationTurn, error) {
	if err := checkKey(s.registry, key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.turns[key]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]model.ConversationTurn(nil), turns...), nil
}

func (s *InMemoryStore) MergeFact(_ context.Context, fact model.LongTermFact) error {
	if err := checkFact(s.registry, fact); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fact.MemoryKey()
	byField := s.facts[key]
	if byField == nil {
		byField = make(map[factKey]model.LongTermFact)
		s.facts[key] = byField
	}
	fk := factKey{category: fact.Category, key: fact.Key}
	now := s.clock().UTC()
	existing, ok := byField[fk]
	if !ok {
		s.nextID++
		fact.ID = s.nextID
		fact.Confidence = model.Clamp(fact.Confidence, 0, 1)
		fact.CreatedAt = now
		fact.LastSeenAt = now
		byField[fk] = fact
		return nil
	}
	existing.Value = fact.Value
	existing.Confidence = MergeConfidence(existing.Confidence, fact.Confidence)
	existing.LastSeenAt = now
	byField[fk] = existing
	return nil
}

func (s *InMemoryStore) ListFacts(_ context.Context, key model.Key, limit int) ([]model.LongTermFact, error) {
	if err := checkKey(s.registry, key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	facts := make([]model.LongTermFact, 0, len(s.facts[key]))
	for _, fact := range s.facts[key] {
		facts = append(facts, fact)
	}
	sort.Slice(facts, func(i, j int) bool {
		if !facts[i].LastSeenAt.Equal(facts[j].LastSeenAt) {
			return facts[i].LastSeenAt.After(facts[j].LastSeenAt)
		}
		return facts[i].ID < facts[j].ID
	})
	if limit > 0 && len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

func (s *InMemoryStore) DecayFacts(_ context.Context, now time.Time, unseenFor time.Duration, factor, floor float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	affected := 0
	for key, byField := range s.facts {
		for fk, fact := range byField {
			if now.Sub(fact.LastSeenAt) < unseenFor {
				continue
			}
			fact.Confidence *= factor
			affected++
			if fact.Confidence < floor {
				delete(byField, fk)
				continue
			}
			byField[fk] = fact
		}
		if len(byField) == 0 {
			delete(s.facts, key)
		}
	}
	return affected, nil
}

func (s *InMemoryStore) InsertEpisodes(_ context.Context, episodes []model.EpisodicMemory) error {
	key, err := checkBatchKey(s.registry, episodes)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	for _, ep := range episodes {
		s.nextID++
		ep.ID = s.nextID
		if ep.CreatedAt.IsZero() {
			ep.CreatedAt = now
		}
		ep.Embedding = append([]float32(nil), ep.Embedding...)
		s.episodes[key] = append(s.episodes[key], ep)
	}
	return nil
}

func (s *InMemoryStore) SearchEpisodes(_ context.Context, key model.Key, queryEmbedding []float32, k int, threshold float64) ([]model.EpisodicMatch, error) {
	if err := checkKey(s.registry, key); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]model.EpisodicMatch, 0, k)
	for _, ep := range s.episodes[key] {
		sim := model.CosineSimilarity(queryEmbedding, ep.Embedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, model.EpisodicMatch{Text: ep.Text, Similarity: sim, CreatedAt: ep.CreatedAt})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *InMemoryStore) PruneEpisodes(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for key, eps := range s.episodes {
		kept := eps[:0]
		for _, ep := range eps {
			if ep.CreatedAt.Before(before) {
				pruned++
				continue
			}
			kept = append(kept, ep)
		}
		if len(kept) == 0 {
			delete(s.episodes, key)
			continue
		}
		s.episodes[key] = kept
	}
	return pruned, nil
}

func (s *InMemoryStore) GetSummary(_ context.Context, key model.Key) (model.RollingSummary, error) {
	if err := checkKey(s.registry, key); err != nil {
		return model.RollingSummary{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[key]
	if !ok {
		return model.RollingSummary{UserID: key.UserID, CharacterID: key.CharacterID}, nil
	}
	return summary, nil
}

func (s *InMemoryStore) UpsertSummary(_ context.Context, summary model.RollingSummary) error {
	if err := checkKey(s.registry, summary.MemoryKey()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = s.clock().UTC()
	}
	s.summaries[summary.MemoryKey()] = summary
	return nil
}

func (s *InMemoryStore) GetRelationship(_ context.Context, key model.Key) (model.RelationshipState, error) {
	if err := checkKey(s.registry, key); err != nil {
		return model.RelationshipState{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.relationships[key]
	if !ok {
		return model.NewRelationshipState(key), nil
	}
	return state, nil
}

func (s *InMemoryStore) SaveRelationship(_ context.Context, state model.RelationshipState) error {
	if err := checkKey(s.registry, state.MemoryKey()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.clock().UTC()
	}
	s.relationships[state.MemoryKey()] = state
	return nil
}

var _ Store = (*InMemoryStore)(nil)
