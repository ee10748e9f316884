package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// LocalStore is the disk fallback used when the remote store is unreachable.
// Facts, summaries, relationship state and the recent turn window live in one
// JSON document per key (written atomically); episodic vectors live in a
// persistent chromem-go collection per key, so similarity search keeps
// working offline.
type LocalStore struct {
	mu       sync.Mutex
	dir      string
	registry *model.CharacterRegistry
	clock    func() time.Time
	vectors  *chromem.DB
	nextID   int64
}

// localTurnWindow bounds how many raw turns the fallback document retains.
const localTurnWindow = 100

type localEpisodeRef struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type localDocument struct {
	UserID      string                   `json:"userId"`
	CharacterID string                   `json:"characterId"`
	Facts       []model.LongTermFact     `json:"facts"`
	Summary     model.RollingSummary     `json:"summary"`
	Memory      model.UserMemory         `json:"memory"`
	Turns       []model.ConversationTurn `json:"turns"`
	Episodes    []localEpisodeRef        `json:"episodes"`
}

// NewLocalStore opens (or creates) the fallback directory.
func NewLocalStore(dir string, registry *model.CharacterRegistry) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	vectors, err := chromem.NewPersistentDB(filepath.Join(dir, "vectors"), false)
	if err != nil {
		return nil, fmt.Errorf("local store: open vector db: %w", err)
	}
	return &LocalStore{dir: dir, registry: registry, clock: time.Now, vectors: vectors}, nil
}

// WithClock overrides the time source, for deterministic tests.
func (ls *LocalStore) WithClock(clock func() time.Time) *LocalStore {
	if clock != nil {
		ls.clock = clock
	}
	return ls
}

func keySlug(key model.Key) string {
	sum := sha256.Sum256([]byte(key.UserID + "\x00" + key.CharacterID))
	return hex.EncodeToString(sum[:8])
}

func (ls *LocalStore) docPath(key model.Key) string {
	safe := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				b.WriteRune(r)
			default:
				b.WriteByte('.')
			}
		}
		return b.String()
	}
	name := fmt.Sprintf("%s-%s-%s.json", safe(key.UserID), safe(key.CharacterID), keySlug(key))
	return filepath.Join(ls.dir, name)
}

// loadDoc reads the per-key document. Missing files and documents whose
// embedded character id disagrees with the key both yield a fresh document;
// the latter is treated as corruption, never returned. The typed user-memory
// blob is reconciled field by field onto a fresh default, so a record whose
// inner character id disagrees is likewise discarded wholesale.
func (ls *LocalStore) loadDoc(key model.Key) localDocument {
	fresh := localDocument{UserID: key.UserID, CharacterID: key.CharacterID, Memory: model.NewUserMemory(key)}
	data, err := os.ReadFile(ls.docPath(key))
	if err != nil {
		return fresh
	}
	var doc localDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fresh
	}
	if doc.UserID != key.UserID || doc.CharacterID != key.CharacterID {
		return fresh
	}
	doc.Memory = model.NewUserMemory(key).Reconcile(&doc.Memory)
	return doc
}

// saveDoc writes atomically: temp file then rename.
func (ls *LocalStore) saveDoc(key model.Key, doc localDocument) error {
	path := ls.docPath(key)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(doc); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (ls *LocalStore) collection(key model.Key) (*chromem.Collection, error) {
	return ls.vectors.GetOrCreateCollection("episodes-"+keySlug(key), map[string]string{
		"user_id":      key.UserID,
		"character_id": key.CharacterID,
	}, nil)
}

func (ls *LocalStore) SaveTurn(_ context.Context, turn model.ConversationTurn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	if err := checkKey(ls.registry, turn.MemoryKey()); err != nil {
		return err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	key := turn.MemoryKey()
	doc := ls.loadDoc(key)
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = ls.clock().UTC()
	}
	ls.nextID++
	turn.ID = ls.nextID
	doc.Turns = append(doc.Turns, turn)
	if len(doc.Turns) > localTurnWindow {
		doc.Turns = doc.Turns[len(doc.Turns)-localTurnWindow:]
	}
	doc.Memory.Statistics.TotalMessages++
	if doc.Memory.TemporalContext.FirstMetAt.IsZero() {
		doc.Memory.TemporalContext.FirstMetAt = turn.CreatedAt
	}
	doc.Memory.TemporalContext.LastSeenAt = turn.CreatedAt
	return ls.saveDoc(key, doc)
}

func (ls *LocalStore) CountTurns(_ context.Context, key model.Key) (int, error) {
	if err := checkKey(ls.registry, key); err != nil {
		return 0, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.loadDoc(key).Memory.Statistics.TotalMessages, nil
}

func (ls *LocalStore) RecentTurns(_ context.Context, key model.Key, limit int) ([]model.ConversationTurn, error) {
	if err := checkKey(ls.registry, key); err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	turns := ls.loadDoc(key).Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]model.ConversationTurn(nil), turns...), nil
}

func (ls *LocalStore) MergeFact(_ context.Context, fact model.LongTermFact) error {
	if err := checkFact(ls.registry, fact); err != nil {
		return err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	key := fact.MemoryKey()
	doc := ls.loadDoc(key)
	now := ls.clock().UTC()
	foldFact(&doc.Memory, fact)
	for i := range doc.Facts {
		if doc.Facts[i].Category == fact.Category && doc.Facts[i].Key == fact.Key {
			doc.Facts[i].Value = fact.Value
			doc.Facts[i].Confidence = MergeConfidence(doc.Facts[i].Confidence, fact.Confidence)
			doc.Facts[i].LastSeenAt = now
			return ls.saveDoc(key, doc)
		}
	}
	ls.nextID++
	fact.ID = ls.nextID
	fact.Confidence = model.Clamp(fact.Confidence, 0, 1)
	fact.CreatedAt = now
	fact.LastSeenAt = now
	doc.Facts = append(doc.Facts, fact)
	return ls.saveDoc(key, doc)
}

// foldFact mirrors a merged fact into the typed profile the fallback document
// carries, keeping the local record readable on its own.
func foldFact(mem *model.UserMemory, fact model.LongTermFact) {
	value := fact.Value
	switch {
	case fact.Key == "name":
		mem.Profile.Name = value
	case fact.Key == "age":
		mem.Profile.Age = value
	case fact.Key == "occupation":
		mem.Profile.Occupation = value
	case fact.Key == "location":
		mem.Profile.Location = value
	case strings.HasPrefix(fact.Key, "likes:"):
		mem.Profile.Likes = appendUnique(mem.Profile.Likes, value)
	case strings.HasPrefix(fact.Key, "dislikes:"):
		mem.Profile.Dislikes = appendUnique(mem.Profile.Dislikes, value)
	case strings.HasPrefix(fact.Key, "goals:"):
		mem.Profile.Goals = appendUnique(mem.Profile.Goals, value)
	case strings.HasPrefix(fact.Key, "fears:"):
		mem.Profile.Fears = appendUnique(mem.Profile.Fears, value)
	case strings.HasPrefix(fact.Key, "topic:"):
		rest := strings.TrimPrefix(fact.Key, "topic:")
		i := strings.Index(rest, ":")
		if i <= 0 {
			return
		}
		topic := model.Topic(rest[:i])
		if mem.TopicMemories == nil {
			mem.TopicMemories = map[model.Topic][]string{}
		}
		mem.TopicMemories[topic] = appendUnique(mem.TopicMemories[topic], value)
	}
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

func (ls *LocalStore) ListFacts(_ context.Context, key model.Key, limit int) ([]model.LongTermFact, error) {
	if err := checkKey(ls.registry, key); err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	doc := ls.loadDoc(key)
	facts := append([]model.LongTermFact(nil), doc.Facts...)
	sort.Slice(facts, func(i, j int) bool { return facts[i].LastSeenAt.After(facts[j].LastSeenAt) })
	if limit > 0 && len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

func (ls *LocalStore) DecayFacts(_ context.Context, now time.Time, unseenFor time.Duration, factor, floor float64) (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	affected := 0
	err := ls.eachDoc(func(key model.Key, doc localDocument) (localDocument, bool) {
		kept := doc.Facts[:0]
		changed := false
		for _, fact := range doc.Facts {
			if now.Sub(fact.LastSeenAt) >= unseenFor {
				fact.Confidence *= factor
				affected++
				changed = true
				if fact.Confidence < floor {
					continue
				}
			}
			kept = append(kept, fact)
		}
		doc.Facts = kept
		return doc, changed
	})
	return affected, err
}

func (ls *LocalStore) InsertEpisodes(ctx context.Context, episodes []model.EpisodicMemory) error {
	key, err := checkBatchKey(ls.registry, episodes)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	col, err := ls.collection(key)
	if err != nil {
		return err
	}
	doc := ls.loadDoc(key)
	now := ls.clock().UTC()
	for _, ep := range episodes {
		createdAt := ep.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		sum := sha256.Sum256([]byte(ep.Text + createdAt.Format(time.RFC3339Nano)))
		id := hex.EncodeToString(sum[:12])
		if err := col.AddDocument(ctx, chromem.Document{
			ID:        id,
			Content:   ep.Text,
			Embedding: ep.Embedding,
			Metadata:  map[string]string{"created_at": createdAt.Format(time.RFC3339Nano)},
		}); err != nil {
			return err
		}
		doc.Episodes = append(doc.Episodes, localEpisodeRef{ID: id, CreatedAt: createdAt})
	}
	return ls.saveDoc(key, doc)
}

func (ls *LocalStore) SearchEpisodes(ctx context.Context, key model.Key, queryEmbedding []float32, k int, threshold float64) ([]model.EpisodicMatch, error) {
	if err := checkKey(ls.registry, key); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	col, err := ls.collection(key)
	if err != nil {
		return nil, err
	}
	n := k
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, err
	}
	matches := make([]model.EpisodicMatch, 0, len(results))
	for _, res := range results {
		sim := float64(res.Similarity)
		if sim < threshold {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, res.Metadata["created_at"])
		matches = append(matches, model.EpisodicMatch{Text: res.Content, Similarity: sim, CreatedAt: createdAt})
	}
	return matches, nil
}

func (ls *LocalStore) PruneEpisodes(ctx context.Context, before time.Time) (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	pruned := 0
	err := ls.eachDoc(func(key model.Key, doc localDocument) (localDocument, bool) {
		var expired []string
		kept := doc.Episodes[:0]
		for _, ref := range doc.Episodes {
			if ref.CreatedAt.Before(before) {
				expired = append(expired, ref.ID)
				continue
			}
			kept = append(kept, ref)
		}
		if len(expired) == 0 {
			return doc, false
		}
		if col, err := ls.collection(key); err == nil {
			_ = col.Delete(ctx, nil, nil, expired...)
		}
		pruned += len(expired)
		doc.Episodes = kept
		return doc, true
	})
	return pruned, err
}

func (ls *LocalStore) GetSummary(_ context.Context, key model.Key) (model.RollingSummary, error) {
	if err := checkKey(ls.registry, key); err != nil {
		return model.RollingSummary{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	doc := ls.loadDoc(key)
	if doc.Summary.UserID == "" {
		return model.RollingSummary{UserID: key.UserID, CharacterID: key.CharacterID}, nil
	}
	return doc.Summary, nil
}

func (ls *LocalStore) UpsertSummary(_ context.Context, summary model.RollingSummary) error {
	if err := checkKey(ls.registry, summary.MemoryKey()); err != nil {
		return err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	key := summary.MemoryKey()
	doc := ls.loadDoc(key)
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = ls.clock().UTC()
	}
	doc.Summary = summary
	return ls.saveDoc(key, doc)
}

func (ls *LocalStore) GetRelationship(_ context.Context, key model.Key) (model.RelationshipState, error) {
	if err := checkKey(ls.registry, key); err != nil {
		return model.RelationshipState{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	// loadDoc already reconciled the memory blob, so a corrupted record has
	// been replaced by a fresh default at this point.
	return ls.loadDoc(key).Memory.Relationship, nil
}

func (ls *LocalStore) SaveRelationship(_ context.Context, state model.RelationshipState) error {
	if err := checkKey(ls.registry, state.MemoryKey()); err != nil {
		return err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	key := state.MemoryKey()
	doc := ls.loadDoc(key)
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = ls.clock().UTC()
	}
	doc.Memory.Relationship = state
	return ls.saveDoc(key, doc)
}

// eachDoc applies fn to every per-key document, persisting the ones fn marks
// changed. Callers hold ls.mu.
func (ls *LocalStore) eachDoc(fn func(model.Key, localDocument) (localDocument, bool)) error {
	entries, err := os.ReadDir(ls.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(ls.dir, entry.Name()))
		if err != nil {
			continue
		}
		var doc localDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		key := model.Key{UserID: doc.UserID, CharacterID: doc.CharacterID}
		if key.Validate() != nil {
			continue
		}
		updated, changed := fn(key, doc)
		if !changed {
			continue
		}
		if err := ls.saveDoc(key, updated); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*LocalStore)(nil)
