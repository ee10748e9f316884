package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// MongoStore implements Store on MongoDB. Episodic similarity search relies on
// an Atlas $vectorSearch index named "vector_index" over the embedding field.
type MongoStore struct {
	client        *mongo.Client
	registry      *model.CharacterRegistry
	turns         *mongo.Collection
	facts         *mongo.Collection
	episodes      *mongo.Collection
	summaries     *mongo.Collection
	relationships *mongo.Collection
}

const mongoCloseTimeout = 5 * time.Second

func NewMongoStore(ctx context.Context, uri, database string, registry *model.CharacterRegistry) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(database)
	return &MongoStore{
		client:        client,
		registry:      registry,
		turns:         db.Collection("conversation_turns"),
		facts:         db.Collection("long_term_facts"),
		episodes:      db.Collection("episodic_memories"),
		summaries:     db.Collection("rolling_summaries"),
		relationships: db.Collection("relationship_states"),
	}, nil
}

func keyFilter(key model.Key) bson.M {
	return bson.M{"user_id": key.UserID, "character_id": key.CharacterID}
}

func (ms *MongoStore) SaveTurn(ctx context.Context, turn model.ConversationTurn) error {
	if ms == nil || ms.turns == nil {
		return nil
	}
	if err := turn.Validate(); err != nil {
		return err
	}
	if err := checkKey(ms.registry, turn.MemoryKey()); err != nil {
		return err
	}
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := ms.turns.InsertOne(ctx, bson.M{
		"user_id":      turn.UserID,
		"character_id": turn.CharacterID,
		"role":         string(turn.Role),
		"content":      turn.Content,
		"emotion":      turn.Emotion,
		"created_at":   createdAt,
	})
	return err
}

func (ms *MongoStore) CountTurns(ctx context.Context, key model.Key) (int, error) {
	if ms == nil || ms.turns == nil {
		return 0, nil
	}
	if err := checkKey(ms.registry, key); err != nil {
		return 0, err
	}
	count, err := ms.turns.CountDocuments(ctx, keyFilter(key))
	return int(count), err
}

func (ms *MongoStore) RecentTurns(ctx context.Context, key model.Key, limit int) ([]model.ConversationTurn, error) {
	if ms == nil || ms.turns == nil {
		return nil, nil
	}
	if err := checkKey(ms.registry, key); err != nil {
		return nil, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := ms.turns.Find(ctx, keyFilter(key), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var turns []model.ConversationTurn
	for cursor.Next(ctx) {
		var doc struct {
			UserID      string    `bson:"user_id"`
			CharacterID string    `bson:"character_id"`
			Role        string    `bson:"role"`
			Content     string    `bson:"content"`
			Emotion     string    `bson:"emotion"`
			CreatedAt   time.Time `bson:"created_at"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		turns = append(turns, model.ConversationTurn{
			UserID:      doc.UserID,
			CharacterID: doc.CharacterID,
			Role:        model.Role(doc.Role),
			Content:     doc.Content,
			Emotion:     doc.Emotion,
			CreatedAt:   doc.CreatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	// Oldest first, matching the transcript order summarization expects.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (ms *MongoStore) MergeFact(ctx context.Context, fact model.LongTermFact) error {
	if ms == nil || ms.facts == nil {
		return nil
	}
	if err := checkFact(ms.registry, fact); err != nil {
		return err
	}
	filter := bson.M{
		"user_id":      fact.UserID,
		"character_id": fact.CharacterID,
		"category":     string(fact.Category),
		"key":          fact.Key,
	}
	now := time.Now().UTC()
	confidence := model.Clamp(fact.Confidence, 0, 1)
	var existing struct {
		Confidence float64 `bson:"confidence"`
	}
	err := ms.facts.FindOne(ctx, filter).Decode(&existing)
	switch {
	case err == nil:
		confidence = MergeConfidence(existing.Confidence, fact.Confidence)
	case errors.Is(err, mongo.ErrNoDocuments):
	default:
		return err
	}
	opts := options.Update().SetUpsert(true)
	_, err = ms.facts.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{
			"value":        fact.Value,
			"confidence":   confidence,
			"last_seen_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}, opts)
	return err
}

func (ms *MongoStore) ListFacts(ctx context.Context, key model.Key, limit int) ([]model.LongTermFact, error) {
	if ms == nil || ms.facts == nil {
		return nil, nil
	}
	if err := checkKey(ms.registry, key); err != nil {
		return nil, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "last_seen_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := ms.facts.Find(ctx, keyFilter(key), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var facts []model.LongTermFact
	for cursor.Next(ctx) {
		var doc struct {
			UserID      string    `bson:"user_id"`
			CharacterID string    `bson:"character_id"`
			Category    string    `bson:"category"`
			Key         string    `bson:"key"`
			Value       string    `bson:"value"`
			Confidence  float64   `bson:"confidence"`
			LastSeenAt  time.Time `bson:"last_seen_at"`
			CreatedAt   time.Time `bson:"created_at"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		facts = append(facts, model.LongTermFact{
			UserID:      doc.UserID,
			CharacterID: doc.CharacterID,
			Category:    model.Category(doc.Category),
			Key:         doc.Key,
			Value:       doc.Value,
			Confidence:  doc.Confidence,
			LastSeenAt:  doc.LastSeenAt,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return facts, cursor.Err()
}

func (ms *MongoStore) DecayFacts(ctx context.Context, now time.Time, unseenFor time.Duration, factor, floor float64) (int, error) {
	if ms == nil || ms.facts == nil {
		return 0, nil
	}
	cutoff := now.Add(-unseenFor)
	res, err := ms.facts.UpdateMany(ctx,
		bson.M{"last_seen_at": bson.M{"$lt": cutoff}},
		bson.M{"$mul": bson.M{"confidence": factor}})
	if err != nil {
		return 0, err
	}
	if _, err := ms.facts.DeleteMany(ctx, bson.M{"confidence": bson.M{"$lt": floor}}); err != nil {
		return int(res.ModifiedCount), err
	}
	return int(res.ModifiedCount), nil
}

func (ms *MongoStore) InsertEpisodes(ctx context.Context, episodes []model.EpisodicMemory) error {
	if ms == nil || ms.episodes == nil {
		return nil
	}
	key, err := checkBatchKey(ms.registry, episodes)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]any, 0, len(episodes))
	for _, ep := range episodes {
		createdAt := ep.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		docs = append(docs, bson.M{
			"user_id":      key.UserID,
			"character_id": key.CharacterID,
			"content":      ep.Text,
			"embedding":    float64Embedding(ep.Embedding),
			"created_at":   createdAt,
		})
	}
	_, err = ms.episodes.InsertMany(ctx, docs)
	return err
}

func (ms *MongoStore) SearchEpisodes(ctx context.Context, key model.Key, queryEmbedding []float32, k int, threshold float64) ([]model.EpisodicMatch, error) {
	if ms == nil || ms.episodes == nil || k <= 0 {
		return nil, nil
	}
	if err := checkKey(ms.registry, key); err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{
			{Key: "$vectorSearch", Value: bson.D{
				{Key: "index", Value: "vector_index"},
				{Key: "path", Value: "embedding"},
				{Key: "queryVector", Value: float64Embedding(queryEmbedding)},
				{Key: "numCandidates", Value: int64(k * 10)},
				{Key: "limit", Value: int64(k)},
				{Key: "filter", Value: bson.D{
					{Key: "user_id", Value: key.UserID},
					{Key: "character_id", Value: key.CharacterID},
				}},
			}},
		},
		{
			{Key: "$addFields", Value: bson.D{
				{Key: "similarity", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
			}},
		},
	}
	cursor, err := ms.episodes.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var matches []model.EpisodicMatch
	for cursor.Next(ctx) {
		var doc struct {
			UserID      string    `bson:"user_id"`
			CharacterID string    `bson:"character_id"`
			Content     string    `bson:"content"`
			Similarity  float64   `bson:"similarity"`
			CreatedAt   time.Time `bson:"created_at"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		// Belt and braces: the filter already scopes the search, but a hit
		// from another key is corruption, not a result.
		if doc.UserID != key.UserID || doc.CharacterID != key.CharacterID {
			continue
		}
		if doc.Similarity < threshold {
			continue
		}
		matches = append(matches, model.EpisodicMatch{
			Text:       doc.Content,
			Similarity: doc.Similarity,
			CreatedAt:  doc.CreatedAt,
		})
	}
	return matches, cursor.Err()
}

func (ms *MongoStore) PruneEpisodes(ctx context.Context, before time.Time) (int, error) {
	if ms == nil || ms.episodes == nil {
		return 0, nil
	}
	res, err := ms.episodes.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

func (ms *MongoStore) GetSummary(ctx context.Context, key model.Key) (model.RollingSummary, error) {
	if ms == nil || ms.summaries == nil {
		return model.RollingSummary{}, nil
	}
	if err := checkKey(ms.registry, key); err != nil {
		return model.RollingSummary{}, err
	}
	var doc struct {
		UserID       string    `bson:"user_id"`
		CharacterID  string    `bson:"character_id"`
		Summary      string    `bson:"summary"`
		MessageCount int       `bson:"message_count"`
		UpdatedAt    time.Time `bson:"updated_at"`
	}
	err := ms.summaries.FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.RollingSummary{UserID: key.UserID, CharacterID: key.CharacterID}, nil
	}
	if err != nil {
		return model.RollingSummary{}, err
	}
	return model.RollingSummary{
		UserID:       doc.UserID,
		CharacterID:  doc.CharacterID,
		Summary:      doc.Summary,
		MessageCount: doc.MessageCount,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (ms *MongoStore) UpsertSummary(ctx context.Context, summary model.RollingSummary) error {
	if ms == nil || ms.summaries == nil {
		return nil
	}
	if err := checkKey(ms.registry, summary.MemoryKey()); err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	_, err := ms.summaries.ReplaceOne(ctx, keyFilter(summary.MemoryKey()), bson.M{
		"user_id":       summary.UserID,
		"character_id":  summary.CharacterID,
		"summary":       summary.Summary,
		"message_count": summary.MessageCount,
		"updated_at":    time.Now().UTC(),
	}, opts)
	return err
}

func (ms *MongoStore) GetRelationship(ctx context.Context, key model.Key) (model.RelationshipState, error) {
	if ms == nil || ms.relationships == nil {
		return model.RelationshipState{}, nil
	}
	if err := checkKey(ms.registry, key); err != nil {
		return model.RelationshipState{}, err
	}
	var doc struct {
		State string `bson:"state"`
	}
	err := ms.relationships.FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.NewRelationshipState(key), nil
	}
	if err != nil {
		return model.RelationshipState{}, err
	}
	var state model.RelationshipState
	if err := json.Unmarshal([]byte(doc.State), &state); err != nil || state.CharacterID != key.CharacterID {
		return model.NewRelationshipState(key), nil
	}
	if state.Milestones == nil {
		state.Milestones = map[string]time.Time{}
	}
	return state, nil
}

func (ms *MongoStore) SaveRelationship(ctx context.Context, state model.RelationshipState) error {
	if ms == nil || ms.relationships == nil {
		return nil
	}
	if err := checkKey(ms.registry, state.MemoryKey()); err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	_, err = ms.relationships.ReplaceOne(ctx, keyFilter(state.MemoryKey()), bson.M{
		"user_id":      state.UserID,
		"character_id": state.CharacterID,
		"state":        string(payload),
		"updated_at":   time.Now().UTC(),
	}, opts)
	return err
}

// CreateSchema ensures the collections carry useful indexes. The Atlas vector
// search index itself is provisioned out of band.
func (ms *MongoStore) CreateSchema(ctx context.Context, _ string) error {
	if ms == nil {
		return nil
	}
	keyIndex := func(extra ...bson.E) mongo.IndexModel {
		keys := bson.D{{Key: "user_id", Value: 1}, {Key: "character_id", Value: 1}}
		keys = append(keys, extra...)
		return mongo.IndexModel{Keys: keys}
	}
	if ms.turns != nil {
		if _, err := ms.turns.Indexes().CreateOne(ctx, keyIndex(bson.E{Key: "created_at", Value: -1})); err != nil {
			return err
		}
	}
	if ms.facts != nil {
		if _, err := ms.facts.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "character_id", Value: 1},
				{Key: "category", Value: 1},
				{Key: "key", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		}); err != nil {
			return err
		}
	}
	if ms.episodes != nil {
		if _, err := ms.episodes.Indexes().CreateOne(ctx, keyIndex(bson.E{Key: "created_at", Value: -1})); err != nil {
			return err
		}
	}
	if ms.summaries != nil {
		if _, err := ms.summaries.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "character_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}); err != nil {
			return err
		}
	}
	if ms.relationships != nil {
		if _, err := ms.relationships.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "character_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects the underlying client.
func (ms *MongoStore) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func float64Embedding(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

var _ Store = (*MongoStore)(nil)
var _ SchemaInitializer = (*MongoStore)(nil)
