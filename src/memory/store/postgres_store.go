package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// PostgresStore implements Store on Postgres + pgvector. It is the primary
// remote backend; the confidence merge runs inside the upsert so concurrent
// writers observe store-side semantics.
type PostgresStore struct {
	DB       *pgxpool.Pool
	registry *model.CharacterRegistry
}

// NewPostgresStore connects to Postgres and returns the store.
func NewPostgresStore(ctx context.Context, connStr string, registry *model.CharacterRegistry) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PostgresStore{DB: db, registry: registry}, nil
}

func (ps *PostgresStore) SaveTurn(ctx context.Context, turn model.ConversationTurn) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	if err := turn.Validate(); err != nil {
		return err
	}
	if err := checkKey(ps.registry, turn.MemoryKey()); err != nil {
		return err
	}
	_, err := ps.DB.Exec(ctx, `
                INSERT INTO conversation_turns (user_id, character_id, role, content, emotion)
                VALUES ($1, $2, $3, $4, $5)
        `, turn.UserID, turn.CharacterID, string(turn.Role), turn.Content, turn.Emotion)
	return err
}

func (ps *PostgresStore) CountTurns(ctx context.Context, key model.Key) (int, error) {
	if ps == nil || ps.DB == nil {
		return 0, nil
	}
	if err := checkKey(ps.registry, key); err != nil {
		return 0, err
	}
	var count int
	err := ps.DB.QueryRow(ctx, `
                SELECT COUNT(*) FROM conversation_turns WHERE user_id = $1 AND character_id = $2
        `, key.UserID, key.CharacterID).Scan(&count)
	return count, err
}

func (ps *PostgresStore) RecentTurns(ctx context.Context, key model.Key, limit int) ([]model.ConversationTurn, error) {
	if ps == nil || ps.DB == nil {
		return nil, nil
	}
	if err := checkKey(ps.registry, key); err != nil {
		return nil, err
	}
	rows, err := ps.DB.Query(ctx, `
                SELECT id, user_id, character_id, role, content, emotion, created_at
                FROM (
                        SELECT id, user_id, character_id, role, content, emotion, created_at
                        FROM conversation_turns
                        WHERE user_id = $1 AND character_id = $2
                        ORDER BY created_at DESC, id DESC
                        LIMIT $3
                ) recent
                ORDER BY created_at ASC, id ASC
        `, key.UserID, key.CharacterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []model.ConversationTurn
	for rows.Next() {
		var turn model.ConversationTurn
		var role string
		if err := rows.Scan(&turn.ID, &turn.UserID, &turn.CharacterID, &role, &turn.Content, &turn.Emotion, &turn.CreatedAt); err != nil {
			return nil, err
		}
		turn.Role = model.Role(role)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (ps *PostgresStore) MergeFact(ctx context.Context, fact model.LongTermFact) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	if err := checkFact(ps.registry, fact); err != nil {
		return err
	}
	_, err := ps.DB.Exec(ctx, `
                INSERT INTO long_term_facts (user_id, character_id, category, key, value, confidence, last_seen_at)
                VALUES ($1, $2, $3, $4, $5, LEAST(1.0, GREATEST(0.0, $6::double precision)), NOW())
                ON CONFLICT (user_id, character_id, category, key) DO UPDATE SET
                        value = EXCLUDED.value,
                        confidence = LEAST(1.0, GREATEST(0.0, long_term_facts.confidence * $7 + EXCLUDED.confidence * $8)),
                        last_seen_at = NOW()
        `, fact.UserID, fact.CharacterID, string(fact.Category), fact.Key, fact.Value, fact.Confidence,
		MergeOldWeight, MergeNewWeight)
	return err
}

func (ps *PostgresStore) ListFacts(ctx context.Context, key model.Key, limit int) ([]model.LongTermFact, error) {
	if ps == nil || ps.DB == nil {
		return nil, nil
	}
	if err := checkKey(ps.registry, key); err != nil {
		return nil, err
	}
	rows, err := ps.DB.Query(ctx, `
                SELECT id, user_id, character_id, category, key, value, confidence, last_seen_at, created_at
                FROM long_term_facts
                WHERE user_id = $1 AND character_id = $2
                ORDER BY last_seen_at DESC, id ASC
                LIMIT $3
        `, key.UserID, key.CharacterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var facts []model.LongTermFact
	for rows.Next() {
		var fact model.LongTermFact
		var category string
		if err := rows.Scan(&fact.ID, &fact.UserID, &fact.CharacterID, &category, &fact.Key, &fact.Value, &fact.Confidence, &fact.LastSeenAt, &fact.CreatedAt); err != nil {
			return nil, err
		}
		fact.Category = model.Category(category)
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func (ps *PostgresStore) DecayFacts(ctx context.Context, now time.Time, unseenFor time.Duration, factor, floor float64) (int, error) {
	if ps == nil || ps.DB == nil {
		return 0, nil
	}
	cutoff := now.Add(-unseenFor)
	tag, err := ps.DB.Exec(ctx, `
                UPDATE long_term_facts SET confidence = confidence * $1 WHERE last_seen_at < $2
        `, factor, cutoff)
	if err != nil {
		return 0, err
	}
	if _, err := ps.DB.Exec(ctx, `DELETE FROM long_term_facts WHERE confidence < $1`, floor); err != nil {
		return int(tag.RowsAffected()), err
	}
	return int(tag.RowsAffected()), nil
}

func (ps *PostgresStore) InsertEpisodes(ctx context.Context, episodes []model.EpisodicMemory) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	key, err := checkBatchKey(ps.registry, episodes)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return nil
	}
	tx, err := ps.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, ep := range episodes {
		jsonEmbed, _ := json.Marshal(ep.Embedding)
		if _, err := tx.Exec(ctx, `
                        INSERT INTO episodic_memories (user_id, character_id, content, embedding)
                        VALUES ($1, $2, $3, $4::vector)
                `, key.UserID, key.CharacterID, ep.Text, vectorFromJSON(jsonEmbed)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (ps *PostgresStore) SearchEpisodes(ctx context.Context, key model.Key, queryEmbedding []float32, k int, threshold float64) ([]model.EpisodicMatch, error) {
	if ps == nil || ps.DB == nil || k <= 0 {
		return nil, nil
	}
	if err := checkKey(ps.registry, key); err != nil {
		return nil, err
	}
	jsonEmbed, _ := json.Marshal(queryEmbedding)
	rows, err := ps.DB.Query(ctx, `
                SELECT content, 1 - (embedding <=> $3::vector) AS similarity, created_at
                FROM episodic_memories
                WHERE user_id = $1 AND character_id = $2
                  AND 1 - (embedding <=> $3::vector) >= $4
                ORDER BY embedding <=> $3::vector
                LIMIT $5
        `, key.UserID, key.CharacterID, vectorFromJSON(jsonEmbed), threshold, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matches []model.EpisodicMatch
	for rows.Next() {
		var match model.EpisodicMatch
		if err := rows.Scan(&match.Text, &match.Similarity, &match.CreatedAt); err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

func (ps *PostgresStore) PruneEpisodes(ctx context.Context, before time.Time) (int, error) {
	if ps == nil || ps.DB == nil {
		return 0, nil
	}
	tag, err := ps.DB.Exec(ctx, `DELETE FROM episodic_memories WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (ps *PostgresStore) GetSummary(ctx context.Context, key model.Key) (model.RollingSummary, error) {
	if ps == nil || ps.DB == nil {
		return model.RollingSummary{}, nil
	}
	if err := checkKey(ps.registry, key); err != nil {
		return model.RollingSummary{}, err
	}
	summary := model.RollingSummary{UserID: key.UserID, CharacterID: key.CharacterID}
	err := ps.DB.QueryRow(ctx, `
                SELECT summary, message_count, updated_at
                FROM rolling_summaries
                WHERE user_id = $1 AND character_id = $2
        `, key.UserID, key.CharacterID).Scan(&summary.Summary, &summary.MessageCount, &summary.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return model.RollingSummary{UserID: key.UserID, CharacterID: key.CharacterID}, nil
		}
		return model.RollingSummary{}, err
	}
	return summary, nil
}

func (ps *PostgresStore) UpsertSummary(ctx context.Context, summary model.RollingSummary) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	if err := checkKey(ps.registry, summary.MemoryKey()); err != nil {
		return err
	}
	_, err := ps.DB.Exec(ctx, `
                INSERT INTO rolling_summaries (user_id, character_id, summary, message_count, updated_at)
                VALUES ($1, $2, $3, $4, NOW())
                ON CONFLICT (user_id, character_id) DO UPDATE SET
                        summary = EXCLUDED.summary,
                        message_count = EXCLUDED.message_count,
                        updated_at = NOW()
        `, summary.UserID, summary.CharacterID, summary.Summary, summary.MessageCount)
	return err
}

func (ps *PostgresStore) GetRelationship(ctx context.Context, key model.Key) (model.RelationshipState, error) {
	if ps == nil || ps.DB == nil {
		return model.RelationshipState{}, nil
	}
	if err := checkKey(ps.registry, key); err != nil {
		return model.RelationshipState{}, err
	}
	var payload []byte
	err := ps.DB.QueryRow(ctx, `
                SELECT state FROM relationship_states WHERE user_id = $1 AND character_id = $2
        `, key.UserID, key.CharacterID).Scan(&payload)
	if err != nil {
		if isNoRows(err) {
			return model.NewRelationshipState(key), nil
		}
		return model.RelationshipState{}, err
	}
	var state model.RelationshipState
	if err := json.Unmarshal(payload, &state); err != nil {
		// Corrupt row: regenerate rather than trusting partial data.
		return model.NewRelationshipState(key), nil
	}
	if state.CharacterID != key.CharacterID {
		return model.NewRelationshipState(key), nil
	}
	if state.Milestones == nil {
		state.Milestones = map[string]time.Time{}
	}
	return state, nil
}

func (ps *PostgresStore) SaveRelationship(ctx context.Context, state model.RelationshipState) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	if err := checkKey(ps.registry, state.MemoryKey()); err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = ps.DB.Exec(ctx, `
                INSERT INTO relationship_states (user_id, character_id, state, updated_at)
                VALUES ($1, $2, $3::jsonb, NOW())
                ON CONFLICT (user_id, character_id) DO UPDATE SET
                        state = EXCLUDED.state,
                        updated_at = NOW()
        `, state.UserID, state.CharacterID, string(payload))
	return err
}

// CreateSchema ensures the pgvector extension and memory tables exist.
func (ps *PostgresStore) CreateSchema(ctx context.Context, schemaPath string) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	schema := defaultPostgresSchema
	if schemaPath != "" {
		data, err := os.ReadFile(schemaPath)
		if err != nil {
			return fmt.Errorf("failed to read schema file: %w", err)
		}
		schema = string(data)
	}
	if _, err := ps.DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	ps.DB.Close()
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const defaultPostgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS conversation_turns (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    character_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    emotion TEXT DEFAULT '',
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS conversation_turns_key_idx ON conversation_turns (user_id, character_id, created_at);

CREATE TABLE IF NOT EXISTS long_term_facts (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    character_id TEXT NOT NULL,
    category TEXT NOT NULL,
    key TEXT NOT NULL DEFAULT '',
    value TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    last_seen_at TIMESTAMPTZ DEFAULT NOW(),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (user_id, character_id, category, key)
);

CREATE INDEX IF NOT EXISTS long_term_facts_key_idx ON long_term_facts (user_id, character_id, last_seen_at DESC);

CREATE TABLE IF NOT EXISTS episodic_memories (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    character_id TEXT NOT NULL,
    content TEXT NOT NULL,
    embedding vector(1536),
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS episodic_memories_key_idx ON episodic_memories (user_id, character_id);
CREATE INDEX IF NOT EXISTS episodic_memories_embedding_idx ON episodic_memories USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS rolling_summaries (
    user_id TEXT NOT NULL,
    character_id TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    message_count INT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    PRIMARY KEY (user_id, character_id)
);

CREATE TABLE IF NOT EXISTS relationship_states (
    user_id TEXT NOT NULL,
    character_id TEXT NOT NULL,
    state JSONB NOT NULL,
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    PRIMARY KEY (user_id, character_id)
);
`

func trimJSON(s string) string { return strings.Trim(s, "[]") }

func vectorFromJSON(jsonEmbed []byte) string {
	return fmt.Sprintf("[%s]", trimJSON(string(jsonEmbed)))
}

var _ Store = (*PostgresStore)(nil)
var _ SchemaInitializer = (*PostgresStore)(nil)
