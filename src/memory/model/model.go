package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Key scopes every memory entity to a (user, character) pair. It is the unit
// of isolation: nothing stored under one key is ever visible under another.
type Key struct {
	UserID      string
	CharacterID string
}

func (k Key) String() string {
	return k.UserID + "/" + k.CharacterID
}

// Validate rejects keys with blank components. Character membership is checked
// separately against the CharacterRegistry.
func (k Key) Validate() error {
	if strings.TrimSpace(k.UserID) == "" {
		return errors.New("memory key: empty user id")
	}
	if strings.TrimSpace(k.CharacterID) == "" {
		return errors.New("memory key: empty character id")
	}
	return nil
}

// ErrUnknownCharacter is returned when a character id is not part of the
// registry. Callers surface it as an access-denied condition.
var ErrUnknownCharacter = errors.New("unknown character id")

// ErrCharacterMismatch is returned when a payload or loaded record carries a
// character id that disagrees with the requested key.
var ErrCharacterMismatch = errors.New("character id mismatch")

// Category classifies a long-term fact.
type Category string

const (
	CategoryPreference   Category = "preference"
	CategoryFact         Category = "fact"
	CategoryRelationship Category = "relationship"
	CategoryGoal         Category = "goal"
	CategoryTrigger      Category = "trigger"
)

// Categories lists every valid fact category.
func Categories() []Category {
	return []Category{CategoryPreference, CategoryFact, CategoryRelationship, CategoryGoal, CategoryTrigger}
}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryPreference, CategoryFact, CategoryRelationship, CategoryGoal, CategoryTrigger:
		return true
	}
	return false
}

// LongTermFact is a durable, confidence-scored key/value statement about the
// user. At most one row exists per (user, character, category, key).
type LongTermFact struct {
	ID          int64
	UserID      string
	CharacterID string
	Category    Category
	Key         string
	Value       string
	Confidence  float64
	LastSeenAt  time.Time
	CreatedAt   time.Time
}

func (f LongTermFact) MemoryKey() Key { return Key{UserID: f.UserID, CharacterID: f.CharacterID} }

// EpisodicMemory is an embedded free-text snippet. Immutable once written.
type EpisodicMemory struct {
	ID          int64
	UserID      string
	CharacterID string
	Text        string
	Embedding   []float32
	CreatedAt   time.Time
}

func (e EpisodicMemory) MemoryKey() Key { return Key{UserID: e.UserID, CharacterID: e.CharacterID} }

// EpisodicMatch is a similarity-search hit.
type EpisodicMatch struct {
	Text       string
	Similarity float64
	CreatedAt  time.Time
}

// RollingSummary is the single replaced-in-place digest of older conversation
// for one key. Upsert only; never appended as a list.
type RollingSummary struct {
	UserID       string
	CharacterID  string
	Summary      string
	MessageCount int
	UpdatedAt    time.Time
}

func (s RollingSummary) MemoryKey() Key { return Key{UserID: s.UserID, CharacterID: s.CharacterID} }

// CommunicationStyle is a one-way ratchet driven by intimacy.
type CommunicationStyle string

const (
	StyleFormal   CommunicationStyle = "formal"
	StyleCasual   CommunicationStyle = "casual"
	StyleIntimate CommunicationStyle = "intimate"
)

// SpecialMoment records a high-importance message the character should not
// forget.
type SpecialMoment struct {
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Importance float64   `json:"importance"`
}

// RelationshipState holds the scored closeness between user and character.
// Owned exclusively by the relationship scorer.
type RelationshipState struct {
	UserID             string               `json:"userId"`
	CharacterID        string               `json:"characterId"`
	Level              int                  `json:"level"`
	Trust              float64              `json:"trust"`
	Intimacy           float64              `json:"intimacy"`
	Affection          float64              `json:"affection"`
	CommunicationStyle CommunicationStyle   `json:"communicationStyle"`
	Milestones         map[string]time.Time `json:"milestones"`
	SpecialMoments     []SpecialMoment      `json:"specialMoments"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

func (s RelationshipState) MemoryKey() Key { return Key{UserID: s.UserID, CharacterID: s.CharacterID} }

// NewRelationshipState returns the zero relationship for a key.
func NewRelationshipState(key Key) RelationshipState {
	return RelationshipState{
		UserID:             key.UserID,
		CharacterID:        key.CharacterID,
		Level:              1,
		CommunicationStyle: StyleFormal,
		Milestones:         map[string]time.Time{},
	}
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message in the append-only log. It is the source of
// truth for summarization and episodic extraction input.
type ConversationTurn struct {
	ID          int64
	UserID      string
	CharacterID string
	Role        Role
	Content     string
	Emotion     string
	CreatedAt   time.Time
}

func (t ConversationTurn) MemoryKey() Key { return Key{UserID: t.UserID, CharacterID: t.CharacterID} }

func (t ConversationTurn) Validate() error {
	if err := t.MemoryKey().Validate(); err != nil {
		return err
	}
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return fmt.Errorf("conversation turn: invalid role %q", t.Role)
	}
	return nil
}

// Clamp bounds val to [minVal, maxVal].
func Clamp(val, minVal, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
