package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestKeyValidate(t *testing.T) {
	if err := (Key{UserID: "u1", CharacterID: "aurora"}).Validate(); err != nil {
		t.Fatal(err)
	}
	for _, key := range []Key{
		{},
		{UserID: "u1"},
		{CharacterID: "aurora"},
		{UserID: "  ", CharacterID: "aurora"},
	} {
		if err := key.Validate(); err == nil {
			t.Fatalf("key %v accepted", key)
		}
	}
}

func TestRegistryRejectsUnknown(t *testing.T) {
	r := NewCharacterRegistry("aurora", "kai")
	if !r.Known("aurora") {
		t.Fatal("aurora should be known")
	}
	err := r.Validate("ghost")
	if !errors.Is(err, ErrUnknownCharacter) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistryDefaultsRoster(t *testing.T) {
	r := NewCharacterRegistry()
	for _, id := range DefaultCharacters {
		if !r.Known(id) {
			t.Fatalf("default character %q missing", id)
		}
	}
}

func TestNewRelationshipState(t *testing.T) {
	state := NewRelationshipState(Key{UserID: "u1", CharacterID: "aurora"})
	if state.Level != 1 || state.CommunicationStyle != StyleFormal {
		t.Fatalf("state = %+v", state)
	}
	if state.Milestones == nil {
		t.Fatal("milestones map not initialized")
	}
}

func TestConversationTurnValidate(t *testing.T) {
	good := ConversationTurn{UserID: "u1", CharacterID: "aurora", Role: RoleUser, Content: "hi"}
	if err := good.Validate(); err != nil {
		t.Fatal(err)
	}
	bad := good
	bad.Role = "narrator"
	if err := bad.Validate(); err == nil {
		t.Fatal("invalid role accepted")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(1.5, 0, 1) != 1 || Clamp(-0.5, 0, 1) != 0 || Clamp(0.4, 0, 1) != 0.4 {
		t.Fatal("clamp out of bounds")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(sim-1) > 1e-9 {
		t.Fatalf("identical vectors: %v", sim)
	}
	if sim := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(sim) > 1e-9 {
		t.Fatalf("orthogonal vectors: %v", sim)
	}
	if sim := CosineSimilarity(nil, []float32{1}); sim != 0 {
		t.Fatalf("mismatched vectors: %v", sim)
	}
}

func TestUserMemoryReconcile(t *testing.T) {
	key := Key{UserID: "u1", CharacterID: "aurora"}
	base := NewUserMemory(key)

	loaded := NewUserMemory(key)
	loaded.Profile.Name = "小明"
	loaded.Statistics.TotalMessages = 12
	merged := base.Reconcile(&loaded)
	if merged.Profile.Name != "小明" || merged.Statistics.TotalMessages != 12 {
		t.Fatalf("merged = %+v", merged)
	}

	// A record for a different character is corruption: nothing survives.
	foreign := NewUserMemory(Key{UserID: "u1", CharacterID: "kai"})
	foreign.Profile.Name = "intruder"
	fresh := base.Reconcile(&foreign)
	if fresh.Profile.Name != "" {
		t.Fatalf("cross-character data leaked: %+v", fresh)
	}
	if fresh.CharacterID != "aurora" {
		t.Fatalf("characterId = %q", fresh.CharacterID)
	}
}

func TestMemoryKeyAccessors(t *testing.T) {
	now := time.Now()
	key := Key{UserID: "u", CharacterID: "aurora"}
	entities := []interface{ MemoryKey() Key }{
		LongTermFact{UserID: "u", CharacterID: "aurora", CreatedAt: now},
		EpisodicMemory{UserID: "u", CharacterID: "aurora"},
		RollingSummary{UserID: "u", CharacterID: "aurora"},
		RelationshipState{UserID: "u", CharacterID: "aurora"},
		ConversationTurn{UserID: "u", CharacterID: "aurora"},
	}
	for _, e := range entities {
		if e.MemoryKey() != key {
			t.Fatalf("%T key = %v", e, e.MemoryKey())
		}
	}
}
