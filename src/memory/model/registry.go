package model

import (
	"fmt"
	"sort"
	"strings"
)

// CharacterRegistry is the fixed enumeration of character identities the
// product ships. Every store operation consults it before touching
// persistence; an id outside the registry is an access-denied condition.
type CharacterRegistry struct {
	ids map[string]struct{}
}

// DefaultCharacters mirrors the shipped companion roster.
var DefaultCharacters = []string{"aurora", "kai", "luna", "sage"}

// NewCharacterRegistry builds a registry from the given ids. With no ids it
// falls back to DefaultCharacters.
func NewCharacterRegistry(ids ...string) *CharacterRegistry {
	if len(ids) == 0 {
		ids = DefaultCharacters
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return &CharacterRegistry{ids: set}
}

// Known reports whether the character id is part of the roster.
func (r *CharacterRegistry) Known(characterID string) bool {
	if r == nil {
		return false
	}
	_, ok := r.ids[characterID]
	return ok
}

// Validate returns ErrUnknownCharacter for ids outside the roster.
func (r *CharacterRegistry) Validate(characterID string) error {
	if !r.Known(characterID) {
		return fmt.Errorf("%w: %q", ErrUnknownCharacter, characterID)
	}
	return nil
}

// ValidateKey checks both key shape and character membership.
func (r *CharacterRegistry) ValidateKey(key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return r.Validate(key.CharacterID)
}

// IDs returns the roster in stable order.
func (r *CharacterRegistry) IDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
