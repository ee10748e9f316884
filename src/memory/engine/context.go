package engine

import (
	"sort"
	"strings"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// Snapshot is everything the context assembler reads. It is produced by the
// engine's fetch fan-out; assembly itself is pure and does no I/O.
type Snapshot struct {
	Persona  string
	Summary  model.RollingSummary
	Facts    []model.LongTermFact
	Episodes []model.EpisodicMatch
}

// Context assembly bounds: only episodes above the threshold make it into
// the prompt, capped to the most similar few.
const (
	ContextEpisodeLimit        = 4
	ContextSimilarityThreshold = 0.7
)

var categoryLabels = map[model.Category]string{
	model.CategoryPreference:   "Preferences",
	model.CategoryFact:         "Facts about the user",
	model.CategoryRelationship: "People in their life",
	model.CategoryGoal:         "Goals",
	model.CategoryTrigger:      "Sensitive topics",
}

// BuildContext renders the snapshot into the single prompt block handed to
// the completion capability. Sections appear in fixed order and empty
// sections are omitted entirely.
func BuildContext(snap Snapshot) string {
	var sections []string

	if persona := strings.TrimSpace(snap.Persona); persona != "" {
		sections = append(sections, persona)
	}

	if summary := strings.TrimSpace(snap.Summary.Summary); summary != "" {
		sections = append(sections, "Conversation so far:\n"+summary)
	}

	if block := factsBlock(snap.Facts); block != "" {
		sections = append(sections, block)
	}

	if block := episodesBlock(snap.Episodes); block != "" {
		sections = append(sections, block)
	}

	return strings.Join(sections, "\n\n")
}

func factsBlock(facts []model.LongTermFact) string {
	if len(facts) == 0 {
		return ""
	}
	byCategory := make(map[model.Category][]model.LongTermFact)
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}
	var b strings.Builder
	b.WriteString("What you remember about the user:")
	for _, cat := range model.Categories() {
		group := byCategory[cat]
		if len(group) == 0 {
			continue
		}
		b.WriteString("\n" + categoryLabels[cat] + ":")
		for _, f := range group {
			b.WriteString("\n- " + f.Value)
		}
	}
	return b.String()
}

func episodesBlock(episodes []model.EpisodicMatch) string {
	filtered := make([]model.EpisodicMatch, 0, len(episodes))
	for _, ep := range episodes {
		if ep.Similarity > ContextSimilarityThreshold {
			filtered = append(filtered, ep)
		}
	}
	if len(filtered) == 0 {
		return ""
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Similarity > filtered[j].Similarity })
	if len(filtered) > ContextEpisodeLimit {
		filtered = filtered[:ContextEpisodeLimit]
	}
	var b strings.Builder
	b.WriteString("Moments you both remember:")
	for _, ep := range filtered {
		b.WriteString("\n- " + ep.Text)
	}
	return b.String()
}
