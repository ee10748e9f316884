package model

import "time"

// Topic buckets classified sentences into themed memories.
type Topic string

const (
	TopicWork          Topic = "work"
	TopicFamily        Topic = "family"
	TopicHobbies       Topic = "hobbies"
	TopicRelationships Topic = "relationships"
	TopicProblems      Topic = "problems"
	TopicDreams        Topic = "dreams"
)

// Topics lists every topic bucket.
func Topics() []Topic {
	return []Topic{TopicWork, TopicFamily, TopicHobbies, TopicRelationships, TopicProblems, TopicDreams}
}

// UserProfile holds the single- and list-valued identity fields the extractor
// maintains.
type UserProfile struct {
	Name       string   `json:"name,omitempty"`
	Age        string   `json:"age,omitempty"`
	Occupation string   `json:"occupation,omitempty"`
	Location   string   `json:"location,omitempty"`
	Likes      []string `json:"likes,omitempty"`
	Dislikes   []string `json:"dislikes,omitempty"`
	Goals      []string `json:"goals,omitempty"`
	Fears      []string `json:"fears,omitempty"`
}

// TemporalContext tracks when the pair first met and last spoke.
type TemporalContext struct {
	FirstMetAt time.Time `json:"firstMetAt,omitempty"`
	LastSeenAt time.Time `json:"lastSeenAt,omitempty"`
}

// Statistics carries running counters for a key.
type Statistics struct {
	TotalMessages   int `json:"totalMessages"`
	SummarizedCount int `json:"summarizedCount"`
}

// UserMemory is the loosely-persisted per-key blob kept by the local fallback
// store. It is an explicit typed shape; reconciliation is field-by-field over
// this known structure, never a generic untyped merge.
type UserMemory struct {
	UserID          string             `json:"userId"`
	CharacterID     string             `json:"characterId"`
	Profile         UserProfile        `json:"userProfile"`
	Relationship    RelationshipState  `json:"relationship"`
	TopicMemories   map[Topic][]string `json:"topicMemories"`
	TemporalContext TemporalContext    `json:"temporalContext"`
	Statistics      Statistics         `json:"statistics"`
}

// NewUserMemory returns a fresh, empty structure for the key.
func NewUserMemory(key Key) UserMemory {
	return UserMemory{
		UserID:        key.UserID,
		CharacterID:   key.CharacterID,
		Relationship:  NewRelationshipState(key),
		TopicMemories: map[Topic][]string{},
	}
}

// Reconcile overlays a loaded record onto a fresh default. Only fields present
// and non-zero in the loaded record win; the recursion covers exactly the
// known nested shape. A loaded record whose character id disagrees with the
// base key is discarded wholesale.
func (m UserMemory) Reconcile(loaded *UserMemory) UserMemory {
	if loaded == nil {
		return m
	}
	if loaded.CharacterID != "" && loaded.CharacterID != m.CharacterID {
		return m
	}
	out := m

	p := loaded.Profile
	if p.Name != "" {
		out.Profile.Name = p.Name
	}
	if p.Age != "" {
		out.Profile.Age = p.Age
	}
	if p.Occupation != "" {
		out.Profile.Occupation = p.Occupation
	}
	if p.Location != "" {
		out.Profile.Location = p.Location
	}
	if len(p.Likes) > 0 {
		out.Profile.Likes = append([]string(nil), p.Likes...)
	}
	if len(p.Dislikes) > 0 {
		out.Profile.Dislikes = append([]string(nil), p.Dislikes...)
	}
	if len(p.Goals) > 0 {
		out.Profile.Goals = append([]string(nil), p.Goals...)
	}
	if len(p.Fears) > 0 {
		out.Profile.Fears = append([]string(nil), p.Fears...)
	}

	r := loaded.Relationship
	if r.Level > 0 {
		out.Relationship.Level = r.Level
	}
	if r.Trust > 0 {
		out.Relationship.Trust = Clamp(r.Trust, 0, 100)
	}
	if r.Intimacy > 0 {
		out.Relationship.Intimacy = Clamp(r.Intimacy, 0, 100)
	}
	if r.Affection > 0 {
		out.Relationship.Affection = Clamp(r.Affection, 0, 100)
	}
	if r.CommunicationStyle != "" {
		out.Relationship.CommunicationStyle = r.CommunicationStyle
	}
	if len(r.Milestones) > 0 {
		out.Relationship.Milestones = make(map[string]time.Time, len(r.Milestones))
		for name, ts := range r.Milestones {
			out.Relationship.Milestones[name] = ts
		}
	}
	if len(r.SpecialMoments) > 0 {
		out.Relationship.SpecialMoments = append([]SpecialMoment(nil), r.SpecialMoments...)
	}
	if !r.UpdatedAt.IsZero() {
		out.Relationship.UpdatedAt = r.UpdatedAt
	}

	if len(loaded.TopicMemories) > 0 {
		out.TopicMemories = make(map[Topic][]string, len(loaded.TopicMemories))
		for topic, entries := range loaded.TopicMemories {
			out.TopicMemories[topic] = append([]string(nil), entries...)
		}
	}
	if !loaded.TemporalContext.FirstMetAt.IsZero() {
		out.TemporalContext.FirstMetAt = loaded.TemporalContext.FirstMetAt
	}
	if !loaded.TemporalContext.LastSeenAt.IsZero() {
		out.TemporalContext.LastSeenAt = loaded.TemporalContext.LastSeenAt
	}
	if loaded.Statistics.TotalMessages > 0 {
		out.Statistics.TotalMessages = loaded.Statistics.TotalMessages
	}
	if loaded.Statistics.SummarizedCount > 0 {
		out.Statistics.SummarizedCount = loaded.Statistics.SummarizedCount
	}
	return out
}
