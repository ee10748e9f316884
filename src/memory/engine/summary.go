package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
	"github.com/Seren-Labs/companion-memory/src/models"
)

const summaryPrompt = `Condense this conversation between a user and their companion into 3-5 third-person bullet points. Preserve concrete facts and the emotional tone; drop small talk.

Conversation:
%s

Bullet points:`

// Summarizer reduces a window of turns to a replaced-in-place digest.
type Summarizer struct {
	model models.Model
}

func NewSummarizer(m models.Model) *Summarizer {
	return &Summarizer{model: m}
}

// Refresh produces the new summary for the window. MessageCount is exactly
// the number of turns passed in. The caller decides what to do on error; the
// contract is that a failed refresh never replaces the previous summary.
func (s *Summarizer) Refresh(ctx context.Context, key model.Key, turns []model.ConversationTurn) (model.RollingSummary, error) {
	if s.model == nil {
		return model.RollingSummary{}, fmt.Errorf("summarizer: no completion model")
	}
	text, err := s.model.Complete(ctx, fmt.Sprintf(summaryPrompt, transcript(turns)), models.Options{
		Temperature: 0.3,
		MaxTokens:   400,
	})
	if err != nil {
		return model.RollingSummary{}, fmt.Errorf("summarize: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return model.RollingSummary{}, fmt.Errorf("summarize: empty output")
	}
	return model.RollingSummary{
		UserID:       key.UserID,
		CharacterID:  key.CharacterID,
		Summary:      text,
		MessageCount: len(turns),
	}, nil
}

func transcript(turns []model.ConversationTurn) string {
	var b strings.Builder
	for _, turn := range turns {
		switch turn.Role {
		case model.RoleUser:
			b.WriteString("User: ")
		case model.RoleAssistant:
			b.WriteString("Companion: ")
		}
		b.WriteString(strings.TrimSpace(turn.Content))
		b.WriteByte('\n')
	}
	return b.String()
}
