package stage

import (
	"strings"

	"red-ai/internal/domain"
)

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

func buildPromptMessages(systemPrompt string, history []domain.ConversationTurn, prompt string) []domain.ChatMessage {
	var messages []domain.ChatMessage
	if sp := strings.TrimSpace(systemPrompt); sp != "" {
		messages = append(messages, domain.ChatMessage{Role: roleSystem, Content: sp})
	}
	for _, t := range history {
		messages = append(messages, historyToPromptMessages(t)...)
	}
	return append(messages, domain.ChatMessage{Role: roleUser, Content: prompt})
}

// completedHistory keeps the last limit turns that received a completion.
func completedHistory(turns []domain.ConversationTurn, limit int) []domain.ConversationTurn {
	out := make([]domain.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.Completed() {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// historyToPromptMessages skips turns that never received a completion,
// including the turn written earlier in the current run.
func historyToPromptMessages(t domain.ConversationTurn) []domain.ChatMessage {
	if !t.Completed() {
		return nil
	}
	prompt := strings.TrimSpace(t.Prompt)
	completion := strings.TrimSpace(t.Completion)
	if prompt == "" || completion == "" {
		return nil
	}
	return []domain.ChatMessage{
		{Role: roleUser, Content: prompt},
		{Role: roleAssistant, Content: completion},
	}
}
