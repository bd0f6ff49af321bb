package usecase

import (
	"slices"

	"cepal-chatbot/internal/domain"
)

const WelcomeMessage = "Bienvenido a la CEPAL, ¿En qué puedo ayudarte hoy?"

func welcomeQuestions() []string {
	return []string{
		"¿Qué es la CEPAL?",
		"¿Qué hace la CEPAL?",
		"¿Cuál es la misión de la CEPAL?",
	}
}

// InitializeSession seeds an empty memory with the welcome response and an
// empty visible list with its display message. Existing state is left as is.
func InitializeSession(s *domain.Session) {
	if len(s.Memory) == 0 {
		s.Memory = append(s.Memory, domain.MemoryEntry{
			Role: domain.RoleAssistant,
			Response: &domain.AgentResponse{
				ChatMessage:            WelcomeMessage,
				SuggestedUserQuestions: welcomeQuestions(),
			},
		})
	}
	if len(s.Messages) == 0 {
		s.Messages = append(s.Messages, domain.DisplayMessage{
			Role:               domain.RoleAssistant,
			Content:            WelcomeMessage,
			SuggestedQuestions: welcomeQuestions(),
		})
	}
}

// sessionFromMessages rebuilds both views of a session from its stored
// entries.
func sessionFromMessages(id string, msgs []domain.Message) domain.Session {
	s := domain.Session{
		ID:       id,
		Memory:   make([]domain.MemoryEntry, 0, len(msgs)),
		Messages: make([]domain.DisplayMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		s.Memory = append(s.Memory, memoryEntryFor(m))
		s.Messages = append(s.Messages, domain.DisplayMessage{
			Role:               m.Role,
			Content:            m.Text,
			SuggestedQuestions: slices.Clone(m.SuggestedQuestions),
		})
		s.NextSeq = m.Seq + 1
	}
	return s
}

func memoryEntryFor(m domain.Message) domain.MemoryEntry {
	if m.Role == domain.RoleUser {
		return domain.MemoryEntry{Role: m.Role, Request: &domain.AgentRequest{ChatMessage: m.Text}}
	}
	questions := slices.Clone(m.SuggestedQuestions)
	if questions == nil {
		questions = []string{}
	}
	return domain.MemoryEntry{
		Role:     m.Role,
		Response: &domain.AgentResponse{ChatMessage: m.Text, SuggestedUserQuestions: questions},
	}
}

// storedMessage is the persisted form of the entry at position seq.
func storedMessage(seq int, entry domain.MemoryEntry) domain.Message {
	m := domain.Message{Seq: seq, Role: entry.Role}
	switch {
	case entry.Request != nil:
		m.Text = entry.Request.ChatMessage
	case entry.Response != nil:
		m.Text = entry.Response.ChatMessage
		m.SuggestedQuestions = slices.Clone(entry.Response.SuggestedUserQuestions)
	}
	return m
}
