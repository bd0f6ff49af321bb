package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cepal-chatbot/internal/domain"
)

func TestInitializeSession_SeedsWelcome(t *testing.T) {
	var s domain.Session
	InitializeSession(&s)

	require.Len(t, s.Memory, 1)
	require.Equal(t, domain.RoleAssistant, s.Memory[0].Role)
	require.Equal(t, "Bienvenido a la CEPAL, ¿En qué puedo ayudarte hoy?", s.Memory[0].Response.ChatMessage)
	require.Equal(t, []string{"¿Qué es la CEPAL?", "¿Qué hace la CEPAL?", "¿Cuál es la misión de la CEPAL?"}, s.Memory[0].Response.SuggestedUserQuestions)

	require.Len(t, s.Messages, 1)
	require.Equal(t, domain.DisplayMessage{
		Role:               domain.RoleAssistant,
		Content:            "Bienvenido a la CEPAL, ¿En qué puedo ayudarte hoy?",
		SuggestedQuestions: []string{"¿Qué es la CEPAL?", "¿Qué hace la CEPAL?", "¿Cuál es la misión de la CEPAL?"},
	}, s.Messages[0])
}

func TestInitializeSession_Idempotent(t *testing.T) {
	var once, twice domain.Session
	InitializeSession(&once)
	InitializeSession(&twice)
	InitializeSession(&twice)
	require.Equal(t, once, twice)
}

func TestInitializeSession_KeepsExistingState(t *testing.T) {
	s := domain.Session{
		Memory:   []domain.MemoryEntry{{Role: domain.RoleUser, Request: &domain.AgentRequest{ChatMessage: "hola"}}},
		Messages: []domain.DisplayMessage{{Role: domain.RoleUser, Content: "hola"}},
	}
	InitializeSession(&s)
	require.Len(t, s.Memory, 1)
	require.Len(t, s.Messages, 1)
	require.Equal(t, "hola", s.Messages[0].Content)
}

func TestInitializeSession_QuestionsNotShared(t *testing.T) {
	var a, b domain.Session
	InitializeSession(&a)
	a.Messages[0].SuggestedQuestions[0] = "mutated"
	InitializeSession(&b)
	require.Equal(t, "¿Qué es la CEPAL?", b.Messages[0].SuggestedQuestions[0])
	require.Equal(t, "¿Qué es la CEPAL?", a.Memory[0].Response.SuggestedUserQuestions[0])
}

func TestSessionFromMessages_RoundTrip(t *testing.T) {
	var s domain.Session
	InitializeSession(&s)
	s.Memory = append(s.Memory, domain.MemoryEntry{Role: domain.RoleUser, Request: &domain.AgentRequest{ChatMessage: "¿Qué es la CEPAL?"}})

	msgs := make([]domain.Message, 0, len(s.Memory))
	for i, e := range s.Memory {
		msgs = append(msgs, storedMessage(i, e))
	}
	rebuilt := sessionFromMessages("id", msgs)
	require.Equal(t, s.Memory, rebuilt.Memory)
	require.Len(t, rebuilt.Messages, 2)
	require.Equal(t, domain.RoleUser, rebuilt.Messages[1].Role)
	require.Nil(t, rebuilt.Messages[1].SuggestedQuestions)
	require.Equal(t, 2, rebuilt.NextSeq)
}
