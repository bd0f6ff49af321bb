package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cepal-chatbot/internal/domain"
)

// MemoryStore keeps sessions in process memory. State is lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]domain.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]domain.Message)}
}

func (s *MemoryStore) GetMessages(_ context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.sessions[sessionID]), nil
}

// AppendMessages enforces the same sequence rule as the DynamoDB client: the
// first new entry must carry the next free sequence number.
func (s *MemoryStore) AppendMessages(_ context.Context, sessionID string, msgs []domain.Message) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendMessages: session id is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.sessions[sessionID]
	next := 0
	if len(existing) > 0 {
		next = existing[len(existing)-1].Seq + 1
	}
	for i, msg := range msgs {
		if msg.Seq != next+i {
			return fmt.Errorf("repository: AppendMessages: %w", domain.ErrSequenceConflict)
		}
	}
	for _, msg := range cloneMessages(msgs) {
		msg.SessionID = sessionID
		existing = append(existing, msg)
	}
	s.sessions[sessionID] = existing
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return nil
	}
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		m.SuggestedQuestions = slices.Clone(m.SuggestedQuestions)
		out[i] = m
	}
	return out
}
