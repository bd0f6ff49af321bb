package usecase

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/google/uuid"

	"cepal-chatbot/internal/domain"
)

// SessionStore persists the entries of each session in order.
type SessionStore interface {
	GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	AppendMessages(ctx context.Context, sessionID string, msgs []domain.Message) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// AgentRunner is satisfied by *Agent.
type AgentRunner interface {
	Run(ctx context.Context, memory []domain.MemoryEntry) (domain.AgentResponse, error)
}

type ChatService struct {
	store SessionStore
	agent AgentRunner
}

type SendInput struct {
	SessionID string
	Text      string
}

// SendOutput carries the session as it stands after the cycle. On failure
// Session still holds the committed user entry, and Response is zero.
type SendOutput struct {
	Session  domain.Session
	Response domain.AgentResponse
}

func NewChatService(store SessionStore, agent AgentRunner) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if agent == nil {
		return nil, errors.New("usecase: agent must not be nil")
	}
	return &ChatService{store: store, agent: agent}, nil
}

// Open returns the session with the given id, initializing and persisting it
// when it has no entries. A missing or malformed id starts a new session.
func (s *ChatService) Open(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if _, err := uuid.Parse(sessionID); err != nil {
		sessionID = newUUID()
	}

	msgs, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return domain.Session{}, newError(ErrorInternal, "store_read_error", err)
	}
	session := sessionFromMessages(sessionID, msgs)
	if len(msgs) > 0 {
		return session, nil
	}

	InitializeSession(&session)
	err = s.store.AppendMessages(ctx, sessionID, []domain.Message{storedMessage(0, session.Memory[0])})
	switch {
	case errors.Is(err, domain.ErrSequenceConflict):
		// A concurrent request initialized it first.
		msgs, err = s.store.GetMessages(ctx, sessionID)
		if err != nil {
			return domain.Session{}, newError(ErrorInternal, "store_read_error", err)
		}
		return sessionFromMessages(sessionID, msgs), nil
	case err != nil:
		return domain.Session{}, newError(ErrorInternal, "store_write_error", err)
	}
	session.NextSeq = 1
	return session, nil
}

// Send runs one request/response cycle. The user entry is committed before
// the model is called and stays committed if the call fails; the assistant
// entry is only added on success.
func (s *ChatService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	if strings.TrimSpace(in.Text) == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	session, err := s.Open(ctx, in.SessionID)
	if err != nil {
		return SendOutput{}, err
	}

	userEntry := domain.MemoryEntry{Role: domain.RoleUser, Request: &domain.AgentRequest{ChatMessage: in.Text}}
	if err := s.commit(ctx, &session, userEntry); err != nil {
		return SendOutput{Session: session}, err
	}

	resp, err := s.agent.Run(ctx, session.Memory)
	if err != nil {
		var usecaseErr *Error
		if !errors.As(err, &usecaseErr) {
			usecaseErr = newError(ErrorUpstream, "llm_error", err)
		}
		return SendOutput{Session: session}, usecaseErr
	}
	resp.ChatMessage = html.UnescapeString(resp.ChatMessage)

	assistantEntry := domain.MemoryEntry{Role: domain.RoleAssistant, Response: &resp}
	if err := s.commit(ctx, &session, assistantEntry); err != nil {
		return SendOutput{Session: session}, err
	}
	return SendOutput{Session: session, Response: resp}, nil
}

// End discards all state of a session.
func (s *ChatService) End(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return newError(ErrorInternal, "store_delete_error", err)
	}
	return nil
}

// commit persists entry after the last stored one and, once stored, appends
// it to both views of the session.
func (s *ChatService) commit(ctx context.Context, session *domain.Session, entry domain.MemoryEntry) error {
	msg := storedMessage(session.NextSeq, entry)
	if err := s.store.AppendMessages(ctx, session.ID, []domain.Message{msg}); err != nil {
		if errors.Is(err, domain.ErrSequenceConflict) {
			return newError(ErrorConflict, "session_busy", err)
		}
		return newError(ErrorInternal, "store_write_error", err)
	}
	session.NextSeq = msg.Seq + 1
	session.Memory = append(session.Memory, entry)
	session.Messages = append(session.Messages, domain.DisplayMessage{
		Role:               msg.Role,
		Content:            msg.Text,
		SuggestedQuestions: msg.SuggestedQuestions,
	})
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}
