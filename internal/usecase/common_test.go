package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"cepal-chatbot/internal/domain"
)

const testSessionID = "6f1c1b7e-3d0a-4c47-9b59-1f4f0c8a2d11"

type fakeStore struct {
	sessions  map[string][]domain.Message
	getErr    error
	appendErr error
	// failAppendAt makes the n-th AppendMessages call (1-based) fail with appendErr.
	failAppendAt int
	appendCalls  int
	deleteErr    error
	deleted      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string][]domain.Message{}}
}

func (f *fakeStore) GetMessages(_ context.Context, id string) ([]domain.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return append([]domain.Message(nil), f.sessions[id]...), nil
}

func (f *fakeStore) AppendMessages(_ context.Context, id string, msgs []domain.Message) error {
	f.appendCalls++
	if f.appendErr != nil && (f.failAppendAt == 0 || f.failAppendAt == f.appendCalls) {
		return f.appendErr
	}
	existing := f.sessions[id]
	next := 0
	if len(existing) > 0 {
		next = existing[len(existing)-1].Seq + 1
	}
	for i, m := range msgs {
		if m.Seq != next+i {
			return domain.ErrSequenceConflict
		}
	}
	f.sessions[id] = append(existing, msgs...)
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.sessions, id)
	return nil
}

// stubLLM returns fixed structured data so cycles are deterministic.
type stubLLM struct {
	answer   string
	err      error
	calls    int
	model    string
	captured []domain.ChatMessage
}

func (s *stubLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	s.calls++
	s.model = model
	s.captured = msgs
	return s.answer, s.err
}

type statusErr int

func (e statusErr) Error() string       { return "upstream status" }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func structuredAnswer(message string, questions ...string) string {
	q := "["
	for i, s := range questions {
		if i > 0 {
			q += ","
		}
		q += `"` + s + `"`
	}
	q += "]"
	return `{"chat_message":"` + message + `","suggested_user_questions":` + q + `}`
}

func newTestChatService(t *testing.T, store SessionStore, llm LLMClient) *ChatService {
	t.Helper()
	agent, err := BuildAgent(llm, "")
	require.NoError(t, err)
	svc, err := NewChatService(store, agent)
	require.NoError(t, err)
	return svc
}

func expectUseCaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

var errBoom = errors.New("boom")
