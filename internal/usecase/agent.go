package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"cepal-chatbot/internal/domain"
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Agent sends a session's memory to the model under the fixed system prompt
// and decodes the structured reply. It holds no per-session state, so one
// Agent serves every session.
type Agent struct {
	llm          LLMClient
	model        string
	systemPrompt string
}

// BuildAgent binds the completion client and model to the system prompt.
// An empty model selects DefaultModel.
func BuildAgent(llm LLMClient, model string) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Agent{
		llm:          llm,
		model:        model,
		systemPrompt: buildSystemPrompt(),
	}, nil
}

func (a *Agent) Model() string {
	return a.model
}

// Run performs one structured completion over memory. Every failure is a
// *Error whose Code tells the caller which branch to take.
func (a *Agent) Run(ctx context.Context, memory []domain.MemoryEntry) (domain.AgentResponse, error) {
	messages, err := buildPromptMessages(a.systemPrompt, memory)
	if err != nil {
		return domain.AgentResponse{}, newError(ErrorInternal, "prompt_build_error", err)
	}

	raw, err := a.llm.Chat(ctx, a.model, messages)
	if err != nil {
		return domain.AgentResponse{}, classifyUpstreamError(err)
	}

	resp, err := domain.ParseAgentResponse(raw)
	if err != nil {
		return domain.AgentResponse{}, newError(ErrorUpstream, "llm_malformed_response", err)
	}
	return resp, nil
}

func classifyUpstreamError(err error) *Error {
	status, ok := upstreamStatusCode(err)
	switch {
	case ok && (status == http.StatusUnauthorized || status == http.StatusForbidden):
		return newError(ErrorUpstreamAuth, "llm_unauthorized", err)
	case ok && status == http.StatusTooManyRequests:
		return newError(ErrorRateLimited, "llm_rate_limited", err)
	default:
		return newError(ErrorUpstream, "llm_error", err)
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
