package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// AgentRequest is the input schema of the chat agent.
type AgentRequest struct {
	ChatMessage string `json:"chat_message"`
}

// AgentResponse is the structured output schema of the chat agent.
type AgentResponse struct {
	ChatMessage            string   `json:"chat_message"`
	SuggestedUserQuestions []string `json:"suggested_user_questions"`
}

type rawAgentResponse struct {
	ChatMessage            *string   `json:"chat_message"`
	SuggestedUserQuestions *[]string `json:"suggested_user_questions"`
}

// ParseAgentResponse decodes a single JSON object into an AgentResponse and
// rejects objects missing a required field.
func ParseAgentResponse(raw string) (AgentResponse, error) {
	var out rawAgentResponse
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	if err := dec.Decode(&out); err != nil {
		return AgentResponse{}, fmt.Errorf("domain: decode agent response: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return AgentResponse{}, errors.New("domain: decode agent response: multiple JSON values")
		}
		return AgentResponse{}, fmt.Errorf("domain: decode agent response trailing data: %w", err)
	}
	if out.ChatMessage == nil {
		return AgentResponse{}, errors.New("domain: agent response missing chat_message")
	}
	if out.SuggestedUserQuestions == nil {
		return AgentResponse{}, errors.New("domain: agent response missing suggested_user_questions")
	}
	resp := AgentResponse{
		ChatMessage:            *out.ChatMessage,
		SuggestedUserQuestions: *out.SuggestedUserQuestions,
	}
	if err := resp.Validate(); err != nil {
		return AgentResponse{}, err
	}
	return resp, nil
}

// Validate checks the shape of a response.
func (r AgentResponse) Validate() error {
	if strings.TrimSpace(r.ChatMessage) == "" {
		return errors.New("domain: agent response chat_message is empty")
	}
	if r.SuggestedUserQuestions == nil {
		return errors.New("domain: agent response missing suggested_user_questions")
	}
	for i, q := range r.SuggestedUserQuestions {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("domain: agent response suggested question %d is empty", i)
		}
	}
	return nil
}
