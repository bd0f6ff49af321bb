// Package groq calls Groq's OpenAI-compatible chat completions API.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"cepal-chatbot/internal/domain"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"

	defaultTimeout  = 60 * time.Second
	maxErrorBody    = 4 << 10
	maxResponseBody = 1 << 20
)

// ErrTruncated means the model hit its token limit before finishing, so the
// content is not a complete JSON object.
var ErrTruncated = errors.New("groq: completion truncated at token limit")

// KeySource looks up the API key by parameter name.
type KeySource interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type completionRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	ResponseFormat responseFormat       `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Choices []struct {
		Message      domain.ChatMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
}

// apiError is the body Groq sends with non-2xx responses.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// HTTPStatusError is a non-2xx response. Type and Message come from the error
// body when it has the usual shape; otherwise Message is the raw body.
type HTTPStatusError struct {
	StatusCode int
	Type       string
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("groq: status %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("groq: status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	endpoint string
	http     *http.Client
	keys     KeySource
	keyName  string

	keyOnce sync.Once
	key     string
	keyErr  error
}

type Option func(*Client)

// WithBaseURL points the client at another OpenAI-compatible API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.endpoint = completionsURL(baseURL)
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// NewClient reads the API key from <paramPrefix>/groq-api-key. The key is
// looked up once per process; Warm does it eagerly.
func NewClient(keys KeySource, paramPrefix string, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("groq: key source must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("groq: parameter prefix must not be empty")
	}
	c := &Client{
		endpoint: completionsURL(DefaultBaseURL),
		http:     &http.Client{Timeout: defaultTimeout},
		keys:     keys,
		keyName:  paramPrefix + "/groq-api-key",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TokenParameterName is the parameter the API key is read from.
func (c *Client) TokenParameterName() string {
	return c.keyName
}

func (c *Client) Warm(ctx context.Context) error {
	_, err := c.apiKey(ctx)
	return err
}

func (c *Client) apiKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		var raw string
		raw, c.keyErr = c.keys.GetParameter(ctx, c.keyName)
		if c.keyErr != nil {
			c.keyErr = fmt.Errorf("groq: read %s: %w", c.keyName, c.keyErr)
			return
		}
		c.key, c.keyErr = parseKey(raw)
	})
	return c.key, c.keyErr
}

// parseKey accepts the bare key or a JSON object {"token": "..."}.
func parseKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var v struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return "", fmt.Errorf("groq: key is not valid JSON: %w", err)
		}
		raw = strings.TrimSpace(v.Token)
	}
	if raw == "" {
		return "", errors.New("groq: API key is empty")
	}
	return raw, nil
}

func completionsURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/chat/completions"
}

// Chat asks for one JSON-object completion and returns the content of the
// first choice unparsed.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("groq: model must not be empty")
	}
	key, err := c.apiKey(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(completionRequest{
		Model:          model,
		Messages:       messages,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("groq: encode request: %w", err)
	}

	var out completionResponse
	if err := c.post(ctx, key, payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("groq: completion has no choices")
	}
	if out.Choices[0].FinishReason == "length" {
		return "", ErrTruncated
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, key string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("groq: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("groq: send request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode/100 != 2 {
		return statusError(res)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("groq: decode response: %w", err)
	}
	return nil
}

func statusError(res *http.Response) *HTTPStatusError {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	e := &HTTPStatusError{StatusCode: res.StatusCode, Message: strings.TrimSpace(string(body))}
	var env apiError
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		e.Type = env.Error.Type
		e.Message = env.Error.Message
	}
	if secs, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}
