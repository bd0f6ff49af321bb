package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"cepal-chatbot/internal/domain"
	"cepal-chatbot/internal/usecase"
	"cepal-chatbot/internal/web"
)

const (
	SessionCookie     = "cepal_session"
	correlationHeader = "X-Correlation-Id"
	defaultSessionTTL = 24 * time.Hour
)

type ChatUseCase interface {
	Open(ctx context.Context, sessionID string) (domain.Session, error)
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	End(ctx context.Context, sessionID string) error
}

type chatRequest struct {
	ChatMessage string `json:"chat_message"`
}

type chatResponse struct {
	ChatMessage            string   `json:"chat_message"`
	SuggestedUserQuestions []string `json:"suggested_user_questions"`
	SessionID              string   `json:"sessionId"`
}

type messagesResponse struct {
	SessionID string                  `json:"sessionId"`
	Messages  []domain.DisplayMessage `json:"messages"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Handler serves the chat page and its JSON API from API Gateway proxy
// events.
type Handler struct {
	chat          ChatUseCase
	logger        *slog.Logger
	secureCookies bool
	sessionMaxAge int
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithSecureCookies marks the session cookie Secure. Enable it whenever the
// page is served over HTTPS.
func WithSecureCookies(secure bool) Option {
	return func(h *Handler) {
		h.secureCookies = secure
	}
}

// WithSessionTTL sets the session cookie lifetime. It should match the TTL of
// the session store so both expire together.
func WithSessionTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl >= time.Second {
			h.sessionMaxAge = int(ttl / time.Second)
		}
	}
}

func NewHandler(chat ChatUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	h := &Handler{chat: chat, logger: slog.Default(), sessionMaxAge: int(defaultSessionTTL / time.Second)}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// request is the transport-independent view of one call.
type request struct {
	correlationID string
	sessionID     string
	body          string
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req := request{
		correlationID: headerValue(event.Headers, correlationHeader),
		sessionID:     sessionFromCookie(headerValue(event.Headers, "Cookie")),
		body:          event.Body,
	}
	if req.correlationID == "" {
		req.correlationID = uuid.NewString()
	}
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return h.jsonError(req, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body_encoding"), nil
		}
		req.body = string(decoded)
	}

	path := strings.TrimRight(event.Path, "/")
	switch {
	case path == "" && event.HTTPMethod == http.MethodGet:
		return h.showPage(ctx, req), nil
	case path == "" && event.HTTPMethod == http.MethodPost:
		return h.submitForm(ctx, req), nil
	case path == "/reset" && event.HTTPMethod == http.MethodPost:
		return h.reset(ctx, req), nil
	case path == "/api/chat" && event.HTTPMethod == http.MethodPost:
		return h.apiChat(ctx, req), nil
	case path == "/api/messages" && event.HTTPMethod == http.MethodGet:
		return h.apiMessages(ctx, req), nil
	case path == "" || path == "/reset" || path == "/api/chat" || path == "/api/messages":
		return h.jsonError(req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", ""), nil
	default:
		return h.jsonError(req, http.StatusNotFound, "NOT_FOUND", ""), nil
	}
}

func (h *Handler) showPage(ctx context.Context, req request) events.APIGatewayProxyResponse {
	session, err := h.chat.Open(ctx, req.sessionID)
	if err != nil {
		status, code, _ := h.classify(req, err)
		page := web.NewPage(nil)
		page.Error = web.ErrorNotice(string(code))
		return h.page(req, status, "", page)
	}
	return h.page(req, http.StatusOK, session.ID, web.NewPage(session.Messages))
}

func (h *Handler) submitForm(ctx context.Context, req request) events.APIGatewayProxyResponse {
	text, err := web.ParseChatForm(req.body)
	if err != nil {
		text = ""
	}

	out, err := h.chat.Send(ctx, usecase.SendInput{SessionID: req.sessionID, Text: text})
	if err == nil {
		return h.page(req, http.StatusOK, out.Session.ID, web.NewPage(out.Session.Messages))
	}

	status, code, _ := h.classify(req, err)
	sessionID := out.Session.ID
	messages := out.Session.Messages
	if sessionID == "" {
		// Nothing was committed; show the session as it stands.
		if session, openErr := h.chat.Open(ctx, req.sessionID); openErr == nil {
			sessionID = session.ID
			messages = session.Messages
		}
	}
	page := web.NewPage(messages)
	page.Error = web.ErrorNotice(string(code))
	return h.page(req, status, sessionID, page)
}

func (h *Handler) reset(ctx context.Context, req request) events.APIGatewayProxyResponse {
	if err := h.chat.End(ctx, req.sessionID); err != nil {
		status, code, reason := h.classify(req, err)
		return h.jsonError(req, status, string(code), reason)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusSeeOther,
		Headers: map[string]string{
			"Location":        "/",
			"Set-Cookie":      h.cookie("", -1),
			correlationHeader: req.correlationID,
		},
	}
}

func (h *Handler) apiChat(ctx context.Context, req request) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := json.Unmarshal([]byte(req.body), &in); err != nil {
		return h.jsonError(req, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_json")
	}

	out, err := h.chat.Send(ctx, usecase.SendInput{SessionID: req.sessionID, Text: in.ChatMessage})
	if err != nil {
		status, code, reason := h.classify(req, err)
		resp := h.jsonError(req, status, string(code), reason)
		if out.Session.ID != "" {
			resp.Headers["Set-Cookie"] = h.cookie(out.Session.ID, h.sessionMaxAge)
		}
		return resp
	}

	resp := h.json(req, http.StatusOK, chatResponse{
		ChatMessage:            out.Response.ChatMessage,
		SuggestedUserQuestions: out.Response.SuggestedUserQuestions,
		SessionID:              out.Session.ID,
	})
	resp.Headers["Set-Cookie"] = h.cookie(out.Session.ID, h.sessionMaxAge)
	return resp
}

func (h *Handler) apiMessages(ctx context.Context, req request) events.APIGatewayProxyResponse {
	session, err := h.chat.Open(ctx, req.sessionID)
	if err != nil {
		status, code, reason := h.classify(req, err)
		return h.jsonError(req, status, string(code), reason)
	}
	resp := h.json(req, http.StatusOK, messagesResponse{SessionID: session.ID, Messages: session.Messages})
	resp.Headers["Set-Cookie"] = h.cookie(session.ID, h.sessionMaxAge)
	return resp
}

// classify maps err to a status and code, logging it once.
func (h *Handler) classify(req request, err error) (int, usecase.ErrorCode, string) {
	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		h.logger.Error("unexpected error", "correlation_id", req.correlationID, "session_id", req.sessionID, "err", err)
		return http.StatusInternalServerError, usecase.ErrorInternal, "unexpected_error"
	}

	var status int
	switch usecaseErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorConflict:
		status = http.StatusConflict
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstreamAuth, usecase.ErrorUpstream:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	attrs := []any{"correlation_id", req.correlationID, "session_id", req.sessionID, "code", usecaseErr.Code, "reason", usecaseErr.Reason}
	if usecaseErr.Err != nil {
		attrs = append(attrs, "err", usecaseErr.Err)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("chat request failed", attrs...)
	} else {
		h.logger.Warn("chat request rejected", attrs...)
	}

	code := usecaseErr.Code
	if status == http.StatusInternalServerError {
		code = usecase.ErrorInternal
	}
	return status, code, usecaseErr.Reason
}

func (h *Handler) page(req request, status int, sessionID string, page web.Page) events.APIGatewayProxyResponse {
	body, err := web.RenderString(page)
	if err != nil {
		h.logger.Error("render failed", "correlation_id", req.correlationID, "err", err)
		return h.jsonError(req, http.StatusInternalServerError, string(usecase.ErrorInternal), "render_error")
	}
	headers := map[string]string{
		"Content-Type":    "text/html; charset=utf-8",
		correlationHeader: req.correlationID,
	}
	if sessionID != "" {
		headers["Set-Cookie"] = h.cookie(sessionID, h.sessionMaxAge)
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: body}
}

func (h *Handler) json(req request, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(fmt.Sprintf(`{"error":%q}`, usecase.ErrorInternal))
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: req.correlationID,
		},
		Body: string(body),
	}
}

func (h *Handler) jsonError(req request, status int, code, reason string) events.APIGatewayProxyResponse {
	return h.json(req, status, errorResponse{Error: code, Message: reason})
}

func (h *Handler) cookie(value string, maxAge int) string {
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	return c.String()
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func sessionFromCookie(header string) string {
	if header == "" {
		return ""
	}
	r := http.Request{Header: http.Header{"Cookie": []string{header}}}
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}
