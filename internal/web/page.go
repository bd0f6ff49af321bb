// Package web renders the chat page and parses its form submissions.
package web

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"

	"cepal-chatbot/internal/domain"
)

const (
	Title          = "CEPAL Chatbot Assistant"
	Placeholder    = "¿En qué puedo ayudarte hoy?"
	SuggestedLabel = "Preguntas sugeridas:"

	// FormField is the name of the chat input.
	FormField = "chat_message"
)

//go:embed templates/page.html
var templates embed.FS

var pageTemplate = template.Must(template.ParseFS(templates, "templates/page.html"))

// Page is everything the chat page shows.
type Page struct {
	Title          string
	Placeholder    string
	SuggestedLabel string
	Messages       []domain.DisplayMessage
	Error          string
}

// NewPage returns a page listing msgs in order.
func NewPage(msgs []domain.DisplayMessage) Page {
	return Page{
		Title:          Title,
		Placeholder:    Placeholder,
		SuggestedLabel: SuggestedLabel,
		Messages:       msgs,
	}
}

func Render(w io.Writer, p Page) error {
	if err := pageTemplate.Execute(w, p); err != nil {
		return fmt.Errorf("web: render page: %w", err)
	}
	return nil
}

// RenderString is Render into a string, for transports that carry the body
// as a string.
func RenderString(p Page) (string, error) {
	var b strings.Builder
	if err := Render(&b, p); err != nil {
		return "", err
	}
	return b.String(), nil
}

// ParseChatForm extracts the chat input from a urlencoded form body.
func ParseChatForm(body string) (string, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return "", fmt.Errorf("web: parse form: %w", err)
	}
	if !values.Has(FormField) {
		return "", errors.New("web: form is missing " + FormField)
	}
	return values.Get(FormField), nil
}

// ErrorNotice is the text shown on the page when a cycle fails.
func ErrorNotice(code string) string {
	switch code {
	case "INVALID_INPUT":
		return "Escribe una pregunta antes de enviar."
	case "CONFLICT":
		return "Ya hay una pregunta en curso en esta sesión. Inténtalo de nuevo."
	case "RATE_LIMITED":
		return "El servicio está recibiendo demasiadas solicitudes. Inténtalo de nuevo en unos momentos."
	default:
		return "No fue posible obtener una respuesta del asistente. Inténtalo de nuevo."
	}
}
