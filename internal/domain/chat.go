package domain

// Role tags an entry in a session as coming from the user or the assistant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape sent to the LLM
// integration.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
