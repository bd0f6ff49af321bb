package domain

import "errors"

// MemoryEntry is one item of a session's conversation memory. User entries
// carry Request; assistant entries carry Response.
type MemoryEntry struct {
	Role     Role
	Request  *AgentRequest
	Response *AgentResponse
}

// DisplayMessage is a role-tagged record used only for rendering.
type DisplayMessage struct {
	Role               Role     `json:"role"`
	Content            string   `json:"content"`
	SuggestedQuestions []string `json:"suggested_user_questions,omitempty"`
}

// Session is the state owned by one browser session: the conversation
// memory replayed to the model and the visible message list. NextSeq is the
// sequence number the next stored entry must carry.
type Session struct {
	ID       string
	Memory   []MemoryEntry
	Messages []DisplayMessage
	NextSeq  int
}

// Message is a single persisted session entry.
type Message struct {
	PK                 string
	SK                 string
	SessionID          string
	Seq                int
	Role               Role
	Text               string
	SuggestedQuestions []string
	TTL                int64
}

// SessionMeta stores aggregate session state.
type SessionMeta struct {
	PK           string
	SK           string
	SessionID    string
	LastActivity string
	Entries      int
	TTL          int64
}

// ErrSequenceConflict is returned by session stores when an append does not
// continue the stored sequence, i.e. another request wrote to the session
// first.
var ErrSequenceConflict = errors.New("session sequence conflict")
