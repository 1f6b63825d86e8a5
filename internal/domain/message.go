package domain

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// MessageMetadata carries model bookkeeping for assistant replies.
type MessageMetadata struct {
	TokensUsed     int    `json:"tokensUsed,omitempty"`
	ResponseTimeMs int64  `json:"responseTime,omitempty"`
	QuestionType   string `json:"questionType,omitempty"`
}

// Message is a persisted conversation entry. Messages are keyed by
// (UserID, SessionID) and ordered by Timestamp.
type Message struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	SessionID string          `json:"sessionId"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  MessageMetadata `json:"metadata"`
}

// Turn is one entry of the history window handed to the language model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
