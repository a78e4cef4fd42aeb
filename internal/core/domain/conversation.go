package domain

import "time"

type Conversation struct {
	UserID          string    `json:"user_id"`
	ConversationID  string    `json:"conversation_id"`
	ProjectID       string    `json:"project_id,omitempty"`
	Mode            AgentMode `json:"mode"`
	CurrentUserTurn int       `json:"current_user_turn"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Message is append-only conversation history. Immutable once written.
type Message struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ToolName       string    `json:"tool_name,omitempty"`
	UserTurn       int       `json:"user_turn"`
	CreatedAt      time.Time `json:"created_at"`
}

type ChatRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	SessionEnd     bool   `json:"session_end"`
	Message        string `json:"message"`
}
