package models

import "time"

// ConversationMessage is one turn of a chat session
type ConversationMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the ambient LLM state for one user session. Kept outside
// the batch core: the engine only ever sees resolved FilterSpecs, never chat
// history.
type Conversation struct {
	ID        string                `json:"id" badgerhold:"key"`
	Messages  []ConversationMessage `json:"messages"`
	JobID     string                `json:"job_id,omitempty"` // Most recent job created from this session
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}
