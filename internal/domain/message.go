package domain

import (
	"encoding/json"
	"time"
)

// MessageRole is the author role of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message is a single chat message.
type Message struct {
	ID        string          `json:"id"`
	Role      MessageRole     `json:"role"`
	Content   string          `json:"content"`
	SessionID *string         `json:"sessionId"`
	TopicID   *string         `json:"topicId,omitempty"`
	ThreadID  *string         `json:"threadId,omitempty"`
	ParentID  string          `json:"parentId,omitempty"`
	Model     string          `json:"model,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Files     []string        `json:"files,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Topic groups messages inside a session.
type Topic struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SessionID *string   `json:"sessionId"`
	Favorite  bool      `json:"favorite,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Thread is a branch of a topic started from a source message.
type Thread struct {
	ID              string    `json:"id"`
	TopicID         string    `json:"topicId"`
	SourceMessageID string    `json:"sourceMessageId"`
	ParentThreadID  string    `json:"parentThreadId,omitempty"`
	Title           string    `json:"title,omitempty"`
	Type            string    `json:"type"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Plugin is an installed tool.
type Plugin struct {
	Identifier   string          `json:"identifier"`
	Type         string          `json:"type"`
	Manifest     json.RawMessage `json:"manifest,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	CustomParams json.RawMessage `json:"customParams,omitempty"`
}

// KnowledgeBase is a named collection of files used for retrieval.
type KnowledgeBase struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
