package models

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	UUID      uuid.UUID              `json:"uuid"`
	ID        int64                  `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	DeletedAt *time.Time             `json:"deleted_at"`
	SessionID string                 `json:"session_id"`
	Mode      ChatMode               `json:"mode"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type CreateSessionRequest struct {
	SessionID string                 `json:"session_id"`
	Mode      ChatMode               `json:"mode"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type UpdateSessionRequest struct {
	SessionID string                 `json:"session_id"`
	Mode      ChatMode               `json:"mode"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type SessionListResponse struct {
	Sessions   []*Session `json:"sessions"`
	TotalCount int        `json:"total_count"`
	RowCount   int        `json:"row_count"`
}

// AssistantThread maps a session to its OpenAI Assistants API thread.
type AssistantThread struct {
	UUID      uuid.UUID `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SessionID string    `json:"session_id"`
	ThreadID  string    `json:"thread_id"`
}

// Stale reports whether the thread mapping has been idle for longer than ttl.
func (t *AssistantThread) Stale(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(t.UpdatedAt) > ttl
}
