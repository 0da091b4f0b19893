package models

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	UUID       uuid.UUID              `json:"uuid"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	TokenCount int                    `json:"token_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type MessageListResponse struct {
	Messages   []Message `json:"messages"`
	TotalCount int       `json:"total_count"`
	RowCount   int       `json:"row_count"`
}

type Summary struct {
	UUID      uuid.UUID `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
	Content   string    `json:"content"`
	// SummaryPointUUID is the most recent message UUID that was used to
	// generate this summary.
	SummaryPointUUID uuid.UUID              `json:"recent_message_uuid"`
	TokenCount       int                    `json:"token_count"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Memory is the conversation state handed to the summarizer: the messages
// since the last summary point and the most recent summary, if any.
type Memory struct {
	Messages []Message              `json:"messages"`
	Summary  *Summary               `json:"summary,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TextData pairs a stored message with its embedding.
type TextData struct {
	TextUUID  uuid.UUID `json:"uuid"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

type SearchResult struct {
	Message *Message `json:"message"`
	Dist    float64  `json:"dist"`
}

type SearchPayload struct {
	Text  string `json:"text"  validate:"required"`
	Limit int    `json:"limit"`
}
