package models

import "context"

// AssistantClient drives conversations through the OpenAI Assistants API.
type AssistantClient interface {
	// CreateThread creates a new assistant thread and returns its ID.
	CreateThread(ctx context.Context) (string, error)
	// AddUserMessage appends a user message to a thread.
	AddUserMessage(ctx context.Context, threadID, content string) error
	// Run executes an assistant run against a thread and blocks until the
	// run reaches a terminal state, collecting tool calls along the way.
	Run(ctx context.Context, threadID string, opts AssistantRunOptions) (*AssistantRunResult, error)
	// TrimThread deletes the oldest thread messages beyond the window, in
	// user/assistant pairs. Returns the number of messages deleted.
	TrimThread(ctx context.Context, threadID string, window int) (int, error)
	// Complete runs a plain chat completion against the given prompt.
	// Used by the summarizer task.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	// EmbedTexts embeds the given texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// GetTokenCount returns the number of tokens in the given text.
	GetTokenCount(text string) (int, error)
}

// Moderator classifies message content for risk escalation.
type Moderator interface {
	Moderate(ctx context.Context, text string) (RiskFlag, error)
}

// SummarySyncRecord is the row shape mirrored to the care team's NocoDB
// summaries table.
type SummarySyncRecord struct {
	SessionID string   `json:"session_id"`
	Summary   string   `json:"summary"`
	Mode      ChatMode `json:"mode,omitempty"`
	RiskFlag  RiskFlag `json:"risk_flag,omitempty"`
	UpdatedAt string   `json:"updated_at"`
}

// SummarySink receives session summaries for external persistence.
type SummarySink interface {
	UpsertSummary(ctx context.Context, record *SummarySyncRecord) error
}
