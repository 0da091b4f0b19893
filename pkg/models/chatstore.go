package models

import (
	"context"

	"github.com/google/uuid"
)

// ChatStore is the persistence interface for conversation state.
type ChatStore interface {
	SessionStorer
	MessageStorer
	SummaryStorer
	ThreadStorer
	EmbeddingStorer
	// PurgeDeleted hard deletes all soft deleted data in the store.
	PurgeDeleted(ctx context.Context) error
	// Close is called when the application is shutting down.
	Close() error
}

type SessionStorer interface {
	// CreateSession creates a new Session, or undeletes and updates an
	// existing one with the same sessionID.
	CreateSession(ctx context.Context, session *CreateSessionRequest) (*Session, error)
	// GetSession retrieves a Session for a given sessionID.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// UpdateSession updates a Session's mode and metadata. Metadata is
	// merged with the existing map. isPrivileged permits writes under the
	// reserved system metadata key.
	UpdateSession(ctx context.Context, session *UpdateSessionRequest, isPrivileged bool) (*Session, error)
	// DeleteSession soft deletes all records for a given sessionID.
	DeleteSession(ctx context.Context, sessionID string) error
	// ListSessions returns sessions paginated by cursor and limit.
	ListSessions(ctx context.Context, cursor int64, limit int) ([]*Session, error)
}

type MessageStorer interface {
	// PutMessages stores new messages for a session, creating the session
	// if it does not exist. Message UUIDs are filled in on return.
	PutMessages(ctx context.Context, sessionID string, messages []Message) ([]Message, error)
	// GetMessagesByUUID retrieves messages for a given sessionID and UUID slice.
	GetMessagesByUUID(ctx context.Context, sessionID string, uuids []uuid.UUID) ([]Message, error)
	// GetMessageList retrieves messages for a session, paginated.
	GetMessageList(ctx context.Context, sessionID string, pageNumber, pageSize int) (*MessageListResponse, error)
	// UpdateMessages updates token counts and metadata for the given
	// messages. isPrivileged permits writes under the system metadata key.
	UpdateMessages(ctx context.Context, sessionID string, messages []Message, isPrivileged bool) error
	// GetMemory returns the messages since the last summary point along
	// with the most recent summary. If lastNMessages is greater than 0,
	// the last N messages are returned instead.
	GetMemory(ctx context.Context, sessionID string, lastNMessages int) (*Memory, error)
	// TrimMessages soft deletes the oldest messages beyond the window.
	// Deletion happens in user/assistant pairs so a reply is never
	// orphaned from its prompt. Returns the number of messages deleted.
	TrimMessages(ctx context.Context, sessionID string, window int) (int, error)
}

type SummaryStorer interface {
	// PutSummary stores a new Summary for a session.
	PutSummary(ctx context.Context, sessionID string, summary *Summary) error
	// GetSummary retrieves the most recent Summary for a session.
	GetSummary(ctx context.Context, sessionID string) (*Summary, error)
}

type ThreadStorer interface {
	// GetThread retrieves the assistant thread mapping for a session.
	GetThread(ctx context.Context, sessionID string) (*AssistantThread, error)
	// SetThread creates or replaces the thread mapping for a session and
	// refreshes its updated_at timestamp.
	SetThread(ctx context.Context, sessionID, threadID string) error
	// DeleteThread removes the thread mapping for a session.
	DeleteThread(ctx context.Context, sessionID string) error
}

type EmbeddingStorer interface {
	// PutMessageEmbeddings stores embeddings for a session's messages.
	PutMessageEmbeddings(ctx context.Context, sessionID string, embeddings []TextData) error
	// SearchMessages returns the session's messages nearest to the query
	// embedding by cosine distance.
	SearchMessages(ctx context.Context, sessionID string, embedding []float32, limit int) ([]SearchResult, error)
}
