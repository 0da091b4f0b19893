package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/confide-ai/confide/pkg/models"
)

// NewThreadDAO creates a new ThreadDAO.
func NewThreadDAO(db *bun.DB, sessionID string) (*ThreadDAO, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if sessionID == "" {
		return nil, errors.New("sessionID cannot be empty")
	}
	return &ThreadDAO{
		db:        db,
		sessionID: sessionID,
	}, nil
}

type ThreadDAO struct {
	db        *bun.DB
	sessionID string
}

// Get retrieves the assistant thread mapping for a session.
func (t *ThreadDAO) Get(ctx context.Context) (*models.AssistantThread, error) {
	threadDB := AssistantThreadSchema{}
	err := t.db.NewSelect().
		Model(&threadDB).
		Where("session_id = ?", t.sessionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("thread for session " + t.sessionID)
		}
		return nil, fmt.Errorf("failed to get thread %w", err)
	}

	return &models.AssistantThread{
		UUID:      threadDB.UUID,
		CreatedAt: threadDB.CreatedAt,
		UpdatedAt: threadDB.UpdatedAt,
		SessionID: threadDB.SessionID,
		ThreadID:  threadDB.ThreadID,
	}, nil
}

// Set creates or replaces the thread mapping for a session and refreshes its
// updated_at timestamp.
func (t *ThreadDAO) Set(ctx context.Context, threadID string) error {
	if threadID == "" {
		return models.NewBadRequestError("threadID cannot be empty")
	}

	threadDB := AssistantThreadSchema{
		SessionID: t.sessionID,
		ThreadID:  threadID,
	}
	_, err := t.db.NewInsert().
		Model(&threadDB).
		Column("session_id", "thread_id", "deleted_at").
		On("CONFLICT (session_id) DO UPDATE").
		Set("thread_id = EXCLUDED.thread_id").
		Set("updated_at = current_timestamp").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set thread %w", err)
	}

	return nil
}

// Delete removes the thread mapping for a session. This is a soft delete.
func (t *ThreadDAO) Delete(ctx context.Context) error {
	_, err := t.db.NewDelete().
		Model(&AssistantThreadSchema{}).
		Where("session_id = ?", t.sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete thread %w", err)
	}

	return nil
}
