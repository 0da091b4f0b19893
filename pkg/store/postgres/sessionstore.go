package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jinzhu/copier"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/confide-ai/confide/pkg/models"
	"github.com/confide-ai/confide/pkg/store"
)

type SessionDAO struct {
	db *bun.DB
}

func NewSessionDAO(db *bun.DB) *SessionDAO {
	return &SessionDAO{
		db: db,
	}
}

// Create creates a new session. If a soft deleted session exists with the same
// sessionID, it is undeleted and its mode reset.
func (dao *SessionDAO) Create(
	ctx context.Context,
	session *models.CreateSessionRequest,
) (*models.Session, error) {
	if session.SessionID == "" {
		return nil, models.NewBadRequestError("sessionID cannot be empty")
	}

	mode := session.Mode
	if !mode.Valid() {
		mode = models.DefaultChatMode
	}

	sessionDB := SessionSchema{
		SessionID: session.SessionID,
		Mode:      string(mode),
		Metadata:  session.Metadata,
	}
	_, err := dao.db.NewInsert().
		Model(&sessionDB).
		// intentionally overwrite the deleted_at field, undeleting the session
		// if it exists and is deleted
		Column("session_id", "mode", "metadata", "deleted_at").
		On("CONFLICT (session_id) DO UPDATE").
		Returning("*").
		Exec(ctx)
	if err != nil {
		if err, ok := err.(pgdriver.Error); ok && err.IntegrityViolation() {
			return nil, models.NewBadRequestError(
				"session already exists with session_id: " + session.SessionID,
			)
		}
		return nil, store.NewStorageError("failed to create session", err)
	}

	return sessionSchemaToSession(&sessionDB)
}

// Get retrieves a session by its sessionID.
func (dao *SessionDAO) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, models.NewBadRequestError("sessionID cannot be empty")
	}

	sessionDB := new(SessionSchema)
	err := dao.db.NewSelect().
		Model(sessionDB).
		Where("session_id = ?", sessionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("session " + sessionID)
		}
		return nil, store.NewStorageError("failed to get session", err)
	}

	return sessionSchemaToSession(sessionDB)
}

// Update updates a session's mode and metadata. Metadata is merged with the
// existing map. isPrivileged permits writes under the system metadata key.
func (dao *SessionDAO) Update(
	ctx context.Context,
	session *models.UpdateSessionRequest,
	isPrivileged bool,
) (*models.Session, error) {
	if session.SessionID == "" {
		return nil, models.NewBadRequestError("sessionID cannot be empty")
	}
	if session.Mode != "" && !session.Mode.Valid() {
		return nil, models.NewBadRequestError(
			"invalid chat mode: " + string(session.Mode),
		)
	}

	// if metadata is null, we can keep this a cheap operation
	if session.Metadata == nil {
		return dao.updateSession(ctx, session)
	}

	// Acquire a lock for this SessionID. This is to prevent concurrent updates
	// to the session metadata.
	lockID, err := acquireAdvisoryLockWithRetry(ctx, dao.db, session.SessionID)
	if err != nil {
		return nil, err
	}
	defer func(ctx context.Context, db bun.IDB, lockID uint64) {
		err := releaseAdvisoryLock(ctx, db, lockID)
		if err != nil {
			log.Errorf("failed to release advisory lock: %v", err)
		}
	}(ctx, dao.db, lockID)

	mergedMetadata, err := mergeMetadata(
		ctx,
		dao.db,
		"session_id",
		session.SessionID,
		"session",
		session.Metadata,
		isPrivileged,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to merge metadata: %w", err)
	}

	session.Metadata = mergedMetadata
	return dao.updateSession(ctx, session)
}

func (dao *SessionDAO) updateSession(
	ctx context.Context,
	session *models.UpdateSessionRequest,
) (*models.Session, error) {
	sessionDB := SessionSchema{
		Mode:     string(session.Mode),
		Metadata: session.Metadata,
	}
	r, err := dao.db.NewUpdate().
		Model(&sessionDB).
		Column("mode", "metadata", "updated_at").
		OmitZero().
		Where("session_id = ?", session.SessionID).
		Exec(ctx)
	if err != nil {
		return nil, store.NewStorageError("failed to update session", err)
	}
	rowsAffected, err := r.RowsAffected()
	if err != nil {
		return nil, store.NewStorageError("failed to get affected rows", err)
	}
	if rowsAffected == 0 {
		return nil, models.NewNotFoundError("session " + session.SessionID)
	}

	// We can't return the updated session above as we're using OmitZero,
	// so we need to get the updated session from the DB
	return dao.Get(ctx, session.SessionID)
}

// Delete soft deletes a session and all of its related records.
func (dao *SessionDAO) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return models.NewBadRequestError("sessionID cannot be empty")
	}

	dbSession := &SessionSchema{}
	r, err := dao.db.NewDelete().
		Model(dbSession).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return store.NewStorageError("failed to delete session", err)
	}
	rowsAffected, err := r.RowsAffected()
	if err != nil {
		return store.NewStorageError("failed to get affected rows", err)
	}
	if rowsAffected == 0 {
		return models.NewNotFoundError("session " + sessionID)
	}

	return deleteSessionRecords(ctx, dao.db, sessionID)
}

// ListAll lists all sessions. The cursor is used to paginate results.
func (dao *SessionDAO) ListAll(
	ctx context.Context,
	cursor int64,
	limit int,
) ([]*models.Session, error) {
	var sessionsDB []*SessionSchema
	err := dao.db.NewSelect().
		Model(&sessionsDB).
		Where("id > ?", cursor).
		OrderExpr("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, store.NewStorageError("failed to list sessions", err)
	}

	sessions := make([]*models.Session, len(sessionsDB))
	for i := range sessions {
		session, err := sessionSchemaToSession(sessionsDB[i])
		if err != nil {
			return nil, err
		}
		sessions[i] = session
	}

	return sessions, nil
}

func sessionSchemaToSession(sessionDB *SessionSchema) (*models.Session, error) {
	session := &models.Session{}
	err := copier.Copy(session, sessionDB)
	if err != nil {
		return nil, store.NewStorageError("failed to copy session", err)
	}
	session.Mode = models.ParseChatMode(sessionDB.Mode)
	return session, nil
}
