package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"github.com/confide-ai/confide/internal"
	"github.com/confide-ai/confide/pkg/models"
	"github.com/confide-ai/confide/pkg/store"
)

type MessageDAO struct {
	db        *bun.DB
	sessionID string
}

func NewMessageDAO(db *bun.DB, sessionID string) (*MessageDAO, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if sessionID == "" {
		return nil, errors.New("sessionID cannot be empty")
	}
	return &MessageDAO{db: db, sessionID: sessionID}, nil
}

// CreateMany creates a batch of messages for a session. A session is created
// if it does not exist. If the session is deleted, the session is recreated.
func (dao *MessageDAO) CreateMany(
	ctx context.Context,
	messages []models.Message,
) ([]models.Message, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	// Try to update the session first. If no rows are affected, create a new session.
	sessionStore := NewSessionDAO(dao.db)
	_, err := sessionStore.Update(ctx, &models.UpdateSessionRequest{
		SessionID: dao.sessionID,
	}, false)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_, err = sessionStore.Create(ctx, &models.CreateSessionRequest{
				SessionID: dao.sessionID,
			})
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	pgMessages := make([]MessageStoreSchema, len(messages))
	for i, msg := range messages {
		pgMessages[i] = MessageStoreSchema{
			UUID:       msg.UUID,
			SessionID:  dao.sessionID,
			Role:       msg.Role,
			Content:    msg.Content,
			TokenCount: msg.TokenCount,
			Metadata:   msg.Metadata,
		}
	}

	_, err = dao.db.NewInsert().
		Model(&pgMessages).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages %w", err)
	}

	return messagesFromStoreSchema(pgMessages), nil
}

// Get retrieves a message by its UUID.
func (dao *MessageDAO) Get(ctx context.Context, messageUUID uuid.UUID) (*models.Message, error) {
	var message MessageStoreSchema
	err := dao.db.NewSelect().
		Model(&message).
		Where("session_id = ?", dao.sessionID).
		Where("uuid = ?", messageUUID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("message " + messageUUID.String())
		}
		return nil, fmt.Errorf("unable to retrieve message %w", err)
	}

	return &models.Message{
		UUID:       message.UUID,
		CreatedAt:  message.CreatedAt,
		Role:       message.Role,
		Content:    message.Content,
		TokenCount: message.TokenCount,
		Metadata:   message.Metadata,
	}, nil
}

// GetLastN retrieves the last N messages for a session. If beforeUUID is
// provided, it will get the last N messages before and including that message.
func (dao *MessageDAO) GetLastN(
	ctx context.Context,
	lastNMessages int,
	beforeUUID uuid.UUID,
) ([]models.Message, error) {
	var index int64
	var err error
	if beforeUUID != uuid.Nil {
		index, err = getMessageIndex(ctx, dao.db, dao.sessionID, beforeUUID)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve message index %w", err)
		}
	}

	var messagesDB []MessageStoreSchema
	query := dao.db.NewSelect().
		Model(&messagesDB).
		Where("session_id = ?", dao.sessionID)

	if beforeUUID != uuid.Nil {
		query = query.Where("id <= ?", index)
	}

	err = query.Order("id DESC").
		Limit(lastNMessages).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve messages %w", err)
	}

	if len(messagesDB) > 0 {
		internal.ReverseSlice(messagesDB)
	}

	return messagesFromStoreSchema(messagesDB), nil
}

// GetSinceLastSummary retrieves messages since the given summary point,
// limited by the message window. If summary is nil or has no summary point,
// all messages are returned, limited by the message window.
func (dao *MessageDAO) GetSinceLastSummary(
	ctx context.Context,
	lastSummary *models.Summary,
	messageWindow int,
) ([]models.Message, error) {
	summaryPointUUID := uuid.Nil
	if lastSummary != nil {
		summaryPointUUID = lastSummary.SummaryPointUUID
	}

	// If there is no summary point, getMessageIndex returns an ID of 0
	lastMessageID := int64(0)
	if summaryPointUUID != uuid.Nil {
		var err error
		lastMessageID, err = getMessageIndex(ctx, dao.db, dao.sessionID, summaryPointUUID)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve summary point index %w", err)
		}
	}

	var messages []MessageStoreSchema
	err := dao.db.NewSelect().
		Model(&messages).
		Where("session_id = ?", dao.sessionID).
		Where("id > ?", lastMessageID).
		Order("id ASC").
		Limit(messageWindow).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve messages %w", err)
	}

	return messagesFromStoreSchema(messages), nil
}

// GetListByUUID retrieves a list of messages by their UUIDs.
func (dao *MessageDAO) GetListByUUID(
	ctx context.Context,
	uuids []uuid.UUID,
) ([]models.Message, error) {
	if len(uuids) == 0 {
		return nil, nil
	}

	var messages []MessageStoreSchema
	err := dao.db.NewSelect().
		Model(&messages).
		Where("session_id = ?", dao.sessionID).
		Where("uuid IN (?)", bun.In(uuids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve messages %w", err)
	}

	return messagesFromStoreSchema(messages), nil
}

// GetListBySession retrieves a list of messages for a session. The list is paginated.
func (dao *MessageDAO) GetListBySession(
	ctx context.Context,
	currentPage int,
	pageSize int,
) (*models.MessageListResponse, error) {
	if pageSize < 1 {
		return nil, store.NewStorageError("pageSize must be greater than 0", nil)
	}

	var wg sync.WaitGroup
	var countErr error
	var count int

	wg.Add(1)
	go func() {
		defer wg.Done()
		count, countErr = dao.db.NewSelect().
			Model(&MessageStoreSchema{}).
			Where("session_id = ?", dao.sessionID).
			Count(ctx)
	}()

	var messages []MessageStoreSchema
	err := dao.db.NewSelect().
		Model(&messages).
		Where("session_id = ?", dao.sessionID).
		OrderExpr("id ASC").
		Limit(pageSize).
		Offset((currentPage - 1) * pageSize).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages %w", err)
	}

	wg.Wait()
	if countErr != nil {
		return nil, fmt.Errorf("failed to get message count %w", countErr)
	}

	return &models.MessageListResponse{
		Messages:   messagesFromStoreSchema(messages),
		TotalCount: count,
		RowCount:   len(messages),
	}, nil
}

// UpdateMany updates a batch of messages by their UUIDs. Metadata is updated via a merge.
func (dao *MessageDAO) UpdateMany(
	ctx context.Context,
	messages []models.Message,
	isPrivileged bool,
) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := dao.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx)

	for _, msg := range messages {
		if msg.UUID == uuid.Nil {
			return errors.New("message UUID cannot be nil")
		}
		messageDB := MessageStoreSchema{
			Role:       msg.Role,
			Content:    msg.Content,
			TokenCount: msg.TokenCount,
		}

		_, err = tx.NewUpdate().
			Model(&messageDB).
			Column("role", "content", "token_count", "updated_at").
			OmitZero().
			Where("session_id = ?", dao.sessionID).
			Where("uuid = ?", msg.UUID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}

		if msg.Metadata != nil {
			err = dao.updateMetadata(ctx, tx, msg.UUID, msg.Metadata, isPrivileged)
			if err != nil {
				return fmt.Errorf("failed to update message metadata: %w", err)
			}
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (dao *MessageDAO) updateMetadata(
	ctx context.Context,
	tx bun.IDB, // use bun.IDB to make it easier to test
	messageUUID uuid.UUID,
	metadata map[string]interface{},
	isPrivileged bool,
) error {
	// Acquire a lock for this message UUID. This is to prevent concurrent
	// updates to the message metadata.
	lockID, err := acquireAdvisoryLockWithRetry(ctx, dao.db, messageUUID.String())
	if err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
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
		"uuid",
		messageUUID.String(),
		"message",
		metadata,
		isPrivileged,
	)
	if err != nil {
		return fmt.Errorf("failed to merge message metadata: %w", err)
	}

	_, err = tx.NewUpdate().
		Model(&MessageStoreSchema{}).
		Column("metadata").
		Where("session_id = ?", dao.sessionID).
		Where("uuid = ?", messageUUID).
		Set("metadata = ?", mergedMetadata).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update message metadata: %w", err)
	}

	return nil
}

// Trim soft deletes the oldest messages for a session beyond the window.
// Messages are deleted in user/assistant pairs so a reply is never orphaned
// from its prompt. Returns the number of messages deleted.
func (dao *MessageDAO) Trim(ctx context.Context, window int) (int, error) {
	if window < 1 {
		return 0, store.NewStorageError("window must be greater than 0", nil)
	}

	count, err := dao.db.NewSelect().
		Model(&MessageStoreSchema{}).
		Where("session_id = ?", dao.sessionID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get message count: %w", err)
	}
	if count <= window {
		return 0, nil
	}

	toDelete := count - window
	// round up to an even number so we never split a user/assistant pair
	if toDelete%2 != 0 {
		toDelete++
	}

	var oldest []MessageStoreSchema
	err = dao.db.NewSelect().
		Model(&oldest).
		Column("uuid").
		Where("session_id = ?", dao.sessionID).
		Order("id ASC").
		Limit(toDelete).
		Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get messages to trim: %w", err)
	}

	uuids := make([]uuid.UUID, len(oldest))
	for i, msg := range oldest {
		uuids[i] = msg.UUID
	}

	_, err = dao.db.NewDelete().
		Model(&MessageStoreSchema{}).
		Where("session_id = ?", dao.sessionID).
		Where("uuid IN (?)", bun.In(uuids)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to trim messages: %w", err)
	}

	return len(uuids), nil
}

// CreateEmbeddings saves message embeddings for a session.
func (dao *MessageDAO) CreateEmbeddings(
	ctx context.Context,
	embeddings []models.TextData,
) error {
	if len(embeddings) == 0 {
		return store.NewStorageError("no embeddings received", nil)
	}

	embeddingVectors := make([]MessageVectorStoreSchema, len(embeddings))
	for i, e := range embeddings {
		embeddingVectors[i] = MessageVectorStoreSchema{
			SessionID:   dao.sessionID,
			Embedding:   pgvector.NewVector(e.Embedding),
			MessageUUID: e.TextUUID,
			IsEmbedded:  true,
		}
	}

	_, err := dao.db.NewInsert().
		Model(&embeddingVectors).
		On("CONFLICT (message_uuid) DO UPDATE").
		Set("embedding = EXCLUDED.embedding").
		Set("is_embedded = EXCLUDED.is_embedded").
		Exec(ctx)
	if err != nil {
		return store.NewStorageError("failed to insert message vectors", err)
	}

	return nil
}

// Search returns the session's messages nearest to the query embedding by
// cosine distance.
func (dao *MessageDAO) Search(
	ctx context.Context,
	embedding []float32,
	limit int,
) ([]models.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, store.NewStorageError("empty query embedding received", nil)
	}
	if limit < 1 {
		limit = 10
	}

	vector := pgvector.NewVector(embedding)

	var results []struct {
		MessageStoreSchema
		Dist float64
	}
	err := dao.db.NewSelect().
		Table("message_embedding").
		Join("JOIN message ON message_embedding.message_uuid = message.uuid").
		ColumnExpr("message.*").
		ColumnExpr("(message_embedding.embedding <=> ?) AS dist", vector).
		Where("message_embedding.session_id = ?", dao.sessionID).
		Where("message.deleted_at IS NULL").
		Where("message_embedding.is_embedded = true").
		OrderExpr("dist ASC").
		Limit(limit).
		Scan(ctx, &results)
	if err != nil {
		return nil, store.NewStorageError("failed to search message vectors", err)
	}

	searchResults := make([]models.SearchResult, len(results))
	for i, r := range results {
		message := models.Message{
			UUID:       r.UUID,
			CreatedAt:  r.CreatedAt,
			Role:       r.Role,
			Content:    r.Content,
			TokenCount: r.TokenCount,
			Metadata:   r.Metadata,
		}
		searchResults[i] = models.SearchResult{
			Message: &message,
			Dist:    r.Dist,
		}
	}

	return searchResults, nil
}

// getMessageIndex retrieves the index of the message with the given UUID.
// This is a bit of a hack since UUIDs are not sortable.
// If the message does not exist (for e.g. if it was deleted), returns 0.
func getMessageIndex(
	ctx context.Context,
	db *bun.DB,
	sessionID string,
	messageUUID uuid.UUID,
) (int64, error) {
	var message MessageStoreSchema

	err := db.NewSelect().
		Model(&message).
		Column("id").
		Where("session_id = ? AND uuid = ?", sessionID, messageUUID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warningf(
				"unable to retrieve message index for %s: %s",
				messageUUID,
				err,
			)
			return 0, nil
		}
		return 0, store.NewStorageError("unable to retrieve message index", err)
	}

	return message.ID, nil
}

func messagesFromStoreSchema(messages []MessageStoreSchema) []models.Message {
	messageList := make([]models.Message, len(messages))
	for i, msg := range messages {
		messageList[i] = models.Message{
			UUID:       msg.UUID,
			CreatedAt:  msg.CreatedAt,
			Role:       msg.Role,
			Content:    msg.Content,
			TokenCount: msg.TokenCount,
			Metadata:   msg.Metadata,
		}
	}
	return messageList
}
