package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/confide-ai/confide/internal"
	"github.com/confide-ai/confide/pkg/models"
	"github.com/confide-ai/confide/pkg/store"
)

var log = internal.GetLogger()

// NewPostgresChatStore returns a new PostgresChatStore. Use this to correctly
// initialize the store.
func NewPostgresChatStore(
	appState *models.AppState,
	client *bun.DB,
) (*PostgresChatStore, error) {
	if appState == nil {
		return nil, store.NewStorageError("nil appState received", nil)
	}

	pcs := &PostgresChatStore{
		client:       client,
		SessionStore: NewSessionDAO(client),
		appState:     appState,
	}

	err := pcs.OnStart(context.Background())
	if err != nil {
		return nil, store.NewStorageError("failed to run OnStart", err)
	}
	return pcs, nil
}

var _ models.ChatStore = &PostgresChatStore{}

type PostgresChatStore struct {
	client       *bun.DB
	SessionStore *SessionDAO
	appState     *models.AppState
}

func (pcs *PostgresChatStore) OnStart(
	ctx context.Context,
) error {
	err := CreateSchema(ctx, pcs.appState, pcs.client)
	if err != nil {
		return store.NewStorageError("failed to ensure postgres schema setup", err)
	}

	return nil
}

func (pcs *PostgresChatStore) GetClient() *bun.DB {
	return pcs.client
}

// GetSession retrieves a Session for a given sessionID.
func (pcs *PostgresChatStore) GetSession(
	ctx context.Context,
	sessionID string,
) (*models.Session, error) {
	return pcs.SessionStore.Get(ctx, sessionID)
}

// CreateSession creates or undeletes a Session for a given sessionID.
func (pcs *PostgresChatStore) CreateSession(
	ctx context.Context,
	session *models.CreateSessionRequest,
) (*models.Session, error) {
	return pcs.SessionStore.Create(ctx, session)
}

// UpdateSession updates a Session's mode and metadata for a given sessionID.
func (pcs *PostgresChatStore) UpdateSession(
	ctx context.Context,
	session *models.UpdateSessionRequest,
	isPrivileged bool,
) (*models.Session, error) {
	return pcs.SessionStore.Update(ctx, session, isPrivileged)
}

// DeleteSession deletes a session from the chat store. This is a soft delete.
func (pcs *PostgresChatStore) DeleteSession(ctx context.Context, sessionID string) error {
	return pcs.SessionStore.Delete(ctx, sessionID)
}

// ListSessions returns a list of all Sessions, paginated by cursor and limit.
func (pcs *PostgresChatStore) ListSessions(
	ctx context.Context,
	cursor int64,
	limit int,
) ([]*models.Session, error) {
	return pcs.SessionStore.ListAll(ctx, cursor, limit)
}

// PutMessages stores a batch of messages for a session, creating the session
// if it does not exist.
func (pcs *PostgresChatStore) PutMessages(
	ctx context.Context,
	sessionID string,
	messages []models.Message,
) ([]models.Message, error) {
	messageDAO, err := NewMessageDAO(pcs.client, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageDAO: %w", err)
	}

	return messageDAO.CreateMany(ctx, messages)
}

func (pcs *PostgresChatStore) GetMessagesByUUID(
	ctx context.Context,
	sessionID string,
	uuids []uuid.UUID,
) ([]models.Message, error) {
	messageDAO, err := NewMessageDAO(pcs.client, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageDAO: %w", err)
	}

	return messageDAO.GetListByUUID(ctx, uuids)
}

// GetMessageList retrieves a list of messages for a session, paginated by
// pageNumber and pageSize.
func (pcs *PostgresChatStore) GetMessageList(
	ctx context.Context,
	sessionID string,
	pageNumber int,
	pageSize int,
) (*models.MessageListResponse, error) {
	messageDAO, err := NewMessageDAO(pcs.client, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageDAO: %w", err)
	}

	return messageDAO.GetListBySession(ctx, pageNumber, pageSize)
}

func (pcs *PostgresChatStore) UpdateMessages(
	ctx context.Context,
	sessionID string,
	messages []models.Message,
	isPrivileged bool,
) error {
	messageDAO, err := NewMessageDAO(pcs.client, sessionID)
	if err != nil {
		return fmt.Errorf("failed to create messageDAO: %w", err)
	}

	return messageDAO.UpdateMany(ctx, messages, isPrivileged)
}

// GetMemory returns the most recent Summary and a list of messages for a
// given sessionID. GetMemory returns:
//   - the most recent Summary, if one exists
//   - the lastNMessages messages, if lastNMessages > 0
//   - all messages since the last SummaryPoint, if lastNMessages == 0
func (pcs *PostgresChatStore) GetMemory(
	ctx context.Context,
	sessionID string,
	lastNMessages int,
) (*models.Memory, error) {
	if lastNMessages < 0 {
		return nil, store.NewStorageError("cannot specify negative lastNMessages", nil)
	}

	messageDAO, err := NewMessageDAO(pcs.client, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageDAO: %w", err)
	}
	summaryDAO, err := NewSummaryDAO(pcs.client, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create summaryDAO: %w", err)
	}

	summary, err := summaryDAO.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}

	var messages []models.Message
	if lastNMessages > 0 {
		messages, err = messageDAO.GetLastN(ctx, lastNMessages, uuid.Nil)
	} else {
		window := pcs.appState.Config.Memory.MessageWindow
		messages, err = messageDAO.GetSinceLastSummary(ctx, summary, window)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	memory := &models.Memory{
		Messages: messages,
	}
	// only include the summary if it has content
	if summary != nil && summary.UUID != uuid.Nil {
		memory.Summary = summary
	}

	return memory, nil
}

// TrimMessages soft deletes the oldest messages for a session beyond the
// window. Returns the number of messages deleted.
func (pcs *PostgresChatStore) TrimMessages(
	ctx context.Context,
	sessionID string,
	window int,
) (int, error) {
	messageDAO, err := NewMessageDAO(pcs.client, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to create messageDAO: %w", err)
	}

	return messageDAO.Trim(ctx, window)
}

// PutSummary stores a new summary for a session.
func (pcs *PostgresChatStore) PutSummary(
	ctx context.Context,
	sessionID string,
	summary *models.Summary,
) error {
	summaryDAO, err := NewSummaryDAO(pcs.client, sessionID)
	if err != nil {
		return fmt.Errorf("failed to create summaryDAO: %w", err)
	}

	retSummary, err := summaryDAO.Create(ctx, summary)
	if err != nil {
		return store.NewStorageError("failed to create summary", err)
	}

	// Hand the summary off for external persistence
	task := models.SummarySyncTask{
		UUID: retSummary.UUID,
	}
	err = pcs.appState.TaskPublisher.Publish(
		models.SummarySyncTopic,
		map[string]string{
			"session_id": sessionID,
		},
		task,
	)
	if err != nil {
		return fmt.Errorf("SummarySyncTask publish failed: %w", err)
	}

	return nil
}

// GetSummary retrieves the most recent summary for a session.
func (pcs *PostgresChatStore) GetSummary(
	ctx context.Context,
	sessionID string,
) (*models.Summary, error) {
	summaryDAO, err := NewSummaryDAO(pcs.client, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create summaryDAO: %w", err)
	}

	return summaryDAO.Get(ctx)
}

// GetThread retrieves the assistant thread mapping for a session.
func (pcs *PostgresChatStore) GetThread(
	ctx context.Context,
	sessionID string,
) (*models.AssistantThread, error) {
	threadDAO, err := NewThreadDAO(pcs.client, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create threadDAO: %w", err)
	}

	return threadDAO.Get(ctx)
}

// SetThread creates or replaces the thread mapping for a session.
func (pcs *PostgresChatStore) SetThread(
	ctx context.Context,
	sessionID string,
	threadID string,
) error {
	threadDAO, err := NewThreadDAO(pcs.client, sessionID)
	if err != nil {
		return fmt.Errorf("failed to create threadDAO: %w", err)
	}

	return threadDAO.Set(ctx, threadID)
}

// DeleteThread removes the thread mapping for a session.
func (pcs *PostgresChatStore) DeleteThread(
	ctx context.Context,
	sessionID string,
) error {
	threadDAO, err := NewThreadDAO(pcs.client, sessionID)
	if err != nil {
		return fmt.Errorf("failed to create threadDAO: %w", err)
	}

	return threadDAO.Delete(ctx)
}

// PutMessageEmbeddings stores embeddings for a session's messages.
func (pcs *PostgresChatStore) PutMessageEmbeddings(
	ctx context.Context,
	sessionID string,
	embeddings []models.TextData,
) error {
	messageDAO, err := NewMessageDAO(pcs.client, sessionID)
	if err != nil {
		return fmt.Errorf("failed to create messageDAO: %w", err)
	}

	return messageDAO.CreateEmbeddings(ctx, embeddings)
}

// SearchMessages returns the session's messages nearest to the query
// embedding by cosine distance.
func (pcs *PostgresChatStore) SearchMessages(
	ctx context.Context,
	sessionID string,
	embedding []float32,
	limit int,
) ([]models.SearchResult, error) {
	messageDAO, err := NewMessageDAO(pcs.client, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageDAO: %w", err)
	}

	return messageDAO.Search(ctx, embedding, limit)
}

// PurgeDeleted hard deletes all soft deleted records from the chat store.
func (pcs *PostgresChatStore) PurgeDeleted(ctx context.Context) error {
	err := purgeDeleted(ctx, pcs.client)
	if err != nil {
		return store.NewStorageError("failed to purge deleted", err)
	}

	return nil
}

func (pcs *PostgresChatStore) Close() error {
	if pcs.client != nil {
		return pcs.client.Close()
	}
	return nil
}
