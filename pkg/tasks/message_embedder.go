package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/confide-ai/confide/pkg/models"
)

var _ models.Task = &MessageEmbedderTask{}

// MessageEmbedderTask embeds newly stored messages and persists the vectors
// for session-scoped recall.
type MessageEmbedderTask struct {
	BaseTask
}

func NewMessageEmbedderTask(appState *models.AppState) *MessageEmbedderTask {
	return &MessageEmbedderTask{
		BaseTask{
			appState: appState,
		},
	}
}

func (t *MessageEmbedderTask) Execute(
	ctx context.Context,
	msg *message.Message,
) error {
	ctx, done := context.WithTimeout(ctx, TaskTimeout*time.Second)
	defer done()

	sessionID := msg.Metadata.Get("session_id")
	if sessionID == "" {
		return errors.New("MessageEmbedderTask session_id is empty")
	}

	log.Debugf("MessageEmbedderTask called for session %s", sessionID)

	messages, err := messageTaskPayloadToMessages(ctx, t.appState, msg)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warnf("MessageEmbedderTask messages not found. Were the records deleted?")
			msg.Ack()
			return nil
		}
		return fmt.Errorf("MessageEmbedderTask messageTaskPayloadToMessages failed: %w", err)
	}

	messages = dropEmptyMessages(messages)
	if len(messages) == 0 {
		msg.Ack()
		return nil
	}

	texts := make([]string, len(messages))
	for i, m := range messages {
		texts[i] = m.Content
	}

	embeddings, err := t.appState.Assistant.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("MessageEmbedderTask embed messages failed: %w", err)
	}

	embeddingRecords := make([]models.TextData, len(messages))
	for i, m := range messages {
		embeddingRecords[i] = models.TextData{
			TextUUID:  m.UUID,
			Text:      m.Content,
			Embedding: embeddings[i],
		}
	}

	err = t.appState.ChatStore.PutMessageEmbeddings(ctx, sessionID, embeddingRecords)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warnf("MessageEmbedderTask PutMessageEmbeddings not found. Were the records deleted?")
			msg.Ack()
			return nil
		}
		return fmt.Errorf("MessageEmbedderTask put message embeddings failed: %w", err)
	}

	msg.Ack()

	return nil
}

func (t *MessageEmbedderTask) HandleError(err error) {
	log.Errorf("MessageEmbedderTask error: %s", err)
}
