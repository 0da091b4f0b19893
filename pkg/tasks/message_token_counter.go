package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/confide-ai/confide/pkg/models"
)

var _ models.Task = &MessageTokenCountTask{}

// MessageTokenCountTask counts the tokens in newly stored messages and
// persists the counts.
type MessageTokenCountTask struct {
	BaseTask
}

func NewMessageTokenCountTask(appState *models.AppState) *MessageTokenCountTask {
	return &MessageTokenCountTask{
		BaseTask{
			appState: appState,
		},
	}
}

func (t *MessageTokenCountTask) Execute(
	ctx context.Context,
	msg *message.Message,
) error {
	ctx, done := context.WithTimeout(ctx, TaskTimeout*time.Second)
	defer done()

	sessionID := msg.Metadata.Get("session_id")
	if sessionID == "" {
		return errors.New("MessageTokenCountTask session_id is empty")
	}

	log.Debugf("MessageTokenCountTask called for session %s", sessionID)

	messages, err := messageTaskPayloadToMessages(ctx, t.appState, msg)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warnf("MessageTokenCountTask messages not found. Were the records deleted?")
			msg.Ack()
			return nil
		}
		return fmt.Errorf("MessageTokenCountTask messageTaskPayloadToMessages failed: %w", err)
	}

	countResult, err := t.updateTokenCounts(messages)
	if err != nil {
		return fmt.Errorf("MessageTokenCountTask failed to get token count: %w", err)
	}

	if len(countResult) == 0 {
		msg.Ack()
		return nil
	}

	err = t.appState.ChatStore.UpdateMessages(ctx, sessionID, countResult, true)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warnf("MessageTokenCountTask UpdateMessages not found. Were the records deleted?")
			msg.Ack()
			return nil
		}
		return fmt.Errorf("MessageTokenCountTask update messages failed: %w", err)
	}

	msg.Ack()

	return nil
}

func (t *MessageTokenCountTask) updateTokenCounts(
	messages []models.Message,
) ([]models.Message, error) {
	for i := range messages {
		count, err := t.appState.Assistant.GetTokenCount(
			fmt.Sprintf("%s: %s", messages[i].Role, messages[i].Content),
		)
		if err != nil {
			return nil, err
		}
		messages[i].TokenCount = count
	}
	return messages, nil
}

func (t *MessageTokenCountTask) HandleError(err error) {
	log.Errorf("MessageTokenCountTask failed: %v", err)
}
