package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/confide-ai/confide/pkg/models"
)

var _ models.Task = &MessageRiskScanTask{}

// MessageRiskScanTask re-moderates stored user messages. It is defense in
// depth behind the synchronous pre-check in the chat path: if a flagged
// message slipped through (for example during a moderation outage), the
// session is escalated here.
type MessageRiskScanTask struct {
	BaseTask
}

func NewMessageRiskScanTask(appState *models.AppState) *MessageRiskScanTask {
	return &MessageRiskScanTask{
		BaseTask{
			appState: appState,
		},
	}
}

func (t *MessageRiskScanTask) Execute(
	ctx context.Context,
	msg *message.Message,
) error {
	ctx, done := context.WithTimeout(ctx, TaskTimeout*time.Second)
	defer done()

	sessionID := msg.Metadata.Get("session_id")
	if sessionID == "" {
		return errors.New("MessageRiskScanTask session_id is empty")
	}

	log.Debugf("MessageRiskScanTask called for session %s", sessionID)

	messages, err := messageTaskPayloadToMessages(ctx, t.appState, msg)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warnf("MessageRiskScanTask messages not found. Were the records deleted?")
			msg.Ack()
			return nil
		}
		return fmt.Errorf("MessageRiskScanTask messageTaskPayloadToMessages failed: %w", err)
	}

	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		flag, err := t.appState.Moderator.Moderate(ctx, m.Content)
		if err != nil {
			return fmt.Errorf("MessageRiskScanTask moderation failed: %w", err)
		}
		if !flag.Flagged() {
			continue
		}

		log.Infof("MessageRiskScanTask flagged session %s: %s", sessionID, flag)
		_, err = t.appState.ChatStore.UpdateSession(ctx, &models.UpdateSessionRequest{
			SessionID: sessionID,
			Mode:      models.ModeEscalation,
			Metadata: map[string]interface{}{
				"system": map[string]interface{}{"risk": string(flag)},
			},
		}, true)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				log.Warnf("MessageRiskScanTask session not found. Was the record deleted?")
				msg.Ack()
				return nil
			}
			return fmt.Errorf("MessageRiskScanTask update session failed: %w", err)
		}
		break
	}

	msg.Ack()

	return nil
}

func (t *MessageRiskScanTask) HandleError(err error) {
	log.Errorf("MessageRiskScanTask failed: %v", err)
}
