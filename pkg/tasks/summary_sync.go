package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/confide-ai/confide/pkg/models"
)

var _ models.Task = &SummarySyncTask{}

// SummarySyncTask mirrors a session's most recent summary to the care
// team's NocoDB table. The task is published whenever a summary is stored;
// syncing the latest summary makes it idempotent under redelivery.
type SummarySyncTask struct {
	BaseTask
}

func NewSummarySyncTask(appState *models.AppState) *SummarySyncTask {
	return &SummarySyncTask{
		BaseTask: BaseTask{
			appState: appState,
		},
	}
}

func (t *SummarySyncTask) Execute(
	ctx context.Context,
	msg *message.Message,
) error {
	ctx, done := context.WithTimeout(ctx, TaskTimeout*time.Second)
	defer done()

	sessionID := msg.Metadata.Get("session_id")
	if sessionID == "" {
		return errors.New("SummarySyncTask session_id is empty")
	}

	log.Debugf("SummarySyncTask called for session %s", sessionID)

	session, err := t.appState.ChatStore.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warnf("SummarySyncTask session not found. Was the record deleted?")
			msg.Ack()
			return nil
		}
		return fmt.Errorf("SummarySyncTask get session failed: %w", err)
	}

	summary, err := t.appState.ChatStore.GetSummary(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("SummarySyncTask get summary failed: %w", err)
	}
	if summary == nil || summary.UUID == uuid.Nil {
		log.Warnf("SummarySyncTask no summary for session %s. Was the record deleted?", sessionID)
		msg.Ack()
		return nil
	}

	record := &models.SummarySyncRecord{
		SessionID: sessionID,
		Summary:   summary.Content,
		Mode:      session.Mode,
		RiskFlag:  sessionRiskFlag(session),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := t.appState.SummarySink.UpsertSummary(ctx, record); err != nil {
		return fmt.Errorf("SummarySyncTask upsert failed: %w", err)
	}

	msg.Ack()

	return nil
}

func (t *SummarySyncTask) HandleError(err error) {
	log.Errorf("SummarySyncTask failed: %v", err)
}

func sessionRiskFlag(session *models.Session) models.RiskFlag {
	system, ok := session.Metadata["system"].(map[string]interface{})
	if !ok {
		return models.RiskFlagNone
	}
	flag, _ := system["risk"].(string)
	return models.RiskFlag(flag)
}
