package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/confide-ai/confide/internal"
	"github.com/confide-ai/confide/pkg/models"
)

var log = internal.GetLogger()

type BaseTask struct {
	appState *models.AppState // nolint: unused
}

func (b *BaseTask) Execute(
	ctx context.Context, // nolint: revive
	msg *message.Message, // nolint: revive
) error {
	return nil
}

func (b *BaseTask) HandleError(err error) {
	log.Errorf("Task HandleError error: %s", err)
}

func Initialize(ctx context.Context, appState *models.AppState, router models.TaskRouter) {
	log.Info("Initializing tasks")

	addTask := func(ctx context.Context, name string, taskType models.TaskTopic, enabled bool, newTask func() models.Task) {
		if enabled {
			task := newTask()
			router.AddTask(ctx, name, taskType, task)
			log.Infof("%s task added to task router", name)
		}
	}

	cfg := appState.Config

	addTask(
		ctx,
		string(models.SessionSummarizerTopic),
		models.SessionSummarizerTopic,
		cfg.Tasks.Summarizer.Enabled,
		func() models.Task { return NewSessionSummaryTask(appState) },
	)

	addTask(
		ctx,
		string(models.SummarySyncTopic),
		models.SummarySyncTopic,
		cfg.Tasks.SummarySync.Enabled,
		func() models.Task { return NewSummarySyncTask(appState) },
	)

	addTask(
		ctx,
		string(models.MessageTokenCountTopic),
		models.MessageTokenCountTopic,
		cfg.Tasks.TokenCounter.Enabled,
		func() models.Task { return NewMessageTokenCountTask(appState) },
	)

	addTask(
		ctx,
		string(models.MessageEmbedderTopic),
		models.MessageEmbedderTopic,
		cfg.Tasks.Embedder.Enabled && cfg.OpenAI.Embeddings.Enabled,
		func() models.Task { return NewMessageEmbedderTask(appState) },
	)

	addTask(
		ctx,
		string(models.MessageRiskScannerTopic),
		models.MessageRiskScannerTopic,
		cfg.Tasks.RiskScanner.Enabled && cfg.Moderation.Enabled,
		func() models.Task { return NewMessageRiskScanTask(appState) },
	)
}

func messageTaskPayloadToMessages(
	ctx context.Context,
	appState *models.AppState,
	msg *message.Message,
) ([]models.Message, error) {
	sessionID := msg.Metadata.Get("session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("message task missing session_id metadata: %s", msg.UUID)
	}

	var messageTasks []models.MessageTask
	err := json.Unmarshal(msg.Payload, &messageTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal message task payload: %w", err)
	}

	uuids := make([]uuid.UUID, len(messageTasks))
	for i, m := range messageTasks {
		uuids[i] = m.UUID
	}

	messages, err := appState.ChatStore.GetMessagesByUUID(ctx, sessionID, uuids)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages by uuid: %w", err)
	}

	return messages, err
}
