package tasks

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wla "github.com/ma-hartma/watermill-logrus-adapter"

	"github.com/confide-ai/confide/pkg/models"
)

// messageTaskTopics are the topics every persisted turn fans out to. The
// summarizer is session-scoped and ignores the payload.
var messageTaskTopics = []models.TaskTopic{
	models.MessageTokenCountTopic,
	models.MessageEmbedderTopic,
	models.MessageRiskScannerTopic,
	models.SessionSummarizerTopic,
}

type TaskPublisher struct {
	publisher message.Publisher
}

func NewTaskPublisher(db *sql.DB) *TaskPublisher {
	var wlog = wla.NewLogrusLogger(log)
	publisher, err := NewSQLQueuePublisher(db, wlog)
	if err != nil {
		log.Fatalf("Failed to create task publisher: %v", err)
	}
	return &TaskPublisher{
		publisher: publisher,
	}
}

func (t *TaskPublisher) Publish(taskType models.TaskTopic, metadata map[string]string, payload any) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	log.Debugf("Publishing message: %s", p)
	m := message.NewMessage(watermill.NewUUID(), p)
	m.Metadata = message.Metadata(metadata)

	err = t.publisher.Publish(string(taskType), m)
	if err != nil {
		return fmt.Errorf("failed to publish task message: %w", err)
	}

	return nil
}

// PublishMessage fans a persisted turn out to all message-scoped tasks.
func (t *TaskPublisher) PublishMessage(metadata map[string]string, payload []models.MessageTask) error {
	for _, topic := range messageTaskTopics {
		if err := t.Publish(topic, metadata, payload); err != nil {
			return err
		}
	}
	return nil
}

func (t *TaskPublisher) Close() error {
	err := t.publisher.Close()
	if err != nil {
		return fmt.Errorf("failed to close task publisher: %w", err)
	}

	return nil
}
