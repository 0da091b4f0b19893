package models

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

type TaskTopic string

const (
	SessionSummarizerTopic  TaskTopic = "session_summarizer"
	SummarySyncTopic        TaskTopic = "summary_sync"
	MessageTokenCountTopic  TaskTopic = "message_token_count"
	MessageEmbedderTopic    TaskTopic = "message_embedder"
	MessageRiskScannerTopic TaskTopic = "message_risk_scanner"
)

type Task interface {
	Execute(ctx context.Context, event *message.Message) error
	HandleError(err error)
}

type TaskRouter interface {
	Run(ctx context.Context) error
	AddTask(ctx context.Context, name string, taskType TaskTopic, task Task)
	RunHandlers(ctx context.Context) error
	IsRunning() bool
	Close() error
}

type TaskPublisher interface {
	Publish(taskType TaskTopic, metadata map[string]string, payload any) error
	PublishMessage(metadata map[string]string, payload []MessageTask) error
	Close() error
}

// MessageTask is the per-message payload published to message-scoped tasks.
type MessageTask struct {
	UUID uuid.UUID `json:"uuid"`
}

// SummarySyncTask is published after a summary is stored locally.
type SummarySyncTask struct {
	UUID uuid.UUID `json:"uuid"`
}
