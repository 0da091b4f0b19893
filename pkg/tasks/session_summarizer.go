package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/confide-ai/confide/internal"
	"github.com/confide-ai/confide/pkg/models"
)

const SummaryMaxOutputTokens = 1024

var _ models.Task = &SessionSummaryTask{}

// SessionSummaryTask summarizes a session's conversation incrementally.
// It gets the messages created since the last summary point and, if their
// count exceeds the configured message window, folds the oldest half of the
// window into the previous summary. The new summary point is the most recent
// message summarized.
type SessionSummaryTask struct {
	BaseTask
}

func NewSessionSummaryTask(appState *models.AppState) *SessionSummaryTask {
	return &SessionSummaryTask{
		BaseTask: BaseTask{
			appState: appState,
		},
	}
}

func (t *SessionSummaryTask) Execute(
	ctx context.Context,
	msg *message.Message,
) error {
	ctx, done := context.WithTimeout(ctx, TaskTimeout*time.Second)
	defer done()

	sessionID := msg.Metadata.Get("session_id")
	if sessionID == "" {
		return errors.New("SessionSummaryTask session_id is empty")
	}

	log.Debugf("SessionSummaryTask called for session %s", sessionID)

	messageWindow := t.appState.Config.Memory.MessageWindow
	if messageWindow == 0 {
		return errors.New("SessionSummaryTask message window is 0")
	}

	memory, err := t.appState.ChatStore.GetMemory(ctx, sessionID, 0)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warnf("SessionSummaryTask GetMemory not found. Were the records deleted?")
			msg.Ack()
			return nil
		}
		return fmt.Errorf("SessionSummaryTask get memory failed: %w", err)
	}

	messages := dropEmptyMessages(memory.Messages)
	if len(messages) < messageWindow {
		msg.Ack()
		return nil
	}

	newSummary, err := t.summarize(ctx, messages, memory.Summary)
	if err != nil {
		return fmt.Errorf("SessionSummaryTask summarize failed: %w", err)
	}

	err = t.appState.ChatStore.PutSummary(ctx, sessionID, newSummary)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warnf("SessionSummaryTask PutSummary not found. Were the records deleted?")
			msg.Ack()
			return nil
		}
		return fmt.Errorf("SessionSummaryTask put summary failed: %w", err)
	}

	log.Debugf("SessionSummaryTask completed for session %s", sessionID)

	msg.Ack()

	return nil
}

func (t *SessionSummaryTask) HandleError(err error) {
	log.Errorf("SessionSummaryTask failed: %v", err)
}

// summarize folds the messages over the most recent half window into the
// previous summary. Expects messages in chronological order, oldest first.
func (t *SessionSummaryTask) summarize(
	ctx context.Context,
	messages []models.Message,
	summary *models.Summary,
) (*models.Summary, error) {
	var currentSummaryContent string
	if summary != nil {
		currentSummaryContent = summary.Content
	}

	// keep half the window unsummarized to minimize how often we run
	newMessageCount := t.appState.Config.Memory.MessageWindow / 2
	messagesToSummarize := messages[:len(messages)-newMessageCount]
	if len(messagesToSummarize) == 0 {
		return nil, errors.New("no messages to summarize")
	}

	promptData := SummaryPromptTemplateData{
		PrevSummary:    currentSummaryContent,
		MessagesJoined: strings.Join(messagesToStringSlice(messagesToSummarize), "\n"),
	}
	prompt, err := internal.ParsePrompt(summaryPromptTemplate, promptData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse summary prompt: %w", err)
	}

	newSummaryContent, err := t.appState.Assistant.Complete(ctx, prompt, SummaryMaxOutputTokens)
	if err != nil {
		return nil, err
	}
	newSummaryContent = strings.TrimSpace(newSummaryContent)
	if newSummaryContent == "" {
		return nil, errors.New("no summary found after summarization")
	}

	tokenCount, err := t.appState.Assistant.GetTokenCount(newSummaryContent)
	if err != nil {
		return nil, err
	}

	return &models.Summary{
		Content:          newSummaryContent,
		TokenCount:       tokenCount,
		SummaryPointUUID: messagesToSummarize[len(messagesToSummarize)-1].UUID,
	}, nil
}
