package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"

	"github.com/confide-ai/confide/config"
	"github.com/confide-ai/confide/pkg/llms/openairetryclient"
	"github.com/confide-ai/confide/pkg/models"
)

const DefaultPollInterval = 750 * time.Millisecond

var _ models.AssistantClient = &OpenAIAssistantClient{}

// NewOpenAIAssistantClient returns a new OpenAIAssistantClient configured
// from cfg.
func NewOpenAIAssistantClient(cfg *config.Config) (*OpenAIAssistantClient, error) {
	// Initialize the Tiktoken client
	encoding := "cl100k_base"
	tkm, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}

	client, err := NewOpenAIRetryClient(cfg)
	if err != nil {
		return nil, err
	}

	pollInterval := time.Duration(cfg.OpenAI.PollInterval) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	runTimeout := time.Duration(cfg.OpenAI.RunTimeout) * time.Second
	if runTimeout <= 0 {
		runTimeout = OpenAIAPITimeout
	}

	return &OpenAIAssistantClient{
		client:       client,
		cfg:          cfg,
		tkm:          tkm,
		pollInterval: pollInterval,
		runTimeout:   runTimeout,
	}, nil
}

// OpenAIAssistantClient drives conversations through the OpenAI Assistants
// API: one thread per session, one run per turn.
type OpenAIAssistantClient struct {
	client       *openairetryclient.OpenAIRetryClient
	cfg          *config.Config
	tkm          *tiktoken.Tiktoken
	pollInterval time.Duration
	runTimeout   time.Duration
}

// CreateThread creates a new assistant thread and returns its ID.
func (c *OpenAIAssistantClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.CreateThreadWithRetry(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", NewLLMError("failed to create thread", err)
	}
	return thread.ID, nil
}

// AddUserMessage appends a user message to a thread.
func (c *OpenAIAssistantClient) AddUserMessage(
	ctx context.Context,
	threadID string,
	content string,
) error {
	_, err := c.client.CreateMessageWithRetry(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	if err != nil {
		return NewLLMError("failed to add message to thread", err)
	}
	return nil
}

// Run executes an assistant run against a thread and polls until the run
// reaches a terminal state. Tool calls raised by the run are recorded on the
// result and acknowledged so the run can complete; interpreting them is the
// caller's concern.
func (c *OpenAIAssistantClient) Run(
	ctx context.Context,
	threadID string,
	opts models.AssistantRunOptions,
) (*models.AssistantRunResult, error) {
	if opts.AssistantID == "" {
		return nil, NewLLMError("assistantID is not set", nil)
	}

	runReq := openai.RunRequest{
		AssistantID: opts.AssistantID,
	}
	if opts.Temperature != 0 {
		temperature := opts.Temperature
		runReq.Temperature = &temperature
	}
	if opts.MaxCompletionTokens > 0 {
		runReq.MaxCompletionTokens = opts.MaxCompletionTokens
	}
	if opts.ToolName != "" {
		runReq.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: opts.ToolName},
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	run, err := c.client.CreateRun(runCtx, threadID, runReq)
	if err != nil {
		return nil, NewLLMError("failed to create run", err)
	}

	result := &models.AssistantRunResult{}
	for {
		switch run.Status {
		case openai.RunStatusCompleted:
			reply, err := c.latestAssistantReply(runCtx, threadID)
			if err != nil {
				return nil, err
			}
			result.Reply = reply
			return result, nil
		case openai.RunStatusRequiresAction:
			run, err = c.submitToolOutputs(runCtx, threadID, run, result)
			if err != nil {
				return nil, err
			}
		case openai.RunStatusQueued, openai.RunStatusInProgress:
			select {
			case <-runCtx.Done():
				return nil, fmt.Errorf("run did not complete in time: %w", runCtx.Err())
			case <-time.After(c.pollInterval):
			}
			run, err = c.client.RetrieveRun(runCtx, threadID, run.ID)
			if err != nil {
				return nil, NewLLMError("failed to retrieve run", err)
			}
		default:
			return nil, NewLLMError(
				fmt.Sprintf("run ended with status %s", run.Status),
				nil,
			)
		}
	}
}

// submitToolOutputs records the run's pending tool calls on result and
// acknowledges them so the run can proceed.
func (c *OpenAIAssistantClient) submitToolOutputs(
	ctx context.Context,
	threadID string,
	run openai.Run,
	result *models.AssistantRunResult,
) (openai.Run, error) {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return run, NewLLMError("run requires action but has no tool outputs to submit", nil)
	}

	toolCalls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	outputs := make([]openai.ToolOutput, len(toolCalls))
	for i, tc := range toolCalls {
		arguments := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &arguments); err != nil {
				log.Warningf(
					"failed to parse tool call arguments for %s: %v",
					tc.Function.Name,
					err,
				)
			}
		}
		result.ToolCalls = append(result.ToolCalls, models.AssistantToolCall{
			Name:      tc.Function.Name,
			Arguments: arguments,
		})
		outputs[i] = openai.ToolOutput{
			ToolCallID: tc.ID,
			Output:     `{"success": true}`,
		}
	}

	run, err := c.client.SubmitToolOutputs(ctx, threadID, run.ID, openai.SubmitToolOutputsRequest{
		ToolOutputs: outputs,
	})
	if err != nil {
		return run, NewLLMError("failed to submit tool outputs", err)
	}
	return run, nil
}

// latestAssistantReply returns the text of the most recent assistant message
// on the thread.
func (c *OpenAIAssistantClient) latestAssistantReply(
	ctx context.Context,
	threadID string,
) (string, error) {
	limit := 1
	order := "desc"
	list, err := c.client.ListMessage(ctx, threadID, &limit, &order, nil, nil)
	if err != nil {
		return "", NewLLMError("failed to list thread messages", err)
	}
	if len(list.Messages) == 0 {
		return "", nil
	}

	message := list.Messages[0]
	if message.Role != openai.ChatMessageRoleAssistant {
		return "", nil
	}
	for _, content := range message.Content {
		if content.Text != nil {
			return content.Text.Value, nil
		}
	}
	return "", nil
}

// TrimThread deletes the oldest thread messages beyond the window, in
// user/assistant pairs. Returns the number of messages deleted.
func (c *OpenAIAssistantClient) TrimThread(
	ctx context.Context,
	threadID string,
	window int,
) (int, error) {
	if window < 1 {
		return 0, NewLLMError("window must be greater than 0", nil)
	}

	limit := 100
	order := "asc"
	list, err := c.client.ListMessage(ctx, threadID, &limit, &order, nil, nil)
	if err != nil {
		return 0, NewLLMError("failed to list thread messages", err)
	}

	toDelete := trimCount(len(list.Messages), window)
	if toDelete == 0 {
		return 0, nil
	}

	for i := 0; i < toDelete; i++ {
		_, err := c.client.DeleteMessage(ctx, threadID, list.Messages[i].ID)
		if err != nil {
			return i, NewLLMError("failed to delete thread message", err)
		}
	}

	return toDelete, nil
}

// trimCount returns the number of messages to delete to bring total within
// window, rounded up to a full user/assistant pair.
func trimCount(total, window int) int {
	if total <= window {
		return 0
	}
	toDelete := total - window
	if toDelete%2 != 0 {
		toDelete++
	}
	if toDelete > total {
		toDelete = total
	}
	return toDelete
}

// Complete runs a plain chat completion against the given prompt. Used by
// the summarizer task.
func (c *OpenAIAssistantClient) Complete(
	ctx context.Context,
	prompt string,
	maxTokens int,
) (string, error) {
	response, err := c.client.CreateChatCompletionWithRetry(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.OpenAI.Model,
		MaxTokens:   maxTokens,
		Temperature: DefaultTemperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", NewLLMError("no choices returned from OpenAI", nil)
	}

	return response.Choices[0].Message.Content, nil
}

// EmbedTexts embeds the given texts.
func (c *OpenAIAssistantClient) EmbedTexts(
	ctx context.Context,
	texts []string,
) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, NewLLMError("no texts received", nil)
	}

	model := openai.EmbeddingModel(c.cfg.OpenAI.Embeddings.Model)
	if model == "" {
		model = openai.AdaEmbeddingV2
	}

	response, err := c.client.CreateEmbeddingsWithRetry(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: model,
	})
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(response.Data))
	for i, data := range response.Data {
		embeddings[i] = data.Embedding
	}
	return embeddings, nil
}

// GetTokenCount returns the number of tokens in the text.
func (c *OpenAIAssistantClient) GetTokenCount(text string) (int, error) {
	return len(c.tkm.Encode(text, nil, nil)), nil
}
