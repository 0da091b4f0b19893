package openairetryclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confide-ai/confide/internal"

	"github.com/avast/retry-go/v4"
	"github.com/sashabaranov/go-openai"
)

var log = internal.GetLogger()

// OpenAIRetryClient wraps the OpenAI client with a timeout and backoff retry
// for the calls that are safe to retry. Run polling is not retried here as
// the caller owns the poll loop.
type OpenAIRetryClient struct {
	openai.Client
	Config struct {
		Timeout     time.Duration
		MaxAttempts uint
	}
}

func (c *OpenAIRetryClient) CreateChatCompletionWithRetry(
	ctx context.Context,
	request openai.ChatCompletionRequest,
) (*openai.ChatCompletionResponse, error) {
	fn := func(ctx context.Context, arg interface{}) (interface{}, error) {
		req := arg.(openai.ChatCompletionRequest)
		return c.CreateChatCompletion(ctx, req)
	}

	result, err := c.retryFunction(ctx, c.Config.Timeout, c.Config.MaxAttempts, fn, request)
	if err != nil {
		return nil, fmt.Errorf("unexpected response from OpenAI API: %w", err)
	}

	response, ok := result.(openai.ChatCompletionResponse)
	if !ok {
		return nil, errors.New(
			"unexpected type returned from openai client CreateChatCompletion",
		)
	}
	return &response, nil
}

func (c *OpenAIRetryClient) CreateEmbeddingsWithRetry(
	ctx context.Context,
	request openai.EmbeddingRequest,
) (*openai.EmbeddingResponse, error) {
	fn := func(ctx context.Context, arg interface{}) (interface{}, error) {
		req := arg.(openai.EmbeddingRequest)
		return c.CreateEmbeddings(ctx, req)
	}

	result, err := c.retryFunction(ctx, c.Config.Timeout, c.Config.MaxAttempts, fn, request)
	if err != nil {
		return nil, fmt.Errorf("unexpected response from OpenAI API: %w", err)
	}

	response, ok := result.(openai.EmbeddingResponse)
	if !ok {
		return nil, errors.New("unexpected type returned from openai client CreateEmbeddings")
	}
	return &response, nil
}

func (c *OpenAIRetryClient) ModerationsWithRetry(
	ctx context.Context,
	request openai.ModerationRequest,
) (*openai.ModerationResponse, error) {
	fn := func(ctx context.Context, arg interface{}) (interface{}, error) {
		req := arg.(openai.ModerationRequest)
		return c.Moderations(ctx, req)
	}

	result, err := c.retryFunction(ctx, c.Config.Timeout, c.Config.MaxAttempts, fn, request)
	if err != nil {
		return nil, fmt.Errorf("unexpected response from OpenAI API: %w", err)
	}

	response, ok := result.(openai.ModerationResponse)
	if !ok {
		return nil, errors.New("unexpected type returned from openai client Moderations")
	}
	return &response, nil
}

func (c *OpenAIRetryClient) CreateThreadWithRetry(
	ctx context.Context,
	request openai.ThreadRequest,
) (*openai.Thread, error) {
	fn := func(ctx context.Context, arg interface{}) (interface{}, error) {
		req := arg.(openai.ThreadRequest)
		return c.CreateThread(ctx, req)
	}

	result, err := c.retryFunction(ctx, c.Config.Timeout, c.Config.MaxAttempts, fn, request)
	if err != nil {
		return nil, fmt.Errorf("unexpected response from OpenAI API: %w", err)
	}

	response, ok := result.(openai.Thread)
	if !ok {
		return nil, errors.New("unexpected type returned from openai client CreateThread")
	}
	return &response, nil
}

func (c *OpenAIRetryClient) CreateMessageWithRetry(
	ctx context.Context,
	threadID string,
	request openai.MessageRequest,
) (*openai.Message, error) {
	fn := func(ctx context.Context, arg interface{}) (interface{}, error) {
		req := arg.(openai.MessageRequest)
		return c.CreateMessage(ctx, threadID, req)
	}

	result, err := c.retryFunction(ctx, c.Config.Timeout, c.Config.MaxAttempts, fn, request)
	if err != nil {
		return nil, fmt.Errorf("unexpected response from OpenAI API: %w", err)
	}

	response, ok := result.(openai.Message)
	if !ok {
		return nil, errors.New("unexpected type returned from openai client CreateMessage")
	}
	return &response, nil
}

func (c *OpenAIRetryClient) retryFunction(
	ctx context.Context,
	timeout time.Duration,
	maxAttempts uint,
	fn func(context.Context, interface{}) (interface{}, error),
	arg interface{}) (interface{}, error) {
	var result interface{}
	var err error
	retryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = retry.Do(
		func() error {
			result, err = fn(retryCtx, arg)
			return err
		},
		retry.Attempts(maxAttempts),
		retry.Context(retryCtx),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Warningf("Retrying function attempt #%d: %s\n", n, err)
		}),
	)

	if err != nil {
		return nil, err
	}

	return result, nil
}
