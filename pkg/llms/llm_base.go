package llms

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sashabaranov/go-openai"

	"github.com/confide-ai/confide/config"
	"github.com/confide-ai/confide/internal"
	"github.com/confide-ai/confide/pkg/llms/openairetryclient"
)

const DefaultTemperature = 0.0
const OpenAIAPIKeyNotSetError = "CONFIDE_OPENAI_API_KEY is not set" //nolint:gosec
const OpenAIAPITimeout = 90 * time.Second

var log = internal.GetLogger()

type LLMError struct {
	message       string
	originalError error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm error: %s (original error: %v)", e.message, e.originalError)
}

func NewLLMError(message string, originalError error) *LLMError {
	return &LLMError{message: message, originalError: originalError}
}

// NewOpenAIRetryClient returns an OpenAI client wrapped with timeout and
// backoff retry behavior.
func NewOpenAIRetryClient(cfg *config.Config) (*openairetryclient.OpenAIRetryClient, error) {
	apiKey := cfg.OpenAI.APIKey
	if apiKey == "" {
		return nil, NewLLMError(OpenAIAPIKeyNotSetError, nil)
	}

	openAIClientConfig := openai.DefaultConfig(apiKey)
	openAIClientConfig.HTTPClient = NewRetryableHTTPClient(
		5,
		OpenAIAPITimeout,
	).StandardClient()

	client := openai.NewClientWithConfig(openAIClientConfig)

	timeout := time.Duration(cfg.OpenAI.RunTimeout) * time.Second
	if timeout <= 0 {
		timeout = OpenAIAPITimeout
	}
	maxAttempts := cfg.OpenAI.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	return &openairetryclient.OpenAIRetryClient{
		Client: *client,
		Config: struct {
			Timeout     time.Duration
			MaxAttempts uint
		}{
			Timeout:     timeout,
			MaxAttempts: maxAttempts,
		},
	}, nil
}

func NewRetryableHTTPClient(retryMax int, timeout time.Duration) *retryablehttp.Client {
	retryableHTTPClient := retryablehttp.NewClient()
	retryableHTTPClient.RetryMax = retryMax
	retryableHTTPClient.HTTPClient.Timeout = timeout
	retryableHTTPClient.Logger = log
	retryableHTTPClient.Backoff = retryablehttp.DefaultBackoff
	retryableHTTPClient.CheckRetry = retryPolicy

	return retryableHTTPClient
}

// retryPolicy is a retryablehttp.CheckRetry function. It is used to determine
// whether a request should be retried or not.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	// do not retry on context.Canceled or context.DeadlineExceeded
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	// Do not retry 400 errors as they're used by OpenAI to indicate maximum
	// context length exceeded
	if resp != nil && resp.StatusCode == 400 {
		return false, err
	}

	shouldRetry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	return shouldRetry, nil
}
