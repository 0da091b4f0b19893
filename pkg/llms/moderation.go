package llms

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/confide-ai/confide/config"
	"github.com/confide-ai/confide/pkg/models"
)

var _ models.Moderator = &OpenAIModerator{}

// NewOpenAIModerator returns a Moderator backed by the OpenAI moderation
// endpoint.
func NewOpenAIModerator(cfg *config.Config) (*OpenAIModerator, error) {
	client, err := NewOpenAIRetryClient(cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAIModerator{
		client:  client,
		enabled: cfg.Moderation.Enabled,
	}, nil
}

type OpenAIModerator struct {
	client  moderationClient
	enabled bool
}

type moderationClient interface {
	ModerationsWithRetry(
		ctx context.Context,
		request openai.ModerationRequest,
	) (*openai.ModerationResponse, error)
}

// Moderate classifies text for risk escalation. Returns RiskFlagNone when
// moderation is disabled or nothing was flagged.
func (m *OpenAIModerator) Moderate(ctx context.Context, text string) (models.RiskFlag, error) {
	if !m.enabled || text == "" {
		return models.RiskFlagNone, nil
	}

	response, err := m.client.ModerationsWithRetry(ctx, openai.ModerationRequest{
		Input: text,
		Model: openai.ModerationTextLatest,
	})
	if err != nil {
		return models.RiskFlagNone, NewLLMError("failed to moderate text", err)
	}
	if len(response.Results) == 0 {
		return models.RiskFlagNone, nil
	}

	return riskFlagFromResult(response.Results[0]), nil
}

// riskFlagFromResult maps a moderation result to a RiskFlag. Self-harm takes
// precedence over violence.
func riskFlagFromResult(result openai.Result) models.RiskFlag {
	if !result.Flagged {
		return models.RiskFlagNone
	}
	categories := result.Categories
	switch {
	case categories.SelfHarm || categories.SelfHarmIntent || categories.SelfHarmInstructions:
		return models.RiskFlagSelfHarm
	case categories.Violence || categories.ViolenceGraphic:
		return models.RiskFlagViolence
	}
	return models.RiskFlagNone
}
