package chat

import (
	"context"
	"time"

	"github.com/confide-ai/confide/pkg/models"
)

// Function tool names the assistants are configured with.
const (
	ToolEvaluateIntakeProgress = "evaluate_intake_progress"
	ToolRiskEscalationCheck    = "risk_escalation_check"
	ToolSwitchChatMode         = "switch_chat_mode"
	ToolSaveSessionSummary     = "save_session_summary"
)

// NeedMoreData is carried in ChatResponse.Need when the intake assistant
// reports it has not collected enough data yet. Typebot flows branch on the
// literal "yes".
const NeedMoreData = "yes"

// applyToolCalls maps the function calls an assistant run emitted onto the
// chat response, applying their side effects along the way.
func (s *Service) applyToolCalls(
	ctx context.Context,
	session *models.Session,
	result *models.AssistantRunResult,
	resp *models.ChatResponse,
) {
	for _, tc := range result.ToolCalls {
		switch tc.Name {
		case ToolEvaluateIntakeProgress:
			evaluation := EvaluateIntake(snapshotFromArguments(tc.Arguments))
			if !evaluation.EnoughData {
				resp.Need = NeedMoreData
				continue
			}
			if session.Mode != models.ModeIntake {
				continue
			}
			newMode, err := s.SwitchChatMode(ctx, session.SessionID, string(models.ModeAdvice))
			if err != nil {
				log.Warnf("failed to promote session %s to advice: %v", session.SessionID, err)
				continue
			}
			session.Mode = newMode
		case ToolRiskEscalationCheck:
			text := stringArgument(tc.Arguments, "message", "text")
			flag, err := s.RiskEscalationCheck(ctx, session.SessionID, text)
			if err != nil {
				log.Warnf("risk check failed for session %s: %v", session.SessionID, err)
				continue
			}
			if flag.Flagged() {
				resp.RiskFlag = flag
				resp.EndChat = true
				resp.Reply = s.config().Chat.EscalationReply
			}
		case ToolSwitchChatMode:
			requested := stringArgument(tc.Arguments, "mode", "new_mode")
			newMode, err := s.SwitchChatMode(ctx, session.SessionID, requested)
			if err != nil {
				log.Warnf("mode switch failed for session %s: %v", session.SessionID, err)
				continue
			}
			session.Mode = newMode
			if newMode == models.ModeIntake {
				resp.BackToIntake = true
			}
		case ToolSaveSessionSummary:
			content := stringArgument(tc.Arguments, "summary", "content")
			if err := s.SaveSessionSummary(ctx, session.SessionID, content); err != nil {
				log.Warnf("failed to save summary for session %s: %v", session.SessionID, err)
				continue
			}
			resp.EndChat = true
		default:
			log.Warnf("unknown tool call %s on session %s", tc.Name, session.SessionID)
		}
	}
}

// RiskEscalationCheck moderates text and, when a risk is flagged, switches
// the session to escalation mode with the flag recorded under its system
// metadata.
func (s *Service) RiskEscalationCheck(
	ctx context.Context,
	sessionID string,
	text string,
) (models.RiskFlag, error) {
	flag, err := s.appState.Moderator.Moderate(ctx, text)
	if err != nil {
		return models.RiskFlagNone, err
	}
	if !flag.Flagged() {
		return flag, nil
	}

	if _, err := s.appState.ChatStore.UpdateSession(ctx, &models.UpdateSessionRequest{
		SessionID: sessionID,
		Mode:      models.ModeEscalation,
		Metadata: map[string]interface{}{
			"system": map[string]interface{}{"risk": string(flag)},
		},
	}, true); err != nil {
		return flag, err
	}
	return flag, nil
}

// SwitchChatMode validates and applies a mode transition. An unknown
// requested mode falls back to the default mode. Switching to the current
// mode is a no-op.
func (s *Service) SwitchChatMode(
	ctx context.Context,
	sessionID string,
	requested string,
) (models.ChatMode, error) {
	session, err := s.appState.ChatStore.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	newMode := models.ParseChatMode(requested)
	if newMode == session.Mode {
		return newMode, nil
	}
	if !session.Mode.CanSwitchTo(newMode) {
		return "", &models.InvalidModeTransitionError{From: session.Mode, To: newMode}
	}

	if _, err := s.appState.ChatStore.UpdateSession(ctx, &models.UpdateSessionRequest{
		SessionID: sessionID,
		Mode:      newMode,
	}, false); err != nil {
		return "", err
	}
	return newMode, nil
}

// SaveSessionSummary mirrors a summary to the care team's NocoDB table and
// stores it locally. The NocoDB write is synchronous so callers can surface
// its failure; the local store publishes a summary_sync task that re-upserts
// as a retry backstop.
func (s *Service) SaveSessionSummary(ctx context.Context, sessionID, content string) error {
	if content == "" {
		return models.NewBadRequestError("summary cannot be empty")
	}

	session, err := s.appState.ChatStore.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	record := &models.SummarySyncRecord{
		SessionID: sessionID,
		Summary:   content,
		Mode:      session.Mode,
		RiskFlag:  sessionRiskFlag(session),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.appState.SummarySink.UpsertSummary(ctx, record); err != nil {
		return err
	}

	tokenCount, err := s.appState.Assistant.GetTokenCount(content)
	if err != nil {
		log.Warnf("failed to count summary tokens for session %s: %v", sessionID, err)
	}
	summary := &models.Summary{Content: content, TokenCount: tokenCount}
	if err := s.appState.ChatStore.PutSummary(ctx, sessionID, summary); err != nil {
		log.Warnf("failed to store summary for session %s: %v", sessionID, err)
	}
	return nil
}

func snapshotFromArguments(args map[string]interface{}) *models.IntakeSnapshot {
	return &models.IntakeSnapshot{
		Symptoms: stringArgument(args, "symptoms"),
		Duration: stringArgument(args, "duration"),
		Severity: stringArgument(args, "severity"),
		Triggers: stringArgument(args, "triggers"),
		Meds:     stringArgument(args, "meds"),
	}
}

func stringArgument(args map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok {
			return v
		}
	}
	return ""
}
