package chat

import (
	"context"
	"errors"
	"time"

	"github.com/confide-ai/confide/config"
	"github.com/confide-ai/confide/internal"
	"github.com/confide-ai/confide/pkg/models"
)

var log = internal.GetLogger()

// Service orchestrates a chat turn: session resolution, moderation,
// assistant runs, persistence, and trimming.
type Service struct {
	appState *models.AppState
}

func NewService(appState *models.AppState) *Service {
	return &Service{appState: appState}
}

// ProcessMessage handles one turn posted by the frontend. The assistant to
// run is selected by the session's current mode. A message that trips the
// moderation check short-circuits to the escalation reply without reaching
// the assistant.
func (s *Service) ProcessMessage(
	ctx context.Context,
	req *models.ChatRequest,
) (*models.ChatResponse, error) {
	if req.Role != "" && req.Role != models.RoleUser {
		return nil, models.NewBadRequestError("only user messages may be posted")
	}

	session, created, err := s.getOrCreateSession(ctx, req)
	if err != nil {
		return nil, err
	}

	// escalation is terminal
	if session.Mode == models.ModeEscalation {
		return &models.ChatResponse{
			Reply:    s.config().Chat.EscalationReply,
			EndChat:  true,
			RiskFlag: sessionRiskFlag(session),
		}, nil
	}

	flag, err := s.appState.Moderator.Moderate(ctx, req.Message)
	if err != nil {
		// moderation outage must not take the chat down; the async risk
		// scanner re-checks the stored turn
		log.Warnf("moderation check failed for session %s: %v", req.SessionID, err)
	}
	if flag.Flagged() {
		return s.escalate(ctx, session, req.Message, flag)
	}

	threadID, err := s.ensureThread(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}

	if created && len(req.History) > 0 {
		s.storeHistory(ctx, session.SessionID, req.History)
	}

	if err := s.appState.Assistant.AddUserMessage(ctx, threadID, req.Message); err != nil {
		log.Errorf("failed to add message to thread %s: %v", threadID, err)
		return s.fallback(ctx, session, req.Message), nil
	}

	result, err := s.appState.Assistant.Run(ctx, threadID, s.runOptions(session.Mode))
	if err != nil {
		log.Errorf("assistant run failed for session %s: %v", session.SessionID, err)
		return s.fallback(ctx, session, req.Message), nil
	}

	resp := &models.ChatResponse{Reply: result.Reply}
	s.applyToolCalls(ctx, session, result, resp)

	s.persistTurn(ctx, session.SessionID, req.Message, resp.Reply)
	s.trim(ctx, session.SessionID, threadID)

	return resp, nil
}

func (s *Service) config() *config.Config {
	return s.appState.Config
}

func (s *Service) getOrCreateSession(
	ctx context.Context,
	req *models.ChatRequest,
) (*models.Session, bool, error) {
	session, err := s.appState.ChatStore.GetSession(ctx, req.SessionID)
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	session, err = s.appState.ChatStore.CreateSession(ctx, &models.CreateSessionRequest{
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// ensureThread returns the session's assistant thread, creating a fresh one
// if none is mapped or the mapping has been idle past the configured TTL.
// Reusing a thread refreshes its updated_at so an active conversation never
// goes stale mid-flight.
func (s *Service) ensureThread(ctx context.Context, sessionID string) (string, error) {
	ttl := time.Duration(s.config().Memory.ThreadTTL) * time.Second

	thread, err := s.appState.ChatStore.GetThread(ctx, sessionID)
	switch {
	case err == nil && !thread.Stale(ttl, time.Now()):
		if err := s.appState.ChatStore.SetThread(ctx, sessionID, thread.ThreadID); err != nil {
			log.Warnf("failed to refresh thread mapping for session %s: %v", sessionID, err)
		}
		return thread.ThreadID, nil
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return "", err
	}

	threadID, err := s.appState.Assistant.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	if err := s.appState.ChatStore.SetThread(ctx, sessionID, threadID); err != nil {
		return "", err
	}
	return threadID, nil
}

func (s *Service) runOptions(mode models.ChatMode) models.AssistantRunOptions {
	cfg := s.config().OpenAI
	if mode == models.ModeAdvice {
		return models.AssistantRunOptions{
			AssistantID:         cfg.AdviceAssistantID,
			Temperature:         cfg.Advice.Temperature,
			MaxCompletionTokens: cfg.Advice.MaxCompletionTokens,
		}
	}
	return models.AssistantRunOptions{
		AssistantID:         cfg.IntakeAssistantID,
		Temperature:         cfg.Intake.Temperature,
		MaxCompletionTokens: cfg.Intake.MaxCompletionTokens,
	}
}

// escalate flags the session, switches it to escalation mode, and returns
// the configured escalation reply.
func (s *Service) escalate(
	ctx context.Context,
	session *models.Session,
	userMessage string,
	flag models.RiskFlag,
) (*models.ChatResponse, error) {
	if _, err := s.appState.ChatStore.UpdateSession(ctx, &models.UpdateSessionRequest{
		SessionID: session.SessionID,
		Mode:      models.ModeEscalation,
		Metadata: map[string]interface{}{
			"system": map[string]interface{}{"risk": string(flag)},
		},
	}, true); err != nil {
		return nil, err
	}

	reply := s.config().Chat.EscalationReply
	s.persistTurn(ctx, session.SessionID, userMessage, reply)

	return &models.ChatResponse{
		Reply:    reply,
		EndChat:  true,
		RiskFlag: flag,
	}, nil
}

// fallback is returned when the assistant cannot be reached. The turn is
// still persisted so the conversation record stays paired.
func (s *Service) fallback(
	ctx context.Context,
	session *models.Session,
	userMessage string,
) *models.ChatResponse {
	reply := s.config().Chat.FallbackReply
	s.persistTurn(ctx, session.SessionID, userMessage, reply)
	return &models.ChatResponse{Reply: reply}
}

func (s *Service) persistTurn(ctx context.Context, sessionID, userMessage, reply string) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: userMessage},
		{Role: models.RoleAssistant, Content: reply},
	}
	stored, err := s.appState.ChatStore.PutMessages(ctx, sessionID, messages)
	if err != nil {
		log.Errorf("failed to persist turn for session %s: %v", sessionID, err)
		return
	}
	s.publishMessageTasks(sessionID, stored)
}

func (s *Service) publishMessageTasks(sessionID string, messages []models.Message) {
	tasks := make([]models.MessageTask, len(messages))
	for i, m := range messages {
		tasks[i] = models.MessageTask{UUID: m.UUID}
	}
	err := s.appState.TaskPublisher.PublishMessage(
		map[string]string{"session_id": sessionID},
		tasks,
	)
	if err != nil {
		log.Errorf("failed to publish message tasks for session %s: %v", sessionID, err)
	}
}

func (s *Service) storeHistory(ctx context.Context, sessionID string, history []models.Message) {
	messages := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		messages = append(messages, models.Message{Role: m.Role, Content: m.Content})
	}
	if len(messages) == 0 {
		return
	}
	if _, err := s.appState.ChatStore.PutMessages(ctx, sessionID, messages); err != nil {
		log.Warnf("failed to store chat history for session %s: %v", sessionID, err)
	}
}

func (s *Service) trim(ctx context.Context, sessionID, threadID string) {
	window := s.config().Memory.MessageWindow
	if window <= 0 {
		return
	}
	if _, err := s.appState.Assistant.TrimThread(ctx, threadID, window); err != nil {
		log.Warnf("failed to trim thread %s: %v", threadID, err)
	}
	if _, err := s.appState.ChatStore.TrimMessages(ctx, sessionID, window); err != nil {
		log.Warnf("failed to trim messages for session %s: %v", sessionID, err)
	}
}

// sessionRiskFlag reads the risk flag a privileged writer stored under the
// session's system metadata key.
func sessionRiskFlag(session *models.Session) models.RiskFlag {
	system, ok := session.Metadata["system"].(map[string]interface{})
	if !ok {
		return models.RiskFlagNone
	}
	flag, _ := system["risk"].(string)
	return models.RiskFlag(flag)
}
