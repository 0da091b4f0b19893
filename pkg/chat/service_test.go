package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confide-ai/confide/config"
	"github.com/confide-ai/confide/pkg/models"
)

const (
	testEscalationReply = "Por favor comunícate con la línea de ayuda."
	testFallbackReply   = "Lo siento, hubo un problema. Intenta de nuevo."
)

type stubStore struct {
	models.ChatStore
	sessions  map[string]*models.Session
	messages  map[string][]models.Message
	summaries map[string]*models.Summary
	threads   map[string]*models.AssistantThread
	trims     int
}

func newStubStore() *stubStore {
	return &stubStore{
		sessions:  map[string]*models.Session{},
		messages:  map[string][]models.Message{},
		summaries: map[string]*models.Summary{},
		threads:   map[string]*models.AssistantThread{},
	}
}

func (s *stubStore) CreateSession(
	_ context.Context,
	req *models.CreateSessionRequest,
) (*models.Session, error) {
	mode := req.Mode
	if !mode.Valid() {
		mode = models.DefaultChatMode
	}
	session := &models.Session{
		UUID:      uuid.New(),
		SessionID: req.SessionID,
		Mode:      mode,
		Metadata:  req.Metadata,
	}
	s.sessions[req.SessionID] = session
	return session, nil
}

func (s *stubStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, models.NewNotFoundError("session " + sessionID)
	}
	return session, nil
}

func (s *stubStore) UpdateSession(
	_ context.Context,
	req *models.UpdateSessionRequest,
	_ bool,
) (*models.Session, error) {
	session, ok := s.sessions[req.SessionID]
	if !ok {
		return nil, models.NewNotFoundError("session " + req.SessionID)
	}
	if req.Mode != "" {
		session.Mode = req.Mode
	}
	if req.Metadata != nil {
		if session.Metadata == nil {
			session.Metadata = map[string]interface{}{}
		}
		for k, v := range req.Metadata {
			session.Metadata[k] = v
		}
	}
	return session, nil
}

func (s *stubStore) PutMessages(
	_ context.Context,
	sessionID string,
	messages []models.Message,
) ([]models.Message, error) {
	for i := range messages {
		messages[i].UUID = uuid.New()
	}
	s.messages[sessionID] = append(s.messages[sessionID], messages...)
	return messages, nil
}

func (s *stubStore) TrimMessages(_ context.Context, _ string, _ int) (int, error) {
	s.trims++
	return 0, nil
}

func (s *stubStore) PutSummary(
	_ context.Context,
	sessionID string,
	summary *models.Summary,
) error {
	s.summaries[sessionID] = summary
	return nil
}

func (s *stubStore) GetThread(
	_ context.Context,
	sessionID string,
) (*models.AssistantThread, error) {
	thread, ok := s.threads[sessionID]
	if !ok {
		return nil, models.NewNotFoundError("thread for session " + sessionID)
	}
	return thread, nil
}

func (s *stubStore) SetThread(_ context.Context, sessionID, threadID string) error {
	s.threads[sessionID] = &models.AssistantThread{
		SessionID: sessionID,
		ThreadID:  threadID,
		UpdatedAt: time.Now(),
	}
	return nil
}

type stubAssistant struct {
	models.AssistantClient
	runResult      *models.AssistantRunResult
	runErr         error
	createdThreads int
	added          []string
	runOpts        models.AssistantRunOptions
	runs           int
	threadTrims    int
}

func (a *stubAssistant) CreateThread(_ context.Context) (string, error) {
	a.createdThreads++
	return fmt.Sprintf("thread-%d", a.createdThreads), nil
}

func (a *stubAssistant) AddUserMessage(_ context.Context, _, content string) error {
	a.added = append(a.added, content)
	return nil
}

func (a *stubAssistant) Run(
	_ context.Context,
	_ string,
	opts models.AssistantRunOptions,
) (*models.AssistantRunResult, error) {
	a.runs++
	a.runOpts = opts
	if a.runErr != nil {
		return nil, a.runErr
	}
	if a.runResult != nil {
		return a.runResult, nil
	}
	return &models.AssistantRunResult{Reply: "hola"}, nil
}

func (a *stubAssistant) TrimThread(_ context.Context, _ string, _ int) (int, error) {
	a.threadTrims++
	return 0, nil
}

func (a *stubAssistant) GetTokenCount(text string) (int, error) {
	return len(text), nil
}

type stubModerator struct {
	flag models.RiskFlag
	err  error
}

func (m *stubModerator) Moderate(_ context.Context, _ string) (models.RiskFlag, error) {
	return m.flag, m.err
}

type stubSink struct {
	records []*models.SummarySyncRecord
	err     error
}

func (s *stubSink) UpsertSummary(_ context.Context, record *models.SummarySyncRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

type nullPublisher struct{}

func (*nullPublisher) Publish(_ models.TaskTopic, _ map[string]string, _ any) error {
	return nil
}

func (*nullPublisher) PublishMessage(_ map[string]string, _ []models.MessageTask) error {
	return nil
}

func (*nullPublisher) Close() error { return nil }

type testHarness struct {
	service   *Service
	store     *stubStore
	assistant *stubAssistant
	moderator *stubModerator
	sink      *stubSink
}

func newTestHarness() *testHarness {
	store := newStubStore()
	assistant := &stubAssistant{}
	moderator := &stubModerator{}
	sink := &stubSink{}

	cfg := &config.Config{}
	cfg.Chat.EscalationReply = testEscalationReply
	cfg.Chat.FallbackReply = testFallbackReply
	cfg.Memory.MessageWindow = 12
	cfg.Memory.ThreadTTL = 86400
	cfg.OpenAI.IntakeAssistantID = "asst_intake"
	cfg.OpenAI.AdviceAssistantID = "asst_advice"
	cfg.OpenAI.Advice.Temperature = 0.7

	appState := &models.AppState{
		ChatStore:     store,
		Assistant:     assistant,
		Moderator:     moderator,
		SummarySink:   sink,
		TaskPublisher: &nullPublisher{},
		Config:        cfg,
	}

	return &testHarness{
		service:   NewService(appState),
		store:     store,
		assistant: assistant,
		moderator: moderator,
		sink:      sink,
	}
}

func TestProcessMessage(t *testing.T) {
	h := newTestHarness()

	resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Message:   "me siento triste",
	})
	require.NoError(t, err)

	assert.Equal(t, "hola", resp.Reply)
	assert.False(t, resp.EndChat)

	// session was created in the default mode and run against the intake
	// assistant
	session, err := h.store.GetSession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultChatMode, session.Mode)
	assert.Equal(t, "asst_intake", h.assistant.runOpts.AssistantID)

	// thread was created and mapped
	assert.Equal(t, 1, h.assistant.createdThreads)
	thread, err := h.store.GetThread(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", thread.ThreadID)

	// the turn was persisted as a user/assistant pair and trimmed
	messages := h.store.messages["session-1"]
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.Equal(t, 1, h.store.trims)
	assert.Equal(t, 1, h.assistant.threadTrims)
}

func TestProcessMessage_AdviceModeUsesAdviceAssistant(t *testing.T) {
	h := newTestHarness()
	_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
		SessionID: "session-1",
		Mode:      models.ModeAdvice,
	})
	require.NoError(t, err)

	_, err = h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Message:   "¿qué puedo hacer?",
	})
	require.NoError(t, err)

	assert.Equal(t, "asst_advice", h.assistant.runOpts.AssistantID)
	assert.Equal(t, float32(0.7), h.assistant.runOpts.Temperature)
}

func TestProcessMessage_ModerationEscalates(t *testing.T) {
	h := newTestHarness()
	h.moderator.flag = models.RiskFlagSelfHarm

	resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Message:   "quiero hacerme daño",
	})
	require.NoError(t, err)

	assert.Equal(t, testEscalationReply, resp.Reply)
	assert.True(t, resp.EndChat)
	assert.Equal(t, models.RiskFlagSelfHarm, resp.RiskFlag)

	// the assistant was never reached
	assert.Equal(t, 0, h.assistant.runs)

	session, err := h.store.GetSession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, models.ModeEscalation, session.Mode)
	assert.Equal(t, models.RiskFlagSelfHarm, sessionRiskFlag(session))
}

func TestProcessMessage_EscalatedSessionIsTerminal(t *testing.T) {
	h := newTestHarness()
	_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
		SessionID: "session-1",
		Mode:      models.ModeEscalation,
		Metadata: map[string]interface{}{
			"system": map[string]interface{}{"risk": "violence"},
		},
	})
	require.NoError(t, err)

	resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Message:   "hola?",
	})
	require.NoError(t, err)

	assert.Equal(t, testEscalationReply, resp.Reply)
	assert.True(t, resp.EndChat)
	assert.Equal(t, models.RiskFlagViolence, resp.RiskFlag)
	assert.Equal(t, 0, h.assistant.runs)
}

func TestProcessMessage_ModerationErrorDoesNotBlockChat(t *testing.T) {
	h := newTestHarness()
	h.moderator.err = errors.New("moderation api down")

	resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Message:   "hola",
	})
	require.NoError(t, err)

	assert.Equal(t, "hola", resp.Reply)
	assert.Equal(t, 1, h.assistant.runs)
}

func TestProcessMessage_AssistantFailureFallsBack(t *testing.T) {
	h := newTestHarness()
	h.assistant.runErr = errors.New("run timed out")

	resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Message:   "hola",
	})
	require.NoError(t, err)

	assert.Equal(t, testFallbackReply, resp.Reply)
	assert.False(t, resp.EndChat)

	// the turn is still persisted as a pair
	messages := h.store.messages["session-1"]
	require.Len(t, messages, 2)
	assert.Equal(t, testFallbackReply, messages[1].Content)
}

func TestProcessMessage_RejectsNonUserRole(t *testing.T) {
	h := newTestHarness()

	_, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Role:      models.RoleAssistant,
		Message:   "hola",
	})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestProcessMessage_StaleThreadIsReplaced(t *testing.T) {
	h := newTestHarness()
	_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
		SessionID: "session-1",
	})
	require.NoError(t, err)
	h.store.threads["session-1"] = &models.AssistantThread{
		SessionID: "session-1",
		ThreadID:  "thread-old",
		UpdatedAt: time.Now().Add(-48 * time.Hour),
	}

	_, err = h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Message:   "hola de nuevo",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.assistant.createdThreads)
	thread, err := h.store.GetThread(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", thread.ThreadID)
}

func TestProcessMessage_FreshThreadIsReused(t *testing.T) {
	h := newTestHarness()
	_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
		SessionID: "session-1",
	})
	require.NoError(t, err)
	h.store.threads["session-1"] = &models.AssistantThread{
		SessionID: "session-1",
		ThreadID:  "thread-live",
		UpdatedAt: time.Now().Add(-time.Minute),
	}

	_, err = h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Message:   "sigo aquí",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, h.assistant.createdThreads)
	thread, err := h.store.GetThread(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "thread-live", thread.ThreadID)
}

func TestProcessMessage_HistorySeedsNewSession(t *testing.T) {
	h := newTestHarness()

	_, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
		SessionID: "session-1",
		Message:   "y ahora qué",
		History: []models.Message{
			{Role: models.RoleUser, Content: "hola"},
			{Role: models.RoleAssistant, Content: "hola, cuéntame"},
			{Role: "system", Content: "ignored"},
		},
	})
	require.NoError(t, err)

	// two history messages plus the current turn
	messages := h.store.messages["session-1"]
	require.Len(t, messages, 4)
	assert.Equal(t, "hola", messages[0].Content)
	assert.Equal(t, "hola, cuéntame", messages[1].Content)
}
