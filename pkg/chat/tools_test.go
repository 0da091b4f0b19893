package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confide-ai/confide/pkg/models"
)

func TestSwitchChatMode(t *testing.T) {
	tests := []struct {
		name      string
		from      models.ChatMode
		requested string
		want      models.ChatMode
		wantErr   bool
	}{
		{name: "intake to advice", from: models.ModeIntake, requested: "advice", want: models.ModeAdvice},
		{name: "advice back to intake", from: models.ModeAdvice, requested: "intake", want: models.ModeIntake},
		{name: "intake to escalation", from: models.ModeIntake, requested: "escalation", want: models.ModeEscalation},
		{name: "same mode is a no-op", from: models.ModeAdvice, requested: "advice", want: models.ModeAdvice},
		{name: "unknown mode falls back to default", from: models.ModeAdvice, requested: "bogus", want: models.ModeIntake},
		{name: "unknown mode on intake is a no-op", from: models.ModeIntake, requested: "bogus", want: models.ModeIntake},
		{name: "escalation is terminal", from: models.ModeEscalation, requested: "intake", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness()
			_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
				SessionID: "session-1",
				Mode:      tt.from,
			})
			require.NoError(t, err)

			got, err := h.service.SwitchChatMode(context.Background(), "session-1", tt.requested)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			session, err := h.store.GetSession(context.Background(), "session-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, session.Mode)
		})
	}
}

func TestSwitchChatMode_UnknownSession(t *testing.T) {
	h := newTestHarness()
	_, err := h.service.SwitchChatMode(context.Background(), "nope", "advice")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRiskEscalationCheck(t *testing.T) {
	t.Run("clean text leaves the session alone", func(t *testing.T) {
		h := newTestHarness()
		_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
			SessionID: "session-1",
		})
		require.NoError(t, err)

		flag, err := h.service.RiskEscalationCheck(context.Background(), "session-1", "hola")
		require.NoError(t, err)
		assert.Equal(t, models.RiskFlagNone, flag)

		session, err := h.store.GetSession(context.Background(), "session-1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeIntake, session.Mode)
	})

	t.Run("flagged text escalates the session", func(t *testing.T) {
		h := newTestHarness()
		h.moderator.flag = models.RiskFlagViolence
		_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
			SessionID: "session-1",
		})
		require.NoError(t, err)

		flag, err := h.service.RiskEscalationCheck(context.Background(), "session-1", "amenaza")
		require.NoError(t, err)
		assert.Equal(t, models.RiskFlagViolence, flag)

		session, err := h.store.GetSession(context.Background(), "session-1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeEscalation, session.Mode)
		assert.Equal(t, models.RiskFlagViolence, sessionRiskFlag(session))
	})

	t.Run("moderation errors are returned", func(t *testing.T) {
		h := newTestHarness()
		h.moderator.err = errors.New("api down")

		_, err := h.service.RiskEscalationCheck(context.Background(), "session-1", "hola")
		assert.Error(t, err)
	})
}

func TestSaveSessionSummary(t *testing.T) {
	t.Run("upserts to the sink and stores locally", func(t *testing.T) {
		h := newTestHarness()
		_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
			SessionID: "session-1",
			Mode:      models.ModeAdvice,
		})
		require.NoError(t, err)

		err = h.service.SaveSessionSummary(context.Background(), "session-1", "el usuario reporta ansiedad leve")
		require.NoError(t, err)

		require.Len(t, h.sink.records, 1)
		record := h.sink.records[0]
		assert.Equal(t, "session-1", record.SessionID)
		assert.Equal(t, "el usuario reporta ansiedad leve", record.Summary)
		assert.Equal(t, models.ModeAdvice, record.Mode)
		assert.NotEmpty(t, record.UpdatedAt)

		stored := h.store.summaries["session-1"]
		require.NotNil(t, stored)
		assert.Equal(t, "el usuario reporta ansiedad leve", stored.Content)
	})

	t.Run("sink failures are returned", func(t *testing.T) {
		h := newTestHarness()
		h.sink.err = errors.New("nocodb down")
		_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
			SessionID: "session-1",
		})
		require.NoError(t, err)

		err = h.service.SaveSessionSummary(context.Background(), "session-1", "resumen")
		assert.Error(t, err)
	})

	t.Run("empty summary is rejected", func(t *testing.T) {
		h := newTestHarness()
		err := h.service.SaveSessionSummary(context.Background(), "session-1", "")
		assert.ErrorIs(t, err, models.ErrBadRequest)
	})
}

func TestApplyToolCalls(t *testing.T) {
	t.Run("needs more data", func(t *testing.T) {
		h := newTestHarness()
		h.assistant.runResult = &models.AssistantRunResult{
			Reply: "cuéntame más",
			ToolCalls: []models.AssistantToolCall{
				{
					Name: ToolEvaluateIntakeProgress,
					Arguments: map[string]interface{}{
						"symptoms": "insomnio",
					},
				},
			},
		}

		resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
			SessionID: "session-1",
			Message:   "no duermo bien",
		})
		require.NoError(t, err)
		// Typebot flows branch on the literal value
		assert.Equal(t, "yes", resp.Need)
	})

	t.Run("enough data promotes intake to advice", func(t *testing.T) {
		h := newTestHarness()
		h.assistant.runResult = &models.AssistantRunResult{
			Reply: "gracias, pasemos a ver qué puedes hacer",
			ToolCalls: []models.AssistantToolCall{
				{
					Name: ToolEvaluateIntakeProgress,
					Arguments: map[string]interface{}{
						"symptoms": "insomnio",
						"duration": "dos semanas",
						"severity": "moderada",
					},
				},
			},
		}

		resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
			SessionID: "session-1",
			Message:   "es moderada, desde hace dos semanas",
		})
		require.NoError(t, err)
		assert.Empty(t, resp.Need)

		session, err := h.store.GetSession(context.Background(), "session-1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeAdvice, session.Mode)
	})

	t.Run("switch back to intake", func(t *testing.T) {
		h := newTestHarness()
		_, err := h.store.CreateSession(context.Background(), &models.CreateSessionRequest{
			SessionID: "session-1",
			Mode:      models.ModeAdvice,
		})
		require.NoError(t, err)
		h.assistant.runResult = &models.AssistantRunResult{
			Reply: "volvamos a revisar tus síntomas",
			ToolCalls: []models.AssistantToolCall{
				{
					Name:      ToolSwitchChatMode,
					Arguments: map[string]interface{}{"mode": "intake"},
				},
			},
		}

		resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
			SessionID: "session-1",
			Message:   "en realidad hay algo más",
		})
		require.NoError(t, err)
		assert.True(t, resp.BackToIntake)

		session, err := h.store.GetSession(context.Background(), "session-1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeIntake, session.Mode)
	})

	t.Run("risk check escalates mid-run", func(t *testing.T) {
		h := newTestHarness()
		h.assistant.runResult = &models.AssistantRunResult{
			Reply: "entiendo",
			ToolCalls: []models.AssistantToolCall{
				{
					Name:      ToolRiskEscalationCheck,
					Arguments: map[string]interface{}{"message": "quiero desaparecer"},
				},
			},
		}
		// the pre-run check passes, the tool call then flags the turn
		h.service.appState.Moderator = &sequenceModerator{
			flags: []models.RiskFlag{models.RiskFlagNone, models.RiskFlagSelfHarm},
		}

		resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
			SessionID: "session-1",
			Message:   "quiero desaparecer",
		})
		require.NoError(t, err)
		assert.True(t, resp.EndChat)
		assert.Equal(t, models.RiskFlagSelfHarm, resp.RiskFlag)
		assert.Equal(t, testEscalationReply, resp.Reply)

		session, err := h.store.GetSession(context.Background(), "session-1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeEscalation, session.Mode)
	})

	t.Run("save summary ends the chat", func(t *testing.T) {
		h := newTestHarness()
		h.assistant.runResult = &models.AssistantRunResult{
			Reply: "gracias por conversar conmigo",
			ToolCalls: []models.AssistantToolCall{
				{
					Name:      ToolSaveSessionSummary,
					Arguments: map[string]interface{}{"summary": "ansiedad leve, sin riesgo"},
				},
			},
		}

		resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
			SessionID: "session-1",
			Message:   "gracias, eso es todo",
		})
		require.NoError(t, err)
		assert.True(t, resp.EndChat)

		require.Len(t, h.sink.records, 1)
		assert.Equal(t, "ansiedad leve, sin riesgo", h.sink.records[0].Summary)
	})

	t.Run("unknown tool call is ignored", func(t *testing.T) {
		h := newTestHarness()
		h.assistant.runResult = &models.AssistantRunResult{
			Reply: "hola",
			ToolCalls: []models.AssistantToolCall{
				{Name: "mystery_tool"},
			},
		}

		resp, err := h.service.ProcessMessage(context.Background(), &models.ChatRequest{
			SessionID: "session-1",
			Message:   "hola",
		})
		require.NoError(t, err)
		assert.Equal(t, "hola", resp.Reply)
	})
}

// sequenceModerator returns its flags in order, repeating the last one.
type sequenceModerator struct {
	flags []models.RiskFlag
	calls int
}

func (m *sequenceModerator) Moderate(_ context.Context, _ string) (models.RiskFlag, error) {
	i := m.calls
	if i >= len(m.flags) {
		i = len(m.flags) - 1
	}
	m.calls++
	return m.flags[i], nil
}
