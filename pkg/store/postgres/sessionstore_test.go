package postgres

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/confide-ai/confide/pkg/models"
	"github.com/confide-ai/confide/pkg/testutils"
)

func TestSessionDAO_Create(t *testing.T) {
	dao := NewSessionDAO(testDB)

	sessionID, err := testutils.GenerateRandomSessionID(16)
	assert.NoError(t, err, "GenerateRandomSessionID should not return an error")

	tests := []struct {
		name     string
		session  *models.CreateSessionRequest
		wantErr  bool
		wantMode models.ChatMode
	}{
		{
			name: "Valid session",
			session: &models.CreateSessionRequest{
				SessionID: sessionID,
				Metadata: map[string]interface{}{
					"key": "value",
				}},
			wantErr:  false,
			wantMode: models.ModeIntake,
		},
		{
			name: "Session with explicit mode",
			session: &models.CreateSessionRequest{
				SessionID: sessionID + "-advice",
				Mode:      models.ModeAdvice,
			},
			wantErr:  false,
			wantMode: models.ModeAdvice,
		},
		{
			name: "Empty session ID",
			session: &models.CreateSessionRequest{
				SessionID: "",
				Metadata: map[string]interface{}{
					"key": "value",
				}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := dao.Create(testCtx, tt.session)

			if tt.wantErr {
				assert.Error(t, err)
				assert.ErrorIs(t, err, models.ErrBadRequest)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, result)
				assert.NotEmpty(t, result.UUID)
				assert.False(t, result.CreatedAt.IsZero())
				assert.Equal(t, tt.session.SessionID, result.SessionID)
				assert.Equal(t, tt.wantMode, result.Mode)
			}
		})
	}
}

func TestSessionDAO_Get(t *testing.T) {
	dao := NewSessionDAO(testDB)

	sessionID, err := testutils.GenerateRandomSessionID(16)
	assert.NoError(t, err, "GenerateRandomSessionID should not return an error")

	session := &models.CreateSessionRequest{
		SessionID: sessionID,
		Metadata: map[string]interface{}{
			"key": "value",
		},
	}
	_, err = dao.Create(testCtx, session)
	assert.NoError(t, err)

	tests := []struct {
		name          string
		sessionID     string
		expectedFound bool
	}{
		{
			name:          "Existing session",
			sessionID:     sessionID,
			expectedFound: true,
		},
		{
			name:          "Non-existent session",
			sessionID:     "nonexistent",
			expectedFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := dao.Get(testCtx, tt.sessionID)

			if tt.expectedFound {
				assert.NoError(t, err)
				assert.NotNil(t, result)
				assert.NotEmpty(t, result.UUID)
				assert.False(t, result.CreatedAt.IsZero())
				assert.Equal(t, tt.sessionID, result.SessionID)
			} else {
				assert.ErrorIs(t, err, models.ErrNotFound)
				assert.Nil(t, result)
			}
		})
	}
}

func TestSessionDAO_UpdateMode(t *testing.T) {
	dao := NewSessionDAO(testDB)

	sessionID, err := testutils.GenerateRandomSessionID(16)
	assert.NoError(t, err)

	_, err = dao.Create(testCtx, &models.CreateSessionRequest{
		SessionID: sessionID,
	})
	assert.NoError(t, err)

	tests := []struct {
		name     string
		mode     models.ChatMode
		wantErr  bool
		wantMode models.ChatMode
	}{
		{
			name:     "switch to advice",
			mode:     models.ModeAdvice,
			wantMode: models.ModeAdvice,
		},
		{
			name:     "switch to escalation",
			mode:     models.ModeEscalation,
			wantMode: models.ModeEscalation,
		},
		{
			name:    "invalid mode is rejected",
			mode:    "bogus",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := dao.Update(testCtx, &models.UpdateSessionRequest{
				SessionID: sessionID,
				Mode:      tt.mode,
			}, false)

			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrBadRequest)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantMode, result.Mode)
		})
	}
}

func TestSessionDAO_UpdateMergesMetadata(t *testing.T) {
	dao := NewSessionDAO(testDB)

	sessionID, err := testutils.GenerateRandomSessionID(16)
	assert.NoError(t, err)

	_, err = dao.Create(testCtx, &models.CreateSessionRequest{
		SessionID: sessionID,
		Metadata: map[string]interface{}{
			"A": 1,
			"B": map[string]interface{}{
				"C": 2,
			},
		},
	})
	assert.NoError(t, err)

	tests := []struct {
		name             string
		metadata         map[string]interface{}
		privileged       bool
		expectedMetadata map[string]interface{}
	}{
		{
			name: "Update metadata",
			metadata: map[string]interface{}{
				"A": 3, // Should override initial value of "A"
				"B": map[string]interface{}{
					"D": 4, // Should be added to map under "B"
				},
			},
			privileged: false,
			expectedMetadata: map[string]interface{}{
				"A": json.Number("3"),
				"B": map[string]interface{}{
					"C": json.Number("2"),
					"D": json.Number("4"),
				},
			},
		},
		{
			name: "Unprivileged update with system metadata",
			metadata: map[string]interface{}{
				"system": map[string]interface{}{
					"foo": "bar", // This should be ignored
				},
			},
			privileged: false,
			expectedMetadata: map[string]interface{}{
				"A": json.Number("3"),
				"B": map[string]interface{}{
					"C": json.Number("2"),
					"D": json.Number("4"),
				},
			},
		},
		{
			name: "Privileged update with system metadata",
			metadata: map[string]interface{}{
				"system": map[string]interface{}{
					"foo": "bar", // This should NOT be ignored
				},
			},
			privileged: true,
			expectedMetadata: map[string]interface{}{
				"A": json.Number("3"),
				"B": map[string]interface{}{
					"C": json.Number("2"),
					"D": json.Number("4"),
				},
				"system": map[string]interface{}{
					"foo": "bar",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := dao.Update(testCtx, &models.UpdateSessionRequest{
				SessionID: sessionID,
				Metadata:  tt.metadata,
			}, tt.privileged)
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedMetadata, result.Metadata)
		})
	}
}

func TestSessionDAO_Delete(t *testing.T) {
	dao := NewSessionDAO(testDB)

	sessionID, err := testutils.GenerateRandomSessionID(16)
	assert.NoError(t, err, "GenerateRandomSessionID should not return an error")

	session := &models.CreateSessionRequest{
		SessionID: sessionID,
	}
	_, err = dao.Create(testCtx, session)
	assert.NoError(t, err)

	tests := []struct {
		name          string
		sessionID     string
		expectedError error
	}{
		{
			name:          "Existing session",
			sessionID:     sessionID,
			expectedError: nil,
		},
		{
			name:          "Non-existent session",
			sessionID:     "nonexistent",
			expectedError: models.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dao.Delete(testCtx, tt.sessionID)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)

				// Verify the session is deleted
				_, err := dao.Get(testCtx, tt.sessionID)
				assert.ErrorIs(t, err, models.ErrNotFound)
			}
		})
	}
}

func TestSessionDAO_DeleteSessionDeletesRelatedRecords(t *testing.T) {
	dao := NewSessionDAO(testDB)

	sessionID := createSession(t)

	messages := []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there!"},
	}
	resultMessages, err := chatStore.PutMessages(testCtx, sessionID, messages)
	assert.NoError(t, err)

	err = chatStore.PutSummary(testCtx, sessionID, &models.Summary{
		Content:          "This is a summary",
		SummaryPointUUID: resultMessages[0].UUID,
	})
	assert.NoError(t, err)

	err = chatStore.SetThread(testCtx, sessionID, "thread_xyz")
	assert.NoError(t, err)

	err = dao.Delete(testCtx, sessionID)
	assert.NoError(t, err)

	// Test that session is deleted
	_, err = dao.Get(testCtx, sessionID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Test that messages are deleted
	memory, err := chatStore.GetMemory(testCtx, sessionID, 0)
	assert.NoError(t, err)
	assert.Empty(t, memory.Messages)

	// Test that summary is deleted
	summary, err := chatStore.GetSummary(testCtx, sessionID)
	assert.NoError(t, err)
	assert.Empty(t, summary.UUID)

	// Test that the thread mapping is deleted
	_, err = chatStore.GetThread(testCtx, sessionID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionDAO_UndeleteSession(t *testing.T) {
	dao := NewSessionDAO(testDB)

	sessionID := createSession(t)

	messages := []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there!"},
	}
	_, err := chatStore.PutMessages(testCtx, sessionID, messages)
	assert.NoError(t, err)

	err = dao.Delete(testCtx, sessionID)
	assert.NoError(t, err, "Delete should not return an error")

	_, err = dao.Create(testCtx, &models.CreateSessionRequest{
		SessionID: sessionID,
	})
	assert.NoError(t, err, "Create should not return an error")

	s, err := dao.Get(testCtx, sessionID)
	assert.NoError(t, err, "Get should not return an error")
	assert.NotNil(t, s, "Get should return a session")
	assert.Empty(t, s.DeletedAt, "session should not have a DeletedAt value")

	// Test that messages remain deleted
	memory, err := chatStore.GetMemory(testCtx, sessionID, 0)
	assert.NoError(t, err)
	assert.Empty(t, memory.Messages)
}

func TestSessionDAO_ListAll(t *testing.T) {
	CleanDB(t, testDB)
	err := CreateSchema(testCtx, appState, testDB)
	assert.NoError(t, err)

	dao := NewSessionDAO(testDB)

	// Create a few test sessions
	var lastID int64
	for i := 0; i < 5; i++ {
		sessionID, err := testutils.GenerateRandomSessionID(16)
		assert.NoError(t, err, "GenerateRandomSessionID should not return an error")

		session, err := dao.Create(testCtx, &models.CreateSessionRequest{
			SessionID: sessionID,
		})
		assert.NoError(t, err)
		if i == 2 {
			lastID = session.ID
		}
	}

	tests := []struct {
		name   string
		cursor int64
		limit  int
		want   int
	}{
		{
			name:   "Get all sessions",
			cursor: 0,
			limit:  10,
			want:   5,
		},
		{
			name:   "Get sessions after cursor",
			cursor: lastID,
			limit:  10,
			want:   2,
		},
		{
			name:   "Limit number of sessions",
			cursor: 0,
			limit:  3,
			want:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions, err := dao.ListAll(testCtx, tt.cursor, tt.limit)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, len(sessions))
		})
	}
}
