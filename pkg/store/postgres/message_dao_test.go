package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confide-ai/confide/pkg/models"
)

func TestMessageDAO_CreateMany(t *testing.T) {
	sessionID := createSession(t)

	dao, err := NewMessageDAO(testDB, sessionID)
	require.NoError(t, err)

	messages := []models.Message{
		{
			Role:     models.RoleUser,
			Content:  "Hello",
			Metadata: map[string]interface{}{"timestamp": "1629462540"},
		},
		{
			Role:    models.RoleAssistant,
			Content: "Hi there!",
		},
	}

	resultMessages, err := dao.CreateMany(testCtx, messages)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(resultMessages))
	for i, msg := range resultMessages {
		assert.NotEmpty(t, msg.UUID)
		assert.False(t, msg.CreatedAt.IsZero())
		assert.Equal(t, messages[i].Role, msg.Role)
		assert.Equal(t, messages[i].Content, msg.Content)
	}
}

func TestMessageDAO_GetLastN(t *testing.T) {
	sessionID := createSession(t)

	dao, err := NewMessageDAO(testDB, sessionID)
	require.NoError(t, err)

	messages := make([]models.Message, 0, 6)
	for i := 0; i < 3; i++ {
		messages = append(messages,
			models.Message{Role: models.RoleUser, Content: "question"},
			models.Message{Role: models.RoleAssistant, Content: "answer"},
		)
	}
	resultMessages, err := dao.CreateMany(testCtx, messages)
	require.NoError(t, err)

	tests := []struct {
		name       string
		lastN      int
		beforeUUID uuid.UUID
		want       int
		wantFirst  uuid.UUID
	}{
		{
			name:      "last two messages",
			lastN:     2,
			want:      2,
			wantFirst: resultMessages[4].UUID,
		},
		{
			name:       "last two before an anchor",
			lastN:      2,
			beforeUUID: resultMessages[3].UUID,
			want:       2,
			wantFirst:  resultMessages[2].UUID,
		},
		{
			name:  "more than available",
			lastN: 100,
			want:  6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := dao.GetLastN(testCtx, tt.lastN, tt.beforeUUID)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, len(result))
			if tt.wantFirst != uuid.Nil {
				assert.Equal(t, tt.wantFirst, result[0].UUID)
			}
		})
	}
}

func TestMessageDAO_GetListBySession(t *testing.T) {
	sessionID := createSession(t)

	dao, err := NewMessageDAO(testDB, sessionID)
	require.NoError(t, err)

	messages := make([]models.Message, 0, 10)
	for i := 0; i < 5; i++ {
		messages = append(messages,
			models.Message{Role: models.RoleUser, Content: "question"},
			models.Message{Role: models.RoleAssistant, Content: "answer"},
		)
	}
	_, err = dao.CreateMany(testCtx, messages)
	require.NoError(t, err)

	tests := []struct {
		name       string
		page       int
		pageSize   int
		wantRows   int
		wantErr    bool
		totalCount int
	}{
		{
			name:       "first page",
			page:       1,
			pageSize:   4,
			wantRows:   4,
			totalCount: 10,
		},
		{
			name:       "last partial page",
			page:       3,
			pageSize:   4,
			wantRows:   2,
			totalCount: 10,
		},
		{
			name:     "invalid page size",
			page:     1,
			pageSize: 0,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := dao.GetListBySession(testCtx, tt.page, tt.pageSize)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantRows, result.RowCount)
			assert.Equal(t, tt.totalCount, result.TotalCount)
		})
	}
}

func TestMessageDAO_UpdateMany(t *testing.T) {
	sessionID := createSession(t)

	dao, err := NewMessageDAO(testDB, sessionID)
	require.NoError(t, err)

	messages := []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there!"},
	}
	resultMessages, err := dao.CreateMany(testCtx, messages)
	require.NoError(t, err)

	// Update token counts for the inserted messages
	for i := range resultMessages {
		resultMessages[i].TokenCount = i + 1
	}
	err = dao.UpdateMany(testCtx, resultMessages, true)
	assert.NoError(t, err)

	updated, err := dao.GetListByUUID(
		testCtx,
		[]uuid.UUID{resultMessages[0].UUID, resultMessages[1].UUID},
	)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(updated))
	for _, msg := range updated {
		assert.NotZero(t, msg.TokenCount)
	}
}

func TestMessageDAO_UpdateManyNilUUID(t *testing.T) {
	sessionID := createSession(t)

	dao, err := NewMessageDAO(testDB, sessionID)
	require.NoError(t, err)

	err = dao.UpdateMany(testCtx, []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, false)
	assert.Error(t, err)
}

func TestMessageDAO_GetSinceLastSummary(t *testing.T) {
	sessionID := createSession(t)

	dao, err := NewMessageDAO(testDB, sessionID)
	require.NoError(t, err)

	messages := make([]models.Message, 0, 8)
	for i := 0; i < 4; i++ {
		messages = append(messages,
			models.Message{Role: models.RoleUser, Content: "question"},
			models.Message{Role: models.RoleAssistant, Content: "answer"},
		)
	}
	resultMessages, err := dao.CreateMany(testCtx, messages)
	require.NoError(t, err)

	t.Run("no summary returns all messages in window", func(t *testing.T) {
		result, err := dao.GetSinceLastSummary(testCtx, nil, 25)
		assert.NoError(t, err)
		assert.Equal(t, 8, len(result))
	})

	t.Run("messages after the summary point", func(t *testing.T) {
		summary := &models.Summary{
			SummaryPointUUID: resultMessages[3].UUID,
		}
		result, err := dao.GetSinceLastSummary(testCtx, summary, 25)
		assert.NoError(t, err)
		assert.Equal(t, 4, len(result))
		assert.Equal(t, resultMessages[4].UUID, result[0].UUID)
	})

	t.Run("window caps the result", func(t *testing.T) {
		result, err := dao.GetSinceLastSummary(testCtx, nil, 3)
		assert.NoError(t, err)
		assert.Equal(t, 3, len(result))
	})
}

func TestMessageDAO_Embeddings(t *testing.T) {
	if !appState.Config.OpenAI.Embeddings.Enabled {
		t.Skip("embeddings are disabled in the test config")
	}

	sessionID := createSession(t)

	dao, err := NewMessageDAO(testDB, sessionID)
	require.NoError(t, err)

	messages := []models.Message{
		{Role: models.RoleUser, Content: "I have been feeling anxious lately"},
		{Role: models.RoleAssistant, Content: "Thank you for sharing that with me"},
	}
	resultMessages, err := dao.CreateMany(testCtx, messages)
	require.NoError(t, err)

	dimensions := appState.Config.OpenAI.Embeddings.Dimensions
	embeddings := make([]models.TextData, len(resultMessages))
	for i, msg := range resultMessages {
		vector := make([]float32, dimensions)
		vector[i] = 1
		embeddings[i] = models.TextData{
			TextUUID:  msg.UUID,
			Text:      msg.Content,
			Embedding: vector,
		}
	}

	err = dao.CreateEmbeddings(testCtx, embeddings)
	assert.NoError(t, err)

	query := make([]float32, dimensions)
	query[0] = 1
	results, err := dao.Search(testCtx, query, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(results))
	// nearest neighbor first
	assert.Equal(t, resultMessages[0].UUID, results[0].Message.UUID)
}
