package nocodb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confide-ai/confide/pkg/models"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	baseURL, err := url.Parse(serverURL)
	require.NoError(t, err)
	return &Client{
		httpClient:     http.DefaultClient,
		baseURL:        baseURL,
		apiKey:         "test-token",
		summariesTable: "/api/v2/tables/summaries/records",
	}
}

func TestClient_UpsertSummary_Create(t *testing.T) {
	var gotToken string
	var gotMethod string
	var gotRecord models.SummarySyncRecord

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotToken = r.Header.Get("xc-token")
			gotMethod = r.Method
			err := json.NewDecoder(r.Body).Decode(&gotRecord)
			require.NoError(t, err)
			w.WriteHeader(http.StatusOK)
		}),
	)
	defer server.Close()

	client := newTestClient(t, server.URL)

	record := &models.SummarySyncRecord{
		SessionID: "session-123",
		Summary:   "the user reported mild anxiety",
		Mode:      models.ModeIntake,
	}
	err := client.UpsertSummary(context.Background(), record)
	assert.NoError(t, err)
	assert.Equal(t, "test-token", gotToken)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, record.SessionID, gotRecord.SessionID)
	assert.Equal(t, record.Summary, gotRecord.Summary)
}

func TestClient_UpsertSummary_PatchOnConflict(t *testing.T) {
	var methods []string
	var patchPath string

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			methods = append(methods, r.Method)
			switch r.Method {
			case http.MethodPost:
				w.WriteHeader(http.StatusConflict)
			case http.MethodPatch:
				patchPath = r.URL.Path
				w.WriteHeader(http.StatusOK)
			}
		}),
	)
	defer server.Close()

	client := newTestClient(t, server.URL)

	err := client.UpsertSummary(context.Background(), &models.SummarySyncRecord{
		SessionID: "session-456",
		Summary:   "summary text",
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{http.MethodPost, http.MethodPatch}, methods)
	assert.Equal(t, "/api/v2/tables/summaries/records/session-456", patchPath)
}

func TestClient_UpsertSummary_ServerError(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}),
	)
	defer server.Close()

	client := newTestClient(t, server.URL)

	err := client.UpsertSummary(context.Background(), &models.SummarySyncRecord{
		SessionID: "session-789",
		Summary:   "summary text",
	})
	assert.Error(t, err)
}

func TestClient_UpsertSummary_Validation(t *testing.T) {
	client := newTestClient(t, "http://localhost:1")

	err := client.UpsertSummary(context.Background(), nil)
	assert.Error(t, err)

	err = client.UpsertSummary(context.Background(), &models.SummarySyncRecord{})
	assert.Error(t, err)
}
