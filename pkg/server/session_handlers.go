package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/confide-ai/confide/pkg/models"
)

const OKResponse = "OK"

const (
	defaultMessagePageSize = 100
	defaultSearchLimit     = 10
)

// GetSessionHandler returns a session by ID.
func GetSessionHandler(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")

		session, err := appState.ChatStore.GetSession(r.Context(), sessionID)
		if err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := encodeJSON(w, session); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// PostSessionHandler creates a session, or undeletes and updates an existing
// one with the same ID.
func PostSessionHandler(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")

		var request models.CreateSessionRequest
		if err := decodeAndValidateJSON(r, &request); err != nil {
			renderError(w, err, http.StatusBadRequest)
			return
		}
		// If a session ID is provided in the body it must match the URL
		if request.SessionID != "" && request.SessionID != sessionID {
			renderError(
				w,
				fmt.Errorf("session ID mismatch: %s != %s", request.SessionID, sessionID),
				http.StatusBadRequest,
			)
			return
		}
		request.SessionID = sessionID

		session, err := appState.ChatStore.CreateSession(r.Context(), &request)
		if err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := encodeJSON(w, session); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// DeleteSessionHandler soft deletes a session and all its records.
func DeleteSessionHandler(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")

		if err := appState.ChatStore.DeleteSession(r.Context(), sessionID); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(OKResponse))
	}
}

// GetMessageListHandler returns a session's messages, paginated by the
// page_number and page_size query params.
func GetMessageListHandler(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")

		pageNumber, err := extractQueryStringValueToInt(r, "page_number")
		if err != nil {
			renderError(w, err, http.StatusBadRequest)
			return
		}
		pageSize, err := extractQueryStringValueToInt(r, "page_size")
		if err != nil {
			renderError(w, err, http.StatusBadRequest)
			return
		}
		if pageNumber <= 0 {
			pageNumber = 1
		}
		if pageSize <= 0 {
			pageSize = defaultMessagePageSize
		}

		messages, err := appState.ChatStore.GetMessageList(r.Context(), sessionID, pageNumber, pageSize)
		if err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := encodeJSON(w, messages); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// GetSummaryHandler returns the most recent summary for a session.
func GetSummaryHandler(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")

		summary, err := appState.ChatStore.GetSummary(r.Context(), sessionID)
		if err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
		if summary == nil || summary.UUID == uuid.Nil {
			renderError(w, models.NewNotFoundError("summary for session "+sessionID), http.StatusNotFound)
			return
		}

		if err := encodeJSON(w, summary); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

// SearchMessagesHandler embeds the query text and returns the session's
// nearest stored messages.
func SearchMessagesHandler(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")

		var payload models.SearchPayload
		if err := decodeAndValidateJSON(r, &payload); err != nil {
			renderError(w, err, http.StatusBadRequest)
			return
		}
		limit := payload.Limit
		if limit <= 0 {
			limit = defaultSearchLimit
		}

		embeddings, err := appState.Assistant.EmbedTexts(r.Context(), []string{payload.Text})
		if err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}

		results, err := appState.ChatStore.SearchMessages(r.Context(), sessionID, embeddings[0], limit)
		if err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := encodeJSON(w, results); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}
