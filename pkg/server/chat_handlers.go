package server

import (
	"net/http"

	"github.com/confide-ai/confide/pkg/chat"
	"github.com/confide-ai/confide/pkg/models"
)

// PostChatHandler handles one chat turn posted by the Typebot frontend.
func PostChatHandler(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var chatRequest models.ChatRequest
		if err := decodeAndValidateJSON(r, &chatRequest); err != nil {
			renderError(w, err, http.StatusBadRequest)
			return
		}

		resp, err := svc.ProcessMessage(r.Context(), &chatRequest)
		if err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := encodeJSON(w, resp); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}
