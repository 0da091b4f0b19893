package server

import (
	"errors"
	"net/http"

	"github.com/confide-ai/confide/pkg/chat"
	"github.com/confide-ai/confide/pkg/models"
)

// StatusOK is the status value tool responses carry on success.
const StatusOK = "ok"

type toolStatusResponse struct {
	Status string `json:"status"`
}

type EvaluateIntakeProgressRequest struct {
	SessionID string `json:"session_id"`
	models.IntakeSnapshot
}

type EvaluateIntakeProgressResponse struct {
	Status     string `json:"status"`
	Score      int    `json:"score"`
	EnoughData bool   `json:"enough_data"`
}

// EvaluateIntakeProgressHandler scores the intake snapshot the assistant
// has collected so far.
func EvaluateIntakeProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EvaluateIntakeProgressRequest
		if err := decodeAndValidateJSON(r, &req); err != nil {
			renderError(w, err, http.StatusBadRequest)
			return
		}

		evaluation := chat.EvaluateIntake(&req.IntakeSnapshot)
		resp := EvaluateIntakeProgressResponse{
			Status:     StatusOK,
			Score:      evaluation.Score,
			EnoughData: evaluation.EnoughData,
		}
		if err := encodeJSON(w, resp); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

type RiskEscalationCheckRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Message   string `json:"message"    validate:"required"`
}

type RiskEscalationCheckResponse struct {
	Status string          `json:"status"`
	Flag   models.RiskFlag `json:"flag"`
}

// RiskEscalationCheckHandler moderates a message and escalates the session
// when a risk is flagged.
func RiskEscalationCheckHandler(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RiskEscalationCheckRequest
		if err := decodeAndValidateJSON(r, &req); err != nil {
			renderError(w, err, http.StatusBadRequest)
			return
		}

		flag, err := svc.RiskEscalationCheck(r.Context(), req.SessionID, req.Message)
		if err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := encodeJSON(w, RiskEscalationCheckResponse{Status: StatusOK, Flag: flag}); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

type SwitchChatModeRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Mode      string `json:"mode"       validate:"required"`
}

type SwitchChatModeResponse struct {
	Status  string          `json:"status"`
	NewMode models.ChatMode `json:"new_mode"`
}

// SwitchChatModeHandler applies a mode transition requested by the
// assistant.
func SwitchChatModeHandler(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SwitchChatModeRequest
		if err := decodeAndValidateJSON(r, &req); err != nil {
			renderError(w, err, http.StatusBadRequest)
			return
		}

		newMode, err := svc.SwitchChatMode(r.Context(), req.SessionID, req.Mode)
		if err != nil {
			var transitionErr *models.InvalidModeTransitionError
			if errors.As(err, &transitionErr) {
				renderError(w, err, http.StatusBadRequest)
				return
			}
			renderError(w, err, http.StatusInternalServerError)
			return
		}

		if err := encodeJSON(w, SwitchChatModeResponse{Status: StatusOK, NewMode: newMode}); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}

type SaveSessionSummaryRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Summary   string `json:"summary"    validate:"required"`
}

// SaveSessionSummaryHandler mirrors a session summary to the care team's
// NocoDB table.
func SaveSessionSummaryHandler(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveSessionSummaryRequest
		if err := decodeAndValidateJSON(r, &req); err != nil {
			renderError(w, err, http.StatusBadRequest)
			return
		}

		if err := svc.SaveSessionSummary(r.Context(), req.SessionID, req.Summary); err != nil {
			if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrBadRequest) {
				renderError(w, err, http.StatusInternalServerError)
				return
			}
			log.Errorf("failed to save summary for session %s: %v", req.SessionID, err)
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}

		if err := encodeJSON(w, toolStatusResponse{Status: StatusOK}); err != nil {
			renderError(w, err, http.StatusInternalServerError)
			return
		}
	}
}
