package answer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"studyquiz/internal/app/apiresp"
	"studyquiz/internal/auth"
)

const maxAnswersBodyBytes = 1 << 20

type Handler struct {
	svc answerService
}

type answerService interface {
	RecordAnswers(ctx context.Context, userID int64, in []Input) (int, error)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "Login required")
		return
	}

	var payload []Input
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnswersBodyBytes)).Decode(&payload); err != nil || payload == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "Invalid JSON. Expecting array of answers.")
		return
	}

	saved, err := h.svc.RecordAnswers(r.Context(), user.ID, payload)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrQuestionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		default:
			apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, "Failed to save answers", err.Error())
		}
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{"answers_saved": saved})
}
