package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"studyquiz/internal/app/apiresp"
	"studyquiz/internal/auth"
	"studyquiz/internal/llm"
)

const maxRequestBodyBytes = 64 << 10

type Handler struct {
	svc generationService
}

type generationService interface {
	Generate(ctx context.Context, req Request, createdBy *int64) (Result, error)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Generate works for anonymous callers too; the session user, when present,
// becomes the owner of the saved questions.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var createdBy *int64
	if user, ok := auth.CurrentUser(r.Context()); ok {
		id := user.ID
		createdBy = &id
	}

	res, err := h.svc.Generate(r.Context(), req, createdBy)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrMissingAPIKey):
			apiresp.WriteError(w, r, http.StatusInternalServerError, "GEMINI_API_KEY is not set on server")
		case errors.Is(err, ErrAllRejected):
			apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, ErrAllRejected.Error(), err.Error())
		case errors.Is(err, ErrParse):
			apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, "failed to parse generated questions", err.Error())
		default:
			apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, "generation failed", err.Error())
		}
		return
	}

	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{
		"generation_id":   res.GenerationID,
		"questions_saved": res.QuestionsSaved,
		"choices_saved":   res.ChoicesSaved,
		"replaced":        res.Replaced,
		"needs_review":    res.NeedsReview,
		"rejected":        res.Rejected,
		"questions":       res.Questions,
	})
}
