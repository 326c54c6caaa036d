package report

import (
	"context"
	"net/http"

	"studyquiz/internal/app/apiresp"
	"studyquiz/internal/auth"
)

type Handler struct {
	svc reportService
}

type reportService interface {
	Stats(ctx context.Context, userID int64) (*Stats, error)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "Login required")
		return
	}
	st, err := h.svc.Stats(r.Context(), user.ID)
	if err != nil {
		apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, "failed to load stats", err.Error())
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{
		"overall": st.Overall,
		"genres":  st.Genres,
		"topics":  st.Topics,
	})
}
