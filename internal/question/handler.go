package question

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"studyquiz/internal/app/apiresp"
	"studyquiz/internal/auth"

	"github.com/go-chi/chi/v5"
)

const (
	maxUpsertBodyBytes = 8 << 20
	maxImportBytes     = 16 << 20
)

type Handler struct {
	svc questionService
}

type questionService interface {
	ListQuestions(ctx context.Context, f ListFilter) ([]Question, error)
	ListCatalog(ctx context.Context, userID *int64) ([]DomainSummary, error)
	SaveQuestions(ctx context.Context, in []QuestionInput, opts SaveOptions) (*SaveResult, error)
	SetActive(ctx context.Context, questionID, userID int64, active bool) error
	ExportExcel(ctx context.Context, f ListFilter) ([]byte, error)
	ImportExcel(ctx context.Context, createdBy *int64, r io.Reader) (*ImportReport, error)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListQuestions(r.Context(), filterFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err, "failed to list questions")
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{"questions": items})
}

func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	var userID *int64
	if strings.TrimSpace(r.URL.Query().Get("scope")) == ScopeMine {
		user, ok := auth.CurrentUser(r.Context())
		if !ok {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "login required for my questions")
			return
		}
		userID = &user.ID
	}
	items, err := h.svc.ListCatalog(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "failed to list catalog")
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{"domains": items})
}

// Upsert accepts a JSON array of questions, each carrying an explicit
// question_id.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload []QuestionInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpsertBodyBytes)).Decode(&payload); err != nil || payload == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON, expecting array of questions")
		return
	}

	res, err := h.svc.SaveQuestions(r.Context(), payload, SaveOptions{AllowAutoID: false, CreatedBy: &user.ID})
	if err != nil {
		writeServiceError(w, r, err, "failed to save data")
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{
		"questions_saved": res.QuestionsSaved,
		"choices_saved":   res.ChoicesSaved,
	})
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	questionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || questionID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return
	}
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "is_active is required")
		return
	}
	if err := h.svc.SetActive(r.Context(), questionID, user.ID, *req.IsActive); err != nil {
		writeServiceError(w, r, err, "failed to update question")
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{
		"question_id": questionID,
		"is_active":   *req.IsActive,
	})
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportExcel(r.Context(), filterFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err, "failed to export questions")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="questions.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	report, err := h.svc.ImportExcel(r.Context(), &user.ID, file)
	if err != nil {
		writeServiceError(w, r, err, "failed to import questions")
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{"report": report})
}

func filterFromRequest(r *http.Request) ListFilter {
	q := r.URL.Query()
	f := ListFilter{
		Domain: strings.TrimSpace(q.Get("domain")),
		Topic:  strings.TrimSpace(q.Get("topic")),
		Scope:  strings.TrimSpace(q.Get("scope")),
	}
	if user, ok := auth.CurrentUser(r.Context()); ok {
		id := user.ID
		f.UserID = &id
	}
	return f
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, ErrLoginRequired):
		apiresp.WriteError(w, r, http.StatusUnauthorized, "login required")
	case errors.Is(err, ErrInvalidScope):
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid scope")
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrQuestionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, fallback, err.Error())
	}
}
