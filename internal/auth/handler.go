package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"studyquiz/internal/app/apiresp"
)

type contextKey string

const (
	userContextKey        contextKey = "auth_user"
	requestUserContextKey contextKey = "auth_request_user"
)

const SessionCookieName = "studyquiz_session"

const maxAuthBodyBytes = 16 << 10

type Handler struct {
	svc          authService
	secureCookie bool
}

type authService interface {
	Register(ctx context.Context, username, password string) (*User, error)
	AuthenticatePassword(ctx context.Context, username, password string) (*User, error)
	CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error)
	GetSessionUser(ctx context.Context, token string) (*User, error)
	RevokeSession(ctx context.Context, token string) error
	Profile(ctx context.Context, userID int64) (*Profile, error)
	UpdateAvatarSeed(ctx context.Context, userID int64, seed string) (*User, error)
}

type credentialsRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type profileRequest struct {
	AvatarSeed *string `json:"avatar_seed"`
}

// NewHandler builds the auth handler. secureCookie marks the session cookie
// Secure, which production deployments behind TLS should set.
func NewHandler(svc *Service, secureCookie bool) *Handler {
	return &Handler{svc: svc, secureCookie: secureCookie}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	user, err := h.svc.Register(r.Context(), *req.Username, *req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			apiresp.WriteError(w, r, http.StatusConflict, "Username already taken")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, "DB Error", err.Error())
		}
		return
	}
	apiresp.WriteOK(w, http.StatusCreated, map[string]interface{}{"user": user})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	user, err := h.svc.AuthenticatePassword(r.Context(), *req.Username, *req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	if err := h.establishSession(w, r, user); err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "cannot create session")
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	_ = h.svc.RevokeSession(r.Context(), readSessionToken(r))

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	apiresp.WriteOK(w, http.StatusOK, nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{"logged_in": false})
		return
	}
	profile, err := h.svc.Profile(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{"logged_in": false})
			return
		}
		apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, "failed to load profile", err.Error())
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{
		"logged_in": true,
		"user":      profile,
	})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "Login required")
		return
	}
	var req profileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)).Decode(&req); err != nil || req.AvatarSeed == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "No valid fields to update")
		return
	}
	updated, err := h.svc.UpdateAvatarSeed(r.Context(), user.ID, *req.AvatarSeed)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "Login required")
			return
		}
		apiresp.WriteErrorDetail(w, r, http.StatusInternalServerError, "failed to update profile", err.Error())
		return
	}
	apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{"user": updated})
}

// RequireAuth rejects requests without a valid session.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.svc.GetSessionUser(r.Context(), readSessionToken(r))
		if err != nil {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "Login required")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// OptionalAuth attaches the session user when the cookie is valid and lets
// anonymous requests through unchanged.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := readSessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.svc.GetSessionUser(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func CurrentUser(ctx context.Context) (*User, bool) {
	v := ctx.Value(userContextKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok && u != nil
}

// ContextWithUser injects an authenticated user into context and fills the
// request's RequestUser, if an outer middleware installed one.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	if ru, ok := ctx.Value(requestUserContextKey).(*RequestUser); ok && ru != nil && user != nil {
		ru.ID = user.ID
	}
	return context.WithValue(ctx, userContextKey, user)
}

// RequestUser lets middleware wrapping the auth layer see who the request
// was authenticated as after the inner handlers return. ID stays 0 for
// anonymous requests.
type RequestUser struct {
	ID int64
}

func WithRequestUser(ctx context.Context) (context.Context, *RequestUser) {
	ru := &RequestUser{}
	return context.WithValue(ctx, requestUserContextKey, ru), ru
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "Invalid JSON")
		return req, false
	}
	if req.Username == nil || req.Password == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "username and password required")
		return req, false
	}
	return req, true
}

func (h *Handler) establishSession(w http.ResponseWriter, r *http.Request, user *User) error {
	token, expiresAt, err := h.svc.CreateSession(r.Context(), user.ID, readIP(r), r.UserAgent())
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func readSessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func readIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}
