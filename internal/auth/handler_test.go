package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type mockAuthService struct {
	registerFn       func(ctx context.Context, username, password string) (*User, error)
	authenticateFn   func(ctx context.Context, username, password string) (*User, error)
	createSessionFn  func(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error)
	getSessionUserFn func(ctx context.Context, token string) (*User, error)
	revokeSessionFn  func(ctx context.Context, token string) error
	profileFn        func(ctx context.Context, userID int64) (*Profile, error)
	updateAvatarFn   func(ctx context.Context, userID int64, seed string) (*User, error)
}

func (m *mockAuthService) Register(ctx context.Context, username, password string) (*User, error) {
	if m.registerFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.registerFn(ctx, username, password)
}

func (m *mockAuthService) AuthenticatePassword(ctx context.Context, username, password string) (*User, error) {
	if m.authenticateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.authenticateFn(ctx, username, password)
}

func (m *mockAuthService) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	if m.createSessionFn == nil {
		return "", time.Time{}, errors.New("not implemented")
	}
	return m.createSessionFn(ctx, userID, ipAddress, userAgent)
}

func (m *mockAuthService) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if m.getSessionUserFn == nil {
		return nil, ErrUnauthorized
	}
	return m.getSessionUserFn(ctx, token)
}

func (m *mockAuthService) RevokeSession(ctx context.Context, token string) error {
	if m.revokeSessionFn == nil {
		return nil
	}
	return m.revokeSessionFn(ctx, token)
}

func (m *mockAuthService) Profile(ctx context.Context, userID int64) (*Profile, error) {
	if m.profileFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.profileFn(ctx, userID)
}

func (m *mockAuthService) UpdateAvatarSeed(ctx context.Context, userID int64, seed string) (*User, error) {
	if m.updateAvatarFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateAvatarFn(ctx, userID, seed)
}

func decodeMap(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode json: %v body=%s", err, string(body))
	}
	return out
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func TestRegisterStatuses(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "created", body: `{"username":"alice","password":"pw"}`, wantStatus: http.StatusCreated},
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest, wantError: "Invalid JSON"},
		{name: "missing password", body: `{"username":"alice"}`, wantStatus: http.StatusBadRequest, wantError: "username and password required"},
		{name: "duplicate", body: `{"username":"alice","password":"pw"}`, err: ErrUsernameTaken, wantStatus: http.StatusConflict, wantError: "Username already taken"},
		{name: "empty username", body: `{"username":" ","password":"pw"}`, err: ErrInvalidInput, wantStatus: http.StatusBadRequest},
		{name: "db failure", body: `{"username":"alice","password":"pw"}`, err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantError: "DB Error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &Handler{svc: &mockAuthService{
				registerFn: func(ctx context.Context, username, password string) (*User, error) {
					if tc.err != nil {
						return nil, tc.err
					}
					return &User{ID: 9, Name: username}, nil
				},
			}}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			h.Register(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status=%d want=%d body=%s", w.Code, tc.wantStatus, w.Body.String())
			}
			body := decodeMap(t, w.Body.Bytes())
			if tc.wantError != "" && body["error"] != tc.wantError {
				t.Fatalf("error=%v want=%s", body["error"], tc.wantError)
			}
			if tc.wantStatus == http.StatusCreated {
				user, _ := body["user"].(map[string]interface{})
				if user["id"] != float64(9) || user["name"] != "alice" {
					t.Fatalf("unexpected user: %v", body["user"])
				}
				if _, ok := user["avatar_seed"]; !ok {
					t.Fatalf("avatar_seed should be present as null")
				}
			}
		})
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	var gotIP, gotUA string
	h := &Handler{secureCookie: true, svc: &mockAuthService{
		authenticateFn: func(ctx context.Context, username, password string) (*User, error) {
			if username != "alice" || password != "secret" {
				return nil, ErrInvalidCredentials
			}
			return &User{ID: 3, Name: "alice"}, nil
		},
		createSessionFn: func(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
			gotIP, gotUA = ipAddress, userAgent
			return "tok-123", time.Now().Add(time.Hour), nil
		},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"alice","password":"secret"}`))
	req.Header.Set("User-Agent", "quiz-test")
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	c := sessionCookie(t, w)
	if c == nil || c.Value != "tok-123" || !c.HttpOnly || !c.Secure {
		t.Fatalf("unexpected session cookie: %+v", c)
	}
	if gotIP != "203.0.113.5" || gotUA != "quiz-test" {
		t.Fatalf("session metadata ip=%q ua=%q", gotIP, gotUA)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := &Handler{svc: &mockAuthService{
		authenticateFn: func(ctx context.Context, username, password string) (*User, error) {
			return nil, ErrInvalidCredentials
		},
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"alice","password":"nope"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
	if body := decodeMap(t, w.Body.Bytes()); body["error"] != "Invalid credentials" {
		t.Fatalf("unexpected body: %v", body)
	}
	if sessionCookie(t, w) != nil {
		t.Fatalf("no cookie expected on failed login")
	}
}

func TestLogoutRevokesAndClearsCookie(t *testing.T) {
	var revoked string
	h := &Handler{svc: &mockAuthService{
		revokeSessionFn: func(ctx context.Context, token string) error {
			revoked = token
			return nil
		},
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok-9"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusOK || revoked != "tok-9" {
		t.Fatalf("status=%d revoked=%q", w.Code, revoked)
	}
	if c := sessionCookie(t, w); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", c)
	}
}

func TestMe(t *testing.T) {
	seed := "fox"
	h := &Handler{svc: &mockAuthService{
		profileFn: func(ctx context.Context, userID int64) (*Profile, error) {
			if userID != 3 {
				return nil, ErrUserNotFound
			}
			return &Profile{User: User{ID: 3, Name: "alice", AvatarSeed: &seed}, CreatedQuestionsCount: 12}, nil
		},
	}}

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Me(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
		body := decodeMap(t, w.Body.Bytes())
		if w.Code != http.StatusOK || body["ok"] != true || body["logged_in"] != false {
			t.Fatalf("status=%d body=%v", w.Code, body)
		}
		if _, ok := body["user"]; ok {
			t.Fatalf("anonymous response must not carry a user")
		}
	})

	t.Run("logged in", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 3, Name: "alice"}))
		w := httptest.NewRecorder()
		h.Me(w, req)

		body := decodeMap(t, w.Body.Bytes())
		user, _ := body["user"].(map[string]interface{})
		if body["logged_in"] != true || user["avatar_seed"] != "fox" || user["created_questions_count"] != float64(12) {
			t.Fatalf("unexpected body: %v", body)
		}
	})

	t.Run("deleted user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 4}))
		w := httptest.NewRecorder()
		h.Me(w, req)
		if body := decodeMap(t, w.Body.Bytes()); body["logged_in"] != false {
			t.Fatalf("unexpected body: %v", body)
		}
	})
}

func TestUpdateProfile(t *testing.T) {
	var gotSeed string
	h := &Handler{svc: &mockAuthService{
		updateAvatarFn: func(ctx context.Context, userID int64, seed string) (*User, error) {
			gotSeed = seed
			return &User{ID: userID, Name: "alice", AvatarSeed: &seed}, nil
		},
	}}

	withUser := func(r *http.Request) *http.Request {
		return r.WithContext(ContextWithUser(r.Context(), &User{ID: 3, Name: "alice"}))
	}

	w := httptest.NewRecorder()
	h.UpdateProfile(w, withUser(httptest.NewRequest(http.MethodPost, "/api/v1/auth/profile", strings.NewReader(`{"avatar_seed":"owl"}`))))
	if w.Code != http.StatusOK || gotSeed != "owl" {
		t.Fatalf("status=%d seed=%q", w.Code, gotSeed)
	}

	w = httptest.NewRecorder()
	h.UpdateProfile(w, withUser(httptest.NewRequest(http.MethodPost, "/api/v1/auth/profile", strings.NewReader(`{"name":"x"}`))))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing field status=%d", w.Code)
	}
	if body := decodeMap(t, w.Body.Bytes()); body["error"] != "No valid fields to update" {
		t.Fatalf("unexpected body: %v", body)
	}

	w = httptest.NewRecorder()
	h.UpdateProfile(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/profile", strings.NewReader(`{"avatar_seed":"owl"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status=%d", w.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	h := &Handler{svc: &mockAuthService{
		getSessionUserFn: func(ctx context.Context, token string) (*User, error) {
			if token == "good" {
				return &User{ID: 7, Name: "bob"}, nil
			}
			return nil, ErrUnauthorized
		},
	}}
	var seen *User
	next := h.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CurrentUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "good"})
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || seen == nil || seen.ID != 7 {
		t.Fatalf("status=%d user=%+v", w.Code, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "bad"})
	w = httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
	if body := decodeMap(t, w.Body.Bytes()); body["error"] != "Login required" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAuthMiddlewareFillsRequestUser(t *testing.T) {
	h := &Handler{svc: &mockAuthService{
		getSessionUserFn: func(ctx context.Context, token string) (*User, error) {
			if token == "good" {
				return &User{ID: 11}, nil
			}
			return nil, ErrUnauthorized
		},
	}}
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	for name, mw := range map[string]func(http.Handler) http.Handler{
		"require":  h.RequireAuth,
		"optional": h.OptionalAuth,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "good"})
			ctx, ru := WithRequestUser(req.Context())
			mw(noop).ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))
			if ru.ID != 11 {
				t.Fatalf("expected request user 11, got %d", ru.ID)
			}

			ctx, ru = WithRequestUser(context.Background())
			mw(noop).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
			if ru.ID != 0 {
				t.Fatalf("anonymous request should leave id 0, got %d", ru.ID)
			}
		})
	}
}

func TestOptionalAuthPassesAnonymous(t *testing.T) {
	calls := 0
	h := &Handler{svc: &mockAuthService{
		getSessionUserFn: func(ctx context.Context, token string) (*User, error) {
			calls++
			return nil, ErrUnauthorized
		},
	}}
	var loggedIn bool
	next := h.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, loggedIn = CurrentUser(r.Context())
	}))

	next.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if calls != 0 || loggedIn {
		t.Fatalf("no cookie should skip lookup, calls=%d", calls)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale"})
	next.ServeHTTP(httptest.NewRecorder(), req)
	if calls != 1 || loggedIn {
		t.Fatalf("stale cookie should pass anonymously, calls=%d", calls)
	}
}
