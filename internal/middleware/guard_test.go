package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/poapgate/poapgate/internal/auth"
	"github.com/poapgate/poapgate/internal/testutil"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestSessions(t *testing.T) *auth.SessionManager {
	t.Helper()
	sessions, err := auth.NewSessionManager([]byte(strings.Repeat("k", 32)), time.Hour, false)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	return sessions
}

func TestRequireSession(t *testing.T) {
	t.Parallel()

	sessions := newTestSessions(t)
	var gotUser string
	handler := RequireSession(sessions, discardLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid cookie", func(t *testing.T) {
		cookieRec := httptest.NewRecorder()
		if err := sessions.SetCookie(cookieRec, testutil.NewTestIdentity("u-1")); err != nil {
			t.Fatalf("SetCookie: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		for _, c := range cookieRec.Result().Cookies() {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if gotUser != "u-1" {
			t.Errorf("user id = %q, want u-1", gotUser)
		}
	})

	rejected := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"garbage cookie", &http.Cookie{Name: auth.SessionCookieName, Value: "not-a-token"}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/mint", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != `{"success":false,"error":"Unauthorized"}` {
				t.Errorf("body = %s", got)
			}
		})
	}
}

func TestRequireAdminKey(t *testing.T) {
	t.Parallel()

	key, err := auth.GenerateAdminKey()
	if err != nil {
		t.Fatalf("GenerateAdminKey: %v", err)
	}
	verifier, err := auth.NewAdminKeyVerifier(key.Hash)
	if err != nil {
		t.Fatalf("NewAdminKeyVerifier: %v", err)
	}

	handler := RequireAdminKey(verifier, discardLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"bearer", "Authorization", "Bearer " + key.Plaintext, http.StatusOK},
		{"admin header", HeaderAdminKey, key.Plaintext, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", HeaderAdminKey, "pg_admin_00000000000000000000000000000000", http.StatusUnauthorized},
		{"malformed", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic " + key.Plaintext, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/mints", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireAdminKey_Disabled(t *testing.T) {
	t.Parallel()

	verifier, err := auth.NewAdminKeyVerifier("")
	if err != nil {
		t.Fatalf("NewAdminKeyVerifier: %v", err)
	}

	called := false
	handler := RequireAdminKey(verifier, discardLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/mints", nil)
	req.Header.Set(HeaderAdminKey, "pg_admin_00000000000000000000000000000000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if called {
		t.Error("handler called with admin routes disabled")
	}
}

func TestRequireAdminKey_PadsRejections(t *testing.T) {
	t.Parallel()

	key, err := auth.GenerateAdminKey()
	if err != nil {
		t.Fatalf("GenerateAdminKey: %v", err)
	}
	verifier, err := auth.NewAdminKeyVerifier(key.Hash)
	if err != nil {
		t.Fatalf("NewAdminKeyVerifier: %v", err)
	}
	handler := RequireAdminKey(verifier, discardLogger)(http.NotFoundHandler())

	start := time.Now()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/mints", nil))

	if elapsed := time.Since(start); elapsed < minAuthDuration {
		t.Errorf("rejection took %v, want at least %v", elapsed, minAuthDuration)
	}
}
