package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"careline/cmd/internal/auth"
)

// stubVerifier resolves fixed tokens to fixed identities.
type stubVerifier struct {
	ids map[string]auth.Identity
}

func (s stubVerifier) Verify(token string) (auth.Identity, error) {
	if id, ok := s.ids[token]; ok {
		return id, nil
	}
	return auth.Identity{}, auth.ErrTokenInvalid
}

func newStubVerifier() stubVerifier {
	return stubVerifier{ids: map[string]auth.Identity{
		"pat-token": {UserID: "pat-1", Role: auth.RolePatient, DisplayName: "Pat One"},
		"doc-token": {UserID: "doc-1", Role: auth.RoleDoctor, DisplayName: "Doc One"},
		"adm-token": {UserID: "adm-1", Role: auth.RoleAdmin},
	}}
}

func decodeErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return env
}

func TestRequireAuthMissingToken(t *testing.T) {
	t.Parallel()

	h := requireAuth(newStubVerifier(), func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without a token")
	})

	req := httptest.NewRequest(http.MethodGet, "/chat/active-users", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
	env := decodeErrorEnvelope(t, rec)
	if env["error"] != "Missing authentication token" {
		t.Fatalf("unexpected error message: %v", env["error"])
	}
	if env["status_code"] != float64(http.StatusUnauthorized) || env["path"] != "/chat/active-users" {
		t.Fatalf("unexpected envelope: %v", env)
	}
}

func TestRequireAuthInvalidToken(t *testing.T) {
	t.Parallel()

	h := requireAuth(newStubVerifier(), func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run with a bad token")
	})

	req := httptest.NewRequest(http.MethodGet, "/chat/active-users", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
	if env := decodeErrorEnvelope(t, rec); env["error"] != "Invalid authentication token" {
		t.Fatalf("unexpected error message: %v", env["error"])
	}
}

func TestRequireAuthStoresIdentityAndToken(t *testing.T) {
	t.Parallel()

	var gotID auth.Identity
	var gotToken string
	h := requireAuth(newStubVerifier(), func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = IdentityFrom(r.Context())
		gotToken = TokenFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/chat/active-users", nil)
	req.Header.Set("Authorization", "Bearer pat-token")
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusNoContent)
	}
	if gotID.UserID != "pat-1" || gotID.Role != auth.RolePatient {
		t.Fatalf("unexpected identity: %+v", gotID)
	}
	if gotToken != "pat-token" {
		t.Fatalf("unexpected token: %q", gotToken)
	}
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		token   string
		allowed []string
		want    int
	}{
		{"doctor allowed", "doc-token", []string{auth.RoleDoctor, auth.RoleAdmin}, http.StatusNoContent},
		{"admin allowed", "adm-token", []string{auth.RoleDoctor, auth.RoleAdmin}, http.StatusNoContent},
		{"patient forbidden", "pat-token", []string{auth.RoleDoctor, auth.RoleAdmin}, http.StatusForbidden},
	}

	for _, tc := range cases {
		h := requireRole(newStubVerifier(), func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}, tc.allowed...)

		req := httptest.NewRequest(http.MethodGet, "/chat/stats", nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		rec := httptest.NewRecorder()
		h(rec, req)

		if rec.Code != tc.want {
			t.Fatalf("%s: status=%d want=%d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc", "abc"},
		{"lowercase scheme", "bearer abc", "abc"},
		{"padded", "  Bearer   abc  ", "abc"},
		{"missing", "", ""},
		{"wrong scheme", "Basic abc", ""},
		{"bare token", "abc", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Fatalf("%s: got=%q want=%q", tc.name, got, tc.want)
		}
	}
}

func TestLoggingResponseWriterPreservesUpgradeInterfaces(t *testing.T) {
	t.Parallel()

	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder()}

	// The relay's websocket upgrade path asserts these at runtime.
	var w http.ResponseWriter = lrw
	if _, ok := w.(http.Flusher); !ok {
		t.Fatalf("Flusher not preserved")
	}
	if _, ok := w.(http.Hijacker); !ok {
		t.Fatalf("Hijacker not preserved")
	}
	if rw, ok := w.(interface{ Unwrap() http.ResponseWriter }); !ok || rw.Unwrap() == nil {
		t.Fatalf("Unwrap not preserved")
	}
}
