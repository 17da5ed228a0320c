package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/service"
	"storeledger/backend/internal/store"
)

func TestResponsesCarrySecurityAndCORSHeaders(t *testing.T) {
	api := newTestAPI(t)

	for _, method := range []string{http.MethodGet, http.MethodOptions} {
		req := httptest.NewRequest(method, "/healthz", nil)
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)

		want := map[string]string{
			"X-Content-Type-Options":      "nosniff",
			"X-Frame-Options":             "DENY",
			"Referrer-Policy":             "strict-origin-when-cross-origin",
			"Access-Control-Allow-Origin": "*",
		}
		for header, value := range want {
			if got := res.Header().Get(header); got != value {
				t.Fatalf("%s: expected %s %q, got %q", method, header, value, got)
			}
		}
		if !strings.Contains(res.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token") {
			t.Fatalf("%s: expected the csrf header to be allowed cross-origin", method)
		}
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/api/v1/imports", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, preflight)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected preflight to short-circuit with 204, got %d", res.Code)
	}
}

func TestLoginThrottlingPerClientAddress(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	attempt := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = remote
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		return res.Code
	}

	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		codes = append(codes, attempt("10.0.0.7:41000"))
	}
	for i, code := range codes[:5] {
		if code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401 within budget, got %d", i+1, code)
		}
	}
	if codes[5] != http.StatusTooManyRequests {
		t.Fatalf("expected the sixth attempt to be throttled, got %d", codes[5])
	}
	if code := attempt("10.0.0.8:41000"); code != http.StatusUnauthorized {
		t.Fatalf("expected a different address to keep its budget, got %d", code)
	}
}

func TestAttemptLimiterKeysAreIndependent(t *testing.T) {
	limiter := newAttemptLimiter(2, 0)
	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected the first two attempts to pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected the third attempt to be throttled")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected another key to be unaffected")
	}
	if got := clientKey(&http.Request{RemoteAddr: "[::1]:9000"}); got != "::1" {
		t.Fatalf("expected port to be stripped from ipv6 address, got %q", got)
	}
}

func TestOversizedLoginBodyIsRejected(t *testing.T) {
	api := newTestAPI(t)
	body := fmt.Sprintf(`{"username":%q,"password":"x"}`, strings.Repeat("u", defaultBodyLimit+1))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 past the body limit, got %d", res.Code)
	}
}

func TestMutationsNeedValidCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	cases := []struct {
		method, path, csrf string
	}{
		{http.MethodPost, "/api/v1/imports", ""},
		{http.MethodPut, "/api/v1/settings", "not-a-token"},
		{http.MethodDelete, "/api/v1/snapshots?all=true", "bogus"},
	}
	for _, tc := range cases {
		rec := doJSON(t, api, tc.method, tc.path, token, tc.csrf, map[string]any{})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", tc.method, tc.path, rec.Code)
		}
	}

	rec := doJSON(t, api, http.MethodDelete, "/api/v1/snapshots?all=true", token, fetchCSRFToken(t, api), nil)
	if rec.Code != http.StatusOK && rec.Code != http.StatusNoContent {
		t.Fatalf("expected clear-all with a valid token to succeed, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestServerErrorsHideDetail(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()

	api.fail(rec, errors.New("pq: relation monthly_snapshots does not exist"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "monthly_snapshots") {
		t.Fatalf("expected internal detail to be hidden, got %s", rec.Body.String())
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("wrap: %w", store.ErrInvalidInput): http.StatusBadRequest,
		store.ErrNotFound:                            http.StatusNotFound,
		service.ErrPendingImportNotFound:             http.StatusNotFound,
		service.ErrImportInProgress:                  http.StatusConflict,
		service.ErrNoStores:                          http.StatusUnprocessableEntity,
		service.ErrForbidden:                         http.StatusForbidden,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response: %v", err)
	}
	if strings.TrimSpace(payload["csrf_token"]) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return payload["csrf_token"]
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	return loginAs(t, api, "admin", "admin123")
}

func loginAs(t *testing.T, api *API, username, password string) string {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, rec.Code)
	}
	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
