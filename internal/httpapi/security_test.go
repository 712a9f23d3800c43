package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("expected %s=%s, got %q", header, want, got)
		}
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}

	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated attempts, got %d", last)
	}
}

func TestMutatingRequestWithoutCSRFTokenRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "moderator", "moderator123")

	payload, _ := json.Marshal(map[string]string{"ticket_number": "TK-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/search", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "CSRF") {
		t.Fatalf("expected CSRF message, got %s", rec.Body.String())
	}
}

func TestCSRFTokenEndpointIssuesValidToken(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !api.validateCSRFToken(body.CSRFToken) {
		t.Fatalf("issued token failed validation")
	}
}

func TestSyncEndpointsRequireMachineToken(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/ini?terminal_id=term-001", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without machine token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sync/ini?terminal_id=term-001", nil)
	req.Header.Set("X-Machine-Token", "wrong-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong machine token, got %d", rec.Code)
	}
}

func TestSyncDisabledWithoutConfiguredToken(t *testing.T) {
	api, _ := newTestAPI(t)
	api.machineToken = ""
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/ini?terminal_id=term-001", nil)
	req.Header.Set("X-Machine-Token", "anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when sync is unconfigured, got %d", rec.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "moderator", "moderator123")

	huge := strings.Repeat("x", (1<<20)+100)
	payload, _ := json.Marshal(map[string]string{"ticket_number": huge})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/search", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestWriteErrorMasksInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, fmt.Errorf("pq: connection refused at 10.0.0.5"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "internal server error" {
		t.Fatalf("expected generic 5xx message, got %q", body.Error)
	}

	rec = httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, fmt.Errorf("ticket_number is required"))
	if !strings.Contains(rec.Body.String(), "ticket_number is required") {
		t.Fatalf("expected 4xx message passed through, got %s", rec.Body.String())
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("", 10, 50); got != 10 {
		t.Fatalf("expected fallback 10, got %d", got)
	}
	if got := parsePositiveLimit("25", 10, 50); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	if got := parsePositiveLimit("500", 10, 50); got != 50 {
		t.Fatalf("expected cap 50, got %d", got)
	}
	if got := parsePositiveLimit("-3", 10, 50); got != 10 {
		t.Fatalf("expected fallback for negative, got %d", got)
	}
}
