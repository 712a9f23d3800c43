package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mbraces/backend/internal/domain"
	"mbraces/backend/internal/realtime"
	"mbraces/backend/internal/service"
	"mbraces/backend/internal/store/memory"
)

const testMachineToken = "test-machine-token-0123456789"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded()
	hub := realtime.NewHub()
	svc := service.New(repo, nil, hub, 0)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, hub, "*", testMachineToken), repo
}

// login obtains a bearer token for one of the seeded accounts.
func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (%s)", username, rec.Code, rec.Body.String())
	}
	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return body.AccessToken
}

// doJSON fires an authenticated JSON request with a fresh CSRF token.
func doJSON(t *testing.T, api *API, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-CSRF-Token", api.generateCSRFToken())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleTransactions_RequiresAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "moderator", "moderator123")

	// Create a manual entry.
	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/transactions", token, domain.TransactionCreateRequest{
		TerminalID: "term-001",
		Type:       "BET",
		TicketID:   "TK-API-1",
		Amount:     decimal.NewFromInt(150),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Transaction.MachineName != "Banca Central" {
		t.Fatalf("expected resolved terminal name, got %q", created.Transaction.MachineName)
	}

	// It shows up in the unified listing.
	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/transactions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "TK-API-1") {
		t.Fatalf("expected listing to contain the new ticket, got %s", rec.Body.String())
	}

	// Void it.
	rec = doJSON(t, api, handler, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%s/void", created.Transaction.ID), token, domain.VoidRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("void: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	stored, err := repo.GetManualTransaction(context.Background(), created.Transaction.ID)
	if err != nil {
		t.Fatalf("get voided: %v", err)
	}
	if stored.Status != domain.TxStatusVoided {
		t.Fatalf("expected voided, got %q", stored.Status)
	}
}

func TestTicketSearchAndDeleteEndpoints(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "moderator", "moderator123")

	for i := 0; i < 2; i++ {
		if _, err := repo.CreateManualTransaction(context.Background(), domain.ManualTransaction{
			TerminalID: "term-001",
			Type:       domain.TxTypeBet,
			Amount:     decimal.NewFromInt(50),
			TicketID:   "TK-API-DUP",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/tickets/search", token,
		domain.TicketSearchRequest{TicketNumber: "TK-API-DUP"})
	if rec.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var search domain.TicketSearchResponse
	if err := json.NewDecoder(rec.Body).Decode(&search); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if search.Total != 2 {
		t.Fatalf("expected total 2, got %+v", search)
	}

	rec = doJSON(t, api, handler, http.MethodPost, "/api/v1/tickets/delete", token,
		domain.TicketSearchRequest{TicketNumber: "TK-API-DUP"})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var deleted domain.TicketDeleteResponse
	if err := json.NewDecoder(rec.Body).Decode(&deleted); err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	if deleted.Deleted != 2 {
		t.Fatalf("expected 2 deleted, got %+v", deleted)
	}

	rec = doJSON(t, api, handler, http.MethodPost, "/api/v1/tickets/search", token,
		domain.TicketSearchRequest{TicketNumber: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty search: expected 400, got %d", rec.Code)
	}
}

func TestReportExportFormats(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "moderator", "moderator123")

	if _, err := repo.CreateManualTransaction(context.Background(), domain.ManualTransaction{
		TerminalID: "term-001",
		Type:       domain.TxTypeBet,
		Amount:     decimal.NewFromInt(100),
		TicketID:   "TK-CSV",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, api, handler, http.MethodGet, "/api/v1/reports/transactions?format=csv", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("expected csv content type, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "TK-CSV") || !strings.Contains(rec.Body.String(), "totals,totalBet,100.00") {
		t.Fatalf("unexpected csv body:\n%s", rec.Body.String())
	}

	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/reports/transactions?format=pdf", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pdf: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Reporte de Transacciones") {
		t.Fatalf("expected printable html, got:\n%s", rec.Body.String())
	}

	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/reports/transactions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("json: expected 200, got %d", rec.Code)
	}
	var report domain.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Transactions) != 1 {
		t.Fatalf("expected 1 row, got %d", len(report.Transactions))
	}
}

func TestSettingsAdminOnly(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	modToken := login(t, handler, "moderator", "moderator123")
	rec := doJSON(t, api, handler, http.MethodPut, "/api/v1/settings", modToken,
		domain.AppSettings{AppName: "Nueva Banca"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("moderator settings write: expected 403, got %d (%s)", rec.Code, rec.Body.String())
	}

	adminToken := login(t, handler, "admin", "admin123")
	rec = doJSON(t, api, handler, http.MethodPut, "/api/v1/settings", adminToken,
		domain.AppSettings{AppName: "Nueva Banca", TicketName: "NB"})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin settings write: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/settings", modToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings read: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Nueva Banca") {
		t.Fatalf("expected updated settings, got %s", rec.Body.String())
	}
}

func TestUserApprovalFlow(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	// Register a new moderator: account exists but is locked.
	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/auth/register", "", domain.RegisterRequest{
		Username:   "banquero",
		Password:   "secret123",
		Consortium: "Consorcio Sur",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var created struct {
		User domain.User `json:"user"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if created.User.IsApproved {
		t.Fatalf("fresh registration must start unapproved")
	}

	// A token is issued but data access is refused until approval.
	pendingToken := login(t, handler, "banquero", "secret123")
	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/transactions", pendingToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pending account: expected 403, got %d (%s)", rec.Code, rec.Body.String())
	}

	// Admin approves; a fresh token now carries the approval.
	adminToken := login(t, handler, "admin", "admin123")
	rec = doJSON(t, api, handler, http.MethodPost,
		fmt.Sprintf("/api/v1/users/%s/approve", created.User.ID), adminToken,
		domain.ApprovalRequest{Approved: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	approvedToken := login(t, handler, "banquero", "secret123")
	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/transactions", approvedToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approved account: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestUsersEndpointAdminOnly(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	modToken := login(t, handler, "moderator", "moderator123")
	rec := doJSON(t, api, handler, http.MethodGet, "/api/v1/users", modToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for moderator, got %d", rec.Code)
	}

	adminToken := login(t, handler, "admin", "admin123")
	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/users", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestSyncEndpoints(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()

	// Heartbeat flips the terminal online.
	payload, _ := json.Marshal(domain.HeartbeatRequest{TerminalID: "term-001"})
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/sync/heartbeat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Machine-Token", testMachineToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	// Ticket batch lands in the collector table.
	payload, _ = json.Marshal([]domain.SyncTicketPayload{{
		TerminalID:   "term-001",
		TicketNumber: "TK-SYNC-1",
		Amount:       decimal.NewFromInt(80),
		LocalDate:    time.Now().UTC().Format("2006-01-02"),
		RawData:      `{"_ticket_type":"BET"}`,
	}})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sync/tickets", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Machine-Token", testMachineToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync tickets: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	tickets, err := repo.ListSyncTickets(context.Background(), domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(tickets) != 1 || tickets[0].TicketNumber != "TK-SYNC-1" {
		t.Fatalf("expected ingested ticket, got %+v", tickets)
	}

	// The device can pull its config.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sync/ini?terminal_id=term-001", nil)
	req.Header.Set("X-Machine-Token", testMachineToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync ini: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "BIENVENIDOS") {
		t.Fatalf("expected default INI greeting, got %s", rec.Body.String())
	}
}

func TestSyncPendingVoidsDelivery(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()

	if err := repo.EnqueuePendingVoid(context.Background(), domain.PendingVoid{
		ID:           "pv-1",
		TerminalID:   "term-001",
		TicketNumber: "TK-VOIDED",
		Amount:       decimal.NewFromInt(30),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/pending-voids?terminal_id=term-001", nil)
	req.Header.Set("X-Machine-Token", testMachineToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "TK-VOIDED") {
		t.Fatalf("expected pending void in response, got %s", rec.Body.String())
	}
}
