package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mbraces/backend/internal/domain"
	"mbraces/backend/internal/realtime"
	"mbraces/backend/internal/service"
	"mbraces/backend/internal/store"
	"mbraces/backend/pkg/log"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	hub           *realtime.Hub
	allowedOrigin string
	machineToken  string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, hub *realtime.Hub, allowedOrigin string, machineToken string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		machineToken:  strings.TrimSpace(machineToken),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		log:           log.Logger().With().Str("component", "httpapi").Logger(),
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/register", a.handleRegister)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/transactions", a.requireAuth(a.handleTransactions, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/transactions/", a.requireAuth(a.handleTransactionActions, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/tickets/search", a.requireAuth(a.handleTicketSearch, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/tickets/delete", a.requireAuth(a.handleTicketDelete, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/reports/transactions", a.requireAuth(a.handleTransactionReport, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/reports/thermal", a.requireAuth(a.handleThermalReport, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/dashboard/stats", a.requireAuth(a.handleDashboardStats, domain.RoleModerator, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/terminals", a.requireAuth(a.handleTerminals, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/terminals/", a.requireAuth(a.handleTerminalActions, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/settings", a.requireAuth(a.handleSettings, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/jackpot", a.requireAuth(a.handleJackpot, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/notifications/recent", a.requireAuth(a.handleRecentNotifications, domain.RoleModerator, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/", a.requireAuth(a.handleUserActions, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/ws", a.handleWS)

	mux.HandleFunc("/api/v1/sync/tickets", a.requireMachineToken(a.handleSyncTickets))
	mux.HandleFunc("/api/v1/sync/races", a.requireMachineToken(a.handleSyncRaces))
	mux.HandleFunc("/api/v1/sync/heartbeat", a.requireMachineToken(a.handleSyncHeartbeat))
	mux.HandleFunc("/api/v1/sync/ini", a.requireMachineToken(a.handleSyncIni))
	mux.HandleFunc("/api/v1/sync/pending-voids", a.requireMachineToken(a.handleSyncPendingVoids))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

// requireMachineToken guards the collector endpoints. Devices authenticate
// with a shared token, not a user session.
func (a *API) requireMachineToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.machineToken == "" {
			writeError(w, http.StatusServiceUnavailable, errors.New("machine sync is not configured"))
			return
		}
		token := strings.TrimSpace(r.Header.Get("X-Machine-Token"))
		if token == "" || !hmac.Equal([]byte(token), []byte(a.machineToken)) {
			writeError(w, http.StatusUnauthorized, errors.New("invalid machine token"))
			return
		}
		next(w, r)
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow("register:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many registration attempts"))
		return
	}

	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.auth.Register(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrDuplicate) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPrefixes lists path prefixes exempt from CSRF validation. Auth
// endpoints run before a token fetch; sync endpoints are device calls
// authenticated with the machine token, not a browser session.
var csrfExemptPrefixes = []string{
	"/api/v1/auth/",
	"/api/v1/sync/",
}

// checkCSRF enforces CSRF token validation for state-changing methods (POST/PUT/PATCH).
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch && method != http.MethodDelete {
		return true
	}
	for _, exempt := range csrfExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, exempt) {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := filterFromQuery(r)
		transactions, err := a.service.ListTransactions(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
	case http.MethodPost:
		var req domain.TransactionCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		tx, err := a.service.CreateTransaction(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction": tx})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransactionActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/transactions/"
	if !strings.HasPrefix(r.URL.Path, prefix) || !strings.HasSuffix(r.URL.Path, "/void") {
		writeError(w, http.StatusBadRequest, errors.New("invalid transaction action path"))
		return
	}
	transactionID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/void")
	transactionID = strings.TrimSpace(strings.Trim(transactionID, "/"))
	if transactionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("transaction id required"))
		return
	}

	var req domain.VoidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.service.VoidTransaction(r.Context(), transactionID, req); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleTicketSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.TicketSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.SearchTickets(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTicketDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.TicketSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.DeleteTickets(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTransactionReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	filter := filterFromQuery(r)
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	report, err := a.service.Report(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch format {
	case "csv":
		name := reportFileStamp(filter)
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"report-%s.csv\"", name))
		_, _ = w.Write([]byte(reportToCSV(report)))
	case "pdf":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(reportToPrintableHTML(report, filter)))
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (a *API) handleThermalReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ThermalReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.BuildThermalReport(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	stats, err := a.service.DashboardStats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleTerminals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		terminals, err := a.service.ListTerminals(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"terminals": terminals})
	case http.MethodPost:
		var req domain.TerminalCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		terminal, err := a.service.CreateTerminal(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"terminal": terminal})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTerminalActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/terminals/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("terminal id required"))
		return
	}

	if !strings.HasSuffix(tail, "/ini") {
		writeError(w, http.StatusBadRequest, errors.New("unknown terminal action"))
		return
	}
	terminalID := strings.Trim(strings.TrimSuffix(tail, "/ini"), "/")
	if terminalID == "" {
		writeError(w, http.StatusBadRequest, errors.New("terminal id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		ini, err := a.service.GetTerminalIni(r.Context(), terminalID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ini_content": ini})
	case http.MethodPatch:
		var req domain.IniUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.service.UpdateTerminalIni(r.Context(), terminalID, req); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := a.service.GetAppSettings(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req domain.AppSettings
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.service.UpdateAppSettings(r.Context(), req); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleJackpot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	jackpot, err := a.service.GetJackpot(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jackpot)
}

func (a *API) handleRecentNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 10, 10)
	notifications, err := a.service.RecentNotifications(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleUserActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/users/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("user id required"))
		return
	}

	if strings.HasSuffix(tail, "/approve") {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		userID := strings.Trim(strings.TrimSuffix(tail, "/approve"), "/")
		if userID == "" {
			writeError(w, http.StatusBadRequest, errors.New("user id required"))
			return
		}
		var req domain.ApprovalRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.service.SetUserApproval(r.Context(), userID, req.Approved); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.DeleteUser(r.Context(), tail); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleWS upgrades dashboard clients onto the realtime hub. Browsers cannot
// set an Authorization header on a websocket handshake, so the token rides in
// the query string.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			token = strings.TrimSpace(authorization[len("Bearer "):])
		}
	}
	if _, err := a.auth.ParseToken(token); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	a.hub.ServeWS(w, r)
}

func (a *API) handleSyncTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var payloads []domain.SyncTicketPayload
	if err := decodeJSON(r, &payloads); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.service.IngestTickets(r.Context(), payloads); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "received": len(payloads)})
}

func (a *API) handleSyncRaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var results []domain.RaceResult
	if err := decodeJSON(r, &results); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.service.IngestRaces(r.Context(), results); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "received": len(results)})
}

func (a *API) handleSyncHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}

	var hb domain.HeartbeatRequest
	if err := decodeJSON(r, &hb); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	terminal, err := a.service.Heartbeat(r.Context(), hb)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terminal": terminal})
}

func (a *API) handleSyncIni(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	terminalID := strings.TrimSpace(r.URL.Query().Get("terminal_id"))
	if terminalID == "" {
		writeError(w, http.StatusBadRequest, errors.New("terminal_id required"))
		return
	}

	ini, err := a.service.IniForTerminal(r.Context(), terminalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ini_content": ini})
}

func (a *API) handleSyncPendingVoids(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	terminalID := strings.TrimSpace(r.URL.Query().Get("terminal_id"))
	if terminalID == "" {
		writeError(w, http.StatusBadRequest, errors.New("terminal_id required"))
		return
	}

	voids, err := a.service.PendingVoidsForTerminal(r.Context(), terminalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_voids": voids})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Machine-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(startedAt)).
			Msg("request")
	})
}

func filterFromQuery(r *http.Request) domain.TransactionFilter {
	query := r.URL.Query()
	limit := -1
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	return domain.TransactionFilter{
		TerminalID: strings.TrimSpace(query.Get("terminal_id")),
		StartDate:  strings.TrimSpace(query.Get("start")),
		EndDate:    strings.TrimSpace(query.Get("end")),
		Limit:      limit,
	}
}

func reportFileStamp(filter domain.TransactionFilter) string {
	if filter.StartDate != "" || filter.EndDate != "" {
		return fmt.Sprintf("%s_%s", filter.StartDate, filter.EndDate)
	}
	return time.Now().UTC().Format("2006-01-02")
}

func reportToCSV(report domain.Report) string {
	lines := []string{
		"id,date,machine,type,ticket,amount,status",
	}
	for _, tx := range report.Transactions {
		lines = append(lines, fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s",
			tx.ID, tx.Date, csvEscape(tx.MachineName), tx.Type, tx.TicketID, tx.Amount.StringFixed(2), tx.Status))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("totals,totalBet,%s", report.Totals.TotalBet.StringFixed(2)),
		fmt.Sprintf("totals,totalPayout,%s", report.Totals.TotalPayout.StringFixed(2)),
		fmt.Sprintf("totals,netIncome,%s", report.Totals.NetIncome.StringFixed(2)),
	)
	return strings.Join(lines, "\n") + "\n"
}

func csvEscape(val string) string {
	if strings.ContainsAny(val, ",\"\n") {
		return "\"" + strings.ReplaceAll(val, "\"", "\"\"") + "\""
	}
	return val
}

// reportHTMLTmpl renders the printable report. All user-controlled fields are
// auto-escaped by html/template.
var reportHTMLTmpl = template.Must(template.New("report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Reporte {{.Period}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
    .voided { color: #b00; text-decoration: line-through; }
  </style>
</head>
<body>
  <h2>Reporte de Transacciones</h2>
  <p>Periodo: {{.Period}}</p>
  <p>Ventas: RD$ {{.TotalBet}} | Pagos: RD$ {{.TotalPayout}} | Ganancia: RD$ {{.NetIncome}}</p>

  <table>
    <thead><tr><th>Fecha</th><th>Banca</th><th>Tipo</th><th>Ticket</th><th>Monto</th><th>Estado</th></tr></thead>
    <tbody>{{range .Rows}}<tr{{if .Voided}} class="voided"{{end}}><td>{{.Date}}</td><td>{{.Machine}}</td><td>{{.Type}}</td><td>{{.Ticket}}</td><td style="text-align:right;">{{.Amount}}</td><td>{{.Status}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

type reportHTMLRow struct {
	Date    string
	Machine string
	Type    string
	Ticket  string
	Amount  string
	Status  string
	Voided  bool
}

type reportHTMLData struct {
	Period      string
	TotalBet    string
	TotalPayout string
	NetIncome   string
	Rows        []reportHTMLRow
}

func reportToPrintableHTML(report domain.Report, filter domain.TransactionFilter) string {
	data := reportHTMLData{
		Period:      reportFileStamp(filter),
		TotalBet:    report.Totals.TotalBet.StringFixed(2),
		TotalPayout: report.Totals.TotalPayout.StringFixed(2),
		NetIncome:   report.Totals.NetIncome.StringFixed(2),
		Rows:        make([]reportHTMLRow, 0, len(report.Transactions)),
	}
	for _, tx := range report.Transactions {
		data.Rows = append(data.Rows, reportHTMLRow{
			Date:    tx.Date,
			Machine: tx.MachineName,
			Type:    tx.Type,
			Ticket:  tx.TicketID,
			Amount:  tx.Amount.StringFixed(2),
			Status:  tx.Status,
			Voided:  tx.Status == domain.TxStatusVoided,
		})
	}

	var buf bytes.Buffer
	if err := reportHTMLTmpl.Execute(&buf, data); err != nil {
		// Fallback: return a plain-text error page rather than leaking internal details.
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeServiceError maps service and store errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrPendingApproval):
		status = http.StatusForbidden
	case strings.Contains(strings.ToLower(err.Error()), "admin role required"):
		status = http.StatusForbidden
	}
	writeError(w, status, err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		logger := log.Logger()
		logger.Error().Int("status", status).Err(err).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
