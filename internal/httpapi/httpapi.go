package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"boxoffice/backend/internal/domain"
	"boxoffice/backend/internal/service"
	"boxoffice/backend/internal/store"
	"boxoffice/backend/internal/xid"
)

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	loginLimiter   *attemptLimiter
	confirmLimiter *attemptLimiter
	csrfSecret     []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// A predictable fallback would defeat the token entirely.
		log.Fatalf("csrf secret generation failed: %v", err)
	}
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  allowedOrigin,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		confirmLimiter: newAttemptLimiter(8, time.Minute),
		csrfSecret:     csrfSecret,
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
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/films", a.requireAuth(a.handleFilms, "cashier", "admin"))
	mux.HandleFunc("/api/v1/films/", a.requireAuth(a.handleFilmActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/shows", a.requireAuth(a.handleShows, "admin"))
	mux.HandleFunc("/api/v1/shows/", a.requireAuth(a.handleShowActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/tickets/", a.requireAuth(a.handleTicketActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/checks", a.requireAuth(a.handleChecks, "cashier", "admin"))
	mux.HandleFunc("/api/v1/checks/next", a.requireAuth(a.handleNextCheckID, "cashier", "admin"))
	mux.HandleFunc("/api/v1/checks/", a.requireAuth(a.handleCheckActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, "admin"))

	mux.HandleFunc("/api/v1/returns/request", a.requireAuth(a.handleReturnRequest, "cashier", "admin"))
	mux.HandleFunc("/api/v1/returns/confirm", a.requireAuth(a.handleReturnConfirm, "cashier", "admin"))
	mux.HandleFunc("/api/v1/returns/cancel", a.requireAuth(a.handleReturnCancel, "cashier", "admin"))
	mux.HandleFunc("/api/v1/returns/state", a.requireAuth(a.handleReturnState, "cashier", "admin"))

	mux.HandleFunc("/api/v1/reports/sales", a.requireAuth(a.handleSalesReport, "admin"))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, "admin"))
	mux.HandleFunc("/api/v1/users/password", a.requireAuth(a.handlePasswordChange, "admin"))

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

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// errStatus maps ledger failures to response codes: conflicts roll back and
// ask the caller to pick another value, validation asks for corrected input,
// role failures are forbidden.
func errStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateName),
		errors.Is(err, store.ErrTimeConflict),
		errors.Is(err, store.ErrTicketSold),
		errors.Is(err, store.ErrCheckIDTaken),
		errors.Is(err, service.ErrNoReturnPending):
		return http.StatusConflict
	case errors.Is(err, store.ErrEmptyCheck),
		errors.Is(err, service.ErrInvalid),
		errors.Is(err, service.ErrEmptySelection):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrReturnRejected):
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
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

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
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

// csrfExemptPaths lists paths that are exempt from CSRF validation.
// Login is excluded because it is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods (POST/PUT/PATCH).
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch && method != http.MethodDelete {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
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

func (a *API) handleFilms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		films, err := a.service.ListFilms(r.Context(), r.URL.Query().Get("name"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"films": films})
	case http.MethodPost:
		var req domain.FilmCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		film, err := a.service.CreateFilm(r.Context(), req)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"film": film})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleFilmActions(w http.ResponseWriter, r *http.Request) {
	tail, ok := pathTail(w, r, "/api/v1/films/")
	if !ok {
		return
	}

	if rest, found := strings.CutSuffix(tail, "/shows"); found {
		filmID, err := parseID(rest)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		shows, err := a.service.ListShowsForFilm(r.Context(), filmID, r.URL.Query().Get("time"))
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shows": shows})
		return
	}

	filmID, err := parseID(tail)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		film, err := a.service.GetFilm(r.Context(), filmID)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"film": film})
	case http.MethodPatch:
		var req domain.FilmUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		film, err := a.service.UpdateFilm(r.Context(), filmID, req)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"film": film})
	case http.MethodDelete:
		if err := a.service.DeleteFilm(r.Context(), filmID); err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleShows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShowCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreateShow(r.Context(), req)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleShowActions(w http.ResponseWriter, r *http.Request) {
	tail, ok := pathTail(w, r, "/api/v1/shows/")
	if !ok {
		return
	}

	if rest, found := strings.CutSuffix(tail, "/tickets"); found {
		showID, err := parseID(rest)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		seats, err := a.service.ShowSeats(r.Context(), showID)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tickets": seats})
		return
	}

	if rest, found := strings.CutSuffix(tail, "/sold"); found {
		showID, err := parseID(rest)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		seats, err := a.service.ShowSeats(r.Context(), showID)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		sold := make([]int64, 0, len(seats))
		for _, seat := range seats {
			if seat.Sold {
				sold = append(sold, seat.TicketID)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sold_ticket_ids": sold})
		return
	}

	showID, err := parseID(tail)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := a.service.DeleteShow(r.Context(), showID); err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	tail, ok := pathTail(w, r, "/api/v1/tickets/")
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	ticketID, err := parseID(tail)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	name, err := a.service.TicketDisplayName(r.Context(), ticketID)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	sold, err := a.service.IsSold(r.Context(), ticketID)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_id": ticketID,
		"name":      name,
		"sold":      sold,
	})
}

func (a *API) handleChecks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
		checks, err := a.service.ListChecks(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
	case http.MethodPost:
		var req domain.CommitCheckRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.CommitCheck(r.Context(), req)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleNextCheckID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	id, err := a.service.NextCheckID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"next_check_id": id})
}

func (a *API) handleCheckActions(w http.ResponseWriter, r *http.Request) {
	tail, ok := pathTail(w, r, "/api/v1/checks/")
	if !ok {
		return
	}

	if rest, found := strings.CutSuffix(tail, "/return"); found {
		checkID, err := parseID(rest)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		if err := requireAdminActor(w, r); err != nil {
			return
		}
		if err := a.service.ReturnCheck(r.Context(), checkID); err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	checkID, err := parseID(tail)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	detail, err := a.service.GetCheck(r.Context(), checkID)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	tail, ok := pathTail(w, r, "/api/v1/sales/")
	if !ok {
		return
	}
	rest, found := strings.CutSuffix(tail, "/return")
	if !found {
		writeError(w, http.StatusBadRequest, errors.New("unknown sale action"))
		return
	}
	saleID, err := parseID(rest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	if err := a.service.ReturnSale(r.Context(), saleID); err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleReturnRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ReturnRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	terminalID := terminalOrDefault(req.TerminalID)

	awaiting, err := a.service.RequestReturn(terminalID, req.SaleIDs, req.CheckIDs)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	state := service.ReturnStateIdle
	if awaiting {
		state = service.ReturnStateAwaiting
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

// handleReturnConfirm checks the supplied credentials and executes the
// staged return only when they belong to the privileged role. The staged
// selection survives a rejection, so the operator can fetch an admin.
func (a *API) handleReturnConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ReturnConfirmBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	terminalID := terminalOrDefault(req.TerminalID)

	if !a.confirmLimiter.Allow("return:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many confirmation attempts"))
		return
	}

	// A failed credential lookup is just a non-privileged role.
	role, err := a.auth.VerifyCredentials(req.Login, req.Password)
	if err != nil {
		role = ""
	}

	result, err := a.service.ConfirmReturn(r.Context(), terminalID, role)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleReturnCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ReturnCancelBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.service.CancelReturn(terminalOrDefault(req.TerminalID))
	writeJSON(w, http.StatusOK, map[string]any{"state": service.ReturnStateIdle})
}

func (a *API) handleReturnState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	terminalID := terminalOrDefault(r.URL.Query().Get("terminal_id"))
	writeJSON(w, http.StatusOK, map[string]any{"state": a.service.ReturnState(terminalID)})
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.SalesReport(r.Context())
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers := a.auth.ListCashiers()
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.PasswordChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.auth.ChangePassword(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
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

		requestID := xid.New("req")
		w.Header().Set("X-Request-ID", requestID)

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s %s", r.Method, r.URL.Path, requestID, time.Since(startedAt))
	})
}

// requireAdminActor double-checks the admin role inside handlers that live
// on an otherwise cashier-reachable route prefix.
func requireAdminActor(w http.ResponseWriter, r *http.Request) error {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok || actor.Role != domain.RoleAdmin {
		err := errors.New("forbidden role")
		writeError(w, http.StatusForbidden, err)
		return err
	}
	return nil
}

func pathTail(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusBadRequest, errors.New("invalid path"))
		return "", false
	}
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("id required"))
		return "", false
	}
	return tail, true
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(raw), "/"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func terminalOrDefault(terminalID string) string {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return "till-1"
	}
	return terminalID
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

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
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
