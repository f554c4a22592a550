package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/domain"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/service"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store"
)

const (
	maxBodyBytes = 1 << 20

	loginAttemptLimit  = 5
	loginAttemptWindow = 15 * time.Minute
)

type API struct {
	svc    *service.Service
	auth   *AuthManager
	logins *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager) *API {
	return &API{
		svc:    svc,
		auth:   auth,
		logins: newAttemptLimiter(loginAttemptLimit, loginAttemptWindow),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/manager-verify", a.requireAuth(a.handleManagerVerify))
	mux.HandleFunc("POST /api/v1/auth/logout", a.requireAuth(a.handleLogout))

	mux.HandleFunc("GET /api/v1/stores", a.requireAuth(a.handleListStores))
	mux.HandleFunc("GET /api/v1/stores/{store_id}/items", a.requireAuth(a.handleListStoreItems))
	mux.HandleFunc("GET /api/v1/inventory", a.requireAuth(a.handleSearchInventory))

	mux.HandleFunc("POST /api/v1/stock/movements", a.requireAuth(a.handleApplyMovement))
	mux.HandleFunc("GET /api/v1/stock/transactions", a.requireAuth(a.handleListStockTransactions))

	mux.HandleFunc("POST /api/v1/transfers", a.requireAuth(a.handleTransfer))
	mux.HandleFunc("GET /api/v1/transfers", a.requireAuth(a.handleListTransfers))

	mux.HandleFunc("POST /api/v1/documents/next-number", a.requireAuth(a.handleNextDocumentNumber))
	mux.HandleFunc("POST /api/v1/barcodes/assign", a.requireAuth(a.handleAssignBarcode))

	mux.HandleFunc("POST /api/v1/shifts/start", a.requireAuth(a.handleStartShift))
	mux.HandleFunc("POST /api/v1/shifts/close", a.requireAuth(a.handleCloseShift))
	mux.HandleFunc("GET /api/v1/shifts/active", a.requireAuth(a.handleActiveShift))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleListAuditLogs))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// requireAuth verifies the bearer token and attaches the actor to the
// request context for the service layer.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := service.WithActor(r.Context(), *actor)
		next(w, r.WithContext(ctx))
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := strings.ToLower(strings.TrimSpace(req.Username))
	if !a.logins.allow("login:" + key) {
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	resp, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeServiceError(w, err)
		return
	}

	a.logins.reset("login:" + key)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleManagerVerify(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())

	var req domain.ManagerVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := "manager:" + actor.Username
	if !a.logins.allow(key) {
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	allowed, err := a.auth.VerifyManagerPassword(r.Context(), actor.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if allowed {
		a.logins.reset(key)
	}
	writeJSON(w, http.StatusOK, domain.ManagerVerifyResponse{Allowed: allowed})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	summary, err := a.svc.EnforcedLogout(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := a.svc.ListStores(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

func (a *API) handleListStoreItems(w http.ResponseWriter, r *http.Request) {
	storeID, err := strconv.ParseInt(r.PathValue("store_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid store id")
		return
	}

	items, err := a.svc.ListStoreItems(r.Context(), storeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleSearchInventory(w http.ResponseWriter, r *http.Request) {
	q := domain.InventoryQuery{
		StoreID:     queryInt64(r, "store_id"),
		ItemID:      queryInt64(r, "item_id"),
		BarcodeID:   queryInt64(r, "barcode_id"),
		Category:    strings.TrimSpace(r.URL.Query().Get("category")),
		NameLike:    strings.TrimSpace(r.URL.Query().Get("q")),
		InStockOnly: r.URL.Query().Get("in_stock") == "true",
		Limit:       int(queryInt64(r, "limit")),
	}

	rows, err := a.svc.SearchInventory(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleApplyMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.MovementRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := a.svc.ApplyMovement(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListStockTransactions(w http.ResponseWriter, r *http.Request) {
	from, to, ok := queryTimeRange(w, r)
	if !ok {
		return
	}

	entries, err := a.svc.ListStockTransactions(r.Context(), queryInt64(r, "store_id"), from, to, int(queryInt64(r, "limit")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := a.svc.Transfer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, resp)
}

func (a *API) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := a.svc.ListTransfers(r.Context(), queryInt64(r, "store_id"), int(queryInt64(r, "limit")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (a *API) handleNextDocumentNumber(w http.ResponseWriter, r *http.Request) {
	var req domain.DocumentNumberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := a.svc.NextDocumentNumber(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAssignBarcode(w http.ResponseWriter, r *http.Request) {
	var req domain.BarcodeAssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := a.svc.AssignBarcode(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStartShift(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := a.svc.StartShift(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCloseShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.svc.CloseShift(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleActiveShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.svc.GetActiveShift(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	if actor.Role != "admin" {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	from, to, ok := queryTimeRange(w, r)
	if !ok {
		return
	}

	logs, err := a.svc.ListAuditLogs(r.Context(), queryInt64(r, "store_id"), from, to, int(queryInt64(r, "limit")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func writeServiceError(w http.ResponseWriter, err error) {
	var insufficient *store.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusConflict, insufficient.Error())
	case errors.Is(err, store.ErrInvalidMovement):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrItemNotInSourceStore):
		writeError(w, http.StatusConflict, "item not found in source store")
	case errors.Is(err, store.ErrShiftNotActive):
		writeError(w, http.StatusConflict, "no active shift")
	case errors.Is(err, store.ErrDuplicateBarcode):
		writeError(w, http.StatusConflict, "barcode already exists")
	case errors.Is(err, service.ErrBarcodeExhausted):
		writeError(w, http.StatusConflict, "could not generate a unique barcode")
	case errors.Is(err, store.ErrTransactionFailed):
		writeError(w, http.StatusServiceUnavailable, "operation conflicted, retry")
	case errors.Is(err, service.ErrNoActor):
		writeError(w, http.StatusUnauthorized, "authentication required")
	default:
		log.Printf("[http] ERROR: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] WARN: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func queryInt64(r *http.Request, key string) int64 {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func queryTimeRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	var from, to time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return from, to, false
		}
		from = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return from, to, false
		}
		to = parsed
	}
	return from, to, true
}

// attemptLimiter throttles credential checks per key within a rolling
// window.
type attemptLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	seen   map[string]*attemptState
}

type attemptState struct {
	count       int
	windowStart time.Time
}

func newAttemptLimiter(limit int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		limit:  limit,
		window: window,
		seen:   make(map[string]*attemptState),
	}
}

func (l *attemptLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	state, ok := l.seen[key]
	if !ok || now.Sub(state.windowStart) > l.window {
		l.seen[key] = &attemptState{count: 1, windowStart: now}
		return true
	}
	if state.count >= l.limit {
		return false
	}
	state.count++
	return true
}

func (l *attemptLimiter) reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
}
