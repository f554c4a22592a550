package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/domain"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/service"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store/memory"
)

func newTestAPI(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, nil)
	auth := NewAuthManager(repo, "test-secret", time.Hour)
	return New(svc, auth).Handler(), repo
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("empty access token")
	}
	return resp.AccessToken
}

func TestLoginRejectsBadPassword(t *testing.T) {
	handler, _ := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	handler, _ := newTestAPI(t)

	for i := 0; i < loginAttemptLimit; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
			Username: "admin",
			Password: fmt.Sprintf("wrong-%d", i),
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status after limit = %d, want 429", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler, _ := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/stores", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stores", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestMovementRoundTrip(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/movements", token, domain.MovementRequest{
		StoreID:   1,
		ItemID:    1,
		BarcodeID: 100,
		Quantity:  10,
		Type:      domain.MovementIn,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stock in status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.MovementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Record.CurrentStock != 10 {
		t.Fatalf("stock = %d, want 10", resp.Record.CurrentStock)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/stock/movements", token, domain.MovementRequest{
		StoreID:   1,
		ItemID:    1,
		BarcodeID: 100,
		Quantity:  25,
		Type:      domain.MovementOut,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("oversell status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestMovementValidationStatus(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/movements", token, domain.MovementRequest{
		StoreID:   1,
		ItemID:    1,
		BarcodeID: 100,
		Quantity:  -1,
		Type:      domain.MovementIn,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTransferConflictStatus(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transfers", token, domain.TransferRequest{
		SourceStoreID: 1,
		DestStoreID:   2,
		ItemID:        1,
		BarcodeID:     100,
		Quantity:      5,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for missing source stock", rec.Code)
	}
	var resp domain.TransferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Message != "Item not found in source store" {
		t.Fatalf("resp = %v/%q", resp.Success, resp.Message)
	}
}

func TestManagerVerify(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/manager-verify", token, domain.ManagerVerifyRequest{Password: "9999"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.ManagerVerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Allowed {
		t.Fatal("correct manager password should be allowed")
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/manager-verify", token, domain.ManagerVerifyRequest{Password: "0000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Allowed {
		t.Fatal("wrong manager password must be denied")
	}
}

func TestShiftLifecycleOverHTTP(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/start", token, domain.ShiftStartRequest{StoreID: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/shifts/active", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("active status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/shifts/close", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/shifts/close", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second close status = %d, want 409", rec.Code)
	}
}

func TestLogoutReturnsSummary(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/start", token, domain.ShiftStartRequest{StoreID: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d: %s", rec.Code, rec.Body.String())
	}
	var summary domain.ShiftSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.CloseFailed {
		t.Fatalf("close failed: %s", summary.CloseMessage)
	}
	if summary.Shift == nil || summary.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("summary shift = %+v, want closed", summary.Shift)
	}
}

func TestAuditLogsRequireAdmin(t *testing.T) {
	handler, repo := newTestAPI(t)

	hashed, err := HashPassword("cashier123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo.AddUser(domain.UserAccount{
		Username:  "cashier",
		Password:  hashed,
		Role:      "cashier",
		Active:    true,
		CreatedAt: time.Now(),
	})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "cashier",
		Password: "cashier123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cashier login status = %d", rec.Code)
	}
	var loginResp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs?store_id=1", loginResp.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for non-admin", rec.Code)
	}

	adminToken := login(t, handler)
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs?store_id=1", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStoreCatalogRoute(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/movements", token, domain.MovementRequest{
		StoreID:   1,
		ItemID:    2,
		BarcodeID: 101,
		Quantity:  3,
		Type:      domain.MovementIn,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stores/1/items", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var items []domain.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].ID != 2 {
		t.Fatalf("items = %+v, want item 2", items)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stores/99/items", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown store status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stores/abc/items", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}
}

func TestInventoryQueryParams(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/movements", token, domain.MovementRequest{
		StoreID:   1,
		ItemID:    1,
		BarcodeID: 100,
		Quantity:  4,
		Type:      domain.MovementIn,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inventory?store_id=1&q=tee", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var rows []domain.InventoryRow
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].ItemID != 1 {
		t.Fatalf("rows = %+v", rows)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inventory", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing store status = %d, want 400", rec.Code)
	}
}
