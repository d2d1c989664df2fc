package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"timbangpos/backend/internal/domain"
	"timbangpos/backend/internal/service"
	"timbangpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, "123456")
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
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

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
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

func TestHandleCustomers_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleCustomers_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.CustomerListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Customers) == 0 {
		t.Fatalf("expected seeded customers in response")
	}
}

// doAuthedJSON performs an authenticated JSON request with CSRF token set and
// returns the recorder.
func doAuthedJSON(t *testing.T, api *API, method, path string, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSaleThenQuickPaymentFlow(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	// Weigh in 105 kg gross minus a 5 kg cage: 100 kg net at 3 per kg.
	rec := doAuthedJSON(t, api, http.MethodPost, "/api/v1/invoices", token, csrf, domain.InvoiceCreateRequest{
		CustomerID:  "cus-demo-budi",
		TruckID:     "trk-demo-1",
		InvoiceDate: "2026-01-15",
		Lines: []domain.LineItemInput{
			{
				GrossWeight: decimal.NewFromInt(105),
				CagesCount:  1,
				CageWeight:  decimal.NewFromInt(5),
				UnitPrice:   decimal.NewFromInt(3),
			},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create invoice: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var sale domain.SaleResult
	if err := json.NewDecoder(rec.Body).Decode(&sale); err != nil {
		t.Fatalf("decode sale result: %v", err)
	}
	if !sale.Invoice.FinalAmount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected final amount 300, got %s", sale.Invoice.FinalAmount)
	}
	if sale.Invoice.Number == "" {
		t.Fatalf("expected invoice number to be assigned")
	}

	// The unpaid sale became debt. Pay all of it off.
	amount := decimal.NewFromInt(300)
	rec = doAuthedJSON(t, api, http.MethodPost, "/api/v1/payments/quick", token, csrf, domain.QuickPaymentRequest{
		CustomerID: "cus-demo-budi",
		Amount:     &amount,
		Method:     domain.PaymentMethodCash,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("quick payment: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var payment domain.PaymentResult
	if err := json.NewDecoder(rec.Body).Decode(&payment); err != nil {
		t.Fatalf("decode payment result: %v", err)
	}
	if !payment.RemainingDebt.IsZero() {
		t.Fatalf("expected remaining debt zero, got %s", payment.RemainingDebt)
	}
}

func TestValidationSessionOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doAuthedJSON(t, api, http.MethodPost, "/api/v1/customers/validation-sessions", token, csrf, validationStartRequest{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var started map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&started); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	sessionID := started["session_id"]
	if sessionID == "" {
		t.Fatalf("expected session id in response")
	}

	rec = doAuthedJSON(t, api, http.MethodPost, "/api/v1/customers/validation-sessions/"+sessionID+"/input", token, csrf, validationInputRequest{
		Field: "name",
		Value: "Pelanggan Baru",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("input: expected 202, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doAuthedJSON(t, api, http.MethodPost, "/api/v1/customers/validation-sessions/"+sessionID+"/input", token, csrf, validationInputRequest{
		Field: "phone",
		Value: "0812999888777",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("input: expected 202, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doAuthedJSON(t, api, http.MethodPost, "/api/v1/customers/validation-sessions/"+sessionID+"/settle", token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var snapshot struct {
		CanSave bool `json:"can_save"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snapshot.CanSave {
		t.Fatalf("expected clean inputs to be saveable")
	}

	rec = doAuthedJSON(t, api, http.MethodDelete, "/api/v1/customers/validation-sessions/"+sessionID, token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end session: expected 200, got %d", rec.Code)
	}
}

func TestBulkSettleRequiresAdminRole(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	body, _ := json.Marshal(domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("cashier login failed: %d", res.Code)
	}
	var login domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	rec := doAuthedJSON(t, api, http.MethodPost, "/api/v1/payments/bulk-settle", login.AccessToken, csrf, domain.BulkSettleRequest{
		CustomerIDs: []string{"cus-demo-budi"},
		ManagerPIN:  "123456",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
