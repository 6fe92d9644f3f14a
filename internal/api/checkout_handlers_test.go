package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fenwick-labs/payflow/internal/checkout"
	"github.com/fenwick-labs/payflow/internal/middleware"
	"github.com/fenwick-labs/payflow/internal/order"
	"github.com/fenwick-labs/payflow/internal/processor"
	"github.com/fenwick-labs/payflow/internal/subscription"
	"github.com/fenwick-labs/payflow/internal/vault"
)

// stubProcessorClient satisfies processor.Client for handler tests that fail
// before reaching the processor. Detach is implemented for the delete flow.
type stubProcessorClient struct {
	processor.Client
}

func (s *stubProcessorClient) DetachPaymentMethod(ctx context.Context, methodID string) error {
	return nil
}

type handlersEnv struct {
	checkout *CheckoutHandlers
	vault    *VaultHandlers
	orders   *order.InMemoryRepository
	tokens   *vault.InMemoryTokenRepository
}

func newHandlersEnv(t *testing.T) *handlersEnv {
	t.Helper()
	orders := order.NewInMemoryRepository()
	tokens := vault.NewInMemoryTokenRepository()
	maps := vault.NewInMemoryMappingRepository()
	subs := subscription.NewInMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	machine := order.NewMachine(orders, logger)

	oc, err := checkout.New(&stubProcessorClient{}, orders, machine, tokens, maps, subs,
		nil, checkout.Options{}, nil, logger)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	return &handlersEnv{
		checkout: NewCheckoutHandlers(oc, orders, "USD"),
		vault:    NewVaultHandlers(oc, tokens),
		orders:   orders,
		tokens:   tokens,
	}
}

func authedRequest(method, target, body, customerID string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if customerID != "" {
		req = req.WithContext(middleware.SetCustomerID(req.Context(), customerID))
	}
	return req
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error body %q: %v", rr.Body.String(), err)
	}
	return resp.Error.Code
}

// TestCheckout_InvalidBody verifies malformed JSON is rejected.
func TestCheckout_InvalidBody(t *testing.T) {
	env := newHandlersEnv(t)

	req := authedRequest(http.MethodPost, "/checkout", "{not json", "")
	rr := httptest.NewRecorder()
	env.checkout.Checkout(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if code := errorCode(t, rr); code != ErrCodeBadRequest {
		t.Errorf("error code = %s, want %s", code, ErrCodeBadRequest)
	}
}

// TestCheckout_BelowMinimum verifies the validation failure surfaces as a 400
// with the orchestrator's message.
func TestCheckout_BelowMinimum(t *testing.T) {
	env := newHandlersEnv(t)

	body := `{"total": 0.10, "currency": "USD", "email": "a@b.test", "intent_id": "pi_1"}`
	req := authedRequest(http.MethodPost, "/checkout", body, "")
	rr := httptest.NewRecorder()
	env.checkout.Checkout(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if code := errorCode(t, rr); code != ErrCodeValidation {
		t.Errorf("error code = %s, want %s", code, ErrCodeValidation)
	}
}

// TestCheckout_UnknownOrder verifies an unknown order id is a 404.
func TestCheckout_UnknownOrder(t *testing.T) {
	env := newHandlersEnv(t)

	req := authedRequest(http.MethodPost, "/checkout", `{"order_id": "nope"}`, "")
	rr := httptest.NewRecorder()
	env.checkout.Checkout(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

// TestGetOrder_RequiresAuth verifies order lookup needs an authenticated
// customer.
func TestGetOrder_RequiresAuth(t *testing.T) {
	env := newHandlersEnv(t)

	req := authedRequest(http.MethodGet, "/orders/o1", "", "")
	req.SetPathValue("id", "o1")
	rr := httptest.NewRecorder()
	env.checkout.GetOrder(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

// TestGetOrder_Ownership verifies customers can read their own orders but
// not anyone else's.
func TestGetOrder_Ownership(t *testing.T) {
	ctx := context.Background()
	env := newHandlersEnv(t)

	ord := &order.Order{Total: 10, Currency: "USD", CustomerID: "cust_1", Status: order.StatusPaid}
	if err := env.orders.Save(ctx, ord); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	req := authedRequest(http.MethodGet, "/orders/"+ord.ID, "", "cust_2")
	req.SetPathValue("id", ord.ID)
	rr := httptest.NewRecorder()
	env.checkout.GetOrder(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("foreign customer status = %d, want 403", rr.Code)
	}

	req = authedRequest(http.MethodGet, "/orders/"+ord.ID, "", "cust_1")
	req.SetPathValue("id", ord.ID)
	rr = httptest.NewRecorder()
	env.checkout.GetOrder(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("owner status = %d, want 200", rr.Code)
	}

	var got order.Order
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse order body: %v", err)
	}
	if got.ID != ord.ID || got.Status != order.StatusPaid {
		t.Errorf("order body = %+v", got)
	}
}

// TestRefundOrder_Validation verifies refunding an unpaid order is a 400.
func TestRefundOrder_Validation(t *testing.T) {
	ctx := context.Background()
	env := newHandlersEnv(t)

	ord := &order.Order{Total: 10, Currency: "USD", CustomerID: "cust_1", Status: order.StatusProcessing}
	if err := env.orders.Save(ctx, ord); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	req := authedRequest(http.MethodPost, "/orders/"+ord.ID+"/refund", `{"amount": 5}`, "cust_1")
	req.SetPathValue("id", ord.ID)
	rr := httptest.NewRecorder()
	env.checkout.RefundOrder(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if code := errorCode(t, rr); code != ErrCodeValidation {
		t.Errorf("error code = %s, want %s", code, ErrCodeValidation)
	}
}

// TestWritePaymentError_Mapping verifies error-to-status mapping for the
// payment error families.
func TestWritePaymentError_Mapping(t *testing.T) {
	ord := &order.Order{ID: "o1"}
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"declined", &checkout.DeclinedError{ChargeID: "ch_1", Reason: "card declined"}, http.StatusPaymentRequired, ErrCodePaymentDeclined},
		{"locked", order.ErrLocked, http.StatusConflict, ErrCodeOrderLocked},
		{"invalid transition", order.ErrInvalidTransition, http.StatusConflict, ErrCodeInvalidState},
		{"not found", order.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"configuration", &checkout.ConfigurationError{Msg: "no key"}, http.StatusInternalServerError, ErrCodeInternal},
		{"unexpected", io.ErrUnexpectedEOF, http.StatusPaymentRequired, ErrCodePaymentFailed},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		rr := httptest.NewRecorder()
		writePaymentError(rr, req, ord, tt.err)
		if rr.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, rr.Code, tt.wantStatus)
		}
		if code := errorCode(t, rr); code != tt.wantCode {
			t.Errorf("%s: error code = %s, want %s", tt.name, code, tt.wantCode)
		}
	}
}

// TestStatusCodeMapping spot-checks the code-to-status table.
func TestStatusCodeMapping(t *testing.T) {
	tests := map[string]int{
		ErrCodeValidation:      http.StatusBadRequest,
		ErrCodeOrderLocked:     http.StatusConflict,
		ErrCodeInvalidState:    http.StatusConflict,
		ErrCodePaymentDeclined: http.StatusPaymentRequired,
		ErrCodePaymentFailed:   http.StatusPaymentRequired,
		"something_else":       http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := StatusCodeMapping(code); got != want {
			t.Errorf("StatusCodeMapping(%s) = %d, want %d", code, got, want)
		}
	}
}
