// Package api provides HTTP handlers for the payflow API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/payflow/internal/checkout"
	"github.com/fenwick-labs/payflow/internal/middleware"
	"github.com/fenwick-labs/payflow/internal/order"
)

// CheckoutHandlers holds dependencies for checkout-related HTTP handlers.
type CheckoutHandlers struct {
	orchestrator  *checkout.Orchestrator
	orders        order.Repository
	storeCurrency string
}

// NewCheckoutHandlers creates a new CheckoutHandlers instance.
func NewCheckoutHandlers(orchestrator *checkout.Orchestrator, orders order.Repository, storeCurrency string) *CheckoutHandlers {
	return &CheckoutHandlers{
		orchestrator:  orchestrator,
		orders:        orders,
		storeCurrency: storeCurrency,
	}
}

// CheckoutRequest represents the request body for submitting a checkout.
// Either order_id references an existing order, or total/email describe a new
// one.
type CheckoutRequest struct {
	OrderID  string  `json:"order_id,omitempty"`
	Total    float64 `json:"total,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Email    string  `json:"email,omitempty"`
	Name     string  `json:"name,omitempty"`

	TokenID       string `json:"token_id,omitempty"`
	IntentID      string `json:"intent_id,omitempty"`
	SetupIntentID string `json:"setup_intent_id,omitempty"`
	SaveMethod    bool   `json:"save_method,omitempty"`
	Subscription  bool   `json:"subscription,omitempty"`
	Trial         bool   `json:"trial,omitempty"`
}

// CheckoutResponse represents a successful checkout submission.
type CheckoutResponse struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Redirect string `json:"redirect"`
}

// Checkout runs the payment flow for an order.
// POST /checkout
func (h *CheckoutHandlers) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	ord, err := h.resolveOrder(r, &req)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "order not found")
		return
	}

	result, err := h.orchestrator.ProcessPayment(ctx, ord, checkout.PaymentContext{
		TokenID:       req.TokenID,
		IntentID:      req.IntentID,
		SetupIntentID: req.SetupIntentID,
		SaveMethod:    req.SaveMethod,
		Subscription:  req.Subscription,
		Trial:         req.Trial,
	})
	if err != nil {
		writePaymentError(w, r, ord, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, CheckoutResponse{
		OrderID:  ord.ID,
		Status:   string(ord.Status),
		Redirect: result.Redirect,
	})
}

// IntentRequest represents the request body for creating a payment intent
// ahead of checkout submission.
type IntentRequest struct {
	OrderID  string  `json:"order_id,omitempty"`
	Total    float64 `json:"total,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Email    string  `json:"email,omitempty"`
	Name     string  `json:"name,omitempty"`
}

// IntentResponse carries the intent the client confirms browser-side.
type IntentResponse struct {
	OrderID      string `json:"order_id"`
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
}

// CreateIntent creates or refreshes the payment intent for an order.
// POST /checkout/intent
func (h *CheckoutHandlers) CreateIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	ord, err := h.resolveOrder(r, &CheckoutRequest{
		OrderID:  req.OrderID,
		Total:    req.Total,
		Currency: req.Currency,
		Email:    req.Email,
		Name:     req.Name,
	})
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "order not found")
		return
	}

	intent, err := h.orchestrator.CreateIntentForOrder(ctx, ord)
	if err != nil {
		writePaymentError(w, r, ord, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, IntentResponse{
		OrderID:      ord.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
	})
}

// GetOrder returns an order owned by the authenticated customer.
// GET /orders/{id}
func (h *CheckoutHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID := middleware.GetCustomerID(ctx)
	if customerID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	ord, err := h.orders.Load(ctx, r.PathValue("id"))
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "order not found")
		return
	}
	if ord.CustomerID != customerID {
		ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "order belongs to another customer")
		return
	}

	writeJSON(ctx, w, http.StatusOK, ord)
}

// RefundRequest represents the request body for refunding an order.
type RefundRequest struct {
	Amount float64 `json:"amount"`
}

// RefundOrder refunds part or all of a paid order.
// POST /orders/{id}/refund
func (h *CheckoutHandlers) RefundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID := middleware.GetCustomerID(ctx)
	if customerID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	ord, err := h.orders.Load(ctx, r.PathValue("id"))
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "order not found")
		return
	}
	if ord.CustomerID != customerID {
		ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "order belongs to another customer")
		return
	}

	amount := req.Amount
	if amount == 0 {
		amount = ord.Total
	}
	if err := h.orchestrator.Refund(ctx, ord, amount); err != nil {
		writePaymentError(w, r, ord, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, ord)
}

// resolveOrder loads the referenced order or builds a new draft from the
// request. New orders are stamped with the authenticated customer, if any.
func (h *CheckoutHandlers) resolveOrder(r *http.Request, req *CheckoutRequest) (*order.Order, error) {
	ctx := r.Context()
	if req.OrderID != "" {
		return h.orders.Load(ctx, req.OrderID)
	}

	cur := strings.ToUpper(req.Currency)
	if cur == "" {
		cur = h.storeCurrency
	}
	now := time.Now()
	ord := &order.Order{
		ID:         uuid.New().String(),
		Total:      req.Total,
		Currency:   cur,
		CustomerID: middleware.GetCustomerID(ctx),
		Email:      req.Email,
		Name:       req.Name,
		Status:     order.StatusDraft,
		CreatedAt:  &now,
	}
	if err := h.orders.Save(ctx, ord); err != nil {
		return nil, err
	}
	return ord, nil
}

// writePaymentError maps checkout and order errors onto the API error codes.
func writePaymentError(w http.ResponseWriter, r *http.Request, ord *order.Order, err error) {
	ctx := r.Context()

	var verr *checkout.ValidationError
	var cerr *checkout.ConfigurationError
	var derr *checkout.DeclinedError

	switch {
	case errors.As(err, &verr):
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, verr.Error())
	case errors.As(err, &cerr):
		slog.ErrorContext(ctx, "checkout configuration error", "order_id", ord.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "payment is not configured")
	case errors.As(err, &derr):
		ctx = middleware.SetErrorCode(ctx, ErrCodePaymentDeclined)
		WriteError(w, ctx, http.StatusPaymentRequired, ErrCodePaymentDeclined, derr.Reason)
	case errors.Is(err, order.ErrLocked):
		ctx = middleware.SetErrorCode(ctx, ErrCodeOrderLocked)
		WriteError(w, ctx, http.StatusConflict, ErrCodeOrderLocked, "another payment attempt is in progress")
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrUnknownStatus):
		ctx = middleware.SetErrorCode(ctx, ErrCodeInvalidState)
		WriteError(w, ctx, http.StatusConflict, ErrCodeInvalidState, err.Error())
	case errors.Is(err, order.ErrNotFound):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "order not found")
	default:
		slog.ErrorContext(ctx, "payment failed", "order_id", ord.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodePaymentFailed)
		WriteError(w, ctx, http.StatusPaymentRequired, ErrCodePaymentFailed, "payment could not be completed")
	}
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
