package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fenwick-labs/payflow/internal/checkout"
	"github.com/fenwick-labs/payflow/internal/middleware"
	"github.com/fenwick-labs/payflow/internal/vault"
)

// VaultHandlers holds dependencies for saved payment method HTTP handlers.
type VaultHandlers struct {
	orchestrator *checkout.Orchestrator
	tokens       vault.TokenRepository
}

// NewVaultHandlers creates a new VaultHandlers instance.
func NewVaultHandlers(orchestrator *checkout.Orchestrator, tokens vault.TokenRepository) *VaultHandlers {
	return &VaultHandlers{
		orchestrator: orchestrator,
		tokens:       tokens,
	}
}

// SetupIntentResponse carries the setup intent the client confirms
// browser-side to save a card without charging it.
type SetupIntentResponse struct {
	SetupIntentID string `json:"setup_intent_id"`
	ClientSecret  string `json:"client_secret"`
}

// CreateSetupIntent starts the save-a-card flow for the authenticated customer.
// POST /payment-methods/setup-intent
func (h *VaultHandlers) CreateSetupIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID := middleware.GetCustomerID(ctx)
	if customerID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	si, err := h.orchestrator.CreateSetupIntent(ctx, customerID)
	if err != nil {
		writeVaultError(w, r, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, SetupIntentResponse{
		SetupIntentID: si.ID,
		ClientSecret:  si.ClientSecret,
	})
}

// FinalizeSetupIntentRequest represents the request body for finalizing a
// confirmed setup intent into a saved payment method.
type FinalizeSetupIntentRequest struct {
	SetupIntentID string `json:"setup_intent_id"`
}

// FinalizeSetupIntent saves the payment method from a succeeded setup intent.
// POST /payment-methods
func (h *VaultHandlers) FinalizeSetupIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID := middleware.GetCustomerID(ctx)
	if customerID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	var req FinalizeSetupIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.SetupIntentID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "setup_intent_id is required")
		return
	}

	token, err := h.orchestrator.FinalizeSetupIntent(ctx, customerID, req.SetupIntentID)
	if err != nil {
		writeVaultError(w, r, err)
		return
	}

	writeJSON(ctx, w, http.StatusCreated, token)
}

// ListPaymentMethods lists the authenticated customer's saved payment methods.
// GET /payment-methods
func (h *VaultHandlers) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID := middleware.GetCustomerID(ctx)
	if customerID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	tokens, err := h.tokens.ListByCustomer(ctx, customerID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list payment methods", "customer_id", customerID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to list payment methods")
		return
	}
	if tokens == nil {
		tokens = []*vault.Token{}
	}

	writeJSON(ctx, w, http.StatusOK, tokens)
}

// DeletePaymentMethod detaches and removes a saved payment method.
// DELETE /payment-methods/{id}
func (h *VaultHandlers) DeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID := middleware.GetCustomerID(ctx)
	if customerID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	if err := h.orchestrator.DeleteToken(ctx, customerID, r.PathValue("id")); err != nil {
		writeVaultError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeVaultError maps payment method errors onto the API error codes.
func writeVaultError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var verr *checkout.ValidationError
	switch {
	case errors.Is(err, vault.ErrTokenNotFound):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "payment method not found")
	case errors.As(err, &verr):
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, verr.Error())
	default:
		slog.ErrorContext(ctx, "payment method operation failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "payment method operation failed")
	}
}
