// Package order provides the order model, its payment status state machine,
// and repositories for order persistence.
package order

import "time"

// Status is an order lifecycle status.
type Status string

// Order lifecycle statuses.
const (
	StatusDraft          Status = "draft"
	StatusPendingPayment Status = "pending_payment"
	StatusProcessing     Status = "processing"
	StatusOnHold         Status = "on_hold"
	StatusPaymentFailed  Status = "payment_failed"
	StatusPaid           Status = "paid"
	StatusRefunded       Status = "refunded"
	StatusCanceled       Status = "canceled"
)

// Reconciliation metadata keys stored on the order's metadata map.
const (
	MetaGateway           = "payment_gateway"
	MetaIntentID          = "intent_id"
	MetaSetupIntentID     = "setup_intent_id"
	MetaProcessorCustomer = "processor_customer_id"
	MetaProcessorSource   = "processor_source_id"
	MetaChargeID          = "charge_id"
	MetaChargeCaptured    = "charge_captured"
	MetaFeeTotal          = "fee_total"
	MetaNetTotal          = "net_total"
	MetaRefundedTotal     = "refunded_total"
	MetaCurrency          = "processor_currency"
	MetaAwaitingAction    = "awaiting_action"
	MetaCardBrand         = "card_brand"
	MetaMandateID         = "mandate_id"
	MetaPaymentMethodType = "payment_method_type"

	metaPaymentLockExpiry = "payment_lock_expiry"
	metaPaymentLockIntent = "payment_lock_intent"
	metaRefundLockExpiry  = "refund_lock_expiry"
	metaRefundLockIntent  = "refund_lock_intent"
)

// Note is an admin-facing timeline entry appended on status changes.
type Note struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Order is a purchasable transaction record.
type Order struct {
	ID         string            `json:"id"`
	Total      float64           `json:"total"`
	Currency   string            `json:"currency"`
	CustomerID string            `json:"customer_id"` // empty for guest orders
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	Status     Status            `json:"status"`
	Meta       map[string]string `json:"meta,omitempty"`
	Notes      []Note            `json:"notes,omitempty"`
	CreatedAt  *time.Time        `json:"created_at,omitempty"`
	UpdatedAt  *time.Time        `json:"updated_at,omitempty"`
}

// GetMeta returns the metadata value for key, or empty string.
func (o *Order) GetMeta(key string) string {
	if o.Meta == nil {
		return ""
	}
	return o.Meta[key]
}

// SetMeta sets a metadata value, allocating the map on first use.
func (o *Order) SetMeta(key, value string) {
	if o.Meta == nil {
		o.Meta = make(map[string]string)
	}
	o.Meta[key] = value
}

// DeleteMeta removes a metadata key.
func (o *Order) DeleteMeta(key string) {
	delete(o.Meta, key)
}

// AddNote appends a timeline note to the order.
func (o *Order) AddNote(text string) {
	o.Notes = append(o.Notes, Note{At: time.Now(), Text: text})
}

// IsGuest reports whether the order has no registered customer.
func (o *Order) IsGuest() bool {
	return o.CustomerID == ""
}

// IsPaid reports whether the order has been paid.
func (o *Order) IsPaid() bool {
	return o.Status == StatusPaid
}

// Terminal reports whether the order is financially immutable. Notes and
// metadata may still be appended in a terminal state.
func (o *Order) Terminal() bool {
	switch o.Status {
	case StatusPaid, StatusRefunded, StatusCanceled:
		return true
	}
	return false
}

// clone returns a deep copy of the order so repository callers cannot mutate
// stored state.
func (o *Order) clone() *Order {
	copied := *o
	if o.Meta != nil {
		copied.Meta = make(map[string]string, len(o.Meta))
		for k, v := range o.Meta {
			copied.Meta[k] = v
		}
	}
	if o.Notes != nil {
		copied.Notes = make([]Note, len(o.Notes))
		copy(copied.Notes, o.Notes)
	}
	return &copied
}
