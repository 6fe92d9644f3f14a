// Package subscription provides the subscription linkage used by renewal
// billing: which subscriptions an order created or renews, and which
// processor customer and payment method to charge for renewals.
package subscription

import "time"

// Subscription statuses.
const (
	StatusActive   = "active"
	StatusTrial    = "trial"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

// Subscription is a recurring billing agreement.
type Subscription struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"` // local customer id
	Status     string `json:"status"`

	// ParentOrderID is the order that created the subscription; RenewalOrderIDs
	// are orders generated for each billing cycle.
	ParentOrderID   string   `json:"parent_order_id"`
	RenewalOrderIDs []string `json:"renewal_order_ids,omitempty"`

	// Payment method reference propagated from the most recent successful
	// payment, used to charge renewals off-session.
	ProcessorCustomerID string `json:"processor_customer_id,omitempty"`
	ProcessorSourceID   string `json:"processor_source_id,omitempty"`
	TokenID             string `json:"token_id,omitempty"`

	// PeriodDays is the billing cycle length. Zero means the scheduler's
	// default cycle.
	PeriodDays int `json:"period_days,omitempty"`

	NextRenewal *time.Time `json:"next_renewal,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// LinkedTo reports whether the subscription was created by or renews into the
// given order.
func (s *Subscription) LinkedTo(orderID string) bool {
	if s.ParentOrderID == orderID {
		return true
	}
	for _, id := range s.RenewalOrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}
