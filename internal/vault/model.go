// Package vault stores reusable payment method tokens and the mapping from
// local customers to processor customer ids.
package vault

import "time"

// Token is a local reference to a reusable processor payment method.
type Token struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id"` // local customer id
	GatewayID   string     `json:"gateway_id"`
	MethodID    string     `json:"method_id"`   // processor payment method id
	Fingerprint string     `json:"fingerprint"` // duplicate detection across re-saves
	Type        string     `json:"type"`        // e.g. "card"
	Brand       string     `json:"brand"`
	Last4       string     `json:"last4"`
	ExpMonth    int64      `json:"exp_month"`
	ExpYear     int64      `json:"exp_year"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Mapping binds a local customer to a processor customer id. Guest mappings
// (empty UserID) are never persisted; they live only on the order being paid.
type Mapping struct {
	UserID              string
	ProcessorCustomerID string
	Email               string
	Name                string
}
