package checkout

import "strings"

// RefKind distinguishes legacy source ids from payment method ids.
type RefKind int

// Payment reference kinds.
const (
	RefNone RefKind = iota
	RefSource
	RefMethod
)

// PaymentReference is a tagged reference to a processor payment instrument.
// The source-versus-method distinction is resolved once here, at the adapter
// boundary, instead of by repeated string-prefix inspection downstream.
type PaymentReference struct {
	Kind RefKind
	ID   string
}

// ParseReference classifies a raw processor instrument id.
func ParseReference(id string) PaymentReference {
	if id == "" {
		return PaymentReference{Kind: RefNone}
	}
	if strings.HasPrefix(id, "src_") || strings.HasPrefix(id, "card_") {
		return PaymentReference{Kind: RefSource, ID: id}
	}
	return PaymentReference{Kind: RefMethod, ID: id}
}

// IsZero reports whether the reference is empty.
func (r PaymentReference) IsZero() bool { return r.Kind == RefNone }
