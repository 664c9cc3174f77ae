package models

import (
	"github.com/shopspring/decimal"
)

// PaymentClassification is the outcome of matching a provider status
// against the approved and cancelled keyword sets.
type PaymentClassification string

const (
	PaymentApproved     PaymentClassification = "approved"
	PaymentCancelled    PaymentClassification = "cancelled"
	PaymentUnclassified PaymentClassification = "unclassified"
)

// CanonicalPaymentEvent is a provider-independent payment notification.
// It lives for the duration of one webhook request.
type CanonicalPaymentEvent struct {
	Email                 string                `json:"email"`
	Name                  string                `json:"name"`
	Phone                 *string               `json:"phone"`
	Amount                decimal.Decimal       `json:"amount"`
	Currency              string                `json:"currency"`
	PaymentMethod         string                `json:"payment_method"`
	Provider              string                `json:"provider"`
	ProviderTransactionID *string               `json:"provider_transaction_id"`
	PlanType              PlanType              `json:"plan_type"`
	Status                string                `json:"status"`
	Classification        PaymentClassification `json:"classification"`

	// RawPayload is the original body, masked, kept for audit metadata.
	RawPayload map[string]interface{} `json:"-"`
}

// TransactionRef returns the provider transaction id or an empty string.
func (e *CanonicalPaymentEvent) TransactionRef() string {
	if e.ProviderTransactionID == nil {
		return ""
	}
	return *e.ProviderTransactionID
}
