package mediators

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/apperrors"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

var stripeEventClassification = map[string]models.PaymentClassification{
	"checkout.session.completed":    models.PaymentApproved,
	"payment_intent.succeeded":      models.PaymentApproved,
	"charge.refunded":               models.PaymentCancelled,
	"charge.dispute.created":        models.PaymentCancelled,
	"customer.subscription.deleted": models.PaymentCancelled,
}

var stripeAliases = AliasSet{
	Email: paths("customer_details.email", "customer_email", "receipt_email",
		"billing_details.email", "metadata.email"),
	Name:          paths("customer_details.name", "billing_details.name", "metadata.name"),
	Phone:         paths("customer_details.phone", "billing_details.phone", "metadata.phone"),
	Amount:        paths("amount_total", "amount_received", "amount"),
	TransactionID: paths("payment_intent", "id"),
	Currency:      paths("currency"),
	Plan:          paths("metadata.plan_type", "metadata.plan"),
}

// StripeMediator verifies Stripe webhook signatures and maps Stripe events
// onto canonical payment events.
type StripeMediator struct {
	webhookSecret string
	defaultPlan   models.PlanType
	logger        *zap.Logger
}

func NewStripeMediator(webhookSecret string, defaultPlan models.PlanType, logger *zap.Logger) *StripeMediator {
	if !defaultPlan.Valid() {
		defaultPlan = models.PlanLifetime
	}
	return &StripeMediator{
		webhookSecret: webhookSecret,
		defaultPlan:   defaultPlan,
		logger:        logger.Named("stripe"),
	}
}

// Enabled reports whether a webhook secret is configured.
func (m *StripeMediator) Enabled() bool { return m.webhookSecret != "" }

// ConstructEvent verifies the Stripe-Signature header against body.
func (m *StripeMediator) ConstructEvent(body []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(body, signature, m.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("invalid stripe signature: %w", err)
	}
	return event, nil
}

// Normalize converts a verified event. Event types outside the approved and
// cancelled sets come back unclassified.
func (m *StripeMediator) Normalize(event *stripe.Event) (*models.CanonicalPaymentEvent, error) {
	if event.Data == nil || event.Data.Object == nil {
		return nil, apperrors.NewValidationError("evento stripe sem dados", "data.object")
	}
	object := event.Data.Object
	eventType := string(event.Type)

	canonical := extract(object, stripeAliases, m.defaultPlan)
	canonical.PaymentMethod = "credit_card"
	canonical.Provider = "stripe"
	canonical.Status = eventType
	canonical.RawPayload = MaskPayload(object)
	canonical.Amount = canonical.Amount.Div(decimal.NewFromInt(100))

	classification, ok := stripeEventClassification[eventType]
	if !ok {
		classification = models.PaymentUnclassified
	}
	canonical.Classification = classification

	m.logger.Info("Stripe event normalized",
		zap.String("event_id", event.ID),
		zap.String("event_type", eventType),
		zap.String("email", canonical.Email),
		zap.String("classification", string(classification)))

	if canonical.Email == "" {
		return nil, apperrors.NewValidationError(MissingEmailMessage, "email")
	}
	canonical.Email = strings.ToLower(canonical.Email)
	return canonical, nil
}
