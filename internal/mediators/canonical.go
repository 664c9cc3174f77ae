package mediators

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Minimalist03/fediversaopuzzle/internal/apperrors"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

const IncompleteDataMessage = "Dados incompletos: user_email, user_name, amount e plan_type são obrigatórios"

// CanonicalPayload is the strict body accepted from integrations that
// already speak the canonical schema.
type CanonicalPayload struct {
	UserEmail             string                 `json:"user_email" validate:"required,max=255"`
	UserName              string                 `json:"user_name" validate:"required,max=255"`
	UserPhone             *string                `json:"user_phone" validate:"omitempty,max=50"`
	Amount                float64                `json:"amount" validate:"required,gt=0"`
	Currency              string                 `json:"currency" validate:"omitempty,len=3,alpha"`
	PaymentMethod         string                 `json:"payment_method" validate:"omitempty,oneof=pix credit_card boleto debit_card"`
	PaymentProvider       string                 `json:"payment_provider" validate:"omitempty,oneof=stripe mercadopago pagseguro manual kirvano"`
	ProviderTransactionID *string                `json:"provider_transaction_id" validate:"omitempty,max=191"`
	PlanType              string                 `json:"plan_type" validate:"required,oneof=monthly yearly lifetime"`
	Metadata              map[string]interface{} `json:"metadata"`
}

var requiredCanonicalFields = map[string]string{
	"UserEmail": "user_email",
	"UserName":  "user_name",
	"Amount":    "amount",
	"PlanType":  "plan_type",
}

// CanonicalNormalizer validates strict canonical payloads.
type CanonicalNormalizer struct {
	validate *validator.Validate
}

func NewCanonicalNormalizer() *CanonicalNormalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &CanonicalNormalizer{validate: v}
}

// Normalize validates p and converts it into an approved canonical event.
func (n *CanonicalNormalizer) Normalize(p *CanonicalPayload) (*models.CanonicalPaymentEvent, error) {
	if err := n.validate.Struct(p); err != nil {
		return nil, toValidationError(err)
	}

	event := &models.CanonicalPaymentEvent{
		Email:                 strings.ToLower(strings.TrimSpace(p.UserEmail)),
		Name:                  strings.TrimSpace(p.UserName),
		Phone:                 p.UserPhone,
		Amount:                decimal.NewFromFloat(p.Amount),
		Currency:              strings.ToUpper(p.Currency),
		PaymentMethod:         p.PaymentMethod,
		Provider:              p.PaymentProvider,
		ProviderTransactionID: p.ProviderTransactionID,
		PlanType:              models.PlanType(p.PlanType),
		Status:                "approved",
		Classification:        models.PaymentApproved,
		RawPayload:            MaskPayload(p.Metadata),
	}
	if event.Currency == "" {
		event.Currency = DefaultCurrency
	}
	if event.PaymentMethod == "" {
		event.PaymentMethod = DefaultPaymentMethod
	}
	if event.Provider == "" {
		event.Provider = "manual"
	}
	return event, nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidationError(err.Error())
	}

	var missing, invalid []string
	for _, fe := range verrs {
		if name, ok := requiredCanonicalFields[fe.StructField()]; ok && (fe.Tag() == "required" || fe.Tag() == "gt") {
			missing = append(missing, name)
			continue
		}
		invalid = append(invalid, fe.Field())
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError(IncompleteDataMessage, missing...)
	}
	return apperrors.NewValidationError("Dados inválidos: "+strings.Join(invalid, ", "), invalid...)
}
