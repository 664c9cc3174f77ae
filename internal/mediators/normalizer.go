package mediators

import (
	"strings"

	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/apperrors"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

const (
	DefaultCustomerName  = "Cliente"
	DefaultCurrency      = "BRL"
	DefaultPaymentMethod = "pix"

	MissingEmailMessage = "Email do comprador não encontrado"
)

var approvedKeywords = []string{
	"paid", "approved", "completed", "success", "pago", "aprovado",
	"concluido", "confirmado", "active", "ativo",
}

var cancelledKeywords = []string{
	"refunded", "cancelled", "canceled", "chargeback", "reembolsado",
	"cancelado", "estornado",
}

// ClassifyStatus matches a provider status case-insensitively against the
// approved and cancelled keyword sets. Approved wins when both match.
func ClassifyStatus(status string) models.PaymentClassification {
	s := strings.ToLower(status)
	if s == "" {
		return models.PaymentUnclassified
	}
	for _, k := range approvedKeywords {
		if strings.Contains(s, k) {
			return models.PaymentApproved
		}
	}
	for _, k := range cancelledKeywords {
		if strings.Contains(s, k) {
			return models.PaymentCancelled
		}
	}
	return models.PaymentUnclassified
}

// AliasNormalizer turns schemaless checkout payloads into canonical events
// by probing alias lists.
type AliasNormalizer struct {
	provider    string
	defaultPlan models.PlanType
	aliases     AliasSet
	logger      *zap.Logger
}

// NewAliasNormalizer creates a normalizer that stamps events with provider.
func NewAliasNormalizer(provider string, defaultPlan models.PlanType, logger *zap.Logger) *AliasNormalizer {
	if !defaultPlan.Valid() {
		defaultPlan = models.PlanLifetime
	}
	return &AliasNormalizer{
		provider:    strings.ToLower(strings.TrimSpace(provider)),
		defaultPlan: defaultPlan,
		aliases:     DefaultAliases,
		logger:      logger.Named("normalizer"),
	}
}

// Provider returns the provider name stamped on events.
func (n *AliasNormalizer) Provider() string { return n.provider }

// Normalize extracts a canonical event from raw. It fails only when no
// email alias resolves.
func (n *AliasNormalizer) Normalize(raw map[string]interface{}) (*models.CanonicalPaymentEvent, error) {
	masked := MaskPayload(raw)
	n.logger.Info("Webhook payload received",
		zap.String("provider", n.provider),
		zap.Any("payload", masked))

	event := extract(raw, n.aliases, n.defaultPlan)
	event.Provider = n.provider
	event.RawPayload = masked

	n.logger.Info("Webhook fields extracted",
		zap.String("provider", n.provider),
		zap.String("email", event.Email),
		zap.String("name", event.Name),
		zap.String("amount", event.Amount.String()),
		zap.String("status", event.Status),
		zap.String("classification", string(event.Classification)),
		zap.String("provider_transaction_id", event.TransactionRef()))

	if event.Email == "" {
		return nil, apperrors.NewValidationError(MissingEmailMessage, "email")
	}
	return event, nil
}

func extract(raw map[string]interface{}, aliases AliasSet, defaultPlan models.PlanType) *models.CanonicalPaymentEvent {
	event := &models.CanonicalPaymentEvent{
		Name:          DefaultCustomerName,
		Currency:      DefaultCurrency,
		PaymentMethod: DefaultPaymentMethod,
		PlanType:      defaultPlan,
	}

	if email, ok := firstString(raw, aliases.Email); ok && len(email) <= maxEmailLen {
		event.Email = strings.ToLower(email)
	}
	if name, ok := firstString(raw, aliases.Name); ok {
		event.Name = truncate(name, maxNameLen)
	}
	if phone, ok := firstString(raw, aliases.Phone); ok {
		phone = truncate(phone, maxPhoneLen)
		event.Phone = &phone
	}
	if amount, ok := firstString(raw, aliases.Amount); ok {
		event.Amount = parseAmount(amount)
	}
	if txID, ok := firstString(raw, aliases.TransactionID); ok && len(txID) <= maxTransactionIDLen {
		event.ProviderTransactionID = &txID
	}
	if status, ok := firstString(raw, aliases.Status); ok {
		// classify the full value, store what fits
		event.Classification = ClassifyStatus(status)
		event.Status = truncate(status, maxStatusLen)
	} else {
		event.Classification = ClassifyStatus("")
	}
	if method, ok := firstString(raw, aliases.PaymentMethod); ok {
		event.PaymentMethod = truncate(strings.ToLower(method), maxPaymentMethodLen)
	}
	if currency, ok := firstString(raw, aliases.Currency); ok && isCurrencyCode(currency) {
		event.Currency = strings.ToUpper(currency)
	}
	if plan, ok := firstString(raw, aliases.Plan); ok {
		if p, ok := models.ParsePlanType(plan); ok {
			event.PlanType = p
		}
	}
	return event
}
