package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Minimalist03/fediversaopuzzle/internal/apperrors"
	"github.com/Minimalist03/fediversaopuzzle/internal/clock"
	"github.com/Minimalist03/fediversaopuzzle/internal/mediators"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

// ContextKeyRequestID is the gin context key holding the request id.
const ContextKeyRequestID = "request_id"

// MaxBodyBytes caps webhook request bodies.
const MaxBodyBytes = 1 << 20

const (
	messageProvisioned = "Acesso liberado com sucesso!"
	messageCancelled   = "Acesso premium cancelado"
	messagePending     = "Aguardando aprovação do pagamento"
	messageDuplicate   = "Evento já processado"
	messageFailure     = "Erro ao processar pagamento"

	statusPremiumCancelled = "premium_cancelado"
	statusDuplicate        = "duplicate_ignored"
)

// Provisioner applies classified payment events.
type Provisioner interface {
	Provision(ctx context.Context, event *models.CanonicalPaymentEvent) (*ProvisioningResult, error)
	Cancel(ctx context.Context, event *models.CanonicalPaymentEvent) (*CancellationResult, error)
}

// Deduplicator claims deliveries so retries are processed once.
type Deduplicator interface {
	Claim(ctx context.Context, provider, transactionID string) (bool, error)
	Complete(ctx context.Context, provider, transactionID string) error
	Release(ctx context.Context, provider, transactionID string) error
}

// WebhookEventStore audits accepted deliveries.
type WebhookEventStore interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	MarkProcessed(ctx context.Context, id uuid.UUID, processingErr string, at time.Time) error
}

// WebhookService receives payment provider webhooks.
type WebhookService struct {
	aliases       *mediators.AliasNormalizer
	canonical     *mediators.CanonicalNormalizer
	stripe        *mediators.StripeMediator
	provisioner   Provisioner
	dedup         Deduplicator
	events        WebhookEventStore
	metrics       *WebhookMetrics
	webhookSecret string
	clock         clock.Clock
	logger        *zap.Logger
}

type WebhookServiceDeps struct {
	Aliases       *mediators.AliasNormalizer
	Canonical     *mediators.CanonicalNormalizer
	Stripe        *mediators.StripeMediator
	Provisioner   Provisioner
	Dedup         Deduplicator
	Events        WebhookEventStore
	Metrics       *WebhookMetrics
	WebhookSecret string
	Clock         clock.Clock
	Logger        *zap.Logger
}

func NewWebhookService(deps WebhookServiceDeps) *WebhookService {
	return &WebhookService{
		aliases:       deps.Aliases,
		canonical:     deps.Canonical,
		stripe:        deps.Stripe,
		provisioner:   deps.Provisioner,
		dedup:         deps.Dedup,
		events:        deps.Events,
		metrics:       deps.Metrics,
		webhookSecret: deps.WebhookSecret,
		clock:         deps.Clock,
		logger:        deps.Logger.Named("webhook"),
	}
}

// HandleProviderWebhook accepts schemaless checkout payloads.
func (s *WebhookService) HandleProviderWebhook(c *gin.Context) {
	start := time.Now()
	provider := s.aliases.Provider()
	s.metrics.Received(provider)

	body, ok := s.readBody(c, provider, start)
	if !ok {
		return
	}

	raw, err := decodeObject(body)
	if err != nil {
		s.logger.Warn("Invalid JSON body", zap.String("provider", provider), zap.Error(err))
		s.metrics.Observe(provider, OutcomeInvalid, time.Since(start))
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON inválido"})
		return
	}

	event, err := s.aliases.Normalize(raw)
	if err != nil {
		s.rejectInvalid(c, provider, err, gin.H{"dados_recebidos": raw}, start)
		return
	}

	s.process(c, event, start)
}

// HandleCanonicalWebhook accepts the strict canonical schema.
func (s *WebhookService) HandleCanonicalWebhook(c *gin.Context) {
	start := time.Now()
	const provider = "canonical"
	s.metrics.Received(provider)

	body, ok := s.readBody(c, provider, start)
	if !ok {
		return
	}

	var payload mediators.CanonicalPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.logger.Warn("Invalid JSON body", zap.String("provider", provider), zap.Error(err))
		s.metrics.Observe(provider, OutcomeInvalid, time.Since(start))
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON inválido", "details": err.Error()})
		return
	}

	event, err := s.canonical.Normalize(&payload)
	if err != nil {
		s.rejectInvalid(c, provider, err, nil, start)
		return
	}

	s.process(c, event, start)
}

// HandleStripeWebhook accepts Stripe events signed with the endpoint
// secret.
func (s *WebhookService) HandleStripeWebhook(c *gin.Context) {
	start := time.Now()
	const provider = "stripe"
	s.metrics.Received(provider)

	if s.stripe == nil || !s.stripe.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stripe webhook não configurado"})
		return
	}

	body, err := readLimited(c)
	if err != nil {
		s.metrics.Observe(provider, OutcomeInvalid, time.Since(start))
		c.JSON(readErrorStatus(err), gin.H{"error": "read_failed"})
		return
	}

	stripeEvent, err := s.stripe.ConstructEvent(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("Stripe signature rejected", zap.Error(err))
		s.metrics.Observe(provider, OutcomeInvalid, time.Since(start))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}

	event, err := s.stripe.Normalize(&stripeEvent)
	if err != nil {
		s.rejectInvalid(c, provider, err, gin.H{"event_id": stripeEvent.ID}, start)
		return
	}

	s.process(c, event, start)
}

// HandleMethodNotAllowed answers non-POST requests on webhook routes.
func (s *WebhookService) HandleMethodNotAllowed(c *gin.Context) {
	err := &apperrors.MethodNotAllowedError{Method: c.Request.Method, Allowed: http.MethodPost}
	c.Header("Allow", http.MethodPost)
	c.JSON(err.StatusCode(), gin.H{"error": err.Error()})
}

func (s *WebhookService) readBody(c *gin.Context, provider string, start time.Time) ([]byte, bool) {
	body, err := readLimited(c)
	if err != nil {
		s.metrics.Observe(provider, OutcomeInvalid, time.Since(start))
		c.JSON(readErrorStatus(err), gin.H{"error": "Não foi possível ler o corpo da requisição"})
		return nil, false
	}

	if s.webhookSecret != "" && !VerifySignature(s.webhookSecret, body, c.GetHeader(SignatureHeader)) {
		s.logger.Warn("Webhook signature rejected", zap.String("provider", provider))
		s.metrics.Observe(provider, OutcomeInvalid, time.Since(start))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Assinatura inválida"})
		return nil, false
	}
	return body, true
}

// readLimited reads at most MaxBodyBytes of the request body.
func readLimited(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	return io.ReadAll(c.Request.Body)
}

func readErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (s *WebhookService) rejectInvalid(c *gin.Context, provider string, err error, extra gin.H, start time.Time) {
	var verr *apperrors.ValidationError
	if !errors.As(err, &verr) {
		s.fail(c, provider, nil, err, start)
		return
	}
	s.metrics.Observe(provider, OutcomeInvalid, time.Since(start))

	s.logger.Warn("Webhook payload rejected",
		zap.String("provider", provider),
		zap.Strings("fields", verr.Fields),
		zap.String("reason", verr.Message))

	response := gin.H{"error": verr.Message}
	for k, v := range extra {
		response[k] = v
	}
	c.JSON(verr.StatusCode(), response)
}

// process branches on the classification of a validated event.
func (s *WebhookService) process(c *gin.Context, event *models.CanonicalPaymentEvent, start time.Time) {
	ctx := c.Request.Context()
	auditID := s.audit(ctx, event)

	switch event.Classification {
	case models.PaymentApproved:
		s.provision(c, event, auditID, start)

	case models.PaymentCancelled:
		if _, err := s.provisioner.Cancel(ctx, event); err != nil {
			s.markProcessed(ctx, auditID, err)
			s.fail(c, event.Provider, event, err, start)
			return
		}
		s.markProcessed(ctx, auditID, nil)
		s.metrics.Observe(event.Provider, OutcomeCancelled, time.Since(start))
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": messageCancelled,
			"email":   event.Email,
			"status":  statusPremiumCancelled,
		})

	default:
		s.markProcessed(ctx, auditID, nil)
		s.metrics.Observe(event.Provider, OutcomeIgnored, time.Since(start))
		s.logger.Info("Payment not approved yet",
			zap.String("provider", event.Provider),
			zap.String("email", event.Email),
			zap.String("status", event.Status))
		c.JSON(http.StatusOK, gin.H{
			"message": messagePending,
			"status":  event.Status,
		})
	}
}

func (s *WebhookService) provision(c *gin.Context, event *models.CanonicalPaymentEvent, auditID *uuid.UUID, start time.Time) {
	ctx := c.Request.Context()
	txRef := event.TransactionRef()

	claimed, err := s.dedup.Claim(ctx, event.Provider, txRef)
	if err != nil {
		// Redis outages must not block access; process without a claim.
		s.logger.Warn("Idempotency claim failed", zap.String("provider", event.Provider), zap.Error(err))
		claimed = true
	}
	if !claimed {
		s.markProcessed(ctx, auditID, nil)
		s.metrics.Observe(event.Provider, OutcomeDuplicate, time.Since(start))
		s.logger.Info("Duplicate webhook ignored",
			zap.String("provider", event.Provider),
			zap.String("provider_transaction_id", txRef))
		c.JSON(http.StatusOK, gin.H{"message": messageDuplicate, "status": statusDuplicate})
		return
	}

	result, err := s.provisioner.Provision(ctx, event)
	if err != nil {
		if relErr := s.dedup.Release(context.WithoutCancel(ctx), event.Provider, txRef); relErr != nil {
			s.logger.Warn("Failed to release idempotency claim", zap.Error(relErr))
		}
		s.markProcessed(ctx, auditID, err)
		s.fail(c, event.Provider, event, err, start)
		return
	}

	if err := s.dedup.Complete(ctx, event.Provider, txRef); err != nil {
		s.logger.Warn("Failed to complete idempotency claim", zap.Error(err))
	}
	s.markProcessed(ctx, auditID, nil)
	s.metrics.Observe(event.Provider, OutcomeProvisioned, time.Since(start))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": messageProvisioned,
		"data":    result,
	})
}

// fail logs err with the event context and answers 500 with a correlation
// id instead of internals.
func (s *WebhookService) fail(c *gin.Context, provider string, event *models.CanonicalPaymentEvent, err error, start time.Time) {
	correlationID := c.GetString(ContextKeyRequestID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	s.metrics.Observe(provider, OutcomeFailed, time.Since(start))

	fields := []zap.Field{
		zap.String("provider", provider),
		zap.String("correlation_id", correlationID),
		zap.Error(err),
	}
	if event != nil {
		fields = append(fields,
			zap.String("email", event.Email),
			zap.String("status", event.Status),
			zap.String("provider_transaction_id", event.TransactionRef()),
			zap.Any("payload", event.RawPayload))
	}
	s.logger.Error("Webhook processing failed", fields...)

	details := "erro interno"
	var perr *apperrors.ProvisioningError
	if errors.As(err, &perr) {
		details = perr.Message
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":          messageFailure,
		"details":        details,
		"correlation_id": correlationID,
	})
}

// audit stores the delivery. Failures are logged and processing continues.
func (s *WebhookService) audit(ctx context.Context, event *models.CanonicalPaymentEvent) *uuid.UUID {
	if s.events == nil {
		return nil
	}

	payload, err := json.Marshal(event.RawPayload)
	if err != nil {
		payload = []byte("{}")
	}

	record := &models.WebhookEvent{
		Provider:              event.Provider,
		ProviderTransactionID: event.TransactionRef(),
		Email:                 event.Email,
		RawStatus:             event.Status,
		Classification:        event.Classification,
		Payload:               datatypes.JSON(payload),
	}
	if err := s.events.Create(ctx, record); err != nil {
		s.logger.Warn("Failed to audit webhook", zap.String("provider", event.Provider), zap.Error(err))
		return nil
	}
	return &record.ID
}

func (s *WebhookService) markProcessed(ctx context.Context, id *uuid.UUID, procErr error) {
	if s.events == nil || id == nil {
		return
	}
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := s.events.MarkProcessed(context.WithoutCancel(ctx), *id, msg, s.clock.Now(ctx)); err != nil {
		s.logger.Warn("Failed to mark webhook processed", zap.String("id", id.String()), zap.Error(err))
	}
}

// decodeObject parses a JSON object. An empty body is an empty object.
// Numbers stay json.Number so large provider ids keep every digit.
func decodeObject(body []byte) (map[string]interface{}, error) {
	raw := map[string]interface{}{}
	if len(bytes.TrimSpace(body)) == 0 {
		return raw, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode body: trailing data after object")
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	return raw, nil
}
