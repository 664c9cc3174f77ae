package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Minimalist03/fediversaopuzzle/internal/apperrors"
	"github.com/Minimalist03/fediversaopuzzle/internal/clock"
	"github.com/Minimalist03/fediversaopuzzle/internal/eventbus"
	"github.com/Minimalist03/fediversaopuzzle/internal/identity"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

const defaultCallTimeout = 10 * time.Second

// SubscriptionStore persists subscriptions.
type SubscriptionStore interface {
	UpsertActive(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	UpdateStatusByEmail(ctx context.Context, email string, status models.SubscriptionStatus, at time.Time) (int64, error)
}

// TransactionStore appends payment ledger rows.
type TransactionStore interface {
	Insert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
}

// ProvisioningResult is returned after an approved payment was applied.
type ProvisioningResult struct {
	UserID         string          `json:"user_id"`
	SubscriptionID string          `json:"subscription_id"`
	TransactionID  *string         `json:"transaction_id"`
	Email          string          `json:"email"`
	PlanType       models.PlanType `json:"plan_type"`
	ExpiresAt      *time.Time      `json:"expires_at"`
	UserCreated    bool            `json:"-"`
}

// CancellationResult reports how many subscriptions a cancellation touched.
type CancellationResult struct {
	Email    string
	Affected int64
}

// ProvisioningService grants and revokes game access for payment events.
type ProvisioningService struct {
	identities    identity.Store
	subscriptions SubscriptionStore
	transactions  TransactionStore
	publisher     eventbus.Publisher
	clock         clock.Clock
	callTimeout   time.Duration
	tracer        trace.Tracer
	logger        *zap.Logger
}

func NewProvisioningService(
	identities identity.Store,
	subscriptions SubscriptionStore,
	transactions TransactionStore,
	publisher eventbus.Publisher,
	clk clock.Clock,
	callTimeout time.Duration,
	logger *zap.Logger,
) *ProvisioningService {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if publisher == nil {
		publisher = eventbus.NopPublisher{}
	}
	return &ProvisioningService{
		identities:    identities,
		subscriptions: subscriptions,
		transactions:  transactions,
		publisher:     publisher,
		clock:         clk,
		callTimeout:   callTimeout,
		tracer:        otel.Tracer("provisioning-service"),
		logger:        logger.Named("provisioning"),
	}
}

// Provision applies an approved payment: find or create the identity,
// activate the subscription and record the transaction. A failed
// transaction insert does not fail the call; TransactionID is nil then.
func (s *ProvisioningService) Provision(ctx context.Context, event *models.CanonicalPaymentEvent) (*ProvisioningResult, error) {
	ctx, span := s.tracer.Start(ctx, "provision_access")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", event.Provider),
		attribute.String("plan_type", string(event.PlanType)),
		attribute.String("provider_transaction_id", event.TransactionRef()),
	)

	user, created, err := s.findOrCreateUser(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity")
		return nil, apperrors.NewProvisioningError(apperrors.StepIdentity, "Erro ao criar usuário", err)
	}

	if created {
		if err := s.call(ctx, func(ctx context.Context) error {
			return s.identities.SendRecoveryLink(ctx, user.Email)
		}); err != nil {
			s.logger.Warn("Failed to send recovery link",
				zap.String("user_id", user.ID),
				zap.String("email", user.Email),
				zap.Error(err))
		}
	}

	now := s.clock.Now(ctx)
	planType := event.PlanType
	if !planType.Valid() {
		planType = models.PlanLifetime
	}

	var sub *models.Subscription
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		sub, err = s.subscriptions.UpsertActive(ctx, &models.Subscription{
			UserID:    user.ID,
			Email:     user.Email,
			PlanType:  planType,
			StartedAt: &now,
			ExpiresAt: planType.ExpiresAt(now),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscription")
		return nil, apperrors.NewProvisioningError(apperrors.StepSubscription, "Erro ao criar assinatura", err)
	}

	result := &ProvisioningResult{
		UserID:         user.ID,
		SubscriptionID: sub.ID.String(),
		Email:          user.Email,
		PlanType:       sub.PlanType,
		ExpiresAt:      sub.ExpiresAt,
		UserCreated:    created,
	}

	if txID, err := s.recordTransaction(ctx, event, user.ID, sub, now); err != nil {
		span.RecordError(err)
		s.logger.Error("Failed to record transaction, access was granted",
			zap.String("user_id", user.ID),
			zap.String("subscription_id", result.SubscriptionID),
			zap.String("provider_transaction_id", event.TransactionRef()),
			zap.Error(err))
	} else {
		result.TransactionID = &txID
	}

	s.publish(ctx, eventbus.TopicSubscriptionActivated, eventbus.SubscriptionEvent{
		Type:           eventbus.TopicSubscriptionActivated,
		UserID:         user.ID,
		SubscriptionID: result.SubscriptionID,
		Email:          user.Email,
		PlanType:       string(sub.PlanType),
		ExpiresAt:      sub.ExpiresAt,
		Provider:       event.Provider,
		OccurredAt:     now,
	})

	s.logger.Info("Access provisioned",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
		zap.Bool("user_created", created),
		zap.String("subscription_id", result.SubscriptionID),
		zap.String("plan_type", string(sub.PlanType)))

	return result, nil
}

// Cancel marks the subscription for email cancelled. No subscription is
// not an error.
func (s *ProvisioningService) Cancel(ctx context.Context, event *models.CanonicalPaymentEvent) (*CancellationResult, error) {
	ctx, span := s.tracer.Start(ctx, "cancel_access")
	defer span.End()
	span.SetAttributes(attribute.String("provider", event.Provider))

	now := s.clock.Now(ctx)
	var affected int64
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		affected, err = s.subscriptions.UpdateStatusByEmail(ctx, event.Email, models.SubscriptionCancelled, now)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancellation")
		return nil, apperrors.NewProvisioningError(apperrors.StepCancellation, "Erro ao cancelar assinatura", err)
	}

	if affected == 0 {
		s.logger.Info("Cancellation for email without subscription", zap.String("email", event.Email))
	} else {
		s.logger.Info("Subscription cancelled",
			zap.String("email", event.Email),
			zap.Int64("affected", affected))
		s.publish(ctx, eventbus.TopicSubscriptionCancelled, eventbus.SubscriptionEvent{
			Type:       eventbus.TopicSubscriptionCancelled,
			Email:      event.Email,
			Provider:   event.Provider,
			OccurredAt: now,
		})
	}

	return &CancellationResult{Email: event.Email, Affected: affected}, nil
}

// findOrCreateUser looks the email up before creating it. A concurrent
// creation surfaces as ErrDuplicateIdentity and is resolved by a re-fetch.
func (s *ProvisioningService) findOrCreateUser(ctx context.Context, event *models.CanonicalPaymentEvent) (*models.UserIdentity, bool, error) {
	user, err := s.findUser(ctx, event.Email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, identity.ErrUserNotFound) {
		return nil, false, fmt.Errorf("lookup failed: %w", err)
	}

	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.identities.CreateUser(ctx, event.Email, identity.Profile{
			FullName: event.Name,
			Phone:    event.Phone,
		})
		return err
	})
	if errors.Is(err, identity.ErrDuplicateIdentity) {
		s.logger.Info("Identity created concurrently, re-fetching", zap.String("email", event.Email))
		user, err = s.findUser(ctx, event.Email)
		if err != nil {
			return nil, false, fmt.Errorf("re-fetch after duplicate failed: %w", err)
		}
		return user, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create failed: %w", err)
	}
	return user, true, nil
}

func (s *ProvisioningService) findUser(ctx context.Context, email string) (*models.UserIdentity, error) {
	var user *models.UserIdentity
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.identities.FindUserByEmail(ctx, email)
		return err
	})
	return user, err
}

func (s *ProvisioningService) recordTransaction(ctx context.Context, event *models.CanonicalPaymentEvent, userID string, sub *models.Subscription, now time.Time) (string, error) {
	metadata, err := json.Marshal(map[string]interface{}{
		"payload":      event.RawPayload,
		"raw_status":   event.Status,
		"processed_at": now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	subID := sub.ID
	tx := &models.Transaction{
		UserID:                userID,
		SubscriptionID:        &subID,
		Amount:                event.Amount,
		Currency:              event.Currency,
		PaymentMethod:         event.PaymentMethod,
		PaymentProvider:       event.Provider,
		ProviderTransactionID: event.ProviderTransactionID,
		Status:                models.TransactionCompleted,
		Metadata:              datatypes.JSON(metadata),
	}

	var stored *models.Transaction
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		stored, err = s.transactions.Insert(ctx, tx)
		return err
	})
	if err != nil {
		return "", err
	}
	return stored.ID.String(), nil
}

func (s *ProvisioningService) publish(ctx context.Context, topic string, event eventbus.SubscriptionEvent) {
	if err := s.call(ctx, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, topic, event)
	}); err != nil {
		s.logger.Warn("Failed to publish subscription event",
			zap.String("topic", topic),
			zap.String("email", event.Email),
			zap.Error(err))
	}
}

// call runs fn with the per-call timeout.
func (s *ProvisioningService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return fn(ctx)
}
