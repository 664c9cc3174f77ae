package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/clock"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
	"github.com/Minimalist03/fediversaopuzzle/internal/repository"
)

// AccessNone is reported when an email never bought access.
const AccessNone = "none"

// SubscriptionFinder looks subscriptions up by email.
type SubscriptionFinder interface {
	FindLatestByEmail(ctx context.Context, email string) (*models.Subscription, error)
}

// TransactionLister lists a user's payments.
type TransactionLister interface {
	ListByUser(ctx context.Context, userID string) ([]models.Transaction, error)
}

// AccessResult describes whether an email may play.
type AccessResult struct {
	Email         string          `json:"email"`
	HasAccess     bool            `json:"has_access"`
	Status        string          `json:"status"`
	PlanType      models.PlanType `json:"plan_type,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	LastPaymentAt *time.Time      `json:"last_payment_at,omitempty"`
}

// AccessService answers whether a buyer currently has premium access.
type AccessService struct {
	subscriptions SubscriptionFinder
	transactions  TransactionLister
	clock         clock.Clock
	logger        *zap.Logger
}

func NewAccessService(subscriptions SubscriptionFinder, transactions TransactionLister, clk clock.Clock, logger *zap.Logger) *AccessService {
	return &AccessService{
		subscriptions: subscriptions,
		transactions:  transactions,
		clock:         clk,
		logger:        logger.Named("access"),
	}
}

// GetAccess grants access when the latest subscription is active and has
// not expired.
func (s *AccessService) GetAccess(ctx context.Context, email string) (*AccessResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	result := &AccessResult{Email: email, Status: AccessNone}

	sub, err := s.subscriptions.FindLatestByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.clock.Now(ctx)
	result.Status = string(sub.EffectiveStatus(now))
	result.HasAccess = sub.GrantsAccess(now)
	result.PlanType = sub.PlanType
	result.StartedAt = sub.StartedAt
	result.ExpiresAt = sub.ExpiresAt
	result.CancelledAt = sub.CancelledAt

	txs, err := s.transactions.ListByUser(ctx, sub.UserID)
	if err != nil {
		s.logger.Warn("Failed to list transactions", zap.String("user_id", sub.UserID), zap.Error(err))
	} else if len(txs) > 0 {
		last := txs[0].CreatedAt
		result.LastPaymentAt = &last
	}

	return result, nil
}

// HandleGetAccess serves GET /api/v1/access?email=
func (s *AccessService) HandleGetAccess(c *gin.Context) {
	email := c.Query("email")
	if strings.TrimSpace(email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Parâmetro email é obrigatório"})
		return
	}

	result, err := s.GetAccess(c.Request.Context(), email)
	if err != nil {
		s.logger.Error("Access lookup failed", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "Erro ao consultar acesso",
			"correlation_id": c.GetString(ContextKeyRequestID),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
