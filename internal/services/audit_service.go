package services

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 200
)

// EventLister lists stored webhook deliveries.
type EventLister interface {
	ListByEmail(ctx context.Context, email string, limit int) ([]models.WebhookEvent, error)
}

// AuditService exposes the webhook audit trail to operators.
type AuditService struct {
	events EventLister
	logger *zap.Logger
}

func NewAuditService(events EventLister, logger *zap.Logger) *AuditService {
	return &AuditService{events: events, logger: logger.Named("audit")}
}

// HandleListWebhookEvents serves GET /api/v1/audit/webhooks?email=&limit=
func (s *AuditService) HandleListWebhookEvents(c *gin.Context) {
	email := strings.ToLower(strings.TrimSpace(c.Query("email")))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Parâmetro email é obrigatório"})
		return
	}

	limit := DefaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Parâmetro limit inválido"})
			return
		}
		limit = n
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}

	events, err := s.events.ListByEmail(c.Request.Context(), email, limit)
	if err != nil {
		s.logger.Error("Audit lookup failed", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "Erro ao consultar eventos",
			"correlation_id": c.GetString(ContextKeyRequestID),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"email": email, "count": len(events), "events": events})
}
