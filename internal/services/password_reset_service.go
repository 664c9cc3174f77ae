package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/identity"
)

// PasswordResetRequest is the body of POST /api/v1/auth/reset-password.
// bcrypt ignores everything past 72 bytes.
type PasswordResetRequest struct {
	Token    string `json:"token" validate:"required,len=64,hexadecimal"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// PasswordResetService lets buyers set their password from a recovery link.
type PasswordResetService struct {
	resetter identity.PasswordResetter
	validate *validator.Validate
	logger   *zap.Logger
}

func NewPasswordResetService(resetter identity.PasswordResetter, logger *zap.Logger) *PasswordResetService {
	return &PasswordResetService{
		resetter: resetter,
		validate: validator.New(),
		logger:   logger.Named("password_reset"),
	}
}

// HandleResetPassword serves POST /api/v1/auth/reset-password.
func (s *PasswordResetService) HandleResetPassword(c *gin.Context) {
	body, err := readLimited(c)
	if err != nil {
		c.JSON(readErrorStatus(err), gin.H{"error": "Erro ao ler requisição"})
		return
	}

	var req PasswordResetRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON inválido"})
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dados inválidos: token e senha (mínimo 8 caracteres) são obrigatórios"})
		return
	}

	err = s.resetter.ResetPassword(c.Request.Context(), req.Token, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Senha definida com sucesso"})
	case errors.Is(err, identity.ErrResetTokenExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Link de recuperação expirado"})
	case errors.Is(err, identity.ErrResetTokenUsed):
		c.JSON(http.StatusGone, gin.H{"error": "Link de recuperação já utilizado"})
	case errors.Is(err, identity.ErrInvalidResetToken), errors.Is(err, identity.ErrUserNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Link de recuperação inválido"})
	default:
		s.logger.Error("Password reset failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "Erro ao definir senha",
			"correlation_id": c.GetString(ContextKeyRequestID),
		})
	}
}
