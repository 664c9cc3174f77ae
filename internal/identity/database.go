package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Minimalist03/fediversaopuzzle/internal/clock"
	"github.com/Minimalist03/fediversaopuzzle/internal/database"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

const recoverySubject = "Defina sua senha de acesso"

var (
	// ErrInvalidResetToken means the token matches no stored recovery request.
	ErrInvalidResetToken = errors.New("invalid reset token")
	ErrResetTokenExpired = errors.New("reset token expired")
	ErrResetTokenUsed    = errors.New("reset token already used")
)

// DatabaseStore keeps identities in the local users table.
type DatabaseStore struct {
	db          *gorm.DB
	mailer      Mailer
	recoveryURL string
	recoveryTTL time.Duration
	clock       clock.Clock
	logger      *zap.Logger
}

func NewDatabaseStore(db *gorm.DB, mailer Mailer, recoveryURL string, recoveryTTL time.Duration, clk clock.Clock, logger *zap.Logger) *DatabaseStore {
	if recoveryTTL <= 0 {
		recoveryTTL = 24 * time.Hour
	}
	return &DatabaseStore{
		db:          db,
		mailer:      mailer,
		recoveryURL: recoveryURL,
		recoveryTTL: recoveryTTL,
		clock:       clk,
		logger:      logger.Named("identity"),
	}
}

func (s *DatabaseStore) FindUserByEmail(ctx context.Context, email string) (*models.UserIdentity, error) {
	var user models.UserIdentity
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

func (s *DatabaseStore) CreateUser(ctx context.Context, email string, profile Profile) (*models.UserIdentity, error) {
	password, err := placeholderCredential()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash credential: %w", err)
	}

	now := s.clock.Now(ctx)
	user := &models.UserIdentity{
		Email:            NormalizeEmail(email),
		FullName:         profile.FullName,
		PasswordHash:     string(hash),
		EmailConfirmedAt: &now,
	}
	if profile.Phone != nil {
		user.Phone = *profile.Phone
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentity, user.Email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User created", zap.String("user_id", user.ID), zap.String("email", user.Email))
	return user, nil
}

// SendRecoveryLink stores a hashed single-use token and mails the link.
func (s *DatabaseStore) SendRecoveryLink(ctx context.Context, email string) error {
	user, err := s.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, err := randomToken()
	if err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(token))

	reset := &models.PasswordReset{
		UserID:    user.ID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: s.clock.Now(ctx).Add(s.recoveryTTL),
	}
	if err := s.db.WithContext(ctx).Create(reset).Error; err != nil {
		return fmt.Errorf("failed to store recovery token: %w", err)
	}

	link, err := s.recoveryLink(token)
	if err != nil {
		return err
	}

	if err := s.mailer.Send(ctx, user.Email, recoverySubject, recoveryBody(user.FullName, link)); err != nil {
		return fmt.Errorf("failed to send recovery email: %w", err)
	}
	return nil
}

// ResetPassword redeems a recovery token. The token is stamped used in the
// same transaction that stores the new hash, so it can only succeed once.
func (s *DatabaseStore) ResetPassword(ctx context.Context, token, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	sum := sha256.Sum256([]byte(token))
	tokenHash := hex.EncodeToString(sum[:])
	now := s.clock.Now(ctx)

	var userID string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reset models.PasswordReset
		err := tx.Where("token_hash = ?", tokenHash).First(&reset).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidResetToken
		}
		if err != nil {
			return fmt.Errorf("failed to find reset token: %w", err)
		}
		if reset.UsedAt != nil {
			return ErrResetTokenUsed
		}
		if !now.Before(reset.ExpiresAt) {
			return ErrResetTokenExpired
		}

		// Conditional update keeps two concurrent redemptions from both winning.
		res := tx.Model(&models.PasswordReset{}).
			Where("id = ? AND used_at IS NULL", reset.ID).
			Update("used_at", now)
		if res.Error != nil {
			return fmt.Errorf("failed to mark reset token used: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrResetTokenUsed
		}

		res = tx.Model(&models.UserIdentity{}).
			Where("id = ?", reset.UserID).
			Updates(map[string]interface{}{"password_hash": string(hash), "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to update password: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrUserNotFound
		}

		// Older links for the same user stop working once a password is set.
		if err := tx.Model(&models.PasswordReset{}).
			Where("user_id = ? AND used_at IS NULL", reset.UserID).
			Update("used_at", now).Error; err != nil {
			return fmt.Errorf("failed to revoke reset tokens: %w", err)
		}

		userID = reset.UserID
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Password reset", zap.String("user_id", userID))
	return nil
}

func (s *DatabaseStore) recoveryLink(token string) (string, error) {
	base := s.recoveryURL
	if base == "" {
		base = "/reset-password"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid recovery url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
