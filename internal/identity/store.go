// Package identity finds and creates buyer accounts in the identity
// backend and issues credential recovery links.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

var (
	ErrUserNotFound      = errors.New("identity: user not found")
	ErrDuplicateIdentity = errors.New("identity: user already registered")
)

// Profile is the metadata stored with a new identity.
type Profile struct {
	FullName string
	Phone    *string
}

// Store is the identity collaborator used by provisioning.
type Store interface {
	// FindUserByEmail returns ErrUserNotFound when no identity matches.
	FindUserByEmail(ctx context.Context, email string) (*models.UserIdentity, error)
	// CreateUser returns ErrDuplicateIdentity when the email is taken.
	CreateUser(ctx context.Context, email string, profile Profile) (*models.UserIdentity, error)
	SendRecoveryLink(ctx context.Context, email string) error
}

// PasswordResetter redeems the tokens mailed by SendRecoveryLink. Only
// stores that own credentials implement it.
type PasswordResetter interface {
	ResetPassword(ctx context.Context, token, password string) error
}

// NormalizeEmail lower-cases and trims an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// placeholderCredential returns a random password nobody knows. Buyers set
// their own through the recovery link.
func placeholderCredential() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func recoveryBody(name, link string) string {
	greeting := "Olá!"
	if name != "" {
		greeting = fmt.Sprintf("Olá, %s!", html.EscapeString(name))
	}
	return fmt.Sprintf(
		"<p>%s</p><p>Seu acesso foi liberado. Defina sua senha pelo link abaixo:</p><p><a href=\"%s\">%s</a></p>",
		greeting, html.EscapeString(link), html.EscapeString(link))
}
