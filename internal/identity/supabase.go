package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

const (
	supabaseUsersPerPage = 200
	supabaseMaxPages     = 500
)

// SupabaseStore talks to the GoTrue admin API with the service role key.
type SupabaseStore struct {
	baseURL    string
	apiKey     string
	redirectTo string
	mailer     Mailer
	httpClient *http.Client
	logger     *zap.Logger
}

type supabaseUser struct {
	ID               string                 `json:"id"`
	Email            string                 `json:"email"`
	Phone            string                 `json:"phone"`
	EmailConfirmedAt *time.Time             `json:"email_confirmed_at"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	UserMetadata     map[string]interface{} `json:"user_metadata"`
}

// generate_link returns the user fields alongside the link.
type supabaseLink struct {
	supabaseUser
	ActionLink string `json:"action_link"`
}

type supabaseError struct {
	Code      interface{} `json:"code"`
	ErrorCode string      `json:"error_code"`
	Msg       string      `json:"msg"`
	Message   string      `json:"message"`
}

// NewSupabaseStore creates a store for the project at baseURL. The admin
// generate_link endpoint does not send email, so links go out via mailer.
func NewSupabaseStore(baseURL, serviceKey, redirectTo string, mailer Mailer, logger *zap.Logger) *SupabaseStore {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: serviceKey, TokenType: "Bearer"})
	client := oauth2.NewClient(context.Background(), ts)
	client.Timeout = 30 * time.Second

	return &SupabaseStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     serviceKey,
		redirectTo: redirectTo,
		mailer:     mailer,
		httpClient: client,
		logger:     logger.Named("supabase"),
	}
}

// FindUserByEmail pages through the admin user list. The admin API has no
// lookup by email.
func (s *SupabaseStore) FindUserByEmail(ctx context.Context, email string) (*models.UserIdentity, error) {
	target := NormalizeEmail(email)

	for page := 1; page <= supabaseMaxPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(supabaseUsersPerPage))

		var result struct {
			Users []supabaseUser `json:"users"`
		}
		if err := s.do(ctx, http.MethodGet, "/auth/v1/admin/users?"+query.Encode(), nil, &result); err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}

		for i := range result.Users {
			if NormalizeEmail(result.Users[i].Email) == target {
				return result.Users[i].toModel(), nil
			}
		}

		if len(result.Users) < supabaseUsersPerPage {
			break
		}
	}

	return nil, ErrUserNotFound
}

// CreateUser registers a confirmed user with a placeholder password.
func (s *SupabaseStore) CreateUser(ctx context.Context, email string, profile Profile) (*models.UserIdentity, error) {
	password, err := placeholderCredential()
	if err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{"full_name": profile.FullName}
	if profile.Phone != nil {
		metadata["phone"] = *profile.Phone
	}

	body := map[string]interface{}{
		"email":         NormalizeEmail(email),
		"password":      password,
		"email_confirm": true,
		"user_metadata": metadata,
	}

	var user supabaseUser
	if err := s.do(ctx, http.MethodPost, "/auth/v1/admin/users", body, &user); err != nil {
		return nil, err
	}

	s.logger.Info("User created", zap.String("user_id", user.ID), zap.String("email", user.Email))
	return user.toModel(), nil
}

// SendRecoveryLink asks GoTrue for a recovery link and mails it to the user.
func (s *SupabaseStore) SendRecoveryLink(ctx context.Context, email string) error {
	target := NormalizeEmail(email)
	body := map[string]interface{}{
		"type":  "recovery",
		"email": target,
	}
	if s.redirectTo != "" {
		body["redirect_to"] = s.redirectTo
	}

	var link supabaseLink
	if err := s.do(ctx, http.MethodPost, "/auth/v1/admin/generate_link", body, &link); err != nil {
		return fmt.Errorf("failed to generate recovery link: %w", err)
	}
	if link.ActionLink == "" {
		return fmt.Errorf("failed to generate recovery link: response has no action_link")
	}

	name, _ := link.UserMetadata["full_name"].(string)
	if err := s.mailer.Send(ctx, target, recoverySubject, recoveryBody(name, link.ActionLink)); err != nil {
		return fmt.Errorf("failed to send recovery email: %w", err)
	}

	s.logger.Info("Recovery link sent", zap.String("email", target))
	return nil
}

func (s *SupabaseStore) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return s.statusError(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (s *SupabaseStore) statusError(status int, body []byte) error {
	var apiErr supabaseError
	_ = json.Unmarshal(body, &apiErr)

	msg := apiErr.Msg
	if msg == "" {
		msg = apiErr.Message
	}
	if msg == "" {
		msg = string(body)
	}

	if status == http.StatusUnprocessableEntity &&
		(apiErr.ErrorCode == "email_exists" || strings.Contains(strings.ToLower(msg), "already")) {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, msg)
	}
	return fmt.Errorf("supabase returned status %d: %s", status, msg)
}

func (u *supabaseUser) toModel() *models.UserIdentity {
	identity := &models.UserIdentity{
		ID:               u.ID,
		Email:            NormalizeEmail(u.Email),
		Phone:            u.Phone,
		EmailConfirmedAt: u.EmailConfirmedAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
	if name, ok := u.UserMetadata["full_name"].(string); ok {
		identity.FullName = name
	}
	if phone, ok := u.UserMetadata["phone"].(string); ok && identity.Phone == "" {
		identity.Phone = phone
	}
	return identity
}
