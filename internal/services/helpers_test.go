package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Minimalist03/fediversaopuzzle/internal/clock"
	"github.com/Minimalist03/fediversaopuzzle/internal/config"
	"github.com/Minimalist03/fediversaopuzzle/internal/database"
	"github.com/Minimalist03/fediversaopuzzle/internal/identity"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
	"github.com/Minimalist03/fediversaopuzzle/internal/repository"
)

var testNow = time.Date(2026, 1, 31, 15, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)
	return count
}

// TestEventBus records published events.
type TestEventBus struct {
	mu     sync.Mutex
	events map[string][]interface{}
	err    error
}

func (b *TestEventBus) Publish(ctx context.Context, topic string, event interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = make(map[string][]interface{})
	}
	b.events[topic] = append(b.events[topic], event)
	return b.err
}

func (b *TestEventBus) GetEvents(topic string) []interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[topic]
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

// stack wires the real stores over sqlite.
type stack struct {
	db           *gorm.DB
	bus          *TestEventBus
	mailer       *recordingMailer
	provisioning *ProvisioningService
	metrics      *WebhookMetrics
	registry     *prometheus.Registry
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := setupTestDB(t)
	clk := clock.Fixed(testNow)
	mailer := &recordingMailer{}
	bus := &TestEventBus{}
	registry := prometheus.NewRegistry()

	identities := identity.NewDatabaseStore(db, mailer, "https://app.example.com/reset", time.Hour, clk, zap.NewNop())
	provisioning := NewProvisioningService(
		identities,
		repository.NewSubscriptionRepository(db),
		repository.NewTransactionRepository(db),
		bus,
		clk,
		time.Second,
		zap.NewNop(),
	)

	return &stack{
		db:           db,
		bus:          bus,
		mailer:       mailer,
		provisioning: provisioning,
		metrics:      NewWebhookMetrics(registry),
		registry:     registry,
	}
}

type mockIdentityStore struct {
	mock.Mock
}

func (m *mockIdentityStore) FindUserByEmail(ctx context.Context, email string) (*models.UserIdentity, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*models.UserIdentity)
	return user, args.Error(1)
}

func (m *mockIdentityStore) CreateUser(ctx context.Context, email string, profile identity.Profile) (*models.UserIdentity, error) {
	args := m.Called(ctx, email, profile)
	user, _ := args.Get(0).(*models.UserIdentity)
	return user, args.Error(1)
}

func (m *mockIdentityStore) SendRecoveryLink(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

type mockSubscriptionStore struct {
	mock.Mock
}

func (m *mockSubscriptionStore) UpsertActive(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	args := m.Called(ctx, sub)
	stored, _ := args.Get(0).(*models.Subscription)
	return stored, args.Error(1)
}

func (m *mockSubscriptionStore) UpdateStatusByEmail(ctx context.Context, email string, status models.SubscriptionStatus, at time.Time) (int64, error) {
	args := m.Called(ctx, email, status, at)
	return args.Get(0).(int64), args.Error(1)
}

type mockTransactionStore struct {
	mock.Mock
}

func (m *mockTransactionStore) Insert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	args := m.Called(ctx, tx)
	stored, _ := args.Get(0).(*models.Transaction)
	return stored, args.Error(1)
}
