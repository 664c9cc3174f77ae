package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/apperrors"
	"github.com/Minimalist03/fediversaopuzzle/internal/clock"
	"github.com/Minimalist03/fediversaopuzzle/internal/eventbus"
	"github.com/Minimalist03/fediversaopuzzle/internal/identity"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

func approvedEvent(email string, plan models.PlanType) *models.CanonicalPaymentEvent {
	txID := "txn-" + email
	return &models.CanonicalPaymentEvent{
		Email:                 email,
		Name:                  "Cliente",
		Amount:                decimal.NewFromInt(97),
		Currency:              "BRL",
		PaymentMethod:         "pix",
		Provider:              "kirvano",
		ProviderTransactionID: &txID,
		PlanType:              plan,
		Status:                "paid",
		Classification:        models.PaymentApproved,
		RawPayload:            map[string]interface{}{"email": email, "status": "paid"},
	}
}

func TestProvisioningService_Provision(t *testing.T) {
	t.Run("new buyer gets identity, subscription and transaction", func(t *testing.T) {
		s := newStack(t)

		result, err := s.provisioning.Provision(context.Background(), approvedEvent("ana@example.com", models.PlanLifetime))
		require.NoError(t, err)

		assert.NotEmpty(t, result.UserID)
		assert.NotEmpty(t, result.SubscriptionID)
		require.NotNil(t, result.TransactionID)
		assert.Equal(t, "ana@example.com", result.Email)
		assert.Equal(t, models.PlanLifetime, result.PlanType)
		assert.Nil(t, result.ExpiresAt)
		assert.True(t, result.UserCreated)

		assert.Equal(t, int64(1), countRows(t, s.db, &models.UserIdentity{}))
		assert.Equal(t, int64(1), countRows(t, s.db, &models.Subscription{}))
		assert.Equal(t, int64(1), countRows(t, s.db, &models.Transaction{}))

		var sub models.Subscription
		require.NoError(t, s.db.First(&sub).Error)
		assert.Equal(t, models.SubscriptionActive, sub.Status)
		assert.Equal(t, result.SubscriptionID, sub.ID.String())

		var tx models.Transaction
		require.NoError(t, s.db.First(&tx).Error)
		assert.Equal(t, models.TransactionCompleted, tx.Status)
		require.NotNil(t, tx.SubscriptionID)
		assert.Equal(t, sub.ID, *tx.SubscriptionID)
		assert.Contains(t, string(tx.Metadata), `"status":"paid"`)

		assert.Equal(t, []string{"ana@example.com"}, s.mailer.sent)
		assert.Len(t, s.bus.GetEvents(eventbus.TopicSubscriptionActivated), 1)
	})

	t.Run("second approval reuses the identity", func(t *testing.T) {
		s := newStack(t)
		ctx := context.Background()

		first, err := s.provisioning.Provision(ctx, approvedEvent("bia@example.com", models.PlanMonthly))
		require.NoError(t, err)
		second, err := s.provisioning.Provision(ctx, approvedEvent("bia@example.com", models.PlanYearly))
		require.NoError(t, err)

		assert.Equal(t, first.UserID, second.UserID)
		assert.Equal(t, first.SubscriptionID, second.SubscriptionID)
		assert.False(t, second.UserCreated)
		assert.Equal(t, models.PlanYearly, second.PlanType)

		assert.Equal(t, int64(1), countRows(t, s.db, &models.UserIdentity{}))
		assert.Equal(t, int64(1), countRows(t, s.db, &models.Subscription{}))
		assert.Len(t, s.mailer.sent, 1, "recovery link only for new identities")
	})

	t.Run("plan type decides the window", func(t *testing.T) {
		s := newStack(t)
		ctx := context.Background()

		monthly, err := s.provisioning.Provision(ctx, approvedEvent("m@example.com", models.PlanMonthly))
		require.NoError(t, err)
		require.NotNil(t, monthly.ExpiresAt)
		assert.True(t, monthly.ExpiresAt.Equal(testNow.AddDate(0, 1, 0)))

		yearly, err := s.provisioning.Provision(ctx, approvedEvent("y@example.com", models.PlanYearly))
		require.NoError(t, err)
		require.NotNil(t, yearly.ExpiresAt)
		assert.True(t, yearly.ExpiresAt.Equal(time.Date(2027, 1, 31, 15, 0, 0, 0, time.UTC)))
	})
}

func newMockedService(ids *mockIdentityStore, subs *mockSubscriptionStore, txs *mockTransactionStore, bus *TestEventBus, timeout time.Duration) *ProvisioningService {
	return NewProvisioningService(ids, subs, txs, bus, clock.Fixed(testNow), timeout, zap.NewNop())
}

func TestProvisioningService_Failures(t *testing.T) {
	existing := &models.UserIdentity{ID: "user-1", Email: "ana@example.com"}

	t.Run("identity failure aborts before subscription", func(t *testing.T) {
		ids := &mockIdentityStore{}
		subs := &mockSubscriptionStore{}
		txs := &mockTransactionStore{}
		ids.On("FindUserByEmail", mock.Anything, "ana@example.com").Return(nil, identity.ErrUserNotFound)
		ids.On("CreateUser", mock.Anything, "ana@example.com", mock.Anything).Return(nil, errors.New("auth service down"))

		svc := newMockedService(ids, subs, txs, &TestEventBus{}, time.Second)
		_, err := svc.Provision(context.Background(), approvedEvent("ana@example.com", models.PlanLifetime))

		var perr *apperrors.ProvisioningError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, apperrors.StepIdentity, perr.Step)
		assert.Equal(t, 500, perr.StatusCode())
		subs.AssertNotCalled(t, "UpsertActive", mock.Anything, mock.Anything)
		txs.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("subscription failure skips transaction", func(t *testing.T) {
		ids := &mockIdentityStore{}
		subs := &mockSubscriptionStore{}
		txs := &mockTransactionStore{}
		ids.On("FindUserByEmail", mock.Anything, "ana@example.com").Return(existing, nil)
		subs.On("UpsertActive", mock.Anything, mock.Anything).Return(nil, errors.New("insert failed"))

		svc := newMockedService(ids, subs, txs, &TestEventBus{}, time.Second)
		_, err := svc.Provision(context.Background(), approvedEvent("ana@example.com", models.PlanLifetime))

		var perr *apperrors.ProvisioningError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, apperrors.StepSubscription, perr.Step)
		txs.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		ids.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("transaction failure still succeeds", func(t *testing.T) {
		ids := &mockIdentityStore{}
		subs := &mockSubscriptionStore{}
		txs := &mockTransactionStore{}
		bus := &TestEventBus{}
		subID := uuid.New()
		ids.On("FindUserByEmail", mock.Anything, "ana@example.com").Return(existing, nil)
		subs.On("UpsertActive", mock.Anything, mock.MatchedBy(func(sub *models.Subscription) bool {
			return sub.UserID == "user-1" && sub.ExpiresAt == nil && sub.StartedAt.Equal(testNow)
		})).Return(&models.Subscription{ID: subID, UserID: "user-1", PlanType: models.PlanLifetime, Status: models.SubscriptionActive}, nil)
		txs.On("Insert", mock.Anything, mock.Anything).Return(nil, errors.New("ledger unavailable"))

		svc := newMockedService(ids, subs, txs, bus, time.Second)
		result, err := svc.Provision(context.Background(), approvedEvent("ana@example.com", models.PlanLifetime))

		require.NoError(t, err)
		assert.Equal(t, subID.String(), result.SubscriptionID)
		assert.Nil(t, result.TransactionID)
		assert.Len(t, bus.GetEvents(eventbus.TopicSubscriptionActivated), 1)
	})

	t.Run("concurrent creation re-fetches", func(t *testing.T) {
		ids := &mockIdentityStore{}
		subs := &mockSubscriptionStore{}
		txs := &mockTransactionStore{}
		ids.On("FindUserByEmail", mock.Anything, "ana@example.com").Return(nil, identity.ErrUserNotFound).Once()
		ids.On("CreateUser", mock.Anything, "ana@example.com", mock.Anything).Return(nil, identity.ErrDuplicateIdentity)
		ids.On("FindUserByEmail", mock.Anything, "ana@example.com").Return(existing, nil).Once()
		subs.On("UpsertActive", mock.Anything, mock.Anything).Return(&models.Subscription{ID: uuid.New(), UserID: "user-1", PlanType: models.PlanLifetime}, nil)
		txs.On("Insert", mock.Anything, mock.Anything).Return(&models.Transaction{ID: uuid.New()}, nil)

		svc := newMockedService(ids, subs, txs, &TestEventBus{}, time.Second)
		result, err := svc.Provision(context.Background(), approvedEvent("ana@example.com", models.PlanLifetime))

		require.NoError(t, err)
		assert.Equal(t, "user-1", result.UserID)
		assert.False(t, result.UserCreated)
		ids.AssertNotCalled(t, "SendRecoveryLink", mock.Anything, mock.Anything)
		ids.AssertExpectations(t)
	})

	t.Run("recovery link failure is not fatal", func(t *testing.T) {
		ids := &mockIdentityStore{}
		subs := &mockSubscriptionStore{}
		txs := &mockTransactionStore{}
		ids.On("FindUserByEmail", mock.Anything, "ana@example.com").Return(nil, identity.ErrUserNotFound)
		ids.On("CreateUser", mock.Anything, "ana@example.com", identity.Profile{FullName: "Cliente"}).Return(existing, nil)
		ids.On("SendRecoveryLink", mock.Anything, "ana@example.com").Return(errors.New("smtp down"))
		subs.On("UpsertActive", mock.Anything, mock.Anything).Return(&models.Subscription{ID: uuid.New(), UserID: "user-1"}, nil)
		txs.On("Insert", mock.Anything, mock.Anything).Return(&models.Transaction{ID: uuid.New()}, nil)

		svc := newMockedService(ids, subs, txs, &TestEventBus{}, time.Second)
		result, err := svc.Provision(context.Background(), approvedEvent("ana@example.com", models.PlanLifetime))

		require.NoError(t, err)
		assert.True(t, result.UserCreated)
		ids.AssertExpectations(t)
	})

	t.Run("event bus failure is not fatal", func(t *testing.T) {
		ids := &mockIdentityStore{}
		subs := &mockSubscriptionStore{}
		txs := &mockTransactionStore{}
		ids.On("FindUserByEmail", mock.Anything, "ana@example.com").Return(existing, nil)
		subs.On("UpsertActive", mock.Anything, mock.Anything).Return(&models.Subscription{ID: uuid.New(), UserID: "user-1"}, nil)
		txs.On("Insert", mock.Anything, mock.Anything).Return(&models.Transaction{ID: uuid.New()}, nil)

		svc := newMockedService(ids, subs, txs, &TestEventBus{err: errors.New("redis down")}, time.Second)
		_, err := svc.Provision(context.Background(), approvedEvent("ana@example.com", models.PlanLifetime))
		assert.NoError(t, err)
	})

	t.Run("slow identity backend times out", func(t *testing.T) {
		ids := &mockIdentityStore{}
		subs := &mockSubscriptionStore{}
		txs := &mockTransactionStore{}
		ids.On("FindUserByEmail", mock.Anything, "ana@example.com").
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		svc := newMockedService(ids, subs, txs, &TestEventBus{}, 20*time.Millisecond)
		_, err := svc.Provision(context.Background(), approvedEvent("ana@example.com", models.PlanLifetime))

		var perr *apperrors.ProvisioningError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, apperrors.StepIdentity, perr.Step)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestProvisioningService_Cancel(t *testing.T) {
	t.Run("no subscription is a no-op", func(t *testing.T) {
		s := newStack(t)
		event := approvedEvent("nobody@example.com", models.PlanLifetime)
		event.Classification = models.PaymentCancelled

		result, err := s.provisioning.Cancel(context.Background(), event)
		require.NoError(t, err)
		assert.Zero(t, result.Affected)
		assert.Empty(t, s.bus.GetEvents(eventbus.TopicSubscriptionCancelled))
		assert.Zero(t, countRows(t, s.db, &models.Subscription{}))
	})

	t.Run("existing subscription is cancelled in place", func(t *testing.T) {
		s := newStack(t)
		ctx := context.Background()
		_, err := s.provisioning.Provision(ctx, approvedEvent("ana@example.com", models.PlanLifetime))
		require.NoError(t, err)

		event := approvedEvent("ana@example.com", models.PlanLifetime)
		event.Classification = models.PaymentCancelled
		result, err := s.provisioning.Cancel(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Affected)

		var sub models.Subscription
		require.NoError(t, s.db.First(&sub).Error)
		assert.Equal(t, models.SubscriptionCancelled, sub.Status)
		require.NotNil(t, sub.CancelledAt)
		assert.True(t, sub.CancelledAt.Equal(testNow))
		assert.Len(t, s.bus.GetEvents(eventbus.TopicSubscriptionCancelled), 1)
	})

	t.Run("store failure is a provisioning error", func(t *testing.T) {
		subs := &mockSubscriptionStore{}
		subs.On("UpdateStatusByEmail", mock.Anything, "ana@example.com", models.SubscriptionCancelled, testNow).
			Return(int64(0), errors.New("db down"))

		svc := newMockedService(&mockIdentityStore{}, subs, &mockTransactionStore{}, &TestEventBus{}, time.Second)
		_, err := svc.Cancel(context.Background(), approvedEvent("ana@example.com", models.PlanLifetime))

		var perr *apperrors.ProvisioningError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, apperrors.StepCancellation, perr.Step)
	})
}
