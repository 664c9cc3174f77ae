package identity

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Minimalist03/fediversaopuzzle/internal/clock"
	"github.com/Minimalist03/fediversaopuzzle/internal/config"
	"github.com/Minimalist03/fediversaopuzzle/internal/database"
	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

type sentMail struct {
	to, subject, body string
}

type recordingMailer struct {
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.sent = append(m.sent, sentMail{to, subject, body})
	return m.err
}

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

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newDatabaseStore(t *testing.T) (*DatabaseStore, *recordingMailer, *gorm.DB) {
	db := setupTestDB(t)
	mailer := &recordingMailer{}
	store := NewDatabaseStore(db, mailer, "https://app.example.com/reset", time.Hour, clock.Fixed(fixedNow), zap.NewNop())
	return store, mailer, db
}

func TestDatabaseStore_CreateAndFind(t *testing.T) {
	store, _, db := newDatabaseStore(t)
	ctx := context.Background()
	phone := "11988887777"

	_, err := store.FindUserByEmail(ctx, "ana@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	created, err := store.CreateUser(ctx, "Ana@Example.com", Profile{FullName: "Ana", Phone: &phone})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ana@example.com", created.Email)

	found, err := store.FindUserByEmail(ctx, " ANA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Ana", found.FullName)
	assert.Equal(t, phone, found.Phone)

	var stored models.UserIdentity
	require.NoError(t, db.First(&stored, "id = ?", created.ID).Error)
	_, err = bcrypt.Cost([]byte(stored.PasswordHash))
	assert.NoError(t, err, "credential is stored as a bcrypt hash")
}

func TestDatabaseStore_CreateDuplicate(t *testing.T) {
	store, _, db := newDatabaseStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "dup@example.com", Profile{FullName: "First"})
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, "DUP@example.com", Profile{FullName: "Second"})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	var count int64
	db.Model(&models.UserIdentity{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestDatabaseStore_SendRecoveryLink(t *testing.T) {
	t.Run("stores hashed token and mails link", func(t *testing.T) {
		store, mailer, db := newDatabaseStore(t)
		ctx := context.Background()

		user, err := store.CreateUser(ctx, "bia@example.com", Profile{FullName: "Bia"})
		require.NoError(t, err)

		require.NoError(t, store.SendRecoveryLink(ctx, "bia@example.com"))

		require.Len(t, mailer.sent, 1)
		assert.Equal(t, "bia@example.com", mailer.sent[0].to)
		assert.Equal(t, recoverySubject, mailer.sent[0].subject)
		assert.Contains(t, mailer.sent[0].body, "https://app.example.com/reset?token=")

		var reset models.PasswordReset
		require.NoError(t, db.First(&reset, "user_id = ?", user.ID).Error)
		assert.Len(t, reset.TokenHash, 64)
		assert.NotContains(t, mailer.sent[0].body, reset.TokenHash)
		assert.True(t, reset.ExpiresAt.Equal(fixedNow.Add(time.Hour)))
	})

	t.Run("unknown user", func(t *testing.T) {
		store, mailer, _ := newDatabaseStore(t)
		err := store.SendRecoveryLink(context.Background(), "ghost@example.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.Empty(t, mailer.sent)
	})
}

var tokenPattern = regexp.MustCompile(`token=([0-9a-f]{64})`)

// issueToken creates a user and returns the token mailed to them.
func issueToken(t *testing.T, store *DatabaseStore, mailer *recordingMailer, email string) (*models.UserIdentity, string) {
	t.Helper()
	ctx := context.Background()
	user, err := store.CreateUser(ctx, email, Profile{FullName: "Leitor"})
	require.NoError(t, err)
	require.NoError(t, store.SendRecoveryLink(ctx, email))

	m := tokenPattern.FindStringSubmatch(mailer.sent[len(mailer.sent)-1].body)
	require.Len(t, m, 2)
	return user, m[1]
}

func TestDatabaseStore_ResetPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("sets password and consumes token", func(t *testing.T) {
		store, mailer, db := newDatabaseStore(t)
		user, token := issueToken(t, store, mailer, "ana@example.com")

		require.NoError(t, store.ResetPassword(ctx, token, "nova-senha-123"))

		var stored models.UserIdentity
		require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("nova-senha-123")))

		var reset models.PasswordReset
		require.NoError(t, db.First(&reset, "user_id = ?", user.ID).Error)
		require.NotNil(t, reset.UsedAt)
		assert.True(t, reset.UsedAt.Equal(fixedNow))
	})

	t.Run("token works only once", func(t *testing.T) {
		store, mailer, db := newDatabaseStore(t)
		user, token := issueToken(t, store, mailer, "bia@example.com")

		require.NoError(t, store.ResetPassword(ctx, token, "primeira-senha"))
		err := store.ResetPassword(ctx, token, "segunda-senha")
		assert.ErrorIs(t, err, ErrResetTokenUsed)

		var stored models.UserIdentity
		require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("primeira-senha")))
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		store, mailer, db := newDatabaseStore(t)
		user, token := issueToken(t, store, mailer, "caio@example.com")

		var before models.UserIdentity
		require.NoError(t, db.First(&before, "id = ?", user.ID).Error)

		later := NewDatabaseStore(db, mailer, "https://app.example.com/reset", time.Hour, clock.Fixed(fixedNow.Add(time.Hour)), zap.NewNop())
		err := later.ResetPassword(ctx, token, "tarde-demais")
		assert.ErrorIs(t, err, ErrResetTokenExpired)

		var after models.UserIdentity
		require.NoError(t, db.First(&after, "id = ?", user.ID).Error)
		assert.Equal(t, before.PasswordHash, after.PasswordHash)

		var reset models.PasswordReset
		require.NoError(t, db.First(&reset, "user_id = ?", user.ID).Error)
		assert.Nil(t, reset.UsedAt)
	})

	t.Run("unknown token", func(t *testing.T) {
		store, _, _ := newDatabaseStore(t)
		err := store.ResetPassword(ctx, "deadbeef", "qualquer-senha")
		assert.ErrorIs(t, err, ErrInvalidResetToken)
	})

	t.Run("older links are revoked", func(t *testing.T) {
		store, mailer, _ := newDatabaseStore(t)
		_, first := issueToken(t, store, mailer, "davi@example.com")
		require.NoError(t, store.SendRecoveryLink(ctx, "davi@example.com"))
		m := tokenPattern.FindStringSubmatch(mailer.sent[len(mailer.sent)-1].body)
		require.Len(t, m, 2)
		second := m[1]
		require.NotEqual(t, first, second)

		require.NoError(t, store.ResetPassword(ctx, second, "senha-final"))
		assert.ErrorIs(t, store.ResetPassword(ctx, first, "outra-senha"), ErrResetTokenUsed)
	})
}
