package store

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"omo-laundry-agent/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}

func TestGormStore_SaveTokens(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "token_records".*ON CONFLICT \("username"\) DO UPDATE`).
		WithArgs("test@email.com", "access", "refresh", int64(1999999999), Any{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.SaveTokens(context.Background(), "test@email.com", "access", "refresh", 1999999999)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_LoadTokens(t *testing.T) {
	t.Run("returns the persisted record", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		s := NewGormStore(gormDB)

		mock.ExpectQuery(`SELECT \* FROM "token_records" WHERE username = \$1`).
			WithArgs("test@email.com", 1).
			WillReturnRows(sqlmock.NewRows([]string{"username", "access_token", "refresh_token", "expires_at"}).
				AddRow("test@email.com", "access", "refresh", int64(1999999999)))

		record, err := s.LoadTokens(context.Background(), "test@email.com")

		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "access", record.AccessToken)
		assert.Equal(t, int64(1999999999), record.ExpiresAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil without error when the account has no tokens", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		s := NewGormStore(gormDB)

		mock.ExpectQuery(`SELECT \* FROM "token_records" WHERE username = \$1`).
			WithArgs("nobody@email.com", 1).
			WillReturnRows(sqlmock.NewRows([]string{"username", "access_token", "refresh_token", "expires_at"}))

		record, err := s.LoadTokens(context.Background(), "nobody@email.com")

		assert.NoError(t, err)
		assert.Nil(t, record)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormStore_ReplaceSubscription(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	sub := model.PushSubscription{
		Endpoint: "https://example.com/push",
		P256DH:   "test_p256dh",
		Auth:     "test_auth",
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "push_subscriptions".*ON CONFLICT \("endpoint"\) DO UPDATE`).
		WithArgs("https://example.com/push", "test_p256dh", "test_auth", Any{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "subscription_machines" WHERE endpoint = \$1`).
		WithArgs("https://example.com/push").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "subscription_machines"`).
		WithArgs("https://example.com/push", "washer-1", "https://example.com/push", "dryer-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := s.ReplaceSubscription(context.Background(), sub, []string{"washer-1", "dryer-1"})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ReplaceSubscriptionWithoutMachines(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "push_subscriptions".*ON CONFLICT \("endpoint"\) DO UPDATE`).
		WithArgs("https://example.com/push", "p", "a", Any{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "subscription_machines" WHERE endpoint = \$1`).
		WithArgs("https://example.com/push").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub := model.PushSubscription{Endpoint: "https://example.com/push", P256DH: "p", Auth: "a"}
	err := s.ReplaceSubscription(context.Background(), sub, nil)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetSubscriptionNotFound(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE endpoint = \$1`).
		WithArgs("https://example.com/missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}))

	sub, machineIDs, err := s.GetSubscription(context.Background(), "https://example.com/missing")

	assert.NoError(t, err)
	assert.Nil(t, sub)
	assert.Nil(t, machineIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_DeleteSubscription(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "subscription_machines" WHERE endpoint = \$1`).
		WithArgs("https://example.com/push").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
		WithArgs("https://example.com/push").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.DeleteSubscription(context.Background(), "https://example.com/push")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_SubscriptionsForMachine(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(`SELECT .* FROM "push_subscriptions" JOIN subscription_machines sm ON sm\.endpoint = push_subscriptions\.endpoint WHERE sm\.machine_id = \$1`).
		WithArgs("washer-1").
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth"}).
			AddRow("https://example.com/a", "p1", "a1").
			AddRow("https://example.com/b", "p2", "a2"))

	subs, err := s.SubscriptionsForMachine(context.Background(), "washer-1")

	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "https://example.com/a", subs[0].Endpoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}
