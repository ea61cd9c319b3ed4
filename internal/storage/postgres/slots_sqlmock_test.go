package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

func newMockPostgresStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := NewStoreWithDialector(postgres.New(postgres.Config{Conn: sqlDB}), Options{})
	require.NoError(t, err)
	return store, mock
}

func newMockMySQLStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := NewStoreWithDialector(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), Options{})
	require.NoError(t, err)
	return store, mock
}

var slotColumns = []string{"id", "location_id", "label", "status", "assignee_id", "assigned_at", "created_at", "updated_at"}

func TestStore_ClaimAvailableSlot_Postgres(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("单语句 SKIP LOCKED 领取", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)
		mock.ExpectQuery(`UPDATE address_slots(.|\n)*FOR UPDATE SKIP LOCKED(.|\n)*RETURNING`).
			WithArgs(domain.SlotAssigned, int64(7), now, now, "london", domain.SlotAvailable).
			WillReturnRows(sqlmock.NewRows(slotColumns).
				AddRow(3, "london", "Suite 3", "assigned", 7, now, now, now))

		slot, err := store.ClaimAvailableSlot(ctx, 7, "london", now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), slot.ID)
		assert.Equal(t, domain.SlotAssigned, slot.Status)
		require.NotNil(t, slot.AssigneeID)
		assert.Equal(t, int64(7), *slot.AssigneeID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("无可用行", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)
		mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
			WillReturnRows(sqlmock.NewRows(slotColumns))

		_, err := store.ClaimAvailableSlot(ctx, 7, "london", now)
		assert.ErrorIs(t, err, storage.ErrNoAvailability)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_ClaimAvailableSlot_MySQL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// expectCandidate 事务内锁定一条候选行并尝试更新
	expectCandidate := func(mock sqlmock.Sqlmock, id int64, affected int64) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT \\* FROM `address_slots`(.|\n)*FOR UPDATE SKIP LOCKED").
			WillReturnRows(sqlmock.NewRows(slotColumns).
				AddRow(id, "london", "Suite", "available", nil, nil, now, now))
		mock.ExpectExec("UPDATE `address_slots` SET").
			WillReturnResult(sqlmock.NewResult(0, affected))
		if affected == 0 {
			mock.ExpectRollback()
		} else {
			mock.ExpectCommit()
		}
	}

	t.Run("首次命中直接领取", func(t *testing.T) {
		store, mock := newMockMySQLStore(t)
		expectCandidate(mock, 3, 1)

		slot, err := store.ClaimAvailableSlot(ctx, 7, "london", now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), slot.ID)
		assert.Equal(t, domain.SlotAssigned, slot.Status)
		require.NotNil(t, slot.AssigneeID)
		assert.Equal(t, int64(7), *slot.AssigneeID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("候选行被抢走后换下一行", func(t *testing.T) {
		store, mock := newMockMySQLStore(t)
		expectCandidate(mock, 3, 0)
		expectCandidate(mock, 4, 1)

		slot, err := store.ClaimAvailableSlot(ctx, 7, "london", now)
		require.NoError(t, err)
		assert.Equal(t, int64(4), slot.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("更新未命中且无其他空闲行", func(t *testing.T) {
		store, mock := newMockMySQLStore(t)
		expectCandidate(mock, 3, 0)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT \\* FROM `address_slots`").
			WillReturnRows(sqlmock.NewRows(slotColumns))
		mock.ExpectRollback()

		slot, err := store.ClaimAvailableSlot(ctx, 7, "london", now)
		assert.ErrorIs(t, err, storage.ErrNoAvailability)
		assert.Nil(t, slot)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("重试次数耗尽", func(t *testing.T) {
		store, mock := newMockMySQLStore(t)
		for i := int64(0); i < claimAttempts; i++ {
			expectCandidate(mock, 3+i, 0)
		}

		slot, err := store.ClaimAvailableSlot(ctx, 7, "london", now)
		assert.ErrorIs(t, err, storage.ErrNoAvailability)
		assert.Nil(t, slot)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
