package dao

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gitee.com/flycash/notification-engine/internal/errs"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestNotificationBatchDAO_Create_Duplicate(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	d := NewNotificationBatchDAO(db)

	mock.ExpectExec("INSERT INTO `notification_batches`").
		WillReturnError(&mysql.MySQLError{Number: 1062})

	_, err := d.Create(t.Context(), NotificationBatch{
		ID:          1,
		BatchKey:    "ticket_updates",
		GroupingKey: "user-1",
		Members:     "[]",
		TargetUsers: "[]",
		Status:      "PENDING",
	})
	assert.ErrorIs(t, err, errs.ErrBatchDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationBatchDAO_CASStatus(t *testing.T) {
	t.Parallel()

	t.Run("版本匹配，状态流转成功", func(t *testing.T) {
		t.Parallel()
		db, mock := newMockDB(t)
		d := NewNotificationBatchDAO(db)

		mock.ExpectExec("UPDATE `notification_batches`").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := d.CASStatus(t.Context(), 1, "READY", 1)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("版本不匹配，输掉并发竞争", func(t *testing.T) {
		t.Parallel()
		db, mock := newMockDB(t)
		d := NewNotificationBatchDAO(db)

		// 大小触发和时间触发同时盯上一个批次，后到的一方影响行数为0
		mock.ExpectExec("UPDATE `notification_batches`").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := d.CASStatus(t.Context(), 1, "READY", 1)
		assert.ErrorIs(t, err, errs.ErrBatchVersionMismatch)
	})
}

func TestNotificationBatchDAO_UpdateMembers_VersionMismatch(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	d := NewNotificationBatchDAO(db)

	mock.ExpectExec("UPDATE `notification_batches`").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.UpdateMembers(t.Context(), NotificationBatch{
		ID:          1,
		Members:     "[]",
		TargetUsers: "[]",
		Version:     1,
	})
	assert.ErrorIs(t, err, errs.ErrBatchVersionMismatch)
}

func TestNotificationBatchDAO_FindPending_NotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	d := NewNotificationBatchDAO(db)

	mock.ExpectQuery("SELECT (.+) FROM `notification_batches`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := d.FindPending(t.Context(), "ticket_updates", "user-1")
	assert.ErrorIs(t, err, errs.ErrBatchNotFound)
}
