package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kiranshivaraju/alttext/internal/store"
	"github.com/kiranshivaraju/alttext/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLiteStore(t *testing.T) (*store.SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewSQLiteStore(db), mock
}

func TestSQLiteStore_GetBatch_NoRows(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT batch_id, owner, mode, status .* FROM batches WHERE batch_id = \?`).
		WithArgs("batch_x").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetBatch(context.Background(), "batch_x")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_GetBatch_BadSettings(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT batch_id, owner, mode, status .* FROM batches WHERE batch_id = \?`).
		WithArgs("batch_x").
		WillReturnRows(sqlmock.NewRows([]string{"batch_id", "owner", "mode", "status", "total_jobs",
			"completed_jobs", "failed_jobs", "settings", "created_at", "updated_at"}).
			AddRow("batch_x", "alice", "test", "pending", 1, 0, 0, "{not json", time.Now(), time.Now()))

	_, err := s.GetBatch(context.Background(), "batch_x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpdateJobStatus_ConcurrentChange(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec(`UPDATE jobs SET status = \?, updated_at = \? WHERE id = \? AND status = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateJobStatus(context.Background(), 7, models.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpdateJobStatus_RejectsBeforeWriting(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("cancelled"))

	err := s.UpdateJobStatus(context.Background(), 7, models.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	// No UPDATE expected.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CreateJob_DatabaseError(t *testing.T) {
	s, mock := newMockSQLiteStore(t)
	boom := errors.New("disk I/O error")

	mock.ExpectExec(`INSERT INTO jobs`).WillReturnError(boom)

	err := s.CreateJob(context.Background(), &models.Job{BatchID: "b", ImageRef: "1", Status: models.StatusPending})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, store.ErrDuplicateKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_BulkUpdate_SetsClauses(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \?, updated_at = \?, error_message = \? WHERE batch_id = \? AND status = \?`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.BulkUpdateJobStatus(context.Background(), "batch_x", models.StatusFailed, models.StatusPending,
		store.WithErrorMessage(""))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CountJobs_QueryError(t *testing.T) {
	s, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM jobs`).WillReturnError(errors.New("locked"))

	_, err := s.CountJobs(context.Background(), "batch_x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count jobs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
