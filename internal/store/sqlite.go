package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/alttext/pkg/models"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a single SQLite file for single-process
// deployments. Writes are serialised through one connection.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an already-migrated handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

// --- API Keys ---

func (s *SQLiteStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = ? AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectSQLiteAPIKeys(rows)
}

func (s *SQLiteStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ?, updated_at = ? WHERE id = ?`, now, now, id.String())
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID.String(), key.Name, key.KeyHash, key.KeyPrefix, strings.Join(key.Scopes, ","),
		key.CreatedAt.UTC(), key.UpdatedAt.UTC())
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectSQLiteAPIKeys(rows)
}

func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id.String())
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return requireAffected(res)
}

func collectSQLiteAPIKeys(rows *sql.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		var id, scopes string
		if err := rows.Scan(&id, &k.Name, &k.KeyHash, &k.KeyPrefix, &scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse api key id: %w", err)
		}
		k.ID = parsed
		k.Scopes = []string{}
		if scopes != "" {
			k.Scopes = strings.Split(scopes, ",")
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Batches ---

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *models.Batch) error {
	settings, err := json.Marshal(b.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BatchID, b.Owner, b.Mode, b.Status, b.TotalJobs, b.CompletedJobs, b.FailedJobs,
		string(settings), b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	b, err := scanSQLiteBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE batch_id = ?`, batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]*models.Batch, error) {
	conditions := []string{"1 = 1"}
	var args []any

	if filter.Owner != "" {
		conditions = append(conditions, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE `+strings.Join(conditions, " AND ")+
			` ORDER BY created_at DESC, batch_id LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		b, err := scanSQLiteBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *SQLiteStore) UpdateBatchStatus(ctx context.Context, batchID string, status models.Status) error {
	var current models.Status
	err := s.db.QueryRowContext(ctx, `SELECT status FROM batches WHERE batch_id = ?`, batchID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get batch status: %w", err)
	}

	if err := CheckBatchTransition(current, status); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, updated_at = ? WHERE batch_id = ? AND status = ?`,
		status, time.Now().UTC(), batchID, current)
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: batch %s changed concurrently", ErrInvalidTransition, batchID)
	}
	return nil
}

func (s *SQLiteStore) SetBatchTotal(ctx context.Context, batchID string, total int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET total_jobs = ?, updated_at = ? WHERE batch_id = ?`,
		total, time.Now().UTC(), batchID)
	if err != nil {
		return fmt.Errorf("set batch total: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) UpdateBatchCounters(ctx context.Context, batchID string, completed, failed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET completed_jobs = ?, failed_jobs = ?, updated_at = ? WHERE batch_id = ?`,
		completed, failed, time.Now().UTC(), batchID)
	if err != nil {
		return fmt.Errorf("update batch counters: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteBatch(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE batch_id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteBatchesBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM batches WHERE created_at < ? RETURNING batch_id`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("delete batches before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted batch: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete batches: %w", err)
	}
	return ids, nil
}

func scanSQLiteBatch(row interface{ Scan(...any) error }) (*models.Batch, error) {
	var b models.Batch
	var settings string
	if err := row.Scan(&b.BatchID, &b.Owner, &b.Mode, &b.Status, &b.TotalJobs, &b.CompletedJobs,
		&b.FailedJobs, &settings, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &b.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &b, nil
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.Job) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (batch_id, image_ref, status, generated_description, original_label, error_message,
		                   retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.BatchID, job.ImageRef, job.Status, job.GeneratedDescription, job.OriginalLabel, job.ErrorMessage,
		job.RetryCount, job.CreatedAt.UTC(), job.UpdatedAt.UTC())
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	job.ID = id
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, batchID string, statuses ...models.Status) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE batch_id = ?`
	args := []any{batchID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) CountJobs(ctx context.Context, batchID string) (models.JobCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE batch_id = ? GROUP BY status`, batchID)
	if err != nil {
		return models.JobCounts{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var counts models.JobCounts
	for rows.Next() {
		var status models.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return models.JobCounts{}, fmt.Errorf("scan job count: %w", err)
		}
		addCount(&counts, status, n)
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id int64, status models.Status, opts ...JobUpdateOption) error {
	params := applyJobOptions(status, opts)

	var current models.Status
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	if err := CheckJobTransition(current, status); err != nil {
		return err
	}

	query, args := buildJobUpdate(question, status, params)
	query += " WHERE id = ? AND status = ?"
	args = append(args, id, current)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %d changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

func (s *SQLiteStore) BulkUpdateJobStatus(ctx context.Context, batchID string, from, to models.Status, opts ...JobUpdateOption) (int, error) {
	if err := CheckJobTransition(from, to); err != nil {
		return 0, err
	}
	params := applyJobOptions(to, opts)

	query, args := buildJobUpdate(question, to, params)
	query += " WHERE batch_id = ? AND status = ?"
	args = append(args, batchID, from)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk update job status: %w", err)
	}
	return int(n), nil
}

func scanSQLiteJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var j models.Job
	if err := row.Scan(&j.ID, &j.BatchID, &j.ImageRef, &j.Status, &j.GeneratedDescription, &j.OriginalLabel,
		&j.ErrorMessage, &j.RetryCount, &j.ProcessedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isSQLiteConstraint reports a UNIQUE or PRIMARY KEY violation.
func isSQLiteConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
