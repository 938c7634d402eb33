package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key.Scopes == nil {
		key.Scopes = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Batches ---

const batchColumns = `batch_id, owner, mode, status, total_jobs, completed_jobs, failed_jobs, settings, created_at, updated_at`

func (s *PostgresStore) CreateBatch(ctx context.Context, b *models.Batch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (`+batchColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.BatchID, b.Owner, b.Mode, b.Status, b.TotalJobs, b.CompletedJobs, b.FailedJobs,
		b.Settings, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE batch_id = $1`, batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]*models.Batch, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.Owner != "" {
		conditions = append(conditions, fmt.Sprintf("owner = $%d", argIdx))
		args = append(args, filter.Owner)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	query := fmt.Sprintf(`SELECT %s FROM batches WHERE %s ORDER BY created_at DESC, batch_id LIMIT $%d`,
		batchColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, filter.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, batchID string, status models.Status) error {
	var current models.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM batches WHERE batch_id = $1`, batchID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get batch status: %w", err)
	}

	if err := CheckBatchTransition(current, status); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET status = $3, updated_at = $4 WHERE batch_id = $1 AND status = $2`,
		batchID, current, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: batch %s changed concurrently", ErrInvalidTransition, batchID)
	}
	return nil
}

func (s *PostgresStore) SetBatchTotal(ctx context.Context, batchID string, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET total_jobs = $2, updated_at = $3 WHERE batch_id = $1`,
		batchID, total, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set batch total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateBatchCounters(ctx context.Context, batchID string, completed, failed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET completed_jobs = $2, failed_jobs = $3, updated_at = $4 WHERE batch_id = $1`,
		batchID, completed, failed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update batch counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteBatch(ctx context.Context, batchID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM batches WHERE batch_id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBatchesBefore removes batches created before cutoff and returns their ids.
// Jobs go with them via ON DELETE CASCADE.
func (s *PostgresStore) DeleteBatchesBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM batches WHERE created_at < $1 RETURNING batch_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete batches before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("delete batches: %w", err)
	}
	return ids, nil
}

func scanBatch(row pgx.Row) (*models.Batch, error) {
	var b models.Batch
	if err := row.Scan(&b.BatchID, &b.Owner, &b.Mode, &b.Status, &b.TotalJobs, &b.CompletedJobs,
		&b.FailedJobs, &b.Settings, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// --- Jobs ---

const jobColumns = `id, batch_id, image_ref, status, generated_description, original_label, error_message,
	retry_count, processed_at, created_at, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (batch_id, image_ref, status, generated_description, original_label, error_message,
		                   retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		job.BatchID, job.ImageRef, job.Status, job.GeneratedDescription, job.OriginalLabel, job.ErrorMessage,
		job.RetryCount, job.CreatedAt, job.UpdatedAt,
	).Scan(&job.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a batch's jobs oldest first, optionally restricted to statuses.
func (s *PostgresStore) ListJobs(ctx context.Context, batchID string, statuses ...models.Status) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE batch_id = $1`
	args := []any{batchID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CountJobs(ctx context.Context, batchID string) (models.JobCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE batch_id = $1 GROUP BY status`, batchID)
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

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id int64, status models.Status, opts ...JobUpdateOption) error {
	params := applyJobOptions(status, opts)

	var current models.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	if err := CheckJobTransition(current, status); err != nil {
		return err
	}

	query, args := buildJobUpdate(dollar, status, params)
	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d", len(args)+1, len(args)+2)
	args = append(args, id, current)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %d changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

func (s *PostgresStore) BulkUpdateJobStatus(ctx context.Context, batchID string, from, to models.Status, opts ...JobUpdateOption) (int, error) {
	if err := CheckJobTransition(from, to); err != nil {
		return 0, err
	}
	params := applyJobOptions(to, opts)

	query, args := buildJobUpdate(dollar, to, params)
	query += fmt.Sprintf(" WHERE batch_id = $%d AND status = $%d", len(args)+1, len(args)+2)
	args = append(args, batchID, from)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk update job status: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	if err := row.Scan(&j.ID, &j.BatchID, &j.ImageRef, &j.Status, &j.GeneratedDescription, &j.OriginalLabel,
		&j.ErrorMessage, &j.RetryCount, &j.ProcessedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
