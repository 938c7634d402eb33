package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/alttext/internal/store"
	"github.com/kiranshivaraju/alttext/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := map[string]func(t *testing.T, s store.Store){
		"BatchRoundtrip":          testBatchRoundtrip,
		"BatchNotFound":           testBatchNotFound,
		"BatchDuplicate":          testBatchDuplicate,
		"BatchCountersInvariant":  testBatchCountersInvariant,
		"BatchStatusTransitions":  testBatchStatusTransitions,
		"ListBatches":             testListBatches,
		"JobsOrderedAndFiltered":  testJobsOrderedAndFiltered,
		"JobDuplicateImage":       testJobDuplicateImage,
		"JobLifecycle":            testJobLifecycle,
		"JobRetryResetKeepsError": testJobRetryResetKeepsError,
		"JobInvalidTransition":    testJobInvalidTransition,
		"JobNotFound":             testJobNotFound,
		"BulkCancelOnlyPending":   testBulkCancelOnlyPending,
		"CountJobs":               testCountJobs,
		"DeleteBatchCascades":     testDeleteBatchCascades,
		"DeleteBatchesBefore":     testDeleteBatchesBefore,
		"APIKeys":                 testAPIKeys,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func sampleSettings() models.Settings {
	return models.Settings{
		API: models.APISettings{
			Endpoint:    "https://vision.example.com/v1/chat/completions",
			Model:       "gpt-4o",
			Provider:    models.ProviderChat,
			MaxTokens:   300,
			Temperature: 0.7,
		},
		Processing: models.ProcessingSettings{
			BatchSize:      5,
			RateLimitDelay: 1500 * time.Millisecond,
			MaxRetries:     3,
			Timeout:        30 * time.Second,
			RetryPolicy:    models.RetryUniform,
		},
		Prompts: models.PromptSettings{DefaultTemplate: "Describe this image."},
	}
}

func newBatch(t *testing.T, s store.Store, owner string) *models.Batch {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	b := &models.Batch{
		BatchID:   "batch_" + uuid.NewString()[:8],
		Owner:     owner,
		Mode:      models.ModeTest,
		Status:    models.StatusPending,
		Settings:  sampleSettings(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateBatch(context.Background(), b))
	return b
}

func addJobs(t *testing.T, s store.Store, batchID string, n int) []*models.Job {
	t.Helper()
	base := time.Now().UTC().Truncate(time.Microsecond)
	jobs := make([]*models.Job, n)
	for i := range jobs {
		created := base.Add(time.Duration(i) * time.Millisecond)
		jobs[i] = &models.Job{
			BatchID:       batchID,
			ImageRef:      fmt.Sprintf("%d", 100+i),
			Status:        models.StatusPending,
			OriginalLabel: fmt.Sprintf("old label %d", i),
			CreatedAt:     created,
			UpdatedAt:     created,
		}
		require.NoError(t, s.CreateJob(context.Background(), jobs[i]))
	}
	require.NoError(t, s.SetBatchTotal(context.Background(), batchID, n))
	return jobs
}

func testBatchRoundtrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")

	got, err := s.GetBatch(ctx, b.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, models.ModeTest, got.Mode)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, sampleSettings(), got.Settings)
	assert.WithinDuration(t, b.CreatedAt, got.CreatedAt, time.Second)

	require.NoError(t, s.SetBatchTotal(ctx, b.BatchID, 3))
	require.NoError(t, s.UpdateBatchCounters(ctx, b.BatchID, 2, 1))

	got, err = s.GetBatch(ctx, b.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalJobs)
	assert.Equal(t, 2, got.CompletedJobs)
	assert.Equal(t, 1, got.FailedJobs)
}

func testBatchNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetBatch(ctx, "batch_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateBatchStatus(ctx, "batch_missing", models.StatusProcessing), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateBatchCounters(ctx, "batch_missing", 0, 0), store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBatch(ctx, "batch_missing"), store.ErrNotFound)
}

func testBatchDuplicate(t *testing.T, s store.Store) {
	b := newBatch(t, s, "alice")
	dup := *b
	assert.ErrorIs(t, s.CreateBatch(context.Background(), &dup), store.ErrDuplicateKey)
}

func testBatchCountersInvariant(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")
	require.NoError(t, s.SetBatchTotal(ctx, b.BatchID, 2))

	// completed + failed may never exceed total.
	assert.Error(t, s.UpdateBatchCounters(ctx, b.BatchID, 2, 1))

	got, err := s.GetBatch(ctx, b.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CompletedJobs)
}

func testBatchStatusTransitions(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")

	require.NoError(t, s.UpdateBatchStatus(ctx, b.BatchID, models.StatusProcessing))
	require.NoError(t, s.UpdateBatchStatus(ctx, b.BatchID, models.StatusCompleted))
	require.NoError(t, s.UpdateBatchStatus(ctx, b.BatchID, models.StatusApplied))
	require.NoError(t, s.UpdateBatchStatus(ctx, b.BatchID, models.StatusApplied))

	err := s.UpdateBatchStatus(ctx, b.BatchID, models.StatusCancelled)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	c := newBatch(t, s, "alice")
	require.NoError(t, s.UpdateBatchStatus(ctx, c.BatchID, models.StatusCancelled))
	assert.ErrorIs(t, s.UpdateBatchStatus(ctx, c.BatchID, models.StatusProcessing), store.ErrInvalidTransition)
}

func testListBatches(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		newBatch(t, s, "alice")
	}
	bob := newBatch(t, s, "bob")

	all, err := s.ListBatches(ctx, store.BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	mine, err := s.ListBatches(ctx, store.BatchFilter{Owner: "bob"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, bob.BatchID, mine[0].BatchID)

	limited, err := s.ListBatches(ctx, store.BatchFilter{Owner: "alice", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	pending, err := s.ListBatches(ctx, store.BatchFilter{Status: models.StatusProcessing})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testJobsOrderedAndFiltered(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")
	jobs := addJobs(t, s, b.BatchID, 3)

	assert.Less(t, jobs[0].ID, jobs[1].ID)
	assert.Less(t, jobs[1].ID, jobs[2].ID)

	require.NoError(t, s.UpdateJobStatus(ctx, jobs[1].ID, models.StatusProcessing))

	listed, err := s.ListJobs(ctx, b.BatchID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, j := range listed {
		assert.Equal(t, jobs[i].ID, j.ID)
		assert.Equal(t, jobs[i].OriginalLabel, j.OriginalLabel)
	}

	pending, err := s.ListJobs(ctx, b.BatchID, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, jobs[0].ID, pending[0].ID)
	assert.Equal(t, jobs[2].ID, pending[1].ID)

	both, err := s.ListJobs(ctx, b.BatchID, models.StatusPending, models.StatusProcessing)
	require.NoError(t, err)
	assert.Len(t, both, 3)
}

func testJobDuplicateImage(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")
	now := time.Now().UTC()
	job := &models.Job{BatchID: b.BatchID, ImageRef: "42", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateJob(ctx, job))

	dup := &models.Job{BatchID: b.BatchID, ImageRef: "42", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now}
	assert.ErrorIs(t, s.CreateJob(ctx, dup), store.ErrDuplicateKey)
}

func testJobLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")
	job := addJobs(t, s, b.BatchID, 1)[0]

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.StatusPending,
		store.WithRetryCount(1), store.WithErrorMessage("api error 503: server error")))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.StatusCompleted,
		store.WithDescription("A red kite over a field.")))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "A red kite over a field.", got.GeneratedDescription)
	assert.Empty(t, got.ErrorMessage, "success clears the last error")
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ProcessedAt)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.StatusApplied, store.WithDescription("Edited.")))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApplied, got.Status)
	assert.Equal(t, "Edited.", got.GeneratedDescription)
}

func testJobRetryResetKeepsError(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")
	job := addJobs(t, s, b.BatchID, 1)[0]

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.StatusPending,
		store.WithRetryCount(1), store.WithErrorMessage("timeout")))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "timeout", got.ErrorMessage)
	assert.Nil(t, got.ProcessedAt, "retry resets are not terminal")
}

func testJobInvalidTransition(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")
	job := addJobs(t, s, b.BatchID, 1)[0]

	err := s.UpdateJobStatus(ctx, job.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = s.BulkUpdateJobStatus(ctx, b.BatchID, models.StatusCompleted, models.StatusPending)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func testJobNotFound(t *testing.T, s store.Store) {
	_, err := s.GetJob(context.Background(), 999999)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateJobStatus(context.Background(), 999999, models.StatusProcessing), store.ErrNotFound)
}

func testBulkCancelOnlyPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")
	jobs := addJobs(t, s, b.BatchID, 4)

	require.NoError(t, s.UpdateJobStatus(ctx, jobs[0].ID, models.StatusProcessing))
	require.NoError(t, s.UpdateJobStatus(ctx, jobs[0].ID, models.StatusCompleted, store.WithDescription("done")))
	require.NoError(t, s.UpdateJobStatus(ctx, jobs[1].ID, models.StatusProcessing))

	n, err := s.BulkUpdateJobStatus(ctx, b.BatchID, models.StatusPending, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	statuses := map[int64]models.Status{}
	listed, err := s.ListJobs(ctx, b.BatchID)
	require.NoError(t, err)
	for _, j := range listed {
		statuses[j.ID] = j.Status
	}
	assert.Equal(t, models.StatusCompleted, statuses[jobs[0].ID])
	assert.Equal(t, models.StatusProcessing, statuses[jobs[1].ID])
	assert.Equal(t, models.StatusCancelled, statuses[jobs[2].ID])
	assert.Equal(t, models.StatusCancelled, statuses[jobs[3].ID])
}

func testCountJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")
	jobs := addJobs(t, s, b.BatchID, 3)

	require.NoError(t, s.UpdateJobStatus(ctx, jobs[0].ID, models.StatusProcessing))
	require.NoError(t, s.UpdateJobStatus(ctx, jobs[0].ID, models.StatusFailed, store.WithErrorMessage("nope")))

	counts, err := s.CountJobs(ctx, b.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCounts{Total: 3, Pending: 2, Failed: 1}, counts)

	empty, err := s.CountJobs(ctx, "batch_missing")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}

func testDeleteBatchCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := newBatch(t, s, "alice")
	jobs := addJobs(t, s, b.BatchID, 2)

	require.NoError(t, s.DeleteBatch(ctx, b.BatchID))

	_, err := s.GetBatch(ctx, b.BatchID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetJob(ctx, jobs[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeleteBatchesBefore(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := &models.Batch{
		BatchID:   "batch_old_" + uuid.NewString()[:8],
		Mode:      models.ModeProduction,
		Status:    models.StatusApplied,
		Settings:  sampleSettings(),
		CreatedAt: time.Now().UTC().AddDate(0, 0, -40),
		UpdatedAt: time.Now().UTC().AddDate(0, 0, -40),
	}
	require.NoError(t, s.CreateBatch(ctx, old))
	addJobs(t, s, old.BatchID, 2)
	fresh := newBatch(t, s, "alice")

	ids, err := s.DeleteBatchesBefore(ctx, time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, []string{old.BatchID}, ids)

	_, err = s.GetBatch(ctx, old.BatchID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetBatch(ctx, fresh.BatchID)
	assert.NoError(t, err)

	counts, err := s.CountJobs(ctx, old.BatchID)
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
}

func testAPIKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "alice",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "at_abcde",
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "at_abcde")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"read", "write"}, keys[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	listed, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.NotNil(t, listed[0].LastUsedAt)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "at_abcde")
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}
