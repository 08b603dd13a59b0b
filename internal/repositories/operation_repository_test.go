package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestJobQueue connects to the database named by TEST_DATABASE_URL and
// shadows operation_jobs with a temporary table. A single connection keeps
// the temporary table visible to every query in the test.
func newTestJobQueue(t *testing.T) (*pgxpool.Pool, domain.OperationJobQueue) {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	require.NoError(t, err)
	config.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `
		CREATE TEMPORARY TABLE operation_jobs (
			id             TEXT PRIMARY KEY,
			operation_name TEXT NOT NULL,
			available_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			attempts       INTEGER NOT NULL DEFAULT 0,
			claimed_at     TIMESTAMPTZ
		)`)
	require.NoError(t, err)

	return pool, NewPostgresOperationJobQueue(PostgresOperationJobQueueDependencies{Pool: pool})
}

func insertJob(t *testing.T, pool *pgxpool.Pool, id string, availableAgo time.Duration, claimedAgo *time.Duration, attempts int) {
	t.Helper()

	var claimedAt *time.Time
	if claimedAgo != nil {
		stamp := time.Now().Add(-*claimedAgo)
		claimedAt = &stamp
	}

	_, err := pool.Exec(context.Background(), `
		INSERT INTO operation_jobs (id, operation_name, available_at, attempts, claimed_at)
		VALUES ($1, $2, now() - $3, $4, $5)`,
		id, "generate_thumbnail", availableAgo, attempts, claimedAt)
	require.NoError(t, err)
}

func claimedJobIDs(jobs []domain.OperationJob) []string {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	return ids
}

func TestPostgresOperationJobQueue_ReclaimsStaleClaims(t *testing.T) {
	pool, queue := newTestJobQueue(t)
	ctx := context.Background()

	staleAge := 2 * domain.JobClaimTTL
	freshAge := time.Second
	insertJob(t, pool, "job-stale-claim", time.Hour, &staleAge, 1)
	insertJob(t, pool, "job-fresh-claim", time.Hour, &freshAge, 1)
	insertJob(t, pool, "job-unclaimed", time.Hour, nil, 0)

	jobs, err := queue.ClaimDueJobs(ctx, 10)
	require.NoError(t, err)

	ids := claimedJobIDs(jobs)
	assert.Contains(t, ids, "job-stale-claim", "a claim abandoned by a dead dispatcher is reclaimable")
	assert.Contains(t, ids, "job-unclaimed")
	assert.NotContains(t, ids, "job-fresh-claim", "a live claim stays exclusive")

	for _, job := range jobs {
		if job.ID == "job-stale-claim" {
			assert.Equal(t, 2, job.Attempts)
		}
	}

	// The reclaimed jobs now carry fresh claims of their own.
	jobs, err = queue.ClaimDueJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestPostgresOperationJobQueue_ReleaseMakesJobClaimable(t *testing.T) {
	pool, queue := newTestJobQueue(t)
	ctx := context.Background()

	freshAge := time.Second
	insertJob(t, pool, "job-1", time.Hour, &freshAge, 1)

	jobs, err := queue.ClaimDueJobs(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, jobs)

	require.NoError(t, queue.ReleaseJob(ctx, "job-1", 0))

	jobs, err = queue.ClaimDueJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
}

func TestPostgresOperationJobQueue_CompleteDeletesJob(t *testing.T) {
	pool, queue := newTestJobQueue(t)
	ctx := context.Background()

	insertJob(t, pool, "job-1", time.Hour, nil, 0)
	require.NoError(t, queue.CompleteJob(ctx, "job-1"))

	jobs, err := queue.ClaimDueJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
