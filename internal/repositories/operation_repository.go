package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresOperationRepository struct {
	pool *pgxpool.Pool
}

type PostgresOperationRepositoryDependencies struct {
	Pool *pgxpool.Pool
}

func NewPostgresOperationRepository(deps PostgresOperationRepositoryDependencies) domain.OperationRepository {
	return &PostgresOperationRepository{
		pool: deps.Pool,
	}
}

func (r *PostgresOperationRepository) CreateOperation(ctx context.Context, op domain.Operation, objects []domain.OperationObject) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO operations (id, folder_id, operation_name, operation_data, receipt_id, started, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, $6, $6)
		ON CONFLICT (id) DO NOTHING`,
		op.ID, op.FolderID, op.OperationName, op.OperationData, op.ReceiptID, op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	// Idempotent enqueue: an existing operation means the job was already
	// persisted and queued, so there is nothing more to do.
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	batch := &pgx.Batch{}
	for _, object := range objects {
		batch.Queue(`
			INSERT INTO operation_objects (id, operation_id, folder_id, object_key, purpose)
			VALUES ($1, $2, $3, $4, $5)`,
			object.ID, object.OperationID, object.FolderID, object.ObjectKey, object.Purpose,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert operation objects: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO operation_jobs (id, operation_name, available_at, attempts)
		VALUES ($1, $2, now(), 0)
		ON CONFLICT (id) DO NOTHING`,
		op.ID, op.OperationName,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit operation enqueue: %w", err)
	}

	return nil
}

func (r *PostgresOperationRepository) GetOperation(ctx context.Context, id string) (domain.Operation, error) {
	var op domain.Operation

	err := r.pool.QueryRow(ctx, `
		SELECT id, folder_id, operation_name, operation_data, receipt_id, started, completed, error, created_at, updated_at
		FROM operations WHERE id = $1`, id,
	).Scan(&op.ID, &op.FolderID, &op.OperationName, &op.OperationData, &op.ReceiptID,
		&op.Started, &op.Completed, &op.Error, &op.CreatedAt, &op.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Operation{}, domain.NewOperationNotFoundError("operation", id)
	}
	if err != nil {
		return domain.Operation{}, fmt.Errorf("failed to get operation: %w", err)
	}

	return op, nil
}

func (r *PostgresOperationRepository) ListOperationObjects(ctx context.Context, operationID string) ([]domain.OperationObject, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, operation_id, folder_id, object_key, purpose
		FROM operation_objects WHERE operation_id = $1
		ORDER BY object_key`, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operation objects: %w", err)
	}
	defer rows.Close()

	var objects []domain.OperationObject
	for rows.Next() {
		var object domain.OperationObject
		if err := rows.Scan(&object.ID, &object.OperationID, &object.FolderID, &object.ObjectKey, &object.Purpose); err != nil {
			return nil, fmt.Errorf("failed to scan operation object: %w", err)
		}
		objects = append(objects, object)
	}

	return objects, rows.Err()
}

// MarkOperationStarted performs the CREATED -> STARTED transition as a single
// compare-and-swap so two concurrent starts cannot both succeed.
func (r *PostgresOperationRepository) MarkOperationStarted(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE operations SET started = TRUE, updated_at = now()
		WHERE id = $1 AND NOT started`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark operation started: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// MarkOperationCompleted records terminal success (nil opErr) or failure. An
// operation that already completed or errored is not transitioned again.
func (r *PostgresOperationRepository) MarkOperationCompleted(ctx context.Context, id string, opErr *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE operations SET completed = ($2::text IS NULL), error = $2, updated_at = now()
		WHERE id = $1 AND started AND NOT completed AND error IS NULL`, id, opErr)
	if err != nil {
		return false, fmt.Errorf("failed to mark operation completed: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ReleaseOperationStart reverts STARTED -> CREATED. The guard keeps terminal
// operations terminal.
func (r *PostgresOperationRepository) ReleaseOperationStart(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE operations SET started = FALSE, updated_at = now()
		WHERE id = $1 AND started AND NOT completed AND error IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to release operation start: %w", err)
	}

	return nil
}

type PostgresOperationJobQueue struct {
	pool *pgxpool.Pool
}

type PostgresOperationJobQueueDependencies struct {
	Pool *pgxpool.Pool
}

func NewPostgresOperationJobQueue(deps PostgresOperationJobQueueDependencies) domain.OperationJobQueue {
	return &PostgresOperationJobQueue{
		pool: deps.Pool,
	}
}

// ClaimDueJobs claims up to limit due jobs exclusively across competing
// dispatchers. A claim is a lease: a job whose claim is older than
// JobClaimTTL was abandoned by a dead dispatcher and is claimable again.
func (q *PostgresOperationJobQueue) ClaimDueJobs(ctx context.Context, limit int) ([]domain.OperationJob, error) {
	rows, err := q.pool.Query(ctx, `
		UPDATE operation_jobs SET claimed_at = now(), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM operation_jobs
			WHERE (claimed_at IS NULL OR claimed_at < now() - $2)
				AND available_at <= now()
			ORDER BY available_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, operation_name, available_at, attempts, claimed_at`, limit, domain.JobClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.OperationJob
	for rows.Next() {
		var job domain.OperationJob
		if err := rows.Scan(&job.ID, &job.OperationName, &job.AvailableAt, &job.Attempts, &job.ClaimedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (q *PostgresOperationJobQueue) ReleaseJob(ctx context.Context, id string, retryAfter time.Duration) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE operation_jobs SET claimed_at = NULL, available_at = now() + $2
		WHERE id = $1`, id, retryAfter)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}

	return nil
}

func (q *PostgresOperationJobQueue) CompleteJob(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM operation_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return nil
}
