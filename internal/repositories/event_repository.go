package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

type PostgresEventRepositoryDependencies struct {
	Pool *pgxpool.Pool
}

func NewPostgresEventRepository(deps PostgresEventRepositoryDependencies) domain.EventRepository {
	return &PostgresEventRepository{
		pool: deps.Pool,
	}
}

func (r *PostgresEventRepository) CreateEventWithReceipts(ctx context.Context, event domain.Event, receipts []domain.EventReceipt) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var targetFolderID, targetObjectKey *string
	if event.TargetLocation != nil {
		targetFolderID = &event.TargetLocation.FolderID
		targetObjectKey = event.TargetLocation.ObjectKey
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, event_key, emitter_identifier, target_user_id, target_folder_id, target_object_key, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.EventKey, event.EmitterIdentifier, event.TargetUserID,
		targetFolderID, targetObjectKey, event.Data, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	batch := &pgx.Batch{}
	for _, receipt := range receipts {
		batch.Queue(`
			INSERT INTO event_receipts (id, event_id, app_identifier, event_key, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			receipt.ID, receipt.EventID, receipt.AppIdentifier, receipt.EventKey, receipt.CreatedAt,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert receipts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event emission: %w", err)
	}

	return nil
}

func (r *PostgresEventRepository) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	var (
		event           domain.Event
		targetFolderID  *string
		targetObjectKey *string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, event_key, emitter_identifier, target_user_id, target_folder_id, target_object_key, data, created_at
		FROM events WHERE id = $1`, id,
	).Scan(&event.ID, &event.EventKey, &event.EmitterIdentifier, &event.TargetUserID,
		&targetFolderID, &targetObjectKey, &event.Data, &event.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.NewOperationNotFoundError("event", id)
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to get event: %w", err)
	}

	if targetFolderID != nil {
		event.TargetLocation = &domain.EventLocation{
			FolderID:  *targetFolderID,
			ObjectKey: targetObjectKey,
		}
	}

	return event, nil
}

func (r *PostgresEventRepository) ListPendingReceiptBacklog(ctx context.Context) ([]domain.ReceiptBacklogGroup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT app_identifier, event_key, COUNT(*)
		FROM event_receipts
		WHERE started_at IS NULL
		GROUP BY app_identifier, event_key
		ORDER BY app_identifier, event_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending receipt backlog: %w", err)
	}
	defer rows.Close()

	var groups []domain.ReceiptBacklogGroup
	for rows.Next() {
		var group domain.ReceiptBacklogGroup
		if err := rows.Scan(&group.AppIdentifier, &group.EventKey, &group.PendingCount); err != nil {
			return nil, fmt.Errorf("failed to scan backlog group: %w", err)
		}
		groups = append(groups, group)
	}

	return groups, rows.Err()
}

func (r *PostgresEventRepository) MarkReceiptStarted(ctx context.Context, receiptID string, handlerID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE event_receipts
		SET started_at = now(), handler_id = $2
		WHERE id = $1 AND started_at IS NULL`,
		receiptID, handlerID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark receipt started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewOperationInvalidError("receipt %s is already started", receiptID)
	}

	return nil
}

func (r *PostgresEventRepository) MarkReceiptCompleted(ctx context.Context, receiptID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE event_receipts
		SET completed_at = now()
		WHERE id = $1 AND started_at IS NOT NULL AND completed_at IS NULL AND error_at IS NULL`,
		receiptID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark receipt completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewOperationInvalidError("receipt %s is not in a completable state", receiptID)
	}

	return nil
}

func (r *PostgresEventRepository) MarkReceiptErrored(ctx context.Context, receiptID string, message string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE event_receipts
		SET error_at = now(), error = $2
		WHERE id = $1 AND started_at IS NOT NULL AND completed_at IS NULL AND error_at IS NULL`,
		receiptID, message,
	)
	if err != nil {
		return fmt.Errorf("failed to mark receipt errored: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewOperationInvalidError("receipt %s is not in an errorable state", receiptID)
	}

	return nil
}
