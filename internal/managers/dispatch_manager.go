package managers

import (
	"context"
	"fmt"
	"time"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	dispatchBatchSize  = 16
	dispatchInterval   = time.Second
	dispatchRetryDelay = 5 * time.Second
)

// DispatchManager validates and durably enqueues operations, and runs the
// loop handing queued jobs to the capability router.
type DispatchManager struct {
	operationRepository domain.OperationRepository
	folderRepository    domain.FolderRepository
	jobQueue            domain.OperationJobQueue
	router              domain.OperationRouter
	schemaRegistry      *OperationSchemaRegistry
}

type DispatchManagerDependencies struct {
	OperationRepository domain.OperationRepository
	FolderRepository    domain.FolderRepository
	JobQueue            domain.OperationJobQueue
	Router              domain.OperationRouter
	SchemaRegistry      *OperationSchemaRegistry
}

func NewDispatchManager(deps DispatchManagerDependencies) *DispatchManager {
	return &DispatchManager{
		operationRepository: deps.OperationRepository,
		folderRepository:    deps.FolderRepository,
		jobQueue:            deps.JobQueue,
		router:              deps.Router,
		schemaRegistry:      deps.SchemaRegistry,
	}
}

// Enqueue validates the payload, resolves the referenced objects and
// persists operation, object rows and queue job in one transaction. Nothing
// is persisted or queued when validation or resolution fails.
func (m *DispatchManager) Enqueue(ctx context.Context, p domain.EnqueueParams) error {
	if p.JobID == "" {
		return domain.NewOperationInvalidError("job id is required")
	}

	if err := m.schemaRegistry.Validate(p.OperationName, p.OperationData); err != nil {
		return err
	}

	if _, err := m.folderRepository.GetFolder(ctx, p.FolderID); err != nil {
		return fmt.Errorf("failed to resolve folder: %w", err)
	}

	now := time.Now().UTC()
	op := domain.Operation{
		ID:            p.JobID,
		FolderID:      p.FolderID,
		OperationName: p.OperationName,
		OperationData: p.OperationData,
		ReceiptID:     p.ReceiptID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var objects []domain.OperationObject

	for _, objectKey := range p.InputObjectKeys {
		// Input objects must exist before the operation is persisted.
		if _, err := m.folderRepository.GetFolderObject(ctx, p.FolderID, objectKey); err != nil {
			return fmt.Errorf("failed to resolve input object %s: %w", objectKey, err)
		}

		objects = append(objects, domain.OperationObject{
			ID:          uuid.NewString(),
			OperationID: op.ID,
			FolderID:    p.FolderID,
			ObjectKey:   objectKey,
			Purpose:     domain.OperationObjectInput,
		})
	}

	for _, objectKey := range p.OutputObjectKeys {
		// Outputs are declarations of objects the worker will create; they
		// need no existence check.
		objects = append(objects, domain.OperationObject{
			ID:          uuid.NewString(),
			OperationID: op.ID,
			FolderID:    p.FolderID,
			ObjectKey:   objectKey,
			Purpose:     domain.OperationObjectOutput,
		})
	}

	if err := m.operationRepository.CreateOperation(ctx, op, objects); err != nil {
		return fmt.Errorf("failed to persist operation: %w", err)
	}

	log.Info().
		Str("operation_id", op.ID).
		Str("operation_name", op.OperationName).
		Str("folder_id", op.FolderID).
		Msg("Operation enqueued")

	return nil
}

// RunDispatcher claims due jobs and offers them to capable workers until the
// context is cancelled. Unroutable jobs go back to the queue with a delay.
func (m *DispatchManager) RunDispatcher(ctx context.Context) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.dispatchDueJobs(ctx); err != nil {
				log.Error().Err(err).Msg("Dispatch pass failed")
			}
		}
	}
}

func (m *DispatchManager) dispatchDueJobs(ctx context.Context) error {
	jobs, err := m.jobQueue.ClaimDueJobs(ctx, dispatchBatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim due jobs: %w", err)
	}

	for _, job := range jobs {
		if err := m.dispatchJob(ctx, job); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to dispatch job")

			if releaseErr := m.jobQueue.ReleaseJob(ctx, job.ID, dispatchRetryDelay); releaseErr != nil {
				log.Error().Err(releaseErr).Str("job_id", job.ID).Msg("Failed to release job")
			}
		}
	}

	return nil
}

func (m *DispatchManager) dispatchJob(ctx context.Context, job domain.OperationJob) error {
	op, err := m.operationRepository.GetOperation(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load operation for job: %w", err)
	}

	// A started operation is already owned by a worker; the queue entry is
	// leftover bookkeeping.
	if op.Started {
		return m.jobQueue.CompleteJob(ctx, job.ID)
	}

	workerID, ok, err := m.router.RouteOperation(ctx, op)
	if err != nil {
		return fmt.Errorf("failed to route operation: %w", err)
	}

	if !ok {
		log.Debug().
			Str("operation_id", op.ID).
			Str("operation_name", op.OperationName).
			Msg("No worker accepted operation, requeueing")

		return m.jobQueue.ReleaseJob(ctx, job.ID, dispatchRetryDelay)
	}

	log.Info().
		Str("operation_id", op.ID).
		Str("worker_id", workerID).
		Msg("Operation accepted by worker")

	// The accepting worker drives the lifecycle from here over HTTP.
	return m.jobQueue.CompleteJob(ctx, job.ID)
}
