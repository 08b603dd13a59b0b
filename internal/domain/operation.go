package domain

import (
	"context"
	"time"
)

type OperationObjectPurpose string

const (
	OperationObjectInput  OperationObjectPurpose = "INPUT"
	OperationObjectOutput OperationObjectPurpose = "OUTPUT"
)

// Operation is a unit of work derived from a triggered task definition,
// driven through a start/complete lifecycle by a worker.
// Invariant: Completed implies Started; start is idempotent-rejecting, a
// second start fails rather than silently succeeding.
type Operation struct {
	ID            string         `json:"id"`
	FolderID      string         `json:"folderId"`
	OperationName string         `json:"operationName"`
	OperationData map[string]any `json:"operationData"`
	ReceiptID     *string        `json:"receiptId,omitempty"`
	Started       bool           `json:"started"`
	Completed     bool           `json:"completed"`
	Error         *string        `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// OperationObject tags one folder object as input or output of an operation.
type OperationObject struct {
	ID          string                 `json:"id"`
	OperationID string                 `json:"operationId"`
	FolderID    string                 `json:"folderId"`
	ObjectKey   string                 `json:"objectKey"`
	Purpose     OperationObjectPurpose `json:"purpose"`
}

// OperationJob is a row in the durable dispatch queue. Its ID equals the
// operation ID so re-enqueueing the same operation is a no-op.
type OperationJob struct {
	ID            string     `json:"id"`
	OperationName string     `json:"operationName"`
	AvailableAt   time.Time  `json:"availableAt"`
	Attempts      int        `json:"attempts"`
	ClaimedAt     *time.Time `json:"claimedAt,omitempty"`
}

type OperationRepository interface {
	// CreateOperation persists the operation, its object rows and its queue
	// job in a single transaction. An existing job with the same ID is left
	// untouched.
	CreateOperation(ctx context.Context, op Operation, objects []OperationObject) error
	GetOperation(ctx context.Context, id string) (Operation, error)
	ListOperationObjects(ctx context.Context, operationID string) ([]OperationObject, error)
	// MarkOperationStarted transitions CREATED -> STARTED atomically and
	// reports whether this call performed the transition.
	MarkOperationStarted(ctx context.Context, id string) (bool, error)
	// MarkOperationCompleted transitions STARTED -> terminal atomically. A nil
	// opErr records success, otherwise the failure message. Reports whether
	// this call performed the transition.
	MarkOperationCompleted(ctx context.Context, id string, opErr *string) (bool, error)
	// ReleaseOperationStart undoes a start claim whose side effects could not
	// be delivered, making the operation startable again. Terminal operations
	// are left untouched.
	ReleaseOperationStart(ctx context.Context, id string) error
}

// JobClaimTTL bounds how long a dispatcher's claim on a queued job survives.
// A claim older than this belongs to a dispatcher that died mid-pass and the
// job becomes claimable again.
const JobClaimTTL = 2 * time.Minute

// OperationJobQueue hands queued jobs to the dispatcher. Claiming is
// exclusive across competing dispatchers; claims are leases bounded by
// JobClaimTTL, not permanent ownership.
type OperationJobQueue interface {
	ClaimDueJobs(ctx context.Context, limit int) ([]OperationJob, error)
	// ReleaseJob returns an unroutable job to the queue for a later pass.
	ReleaseJob(ctx context.Context, id string, retryAfter time.Duration) error
	CompleteJob(ctx context.Context, id string) error
}
