package domain

import "context"

// TriggerMatch pairs a subscribed app with one of its task definitions that
// should fire for an event.
type TriggerMatch struct {
	App  App
	Task TaskDefinition
}

// TriggerResolver computes the ordered set of task definitions an event
// triggers. Ordering is stable: app registration order, then task declaration
// order.
type TriggerResolver interface {
	ResolveTriggers(ctx context.Context, event Event) ([]TriggerMatch, error)
}

type EnqueueParams struct {
	// JobID is the operation's ID and must be supplied by the caller;
	// re-enqueueing the same JobID does not create duplicate work.
	JobID            string
	OperationName    string
	FolderID         string
	OperationData    map[string]any
	InputObjectKeys  []string
	OutputObjectKeys []string
	ReceiptID        *string
}

// OperationDispatcher validates and durably enqueues operations.
type OperationDispatcher interface {
	// Enqueue validates OperationData against the operation's schema,
	// resolves the referenced objects and persists operation, object rows and
	// queue job in one transaction. A half-created operation is never
	// observable.
	Enqueue(ctx context.Context, p EnqueueParams) error
}

// MetadataUploadTarget names the metadata hashes a worker wants upload URLs
// for within one folder.
type MetadataUploadTarget struct {
	FolderID       string   `json:"folderId"`
	MetadataHashes []string `json:"metadataHashes"`
}

type ContentAttributesUpdate struct {
	FolderID   string         `json:"folderId"`
	ObjectKey  string         `json:"objectKey"`
	Hash       string         `json:"hash"`
	Attributes map[string]any `json:"attributes"`
}

type ContentMetadataUpdate struct {
	FolderID  string         `json:"folderId"`
	ObjectKey string         `json:"objectKey"`
	Hash      string         `json:"hash"`
	Metadata  map[string]any `json:"metadata"`
}

type CompleteOperationParams struct {
	OperationID string
	Success     bool
	Error       string
}

// OperationLifecycleService drives the start -> (object I/O) -> complete
// state machine and mints the signed URLs workers use for out-of-band object
// storage I/O.
type OperationLifecycleService interface {
	// RegisterOperationStart marks the operation started exactly once and
	// returns one GET URL per declared input object, grouped by owning
	// folder. A second start fails with OperationInvalid.
	RegisterOperationStart(ctx context.Context, operationID string, handlerID string) ([]SignedObjectURL, error)
	// CreateOutputUploadURLs mints PUT URLs for declared output objects,
	// keyed by object key. Requires started && !completed.
	CreateOutputUploadURLs(ctx context.Context, operationID string, objectKeys []string) (map[string]string, error)
	// CreateMetadataUploadURLs mints PUT URLs for per-hash metadata files,
	// keyed by metadata hash. Requires started && !completed.
	CreateMetadataUploadURLs(ctx context.Context, operationID string, targets []MetadataUploadTarget) (map[string]string, error)
	// CompleteOperation records terminal success or failure. Requires
	// started && !completed; an operation that previously errored stays
	// terminal.
	CompleteOperation(ctx context.Context, p CompleteOperationParams) error
	// UpdateContentAttributes applies a batch of hash-keyed attribute merges.
	// Tuples are applied independently; a failing tuple does not roll back
	// the others.
	UpdateContentAttributes(ctx context.Context, updates []ContentAttributesUpdate) error
	// UpdateContentMetadata merges hash-keyed metadata entries without
	// replacing entries under other hashes.
	UpdateContentMetadata(ctx context.Context, updates []ContentMetadataUpdate) error
}
