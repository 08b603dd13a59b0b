package managers

import (
	"context"
	"fmt"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/rs/zerolog/log"
)

type lifecycleManager struct {
	operationRepository domain.OperationRepository
	folderRepository    domain.FolderRepository
	eventRepository     domain.EventRepository
	presigner           domain.ObjectPresigner
	channel             domain.WorkerChannel
}

type LifecycleManagerDependencies struct {
	OperationRepository domain.OperationRepository
	FolderRepository    domain.FolderRepository
	EventRepository     domain.EventRepository
	Presigner           domain.ObjectPresigner
	Channel             domain.WorkerChannel
}

func NewLifecycleManager(deps LifecycleManagerDependencies) domain.OperationLifecycleService {
	return &lifecycleManager{
		operationRepository: deps.OperationRepository,
		folderRepository:    deps.FolderRepository,
		eventRepository:     deps.EventRepository,
		presigner:           deps.Presigner,
		channel:             deps.Channel,
	}
}

// RegisterOperationStart claims the operation for a worker. The transition is
// a compare-and-swap, so exactly one of two concurrent starts succeeds and
// signed URLs are minted at most once.
func (m *lifecycleManager) RegisterOperationStart(ctx context.Context, operationID string, handlerID string) ([]domain.SignedObjectURL, error) {
	op, err := m.operationRepository.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}

	transitioned, err := m.operationRepository.MarkOperationStarted(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return nil, domain.NewOperationInvalidError("operation %s is already started", operationID)
	}

	if op.ReceiptID != nil {
		if err := m.eventRepository.MarkReceiptStarted(ctx, *op.ReceiptID, handlerID); err != nil {
			log.Warn().Err(err).Str("receipt_id", *op.ReceiptID).Msg("Failed to mark receipt started")
		}
	}

	urls, err := m.mintStartURLs(ctx, operationID)
	if err != nil {
		// The start claim is held only with its URLs delivered; giving it
		// back lets the worker retry instead of stranding the operation
		// started with nothing to work on. The receipt's started mark stays.
		if releaseErr := m.operationRepository.ReleaseOperationStart(ctx, operationID); releaseErr != nil {
			log.Warn().Err(releaseErr).Str("operation_id", operationID).Msg("Failed to release start claim")
		}
		return nil, err
	}

	log.Info().
		Str("operation_id", operationID).
		Str("handler_id", handlerID).
		Int("input_count", len(urls)).
		Msg("Operation started")

	return urls, nil
}

func (m *lifecycleManager) mintStartURLs(ctx context.Context, operationID string) ([]domain.SignedObjectURL, error) {
	objects, err := m.operationRepository.ListOperationObjects(ctx, operationID)
	if err != nil {
		return nil, err
	}

	var inputs []domain.OperationObject
	for _, object := range objects {
		if object.Purpose == domain.OperationObjectInput {
			inputs = append(inputs, object)
		}
	}

	return m.presignInputURLs(ctx, inputs)
}

// presignInputURLs groups input objects by owning folder so each folder's
// storage credentials are configured exactly once per batch.
func (m *lifecycleManager) presignInputURLs(ctx context.Context, inputs []domain.OperationObject) ([]domain.SignedObjectURL, error) {
	byFolder := make(map[string][]domain.OperationObject)
	var folderOrder []string
	for _, input := range inputs {
		if _, seen := byFolder[input.FolderID]; !seen {
			folderOrder = append(folderOrder, input.FolderID)
		}
		byFolder[input.FolderID] = append(byFolder[input.FolderID], input)
	}

	var urls []domain.SignedObjectURL
	for _, folderID := range folderOrder {
		folder, err := m.folderRepository.GetFolder(ctx, folderID)
		if err != nil {
			return nil, err
		}

		items := make([]domain.PresignItem, 0, len(byFolder[folderID]))
		for _, input := range byFolder[folderID] {
			items = append(items, domain.PresignItem{
				Key:       input.ObjectKey,
				ObjectKey: input.ObjectKey,
				Method:    domain.SignedURLMethodGet,
				Expiry:    domain.ContentURLExpiry,
			})
		}

		minted, err := m.presigner.PresignURLs(ctx, folder.ContentLocation, items)
		if err != nil {
			return nil, fmt.Errorf("failed to presign input urls for folder %s: %w", folderID, err)
		}

		for _, input := range byFolder[folderID] {
			urls = append(urls, domain.SignedObjectURL{
				FolderID:  folderID,
				ObjectKey: input.ObjectKey,
				URL:       minted[input.ObjectKey],
			})
		}
	}

	return urls, nil
}

func (m *lifecycleManager) CreateOutputUploadURLs(ctx context.Context, operationID string, objectKeys []string) (map[string]string, error) {
	op, err := m.requireActiveOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}

	objects, err := m.operationRepository.ListOperationObjects(ctx, operationID)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]domain.OperationObject)
	for _, object := range objects {
		if object.Purpose == domain.OperationObjectOutput {
			declared[object.ObjectKey] = object
		}
	}

	// Group requested outputs by folder before presigning.
	byFolder := make(map[string][]string)
	var folderOrder []string
	for _, objectKey := range objectKeys {
		object, ok := declared[objectKey]
		if !ok {
			return nil, domain.NewOperationInvalidError("object %s is not a declared output of operation %s", objectKey, op.ID)
		}

		if _, seen := byFolder[object.FolderID]; !seen {
			folderOrder = append(folderOrder, object.FolderID)
		}
		byFolder[object.FolderID] = append(byFolder[object.FolderID], objectKey)
	}

	urls := make(map[string]string, len(objectKeys))
	for _, folderID := range folderOrder {
		folder, err := m.folderRepository.GetFolder(ctx, folderID)
		if err != nil {
			return nil, err
		}

		items := make([]domain.PresignItem, 0, len(byFolder[folderID]))
		for _, objectKey := range byFolder[folderID] {
			items = append(items, domain.PresignItem{
				Key:       objectKey,
				ObjectKey: objectKey,
				Method:    domain.SignedURLMethodPut,
				Expiry:    domain.ContentURLExpiry,
			})
		}

		minted, err := m.presigner.PresignURLs(ctx, folder.ContentLocation, items)
		if err != nil {
			return nil, fmt.Errorf("failed to presign output urls for folder %s: %w", folderID, err)
		}

		for key, url := range minted {
			urls[key] = url
		}
	}

	return urls, nil
}

func (m *lifecycleManager) CreateMetadataUploadURLs(ctx context.Context, operationID string, targets []domain.MetadataUploadTarget) (map[string]string, error) {
	if _, err := m.requireActiveOperation(ctx, operationID); err != nil {
		return nil, err
	}

	urls := make(map[string]string)
	for _, target := range targets {
		folder, err := m.folderRepository.GetFolder(ctx, target.FolderID)
		if err != nil {
			return nil, err
		}

		items := make([]domain.PresignItem, 0, len(target.MetadataHashes))
		for _, hash := range target.MetadataHashes {
			items = append(items, domain.PresignItem{
				Key:       hash,
				ObjectKey: "metadata/" + hash,
				Method:    domain.SignedURLMethodPut,
				Expiry:    domain.MetadataURLExpiry,
			})
		}

		minted, err := m.presigner.PresignURLs(ctx, folder.MetadataLocation, items)
		if err != nil {
			return nil, fmt.Errorf("failed to presign metadata urls for folder %s: %w", target.FolderID, err)
		}

		for key, url := range minted {
			urls[key] = url
		}
	}

	return urls, nil
}

func (m *lifecycleManager) CompleteOperation(ctx context.Context, p domain.CompleteOperationParams) error {
	op, err := m.operationRepository.GetOperation(ctx, p.OperationID)
	if err != nil {
		return err
	}

	var opErr *string
	if !p.Success {
		message := p.Error
		if message == "" {
			message = "operation failed"
		}
		opErr = &message
	}

	transitioned, err := m.operationRepository.MarkOperationCompleted(ctx, p.OperationID, opErr)
	if err != nil {
		return err
	}
	if !transitioned {
		return domain.NewOperationInvalidError("operation %s is not in a completable state", p.OperationID)
	}

	if op.ReceiptID != nil {
		var receiptErr error
		if p.Success {
			receiptErr = m.eventRepository.MarkReceiptCompleted(ctx, *op.ReceiptID)
		} else {
			receiptErr = m.eventRepository.MarkReceiptErrored(ctx, *op.ReceiptID, *opErr)
		}
		if receiptErr != nil {
			log.Warn().Err(receiptErr).Str("receipt_id", *op.ReceiptID).Msg("Failed to progress receipt")
		}
	}

	log.Info().
		Str("operation_id", p.OperationID).
		Bool("success", p.Success).
		Msg("Operation completed")

	return nil
}

// UpdateContentAttributes applies each tuple independently; a failing tuple
// does not roll back the others, and the first failure is reported.
func (m *lifecycleManager) UpdateContentAttributes(ctx context.Context, updates []domain.ContentAttributesUpdate) error {
	for _, update := range updates {
		if err := m.folderRepository.MergeObjectAttributes(ctx, update.FolderID, update.ObjectKey, update.Hash, update.Attributes); err != nil {
			return fmt.Errorf("failed to update attributes for %s/%s: %w", update.FolderID, update.ObjectKey, err)
		}

		m.notifyObjectUpdated(ctx, update.FolderID, update.ObjectKey, update.Hash)
	}

	return nil
}

func (m *lifecycleManager) UpdateContentMetadata(ctx context.Context, updates []domain.ContentMetadataUpdate) error {
	for _, update := range updates {
		if err := m.folderRepository.MergeObjectMetadata(ctx, update.FolderID, update.ObjectKey, update.Hash, update.Metadata); err != nil {
			return fmt.Errorf("failed to update metadata for %s/%s: %w", update.FolderID, update.ObjectKey, err)
		}

		m.notifyObjectUpdated(ctx, update.FolderID, update.ObjectKey, update.Hash)
	}

	return nil
}

func (m *lifecycleManager) notifyObjectUpdated(ctx context.Context, folderID, objectKey, hash string) {
	payload := map[string]any{
		"folderId":  folderID,
		"objectKey": objectKey,
		"hash":      hash,
	}

	if err := m.channel.BroadcastToRoom(ctx, domain.FolderRoom(folderID), domain.MessageTypeObjectUpdated, payload); err != nil {
		log.Warn().Err(err).Str("folder_id", folderID).Msg("Failed to broadcast object update")
	}
}

// requireActiveOperation enforces the started && !completed guard shared by
// URL issuance and completion preconditions.
func (m *lifecycleManager) requireActiveOperation(ctx context.Context, operationID string) (domain.Operation, error) {
	op, err := m.operationRepository.GetOperation(ctx, operationID)
	if err != nil {
		return domain.Operation{}, err
	}

	if !op.Started {
		return domain.Operation{}, domain.NewOperationInvalidError("operation %s is not started", operationID)
	}
	if op.Completed {
		return domain.Operation{}, domain.NewOperationInvalidError("operation %s is already completed", operationID)
	}
	if op.Error != nil {
		return domain.Operation{}, domain.NewOperationInvalidError("operation %s has already errored", operationID)
	}

	return op, nil
}
