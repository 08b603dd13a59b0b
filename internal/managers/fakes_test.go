package managers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/foldstream/foldstream/internal/domain"
)

// In-memory test doubles for the repository and channel interfaces. They
// record calls so tests can assert on atomicity and grouping behavior, not
// just end state.

type fakeEventRepository struct {
	mu sync.Mutex

	events       map[string]domain.Event
	receipts     map[string]*domain.EventReceipt
	createCalls  int
	backlog      []domain.ReceiptBacklogGroup
	failCreate   error
	receiptMarks []string
}

func newFakeEventRepository() *fakeEventRepository {
	return &fakeEventRepository{
		events:   make(map[string]domain.Event),
		receipts: make(map[string]*domain.EventReceipt),
	}
}

func (r *fakeEventRepository) CreateEventWithReceipts(ctx context.Context, event domain.Event, receipts []domain.EventReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.createCalls++
	if r.failCreate != nil {
		return r.failCreate
	}

	r.events[event.ID] = event
	for i := range receipts {
		receipt := receipts[i]
		r.receipts[receipt.ID] = &receipt
	}
	return nil
}

func (r *fakeEventRepository) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return domain.Event{}, domain.NewOperationNotFoundError("event", id)
	}
	return event, nil
}

func (r *fakeEventRepository) ListPendingReceiptBacklog(ctx context.Context) ([]domain.ReceiptBacklogGroup, error) {
	return r.backlog, nil
}

func (r *fakeEventRepository) MarkReceiptStarted(ctx context.Context, receiptID string, handlerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	receipt, ok := r.receipts[receiptID]
	if !ok {
		return domain.NewOperationNotFoundError("receipt", receiptID)
	}

	now := time.Now().UTC()
	receipt.StartedAt = &now
	receipt.HandlerID = &handlerID
	r.receiptMarks = append(r.receiptMarks, "started:"+receiptID)
	return nil
}

func (r *fakeEventRepository) MarkReceiptCompleted(ctx context.Context, receiptID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	receipt, ok := r.receipts[receiptID]
	if !ok {
		return domain.NewOperationNotFoundError("receipt", receiptID)
	}

	now := time.Now().UTC()
	receipt.CompletedAt = &now
	r.receiptMarks = append(r.receiptMarks, "completed:"+receiptID)
	return nil
}

func (r *fakeEventRepository) MarkReceiptErrored(ctx context.Context, receiptID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	receipt, ok := r.receipts[receiptID]
	if !ok {
		return domain.NewOperationNotFoundError("receipt", receiptID)
	}

	now := time.Now().UTC()
	receipt.ErrorAt = &now
	receipt.Error = &message
	r.receiptMarks = append(r.receiptMarks, "errored:"+receiptID)
	return nil
}

type fakeAppRepository struct {
	apps []domain.App
}

func (r *fakeAppRepository) GetApp(ctx context.Context, identifier string) (domain.App, error) {
	for _, app := range r.apps {
		if app.Identifier == identifier {
			return app, nil
		}
	}
	return domain.App{}, domain.NewOperationNotFoundError("app", identifier)
}

func (r *fakeAppRepository) ListApps(ctx context.Context) ([]domain.App, error) {
	return r.apps, nil
}

func (r *fakeAppRepository) ListSubscribedApps(ctx context.Context, eventKey string) ([]domain.App, error) {
	var subscribed []domain.App
	for _, app := range r.apps {
		if app.Manifest.SubscribesTo(eventKey) {
			subscribed = append(subscribed, app)
		}
	}
	return subscribed, nil
}

type fakeOperationRepository struct {
	mu sync.Mutex

	operations map[string]*domain.Operation
	objects    map[string][]domain.OperationObject
	jobs       map[string]domain.OperationJob
}

func newFakeOperationRepository() *fakeOperationRepository {
	return &fakeOperationRepository{
		operations: make(map[string]*domain.Operation),
		objects:    make(map[string][]domain.OperationObject),
		jobs:       make(map[string]domain.OperationJob),
	}
}

func (r *fakeOperationRepository) CreateOperation(ctx context.Context, op domain.Operation, objects []domain.OperationObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[op.ID]; exists {
		return nil
	}

	r.operations[op.ID] = &op
	r.objects[op.ID] = objects
	r.jobs[op.ID] = domain.OperationJob{
		ID:            op.ID,
		OperationName: op.OperationName,
		AvailableAt:   op.CreatedAt,
	}
	return nil
}

func (r *fakeOperationRepository) GetOperation(ctx context.Context, id string) (domain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.operations[id]
	if !ok {
		return domain.Operation{}, domain.NewOperationNotFoundError("operation", id)
	}
	return *op, nil
}

func (r *fakeOperationRepository) ListOperationObjects(ctx context.Context, operationID string) ([]domain.OperationObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objects[operationID], nil
}

func (r *fakeOperationRepository) MarkOperationStarted(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.operations[id]
	if !ok {
		return false, domain.NewOperationNotFoundError("operation", id)
	}
	if op.Started {
		return false, nil
	}
	op.Started = true
	return true, nil
}

func (r *fakeOperationRepository) MarkOperationCompleted(ctx context.Context, id string, opErr *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.operations[id]
	if !ok {
		return false, domain.NewOperationNotFoundError("operation", id)
	}
	if !op.Started || op.Completed || op.Error != nil {
		return false, nil
	}
	if opErr == nil {
		op.Completed = true
	} else {
		op.Error = opErr
	}
	return true, nil
}

func (r *fakeOperationRepository) ReleaseOperationStart(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.operations[id]
	if !ok {
		return domain.NewOperationNotFoundError("operation", id)
	}
	if op.Started && !op.Completed && op.Error == nil {
		op.Started = false
	}
	return nil
}

type fakeFolderRepository struct {
	mu sync.Mutex

	folders        map[string]domain.Folder
	objects        map[string]*domain.FolderObject
	folderGets     []string
	attributeMerge []string
	metadataMerge  []string
}

func newFakeFolderRepository() *fakeFolderRepository {
	return &fakeFolderRepository{
		folders: make(map[string]domain.Folder),
		objects: make(map[string]*domain.FolderObject),
	}
}

func objectStoreKey(folderID, objectKey string) string {
	return folderID + "/" + objectKey
}

func (r *fakeFolderRepository) addObject(folderID, objectKey string) {
	r.objects[objectStoreKey(folderID, objectKey)] = &domain.FolderObject{
		ID:                objectKey,
		FolderID:          folderID,
		ObjectKey:         objectKey,
		ContentAttributes: make(map[string]map[string]any),
		ContentMetadata:   make(map[string]map[string]any),
	}
}

func (r *fakeFolderRepository) GetFolder(ctx context.Context, id string) (domain.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.folderGets = append(r.folderGets, id)
	folder, ok := r.folders[id]
	if !ok {
		return domain.Folder{}, domain.NewOperationNotFoundError("folder", id)
	}
	return folder, nil
}

func (r *fakeFolderRepository) GetFolderObject(ctx context.Context, folderID, objectKey string) (domain.FolderObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	object, ok := r.objects[objectStoreKey(folderID, objectKey)]
	if !ok {
		return domain.FolderObject{}, domain.NewOperationNotFoundError("folder object", objectKey)
	}
	return *object, nil
}

func (r *fakeFolderRepository) MergeObjectAttributes(ctx context.Context, folderID, objectKey, hash string, attributes map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	object, ok := r.objects[objectStoreKey(folderID, objectKey)]
	if !ok {
		return domain.NewOperationNotFoundError("folder object", objectKey)
	}

	object.ContentAttributes[hash] = attributes
	object.Hash = &hash
	r.attributeMerge = append(r.attributeMerge, objectStoreKey(folderID, objectKey)+"#"+hash)
	return nil
}

func (r *fakeFolderRepository) MergeObjectMetadata(ctx context.Context, folderID, objectKey, hash string, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	object, ok := r.objects[objectStoreKey(folderID, objectKey)]
	if !ok {
		return domain.NewOperationNotFoundError("folder object", objectKey)
	}

	object.ContentMetadata[hash] = metadata
	object.Hash = &hash
	r.metadataMerge = append(r.metadataMerge, objectStoreKey(folderID, objectKey)+"#"+hash)
	return nil
}

// fakePresigner counts PresignURLs calls per storage location so tests can
// assert folder-level batching.
type fakePresigner struct {
	mu            sync.Mutex
	callsByBucket map[string]int
	totalCalls    int
	failNext      bool
}

func newFakePresigner() *fakePresigner {
	return &fakePresigner{callsByBucket: make(map[string]int)}
}

func (p *fakePresigner) PresignURLs(ctx context.Context, location domain.StorageLocation, items []domain.PresignItem) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext {
		p.failNext = false
		return nil, errors.New("storage unavailable")
	}

	p.totalCalls++
	p.callsByBucket[location.Bucket]++

	urls := make(map[string]string, len(items))
	for _, item := range items {
		urls[item.Key] = fmt.Sprintf("https://%s.example.test/%s?method=%s", location.Bucket, item.ObjectKey, item.Method)
	}
	return urls, nil
}

type broadcastCall struct {
	room        string
	messageType string
	payload     any
}

type fakeChannel struct {
	mu         sync.Mutex
	broadcasts []broadcastCall
}

func (c *fakeChannel) OfferOperation(ctx context.Context, workerID string, offer domain.WorkOffer) (bool, error) {
	return false, nil
}

func (c *fakeChannel) BroadcastToRoom(ctx context.Context, room string, messageType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broadcasts = append(c.broadcasts, broadcastCall{room: room, messageType: messageType, payload: payload})
	return nil
}

type enqueueRecorder struct {
	mu      sync.Mutex
	params  []domain.EnqueueParams
	failure error
}

func (d *enqueueRecorder) Enqueue(ctx context.Context, p domain.EnqueueParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failure != nil {
		return d.failure
	}
	d.params = append(d.params, p)
	return nil
}
