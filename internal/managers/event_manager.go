package managers

import (
	"context"
	"fmt"
	"time"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type eventManager struct {
	eventRepository domain.EventRepository
	appRepository   domain.AppRepository
	triggerResolver domain.TriggerResolver
	dispatcher      domain.OperationDispatcher
}

type EventManagerDependencies struct {
	EventRepository domain.EventRepository
	AppRepository   domain.AppRepository
	TriggerResolver domain.TriggerResolver
	Dispatcher      domain.OperationDispatcher
}

func NewEventManager(deps EventManagerDependencies) domain.EventService {
	return &eventManager{
		eventRepository: deps.EventRepository,
		appRepository:   deps.AppRepository,
		triggerResolver: deps.TriggerResolver,
		dispatcher:      deps.Dispatcher,
	}
}

// EmitEvent authorizes the emitter against its manifest, persists the event
// with one receipt per subscribed app in a single transaction, then resolves
// and enqueues triggered operations.
func (m *eventManager) EmitEvent(ctx context.Context, p domain.EmitEventParams) (domain.Event, error) {
	if p.EmitterIdentifier != domain.PlatformEmitter {
		app, err := m.appRepository.GetApp(ctx, p.EmitterIdentifier)
		if err != nil {
			return domain.Event{}, fmt.Errorf("failed to resolve emitter app: %w", err)
		}

		if !app.Manifest.CanEmit(p.EventKey) {
			log.Warn().
				Str("app_identifier", p.EmitterIdentifier).
				Str("event_key", p.EventKey).
				Msg("App attempted to emit event outside its manifest")

			return domain.Event{}, &domain.ForbiddenEmitEventError{
				AppIdentifier: p.EmitterIdentifier,
				EventKey:      p.EventKey,
			}
		}
	}

	event := domain.Event{
		ID:                uuid.NewString(),
		EventKey:          p.EventKey,
		EmitterIdentifier: p.EmitterIdentifier,
		TargetUserID:      p.TargetUserID,
		TargetLocation:    p.TargetLocation,
		Data:              p.Data,
		CreatedAt:         time.Now().UTC(),
	}

	subscribers, err := m.appRepository.ListSubscribedApps(ctx, p.EventKey)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to list subscribers: %w", err)
	}

	receipts := make([]domain.EventReceipt, 0, len(subscribers))
	for _, subscriber := range subscribers {
		receipts = append(receipts, domain.EventReceipt{
			ID:            uuid.NewString(),
			EventID:       event.ID,
			AppIdentifier: subscriber.Identifier,
			EventKey:      event.EventKey,
			CreatedAt:     event.CreatedAt,
		})
	}

	if err := m.eventRepository.CreateEventWithReceipts(ctx, event, receipts); err != nil {
		return domain.Event{}, fmt.Errorf("failed to persist event: %w", err)
	}

	receiptsByApp := make(map[string]string, len(receipts))
	for _, receipt := range receipts {
		receiptsByApp[receipt.AppIdentifier] = receipt.ID
	}

	if err := m.enqueueTriggeredOperations(ctx, event, receiptsByApp); err != nil {
		// The event and receipts are durable; the backlog sweep re-surfaces
		// anything that failed to enqueue here.
		log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to enqueue triggered operations")
	}

	return event, nil
}

func (m *eventManager) enqueueTriggeredOperations(ctx context.Context, event domain.Event, receiptsByApp map[string]string) error {
	if event.TargetLocation == nil {
		return nil
	}

	matches, err := m.triggerResolver.ResolveTriggers(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to resolve triggers: %w", err)
	}

	for _, match := range matches {
		var receiptID *string
		if id, ok := receiptsByApp[match.App.Identifier]; ok {
			receiptID = &id
		}

		var inputKeys []string
		if event.TargetLocation.ObjectKey != nil {
			inputKeys = []string{*event.TargetLocation.ObjectKey}
		}

		p := domain.EnqueueParams{
			JobID:           operationJobID(event.ID, match.App.Identifier, match.Task.Name),
			OperationName:   match.Task.Name,
			FolderID:        event.TargetLocation.FolderID,
			InputObjectKeys: inputKeys,
			ReceiptID:       receiptID,
			OperationData: map[string]any{
				"eventId":       event.ID,
				"eventKey":      event.EventKey,
				"appIdentifier": match.App.Identifier,
				"data":          event.Data,
			},
		}

		if err := m.dispatcher.Enqueue(ctx, p); err != nil {
			return fmt.Errorf("failed to enqueue task %s for app %s: %w", match.Task.Name, match.App.Identifier, err)
		}
	}

	return nil
}

func (m *eventManager) ListPendingReceiptBacklog(ctx context.Context) ([]domain.ReceiptBacklogGroup, error) {
	return m.eventRepository.ListPendingReceiptBacklog(ctx)
}

// operationJobID derives a deterministic operation ID from the triggering
// event and task, so re-processing the same event cannot enqueue twice.
func operationJobID(eventID, appIdentifier, taskName string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventID+"/"+appIdentifier+"/"+taskName)).String()
}
