package domain

import (
	"context"
	"time"
)

// PlatformEmitter identifies events raised by the platform itself rather than
// an installed app. Platform emissions bypass the manifest emit check.
const PlatformEmitter = "platform"

const (
	EventKeyObjectAdded   = "object_added"
	EventKeyObjectUpdated = "object_updated"
	EventKeyObjectRemoved = "object_removed"
)

// Event is an immutable fact. It is created once on emission and never
// mutated; receipts and triggered operations reference it.
type Event struct {
	ID                string         `json:"id"`
	EventKey          string         `json:"eventKey"`
	EmitterIdentifier string         `json:"emitterIdentifier"`
	TargetUserID      *string        `json:"targetUserId,omitempty"`
	TargetLocation    *EventLocation `json:"targetLocation,omitempty"`
	Data              map[string]any `json:"data"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// EventLocation points an event at a folder and optionally a single object
// within it.
type EventLocation struct {
	FolderID  string  `json:"folderId"`
	ObjectKey *string `json:"objectKey,omitempty"`
}

// EventReceipt tracks one subscribing app's obligation to process one event.
// Invariant: at most one of CompletedAt/ErrorAt is set, and either implies
// StartedAt is set.
type EventReceipt struct {
	ID            string     `json:"id"`
	EventID       string     `json:"eventId"`
	AppIdentifier string     `json:"appIdentifier"`
	EventKey      string     `json:"eventKey"`
	HandlerID     *string    `json:"handlerId,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	ErrorAt       *time.Time `json:"errorAt,omitempty"`
	Error         *string    `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ReceiptBacklogGroup is a count of pending receipts for one (app, eventKey)
// pair. A receipt is pending while StartedAt is null.
type ReceiptBacklogGroup struct {
	AppIdentifier string `json:"appIdentifier"`
	EventKey      string `json:"eventKey"`
	PendingCount  int64  `json:"pendingCount"`
}

type EmitEventParams struct {
	EmitterIdentifier string
	EventKey          string
	TargetUserID      *string
	TargetLocation    *EventLocation
	Data              map[string]any
}

// EventService is the durable append-only event store.
type EventService interface {
	// EmitEvent persists the event and one receipt per currently subscribed
	// app in a single transaction. Returns ForbiddenEmitEventError when the
	// emitting app's manifest does not declare the event key.
	EmitEvent(ctx context.Context, p EmitEventParams) (Event, error)
	ListPendingReceiptBacklog(ctx context.Context) ([]ReceiptBacklogGroup, error)
}

type EventRepository interface {
	// CreateEventWithReceipts inserts the event and all receipts atomically.
	// Partial receipt sets must never be observable.
	CreateEventWithReceipts(ctx context.Context, event Event, receipts []EventReceipt) error
	GetEvent(ctx context.Context, id string) (Event, error)
	ListPendingReceiptBacklog(ctx context.Context) ([]ReceiptBacklogGroup, error)
	MarkReceiptStarted(ctx context.Context, receiptID string, handlerID string) error
	MarkReceiptCompleted(ctx context.Context, receiptID string) error
	MarkReceiptErrored(ctx context.Context, receiptID string, message string) error
}
